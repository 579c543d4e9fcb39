// Package db provides PostgreSQL persistence for training runs, checkpoint
// records, and score reports. The database is optional: the pipeline runs
// without it and only loses run history.
package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// CreateRun creates a new training run record and returns its ID
func (db *DB) CreateRun(ctx context.Context, dataset, modelName string, planJSON []byte) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO training_runs (dataset, model_name, memory_plan, status)
		 VALUES ($1, $2, $3, 'running')
		 RETURNING id`,
		dataset, modelName, planJSON,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

// CompleteRun marks a training run as completed or failed
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, status string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE training_runs SET status = $1, completed_at = NOW() WHERE id = $2`,
		status, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// SaveScoreReport stores one evaluation's metric percentages for a run
func (db *DB) SaveScoreReport(ctx context.Context, runID uuid.UUID, step int, split string, report map[string]float64) error {
	jsonBytes, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal score report: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO score_reports (run_id, step, split, metrics)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id, step, split) DO UPDATE SET metrics = $4, created_at = NOW()`,
		runID, step, split, jsonBytes,
	)
	if err != nil {
		return fmt.Errorf("failed to save score report at step %d: %w", step, err)
	}
	return nil
}

// SaveCheckpoint records a persisted snapshot location for a run
func (db *DB) SaveCheckpoint(ctx context.Context, runID uuid.UUID, step int, path string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO checkpoints (run_id, step, path)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (run_id, step) DO UPDATE SET path = $3, created_at = NOW()`,
		runID, step, path,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint record at step %d: %w", step, err)
	}
	return nil
}

// GetRun retrieves a training run by ID
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var run Run
	err := db.pool.QueryRow(ctx,
		`SELECT id, dataset, model_name, status, created_at, completed_at
		 FROM training_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.Dataset, &run.ModelName, &run.Status, &run.CreatedAt, &run.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns retrieves recent training runs
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit == 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, dataset, model_name, status, created_at, completed_at
		 FROM training_runs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Dataset, &run.ModelName, &run.Status, &run.CreatedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// ListScoreReports retrieves a run's score reports in step order
func (db *DB) ListScoreReports(ctx context.Context, runID uuid.UUID) ([]ScoreReport, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT run_id, step, split, metrics, created_at
		 FROM score_reports WHERE run_id = $1 ORDER BY step ASC, split ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list score reports: %w", err)
	}
	defer rows.Close()

	var reports []ScoreReport
	for rows.Next() {
		var r ScoreReport
		var metricsBytes []byte
		if err := rows.Scan(&r.RunID, &r.Step, &r.Split, &metricsBytes, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan score report: %w", err)
		}
		if len(metricsBytes) > 0 {
			if err := json.Unmarshal(metricsBytes, &r.Metrics); err != nil {
				return nil, fmt.Errorf("failed to parse score report metrics: %w", err)
			}
		}
		reports = append(reports, r)
	}
	return reports, nil
}
