package db

import (
	"time"

	"github.com/google/uuid"
)

// Run represents a training run record
type Run struct {
	ID          uuid.UUID  `json:"id"`
	Dataset     string     `json:"dataset"`
	ModelName   string     `json:"model_name"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ScoreReport is one evaluation's metric percentages for a run
type ScoreReport struct {
	RunID     uuid.UUID          `json:"run_id"`
	Step      int                `json:"step"`
	Split     string             `json:"split"`
	Metrics   map[string]float64 `json:"metrics"`
	CreatedAt time.Time          `json:"created_at"`
}

// Run status values
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)
