package db

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatusConstants(t *testing.T) {
	statuses := []string{StatusRunning, StatusCompleted, StatusFailed}
	for _, status := range statuses {
		assert.NotEmpty(t, status, "status constant should not be empty")
	}
}

func TestRunType(t *testing.T) {
	run := Run{
		ID:        uuid.New(),
		Dataset:   "soap-dialogues",
		ModelName: "reference-seq2seq",
		Status:    StatusRunning,
		CreatedAt: time.Now(),
	}

	assert.Equal(t, "soap-dialogues", run.Dataset)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Nil(t, run.CompletedAt)
}

func TestScoreReport_JSONRoundtrip(t *testing.T) {
	report := ScoreReport{
		RunID: uuid.New(),
		Step:  400,
		Split: "validation",
		Metrics: map[string]float64{
			"rouge1": 41.2,
			"rougeL": 33.7,
		},
	}

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded ScoreReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.RunID, decoded.RunID)
	assert.Equal(t, report.Metrics, decoded.Metrics)
}
