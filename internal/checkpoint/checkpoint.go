// Package checkpoint persists training-state snapshots so a run can resume
// after a stop or feed standalone evaluation.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jonathan/soapnote-pipeline/internal/backbone"
	"github.com/jonathan/soapnote-pipeline/internal/memplan"
	"github.com/jonathan/soapnote-pipeline/internal/schemas"
)

const (
	manifestFile = "manifest.json"
	stateFile    = "state.json"
)

// Manifest describes one snapshot directory. It is validated against an
// embedded JSON Schema on both save and load, so a truncated or hand-edited
// manifest is rejected before any state is trusted.
type Manifest struct {
	RunID           string            `json:"run_id"`
	Step            int               `json:"step"`
	Epoch           int               `json:"epoch"`
	StateFile       string            `json:"state_file"`
	CreatedAt       string            `json:"created_at"`
	Precision       memplan.Precision `json:"precision,omitempty"`
	MaxInputLength  int               `json:"max_input_length,omitempty"`
	MaxTargetLength int               `json:"max_target_length,omitempty"`
}

// Store writes snapshots under a root directory, one subdirectory per step.
type Store struct {
	root string
}

// NewStore creates the checkpoint root if needed.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("checkpoint root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Save snapshots the model state under the manifest's step. The state blob
// is written before the manifest, so a crash mid-save never leaves a
// manifest pointing at missing state.
func (s *Store) Save(model backbone.Model, manifest Manifest) (string, error) {
	if manifest.RunID == "" {
		return "", fmt.Errorf("manifest run id is empty")
	}
	manifest.StateFile = stateFile
	manifest.CreatedAt = time.Now().UTC().Format(time.RFC3339)

	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := schemas.Validate(schemas.CheckpointManifestSchema, manifestBytes); err != nil {
		return "", fmt.Errorf("manifest failed schema validation: %w", err)
	}

	dir := filepath.Join(s.root, fmt.Sprintf("step-%06d", manifest.Step))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	state, err := model.ExportState()
	if err != nil {
		return "", fmt.Errorf("failed to export model state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, stateFile), state, 0o644); err != nil {
		return "", fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), manifestBytes, 0o644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return dir, nil
}

// Load restores a snapshot directory into the model and returns its
// manifest.
func Load(dir string, model backbone.Model) (Manifest, error) {
	manifestBytes, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := schemas.Validate(schemas.CheckpointManifestSchema, manifestBytes); err != nil {
		return Manifest{}, fmt.Errorf("manifest failed schema validation: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest: %w", err)
	}

	state, err := os.ReadFile(filepath.Join(dir, manifest.StateFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read state: %w", err)
	}
	if err := model.ImportState(state); err != nil {
		return Manifest{}, fmt.Errorf("failed to restore model state: %w", err)
	}
	return manifest, nil
}

// Latest returns the snapshot directory with the highest step under root,
// or an empty string when none exist.
func (s *Store) Latest() (string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return "", fmt.Errorf("failed to read checkpoint root: %w", err)
	}
	latest := ""
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, entry.Name(), manifestFile)); err != nil {
			continue
		}
		if entry.Name() > latest {
			latest = entry.Name()
		}
	}
	if latest == "" {
		return "", nil
	}
	return filepath.Join(s.root, latest), nil
}
