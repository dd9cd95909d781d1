// Package manifest persists the completion record of a render run
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/framesmith/framesmith/pkg/types"
)

// Manifest is the serialized snapshot of a run's results and stats, written
// at end of run for resumability and auditing. Frames are keyed by their
// index so downstream consumers can reorder and diff runs.
type Manifest struct {
	Status       types.RunStatus               `json:"status"`
	ErrorMessage string                        `json:"errorMessage,omitempty"`
	WrittenAt    time.Time                     `json:"writtenAt"`
	Stats        types.RunStats                `json:"stats"`
	Frames       map[string]*types.FrameResult `json:"frames"`
}

// FromReport builds a manifest from a run report
func FromReport(report *types.RunReport) *Manifest {
	frames := make(map[string]*types.FrameResult, len(report.Results))
	for idx, result := range report.Results {
		frames[strconv.Itoa(idx)] = result
	}
	return &Manifest{
		Status:       report.Status,
		ErrorMessage: report.ErrorMessage,
		WrittenAt:    time.Now(),
		Stats:        report.Stats,
		Frames:       frames,
	}
}

// CompletedIndices returns the sorted-insensitive set of frame indices that
// completed successfully. Used to skip finished frames when resuming.
func (m *Manifest) CompletedIndices() map[int]bool {
	done := make(map[int]bool)
	for key, result := range m.Frames {
		if result.Status != types.FrameStatusCompleted {
			continue
		}
		idx, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		done[idx] = true
	}
	return done
}

// Write persists the manifest atomically: the document is written to a
// temp file in the target directory and renamed into place.
func Write(path string, report *types.RunReport) error {
	m := FromReport(report)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp manifest: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move manifest into place: %w", err)
	}
	return nil
}

// Load reads a manifest from disk
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}
