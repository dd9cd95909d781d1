// Package renderer provides the built-in render contract implementation.
// The actual drawing logic lives outside this repository; what ships here
// is the worker-side plumbing that turns a frame spec into a persisted
// artifact path and a tagged outcome.
package renderer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/framesmith/framesmith/pkg/interfaces"
	"github.com/framesmith/framesmith/pkg/types"
)

// New returns the production render function bound to the given worker
// config. It writes one artifact file per frame into the output directory,
// named with zero-padded indices so files sort in frame order.
func New(cfg *types.WorkerConfig) interfaces.RenderFunc {
	return func(spec *types.FrameSpec) *types.Outcome {
		start := time.Now()

		outputPath := filepath.Join(cfg.OutputDir, artifactName(spec))

		if err := os.WriteFile(outputPath, spec.Payload, 0644); err != nil {
			return types.FailureOutcome(
				spec.FrameIndex,
				classifyWriteError(err),
				fmt.Sprintf("failed to write frame artifact: %v", err),
				time.Since(start),
				os.Getpid(),
			)
		}

		return types.SuccessOutcome(spec.FrameIndex, outputPath, time.Since(start), os.Getpid())
	}
}

// Initialize is the production worker initializer: it validates the config
// snapshot and prepares the output directory. Runs exactly once per worker.
func Initialize(cfg *types.WorkerConfig) error {
	if cfg.OutputDir == "" {
		return fmt.Errorf("worker config has no output directory")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for name, path := range cfg.FontPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("font %q not found at %s: %w", name, path, err)
		}
	}
	return nil
}

var _ interfaces.WorkerInitFunc = Initialize

// artifactName pads the frame number to the width of the total frame
// count so artifacts sort lexically in frame order
func artifactName(spec *types.FrameSpec) string {
	width := len(fmt.Sprint(spec.TotalFrames))
	if width < 4 {
		width = 4
	}
	return fmt.Sprintf("frame_%0*d.png", width, spec.FrameIndex)
}

// classifyWriteError maps filesystem failures onto the error taxonomy.
// A full disk or missing directory is a worker-level problem; anything
// else is assumed specific to this frame.
func classifyWriteError(err error) types.ErrorKind {
	if os.IsNotExist(err) || os.IsPermission(err) {
		return types.ErrorKindWorkerFatal
	}
	return types.ErrorKindFrameFatal
}
