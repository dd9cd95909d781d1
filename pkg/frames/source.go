// Package frames provides frame spec sources for the render supervisor
package frames

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/framesmith/framesmith/pkg/types"
)

// SliceSource serves frame specs from an in-memory slice. Useful for tests
// and small runs.
type SliceSource struct {
	specs []*types.FrameSpec
	pos   int
}

// NewSliceSource creates a source over the given specs
func NewSliceSource(specs []*types.FrameSpec) *SliceSource {
	return &SliceSource{specs: specs}
}

// NewSequence creates a source of n empty frame specs indexed 0..n-1
func NewSequence(n int) *SliceSource {
	specs := make([]*types.FrameSpec, n)
	for i := range specs {
		specs[i] = &types.FrameSpec{FrameIndex: i, TotalFrames: n}
	}
	return &SliceSource{specs: specs}
}

// Next returns the next spec, or false when exhausted
func (s *SliceSource) Next() (*types.FrameSpec, bool) {
	if s.pos >= len(s.specs) {
		return nil, false
	}
	spec := s.specs[s.pos]
	s.pos++
	return spec, true
}

// Total returns the total-count hint
func (s *SliceSource) Total() int {
	return len(s.specs)
}

// specFileHeader is the first line of a spec file
type specFileHeader struct {
	TotalFrames int `json:"totalFrames"`
}

// SpecFileSource streams frame specs from a JSON-lines file without loading
// them all into memory. The first line is a header carrying the total-count
// hint; each subsequent line is one FrameSpec.
type SpecFileSource struct {
	file    *os.File
	scanner *bufio.Scanner
	total   int
	line    int
	done    bool
}

// OpenSpecFile opens a frame spec file for streaming
func OpenSpecFile(path string) (*SpecFileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spec file: %w", err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read spec file header: %w", err)
		}
		return nil, fmt.Errorf("spec file is empty: %s", path)
	}

	var header specFileHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to parse spec file header: %w", err)
	}

	return &SpecFileSource{
		file:    f,
		scanner: scanner,
		total:   header.TotalFrames,
	}, nil
}

// Next returns the next spec, or false on exhaustion or a malformed line.
// The source is non-restartable; after the first false it stays exhausted.
func (s *SpecFileSource) Next() (*types.FrameSpec, bool) {
	if s.done {
		return nil, false
	}
	if !s.scanner.Scan() {
		s.close()
		return nil, false
	}
	s.line++

	var spec types.FrameSpec
	if err := json.Unmarshal(s.scanner.Bytes(), &spec); err != nil {
		s.close()
		return nil, false
	}
	return &spec, true
}

// Total returns the total-count hint from the file header
func (s *SpecFileSource) Total() int {
	return s.total
}

// Close releases the underlying file
func (s *SpecFileSource) Close() error {
	if s.done {
		return nil
	}
	return s.close()
}

func (s *SpecFileSource) close() error {
	s.done = true
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// WriteSpecFile writes specs as a JSON-lines file with a leading header.
// Used by tests and by tooling that prepares render runs.
func WriteSpecFile(w io.Writer, specs []*types.FrameSpec) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(specFileHeader{TotalFrames: len(specs)}); err != nil {
		return fmt.Errorf("failed to write spec file header: %w", err)
	}
	for _, spec := range specs {
		if err := enc.Encode(spec); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", spec.FrameIndex, err)
		}
	}
	return nil
}
