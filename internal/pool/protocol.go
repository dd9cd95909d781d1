// Package pool provides the worker pool implementations for Framesmith
package pool

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/framesmith/framesmith/pkg/types"
)

// Message types on the worker wire. The supervisor side and the worker
// subprocess speak newline-delimited JSON over stdin/stdout: one init
// message down, one ready (or init_error) up, then one task message per
// frame down and one result message per frame up.
const (
	msgInit      = "init"
	msgReady     = "ready"
	msgInitError = "init_error"
	msgTask      = "task"
	msgResult    = "result"
)

// envelope is the protocol data unit exchanged with worker processes
type envelope struct {
	Type    string              `json:"type"`
	Config  *types.WorkerConfig `json:"config,omitempty"`
	Spec    *types.FrameSpec    `json:"spec,omitempty"`
	Outcome *types.Outcome      `json:"outcome,omitempty"`
	Message string              `json:"message,omitempty"`
}

// codec reads and writes protocol envelopes over a byte stream
type codec struct {
	enc     *json.Encoder
	scanner *bufio.Scanner
}

func newCodec(r io.Reader, w io.Writer) *codec {
	scanner := bufio.NewScanner(r)
	// Frame payloads can be large; the default scanner limit is too small.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &codec{
		enc:     json.NewEncoder(w),
		scanner: scanner,
	}
}

// write encodes one envelope followed by a newline
func (c *codec) write(env *envelope) error {
	if err := c.enc.Encode(env); err != nil {
		return fmt.Errorf("failed to encode %s message: %w", env.Type, err)
	}
	return nil
}

// read decodes the next envelope. io.EOF means the peer closed the stream.
func (c *codec) read() (*envelope, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		return nil, io.EOF
	}

	var env envelope
	if err := json.Unmarshal(c.scanner.Bytes(), &env); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("message missing type field")
	}
	return &env, nil
}
