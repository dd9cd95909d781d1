package pool

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/framesmith/framesmith/pkg/types"
)

func TestCodec_RoundTrip(t *testing.T) {
	var wire bytes.Buffer
	writer := newCodec(strings.NewReader(""), &wire)

	sent := &envelope{
		Type: msgTask,
		Spec: &types.FrameSpec{FrameIndex: 12, TotalFrames: 100, Timestamp: "00:00:12.500"},
	}
	if err := writer.write(sent); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	reader := newCodec(&wire, io.Discard)
	got, err := reader.read()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.Type != msgTask {
		t.Errorf("expected type %q, got %q", msgTask, got.Type)
	}
	if got.Spec == nil || got.Spec.FrameIndex != 12 || got.Spec.TotalFrames != 100 {
		t.Errorf("spec did not survive the wire: %+v", got.Spec)
	}
}

func TestCodec_EOF(t *testing.T) {
	c := newCodec(strings.NewReader(""), io.Discard)
	if _, err := c.read(); err != io.EOF {
		t.Errorf("expected io.EOF on closed stream, got %v", err)
	}
}

func TestCodec_RejectsMalformedMessages(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"garbage", "not json at all\n"},
		{"missing type", `{"message":"hello"}` + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCodec(strings.NewReader(tt.input), io.Discard)
			if _, err := c.read(); err == nil {
				t.Error("expected a decode error")
			}
		})
	}
}

func TestCodec_LargePayload(t *testing.T) {
	// Frame payloads can exceed bufio.Scanner's default 64K line limit.
	payload := bytes.Repeat([]byte("x"), 1<<20)
	spec := &types.FrameSpec{FrameIndex: 0, Payload: []byte(`"` + string(payload) + `"`)}

	var wire bytes.Buffer
	writer := newCodec(strings.NewReader(""), &wire)
	if err := writer.write(&envelope{Type: msgTask, Spec: spec}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	reader := newCodec(&wire, io.Discard)
	got, err := reader.read()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(got.Spec.Payload) != len(spec.Payload) {
		t.Errorf("payload truncated: %d != %d", len(got.Spec.Payload), len(spec.Payload))
	}
}
