package logger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/framesmith/framesmith/pkg/logger"
)

func TestCreateLoggerWithOutput(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("debug", &buf)

	log.Info("starting render", logger.WithField("frames", 120))

	out := buf.String()
	if !strings.Contains(out, "starting render") {
		t.Errorf("message missing from output: %q", out)
	}
	if !strings.Contains(out, "frames") {
		t.Errorf("field missing from output: %q", out)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("warn", &buf)

	log.Debug("noisy detail")
	log.Info("routine note")
	log.Warn("actual problem")

	out := buf.String()
	if strings.Contains(out, "noisy detail") || strings.Contains(out, "routine note") {
		t.Errorf("sub-warn output should be filtered: %q", out)
	}
	if !strings.Contains(out, "actual problem") {
		t.Errorf("warnings must pass the filter: %q", out)
	}
}

func TestWithScopePrefix(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("info", &buf).WithScope("supervisor")

	log.Info("loop started")

	if !strings.Contains(buf.String(), "supervisor") {
		t.Errorf("scope missing from output: %q", buf.String())
	}
}

func TestWithWorkerField(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("info", &buf).WithWorker(3)

	log.Info("frame dispatched")

	if !strings.Contains(buf.String(), "3") {
		t.Errorf("worker id missing from output: %q", buf.String())
	}
}
