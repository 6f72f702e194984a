package logger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cypherbolt/bolt-go/logger"
)

func TestLoggerWritesFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(&buf, "debug")

	l.WithFields(logger.Fields{"addr": "localhost:7687"}).Info("connected", logger.Fields{"attempt": 1})

	out := buf.String()
	if !strings.Contains(out, "connected") {
		t.Fatalf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "localhost:7687") {
		t.Fatalf("expected carried field in output, got %q", out)
	}
}

func TestDiscardLogsNothing(t *testing.T) {
	l := logger.Discard()
	l.Error("should not panic", nil, nil)
}
