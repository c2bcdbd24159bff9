package logging

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	w.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(out)
}

func TestNewLoggerStampsServiceField(t *testing.T) {
	out := captureStdout(t, func() {
		logger := NewLogger(Config{Level: "info", Format: "json", Service: "vortex-ramp"})
		logger.Info().Msg("hello")
	})

	var line map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, out)
	}
	if line["service"] != "vortex-ramp" {
		t.Fatalf("expected service field, got %v", line["service"])
	}
	if line["message"] != "hello" {
		t.Fatalf("unexpected message: %v", line["message"])
	}
}

func TestNewLoggerParsesLevel(t *testing.T) {
	logger := NewLogger(Config{Level: "warn"})
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %s", logger.GetLevel())
	}

	// An unparseable level falls back to info.
	logger = NewLogger(Config{Level: "shouting"})
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %s", logger.GetLevel())
	}
}
