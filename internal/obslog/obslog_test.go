package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestBuildWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "rooms.log")
	logger, err := build(Options{Level: "debug", Format: "json", File: path})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	logger.Debug("room_transition", zap.String("room_id", "R1"))
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(raw)
	if !strings.Contains(line, `"level":"debug"`) || !strings.Contains(line, `"room_id":"R1"`) {
		t.Fatalf("log line = %q", line)
	}
}

func TestBuildLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.log")
	logger, err := build(Options{Level: "warn", Format: "console", File: path})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	_ = logger.Sync()

	raw, _ := os.ReadFile(path)
	out := string(raw)
	if strings.Contains(out, "hidden") || !strings.Contains(out, "WARN | shown") {
		t.Fatalf("log = %q", out)
	}
}

func TestOrFallsBackToProcessLogger(t *testing.T) {
	if Or(nil) != L() {
		t.Fatalf("Or(nil) should return the process logger")
	}
	l := zap.NewExample()
	if Or(l) != l {
		t.Fatalf("Or should keep a given logger")
	}
}
