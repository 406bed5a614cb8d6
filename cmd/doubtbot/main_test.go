package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogWriter_TeesIntoLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "doubtbot.log")

	w, err := logWriter(logPath)
	if err != nil {
		t.Fatalf("logWriter: %v", err)
	}
	newLogger("info", w).Info("gateway started", "version", version)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "gateway started") {
		t.Fatalf("log file missing entry: %q", string(data))
	}
}

func TestLogWriter_AppendsAcrossReopens(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "doubtbot.log")

	for i := 0; i < 2; i++ {
		w, err := logWriter(logPath)
		if err != nil {
			t.Fatalf("logWriter: %v", err)
		}
		newLogger("info", w).Info("run", "n", i)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if got := strings.Count(string(data), "msg=run"); got != 2 {
		t.Fatalf("expected 2 entries after reopen, got %d:\n%s", got, string(data))
	}
}

func TestNewLogger_LevelFiltersDebug(t *testing.T) {
	var sb strings.Builder
	newLogger("warn", &sb).Debug("hidden")
	newLogger("warn", &sb).Warn("visible")

	out := sb.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked at warn level: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("warn line missing: %q", out)
	}
}
