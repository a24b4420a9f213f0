package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		name string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"ERROR", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.name); got != tc.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestConfiguredLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger, err := NewConfiguredLogger(ComponentGeneral, "info", false, path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	logger.ComponentInfo(ComponentGeneral, "engine started")
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "engine started") {
		t.Errorf("log file missing entry: %s", raw)
	}
	if strings.Contains(string(raw), "\033[") {
		t.Error("colors disabled but ANSI codes written")
	}
}

func TestConfiguredLoggerFiltersBelowLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger, err := NewConfiguredLogger(ComponentGeneral, "error", false, path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	logger.ComponentInfo(ComponentGeneral, "suppressed detail")
	logger.ComponentError(ComponentGeneral, "engine failed")
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(raw), "suppressed detail") {
		t.Error("info entry written at error level")
	}
	if !strings.Contains(string(raw), "engine failed") {
		t.Errorf("error entry missing: %s", raw)
	}
}
