package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{
			name: "explicit debug config",
			config: &Config{
				Level:  LevelDebug,
				Output: &bytes.Buffer{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerLevelGating(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below the configured level, got: %s", buf.String())
	}

	logger.Warn("a warning", "table_id", 1)
	if !strings.Contains(buf.String(), "a warning") || !strings.Contains(buf.String(), "table_id=1") {
		t.Errorf("expected warning with kv pair, got: %s", buf.String())
	}
}

func TestLoggerPrintfStyle(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Errorf("exec failed: %s (pid=%d)", "enoent", 42)
	output := buf.String()
	if !strings.Contains(output, "exec failed: enoent (pid=42)") {
		t.Errorf("expected formatted message, got: %s", output)
	}
}

func TestWithTableIDPrefixesLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	child := logger.WithTableID(7)

	child.Debugf("exec pid=%d path=%s", 123, "/bin/true")
	output := buf.String()
	if !strings.Contains(output, "table_id=7") || !strings.Contains(output, "exec pid=123 path=/bin/true") {
		t.Errorf("expected table_id-scoped line, got: %s", output)
	}

	buf.Reset()
	logger.Debugf("engine-level line")
	if strings.Contains(buf.String(), "table_id=") {
		t.Errorf("parent logger must not pick up the child's context, got: %s", buf.String())
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("debug message", "key", "value")
	if !strings.Contains(buf.String(), "debug message") || !strings.Contains(buf.String(), "key=value") {
		t.Errorf("expected debug message, got: %s", buf.String())
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}
