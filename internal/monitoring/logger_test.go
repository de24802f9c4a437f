package monitoring

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "logs", "test.log")

	cfg := &LogConfig{
		Level:      "info",
		Format:     "json",
		Output:     "file",
		FilePath:   logPath,
		MaxSizeMB:  10,
		MaxBackups: 2,
		MaxAgeDays: 7,
	}

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.Info("test message", TrackFields("abc123", "finish")...)
	logger.Debug("filtered out")
	logger.Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Log file was not created: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `"track_id":"abc123"`) || !strings.Contains(content, `"stage":"finish"`) {
		t.Errorf("track fields missing from log: %s", content)
	}
	if strings.Contains(content, "filtered out") {
		t.Error("debug line written at info level")
	}
}

func TestNewLoggerConsole(t *testing.T) {
	cfg := &LogConfig{
		Level:  "debug",
		Format: "console",
		Output: "console",
	}

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("Failed to create console logger: %v", err)
	}
	defer logger.Sync()

	logger.Named("test").Debug("debug message", zap.Int("n", 1))
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig("/data")
	if cfg.FilePath != filepath.Join("/data", "logs", "yodel.log") {
		t.Errorf("FilePath = %s", cfg.FilePath)
	}
	if cfg.Output != "both" {
		t.Errorf("Output = %s", cfg.Output)
	}
}

func TestNewLoggerInvalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  LogConfig
	}{
		{"level", LogConfig{Level: "invalid", Format: "json", Output: "console"}},
		{"format", LogConfig{Level: "info", Format: "xml", Output: "console"}},
		{"output", LogConfig{Level: "info", Format: "json", Output: "syslog"}},
		{"missing file path", LogConfig{Level: "info", Format: "json", Output: "file"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if _, err := NewLogger(&cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
