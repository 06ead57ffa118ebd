package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		format     string
		output     string
		outputFile string
		wantErr    bool
	}{
		{
			name:   "valid json stdout",
			level:  "info",
			format: "json",
			output: "stdout",
		},
		{
			name:   "valid text stderr",
			level:  "debug",
			format: "text",
			output: "stderr",
		},
		{
			name:    "invalid level",
			level:   "verbose",
			format:  "json",
			output:  "stdout",
			wantErr: true,
		},
		{
			name:    "invalid format",
			level:   "info",
			format:  "invalid",
			output:  "stdout",
			wantErr: true,
		},
		{
			name:    "invalid output",
			level:   "info",
			format:  "json",
			output:  "invalid",
			wantErr: true,
		},
		{
			name:    "file output missing file path",
			level:   "info",
			format:  "json",
			output:  "file",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Initialize(tt.level, tt.format, tt.output, tt.outputFile)
			if (err != nil) != tt.wantErr {
				t.Errorf("Initialize() error = %v, wantErr %v", err, tt.wantErr)
			}

			if !tt.wantErr {
				expectedLevel, _ := logrus.ParseLevel(tt.level)
				if log.GetLevel() != expectedLevel {
					t.Errorf("Expected log level %v, got %v", expectedLevel, log.GetLevel())
				}
			}
		})
	}
}

func TestInitializeWithFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "watchdog.log")

	if err := Initialize("info", "json", "file", logFile); err != nil {
		t.Fatalf("Failed to initialize with file: %v", err)
	}

	Infof("Check #%d: service is alive", 1)

	if err := Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	// Second close is a no-op.
	if err := Close(); err != nil {
		t.Fatalf("Second Close() error = %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var logEntry map[string]interface{}
	if err := json.Unmarshal(data, &logEntry); err != nil {
		t.Fatalf("Log output is not valid JSON: %v", err)
	}
	if logEntry["msg"] != "Check #1: service is alive" {
		t.Errorf("msg = %v", logEntry["msg"])
	}

	if err := Initialize("info", "text", "stdout", ""); err != nil {
		t.Fatalf("reset: %v", err)
	}
}

func TestJSONFormat(t *testing.T) {
	if err := Initialize("info", "json", "stdout", ""); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stdout)

	Infof("test message")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Log output is not valid JSON: %v\nOutput: %s", err, buf.String())
	}
	if logEntry["msg"] != "test message" {
		t.Errorf("Expected msg='test message', got %v", logEntry["msg"])
	}
	if logEntry["level"] != "info" {
		t.Errorf("Expected level='info', got %v", logEntry["level"])
	}
	if _, ok := logEntry["time"]; !ok {
		t.Error("Expected 'time' field in JSON output")
	}
}

func TestTextFormat(t *testing.T) {
	if err := Initialize("info", "text", "stdout", ""); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stdout)

	Warnf("relay %s not found yet", "shelly1-")

	output := buf.String()
	if !strings.Contains(output, "relay shelly1- not found yet") {
		t.Errorf("unexpected output: %s", output)
	}
	if !strings.Contains(output, "level=warning") {
		t.Errorf("Expected output to contain 'level=warning', got: %s", output)
	}
}

func TestForTagsComponent(t *testing.T) {
	if err := Initialize("info", "json", "stdout", ""); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}
	entry := For("remediation")

	// Reconfiguring after For must still reach the entry.
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stdout)

	entry.Errorf("power off failed")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	if logEntry["component"] != "remediation" {
		t.Errorf("component = %v, want remediation", logEntry["component"])
	}
	if logEntry["level"] != "error" {
		t.Errorf("level = %v, want error", logEntry["level"])
	}
}

func TestWithFieldsAndError(t *testing.T) {
	if err := Initialize("info", "json", "stdout", ""); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stdout)

	WithFields(logrus.Fields{"state": "down", "failures": 4}).Info("state changed")
	WithError(os.ErrNotExist).Error("operation failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), buf.String())
	}

	var first, second map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	if first["state"] != "down" || first["failures"] != float64(4) {
		t.Errorf("unexpected fields: %v", first)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	if second["error"] == nil {
		t.Error("Expected 'error' field in log entry")
	}
}

func TestLevelFiltering(t *testing.T) {
	if err := Initialize("warn", "text", "stdout", ""); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer func() {
		log.SetOutput(os.Stdout)
		log.SetLevel(logrus.InfoLevel)
	}()

	Infof("hidden")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
	Errorf("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("error should pass at warn level, got %q", buf.String())
	}
}

func TestGet(t *testing.T) {
	if Get() != log {
		t.Error("Get() returned different logger instance")
	}
}

func TestSetLevel(t *testing.T) {
	defer log.SetLevel(logrus.InfoLevel)

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel(debug) failed: %v", err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", log.GetLevel())
	}
	if err := SetLevel("loud"); err == nil {
		t.Error("expected error for invalid level")
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Error("invalid level must leave the current level unchanged")
	}
}

func TestInitializeInvalidKeepsOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "watchdog.log")
	if err := Initialize("info", "text", "file", logFile); err != nil {
		t.Fatalf("Failed to initialize with file: %v", err)
	}
	defer func() {
		if err := Initialize("info", "text", "stdout", ""); err != nil {
			t.Fatalf("reset: %v", err)
		}
	}()

	if err := Initialize("info", "xml", "stdout", ""); err == nil {
		t.Fatal("expected error for invalid format")
	}
	Infof("still written to file")

	if err := Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "still written to file") {
		t.Errorf("log file missing entry written after failed Initialize: %q", data)
	}
}
