package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

// captureLogOutput captures log output for testing by temporarily
// redirecting the logger to write to a buffer.
func captureLogOutput(f func()) string {
	var buf bytes.Buffer

	oldLogger := defaultLogger
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	defaultLogger = slog.New(handler)

	f()

	defaultLogger = oldLogger
	return buf.String()
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name   string
		level  Level
		format Format
	}{
		{"debug json", LevelDebug, FormatJSON},
		{"info json", LevelInfo, FormatJSON},
		{"warn text", LevelWarn, FormatText},
		{"error text", LevelError, FormatText},
		{"unknown level defaults to info", Level(99), FormatJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			InitLogger(tt.level, tt.format)
			if GetLogger() == nil {
				t.Fatal("GetLogger() returned nil after InitLogger")
			}
		})
	}
	InitLogger(LevelInfo, FormatJSON)
}

func TestGetLogger(t *testing.T) {
	InitLogger(LevelInfo, FormatJSON)
	if GetLogger() == nil {
		t.Fatal("GetLogger() returned nil")
	}
}

func TestLoggingFunctions(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
		want string
	}{
		{"Debug", func() { Debug("debug message", "key", "value") }, "debug message"},
		{"Info", func() { Info("info message", "key", "value") }, "info message"},
		{"Warn", func() { Warn("warning message", "key", "value") }, "warning message"},
		{"Error", func() { Error("error message", "key", "value") }, "error message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := captureLogOutput(tt.fn)
			var entry map[string]any
			if err := json.Unmarshal([]byte(out), &entry); err != nil {
				t.Fatalf("output not valid JSON: %v (%q)", err, out)
			}
			if entry["msg"] != tt.want {
				t.Fatalf("msg = %v, want %v", entry["msg"], tt.want)
			}
			if entry["key"] != "value" {
				t.Fatalf("key = %v, want value", entry["key"])
			}
		})
	}
}

func TestRecoveryRun(t *testing.T) {
	out := captureLogOutput(func() {
		RecoveryRun("/tmp/x.sqlite", 42, "tables", 3)
	})
	var entry map[string]any
	if err := json.Unmarshal([]byte(out), &entry); err != nil {
		t.Fatalf("output not valid JSON: %v (%q)", err, out)
	}
	if entry["msg"] != "recovery_run" {
		t.Fatalf("msg = %v, want recovery_run", entry["msg"])
	}
	if entry["path"] != "/tmp/x.sqlite" {
		t.Fatalf("path = %v, want /tmp/x.sqlite", entry["path"])
	}
	if entry["page_count"].(float64) != 42 {
		t.Fatalf("page_count = %v, want 42", entry["page_count"])
	}
	if entry["tables"].(float64) != 3 {
		t.Fatalf("tables = %v, want 3", entry["tables"])
	}
}

func TestTableOmitted(t *testing.T) {
	out := captureLogOutput(func() {
		TableOmitted("widgets", 7, errors.New("boom"), "extra", "arg")
	})
	var entry map[string]any
	if err := json.Unmarshal([]byte(out), &entry); err != nil {
		t.Fatalf("output not valid JSON: %v (%q)", err, out)
	}
	if entry["msg"] != "table_omitted" {
		t.Fatalf("msg = %v, want table_omitted", entry["msg"])
	}
	if entry["table"] != "widgets" {
		t.Fatalf("table = %v, want widgets", entry["table"])
	}
	if entry["root_page"].(float64) != 7 {
		t.Fatalf("root_page = %v, want 7", entry["root_page"])
	}
	if entry["error"] != "boom" {
		t.Fatalf("error = %v, want boom", entry["error"])
	}
	if entry["extra"] != "arg" {
		t.Fatalf("extra = %v, want arg", entry["extra"])
	}
}

func TestReplaceAttrTimestamp(t *testing.T) {
	InitLogger(LevelInfo, FormatJSON)
	out := captureLogOutput(func() {
		Info("with timestamp")
	})
	var entry map[string]any
	if err := json.Unmarshal([]byte(out), &entry); err != nil {
		t.Fatalf("output not valid JSON: %v (%q)", err, out)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatal("expected a time field in the log entry")
	}
}

func TestLevelConstants(t *testing.T) {
	if LevelDebug >= LevelInfo || LevelInfo >= LevelWarn || LevelWarn >= LevelError {
		t.Fatal("level constants are not in ascending severity order")
	}
}

func TestFormatConstants(t *testing.T) {
	if FormatJSON == FormatText {
		t.Fatal("FormatJSON and FormatText must be distinct")
	}
}
