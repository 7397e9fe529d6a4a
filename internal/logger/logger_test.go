package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name     string
		level    LogLevel
		expected string
	}{
		{"Debug", DebugLevel, "DEBUG"},
		{"Info", InfoLevel, "INFO"},
		{"Warn", WarnLevel, "WARN"},
		{"Error", ErrorLevel, "ERROR"},
		{"Fatal", FatalLevel, "FATAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if levelNames[tt.level] != tt.expected {
				t.Errorf("Expected level name %s, got %s", tt.expected, levelNames[tt.level])
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
		hasError bool
	}{
		{"debug", DebugLevel, false},
		{"info", InfoLevel, false},
		{"warn", WarnLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"fatal", FatalLevel, false},
		{"DEBUG", DebugLevel, false},
		{"invalid", InfoLevel, true},
		{"", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLogLevel(tt.input)
			if tt.hasError {
				if err == nil {
					t.Error("Expected error but got none")
				}
			} else {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				if level != tt.expected {
					t.Errorf("Expected level %v, got %v", tt.expected, level)
				}
			}
		})
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{
		Level:  InfoLevel,
		Format: ConsoleFormat,
		Output: &buf,
	})

	log.Info("test message", String("key", "value"))

	output := buf.String()
	if !strings.Contains(output, "INFO") {
		t.Errorf("Expected output to contain INFO, got %q", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain message, got %q", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("Expected output to contain field, got %q", output)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{
		Level:  DebugLevel,
		Format: JSONFormat,
		Output: &buf,
	})

	log.Debug("json message",
		String("component", "test"),
		Int("count", 3),
		Bool("flag", true),
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	if entry["level"] != "DEBUG" {
		t.Errorf("Expected level DEBUG, got %v", entry["level"])
	}
	if entry["message"] != "json message" {
		t.Errorf("Expected message, got %v", entry["message"])
	}
	if entry["component"] != "test" {
		t.Errorf("Expected component field, got %v", entry["component"])
	}
	if entry["count"] != float64(3) {
		t.Errorf("Expected count 3, got %v", entry["count"])
	}
	if entry["flag"] != true {
		t.Errorf("Expected flag true, got %v", entry["flag"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{
		Level:  WarnLevel,
		Format: ConsoleFormat,
		Output: &buf,
	})

	log.Debug("should not appear")
	log.Info("should not appear either")
	log.Warn("should appear")

	output := buf.String()
	if strings.Contains(output, "not appear") {
		t.Errorf("Low-level messages were not filtered: %q", output)
	}
	if !strings.Contains(output, "should appear") {
		t.Errorf("Expected warning in output, got %q", output)
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{
		Level:  InfoLevel,
		Format: ConsoleFormat,
		Output: &buf,
	})

	child := log.With(String("adapter", "hci0"))
	child.Info("event", String("peer", "AA:BB:CC:DD:EE:FF"))

	output := buf.String()
	if !strings.Contains(output, "adapter=hci0") {
		t.Errorf("Expected inherited field, got %q", output)
	}
	if !strings.Contains(output, "peer=AA:BB:CC:DD:EE:FF") {
		t.Errorf("Expected call field, got %q", output)
	}

	// The parent must not have gained the child's fields.
	buf.Reset()
	log.Info("parent event")
	if strings.Contains(buf.String(), "adapter=hci0") {
		t.Errorf("Parent logger gained child fields: %q", buf.String())
	}
}

func TestWithName(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{
		Level:  InfoLevel,
		Format: ConsoleFormat,
		Output: &buf,
	})

	log.WithName("session").Info("named entry")

	if !strings.Contains(buf.String(), "[session]") {
		t.Errorf("Expected logger name in output, got %q", buf.String())
	}
}

func TestErrorField(t *testing.T) {
	f := ErrorField(errors.New("boom"))
	if f.Key != "error" || f.Value != "boom" {
		t.Errorf("Unexpected error field: %+v", f)
	}

	f = ErrorField(nil)
	if f.Key != "error" || f.Value != nil {
		t.Errorf("Unexpected nil error field: %+v", f)
	}
}

func TestDurationField(t *testing.T) {
	f := Duration("pause", 5*time.Second)
	if f.Value != "5s" {
		t.Errorf("Expected 5s, got %v", f.Value)
	}
}
