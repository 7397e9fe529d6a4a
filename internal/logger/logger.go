package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log entry
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
	FatalLevel: "FATAL",
}

var levelColors = map[LogLevel]string{
	DebugLevel: "\033[35m", // Magenta
	InfoLevel:  "\033[32m", // Green
	WarnLevel:  "\033[33m", // Yellow
	ErrorLevel: "\033[31m", // Red
	FatalLevel: "\033[91m", // Bright Red
}

const colorReset = "\033[0m"

// LogFormat represents the output format for logs
type LogFormat int

const (
	ConsoleFormat LogFormat = iota
	JSONFormat
)

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// Logger provides structured logging functionality
type Logger struct {
	level      LogLevel
	format     LogFormat
	writer     io.Writer
	name       string
	fields     []Field
	useColors  bool
	mu         sync.Mutex
	timeFormat string
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Format     LogFormat
	Output     io.Writer
	UseColors  bool
	TimeFormat string
}

// New creates a new logger instance
func New(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	if config.TimeFormat == "" {
		config.TimeFormat = "2006-01-02 15:04:05.000"
	}

	return &Logger{
		level:      config.Level,
		format:     config.Format,
		writer:     config.Output,
		useColors:  config.UseColors,
		timeFormat: config.TimeFormat,
	}
}

// NewConsoleLogger creates a new console logger
func NewConsoleLogger(level LogLevel) *Logger {
	return New(Config{
		Level:     level,
		Format:    ConsoleFormat,
		UseColors: true,
	})
}

// NewJSONLogger creates a new JSON logger
func NewJSONLogger(level LogLevel) *Logger {
	return New(Config{
		Level:  level,
		Format: JSONFormat,
	})
}

// With creates a new logger with additional fields
func (l *Logger) With(fields ...Field) *Logger {
	newFields := make([]Field, len(l.fields)+len(fields))
	copy(newFields, l.fields)
	copy(newFields[len(l.fields):], fields)

	return &Logger{
		level:      l.level,
		format:     l.format,
		writer:     l.writer,
		name:       l.name,
		fields:     newFields,
		useColors:  l.useColors,
		timeFormat: l.timeFormat,
	}
}

// WithName creates a new logger with a name
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		level:      l.level,
		format:     l.format,
		writer:     l.writer,
		name:       name,
		fields:     l.fields,
		useColors:  l.useColors,
		timeFormat: l.timeFormat,
	}
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// IsEnabled returns true if the given level would be logged
func (l *Logger) IsEnabled(level LogLevel) bool {
	return level >= l.GetLevel()
}

// Log outputs a log entry at the specified level
func (l *Logger) Log(level LogLevel, msg string, fields ...Field) {
	if !l.IsEnabled(level) {
		return
	}

	entry := logEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Logger:    l.name,
		Fields:    append(l.fields, fields...),
	}

	l.writeEntry(entry)

	// Exit on fatal
	if level == FatalLevel {
		os.Exit(1)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...Field) {
	l.Log(DebugLevel, msg, fields...)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...Field) {
	l.Log(InfoLevel, msg, fields...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...Field) {
	l.Log(WarnLevel, msg, fields...)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...Field) {
	l.Log(ErrorLevel, msg, fields...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, fields ...Field) {
	l.Log(FatalLevel, msg, fields...)
}

type logEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Logger    string
	Fields    []Field
}

func (l *Logger) writeEntry(entry logEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var output string

	switch l.format {
	case JSONFormat:
		output = l.formatJSON(entry)
	default:
		output = l.formatConsole(entry)
	}

	fmt.Fprintln(l.writer, output)
}

func (l *Logger) formatConsole(entry logEntry) string {
	var b strings.Builder

	b.WriteString(entry.Timestamp.Format(l.timeFormat))
	b.WriteString(" ")

	levelName := levelNames[entry.Level]
	if l.useColors {
		color := levelColors[entry.Level]
		b.WriteString(color)
		b.WriteString(fmt.Sprintf("%-5s", levelName))
		b.WriteString(colorReset)
	} else {
		b.WriteString(fmt.Sprintf("%-5s", levelName))
	}
	b.WriteString(" ")

	if entry.Logger != "" {
		b.WriteString("[")
		b.WriteString(entry.Logger)
		b.WriteString("] ")
	}

	b.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		b.WriteString(" {")
		for i, field := range entry.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("%s=%v", field.Key, field.Value))
		}
		b.WriteString("}")
	}

	return b.String()
}

func (l *Logger) formatJSON(entry logEntry) string {
	var b strings.Builder
	b.WriteString("{")

	b.WriteString(fmt.Sprintf(`"timestamp":"%s"`, entry.Timestamp.Format(time.RFC3339Nano)))
	b.WriteString(fmt.Sprintf(`,"level":"%s"`, levelNames[entry.Level]))

	if entry.Logger != "" {
		b.WriteString(fmt.Sprintf(`,"logger":"%s"`, entry.Logger))
	}

	b.WriteString(fmt.Sprintf(`,"message":"%s"`, escapeJSON(entry.Message)))

	for _, field := range entry.Fields {
		b.WriteString(fmt.Sprintf(`,"%s":%s`, escapeJSON(field.Key), formatJSONValue(field.Value)))
	}

	b.WriteString("}")
	return b.String()
}

func escapeJSON(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return s
}

func formatJSONValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return fmt.Sprintf(`"%s"`, escapeJSON(val))
	case int, int32, int64, float32, float64:
		return fmt.Sprintf("%v", val)
	case bool:
		return fmt.Sprintf("%t", val)
	default:
		return fmt.Sprintf(`"%s"`, escapeJSON(fmt.Sprintf("%v", val)))
	}
}

// Helper functions for creating fields
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func ErrorField(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// ParseLogLevel parses a string log level
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}
