package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// SimpleLogger is a line-oriented structured logger writing to the standard
// library's log output. It is the default Logger used when a caller does
// not supply one.
type SimpleLogger struct {
	level  LogLevel
	fields map[string]interface{}
}

// NewSimpleLogger creates a logger at InfoLevel with no bound fields.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{level: InfoLevel, fields: make(map[string]interface{})}
}

// NewDefaultLogger returns a SimpleLogger seeded from AMP_LOG_LEVEL.
func NewDefaultLogger() Logger {
	l := NewSimpleLogger()
	l.SetLevel(LevelFromEnv())
	return l
}

func (l *SimpleLogger) Debug(msg string, fields ...interface{}) {
	if l.level <= DebugLevel {
		l.log("DEBUG", msg, fields...)
	}
}

func (l *SimpleLogger) Info(msg string, fields ...interface{}) {
	if l.level <= InfoLevel {
		l.log("INFO", msg, fields...)
	}
}

func (l *SimpleLogger) Warn(msg string, fields ...interface{}) {
	if l.level <= WarnLevel {
		l.log("WARN", msg, fields...)
	}
}

func (l *SimpleLogger) Error(msg string, fields ...interface{}) {
	if l.level <= ErrorLevel {
		l.log("ERROR", msg, fields...)
	}
}

// SetLevel sets the gate level from a case-insensitive name. Unrecognized
// names are ignored, leaving the previous level in place.
func (l *SimpleLogger) SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		l.level = DebugLevel
	case "INFO":
		l.level = InfoLevel
	case "WARN", "WARNING":
		l.level = WarnLevel
	case "ERROR":
		l.level = ErrorLevel
	}
}

func (l *SimpleLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *SimpleLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &SimpleLogger{level: l.level, fields: merged}
}

func (l *SimpleLogger) log(level, msg string, fields ...interface{}) {
	parts := make([]string, 0, 2+len(l.fields)+len(fields)/2)
	parts = append(parts, fmt.Sprintf("[%s]", level), msg)
	for k, v := range l.fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	for i := 0; i+1 < len(fields); i += 2 {
		parts = append(parts, fmt.Sprintf("%v=%v", fields[i], fields[i+1]))
	}
	log.Println(strings.Join(parts, " "))
}

// LevelFromEnv reads AMP_LOG_LEVEL, defaulting to INFO.
func LevelFromEnv() string {
	if v := os.Getenv("AMP_LOG_LEVEL"); v != "" {
		return v
	}
	return "INFO"
}
