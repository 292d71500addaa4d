// Package logging provides structured JSON logging for the parameter-search
// service and a zap adapter for library code.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"
)

// Level represents the severity of a log entry.
type Level string

const (
	// DebugLevel logs are voluminous and usually disabled in production.
	DebugLevel Level = "DEBUG"
	// InfoLevel is the default logging priority.
	InfoLevel Level = "INFO"
	// WarnLevel logs are more important than Info, but don't need individual
	// human review.
	WarnLevel Level = "WARN"
	// ErrorLevel logs are high-priority.
	ErrorLevel Level = "ERROR"
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel Level = "FATAL"
)

var levelRank = map[Level]int{
	DebugLevel: 0,
	InfoLevel:  1,
	WarnLevel:  2,
	ErrorLevel: 3,
	FatalLevel: 4,
}

// Logger writes structured JSON log entries.
type Logger struct {
	level  Level
	output io.Writer
	fields map[string]interface{}
}

// New creates a Logger with the given minimum level and output.
func New(level Level, output io.Writer) *Logger {
	return &Logger{
		level:  level,
		output: output,
		fields: make(map[string]interface{}),
	}
}

// NewFromConfig creates a Logger from a textual level and output destination
// (stdout, stderr, or a file path).
func NewFromConfig(level, output string) (*Logger, error) {
	var w io.Writer
	switch output {
	case "stdout":
		w = os.Stdout
	case "stderr", "":
		w = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		w = f
	}
	return New(ParseLevel(level), w), nil
}

// ParseLevel converts a string level to a Level, defaulting to Info.
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

// WithFields returns a Logger that includes the given fields in every entry.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{level: l.level, output: l.output, fields: merged}
}

// WithField returns a Logger with one additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithError returns a Logger with the error field set.
func (l *Logger) WithError(err error) *Logger {
	return l.WithField("error", err.Error())
}

func (l *Logger) shouldLog(level Level) bool {
	r, ok := levelRank[level]
	if !ok {
		return false
	}
	cur, ok := levelRank[l.level]
	if !ok {
		return false
	}
	return r >= cur
}

func (l *Logger) log(level Level, msg string, fields map[string]interface{}) {
	if !l.shouldLog(level) {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file, line = "???", 0
	} else if parts := strings.Split(file, "/"); len(parts) > 2 {
		file = strings.Join(parts[len(parts)-2:], "/")
	}

	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"message":   msg,
		"caller":    fmt.Sprintf("%s:%d", file, line),
	}
	for k, v := range l.fields {
		entry[k] = v
	}
	for k, v := range fields {
		entry[k] = v
	}

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.output, "%s [%s] %s: %+v\n",
			time.Now().Format(time.RFC3339), level, msg, fields)
		return
	}
	data = append(data, '\n')
	_, _ = l.output.Write(data)

	if level == FatalLevel {
		os.Exit(1)
	}
}

// Debug logs a message at DebugLevel.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(DebugLevel, msg, first(fields))
}

// Info logs a message at InfoLevel.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(InfoLevel, msg, first(fields))
}

// Warn logs a message at WarnLevel.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(WarnLevel, msg, first(fields))
}

// Error logs a message at ErrorLevel.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(ErrorLevel, msg, first(fields))
}

// Fatal logs a message at FatalLevel then calls os.Exit(1).
func (l *Logger) Fatal(msg string, fields ...map[string]interface{}) {
	l.log(FatalLevel, msg, first(fields))
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

type ctxKey struct{}

// FromContext returns the logger stored in ctx, or a default stderr logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return New(InfoLevel, os.Stderr)
}

// WithContext returns a context carrying l.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}
