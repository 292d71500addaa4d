package logging

import (
	"math"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapAdapter forwards zap log entries to a Logger, so library packages can
// depend on *zap.Logger while the service keeps one output format.
type zapAdapter struct {
	logger *Logger
}

// NewZapLogger creates a *zap.Logger whose entries are written by logger.
func NewZapLogger(logger *Logger) *zap.Logger {
	return zap.New(&zapAdapter{logger: logger})
}

func zapLevelTo(level zapcore.Level) Level {
	switch level {
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.InfoLevel:
		return InfoLevel
	case zapcore.WarnLevel:
		return WarnLevel
	default:
		return ErrorLevel
	}
}

func fieldValue(field zapcore.Field) interface{} {
	switch field.Type {
	case zapcore.StringType:
		return field.String
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type:
		return field.Integer
	case zapcore.Float64Type:
		return math.Float64frombits(uint64(field.Integer))
	case zapcore.Float32Type:
		return math.Float32frombits(uint32(field.Integer))
	case zapcore.BoolType:
		return field.Integer == 1
	default:
		return field.Interface
	}
}

// Enabled implements zapcore.Core.
func (a *zapAdapter) Enabled(level zapcore.Level) bool {
	return a.logger.shouldLog(zapLevelTo(level))
}

// With implements zapcore.Core.
func (a *zapAdapter) With(fields []zapcore.Field) zapcore.Core {
	f := make(map[string]interface{}, len(fields))
	for _, field := range fields {
		f[field.Key] = fieldValue(field)
	}
	return &zapAdapter{logger: a.logger.WithFields(f)}
}

// Check implements zapcore.Core.
func (a *zapAdapter) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if a.Enabled(ent.Level) {
		return ce.AddCore(ent, a)
	}
	return ce
}

// Write implements zapcore.Core.
func (a *zapAdapter) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	f := make(map[string]interface{}, len(fields)+1)
	if ent.LoggerName != "" {
		f["logger"] = ent.LoggerName
	}
	for _, field := range fields {
		f[field.Key] = fieldValue(field)
	}
	a.logger.log(zapLevelTo(ent.Level), ent.Message, f)
	return nil
}

// Sync implements zapcore.Core.
func (a *zapAdapter) Sync() error { return nil }
