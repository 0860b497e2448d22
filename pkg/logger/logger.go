// Package logger provides the structured, JSON-encoded logging used
// throughout the ingest daemon, built on zap.
package logger

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceIDKey is the context key under which a correlation id, when
// present, is looked up and attached to every log line.
const TraceIDKey = "trace_id"

// Log is the process-wide logger. It is usable at package-init time
// without a call to Init, so a goroutine that logs before main finishes
// wiring never dereferences a nil logger; Init replaces it with a
// level- and destination-configured instance.
var Log = newDefault()

func newDefault() *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.MessageKey = "msg"

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg),
		zapcore.AddSync(os.Stdout),
		zap.InfoLevel,
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Init replaces the global logger with one at the given level, writing
// JSON to stdout. An unparseable level falls back to info.
func Init(processName string, level string) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.MessageKey = "msg"

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg),
		zapcore.AddSync(os.Stdout),
		zapLevel,
	)
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).With(zap.String("process", processName))
}

// Info logs at info level, attaching a trace id from ctx if present.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Info(msg, fields...)
}

// Error logs at error level, attaching a trace id from ctx if present.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Error(msg, fields...)
}

// Warn logs at warn level, attaching a trace id from ctx if present.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Warn(msg, fields...)
}

// Debug logs at debug level, attaching a trace id from ctx if present.
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Debug(msg, fields...)
}

// Fatal logs at fatal level and then calls os.Exit via zap.
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Fatal(msg, fields...)
}

func extractTrace(ctx context.Context, fields *[]zap.Field) {
	if ctx == nil {
		return
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		*fields = append(*fields, zap.String(TraceIDKey, traceID))
	}
}

// Sync flushes any buffered log entries. Call it once on shutdown.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
