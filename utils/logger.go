package utils

import (
	"context"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	clientIDKey      contextKey = "client_id"
)

type Logger struct {
	service string
	zl      *zap.Logger
}

var (
	logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)

	loggerMu      sync.RWMutex
	defaultLogger *Logger
)

func init() {
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel.SetLevel(zap.DebugLevel)
	}
	defaultLogger = &Logger{service: "paygate", zl: buildZap().With(zap.String("service", "paygate"))}
}

func buildZap() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = logLevel
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Sampling = nil

	zl, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return zap.NewNop()
	}
	return zl
}

// SetLevel accepts zap level names ("debug", "info", "warn", "error").
func SetLevel(level string) {
	if level == "" {
		return
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err == nil {
		logLevel.SetLevel(lvl)
	}
}

// SetDefault swaps the process logger, mainly for tests observing log output.
func SetDefault(zl *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger = &Logger{service: "paygate", zl: zl}
}

func NewLogger(service string) *Logger {
	loggerMu.RLock()
	base := defaultLogger.zl
	loggerMu.RUnlock()
	return &Logger{
		service: service,
		zl:      base.With(zap.String("component", service)),
	}
}

func (l *Logger) Debug(ctx context.Context, message string, fields ...map[string]interface{}) {
	l.log(ctx, zapcore.DebugLevel, message, fields...)
}

func (l *Logger) Info(ctx context.Context, message string, fields ...map[string]interface{}) {
	l.log(ctx, zapcore.InfoLevel, message, fields...)
}

func (l *Logger) Warn(ctx context.Context, message string, fields ...map[string]interface{}) {
	l.log(ctx, zapcore.WarnLevel, message, fields...)
}

func (l *Logger) Error(ctx context.Context, message string, fields ...map[string]interface{}) {
	l.log(ctx, zapcore.ErrorLevel, message, fields...)
}

func (l *Logger) Sync() error {
	return l.zl.Sync()
}

func (l *Logger) log(ctx context.Context, level zapcore.Level, message string, fields ...map[string]interface{}) {
	ce := l.zl.Check(level, message)
	if ce == nil {
		return
	}
	ce.Write(contextFields(ctx, fields...)...)
}

func contextFields(ctx context.Context, fields ...map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, 4)
	if id := GetCorrelationID(ctx); id != "" {
		out = append(out, zap.String("correlation_id", id))
	}
	if id := GetClientID(ctx); id != "" {
		out = append(out, zap.String("client_id", id))
	}
	if len(fields) == 0 || fields[0] == nil {
		return out
	}

	keys := make([]string, 0, len(fields[0]))
	for k := range fields[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err, ok := fields[0][k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, fields[0][k]))
	}
	return out
}

func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

func GetClientID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(clientIDKey).(string); ok {
		return id
	}
	return ""
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

func current() *Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

func Debug(ctx context.Context, message string, fields ...map[string]interface{}) {
	current().Debug(ctx, message, fields...)
}

func Info(ctx context.Context, message string, fields ...map[string]interface{}) {
	current().Info(ctx, message, fields...)
}

func Warn(ctx context.Context, message string, fields ...map[string]interface{}) {
	current().Warn(ctx, message, fields...)
}

func Error(ctx context.Context, message string, fields ...map[string]interface{}) {
	current().Error(ctx, message, fields...)
}

func Sync() {
	_ = current().Sync()
}
