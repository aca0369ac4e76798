package utils

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const (
	correlationIDKey ctxKey = "correlation_id"
	tenantIDKey      ctxKey = "tenant_id"
)

type Logger struct {
	service string
}

var (
	baseMu sync.RWMutex
	base   = zap.NewNop()
)

// ConfigureLogging builds the process-wide zap logger. format is "json" or
// "console"; level is any zap level name.
func ConfigureLogging(level, format string) error {
	var cfg zap.Config
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	lvl := zap.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return err
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	zl, err := cfg.Build()
	if err != nil {
		return err
	}

	baseMu.Lock()
	base = zl
	baseMu.Unlock()
	return nil
}

// UseZap installs an already-built zap logger, mostly for tests.
func UseZap(zl *zap.Logger) {
	baseMu.Lock()
	base = zl
	baseMu.Unlock()
}

func SyncLogging() {
	baseMu.RLock()
	defer baseMu.RUnlock()
	_ = base.Sync()
}

func CreateLogger(service string) *Logger {
	return &Logger{service: service}
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

func (l *Logger) log(ctx context.Context, level zapcore.Level, message string, fields ...map[string]interface{}) {
	baseMu.RLock()
	zl := base
	baseMu.RUnlock()
	if !zl.Core().Enabled(level) {
		return
	}

	zf := make([]zap.Field, 0, 4)
	zf = append(zf, zap.String("service", l.service))
	if id := GetCorrelationID(ctx); id != "" {
		zf = append(zf, zap.String("correlation_id", id))
	}
	if id := GetTenantID(ctx); id != "" {
		zf = append(zf, zap.String("tenant_id", id))
	}
	for _, m := range fields {
		for k, v := range m {
			zf = append(zf, zap.Any(k, v))
		}
	}

	if ce := zl.Check(level, message); ce != nil {
		ce.Write(zf...)
	}
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

func GetTenantID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(tenantIDKey).(string); ok {
		return id
	}
	return ""
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

var defaultLogger = CreateLogger("pulse")

func Debug(ctx context.Context, message string, fields ...map[string]interface{}) {
	defaultLogger.Debug(ctx, message, fields...)
}

func Info(ctx context.Context, message string, fields ...map[string]interface{}) {
	defaultLogger.Info(ctx, message, fields...)
}

func Warn(ctx context.Context, message string, fields ...map[string]interface{}) {
	defaultLogger.Warn(ctx, message, fields...)
}

func Error(ctx context.Context, message string, fields ...map[string]interface{}) {
	defaultLogger.Error(ctx, message, fields...)
}
