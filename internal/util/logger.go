package util

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger       *zap.Logger
	fallbackOnce sync.Once
)

// InitLogger builds the process logger. Production gets JSON output at info
// level, everything else a colored console encoder at debug level.
func InitLogger(env string) error {
	var err error
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	config.InitialFields = map[string]interface{}{"service": ServiceName}

	logger, err = config.Build()
	if err != nil {
		return err
	}

	zap.ReplaceGlobals(logger)
	return nil
}

// GetLogger returns the global logger, falling back to a development logger
// when InitLogger has not run. Call InitLogger before starting goroutines.
func GetLogger() *zap.Logger {
	fallbackOnce.Do(func() {
		if logger == nil {
			logger, _ = zap.NewDevelopment()
		}
	})
	return logger
}

// LoggerFromContext returns the global logger annotated with the trace and
// span ids of the active span, if any.
func LoggerFromContext(ctx context.Context) *zap.Logger {
	l := GetLogger()
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	return l.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
