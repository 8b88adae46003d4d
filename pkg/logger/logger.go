package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface threaded through the framework.
// Implementations pull structured fields out of the context so the
// dispatch loop and workers never carry a field bag around explicitly.
type Logger interface {
	Debugf(ctx context.Context, format string, args ...interface{})
	Infof(ctx context.Context, format string, args ...interface{})
	Warnf(ctx context.Context, format string, args ...interface{})
	Errorf(ctx context.Context, format string, args ...interface{})
	Sync() error
}

type ctxKey string

const (
	ctxKeyGroup     ctxKey = "group"
	ctxKeyQueue     ctxKey = "queue"
	ctxKeyMessageID ctxKey = "message_id"
	ctxKeyWorkerID  ctxKey = "worker_id"
)

// WithGroup tags the context with the processing group name.
func WithGroup(ctx context.Context, group string) context.Context {
	return context.WithValue(ctx, ctxKeyGroup, group)
}

// WithQueue tags the context with the queue name.
func WithQueue(ctx context.Context, queue string) context.Context {
	return context.WithValue(ctx, ctxKeyQueue, queue)
}

// WithMessageID tags the context with the message ID.
func WithMessageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMessageID, id)
}

// WithWorkerID tags the context with the worker slot number.
func WithWorkerID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, ctxKeyWorkerID, id)
}

// ZapLogger is the zap-backed Logger implementation.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger creates a JSON zap logger at the given level.
func NewZapLogger(level string) (Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &ZapLogger{logger: logger}, nil
}

// extractFields pulls framework metadata out of the context.
func (l *ZapLogger) extractFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if group, ok := ctx.Value(ctxKeyGroup).(string); ok && group != "" {
		fields = append(fields, zap.String("group", group))
	}
	if queue, ok := ctx.Value(ctxKeyQueue).(string); ok && queue != "" {
		fields = append(fields, zap.String("queue", queue))
	}
	if msgID, ok := ctx.Value(ctxKeyMessageID).(string); ok && msgID != "" {
		fields = append(fields, zap.String("message_id", msgID))
	}
	if workerID, ok := ctx.Value(ctxKeyWorkerID).(int); ok {
		fields = append(fields, zap.Int("worker_id", workerID))
	}

	return fields
}

func (l *ZapLogger) Debugf(ctx context.Context, format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), l.extractFields(ctx)...)
}

func (l *ZapLogger) Infof(ctx context.Context, format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...), l.extractFields(ctx)...)
}

func (l *ZapLogger) Warnf(ctx context.Context, format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), l.extractFields(ctx)...)
}

func (l *ZapLogger) Errorf(ctx context.Context, format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), l.extractFields(ctx)...)
}

// Sync flushes buffered log entries.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

// NopLogger discards everything. Used in tests and as a default when no
// logger is injected.
type NopLogger struct{}

func (NopLogger) Debugf(ctx context.Context, format string, args ...interface{}) {}
func (NopLogger) Infof(ctx context.Context, format string, args ...interface{})  {}
func (NopLogger) Warnf(ctx context.Context, format string, args ...interface{})  {}
func (NopLogger) Errorf(ctx context.Context, format string, args ...interface{}) {}
func (NopLogger) Sync() error                                                    { return nil }
