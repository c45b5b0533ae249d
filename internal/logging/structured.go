// Package logging provides structured logging utilities with error context integration.
package logging

import (
	stderrors "errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/resilient-systems/wireline/internal/errors"
)

// NewLogger creates a production JSON logger at the given level with the
// service field attached.
func NewLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.WrapWithType(err, errors.TypeValidation, "invalid log level").
			WithComponent("logging").
			WithContext("level", level)
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.StacktraceKey = ""

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("service", "wireline")), nil
}

// WithError adds error context to logger fields.
func WithError(err error) []zap.Field {
	if err == nil {
		return []zap.Field{}
	}

	fields := []zap.Field{
		zap.Error(err),
	}

	// If it's a ClientError, add all context
	var clientErr *errors.ClientError
	if stderrors.As(err, &clientErr) {
		fields = append(fields,
			zap.String("error_type", string(clientErr.Type)),
			zap.String("component", clientErr.Component),
			zap.String("operation", clientErr.Operation),
			zap.String("severity", string(clientErr.Severity)),
			zap.Bool("retryable", clientErr.Retryable),
		)

		if len(clientErr.Context) > 0 {
			fields = append(fields, zap.Any("error_context", clientErr.Context))
		}

		// Add stack trace for high severity errors
		if clientErr.Severity == errors.SeverityHigh || clientErr.Severity == errors.SeverityCritical {
			if len(clientErr.Stack) > 0 {
				fields = append(fields, zap.Strings("stack_trace", clientErr.Stack))
			}
		}
	}

	return fields
}

// LogError logs an error at a level derived from its severity.
func LogError(logger *zap.Logger, msg string, err error, additionalFields ...zap.Field) {
	fields := WithError(err)
	fields = append(fields, additionalFields...)

	logAtLevel(logger, getLogLevelForError(err), msg, fields)
}

// getLogLevelForError determines the appropriate log level based on error severity.
func getLogLevelForError(err error) zapcore.Level {
	var clientErr *errors.ClientError
	if !stderrors.As(err, &clientErr) {
		return zapcore.ErrorLevel
	}

	switch clientErr.Severity {
	case errors.SeverityLow:
		return zapcore.WarnLevel
	case errors.SeverityMedium, errors.SeverityHigh, errors.SeverityCritical:
		return zapcore.ErrorLevel
	default:
		return zapcore.ErrorLevel
	}
}

// logAtLevel logs a message at the specified level.
func logAtLevel(logger *zap.Logger, level zapcore.Level, msg string, fields []zap.Field) {
	switch level {
	case zapcore.DebugLevel:
		logger.Debug(msg, fields...)
	case zapcore.InfoLevel:
		logger.Info(msg, fields...)
	case zapcore.WarnLevel:
		logger.Warn(msg, fields...)
	case zapcore.ErrorLevel:
		logger.Error(msg, fields...)
	case zapcore.DPanicLevel:
		logger.DPanic(msg, fields...)
	case zapcore.PanicLevel:
		logger.Panic(msg, fields...)
	case zapcore.FatalLevel:
		logger.Fatal(msg, fields...)
	case zapcore.InvalidLevel:
		logger.Error(msg, fields...)
	default:
		logger.Error(msg, fields...)
	}
}
