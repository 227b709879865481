package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pawmart/api/internal/platform/requestctx"
)

const defaultLogLevel = "info"

// LoggerOption customises NewLogger.
type LoggerOption func(*loggerSettings)

type loggerSettings struct {
	level  string
	fields []zap.Field
}

// WithLogLevel overrides the LOG_LEVEL environment variable.
func WithLogLevel(level string) LoggerOption {
	return func(s *loggerSettings) {
		if strings.TrimSpace(level) != "" {
			s.level = level
		}
	}
}

// WithBaseFields attaches fields to every entry, e.g. service and environment.
func WithBaseFields(fields ...zap.Field) LoggerOption {
	return func(s *loggerSettings) {
		s.fields = append(s.fields, fields...)
	}
}

// NewLogger constructs a production-ready zap logger emitting structured JSON in the Cloud Logging layout.
func NewLogger(opts ...LoggerOption) (*zap.Logger, error) {
	settings := loggerSettings{level: os.Getenv("LOG_LEVEL")}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(settings.level)))); err != nil {
		_ = level.UnmarshalText([]byte(defaultLogLevel))
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "severity",
		EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
		CallerKey:      "caller",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		StacktraceKey:  "stacktrace",
	}

	cfg := zap.Config{
		Level:             level,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     false,
		DisableStacktrace: true,
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if len(settings.fields) > 0 {
		logger = logger.With(settings.fields...)
	}
	return logger, nil
}

// WithLogger injects the logger into the provided context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// FromContext retrieves the logger from context, defaulting to a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// PrintfAdapter adapts zap to printf-style logging interfaces such as the kafka writer's Logger.
type PrintfAdapter struct {
	printf func(string, ...any)
}

// NewPrintfAdapter creates an adapter logging at debug level.
func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{printf: logger.Sugar().Debugf}
}

// NewErrorPrintfAdapter creates an adapter logging at error level.
func NewErrorPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{printf: logger.Sugar().Errorf}
}

// Printf implements the Printf-style logging expected by legacy interfaces.
func (a PrintfAdapter) Printf(format string, args ...any) {
	if a.printf == nil {
		return
	}
	a.printf(format, args...)
}

// WithRequestFields augments the logger with standard request-scoped fields.
func WithRequestFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(fields...)
}
