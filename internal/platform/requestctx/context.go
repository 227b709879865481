// Package requestctx carries the request-scoped logger and trace identity.
package requestctx

import (
	"context"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
)

var nop = zap.NewNop()

// TraceInfo identifies the Cloud Trace span serving the request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores logger on ctx. A nil logger stores the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = nop
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger never returns nil.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return nop
}

// NoopLogger is the value Logger returns for contexts without a logger.
func NoopLogger() *zap.Logger { return nop }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(ctx, traceKey{}, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// LogFields returns requestId, traceId and spanId for whichever of them ctx carries.
func LogFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id := middleware.GetReqID(ctx); id != "" {
		fields = append(fields, zap.String("requestId", id))
	}
	info, _ := Trace(ctx)
	if info.TraceID != "" {
		fields = append(fields, zap.String("traceId", info.TraceID))
	}
	if info.TraceID != "" && info.SpanID != "" {
		fields = append(fields, zap.String("spanId", info.SpanID))
	}
	return fields
}

// EventLogger returns the func(ctx, event, fields) logger the services take. Events are written to the
// request logger when one is on ctx, otherwise to fallback with the request ids attached. Events that
// carry an "error" field are logged at warn.
func EventLogger(fallback *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if fallback == nil {
		fallback = nop
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := Logger(ctx)
		if logger == nop {
			logger = fallback.With(LogFields(ctx)...)
		}
		level := zap.InfoLevel
		if _, failed := fields["error"]; failed {
			level = zap.WarnLevel
		}
		ce := logger.Check(level, event)
		if ce == nil {
			return
		}
		zf := make([]zap.Field, 0, len(fields)+1)
		zf = append(zf, zap.String("event", event))
		for k, v := range fields {
			zf = append(zf, zap.Any(k, v))
		}
		ce.Write(zf...)
	}
}
