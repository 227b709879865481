package observability

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pawmart/api/internal/platform/httpx"
	"github.com/pawmart/api/internal/platform/requestctx"
)

const (
	idempotencyKeyHeader    = "Idempotency-Key"
	idempotencyReplayHeader = "X-Idempotent-Replay"
)

// RequestObserver receives the outcome of every request. *Metrics satisfies it.
type RequestObserver interface {
	ObserveRequest(route, method string, status int, latency time.Duration)
}

// InjectLoggerMiddleware stores logger on the request context for handlers and services.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// RequestLoggerMiddleware writes one completion line per request with the order identifiers found on the
// route, reports the outcome to observer and annotates the server span.
func RequestLoggerMiddleware(observer RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := requestLogger(r)
			r = r.WithContext(requestctx.WithLogger(ctx, logger))

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			completed := false
			defer func() {
				status := rec.Status()
				if !completed && status < http.StatusInternalServerError {
					status = http.StatusInternalServerError
				}
				line := accessLine{
					route:   routeLabel(r),
					method:  cleanLogValue(r.Method, 10),
					status:  status,
					latency: time.Since(start),
					bytes:   rec.bytes,
				}
				if observer != nil {
					observer.ObserveRequest(line.route, line.method, line.status, line.latency)
				}
				annotateSpan(trace.SpanFromContext(ctx), line)
				logger.Check(line.level(), "request completed").Write(line.fields(r, rec)...)
			}()

			next.ServeHTTP(rec, r)
			completed = true
		})
	}
}

// RecoveryMiddleware turns a panic into a 500 JSON envelope and logs the stack.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				logger := requestctx.Logger(ctx)
				if logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered",
					zap.String("panic", fmt.Sprint(rec)),
					zap.ByteString("stack", debug.Stack()),
				)
				httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(r *http.Request) *zap.Logger {
	ctx := r.Context()
	info, _ := requestctx.Trace(ctx)
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.String("method", cleanLogValue(r.Method, 10)),
		zap.String("path", cleanLogValue(r.URL.Path, 180)),
	}
	if info.TraceID != "" {
		fields = append(fields, zap.String("trace_id", info.TraceID))
		if info.ProjectID != "" {
			fields = append(fields, zap.String("logging.googleapis.com/trace", fmt.Sprintf("projects/%s/traces/%s", info.ProjectID, info.TraceID)))
		}
	}
	if ip := clientIP(r); ip != "" {
		fields = append(fields, zap.String("remote_ip", ip))
	}
	return WithRequestFields(requestctx.Logger(ctx), fields...)
}

type accessLine struct {
	route   string
	method  string
	status  int
	latency time.Duration
	bytes   int64
}

func (l accessLine) level() zapcore.Level {
	switch {
	case l.status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case l.status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l accessLine) fields(r *http.Request, rec *statusRecorder) []zap.Field {
	fields := []zap.Field{
		zap.String("route", l.route),
		zap.Int("status", l.status),
		zap.Duration("latency", l.latency),
		zap.Int64("bytes", l.bytes),
	}
	if orderID := routeParam(r, "orderID"); orderID != "" {
		fields = append(fields, zap.String("order_id", orderID))
	}
	if tracking := routeParam(r, "trackingNumber"); tracking != "" {
		fields = append(fields, zap.String("tracking_number", maskTracking(tracking)))
	}
	if r.Header.Get(idempotencyKeyHeader) != "" {
		fields = append(fields, zap.Bool("idempotency_replay", rec.Header().Get(idempotencyReplayHeader) == "true"))
	}
	return fields
}

func annotateSpan(span trace.Span, line accessLine) {
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(line.status))
	if line.route != unmatchedRoute {
		span.SetName(line.method + " " + line.route)
		span.SetAttributes(semconv.HTTPRoute(line.route))
	}
	if line.status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(line.status))
		return
	}
	span.SetStatus(codes.Ok, "")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *statusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
