package observability

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/pawmart/api/internal/platform/requestctx"
)

// cloudTraceHeader is set by Cloud Run and the Google load balancer: TRACE_ID/SPAN_ID;o=OPTIONS with a
// decimal span id.
const cloudTraceHeader = "X-Cloud-Trace-Context"

var (
	tracer     = otel.Tracer("github.com/pawmart/api/internal/platform/observability")
	propagator = propagation.TraceContext{}
)

// TraceMiddleware opens the server span for a request. The parent comes from X-Cloud-Trace-Context, then
// from a W3C traceparent header. The span is renamed to the matched route once routing is done.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := withRemoteParent(r)
			ctx, span := tracer.Start(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.URLScheme(requestScheme(r)),
					semconv.ServerAddress(r.Host),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()

			sc := span.SpanContext()
			info := requestctx.TraceInfo{
				TraceID:   sc.TraceID().String(),
				SpanID:    sc.SpanID().String(),
				Sampled:   sc.IsSampled(),
				ProjectID: projectID,
			}
			w.Header().Set(cloudTraceHeader, cloudTraceValue(sc))
			next.ServeHTTP(w, r.WithContext(requestctx.WithTrace(ctx, info)))
		})
	}
}

func withRemoteParent(r *http.Request) context.Context {
	if sc, ok := parseCloudTraceContext(r.Header.Get(cloudTraceHeader)); ok {
		return trace.ContextWithRemoteSpanContext(r.Context(), sc)
	}
	return propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

// parseCloudTraceContext accepts decimal span ids as documented and short hex ids as some proxies send them.
func parseCloudTraceContext(header string) (trace.SpanContext, bool) {
	traceHex, rest, found := strings.Cut(strings.TrimSpace(header), "/")
	if !found || len(traceHex) != 32 {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseSpanID(strings.TrimSpace(spanPart))
	if !ok {
		return trace.SpanContext{}, false
	}
	var flags trace.TraceFlags
	if strings.TrimSpace(options) == "o=1" {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

func parseSpanID(value string) (trace.SpanID, bool) {
	var id trace.SpanID
	if n, err := strconv.ParseUint(value, 10, 64); err == nil {
		binary.BigEndian.PutUint64(id[:], n)
		return id, id.IsValid()
	}
	if value == "" || len(value) > 16 {
		return id, false
	}
	id, err := trace.SpanIDFromHex(strings.Repeat("0", 16-len(value)) + value)
	if err != nil {
		return trace.SpanID{}, false
	}
	return id, true
}

func cloudTraceValue(sc trace.SpanContext) string {
	sampled := 0
	if sc.IsSampled() {
		sampled = 1
	}
	spanID := sc.SpanID()
	return fmt.Sprintf("%s/%d;o=%d", sc.TraceID(), binary.BigEndian.Uint64(spanID[:]), sampled)
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.ToLower(proto)
	}
	return "http"
}
