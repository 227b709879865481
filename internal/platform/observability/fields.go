package observability

import (
	"net"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
)

const (
	unmatchedRoute   = "unmatched"
	maxLogValueRunes = 256
)

// cleanLogValue drops control characters and truncates to limit runes so request data cannot forge log lines.
func cleanLogValue(value string, limit int) string {
	if limit <= 0 {
		limit = maxLogValueRunes
	}
	var b strings.Builder
	n := 0
	for _, r := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// routeLabel returns the chi pattern that served r. Requests that matched no route share one label so
// probing clients cannot grow the metric series.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" && pattern != "/*" {
			return cleanLogValue(pattern, 128)
		}
	}
	return unmatchedRoute
}

// routeParam reads a path parameter captured anywhere in the routing tree.
func routeParam(r *http.Request, name string) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return cleanLogValue(rctx.URLParam(name), 64)
}

// maskTracking keeps the last four characters of a tracking number.
func maskTracking(value string) string {
	if len(value) <= 4 {
		return value
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}

func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return cleanLogValue(addr, 64)
}
