package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pawmart/api/internal/platform/auth"
	"github.com/pawmart/api/internal/platform/httpx"
)

const (
	// DefaultHeader carries the client supplied key.
	DefaultHeader = "Idempotency-Key"
	// ReplayHeader marks a response served from the store.
	ReplayHeader = "X-Idempotent-Replay"

	maxKeyLength    = 255
	anonymousCaller = "anonymous"
)

// Logger receives store failures that do not change the response.
type Logger interface {
	Printf(format string, args ...any)
}

type config struct {
	header   string
	ttl      time.Duration
	hold     time.Duration
	required bool
	logger   Logger
}

// Option customises Middleware.
type Option func(*config)

// WithHeader overrides the header that carries the key.
func WithHeader(name string) Option {
	return func(c *config) {
		if name = strings.TrimSpace(name); name != "" {
			c.header = name
		}
	}
}

// WithTTL sets how long a completed response is replayed.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithHold sets how long an unfinished request blocks its key.
func WithHold(hold time.Duration) Option {
	return func(c *config) {
		if hold > 0 {
			c.hold = hold
		}
	}
}

// WithRequiredKey rejects mutations that omit the key.
func WithRequiredKey() Option {
	return func(c *config) { c.required = true }
}

// WithLogger sets the logger for store failures.
func WithLogger(logger Logger) Option {
	return func(c *config) { c.logger = logger }
}

// Middleware replays the first completed response for a key on POST, PUT, PATCH and DELETE. Keys are scoped
// to the authenticated user. 5xx responses release the key so the client can retry.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := config{header: DefaultHeader, ttl: DefaultTTL, hold: DefaultHold}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return &guard{store: store, cfg: cfg, next: next}
	}
}

type guard struct {
	store Store
	cfg   config
	next  http.Handler
}

func (g *guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !mutating(r.Method) {
		g.next.ServeHTTP(w, r)
		return
	}
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(g.cfg.header))
	switch {
	case key == "" && !g.cfg.required:
		g.next.ServeHTTP(w, r)
		return
	case key == "":
		writeError(ctx, w, http.StatusBadRequest, "idempotency_key_required", g.cfg.header+" header is required")
		return
	case len(key) > maxKeyLength:
		writeError(ctx, w, http.StatusBadRequest, "idempotency_key_invalid", g.cfg.header+" header is too long")
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid_request", "unable to read request body")
		return
	}
	caller := callerID(ctx)
	scoped := digest(caller, key)
	fingerprint := digest(r.Method, r.URL.Path, r.URL.RawQuery, caller, digest(string(body)))

	claim, err := g.store.Claim(ctx, scoped, fingerprint, g.cfg.hold)
	switch {
	case errors.Is(err, ErrKeyReused):
		writeError(ctx, w, http.StatusConflict, "idempotency_key_reused", "idempotency key was already used for a different request")
		return
	case err != nil:
		g.logf("idempotency: claim %s: %v", key, err)
		writeError(ctx, w, http.StatusServiceUnavailable, "idempotency_unavailable", "unable to process idempotency key")
		return
	case claim.State == ClaimReplay:
		replay(w, claim.Snapshot)
		return
	case claim.State == ClaimBusy:
		writeError(ctx, w, http.StatusConflict, "idempotency_in_progress", "a request with this idempotency key is still running")
		return
	}

	capture := &captureWriter{header: make(http.Header)}
	completed := false
	defer func() {
		if !completed {
			g.abandon(ctx, scoped, fingerprint, key)
		}
	}()
	g.next.ServeHTTP(capture, r)
	completed = true

	snap := capture.snapshot()
	if snap.Status >= http.StatusInternalServerError {
		g.abandon(ctx, scoped, fingerprint, key)
		capture.flushTo(w)
		return
	}
	if err := g.store.Complete(ctx, scoped, fingerprint, snap, g.cfg.ttl); err != nil {
		g.logf("idempotency: complete %s: %v", key, err)
		g.abandon(ctx, scoped, fingerprint, key)
		writeError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	capture.flushTo(w)
}

func (g *guard) abandon(ctx context.Context, scoped, fingerprint, key string) {
	if err := g.store.Abandon(context.WithoutCancel(ctx), scoped, fingerprint); err != nil {
		g.logf("idempotency: abandon %s: %v", key, err)
	}
}

func (g *guard) logf(format string, args ...any) {
	if g.cfg.logger != nil {
		g.cfg.logger.Printf(format, args...)
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func callerID(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		return identity.UID
	}
	return anonymousCaller
}

func replay(w http.ResponseWriter, snap Snapshot) {
	header := w.Header()
	for name, values := range snap.Header {
		header[name] = append([]string(nil), values...)
	}
	header.Set(ReplayHeader, "true")
	status := snap.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(snap.Body)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// captureWriter buffers the handler's response until the store has accepted it.
type captureWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (c *captureWriter) Header() http.Header { return c.header }

func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *captureWriter) snapshot() Snapshot {
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	return Snapshot{Status: status, Header: snapshotHeader(c.header), Body: c.body.Bytes()}
}

func (c *captureWriter) flushTo(w http.ResponseWriter) {
	header := w.Header()
	for name, values := range c.header {
		header[name] = values
	}
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(c.body.Bytes())
}
