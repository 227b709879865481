package handlers

import (
	"net/http"
	"sort"
	"time"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/platform/httpx"
	"github.com/pawmart/api/internal/services"
)

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService supplies the dependency checks used by /readyz.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the time source.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

// Healthz reports liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.clock().UTC()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      domain.HealthStatusOK,
		"version":     h.build.Version,
		"commitSha":   h.build.CommitSHA,
		"environment": h.build.Environment,
		"uptime":      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		"timestamp":   now.Format(time.RFC3339),
	})
}

// Readyz runs the dependency checks and answers 503 when the service must not receive traffic.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}
	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("health_check_failed", "unable to evaluate readiness", http.StatusServiceUnavailable))
		return
	}

	checks := make(map[string]any, len(report.Checks))
	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	details := make([]string, 0)
	for _, name := range names {
		check := report.Checks[name]
		entry := map[string]any{
			"status":    check.Status,
			"latencyMs": check.Latency.Milliseconds(),
		}
		if check.Error != "" {
			entry["error"] = check.Error
			details = append(details, name+": "+check.Error)
		}
		checks[name] = entry
	}

	status := http.StatusOK
	if !report.Ready() {
		status = http.StatusServiceUnavailable
	}
	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = h.clock()
	}
	httpx.WriteJSON(w, status, map[string]any{
		"status":      report.Status,
		"version":     report.Version,
		"commitSha":   report.CommitSHA,
		"environment": report.Environment,
		"uptime":      report.Uptime.Round(time.Second).String(),
		"checks":      checks,
		"details":     details,
		"timestamp":   generated.UTC().Format(time.RFC3339),
	})
}
