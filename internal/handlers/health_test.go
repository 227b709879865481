package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealth
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealth, error) {
	return s.report, s.err
}

type probeBody struct {
	Status      string   `json:"status"`
	Version     string   `json:"version"`
	CommitSHA   string   `json:"commitSha"`
	Environment string   `json:"environment"`
	Uptime      string   `json:"uptime"`
	Details     []string `json:"details"`
	Checks      map[string]struct {
		Status    string `json:"status"`
		LatencyMs int64  `json:"latencyMs"`
		Error     string `json:"error"`
	} `json:"checks"`
}

func probe(t *testing.T, handler http.HandlerFunc, path string) (int, probeBody) {
	t.Helper()
	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, path, nil))
	var body probeBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return rr.Code, body
}

func TestHealthzReportsBuild(t *testing.T) {
	started := time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "2.3.1", CommitSHA: "9f8e7d", Environment: "staging", StartedAt: started}),
		WithHealthClock(func() time.Time { return started.Add(75 * time.Second) }),
	)

	code, body := probe(t, h.Healthz, "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "2.3.1", body.Version)
	require.Equal(t, "9f8e7d", body.CommitSHA)
	require.Equal(t, "staging", body.Environment)
	require.Equal(t, "1m15s", body.Uptime)
}

func TestReadyz(t *testing.T) {
	cases := []struct {
		name    string
		svc     *stubSystemService
		code    int
		status  string
		details []string
	}{
		{
			name: "all healthy",
			svc: &stubSystemService{report: services.SystemHealth{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond}},
			}},
			code:    http.StatusOK,
			status:  "ok",
			details: []string{},
		},
		{
			name: "redis degraded",
			svc: &stubSystemService{report: services.SystemHealth{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{"redis": {Status: domain.HealthStatusError, Error: "dial tcp: i/o timeout"}},
			}},
			code:    http.StatusOK,
			status:  "degraded",
			details: []string{"redis: dial tcp: i/o timeout"},
		},
		{
			name: "firestore down",
			svc: &stubSystemService{report: services.SystemHealth{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusError, Critical: true, Error: "unavailable"},
					"redis":     {Status: domain.HealthStatusOK},
				},
			}},
			code:    http.StatusServiceUnavailable,
			status:  "error",
			details: []string{"firestore: unavailable"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := probe(t, NewHealthHandlers(WithHealthSystemService(tc.svc)).Readyz, "/readyz")
			require.Equal(t, tc.code, code)
			require.Equal(t, tc.status, body.Status)
			require.Equal(t, tc.details, body.Details)
		})
	}
}

func TestReadyzReportsCheckLatency(t *testing.T) {
	svc := &stubSystemService{report: services.SystemHealth{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK, Latency: 42 * time.Millisecond}},
	}}
	_, body := probe(t, NewHealthHandlers(WithHealthSystemService(svc)).Readyz, "/readyz")
	require.Equal(t, int64(42), body.Checks["firestore"].LatencyMs)
}

func TestReadyzWhenChecksFail(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandlers(WithHealthSystemService(&stubSystemService{err: errors.New("timeout")})).Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "health_check_failed", decodeErrorCode(t, rr))
}

var _ services.SystemService = (*stubSystemService)(nil)
