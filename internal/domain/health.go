package domain

import "time"

// HealthStatus enumerates dependency health states.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck is the result of probing one dependency.
type SystemHealthCheck struct {
	Status    HealthStatus
	Critical  bool
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency checks for readiness probes.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// Ready reports whether the service should receive traffic. Degraded optional dependencies do not block readiness.
func (r SystemHealthReport) Ready() bool {
	return r.Status != HealthStatusError
}
