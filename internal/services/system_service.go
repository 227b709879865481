package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/repositories"
)

// BuildInfo identifies the running binary on /healthz and /readyz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	checks repositories.HealthRepository
	now    func() time.Time
	build  BuildInfo
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	svc := &systemService{
		checks: deps.HealthRepository,
		now:    func() time.Time { return now().UTC() },
		build:  deps.Build,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

// HealthReport probes dependencies and stamps the result with build metadata. Values already set by the
// repository are kept.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealth, error) {
	report, err := s.checks.Collect(ctx)
	if err != nil {
		return SystemHealth{}, err
	}

	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	fillBlank(&report.Version, s.build.Version)
	fillBlank(&report.CommitSHA, s.build.CommitSHA)
	fillBlank(&report.Environment, s.build.Environment)

	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if report.Status == "" {
		report.Status = overallStatus(report.Checks)
	}
	return report, nil
}

func fillBlank(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}

// overallStatus fails readiness only for critical dependencies. Anything else that is unhealthy degrades.
func overallStatus(checks map[string]domain.SystemHealthCheck) domain.HealthStatus {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch {
		case check.Status == "" || check.Status == domain.HealthStatusOK:
		case check.Status == domain.HealthStatusError && check.Critical:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
