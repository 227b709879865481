package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/pawmart/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// HealthRepository reports the state of backing services for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// DependencyCheck describes one probe. A failing Critical probe marks the whole report as error;
// a failing optional probe (Redis, the event bus) only degrades it.
type DependencyCheck struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(context.Context) error
}

// DependencyHealthOption customises the probe runner.
type DependencyHealthOption func(*probeRunner)

// WithDependencyTimeout overrides the timeout used by checks that do not set their own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(r *probeRunner) {
		if timeout > 0 {
			r.defaultTimeout = timeout
		}
	}
}

// WithDependencyClock injects a clock for tests.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(r *probeRunner) {
		if clock != nil {
			r.now = clock
		}
	}
}

type probeRunner struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
}

var _ HealthRepository = (*probeRunner)(nil)

// NewDependencyHealthRepository validates the checks up front and returns a runner that probes them concurrently.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	seen := make(map[string]struct{}, len(checks))
	for _, check := range checks {
		name := strings.TrimSpace(check.Name)
		if name == "" {
			return nil, errors.New("health repository: dependency check missing name")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health repository: dependency %s missing check function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health repository: duplicate dependency %s", name)
		}
		seen[name] = struct{}{}
	}

	runner := &probeRunner{
		checks:         append([]DependencyCheck(nil), checks...),
		defaultTimeout: defaultProbeTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(runner)
		}
	}
	return runner, nil
}

func (r *probeRunner) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if ctx == nil {
		return domain.SystemHealthReport{}, errors.New("health repository: context is required")
	}

	results := make(map[string]domain.SystemHealthCheck, len(r.checks))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, check := range r.checks {
		wg.Add(1)
		go func(check DependencyCheck) {
			defer wg.Done()
			result := r.probe(ctx, check)
			mu.Lock()
			results[strings.TrimSpace(check.Name)] = result
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, result := range results {
		switch {
		case result.Status == domain.HealthStatusOK:
		case result.Critical:
			status = domain.HealthStatusError
		case status == domain.HealthStatusOK:
			status = domain.HealthStatusDegraded
		}
	}

	return domain.SystemHealthReport{
		Status:      status,
		Checks:      results,
		GeneratedAt: r.now(),
	}, nil
}

func (r *probeRunner) probe(ctx context.Context, check DependencyCheck) domain.SystemHealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := check.Check(probeCtx)
	end := r.now()
	if err == nil {
		err = probeCtx.Err()
	}

	result := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Critical:  check.Critical,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	if err == nil {
		return result
	}

	result.Error = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result.Detail = "timeout"
	case errors.Is(err, context.Canceled):
		result.Detail = "cancelled"
	default:
		result.Detail = "unreachable"
	}
	if check.Critical {
		result.Status = domain.HealthStatusError
	} else {
		result.Status = domain.HealthStatusDegraded
	}
	return result
}
