package monitoring

import (
	"context"
	"sort"
	"sync"
	"time"
)

type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Unhealthy HealthStatus = "unhealthy"
	Degraded  HealthStatus = "degraded"
)

type CheckFunc func(context.Context) error

type HealthCheck struct {
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Critical    bool          `json:"critical"`
	Duration    time.Duration `json:"duration"`
	LastChecked time.Time     `json:"last_checked"`
	Error       string        `json:"error,omitempty"`
}

type registeredCheck struct {
	fn       CheckFunc
	critical bool
}

type SystemHealth struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]HealthCheck `json:"checks"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
}

// HealthService runs dependency probes. A failing critical probe makes the
// service unhealthy; a failing optional one only degrades it.
type HealthService struct {
	checks       map[string]registeredCheck
	mu           sync.RWMutex
	startTime    time.Time
	version      string
	checkTimeout time.Duration
}

func CreateHealthService(version string) *HealthService {
	return &HealthService{
		checks:       make(map[string]registeredCheck),
		startTime:    time.Now(),
		version:      version,
		checkTimeout: 3 * time.Second,
	}
}

func (hs *HealthService) AddCheck(name string, critical bool, check CheckFunc) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.checks[name] = registeredCheck{fn: check, critical: critical}
}

func (hs *HealthService) CheckNames() []string {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	names := make([]string, 0, len(hs.checks))
	for name := range hs.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (hs *HealthService) runCheck(ctx context.Context, name string, rc registeredCheck) HealthCheck {
	ctx, cancel := context.WithTimeout(ctx, hs.checkTimeout)
	defer cancel()

	start := time.Now()
	err := rc.fn(ctx)

	result := HealthCheck{
		Name:        name,
		Status:      Healthy,
		Critical:    rc.critical,
		Duration:    time.Since(start),
		LastChecked: time.Now().UTC(),
	}
	if err != nil {
		result.Status = Unhealthy
		result.Error = err.Error()
	}
	return result
}

func (hs *HealthService) GetHealth(ctx context.Context) SystemHealth {
	hs.mu.RLock()
	checks := make(map[string]registeredCheck, len(hs.checks))
	for name, rc := range hs.checks {
		checks[name] = rc
	}
	hs.mu.RUnlock()

	results := make(map[string]HealthCheck, len(checks))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, rc := range checks {
		wg.Add(1)
		go func(name string, rc registeredCheck) {
			defer wg.Done()
			res := hs.runCheck(ctx, name, rc)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, rc)
	}
	wg.Wait()

	return SystemHealth{
		Status:    overallStatus(results),
		Timestamp: time.Now().UTC(),
		Checks:    results,
		Uptime:    time.Since(hs.startTime).Round(time.Second).String(),
		Version:   hs.version,
	}
}

func overallStatus(checks map[string]HealthCheck) HealthStatus {
	status := Healthy
	for _, check := range checks {
		if check.Status != Unhealthy {
			continue
		}
		if check.Critical {
			return Unhealthy
		}
		status = Degraded
	}
	return status
}
