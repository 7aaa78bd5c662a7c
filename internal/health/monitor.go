package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultCheckInterval = 15 * time.Second
	defaultCheckTimeout  = 5 * time.Second
)

// Probe checks one dependency.
type Probe func(ctx context.Context) error

// Check pairs a dependency name with its probe.
type Check struct {
	Name  string
	Probe Probe
}

// Status is a point-in-time snapshot of dependency health.
type Status struct {
	Healthy   bool              `json:"healthy"`
	Checks    map[string]string `json:"checks"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Config holds health monitoring configuration
type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
}

// Monitor runs background health checks against the bot's dependencies.
type Monitor struct {
	checks []Check
	config Config
	logger zerolog.Logger

	mu     sync.RWMutex
	status Status
}

// NewMonitor creates a new health monitor
func NewMonitor(checks []Check, config Config, logger zerolog.Logger) *Monitor {
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaultCheckInterval
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = defaultCheckTimeout
	}
	return &Monitor{
		checks: checks,
		config: config,
		logger: logger,
	}
}

// Start begins the health monitoring loop
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.logger.Info().
		Dur("check_interval", m.config.CheckInterval).
		Dur("check_timeout", m.config.CheckTimeout).
		Int("checks", len(m.checks)).
		Msg("Starting health monitor")

	m.runChecks(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Health monitor stopped")
			return
		case <-ticker.C:
			m.runChecks(ctx)
		}
	}
}

func (m *Monitor) runChecks(ctx context.Context) {
	results := make(map[string]string, len(m.checks))
	healthy := true

	for _, check := range m.checks {
		probeCtx, cancel := context.WithTimeout(ctx, m.config.CheckTimeout)
		err := check.Probe(probeCtx)
		cancel()

		if err != nil {
			healthy = false
			results[check.Name] = err.Error()
			m.logger.Warn().Err(err).Str("check", check.Name).Msg("Health check failed")
			continue
		}
		results[check.Name] = "ok"
	}

	m.mu.Lock()
	m.status = Status{Healthy: healthy, Checks: results, CheckedAt: time.Now().UTC()}
	m.mu.Unlock()
}

// Status returns the latest snapshot.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	checks := make(map[string]string, len(m.status.Checks))
	for name, result := range m.status.Checks {
		checks[name] = result
	}
	snapshot := m.status
	snapshot.Checks = checks
	return snapshot
}
