// Package monitor accumulates idle time for a running server from periodic
// activity samples and hands off to a shutdown trigger when the configured
// limit is reached.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cubeward/cubeward/internal/query"
)

// DefaultMaxProbeFaults is the number of consecutive failed probes after
// which the monitor suspends itself instead of counting a dead server as
// idle.
const DefaultMaxProbeFaults = 3

// Config controls one monitoring run.
type Config struct {
	Profile        string
	PollInterval   time.Duration
	Limit          time.Duration
	MaxProbeFaults int
}

func (c *Config) normalize() {
	if c.MaxProbeFaults <= 0 {
		c.MaxProbeFaults = DefaultMaxProbeFaults
	}
}

// Snapshot is a point-in-time view of the monitor for status reporting.
type Snapshot struct {
	Running     bool          `json:"running"`
	Suspended   bool          `json:"suspended"`
	IdleFor     time.Duration `json:"idle_for"`
	Limit       time.Duration `json:"limit"`
	ProbeFaults int           `json:"probe_faults"`
	LastSample  query.Sample  `json:"last_sample"`
}

// Monitor drives the inactivity countdown for one activated profile. It owns
// no process state; when the limit is reached it fires the trigger callback
// exactly once and stops. The callback runs on the monitor goroutine, so the
// receiver must hand heavy work elsewhere.
type Monitor struct {
	cfg       Config
	prober    query.Prober
	logger    *slog.Logger
	onTrigger func()
	onFault   func(consecutive int)

	mu        sync.Mutex
	running   bool
	suspended bool
	idle      time.Duration
	faults    int
	last      query.Sample
}

// New creates a Monitor. onTrigger fires when accumulated idle time reaches
// cfg.Limit; onFault fires once when cfg.MaxProbeFaults consecutive probes
// fail. Either callback may be nil.
func New(cfg Config, prober query.Prober, logger *slog.Logger, onTrigger func(), onFault func(consecutive int)) *Monitor {
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:       cfg,
		prober:    prober,
		logger:    logger.With("profile", cfg.Profile),
		onTrigger: onTrigger,
		onFault:   onFault,
	}
}

// Run blocks until the context is canceled or the inactivity limit triggers.
// Cancellation is checked at tick boundaries only; a cancellation racing a
// final tick wins, and the trigger is not fired.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.logger.Info("inactivity monitor started",
		"interval", m.cfg.PollInterval, "limit", m.cfg.Limit)

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("inactivity monitor canceled")
			return
		case <-ticker.C:
			sample := m.prober.Sample()
			// A cancellation racing the tick wins; neither callback fires.
			if ctx.Err() != nil {
				return
			}
			switch m.observe(sample) {
			case actionFault:
				m.logger.Warn("probe fault threshold reached, monitor suspended",
					"consecutive", m.cfg.MaxProbeFaults)
				if m.onFault != nil {
					m.onFault(m.cfg.MaxProbeFaults)
				}
				return
			case actionTrigger:
				m.logger.Info("inactivity limit reached",
					"idle", m.cfg.Limit)
				if m.onTrigger != nil {
					m.onTrigger()
				}
				return
			}
		}
	}
}

type action int

const (
	actionNone action = iota
	actionFault
	actionTrigger
)

// observe folds one sample into the window and reports whether a terminal
// condition (probe fault streak or inactivity limit) has been reached.
func (m *Monitor) observe(s query.Sample) action {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.last = s

	if !s.Reachable {
		m.faults++
		m.logger.Warn("activity probe failed",
			"consecutive", m.faults, "error", s.Err)
		if m.faults >= m.cfg.MaxProbeFaults {
			m.suspended = true
			m.idle = 0
			return actionFault
		}
		return actionNone
	}

	// A reachable sample after a short failure streak restarts the window
	// from scratch; the unreachable gap never counts as idle time.
	if m.faults > 0 {
		m.faults = 0
		m.idle = 0
	}

	if s.PlayerCount > 0 {
		if m.idle > 0 {
			m.logger.Debug("players online, idle window reset",
				"players", s.PlayerCount)
		}
		m.idle = 0
		return actionNone
	}

	m.idle += m.cfg.PollInterval
	m.logger.Debug("server idle", "accumulated", m.idle, "limit", m.cfg.Limit)
	if m.idle >= m.cfg.Limit {
		m.suspended = true
		return actionTrigger
	}
	return actionNone
}

// Snapshot returns the current monitor state for status reporting.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Running:     m.running,
		Suspended:   m.suspended,
		IdleFor:     m.idle,
		Limit:       m.cfg.Limit,
		ProbeFaults: m.faults,
		LastSample:  m.last,
	}
}
