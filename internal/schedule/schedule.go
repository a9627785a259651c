// Package schedule runs named panel actions on a fixed interval. Its one
// production user is the wake hook: starting the server ahead of busy hours
// so the inactivity shutdown does not leave players at a sleeping host.
package schedule

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Job is one scheduled action.
// Schedule supports only the form "@every <duration>" (e.g. "@every 24h").
// Non-overlap: if the previous run of the same job is still in flight, the
// tick is skipped.
type Job struct {
	Name     string
	Schedule string
	Run      func() error

	running atomic.Bool
}

// parseEvery parses schedules of the form "@every <duration>".
func parseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	durStr := strings.TrimSpace(strings.TrimPrefix(expr, "@every "))
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("@every duration must be > 0")
	}
	return d, nil
}

func (j *Job) validate() error {
	if j.Name == "" {
		return errors.New("scheduled job requires a name")
	}
	if j.Schedule == "" {
		return errors.New("scheduled job requires a schedule")
	}
	if j.Run == nil {
		return errors.New("scheduled job requires an action")
	}
	return nil
}

// Scheduler runs jobs on background tickers. Use Start to launch them and
// Stop to cancel.
type Scheduler struct {
	logger *slog.Logger
	jobs   []*Job
	quit   chan struct{}
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

func (s *Scheduler) Add(job *Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start launches all job loops. Call Stop to cancel.
func (s *Scheduler) Start() error {
	if s.quit != nil {
		return errors.New("scheduler already started")
	}
	s.quit = make(chan struct{})
	for _, j := range s.jobs {
		d, err := parseEvery(j.Schedule)
		if err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		go s.runJob(j, d)
	}
	return nil
}

func (s *Scheduler) runJob(j *Job, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-t.C:
			// Attempt to mark running; if already true, skip this tick.
			if !j.running.CompareAndSwap(false, true) {
				continue
			}
			// Run off the ticker goroutine so a slow action cannot delay
			// the next tick decision.
			go func(j *Job) {
				defer j.running.Store(false)
				if err := j.Run(); err != nil {
					s.logger.Warn("scheduled job failed",
						"job", j.Name, "error", err)
				}
			}(j)
		}
	}
}

// Stop cancels all jobs.
func (s *Scheduler) Stop() {
	if s.quit == nil {
		return
	}
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
}
