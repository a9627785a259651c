// Package cubeward provides a stable public API for embedding the control
// panel core in another Go program.
package cubeward

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cubeward/cubeward/internal/events"
	"github.com/cubeward/cubeward/internal/history"
	"github.com/cubeward/cubeward/internal/lifecycle"
	"github.com/cubeward/cubeward/internal/metrics"
	"github.com/cubeward/cubeward/internal/profile"
	iapi "github.com/cubeward/cubeward/internal/server"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Profile = profile.Profile

type Role = lifecycle.Role

type State = lifecycle.State

type Status = lifecycle.Status

type ControlError = lifecycle.ControlError

type Event = events.Event

type HistorySink = history.Sink

const (
	RoleServer = lifecycle.RoleServer
	RoleTunnel = lifecycle.RoleTunnel
	RoleProxy  = lifecycle.RoleProxy
)

// Options configures an embedded Panel.
type Options struct {
	Logger       *slog.Logger
	ProfileDB    string // sqlite path for the profile store
	HistoryDSN   string // optional history sink DSN
	LogDir       string // directory for per-role process logs
	ConsoleLines int
}

// Panel is a thin facade over the lifecycle controller and profile store.
type Panel struct {
	ctl   *lifecycle.Controller
	store *profile.Store
	sink  history.Sink
}

// New creates an embedded panel. The sqlite profile store is created on
// first use.
func New(opts Options) (*Panel, error) {
	store, err := profile.Open(opts.ProfileDB)
	if err != nil {
		return nil, err
	}
	var sink history.Sink
	if opts.HistoryDSN != "" {
		sink, err = history.NewSinkFromDSN(opts.HistoryDSN)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	ctl := lifecycle.New(lifecycle.Options{
		Logger:       opts.Logger,
		Store:        store,
		Sink:         sink,
		LogDir:       opts.LogDir,
		ConsoleLines: opts.ConsoleLines,
	})
	return &Panel{ctl: ctl, store: store, sink: sink}, nil
}

// Close tears down all managed processes and releases resources.
func (p *Panel) Close() error {
	err := p.ctl.Shutdown()
	if closer, ok := p.sink.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	_ = p.store.Close()
	return err
}

func (p *Panel) ActivateProfile(ctx context.Context, name string, forceRestart bool) error {
	return p.ctl.ActivateProfile(ctx, name, forceRestart)
}

func (p *Panel) StartServer() error          { return p.ctl.StartServer() }
func (p *Panel) StopServer(force bool) error { return p.ctl.StopServer(force) }
func (p *Panel) RestartServer() error        { return p.ctl.RestartServer() }
func (p *Panel) StartTunnel() error          { return p.ctl.StartTunnel() }
func (p *Panel) StopTunnel() error           { return p.ctl.StopTunnel() }
func (p *Panel) StartProxy() error           { return p.ctl.StartProxy() }
func (p *Panel) StopProxy() error            { return p.ctl.StopProxy() }
func (p *Panel) Acknowledge(role Role) error { return p.ctl.Acknowledge(role) }
func (p *Panel) Status() Status              { return p.ctl.Status() }
func (p *Panel) ConsoleLines() []string      { return p.ctl.ConsoleLines() }

func (p *Panel) SendCommand(c string) (string, error) { return p.ctl.SendCommand(c) }

// Subscribe returns a live event channel and its cancel function.
func (p *Panel) Subscribe(buffer int) (<-chan Event, func()) {
	return p.ctl.Events().Subscribe(buffer)
}

// SaveProfile validates and persists a profile.
func (p *Panel) SaveProfile(ctx context.Context, pr Profile) error {
	pr.Normalize()
	if err := pr.Validate(); err != nil {
		return err
	}
	return p.store.Save(ctx, pr)
}

// Profiles lists all stored profiles.
func (p *Panel) Profiles(ctx context.Context) ([]Profile, error) {
	return p.store.List(ctx)
}

// DeleteProfile removes a stored profile.
func (p *Panel) DeleteProfile(ctx context.Context, name string) error {
	return p.store.Delete(ctx, name)
}

// Handler returns the panel's HTTP API as an embeddable http.Handler.
func (p *Panel) Handler(basePath string) http.Handler {
	return iapi.NewRouter(p.ctl, p.store, slog.Default(), basePath).Handler()
}

// RegisterMetrics registers the panel's Prometheus collectors.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// MetricsHandler serves the default Prometheus gatherer.
func MetricsHandler() http.Handler { return metrics.Handler() }
