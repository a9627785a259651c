package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cubeward/cubeward/internal/events"
	"github.com/cubeward/cubeward/internal/history"
	"github.com/cubeward/cubeward/internal/logger"
	"github.com/cubeward/cubeward/internal/metrics"
	"github.com/cubeward/cubeward/internal/monitor"
	"github.com/cubeward/cubeward/internal/power"
	"github.com/cubeward/cubeward/internal/proc"
	"github.com/cubeward/cubeward/internal/profile"
	"github.com/cubeward/cubeward/internal/query"
	"github.com/cubeward/cubeward/internal/rcon"
)

const (
	// DefaultGracefulTimeout bounds the wait for the server to exit after a
	// graceful stop request.
	DefaultGracefulTimeout = 30 * time.Second
	// DefaultAuxTimeout bounds tunnel/proxy exits; these are always safe to
	// hard-kill so the window is short.
	DefaultAuxTimeout = 5 * time.Second

	gracefulStopCommand = "stop"
	historySendTimeout  = 3 * time.Second
)

// readinessPollInterval is a variable so tests can tighten the loop.
var readinessPollInterval = 2 * time.Second

// Options configures a Controller. Zero-value fields fall back to defaults;
// the factory fields exist so tests can inject fake probes and consoles.
type Options struct {
	Logger          *slog.Logger
	Bus             *events.Bus
	Store           *profile.Store
	Sink            history.Sink // optional export of lifecycle events
	LogDir          string       // base directory for per-role rotated logs
	ConsoleLines    int
	GracefulTimeout time.Duration
	AuxTimeout      time.Duration

	NewProber  func(host string, port int, timeout time.Duration) query.Prober
	NewConsole func(p profile.Profile) rcon.Runner
	Sleeper    power.Sleeper
	Exiter     power.Exiter
}

type roleState struct {
	op     sync.Mutex // per-role exclusive section; TryLock, never queue
	state  State
	handle *proc.Handle
	gen    uint64 // spawn generation, guards stale exit callbacks
}

// activeContext is the immutable configuration context of the currently
// activated profile plus the cancellation scope of its background tasks.
type activeContext struct {
	profile profile.Profile
	console rcon.Runner

	runMu     sync.Mutex
	runCancel context.CancelFunc // cancels readiness watcher + monitor
	mon       *monitor.Monitor
}

func (a *activeContext) cancelRun() {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	a.mon = nil
	a.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Controller is the lifecycle facade. It exclusively owns the process
// handles of all managed roles; nothing else may spawn or signal them.
type Controller struct {
	opts   Options
	logger *slog.Logger
	bus    *events.Bus
	conso  *Console

	actMu sync.Mutex // profile activation swap
	seqMu sync.Mutex // at most one shutdown sequence at a time

	mu     sync.Mutex // guards role states and the active pointer
	roles  map[Role]*roleState
	active *activeContext
}

// New creates a Controller. The bus must not be nil; all other options have
// working defaults.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.GracefulTimeout <= 0 {
		opts.GracefulTimeout = DefaultGracefulTimeout
	}
	if opts.AuxTimeout <= 0 {
		opts.AuxTimeout = DefaultAuxTimeout
	}
	if opts.NewProber == nil {
		opts.NewProber = func(host string, port int, timeout time.Duration) query.Prober {
			return query.New(host, port, timeout)
		}
	}
	if opts.NewConsole == nil {
		opts.NewConsole = func(p profile.Profile) rcon.Runner {
			return rcon.New(p.Host, p.RCONPort, p.RCONPassword, rcon.DefaultTimeout)
		}
	}
	if opts.Sleeper == nil {
		opts.Sleeper = power.HostSleeper{}
	}
	if opts.Exiter == nil {
		opts.Exiter = power.AppExiter{}
	}

	c := &Controller{
		opts:   opts,
		logger: opts.Logger,
		bus:    opts.Bus,
		conso:  NewConsole(opts.ConsoleLines, opts.Bus),
		roles:  make(map[Role]*roleState, len(Roles)),
	}
	for _, r := range Roles {
		c.roles[r] = &roleState{state: StateStopped}
	}
	return c
}

// Events returns the bus carrying lifecycle notifications.
func (c *Controller) Events() *events.Bus { return c.bus }

// ConsoleLines returns the retained server console tail, oldest-first.
func (c *Controller) ConsoleLines() []string { return c.conso.Lines() }

// ConsoleWriter returns the writer feeding the console ring. It is wired as
// the server's stdout tap; embedders may also append panel-side notices.
func (c *Controller) ConsoleWriter() io.Writer { return c.conso }

// ActiveProfile returns a copy of the active profile, if any.
func (c *Controller) ActiveProfile() (profile.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return profile.Profile{}, false
	}
	return c.active.profile, true
}

func (c *Controller) activeCtx() *activeContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// setState performs a state transition and publishes it. Callers must not
// hold c.mu.
func (c *Controller) setState(role Role, to State, msg string) {
	c.mu.Lock()
	rs := c.roles[role]
	from := rs.state
	rs.state = to
	profileName := ""
	if c.active != nil {
		profileName = c.active.profile.Name
	}
	c.mu.Unlock()

	if from == to {
		return
	}
	c.logger.Info("state transition",
		"role", role, "from", from, "to", to, "reason", msg)
	metrics.RecordStateTransition(string(role), string(from), string(to))
	metrics.SetCurrentState(string(role), string(from), false)
	metrics.SetCurrentState(string(role), string(to), true)
	c.bus.Publish(events.Event{
		Kind:    events.KindStateChange,
		Profile: profileName,
		Role:    string(role),
		From:    string(from),
		To:      string(to),
		Message: msg,
	})
}

func (c *Controller) state(role Role) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roles[role].state
}

// record exports a history event without blocking lifecycle operations.
func (c *Controller) record(t history.EventType, role Role, pid int, detail string) {
	if c.opts.Sink == nil {
		return
	}
	profileName := ""
	if act := c.activeCtx(); act != nil {
		profileName = act.profile.Name
	}
	e := history.Event{
		Type:       t,
		OccurredAt: time.Now(),
		Profile:    profileName,
		Role:       string(role),
		PID:        pid,
		Detail:     detail,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), historySendTimeout)
		defer cancel()
		if err := c.opts.Sink.Send(ctx, e); err != nil {
			c.logger.Warn("history sink send failed", "error", err)
		}
	}()
}

// StartServer spawns the active profile's server process. The call returns
// once the process has been spawned; readiness (Starting to Running) is
// observed asynchronously by the activity probe.
func (c *Controller) StartServer() error {
	act := c.activeCtx()
	if act == nil {
		return ctlErr(ErrNotRunning, RoleServer, "no active profile")
	}
	return c.startRole(act, RoleServer, c.serverSpec(act.profile), true)
}

func (c *Controller) serverSpec(p profile.Profile) proc.Spec {
	return proc.Spec{
		Role:      string(RoleServer),
		Command:   p.RunScriptPath(),
		WorkDir:   p.ServerPath,
		Env:       p.Env(),
		Log:       c.roleLogConfig(),
		StdoutTap: c.conso,
	}
}

// StartTunnel spawns the active profile's tunnel client.
func (c *Controller) StartTunnel() error { return c.startAux(RoleTunnel) }

// StartProxy spawns the active profile's reverse proxy.
func (c *Controller) StartProxy() error { return c.startAux(RoleProxy) }

func (c *Controller) startAux(role Role) error {
	act := c.activeCtx()
	if act == nil {
		return ctlErr(ErrNotRunning, role, "no active profile")
	}
	p := act.profile
	command := p.TunnelCommand
	if role == RoleProxy {
		command = p.ProxyCommand
	}
	if command == "" {
		return ctlErr(ErrNotRunning, role, "no %s command configured", role)
	}
	spec := proc.Spec{
		Role:    string(role),
		Command: command,
		WorkDir: p.ServerPath,
		Log:     c.roleLogConfig(),
	}
	return c.startRole(act, role, spec, false)
}

func (c *Controller) startRole(act *activeContext, role Role, spec proc.Spec, watchReadiness bool) error {
	rs := c.roles[role]
	if !rs.op.TryLock() {
		return ctlErr(ErrBusy, role, "another control operation is in flight")
	}
	defer rs.op.Unlock()
	return c.startRoleLocked(act, role, spec, watchReadiness)
}

// startRoleLocked spawns the role's process. Caller holds the role's op lock.
func (c *Controller) startRoleLocked(act *activeContext, role Role, spec proc.Spec, watchReadiness bool) error {
	rs := c.roles[role]

	switch c.state(role) {
	case StateRunning, StateStarting:
		return &proc.SpawnError{Kind: proc.SpawnAlreadyRunning, Role: string(role)}
	case StateStopping:
		return ctlErr(ErrBusy, role, "stop in progress")
	case StateFailed:
		return ctlErr(ErrFatal, role, "previous failure not acknowledged")
	}

	c.mu.Lock()
	rs.gen++
	gen := rs.gen
	c.mu.Unlock()

	c.setState(role, StateStarting, "start requested")
	h, err := proc.Spawn(spec, func(exitErr error) {
		c.handleExit(role, gen, exitErr)
	})
	if err != nil {
		c.setState(role, StateStopped, "spawn failed")
		c.logger.Error("spawn failed", "role", role, "error", err)
		return err
	}

	c.mu.Lock()
	rs.handle = h
	c.mu.Unlock()

	metrics.IncStart(string(role))
	c.record(history.EventStart, role, h.PID(), "")
	c.logger.Info("process started", "role", role, "pid", h.PID())

	if watchReadiness {
		ctx, cancel := context.WithCancel(context.Background())
		act.runMu.Lock()
		if act.runCancel != nil {
			act.runCancel()
		}
		act.runCancel = cancel
		act.runMu.Unlock()
		go c.watchReadiness(ctx, act, gen)
	} else {
		// Helper processes have no protocol readiness signal; treat a
		// surviving spawn as running.
		c.setState(role, StateRunning, "spawned")
	}
	return nil
}

// watchReadiness polls the activity probe until the server answers, then
// flips Starting to Running and arms the inactivity monitor.
func (c *Controller) watchReadiness(ctx context.Context, act *activeContext, gen uint64) {
	p := act.profile
	prober := c.opts.NewProber(p.Host, p.QueryPort, query.DefaultTimeout)
	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := prober.Sample()
			if ctx.Err() != nil || !s.Reachable {
				continue
			}
			c.mu.Lock()
			rs := c.roles[RoleServer]
			stale := rs.gen != gen
			starting := rs.state == StateStarting
			c.mu.Unlock()
			if stale {
				return
			}
			if starting {
				c.setState(RoleServer, StateRunning, "server reachable")
			}
			c.startMonitor(ctx, act, prober)
			return
		}
	}
}

// startMonitor arms the inactivity monitor for the running server. It runs
// on the readiness watcher's context so any stop or exit disarms it.
func (c *Controller) startMonitor(ctx context.Context, act *activeContext, prober query.Prober) {
	p := act.profile
	mon := monitor.New(monitor.Config{
		Profile:      p.Name,
		PollInterval: p.PollingInterval,
		Limit:        p.InactivityLimit,
	}, prober, c.logger,
		func() { c.onInactivity(act) },
		func(consecutive int) { c.onProbeFault(act, consecutive) },
	)
	act.runMu.Lock()
	act.mon = mon
	act.runMu.Unlock()
	go mon.Run(ctx)
}

// onInactivity runs on the monitor goroutine when the idle limit is hit.
func (c *Controller) onInactivity(act *activeContext) {
	p := act.profile
	metrics.IncInactivityShutdown(p.Name)
	c.logger.Info("inactivity shutdown triggered",
		"profile", p.Name, "limit", p.InactivityLimit)
	plan := InactivityPlan(p)
	if err := c.runSequence(plan, false); err != nil {
		c.logger.Error("inactivity shutdown incomplete", "error", err)
	}
}

// onProbeFault runs once when the probe fault threshold is crossed. The
// monitor has already suspended itself; no shutdown is triggered.
func (c *Controller) onProbeFault(act *activeContext, consecutive int) {
	p := act.profile
	metrics.IncProbeFailure(p.Name)
	c.logger.Warn("activity probe failing, monitor suspended",
		"profile", p.Name, "consecutive", consecutive)
	c.bus.Publish(events.Event{
		Kind:    events.KindProbeFault,
		Profile: p.Name,
		Role:    string(RoleServer),
		Message: "activity probe unreachable, inactivity monitoring suspended",
	})
}

// handleExit is invoked from the process monitor goroutine when a child is
// reaped. Expected exits (state Stopping) are owned by the stop path; any
// other exit is a failure.
func (c *Controller) handleExit(role Role, gen uint64, exitErr error) {
	c.mu.Lock()
	rs := c.roles[role]
	if rs.gen != gen {
		c.mu.Unlock()
		return
	}
	state := rs.state
	var act *activeContext
	if role == RoleServer {
		act = c.active
	}
	c.mu.Unlock()

	if state != StateRunning && state != StateStarting {
		return
	}
	if act != nil {
		act.cancelRun()
	}
	detail := "exited unexpectedly"
	if exitErr != nil {
		detail = exitErr.Error()
	}
	c.logger.Error("process exited unexpectedly",
		"role", role, "state", state, "error", exitErr)
	c.setState(role, StateFailed, detail)
	c.record(history.EventFailed, role, 0, detail)
}

// StopServer stops the server. force=true skips the graceful phase and
// kills outright; force=false requests a graceful exit and surfaces Timeout
// instead of escalating when the server does not comply.
func (c *Controller) StopServer(force bool) error {
	act := c.activeCtx()
	if act == nil {
		return ctlErr(ErrNotRunning, RoleServer, "no active profile")
	}
	if !c.seqMu.TryLock() {
		return ctlErr(ErrBusy, RoleServer, "shutdown sequence in progress")
	}
	defer c.seqMu.Unlock()

	rs := c.roles[RoleServer]
	if !rs.op.TryLock() {
		return ctlErr(ErrBusy, RoleServer, "another control operation is in flight")
	}
	defer rs.op.Unlock()

	switch c.state(RoleServer) {
	case StateStopped, StateInactive:
		return ctlErr(ErrNotRunning, RoleServer, "server is not running")
	case StateFailed:
		return ctlErr(ErrNotRunning, RoleServer, "server already failed; acknowledge to reset")
	}

	// A manual stop always wins over the monitor's accumulation.
	act.cancelRun()
	return c.stopServerLocked(act, ManualPlan(force))
}

// StopTunnel stops the tunnel client.
func (c *Controller) StopTunnel() error { return c.stopAux(RoleTunnel) }

// StopProxy stops the reverse proxy.
func (c *Controller) StopProxy() error { return c.stopAux(RoleProxy) }

func (c *Controller) stopAux(role Role) error {
	rs := c.roles[role]
	if !rs.op.TryLock() {
		return ctlErr(ErrBusy, role, "another control operation is in flight")
	}
	defer rs.op.Unlock()

	switch c.state(role) {
	case StateStopped, StateInactive, StateFailed:
		return ctlErr(ErrNotRunning, role, "%s is not running", role)
	}
	return c.stopAuxLocked(role)
}

// RestartServer stops the server (escalating if needed, so a wedged server
// cannot block its own restart) and starts it again. Both phases run under
// the same guards, so no other control operation or profile swap can slip
// in between the stop and the start.
func (c *Controller) RestartServer() error {
	act := c.activeCtx()
	if act == nil {
		return ctlErr(ErrNotRunning, RoleServer, "no active profile")
	}
	if !c.seqMu.TryLock() {
		return ctlErr(ErrBusy, RoleServer, "shutdown sequence in progress")
	}
	defer c.seqMu.Unlock()
	rs := c.roles[RoleServer]
	if !rs.op.TryLock() {
		return ctlErr(ErrBusy, RoleServer, "another control operation is in flight")
	}
	defer rs.op.Unlock()

	switch c.state(RoleServer) {
	case StateStopped, StateInactive:
		// Nothing to stop; plain start.
	case StateFailed:
		return ctlErr(ErrNotRunning, RoleServer, "server failed; acknowledge to reset")
	default:
		act.cancelRun()
		if err := c.stopServerLocked(act, restartPlan()); err != nil {
			return err
		}
	}
	return c.startRoleLocked(act, RoleServer, c.serverSpec(act.profile), true)
}

// SendCommand forwards a console command to the running server over its
// control channel and returns the response.
func (c *Controller) SendCommand(command string) (string, error) {
	act := c.activeCtx()
	if act == nil {
		return "", ctlErr(ErrNotRunning, RoleServer, "no active profile")
	}
	if c.state(RoleServer) != StateRunning {
		return "", ctlErr(ErrNotRunning, RoleServer, "server is not running")
	}
	out, err := act.console.Run(command)
	if err != nil {
		return "", err
	}
	c.bus.Publish(events.Event{
		Kind:    events.KindCommand,
		Profile: act.profile.Name,
		Role:    string(RoleServer),
		Message: command,
	})
	return out, nil
}

// Acknowledge clears a Failed role back to Stopped after operator review.
func (c *Controller) Acknowledge(role Role) error {
	rs, ok := c.roles[role]
	if !ok {
		return ctlErr(ErrNotRunning, role, "unknown role")
	}
	if !rs.op.TryLock() {
		return ctlErr(ErrBusy, role, "another control operation is in flight")
	}
	defer rs.op.Unlock()

	if c.state(role) != StateFailed {
		return ctlErr(ErrNotRunning, role, "%s is not in a failed state", role)
	}
	c.mu.Lock()
	rs.handle = nil
	c.mu.Unlock()
	c.setState(role, StateStopped, "failure acknowledged")
	return nil
}

// ActivateProfile makes the named profile the active one. If another
// profile is active, its processes are fully torn down first. The new
// profile is left with all roles Stopped; callers start it separately.
func (c *Controller) ActivateProfile(ctx context.Context, name string, forceRestart bool) error {
	if c.opts.Store == nil {
		return ctlErr(ErrNotRunning, "", "no profile store configured")
	}
	c.actMu.Lock()
	defer c.actMu.Unlock()

	current := c.activeCtx()
	if current != nil && current.profile.Name == name && !forceRestart {
		return ctlErr(ErrAlreadyActive, "", "profile %q is already active", name)
	}

	p, err := c.opts.Store.Get(ctx, name)
	if err != nil {
		return err
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}

	if current != nil {
		c.logger.Info("deactivating profile", "profile", current.profile.Name)
		if err := c.runSequence(deactivationPlan(), true); err != nil {
			return ctlErr(ErrFatal, "", "teardown of %q failed: %v", current.profile.Name, err)
		}
		current.cancelRun()
	}

	act := &activeContext{
		profile: p,
		console: c.opts.NewConsole(p),
	}
	c.mu.Lock()
	c.active = act
	for _, rs := range c.roles {
		rs.state = StateStopped
		rs.handle = nil
	}
	c.mu.Unlock()

	if err := c.opts.Store.SetActive(ctx, name); err != nil {
		c.logger.Warn("persisting active profile failed", "error", err)
	}
	c.conso.Clear()
	c.conso.SetProfile(p.Name)
	c.logger.Info("profile activated", "profile", p.Name)
	c.bus.Publish(events.Event{
		Kind:    events.KindProfileActivated,
		Profile: p.Name,
		Message: "profile activated",
	})
	return nil
}

// Shutdown tears down all running processes. Used on panel exit.
func (c *Controller) Shutdown() error {
	act := c.activeCtx()
	if act == nil {
		return nil
	}
	act.cancelRun()
	return c.runSequence(deactivationPlan(), true)
}

// Status reports the state of all roles plus the monitor snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	act := c.active
	roles := make([]RoleStatus, 0, len(Roles))
	for _, r := range Roles {
		rs := c.roles[r]
		st := RoleStatus{Role: r, State: rs.state}
		if rs.handle != nil && (rs.state == StateRunning || rs.state == StateStarting || rs.state == StateStopping) {
			st.PID = rs.handle.PID()
			started := rs.handle.StartedAt()
			st.StartedAt = &started
			st.UptimeSec = int64(time.Since(started).Seconds())
		}
		roles = append(roles, st)
	}
	c.mu.Unlock()

	s := Status{Roles: roles}
	if act != nil {
		s.Profile = act.profile.Name
		act.runMu.Lock()
		mon := act.mon
		act.runMu.Unlock()
		if mon != nil {
			snap := mon.Snapshot()
			s.Monitor = &snap
		}
	}
	return s
}

// Status is the externally visible snapshot of the controller.
type Status struct {
	Profile string            `json:"profile,omitempty"`
	Roles   []RoleStatus      `json:"roles"`
	Monitor *monitor.Snapshot `json:"monitor,omitempty"`
}

func (c *Controller) roleLogConfig() logger.FileConfig {
	if c.opts.LogDir == "" {
		return logger.FileConfig{}
	}
	return logger.FileConfig{Dir: c.opts.LogDir}
}
