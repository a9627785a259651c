package lifecycle

import (
	"github.com/cubeward/cubeward/internal/events"
	"github.com/cubeward/cubeward/internal/history"
	"github.com/cubeward/cubeward/internal/metrics"
	"github.com/cubeward/cubeward/internal/profile"
)

// Trigger identifies what initiated a shutdown.
type Trigger string

const (
	TriggerManual     Trigger = "manual"
	TriggerInactivity Trigger = "inactivity"
	TriggerForced     Trigger = "forced"
)

// Plan captures a shutdown request at the moment it is made. It is consumed
// exactly once by the teardown sequence and not retained.
type Plan struct {
	Trigger     Trigger
	Graceful    bool // try protocol stop + terminate signal first
	Escalate    bool // kill when the graceful window expires
	SleepHost   bool
	ShutdownApp bool
}

// ManualPlan is an operator stop of the server only. The non-forced variant
// never escalates; a timeout is surfaced to the caller instead, since only
// the explicit force-stop operation may kill outright.
func ManualPlan(force bool) Plan {
	if force {
		return Plan{Trigger: TriggerForced, Graceful: false, Escalate: true}
	}
	return Plan{Trigger: TriggerManual, Graceful: true, Escalate: false}
}

// InactivityPlan is the monitor's handoff. It always escalates so the host
// can actually sleep, and carries the profile's post-shutdown actions.
func InactivityPlan(p profile.Profile) Plan {
	return Plan{
		Trigger:     TriggerInactivity,
		Graceful:    true,
		Escalate:    true,
		SleepHost:   p.SleepAfterInactivity,
		ShutdownApp: p.ExitAppAfterInactivity,
	}
}

// deactivationPlan tears everything down before a profile swap or panel
// exit. Graceful but escalating, so a wedged server cannot block the swap.
func deactivationPlan() Plan {
	return Plan{Trigger: TriggerManual, Graceful: true, Escalate: true}
}

// restartPlan stops the server ahead of an immediate restart. Same policy
// as deactivation.
func restartPlan() Plan {
	return Plan{Trigger: TriggerManual, Graceful: true, Escalate: true}
}

// runSequence tears down all roles in fixed order (server, tunnel, proxy)
// and then performs the plan's power actions. block selects whether to wait
// for an in-flight sequence or abort; the monitor's handoff aborts so a
// concurrent manual operation wins.
//
// Failures are recorded but never halt later steps. The sequence succeeds
// only if the server role reached a stopped state; power actions run only
// on success, never over a still-running or unverifiable server.
func (c *Controller) runSequence(plan Plan, block bool) error {
	if block {
		c.seqMu.Lock()
	} else if !c.seqMu.TryLock() {
		c.logger.Info("shutdown sequence already in flight, skipping",
			"trigger", plan.Trigger)
		return nil
	}
	defer c.seqMu.Unlock()

	act := c.activeCtx()
	if act == nil {
		return nil
	}

	var serverErr error
	if rs := c.roles[RoleServer]; rs.op.TryLock() {
		switch c.state(RoleServer) {
		case StateStopped, StateInactive, StateFailed:
			// Nothing to stop.
		default:
			act.cancelRun()
			serverErr = c.stopServerLocked(act, plan)
		}
		rs.op.Unlock()
	} else {
		serverErr = ctlErr(ErrBusy, RoleServer, "server busy during teardown")
	}

	// Tunnel before proxy: the proxy may still be fronting panel traffic
	// while the tunnel is coming down.
	for _, role := range []Role{RoleTunnel, RoleProxy} {
		rs := c.roles[role]
		if !rs.op.TryLock() {
			c.logger.Warn("role busy during teardown, skipping", "role", role)
			continue
		}
		switch c.state(role) {
		case StateStopped, StateInactive, StateFailed:
		default:
			if err := c.stopAuxLocked(role); err != nil {
				c.logger.Error("helper teardown failed", "role", role, "error", err)
			}
		}
		rs.op.Unlock()
	}

	if serverErr != nil {
		return serverErr
	}
	c.powerActions(plan)
	return nil
}

// stopServerLocked performs the server phase of a teardown. The caller must
// hold both seqMu and the server role's op lock, with the monitor already
// canceled.
func (c *Controller) stopServerLocked(act *activeContext, plan Plan) error {
	c.mu.Lock()
	h := c.roles[RoleServer].handle
	c.mu.Unlock()

	finalState := StateStopped
	if plan.Trigger == TriggerInactivity {
		finalState = StateInactive
	}

	if h == nil || !h.Alive() {
		c.releaseHandle(RoleServer)
		c.setState(RoleServer, finalState, "server already exited")
		return nil
	}
	pid := h.PID()
	prev := c.state(RoleServer)
	c.setState(RoleServer, StateStopping, string(plan.Trigger)+" stop")
	c.step(act, "server stop requested")

	exited := false
	if plan.Graceful {
		if _, err := act.console.Run(gracefulStopCommand); err != nil {
			// No control channel; the terminate signal below still applies.
			c.logger.Warn("graceful stop command failed, falling back to signal",
				"error", err)
		}
		exited = h.RequestExit(c.opts.GracefulTimeout)
	}

	if !exited {
		if !plan.Escalate {
			// Restore the pre-stop state: a server that was still Starting
			// must not be reported Running just because a stop timed out.
			c.setState(RoleServer, prev, "graceful stop timed out")
			c.step(act, "server did not exit in time")
			return ctlErr(ErrTimeout, RoleServer,
				"server did not exit within %s", c.opts.GracefulTimeout)
		}
		if plan.Graceful {
			c.logger.Warn("graceful stop timed out, escalating to kill",
				"pid", pid, "timeout", c.opts.GracefulTimeout)
			metrics.IncStopEscalation(string(RoleServer))
		}
		if err := h.ForceKill(); err != nil {
			c.setState(RoleServer, StateFailed, "kill failed")
			c.step(act, "server kill failed")
			c.record(history.EventFailed, RoleServer, pid, err.Error())
			return ctlErr(ErrFatal, RoleServer, "force kill failed: %v", err)
		}
	}

	c.releaseHandle(RoleServer)
	c.setState(RoleServer, finalState, string(plan.Trigger)+" stop complete")
	c.step(act, "server stopped")
	metrics.IncStop(string(RoleServer))
	if plan.Trigger == TriggerInactivity {
		c.record(history.EventInactivityShutdown, RoleServer, pid, "")
	} else {
		c.record(history.EventStop, RoleServer, pid, string(plan.Trigger))
	}
	return nil
}

// stopAuxLocked stops a tunnel/proxy role. Helpers get a short exit window
// and are always safe to hard-kill. Caller holds the role's op lock.
func (c *Controller) stopAuxLocked(role Role) error {
	c.mu.Lock()
	h := c.roles[role].handle
	act := c.active
	c.mu.Unlock()

	if h == nil || !h.Alive() {
		c.releaseHandle(role)
		c.setState(role, StateStopped, "already exited")
		return nil
	}
	pid := h.PID()
	c.setState(role, StateStopping, "stop requested")
	c.step(act, string(role)+" stop requested")

	if !h.RequestExit(c.opts.AuxTimeout) {
		metrics.IncStopEscalation(string(role))
		if err := h.ForceKill(); err != nil {
			c.setState(role, StateFailed, "kill failed")
			c.record(history.EventFailed, role, pid, err.Error())
			return ctlErr(ErrFatal, role, "force kill failed: %v", err)
		}
	}
	c.releaseHandle(role)
	c.setState(role, StateStopped, "stop complete")
	c.step(act, string(role)+" stopped")
	metrics.IncStop(string(role))
	c.record(history.EventStop, role, pid, "")
	return nil
}

// powerActions carries out the plan's post-teardown host actions.
func (c *Controller) powerActions(plan Plan) {
	if plan.SleepHost {
		c.step(c.activeCtx(), "suspending host")
		if err := c.opts.Sleeper.Sleep(); err != nil {
			c.logger.Error("host suspend failed", "error", err)
		}
	}
	if plan.ShutdownApp {
		c.step(c.activeCtx(), "exiting panel")
		c.opts.Exiter.Exit(0)
	}
}

// releaseHandle drops the role's process handle after a confirmed exit.
func (c *Controller) releaseHandle(role Role) {
	c.mu.Lock()
	rs := c.roles[role]
	rs.handle = nil
	rs.gen++ // invalidate any pending exit callback
	c.mu.Unlock()
}

// step publishes one shutdown progress event for teardown-order observers.
func (c *Controller) step(act *activeContext, msg string) {
	profileName := ""
	if act != nil {
		profileName = act.profile.Name
	}
	c.bus.Publish(events.Event{
		Kind:    events.KindShutdownStep,
		Profile: profileName,
		Message: msg,
	})
}
