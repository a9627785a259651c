package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cubeward/cubeward/internal/query"
)

// scriptProber replays a fixed sequence of samples, then repeats the last.
type scriptProber struct {
	mu      sync.Mutex
	samples []query.Sample
	calls   int
	onCall  func(n int)
}

func (p *scriptProber) Sample() query.Sample {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	if p.onCall != nil {
		p.onCall(p.calls)
	}
	if idx >= len(p.samples) {
		idx = len(p.samples) - 1
	}
	s := p.samples[idx]
	p.mu.Unlock()
	s.At = time.Now()
	return s
}

func (p *scriptProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func idle() query.Sample         { return query.Sample{Reachable: true} }
func players(n int) query.Sample { return query.Sample{Reachable: true, PlayerCount: n} }
func unreachable() query.Sample  { return query.Sample{Err: "connection refused"} }

func repeat(s query.Sample, n int) []query.Sample {
	out := make([]query.Sample, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func runMonitor(t *testing.T, cfg Config, p query.Prober) (triggered *atomic.Int32, faulted *atomic.Int32, done chan struct{}, cancel context.CancelFunc) {
	t.Helper()
	triggered = &atomic.Int32{}
	faulted = &atomic.Int32{}
	done = make(chan struct{})
	ctx, cancelFn := context.WithCancel(context.Background())
	m := New(cfg, p, nil,
		func() { triggered.Add(1) },
		func(int) { faulted.Add(1) },
	)
	go func() {
		m.Run(ctx)
		close(done)
	}()
	return triggered, faulted, done, cancelFn
}

func TestTriggersAtExactTick(t *testing.T) {
	// limit = 2 * interval: the second idle tick reaches the limit.
	p := &scriptProber{samples: []query.Sample{idle()}}
	cfg := Config{Profile: "p", PollInterval: 20 * time.Millisecond, Limit: 40 * time.Millisecond}
	triggered, faulted, done, cancel := runMonitor(t, cfg, p)
	defer cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not trigger")
	}
	if got := triggered.Load(); got != 1 {
		t.Fatalf("expected exactly one trigger, got %d", got)
	}
	if faulted.Load() != 0 {
		t.Fatal("unexpected probe fault")
	}
	if calls := p.callCount(); calls != 2 {
		t.Fatalf("expected trigger after exactly 2 ticks, got %d", calls)
	}
}

func TestPlayersResetAccumulation(t *testing.T) {
	// idle, idle, players, then idle forever. Limit is 3 intervals, so the
	// trigger must land on the 6th sample, not the 3rd.
	samples := []query.Sample{idle(), idle(), players(3), idle(), idle(), idle()}
	p := &scriptProber{samples: samples}
	cfg := Config{Profile: "p", PollInterval: 15 * time.Millisecond, Limit: 45 * time.Millisecond}
	triggered, _, done, cancel := runMonitor(t, cfg, p)
	defer cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not trigger")
	}
	if triggered.Load() != 1 {
		t.Fatal("expected trigger")
	}
	if calls := p.callCount(); calls != 6 {
		t.Fatalf("expected trigger on 6th tick after player reset, got %d", calls)
	}
}

func TestThreeFaultsSuspendWithSingleEvent(t *testing.T) {
	p := &scriptProber{samples: repeat(unreachable(), 10)}
	cfg := Config{Profile: "p", PollInterval: 10 * time.Millisecond, Limit: time.Hour}
	triggered, faulted, done, cancel := runMonitor(t, cfg, p)
	defer cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not suspend")
	}
	if got := faulted.Load(); got != 1 {
		t.Fatalf("expected exactly one fault event, got %d", got)
	}
	if triggered.Load() != 0 {
		t.Fatal("fault must not trigger a shutdown")
	}
	if calls := p.callCount(); calls != DefaultMaxProbeFaults {
		t.Fatalf("expected suspension after %d ticks, got %d", DefaultMaxProbeFaults, calls)
	}
}

func TestShortFaultStreakResetsWindow(t *testing.T) {
	// Two faults then recovery: no fault event, and the idle window starts
	// over, so the trigger lands 2 intervals after recovery.
	samples := []query.Sample{idle(), unreachable(), unreachable(), idle(), idle()}
	p := &scriptProber{samples: samples}
	cfg := Config{Profile: "p", PollInterval: 15 * time.Millisecond, Limit: 30 * time.Millisecond}
	triggered, faulted, done, cancel := runMonitor(t, cfg, p)
	defer cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not trigger")
	}
	if faulted.Load() != 0 {
		t.Fatal("short fault streak must not emit a fault event")
	}
	if triggered.Load() != 1 {
		t.Fatal("expected trigger after recovery")
	}
	if calls := p.callCount(); calls != 5 {
		t.Fatalf("expected trigger on 5th tick, got %d", calls)
	}
}

func TestCancellationWinsOverFinalTick(t *testing.T) {
	// The probe cancels the context during the tick that would trigger; the
	// monitor must exit without firing.
	var cancelFn context.CancelFunc
	p := &scriptProber{samples: []query.Sample{idle()}}
	p.onCall = func(n int) {
		if n == 1 {
			cancelFn()
		}
	}
	triggered := &atomic.Int32{}
	ctx, cancel := context.WithCancel(context.Background())
	cancelFn = cancel
	defer cancel()

	m := New(Config{Profile: "p", PollInterval: 10 * time.Millisecond, Limit: 10 * time.Millisecond},
		p, nil, func() { triggered.Add(1) }, nil)

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not exit on cancellation")
	}
	if triggered.Load() != 0 {
		t.Fatal("cancellation racing the final tick must win")
	}
}

func TestSnapshotReflectsWindow(t *testing.T) {
	m := New(Config{Profile: "p", PollInterval: 10 * time.Millisecond, Limit: time.Hour}, nil, nil, nil, nil)
	m.observe(idle())
	m.observe(idle())
	snap := m.Snapshot()
	if snap.IdleFor != 20*time.Millisecond {
		t.Fatalf("expected 20ms idle, got %s", snap.IdleFor)
	}
	m.observe(players(2))
	snap = m.Snapshot()
	if snap.IdleFor != 0 {
		t.Fatalf("expected reset idle, got %s", snap.IdleFor)
	}
	if snap.LastSample.PlayerCount != 2 {
		t.Fatalf("expected last sample retained, got %+v", snap.LastSample)
	}
}
