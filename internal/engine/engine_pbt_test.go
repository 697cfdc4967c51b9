package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// --- Mock implementations ---

// countingUnit counts iterations and returns the configured error.
type countingUnit struct {
	runs atomic.Int64
	err  error
}

func (u *countingUnit) RunOnce(context.Context) error {
	u.runs.Add(1)
	return u.err
}

// activeUnit tracks how many workers are inside RunOnce at once.
type activeUnit struct {
	active atomic.Int64
	max    atomic.Int64
}

func (u *activeUnit) RunOnce(context.Context) error {
	n := u.active.Add(1)
	for {
		m := u.max.Load()
		if n <= m || u.max.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	u.active.Add(-1)
	return nil
}

func fastConfig() Config {
	return Config{PollInterval: time.Millisecond, ErrorBackoff: time.Hour, StopTimeout: time.Second}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

// Property: any sequence of Start/Stop calls keeps at most one worker active,
// Start fails exactly when the controller is not idle, and Stop always
// leaves it idle.
func TestPropertyAtMostOneWorker(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		unit := &activeUnit{}
		c := NewController(fastConfig())
		c.Attach("agent", unit)
		defer c.Stop()

		ops := rapid.SliceOfN(rapid.SampledFrom([]string{"start", "stop"}), 1, 20).Draw(rt, "ops")
		for _, op := range ops {
			before := c.State()
			switch op {
			case "start":
				err := c.Start()
				if before == Idle && err != nil {
					rt.Fatalf("start from idle failed: %v", err)
				}
				if before != Idle && !errors.Is(err, ErrAlreadyRunning) {
					rt.Fatalf("start from %v: expected ErrAlreadyRunning, got %v", before, err)
				}
				if c.State() != Running {
					rt.Fatalf("after start: state %v", c.State())
				}
			case "stop":
				if err := c.Stop(); err != nil {
					rt.Fatalf("stop: %v", err)
				}
				if c.State() != Idle {
					rt.Fatalf("after stop: state %v", c.State())
				}
			}
		}
		if m := unit.max.Load(); m > 1 {
			rt.Fatalf("%d workers ran concurrently", m)
		}
	})
}

func TestStartTwiceFailsAndStaysRunning(t *testing.T) {
	c := NewController(fastConfig())
	c.Attach("agent", &countingUnit{})
	defer c.Stop()

	if err := c.Start(); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := c.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if c.State() != Running {
		t.Fatalf("state should remain running, got %v", c.State())
	}
}

func TestStartWithoutAgent(t *testing.T) {
	c := NewController(fastConfig())
	if err := c.Start(); !errors.Is(err, ErrNoAgentLoaded) {
		t.Fatalf("expected ErrNoAgentLoaded, got %v", err)
	}
	if c.State() != Idle {
		t.Fatalf("expected idle, got %v", c.State())
	}

	c.Attach("agent", &countingUnit{})
	c.Detach()
	if err := c.Start(); !errors.Is(err, ErrNoAgentLoaded) {
		t.Fatalf("after detach: expected ErrNoAgentLoaded, got %v", err)
	}
}

func TestStopOnIdleIsNoOp(t *testing.T) {
	c := NewController(fastConfig())
	unit := &countingUnit{}
	c.Attach("agent", unit)

	for i := 0; i < 3; i++ {
		if err := c.Stop(); err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
	}
	if c.State() != Idle || c.cancel != nil || c.done != nil || c.gen != 0 {
		t.Fatal("stop on idle must not touch the controller")
	}
	time.Sleep(10 * time.Millisecond)
	if unit.runs.Load() != 0 {
		t.Fatal("stop on idle must not spawn a worker")
	}
}

// blockingUnit ignores cancellation until released.
type blockingUnit struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (u *blockingUnit) RunOnce(context.Context) error {
	u.once.Do(func() { close(u.entered) })
	<-u.release
	return nil
}

// A worker stuck in its work unit is abandoned after the stop timeout; it
// must not disturb a worker started afterwards.
func TestStopIsBoundedWithSlowWorker(t *testing.T) {
	timeout := 50 * time.Millisecond
	c := NewController(Config{PollInterval: time.Millisecond, ErrorBackoff: time.Hour, StopTimeout: timeout})
	slow := &blockingUnit{entered: make(chan struct{}), release: make(chan struct{})}
	c.Attach("agent", slow)

	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	<-slow.entered

	begin := time.Now()
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(begin)
	if elapsed < timeout || elapsed > timeout+time.Second {
		t.Fatalf("stop took %v, expected about %v", elapsed, timeout)
	}
	if c.State() != Idle {
		t.Fatalf("expected idle after bounded stop, got %v", c.State())
	}

	fresh := &countingUnit{}
	c.Attach("agent", fresh)
	if err := c.Start(); err != nil {
		t.Fatalf("restart after abandon: %v", err)
	}
	close(slow.release)
	waitFor(t, func() bool { return fresh.runs.Load() > 2 })
	if c.State() != Running {
		t.Fatalf("abandoned worker exit must not reset the new worker, got %v", c.State())
	}
	c.Stop()
}

// A Stop that overlaps another in-flight Stop returns only once the
// controller is Idle, so an immediate Start succeeds.
func TestConcurrentStopWaitsForIdle(t *testing.T) {
	c := NewController(Config{PollInterval: time.Millisecond, ErrorBackoff: time.Hour, StopTimeout: 100 * time.Millisecond})
	slow := &blockingUnit{entered: make(chan struct{}), release: make(chan struct{})}
	c.Attach("agent", slow)

	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	<-slow.entered

	first := make(chan error, 1)
	go func() { first <- c.Stop() }()
	waitFor(t, func() bool { return c.State() == StopPending })

	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if c.State() != Idle {
		t.Fatalf("expected idle after second stop, got %v", c.State())
	}
	if err := <-first; err != nil {
		t.Fatal(err)
	}

	c.Attach("agent", &countingUnit{})
	if err := c.Start(); err != nil {
		t.Fatalf("start after stop: %v", err)
	}
	close(slow.release)
	c.Stop()
}

// After a failed work unit the worker waits out the backoff, and a stop
// interrupts that wait.
func TestBackoffOnErrorIsInterruptible(t *testing.T) {
	c := NewController(Config{PollInterval: time.Millisecond, ErrorBackoff: time.Hour, StopTimeout: time.Second})
	unit := &countingUnit{err: errors.New("rate limited")}
	c.Attach("agent", unit)

	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return unit.runs.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := unit.runs.Load(); n != 1 {
		t.Fatalf("worker should be backing off, ran %d times", n)
	}

	begin := time.Now()
	c.Stop()
	if time.Since(begin) > 500*time.Millisecond {
		t.Fatal("stop should interrupt the backoff")
	}
	if c.State() != Idle {
		t.Fatalf("expected idle, got %v", c.State())
	}
}

type panickingUnit struct{ runs atomic.Int64 }

func (u *panickingUnit) RunOnce(context.Context) error {
	u.runs.Add(1)
	panic("boom")
}

func TestPanicIsRecoveredAsError(t *testing.T) {
	c := NewController(Config{PollInterval: time.Millisecond, ErrorBackoff: 5 * time.Millisecond, StopTimeout: time.Second})
	unit := &panickingUnit{}
	c.Attach("agent", unit)

	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return unit.runs.Load() >= 2 })
	if c.State() != Running {
		t.Fatalf("panic must not stop the worker, got %v", c.State())
	}
	c.Stop()
}

func TestWorkFuncPollsUntilStopped(t *testing.T) {
	var runs atomic.Int64
	c := NewController(fastConfig())
	c.Attach("agent", WorkFunc(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return runs.Load() >= 3 })
	c.Stop()
	after := runs.Load()
	time.Sleep(10 * time.Millisecond)
	if runs.Load() != after {
		t.Fatal("worker kept running after stop")
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", Running: "running", StopPending: "stop_pending"} {
		if s.String() != want {
			t.Fatalf("%d: got %q", s, s.String())
		}
	}
}
