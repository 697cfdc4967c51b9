// Package engine provides the agent loop controller: it owns the single
// background worker of the loaded agent and makes start and stop
// deterministic and bounded in time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default timings.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultErrorBackoff = 30 * time.Second
	DefaultStopTimeout  = 5 * time.Second
)

// Errors returned by the controller.
var (
	ErrNoAgentLoaded  = errors.New("engine: no agent loaded")
	ErrAlreadyRunning = errors.New("engine: agent loop already running")
)

// State is the lifecycle state of the controller.
type State int

const (
	Idle State = iota
	Running
	StopPending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case StopPending:
		return "stop_pending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// WorkUnit is one iteration of agent work.
type WorkUnit interface {
	RunOnce(ctx context.Context) error
}

// WorkFunc adapts a function to WorkUnit.
type WorkFunc func(ctx context.Context) error

func (f WorkFunc) RunOnce(ctx context.Context) error { return f(ctx) }

// Config tunes the worker. Zero values select the defaults.
type Config struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
	StopTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return c
}

// Controller runs at most one worker at a time.
type Controller struct {
	cfg Config

	mu     sync.Mutex
	state  State
	unit   WorkUnit
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	// stopped is closed when the controller returns to Idle.
	stopped chan struct{}
	// gen identifies the current worker. A worker abandoned by a timed out
	// stop only touches controller fields while gen still matches.
	gen uint64
}

// NewController creates an idle controller with no agent attached.
func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg.withDefaults()}
}

// Attach sets the work unit run by the next Start. name labels log lines.
// It does not affect a worker that is already running.
func (c *Controller) Attach(name string, unit WorkUnit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name, c.unit = name, unit
}

// Detach removes the work unit.
func (c *Controller) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name, c.unit = "", nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Running reports whether a worker is active.
func (c *Controller) Running() bool { return c.State() == Running }

// Start spawns the worker. It fails with ErrAlreadyRunning unless the
// controller is idle, and with ErrNoAgentLoaded when nothing is attached.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle {
		return ErrAlreadyRunning
	}
	if c.unit == nil {
		return ErrNoAgentLoaded
	}

	c.gen++
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.state = Running
	c.cancel = cancel
	c.done = done
	c.stopped = make(chan struct{})

	go c.worker(ctx, c.gen, c.name, c.unit, done)

	slog.Info("engine: worker started", slog.String("agent", c.name))
	return nil
}

// Stop signals the worker and waits for it to exit, at most StopTimeout.
// The controller is Idle when Stop returns, even if the worker had to be
// abandoned. Stop on an idle controller is a no-op. A Stop that arrives
// while another is in progress waits for the controller to become Idle.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.state {
	case Idle:
		c.mu.Unlock()
		return nil
	case StopPending:
		stopped := c.stopped
		c.mu.Unlock()
		c.awaitIdle(stopped)
		return nil
	}
	c.state = StopPending
	gen, cancel, done, name := c.gen, c.cancel, c.done, c.name
	c.mu.Unlock()

	cancel()

	timer := time.NewTimer(c.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		slog.Info("engine: worker stopped", slog.String("agent", name))
	case <-timer.C:
		slog.Warn("engine: worker did not stop in time, abandoning it",
			slog.String("agent", name),
			slog.Duration("timeout", c.cfg.StopTimeout),
		)
	}

	c.mu.Lock()
	if c.gen == gen {
		c.clearLocked()
	}
	c.mu.Unlock()
	return nil
}

// awaitIdle waits for the stop in progress to finish. The first stopper
// clears the state within StopTimeout, so the wait is bounded by it too.
func (c *Controller) awaitIdle(stopped chan struct{}) {
	timer := time.NewTimer(c.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-stopped:
	case <-timer.C:
	}
}

func (c *Controller) clearLocked() {
	c.state = Idle
	c.cancel = nil
	c.done = nil
	if c.stopped != nil {
		close(c.stopped)
		c.stopped = nil
	}
}

// worker runs the unit until ctx is cancelled. Naps between iterations
// wake up on cancellation.
func (c *Controller) worker(ctx context.Context, gen uint64, name string, unit WorkUnit, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.gen == gen && c.state != Idle {
			if c.cancel != nil {
				c.cancel()
			}
			c.clearLocked()
		}
		c.mu.Unlock()
		close(done)
	}()

	for ctx.Err() == nil {
		wait := c.cfg.PollInterval
		if err := runSafe(ctx, unit); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("engine: work unit failed, backing off",
				slog.String("agent", name),
				slog.String("error", err.Error()),
				slog.Duration("backoff", c.cfg.ErrorBackoff),
			)
			wait = c.cfg.ErrorBackoff
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

// runSafe converts a panic in the work unit into an error.
func runSafe(ctx context.Context, unit WorkUnit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: work unit panic: %v", r)
		}
	}()
	return unit.RunOnce(ctx)
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
