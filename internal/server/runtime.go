// Package server holds the process-wide runtime (loaded agent, loop
// controller, connections) and the HTTP control surface on top of it.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentfi/agentfi-social-agent/internal/actions"
	"github.com/agentfi/agentfi-social-agent/internal/agent"
	"github.com/agentfi/agentfi-social-agent/internal/connection"
	"github.com/agentfi/agentfi-social-agent/internal/engine"
)

// StateLoader restores persisted agent state.
type StateLoader interface {
	LoadState(ctx context.Context, agentName string) (agent.Snapshot, bool, error)
}

// Runtime is the server state: at most one loaded agent driven by one loop
// controller.
type Runtime struct {
	catalog agent.Catalog
	conns   *connection.Manager
	svc     *actions.Service
	ctrl    *engine.Controller
	states  StateLoader

	loadMu sync.Mutex // serializes Load

	mu      sync.RWMutex
	current *agent.Agent
}

// NewRuntime creates a runtime with no agent loaded. states may be nil.
func NewRuntime(catalog agent.Catalog, conns *connection.Manager, svc *actions.Service, ctrl *engine.Controller, states StateLoader) *Runtime {
	return &Runtime{
		catalog: catalog,
		conns:   conns,
		svc:     svc,
		ctrl:    ctrl,
		states:  states,
	}
}

// Load makes the named definition the active agent. A running loop is
// stopped first and not restarted.
func (rt *Runtime) Load(ctx context.Context, name string) (*agent.Agent, error) {
	rt.loadMu.Lock()
	defer rt.loadMu.Unlock()

	def, err := rt.catalog.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	a, err := agent.New(def)
	if err != nil {
		return nil, err
	}
	loop, err := actions.NewLoop(rt.svc, a)
	if err != nil {
		return nil, err
	}

	if err := rt.ctrl.Stop(); err != nil {
		return nil, fmt.Errorf("server: stop previous agent: %w", err)
	}

	rt.configureConnections(ctx, a)
	rt.restoreState(ctx, a)

	rt.mu.Lock()
	rt.current = a
	rt.mu.Unlock()
	rt.ctrl.Attach(a.Name(), loop)

	slog.Info("server: agent loaded", slog.String("agent", a.Name()))
	return a, nil
}

// configureConnections applies the definition's connection params. A
// connection that rejects them stays as it was.
func (rt *Runtime) configureConnections(ctx context.Context, a *agent.Agent) {
	for name, params := range a.Definition().Connections {
		ok, err := rt.conns.Configure(ctx, name, params)
		switch {
		case err != nil:
			slog.Warn("server: configure connection failed",
				slog.String("agent", a.Name()),
				slog.String("connection", name),
				slog.String("error", err.Error()),
			)
		case !ok:
			slog.Warn("server: connection not configured by agent params",
				slog.String("agent", a.Name()),
				slog.String("connection", name),
			)
		}
	}
}

func (rt *Runtime) restoreState(ctx context.Context, a *agent.Agent) {
	if rt.states == nil {
		return
	}
	snap, ok, err := rt.states.LoadState(ctx, a.Name())
	if err != nil {
		slog.Warn("server: restore state failed", slog.String("agent", a.Name()), slog.String("error", err.Error()))
		return
	}
	if ok {
		a.State().Restore(snap)
	}
}

// Agent returns the loaded agent or engine.ErrNoAgentLoaded.
func (rt *Runtime) Agent() (*agent.Agent, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.current == nil {
		return nil, engine.ErrNoAgentLoaded
	}
	return rt.current, nil
}

// Start starts the loop of the loaded agent. It waits for an in-progress
// Load so the loop never starts on the agent being replaced.
func (rt *Runtime) Start() error {
	rt.loadMu.Lock()
	defer rt.loadMu.Unlock()
	return rt.ctrl.Start()
}

// Stop stops the loop; it is a no-op when nothing runs.
func (rt *Runtime) Stop() error { return rt.ctrl.Stop() }

// Status is the body of GET /.
type Status struct {
	Status       string  `json:"status"`
	Agent        *string `json:"agent"`
	AgentRunning bool    `json:"agent_running"`
	LoopState    string  `json:"loop_state"`
}

func (rt *Runtime) Status() Status {
	st := Status{Status: "running", LoopState: rt.ctrl.State().String()}
	st.AgentRunning = rt.ctrl.Running()
	if a, err := rt.Agent(); err == nil {
		name := a.Name()
		st.Agent = &name
	}
	return st
}

// Connections exposes the connection registry.
func (rt *Runtime) Connections() *connection.Manager { return rt.conns }

// Actions exposes the composite action service.
func (rt *Runtime) Actions() *actions.Service { return rt.svc }
