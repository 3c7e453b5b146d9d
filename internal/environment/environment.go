// Package environment runs experiences: each experience kind maps to an
// environment family that knows how to bring its runtime up and tear it down.
package environment

import (
	"context"
	"fmt"
	"sync"

	"github.com/footron/footron/internal/experience"
	"github.com/footron/footron/internal/fsm"
)

// State is an environment's lifecycle position.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// TransitionError reports a lifecycle call made from a state that does not
// permit it.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("environment can't transition from state %s to %s", e.From, e.To)
}

// Environment is one runnable instance of an experience. Start and Stop
// receive the neighboring environment in a transition so families that share
// external resources (capture) can hand them over instead of tearing down.
type Environment interface {
	Start(ctx context.Context, prev Environment) error
	Stop(ctx context.Context, next Environment) error
	State(ctx context.Context) State
	Available(ctx context.Context) bool
}

// lifecycle is the transition guard shared by every environment family.
// Failures are recorded with fail, which bypasses the edge table.
type lifecycle struct {
	m *fsm.Machine[State]
}

func newLifecycle() *lifecycle {
	return &lifecycle{m: fsm.New(StateIdle, []fsm.Edge[State]{
		{From: StateIdle, To: StateStarting},
		{From: StateStopping, To: StateStarting},
		{From: StateStopped, To: StateStarting},
		{From: StateFailed, To: StateStarting},
		{From: StateStarting, To: StateRunning},
		{From: StateStarting, To: StateStopping},
		{From: StateRunning, To: StateStopping},
		{From: StateFailed, To: StateStopping},
		{From: StateStopping, To: StateStopped},
	})}
}

func (l *lifecycle) state() State { return l.m.State() }

func (l *lifecycle) beginStart() error {
	if from := l.m.State(); l.m.To(StateStarting) != nil {
		return &TransitionError{From: from, To: StateStarting}
	}
	return nil
}

// finishStart marks the environment running unless a stop or failure raced it.
func (l *lifecycle) finishStart() {
	l.m.CompareAndTo(StateStarting, StateRunning)
}

func (l *lifecycle) beginStop() error {
	if from := l.m.State(); l.m.To(StateStopping) != nil {
		return &TransitionError{From: from, To: StateStopping}
	}
	return nil
}

func (l *lifecycle) finishStop() {
	l.m.CompareAndTo(StateStopping, StateStopped)
}

func (l *lifecycle) fail() {
	l.m.Force(StateFailed)
}

// Factory builds the environment for an experience descriptor.
type Factory func(exp *experience.Experience) (Environment, error)

// Handle pairs an experience descriptor with its lazily built environment.
// The controller holds one handle per cataloged experience.
type Handle struct {
	Descriptor *experience.Experience

	factory Factory

	mu  sync.Mutex
	env Environment
}

func NewHandle(exp *experience.Experience, factory Factory) *Handle {
	return &Handle{Descriptor: exp, factory: factory}
}

// Env returns the handle's environment, building it on first use.
func (h *Handle) Env() (Environment, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.env == nil {
		env, err := h.factory(h.Descriptor)
		if err != nil {
			return nil, err
		}
		h.env = env
	}
	return h.env, nil
}

// Start brings the handle's environment up, handing it the outgoing
// environment when the caller knows one.
func (h *Handle) Start(ctx context.Context, prev *Handle) error {
	env, err := h.Env()
	if err != nil {
		return err
	}
	var prevEnv Environment
	if prev != nil {
		prevEnv, _ = prev.Env()
	}
	return env.Start(ctx, prevEnv)
}

// Stop tears the handle's environment down, handing it the incoming
// environment when the caller knows one.
func (h *Handle) Stop(ctx context.Context, next *Handle) error {
	h.mu.Lock()
	env := h.env
	h.mu.Unlock()
	if env == nil {
		return nil
	}
	var nextEnv Environment
	if next != nil {
		nextEnv, _ = next.Env()
	}
	return env.Stop(ctx, nextEnv)
}

// State reports the current lifecycle state, idle when the environment has
// never been built.
func (h *Handle) State(ctx context.Context) State {
	h.mu.Lock()
	env := h.env
	h.mu.Unlock()
	if env == nil {
		return StateIdle
	}
	return env.State(ctx)
}

// Available reports whether the environment could run right now.
func (h *Handle) Available(ctx context.Context) bool {
	env, err := h.Env()
	if err != nil {
		return false
	}
	return env.Available(ctx)
}
