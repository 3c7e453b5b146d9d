// Package fsm implements a small, strict state machine used to guard
// environment lifecycle transitions.
package fsm

import (
	"fmt"
	"sync"
)

// Edge describes a single allowed transition.
type Edge[S ~string] struct {
	From S
	To   S
}

// Machine tracks a current state and rejects transitions that are not part of
// its edge table. Unknown transitions are errors, not no-ops.
type Machine[S ~string] struct {
	mu      sync.Mutex
	state   S
	allowed map[string]struct{}
}

func New[S ~string](initial S, edges []Edge[S]) *Machine[S] {
	allowed := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		allowed[key(e.From, e.To)] = struct{}{}
	}
	return &Machine[S]{state: initial, allowed: allowed}
}

func (m *Machine[S]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// To attempts to move to the next state, failing if the edge is not allowed.
func (m *Machine[S]) To(next S) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.allowed[key(m.state, next)]; !ok {
		return fmt.Errorf("invalid transition: %s -> %s", m.state, next)
	}
	m.state = next
	return nil
}

// Force moves to the next state unconditionally. Reserved for failure paths
// where the machine must record a terminal state regardless of its edges.
func (m *Machine[S]) Force(next S) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = next
}

// CompareAndTo moves to next only when the current state is from. It reports
// whether the swap happened; a false return means another transition won.
func (m *Machine[S]) CompareAndTo(from, next S) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return false
	}
	if _, ok := m.allowed[key(from, next)]; !ok {
		return false
	}
	m.state = next
	return true
}

func key[S ~string](from, to S) string {
	return string(from) + "|" + string(to)
}
