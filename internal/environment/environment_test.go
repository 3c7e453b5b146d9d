package environment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/footron/footron/internal/experience"
)

func TestLifecycleGuards(t *testing.T) {
	l := newLifecycle()
	require.Equal(t, StateIdle, l.state())

	require.NoError(t, l.beginStart())
	assert.Equal(t, StateStarting, l.state())

	err := l.beginStart()
	var transition *TransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, StateStarting, transition.From)
	assert.Equal(t, StateStarting, transition.To)

	l.finishStart()
	assert.Equal(t, StateRunning, l.state())

	require.NoError(t, l.beginStop())
	l.finishStop()
	assert.Equal(t, StateStopped, l.state())

	// Stopped environments restart.
	require.NoError(t, l.beginStart())
}

func TestLifecycleFailureRecovers(t *testing.T) {
	l := newLifecycle()
	require.NoError(t, l.beginStart())
	l.fail()
	assert.Equal(t, StateFailed, l.state())

	// Failed environments may be restarted or torn down.
	require.NoError(t, l.beginStop())
	l.fail()
	require.NoError(t, l.beginStart())
}

func TestLifecycleStopFromIdleRejected(t *testing.T) {
	l := newLifecycle()
	err := l.beginStop()
	var transition *TransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, StateIdle, transition.From)
}

type stubEnv struct {
	started bool
	stopped bool
	prev    Environment
	next    Environment
}

func (s *stubEnv) Start(_ context.Context, prev Environment) error {
	s.started = true
	s.prev = prev
	return nil
}

func (s *stubEnv) Stop(_ context.Context, next Environment) error {
	s.stopped = true
	s.next = next
	return nil
}

func (s *stubEnv) State(context.Context) State    { return StateRunning }
func (s *stubEnv) Available(context.Context) bool { return true }

func TestHandleBuildsEnvironmentLazily(t *testing.T) {
	built := 0
	env := &stubEnv{}
	handle := NewHandle(&experience.Experience{ID: "x"}, func(*experience.Experience) (Environment, error) {
		built++
		return env, nil
	})

	assert.Equal(t, StateIdle, handle.State(context.Background()), "no environment before first use")
	assert.Equal(t, 0, built)

	require.NoError(t, handle.Start(context.Background(), nil))
	assert.Equal(t, 1, built)
	assert.True(t, env.started)

	require.NoError(t, handle.Start(context.Background(), nil))
	assert.Equal(t, 1, built, "the environment is built once")
}

func TestHandleStartPassesPredecessor(t *testing.T) {
	prevEnv := &stubEnv{}
	nextEnv := &stubEnv{}
	prev := NewHandle(&experience.Experience{ID: "prev"}, func(*experience.Experience) (Environment, error) {
		return prevEnv, nil
	})
	next := NewHandle(&experience.Experience{ID: "next"}, func(*experience.Experience) (Environment, error) {
		return nextEnv, nil
	})

	require.NoError(t, prev.Start(context.Background(), nil))
	require.NoError(t, next.Start(context.Background(), prev))
	assert.Same(t, prevEnv, nextEnv.prev)

	require.NoError(t, prev.Stop(context.Background(), next))
	assert.Same(t, nextEnv, prevEnv.next)
}

func TestHandleStopWithoutEnvironmentIsNoop(t *testing.T) {
	handle := NewHandle(&experience.Experience{ID: "x"}, func(*experience.Experience) (Environment, error) {
		t.Fatal("stop must not build an environment")
		return nil, nil
	})
	require.NoError(t, handle.Stop(context.Background(), nil))
}

func TestHandleFactoryError(t *testing.T) {
	boom := errors.New("no docker daemon")
	handle := NewHandle(&experience.Experience{ID: "x"}, func(*experience.Experience) (Environment, error) {
		return nil, boom
	})
	assert.ErrorIs(t, handle.Start(context.Background(), nil), boom)
	assert.False(t, handle.Available(context.Background()))
}

func TestFactoryUnknownKind(t *testing.T) {
	factory := NewFactory(Deps{})
	_, err := factory(&experience.Experience{ID: "x", Kind: "hologram"})
	assert.Error(t, err)
}
