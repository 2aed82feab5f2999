package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type journal struct{ events []string }

func (j *journal) node(name string, deps ...string) Node {
	return Node{
		Name: name,
		Deps: deps,
		Start: func(context.Context) error {
			j.events = append(j.events, "start "+name)
			return nil
		},
		Stop: func() error {
			j.events = append(j.events, "stop "+name)
			return nil
		},
	}
}

func TestStartRespectsDepsAndStopsInReverse(t *testing.T) {
	t.Parallel()
	j := &journal{}
	m := New(context.Background())
	require.NoError(t, m.Register(j.node("cli", "dedup")))
	require.NoError(t, m.Register(j.node("dedup")))
	require.NoError(t, m.Register(j.node("sweeper")))

	require.NoError(t, m.StartAll())
	require.NoError(t, m.Shutdown())
	require.NoError(t, m.Shutdown())

	assert.Equal(t, []string{
		"start dedup", "start cli", "start sweeper",
		"stop sweeper", "stop cli", "stop dedup",
	}, j.events)
	for _, st := range m.States() {
		assert.Equal(t, StateStopped, st.State, st.Name)
	}
}

func TestNodeContextCancelledBeforeStop(t *testing.T) {
	t.Parallel()
	var nodeCtx context.Context
	m := New(context.Background())
	require.NoError(t, m.Register(Node{
		Name:  "worker",
		Start: func(ctx context.Context) error { nodeCtx = ctx; return nil },
		Stop: func() error {
			assert.Error(t, nodeCtx.Err())
			return nil
		},
	}))
	require.NoError(t, m.StartAll())
	assert.NoError(t, nodeCtx.Err())
	require.NoError(t, m.Shutdown())
}

func TestStartFailureRollsBack(t *testing.T) {
	t.Parallel()
	j := &journal{}
	boom := errors.New("boom")
	m := New(context.Background())
	require.NoError(t, m.Register(j.node("store")))
	require.NoError(t, m.Register(Node{Name: "broken", Start: func(context.Context) error { return boom }}))
	require.NoError(t, m.Register(j.node("never")))

	err := m.StartAll()
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start store", "stop store"}, j.events)

	states := m.States()
	assert.Equal(t, StateFailed, states[1].State)
	assert.Equal(t, StateRegistered, states[2].State)
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	m := New(nil)
	assert.Error(t, m.Register(Node{}))
	assert.Error(t, m.Register(Node{Name: "a", Deps: []string{"a"}}))
	require.NoError(t, m.Register(Node{Name: "a"}))
	assert.Error(t, m.Register(Node{Name: "a"}))

	require.NoError(t, m.Register(Node{Name: "x", Deps: []string{"y"}}))
	require.NoError(t, m.Register(Node{Name: "y", Deps: []string{"x"}}))
	assert.ErrorContains(t, m.StartAll(), "cycle")

	m2 := New(context.Background())
	require.NoError(t, m2.Register(Node{Name: "orphan", Deps: []string{"missing"}}))
	assert.ErrorContains(t, m2.StartAll(), "unknown node")
}
