package pool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tuhis/go-sacn/internal/sacnerr"
)

type widget struct {
	ID int
}

func TestStatic_AcquireUpToCapacity(t *testing.T) {
	p := NewStatic[widget](2)

	w1, idx1, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, 1, p.Len())
	w1.ID = 10

	w2, idx2, err := p.Acquire()
	require.NoError(t, err)
	require.NotEqual(t, idx1, idx2)
	w2.ID = 20
	require.Equal(t, 2, p.Len())

	_, _, err = p.Acquire()
	require.Error(t, err)
	require.True(t, errors.Is(err, sacnerr.ErrNoMem))
}

func TestStatic_ReleaseFreesSlotForReuse(t *testing.T) {
	p := NewStatic[widget](1)

	_, idx, err := p.Acquire()
	require.NoError(t, err)

	p.Release(idx)
	require.Equal(t, 0, p.Len())

	_, _, err = p.Acquire()
	require.NoError(t, err, "slot should be reusable after Release")
}

func TestStatic_ReleaseUnheldIndexIsNoop(t *testing.T) {
	p := NewStatic[widget](2)
	p.Release(0) // never acquired
	require.Equal(t, 0, p.Len())

	p.Release(-1)
	p.Release(100)
	require.Equal(t, 0, p.Len())
}

func TestStatic_GetReturnsHeldItem(t *testing.T) {
	p := NewStatic[widget](1)

	w, idx, err := p.Acquire()
	require.NoError(t, err)
	w.ID = 42

	got, ok := p.Get(idx)
	require.True(t, ok)
	require.Equal(t, 42, got.ID)

	p.Release(idx)
	_, ok = p.Get(idx)
	require.False(t, ok, "Get should fail once the slot is released")
}

func TestStatic_ZeroCapacity(t *testing.T) {
	p := NewStatic[widget](0)
	_, _, err := p.Acquire()
	require.Error(t, err)
	require.Equal(t, 0, p.Cap())
}
