package registry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tuhis/go-sacn/internal/sacnerr"
)

func TestAddOrRefSameCIDSharesHandle(t *testing.T) {
	r := New()
	cid := uuid.New()

	h1, err := r.AddOrRef(cid)
	require.NoError(t, err)
	h2, err := r.AddOrRef(cid)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, r.Len())
}

func TestReleaseFreesHandleOnlyWhenRefcountZero(t *testing.T) {
	r := New()
	cid := uuid.New()

	h, err := r.AddOrRef(cid)
	require.NoError(t, err)
	_, err = r.AddOrRef(cid)
	require.NoError(t, err)

	require.NoError(t, r.Release(h))
	_, ok := r.CIDForHandle(h)
	assert.True(t, ok, "handle should still be live after one release of two refs")

	require.NoError(t, r.Release(h))
	_, ok = r.CIDForHandle(h)
	assert.False(t, ok, "handle should be freed once refcount reaches zero")
}

func TestHandleUniqueness(t *testing.T) {
	r := New()
	seen := map[Handle]uuid.UUID{}

	for i := 0; i < 1000; i++ {
		cid := uuid.New()
		h, err := r.AddOrRef(cid)
		require.NoError(t, err)

		if existing, ok := seen[h]; ok {
			t.Fatalf("handle %d reused for a different live CID: had %s, now %s", h, existing, cid)
		}
		seen[h] = cid
	}
	assert.Equal(t, 1000, r.Len())
}

func TestCIDForHandleAndHandleForCIDAgree(t *testing.T) {
	r := New()
	cid := uuid.New()

	h, err := r.AddOrRef(cid)
	require.NoError(t, err)

	gotCID, ok := r.CIDForHandle(h)
	require.True(t, ok)
	assert.Equal(t, cid, gotCID)

	gotHandle, ok := r.HandleForCID(cid)
	require.True(t, ok)
	assert.Equal(t, h, gotHandle)
}

func TestReleaseUnknownHandle(t *testing.T) {
	r := New()
	err := r.Release(Handle(42))
	assert.Error(t, err)
}

func TestHandlesNotReusedWhileReferenced(t *testing.T) {
	r := New()
	var cids []uuid.UUID
	var handles []Handle

	for i := 0; i < 200; i++ {
		cid := uuid.New()
		h, err := r.AddOrRef(cid)
		require.NoError(t, err)
		cids = append(cids, cid)
		handles = append(handles, h)
	}

	// Release every other handle; the freed ones may be reused, the
	// retained ones must never be handed out again.
	retained := map[Handle]bool{}
	for i, h := range handles {
		if i%2 == 0 {
			require.NoError(t, r.Release(h))
		} else {
			retained[h] = true
		}
	}

	for i := 0; i < 200; i++ {
		h, err := r.AddOrRef(uuid.New())
		require.NoError(t, err)
		assert.False(t, retained[h], "newly allocated handle %d collides with a still-referenced handle", h)
	}
}

func TestNewStatic_BoundsLiveHandleCount(t *testing.T) {
	r := NewStatic(2)

	_, err := r.AddOrRef(uuid.New())
	require.NoError(t, err)
	_, err = r.AddOrRef(uuid.New())
	require.NoError(t, err)

	_, err = r.AddOrRef(uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, sacnerr.ErrNoMem)
}

func TestNewStatic_ReleaseFreesCapacityForReuse(t *testing.T) {
	r := NewStatic(1)

	h, err := r.AddOrRef(uuid.New())
	require.NoError(t, err)
	require.NoError(t, r.Release(h))

	_, err = r.AddOrRef(uuid.New())
	require.NoError(t, err, "capacity should be reusable after Release")
}

func TestNewStatic_SameCIDDoesNotConsumeExtraCapacity(t *testing.T) {
	r := NewStatic(1)
	cid := uuid.New()

	_, err := r.AddOrRef(cid)
	require.NoError(t, err)
	_, err = r.AddOrRef(cid)
	require.NoError(t, err, "re-referencing the same CID must not count against capacity")
}
