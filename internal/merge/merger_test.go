package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tuhis/go-sacn/internal/registry"
	"github.com/Tuhis/go-sacn/internal/sacn"
)

const (
	s1 = registry.Handle(1)
	s2 = registry.Handle(2)
)

func TestHTPMergeWithPAPOverride(t *testing.T) {
	m := New(sacn.MergerConfig{})

	require.NoError(t, m.AddSource(s1))
	require.NoError(t, m.AddSource(s2))

	require.NoError(t, m.UpdateUniversePriority(s1, 100))
	require.NoError(t, m.UpdateUniversePriority(s2, 100))

	require.NoError(t, m.UpdateLevels(s1, []byte{10, 20, 30}))
	require.NoError(t, m.UpdateLevels(s2, []byte{5, 25, 25}))

	assert.Equal(t, [3]byte{10, 25, 30}, firstThreeLevels(m))
	assert.Equal(t, [3]registry.Handle{s1, s2, s1}, firstThreeOwners(m))

	require.NoError(t, m.UpdatePAP(s2, []byte{0, 200, 200}))

	assert.Equal(t, [3]byte{10, 25, 25}, firstThreeLevels(m))
	assert.Equal(t, [3]registry.Handle{s1, s2, s2}, firstThreeOwners(m))
}

func TestPAPZeroMeansNoParticipation(t *testing.T) {
	m := New(sacn.MergerConfig{})
	require.NoError(t, m.AddSource(s1))
	require.NoError(t, m.UpdateUniversePriority(s1, 150))
	require.NoError(t, m.UpdateLevels(s1, []byte{42}))
	require.NoError(t, m.UpdatePAP(s1, []byte{0}))

	assert.Equal(t, uint8(0), m.Levels()[0])
	assert.Equal(t, registry.InvalidHandle, m.Owners()[0])
}

func TestUninitializedUniversePrioritySourceSkipped(t *testing.T) {
	m := New(sacn.MergerConfig{})
	require.NoError(t, m.AddSource(s1))
	require.NoError(t, m.AddSource(s2))

	require.NoError(t, m.UpdateUniversePriority(s2, 100))
	require.NoError(t, m.UpdateLevels(s1, []byte{99}))
	require.NoError(t, m.UpdateLevels(s2, []byte{1}))

	// s1 has no universe priority yet; s2 wins despite the lower level.
	assert.Equal(t, uint8(1), m.Levels()[0])
	assert.Equal(t, s2, m.Owners()[0])
}

func TestRemovePAPRevertsToUniversePriority(t *testing.T) {
	m := New(sacn.MergerConfig{})
	require.NoError(t, m.AddSource(s1))
	require.NoError(t, m.AddSource(s2))
	require.NoError(t, m.UpdateUniversePriority(s1, 50))
	require.NoError(t, m.UpdateUniversePriority(s2, 100))
	require.NoError(t, m.UpdateLevels(s1, []byte{7}))
	require.NoError(t, m.UpdateLevels(s2, []byte{9}))
	require.NoError(t, m.UpdatePAP(s1, []byte{200}))

	assert.Equal(t, s1, m.Owners()[0], "PAP override should win despite lower universe priority")

	require.NoError(t, m.RemovePAP(s1))
	assert.Equal(t, s2, m.Owners()[0], "after PAP removal, s1 reverts to its universe priority and loses")
}

func TestRemoveSourceRecomputesOwnedSlots(t *testing.T) {
	m := New(sacn.MergerConfig{})
	require.NoError(t, m.AddSource(s1))
	require.NoError(t, m.AddSource(s2))
	require.NoError(t, m.UpdateUniversePriority(s1, 100))
	require.NoError(t, m.UpdateUniversePriority(s2, 50))
	require.NoError(t, m.UpdateLevels(s1, []byte{10}))
	require.NoError(t, m.UpdateLevels(s2, []byte{20}))

	assert.Equal(t, s1, m.Owners()[0])

	require.NoError(t, m.RemoveSource(s1))
	assert.Equal(t, s2, m.Owners()[0])
	assert.Equal(t, uint8(20), m.Levels()[0])
}

func TestNoValidSourceLeavesSlotUnowned(t *testing.T) {
	m := New(sacn.MergerConfig{})
	require.NoError(t, m.AddSource(s1))

	assert.Equal(t, registry.InvalidHandle, m.Owners()[0])
	assert.Equal(t, uint8(0), m.Levels()[0])
}

func TestSourceCountMaxEnforced(t *testing.T) {
	m := New(sacn.MergerConfig{SourceCountMax: 1})
	require.NoError(t, m.AddSource(s1))
	err := m.AddSource(s2)
	require.Error(t, err)
}

func TestLevelsBeyondCountBecomeZero(t *testing.T) {
	m := New(sacn.MergerConfig{})
	require.NoError(t, m.AddSource(s1))
	require.NoError(t, m.UpdateUniversePriority(s1, 100))
	require.NoError(t, m.UpdateLevels(s1, []byte{1, 2, 3}))
	require.NoError(t, m.UpdateLevels(s1, []byte{9}))

	assert.Equal(t, uint8(9), m.Levels()[0])
	assert.Equal(t, uint8(0), m.Levels()[1], "slots beyond the new count must revert to zero")
}

func firstThreeLevels(m *Merger) [3]byte {
	return [3]byte{m.Levels()[0], m.Levels()[1], m.Levels()[2]}
}

func firstThreeOwners(m *Merger) [3]registry.Handle {
	return [3]registry.Handle{m.Owners()[0], m.Owners()[1], m.Owners()[2]}
}
