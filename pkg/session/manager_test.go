package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latoulicious/Resona/pkg/logging"
)

func TestManagerCreateAndGet(t *testing.T) {
	m := NewManager(logging.NullLogger())

	h := m.Create("guild-1", newFakePlayer(), "voice-1", "text-1")
	require.NotNil(t, h)
	assert.Equal(t, 1, m.Count())

	got, ok := m.Get("guild-1")
	require.True(t, ok)
	assert.Same(t, h, got)

	// A second create for a live session returns the existing handle.
	again := m.Create("guild-1", newFakePlayer(), "voice-2", "text-2")
	assert.Same(t, h, again)
	assert.Equal(t, 1, m.Count())
}

func TestManagerDestroyPurges(t *testing.T) {
	m := NewManager(logging.NullLogger())
	player := newFakePlayer()
	m.Create("guild-1", player, "voice-1", "text-1")

	require.NoError(t, m.Destroy("guild-1"))
	_, ok := m.Get("guild-1")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Count())

	_, _, _, destroys := player.counts()
	assert.Equal(t, 1, destroys)

	assert.ErrorIs(t, m.Destroy("guild-1"), ErrInvalidState)
}

func TestManagerReplacesDestroyedLeftover(t *testing.T) {
	m := NewManager(logging.NullLogger())

	first := m.Create("guild-1", newFakePlayer(), "voice-1", "text-1")
	require.NoError(t, first.Destroy())

	second := m.Create("guild-1", newFakePlayer(), "voice-1", "text-1")
	assert.NotSame(t, first, second)
	assert.Equal(t, StateActive, second.State())
}
