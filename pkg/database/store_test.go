package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "resona.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPersistencePolicyRoundTrip(t *testing.T) {
	store := newTestStore(t)

	// Unknown guilds get the zero policy with auto-disconnect on.
	policy, err := store.GetPersistencePolicy("guild-1")
	require.NoError(t, err)
	assert.False(t, policy.Enabled)
	assert.True(t, policy.AutoDisconnect)

	want := PersistencePolicy{
		Enabled:        true,
		VoiceChannelID: "voice-1",
		TextChannelID:  "text-1",
		AutoDisconnect: false,
	}
	require.NoError(t, store.SetPersistencePolicy("guild-1", want))

	got, err := store.GetPersistencePolicy("guild-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, store.PersistenceEnabled("guild-1"))
	assert.False(t, store.PersistenceEnabled("guild-2"))
}

func TestPolicyCacheUpdatedOnWrite(t *testing.T) {
	store := newTestStore(t)

	enabled := PersistencePolicy{Enabled: true, VoiceChannelID: "voice-1"}
	require.NoError(t, store.SetPersistencePolicy("guild-1", enabled))
	require.True(t, store.PersistenceEnabled("guild-1"))

	disabled := enabled
	disabled.Enabled = false
	require.NoError(t, store.SetPersistencePolicy("guild-1", disabled))
	assert.False(t, store.PersistenceEnabled("guild-1"))
}

func TestEnabledPersistenceGuilds(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetPersistencePolicy("guild-1", PersistencePolicy{Enabled: true}))
	require.NoError(t, store.SetPersistencePolicy("guild-2", PersistencePolicy{Enabled: false}))
	require.NoError(t, store.SetPersistencePolicy("guild-3", PersistencePolicy{Enabled: true}))

	guilds, err := store.EnabledPersistenceGuilds()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"guild-1", "guild-3"}, guilds)
}

func TestDefaultVolume(t *testing.T) {
	store := newTestStore(t)

	volume, err := store.GetDefaultVolume("guild-1")
	require.NoError(t, err)
	assert.Equal(t, DefaultVolume, volume)

	require.NoError(t, store.SetDefaultVolume("guild-1", 65))
	volume, err = store.GetDefaultVolume("guild-1")
	require.NoError(t, err)
	assert.Equal(t, 65, volume)

	// Volume writes must not clobber an existing policy.
	require.NoError(t, store.SetPersistencePolicy("guild-2", PersistencePolicy{Enabled: true, VoiceChannelID: "vc"}))
	require.NoError(t, store.SetDefaultVolume("guild-2", 30))
	policy, err := store.GetPersistencePolicy("guild-2")
	require.NoError(t, err)
	assert.True(t, policy.Enabled)
}

func TestPlanTiers(t *testing.T) {
	store := newTestStore(t)

	tier, err := store.GetPlanTier("user-1")
	require.NoError(t, err)
	assert.Equal(t, PlanFree, tier)
	assert.Equal(t, 6, tier.AutoplayLimit())

	require.NoError(t, store.SetPlanTier("user-1", PlanPremium))
	tier, err = store.GetPlanTier("user-1")
	require.NoError(t, err)
	assert.Equal(t, PlanPremium, tier)
	assert.Equal(t, 10, tier.AutoplayLimit())

	// Unknown tier strings degrade to free.
	require.NoError(t, store.SetPlanTier("user-2", PlanTier("enterprise")))
	tier, err = store.GetPlanTier("user-2")
	require.NoError(t, err)
	assert.Equal(t, PlanFree, tier)
}
