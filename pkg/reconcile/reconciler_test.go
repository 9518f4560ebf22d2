package reconcile

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latoulicious/Resona/pkg/database"
	"github.com/latoulicious/Resona/pkg/logging"
	"github.com/latoulicious/Resona/pkg/session"
	"github.com/latoulicious/Resona/pkg/transport"
)

type fakeQueue struct{}

func (fakeQueue) Add(...transport.Track)              {}
func (fakeQueue) Remove(int) (transport.Track, error) { return transport.Track{}, nil }
func (fakeQueue) Move(int, int) error                 { return nil }
func (fakeQueue) Shuffle()                            {}
func (fakeQueue) Clear()                              {}
func (fakeQueue) Len() int                            { return 0 }
func (fakeQueue) Tracks() []transport.Track           { return nil }

type fakePlayer struct {
	mu           sync.Mutex
	destroyCalls int
}

func (p *fakePlayer) Play(transport.Track) error { return nil }
func (p *fakePlayer) Pause() error               { return nil }
func (p *fakePlayer) Resume() error              { return nil }
func (p *fakePlayer) Stop() error                { return nil }
func (p *fakePlayer) Seek(time.Duration) error   { return nil }
func (p *fakePlayer) SetVolume(int) error        { return nil }

func (p *fakePlayer) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyCalls++
	return nil
}

func (p *fakePlayer) Paused() bool              { return false }
func (p *fakePlayer) Playing() bool             { return false }
func (p *fakePlayer) Current() *transport.Track { return nil }
func (p *fakePlayer) Queue() transport.Queue    { return fakeQueue{} }

type fakeStore struct {
	mu       sync.Mutex
	policies map[string]database.PersistencePolicy
	volumes  map[string]int
	listErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		policies: make(map[string]database.PersistencePolicy),
		volumes:  make(map[string]int),
	}
}

func (s *fakeStore) EnabledPersistenceGuilds() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var guilds []string
	for guildID, policy := range s.policies {
		if policy.Enabled {
			guilds = append(guilds, guildID)
		}
	}
	return guilds, nil
}

func (s *fakeStore) GetPersistencePolicy(guildID string) (database.PersistencePolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policies[guildID], nil
}

func (s *fakeStore) SetPersistencePolicy(guildID string, policy database.PersistencePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[guildID] = policy
	return nil
}

func (s *fakeStore) GetDefaultVolume(guildID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.volumes[guildID]; ok {
		return v, nil
	}
	return database.DefaultVolume, nil
}

type fakeChannels struct {
	mu      sync.Mutex
	missing map[string]bool
}

func (c *fakeChannels) ChannelExists(channelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.missing[channelID]
}

func (c *fakeChannels) remove(channelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.missing == nil {
		c.missing = make(map[string]bool)
	}
	c.missing[channelID] = true
}

type fakeConnector struct {
	mu       sync.Mutex
	connects []string
	volumes  []int
	err      error
}

func (c *fakeConnector) Connect(guildID, voiceChannelID, textChannelID string, volume int) (transport.Player, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.connects = append(c.connects, guildID+"/"+voiceChannelID)
	c.volumes = append(c.volumes, volume)
	return &fakePlayer{}, nil
}

func (c *fakeConnector) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connects)
}

type reconcilerFixture struct {
	reconciler *Reconciler
	sessions   *session.Manager
	store      *fakeStore
	channels   *fakeChannels
	connector  *fakeConnector
}

func newFixture() *reconcilerFixture {
	sessions := session.NewManager(logging.NullLogger())
	store := newFakeStore()
	channels := &fakeChannels{}
	connector := &fakeConnector{}
	r := NewReconciler(store, sessions, connector, channels, logging.NullLogger())
	return &reconcilerFixture{
		reconciler: r,
		sessions:   sessions,
		store:      store,
		channels:   channels,
		connector:  connector,
	}
}

func TestSweepRestoresMissingSession(t *testing.T) {
	f := newFixture()
	f.store.policies["guild-1"] = database.PersistencePolicy{
		Enabled:        true,
		VoiceChannelID: "voice-1",
		TextChannelID:  "text-1",
	}
	f.store.volumes["guild-1"] = 42

	f.reconciler.Sweep()

	handle, ok := f.sessions.Get("guild-1")
	require.True(t, ok)
	assert.Equal(t, "voice-1", handle.VoiceChannelID())
	assert.Equal(t, session.StateIdlePersistent, handle.State())
	assert.Equal(t, []string{"guild-1/voice-1"}, f.connector.connects)
	assert.Equal(t, []int{42}, f.connector.volumes)
}

func TestSweepHealsDriftedSession(t *testing.T) {
	f := newFixture()
	f.store.policies["guild-1"] = database.PersistencePolicy{
		Enabled:        true,
		VoiceChannelID: "voice-configured",
		TextChannelID:  "text-1",
	}

	stale := &fakePlayer{}
	f.sessions.Create("guild-1", stale, "voice-elsewhere", "text-1")

	f.reconciler.Sweep()

	assert.Equal(t, 1, stale.destroyCalls)
	handle, ok := f.sessions.Get("guild-1")
	require.True(t, ok)
	assert.Equal(t, "voice-configured", handle.VoiceChannelID())
}

func TestSweepLeavesHealthySessionAlone(t *testing.T) {
	f := newFixture()
	f.store.policies["guild-1"] = database.PersistencePolicy{
		Enabled:        true,
		VoiceChannelID: "voice-1",
		TextChannelID:  "text-1",
	}
	healthy := &fakePlayer{}
	f.sessions.Create("guild-1", healthy, "voice-1", "text-1")

	f.reconciler.Sweep()

	assert.Equal(t, 0, healthy.destroyCalls)
	assert.Equal(t, 0, f.connector.connectCount())
}

func TestSweepDisablesOrphanedPolicy(t *testing.T) {
	f := newFixture()
	f.store.policies["guild-1"] = database.PersistencePolicy{
		Enabled:        true,
		VoiceChannelID: "voice-gone",
		TextChannelID:  "text-1",
	}
	f.channels.remove("voice-gone")

	f.reconciler.Sweep()

	policy, err := f.store.GetPersistencePolicy("guild-1")
	require.NoError(t, err)
	assert.False(t, policy.Enabled)
	assert.Equal(t, 0, f.connector.connectCount())
}

func TestSweepToleratesPerGuildFailures(t *testing.T) {
	f := newFixture()
	f.store.policies["guild-bad"] = database.PersistencePolicy{
		Enabled:        true,
		VoiceChannelID: "voice-bad",
		TextChannelID:  "text-bad",
	}
	f.store.policies["guild-good"] = database.PersistencePolicy{
		Enabled:        true,
		VoiceChannelID: "voice-good",
		TextChannelID:  "text-good",
	}

	// The connector fails outright for the first sweep.
	f.connector.err = errors.New("node unavailable")
	f.reconciler.Sweep()
	assert.Equal(t, 0, f.connector.connectCount())

	// Once the transient failure clears, the next sweep heals both.
	f.connector.err = nil
	f.reconciler.Sweep()
	assert.Equal(t, 2, f.connector.connectCount())
}
