package reconcile

import (
	"context"
	"time"

	"github.com/latoulicious/Resona/pkg/database"
	"github.com/latoulicious/Resona/pkg/logging"
	"github.com/latoulicious/Resona/pkg/session"
	"github.com/latoulicious/Resona/pkg/transport"
)

// Store is the slice of the settings store the reconciler needs
type Store interface {
	EnabledPersistenceGuilds() ([]string, error)
	GetPersistencePolicy(guildID string) (database.PersistencePolicy, error)
	SetPersistencePolicy(guildID string, policy database.PersistencePolicy) error
	GetDefaultVolume(guildID string) (int, error)
}

// ChannelLookup verifies that configured channels still exist
type ChannelLookup interface {
	ChannelExists(channelID string) bool
}

// Connector creates a new remote player bound to a channel
type Connector interface {
	Connect(guildID, voiceChannelID, textChannelID string, volume int) (transport.Player, error)
}

// DefaultInterval is the sweep interval
const DefaultInterval = 5 * time.Minute

// Reconciler periodically heals 24/7 sessions that drifted from their
// configured channel: stale sessions are torn down and fresh ones are
// created where the policy says they belong. One guild's failure never
// affects the rest of the sweep.
type Reconciler struct {
	store     Store
	sessions  *session.Manager
	connector Connector
	channels  ChannelLookup
	log       logging.Logger
	interval  time.Duration
}

// NewReconciler creates a reconciler
func NewReconciler(store Store, sessions *session.Manager, connector Connector, channels ChannelLookup, log logging.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		sessions:  sessions,
		connector: connector,
		channels:  channels,
		log:       log,
		interval:  DefaultInterval,
	}
}

// SetInterval overrides the sweep interval
func (r *Reconciler) SetInterval(interval time.Duration) {
	r.interval = interval
}

// Start runs sweeps until the context is cancelled
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Sweep reconciles every guild with an enabled persistence policy
func (r *Reconciler) Sweep() {
	guilds, err := r.store.EnabledPersistenceGuilds()
	if err != nil {
		r.log.Error("persistence sweep aborted", logging.Error(err))
		return
	}

	for _, guildID := range guilds {
		r.reconcileGuild(guildID)
	}
}

func (r *Reconciler) reconcileGuild(guildID string) {
	log := r.log.With(logging.String("guild", guildID))

	policy, err := r.store.GetPersistencePolicy(guildID)
	if err != nil {
		log.Warn("policy lookup failed, skipping guild", logging.Error(err))
		return
	}
	if !policy.Enabled {
		return
	}

	// A policy pointing at deleted channels can never be satisfied;
	// disable it instead of reconnecting forever.
	if !r.channels.ChannelExists(policy.VoiceChannelID) || !r.channels.ChannelExists(policy.TextChannelID) {
		policy.Enabled = false
		if err := r.store.SetPersistencePolicy(guildID, policy); err != nil {
			log.Warn("failed to disable orphaned policy", logging.Error(err))
			return
		}
		log.Info("configured channels gone, persistence policy disabled")
		return
	}

	if handle, ok := r.sessions.Get(guildID); ok {
		if handle.State() != session.StateDestroyed && handle.VoiceChannelID() == policy.VoiceChannelID {
			return
		}
		// Session exists but points elsewhere: tear it down first.
		if err := r.sessions.Destroy(guildID); err != nil {
			log.Debug("stale session already gone", logging.Error(err))
		} else {
			log.Info("stale session torn down",
				logging.String("expected_channel", policy.VoiceChannelID))
		}
	}

	volume, err := r.store.GetDefaultVolume(guildID)
	if err != nil {
		log.Warn("default volume lookup failed, using fallback", logging.Error(err))
		volume = database.DefaultVolume
	}

	player, err := r.connector.Connect(guildID, policy.VoiceChannelID, policy.TextChannelID, volume)
	if err != nil {
		log.Warn("failed to restore persistent session", logging.Error(err))
		return
	}

	handle := r.sessions.Create(guildID, player, policy.VoiceChannelID, policy.TextChannelID)
	if err := handle.MarkIdlePersistent(); err != nil {
		log.Debug("restored session not idle", logging.Error(err))
	}
	log.Info("persistent session restored",
		logging.String("channel", policy.VoiceChannelID),
		logging.Int("volume", volume))
}
