package autoplay

import (
	"context"
	"time"

	"github.com/latoulicious/Resona/pkg/database"
	"github.com/latoulicious/Resona/pkg/logging"
	"github.com/latoulicious/Resona/pkg/recommend"
	"github.com/latoulicious/Resona/pkg/session"
	"github.com/latoulicious/Resona/pkg/transport"
)

// Searcher resolves queries against a catalog
type Searcher interface {
	Search(ctx context.Context, query string, source transport.Source) ([]transport.Track, error)
}

// Recommender produces similar-track candidates for an artist+title
type Recommender interface {
	SimilarTracks(ctx context.Context, artist, title string) ([]recommend.Candidate, error)
}

// SettingsStore is the slice of the settings store the policy reads
type SettingsStore interface {
	GetPersistencePolicy(guildID string) (database.PersistencePolicy, error)
	GetPlanTier(userID string) (database.PlanTier, error)
}

// Notifier sends fire-and-forget notices to a text channel
type Notifier interface {
	Notify(channelID, message string)
}

// DefaultIdleTimeout is the auto-disconnect delay after queue exhaustion
const DefaultIdleTimeout = 60 * time.Second

// Policy decides what happens when a guild's queue runs out: refill via
// the autoplay chain, persist for 24/7 mode, schedule a disconnect, or
// linger. First match wins; nothing here is fatal.
type Policy struct {
	sessions    *session.Manager
	searcher    Searcher
	recommender Recommender
	store       SettingsStore
	notifier    Notifier
	log         logging.Logger
	idleTimeout time.Duration
}

// NewPolicy creates a queue-completion policy
func NewPolicy(sessions *session.Manager, searcher Searcher, recommender Recommender, store SettingsStore, notifier Notifier, log logging.Logger) *Policy {
	return &Policy{
		sessions:    sessions,
		searcher:    searcher,
		recommender: recommender,
		store:       store,
		notifier:    notifier,
		log:         log,
		idleTimeout: DefaultIdleTimeout,
	}
}

// SetIdleTimeout overrides the auto-disconnect delay
func (p *Policy) SetIdleTimeout(timeout time.Duration) {
	p.idleTimeout = timeout
}

// OnQueueEnd runs the completion decision for one queue-exhaustion event
func (p *Policy) OnQueueEnd(guildID string, lastTrack *transport.Track) {
	handle, ok := p.sessions.Get(guildID)
	if !ok {
		return
	}

	last := lastTrack
	if last == nil {
		last = handle.LastPlayed()
	}

	enabled, setBy := handle.Autoplay()
	if enabled && last != nil {
		if p.runChain(handle, *last, setBy) {
			return
		}
		p.notifier.Notify(handle.TextChannelID(), "Autoplay couldn't find anything similar to queue.")
	}

	policy, err := p.store.GetPersistencePolicy(guildID)
	if err != nil {
		p.log.Warn("persistence policy lookup failed",
			logging.String("guild", guildID), logging.Error(err))
		policy = database.PersistencePolicy{AutoDisconnect: true}
	}

	if policy.Enabled {
		if err := handle.MarkIdlePersistent(); err != nil {
			p.log.Debug("idle persistent transition rejected",
				logging.String("guild", guildID), logging.Error(err))
		}
		return
	}

	if policy.AutoDisconnect {
		err := handle.ArmIdleDisconnect(p.idleTimeout, func() { p.onIdleExpiry(handle) })
		if err != nil {
			p.log.Debug("idle disconnect transition rejected",
				logging.String("guild", guildID), logging.Error(err))
		}
		return
	}

	// No policy applies: the session lingers until a manual command or a
	// gateway-level disconnect.
	p.log.Debug("queue ended, session lingering", logging.String("guild", guildID))
}

// onIdleExpiry runs when the idle-disconnect timer fires. Everything is
// re-validated: tracks may have been queued, playback restarted, or 24/7
// toggled on while the timer was armed.
func (p *Policy) onIdleExpiry(handle *session.Handle) {
	guildID := handle.GuildID()

	if handle.Queue().Len() > 0 || handle.Player().Playing() {
		return
	}
	if policy, err := p.store.GetPersistencePolicy(guildID); err == nil && policy.Enabled {
		if err := handle.MarkIdlePersistent(); err == nil {
			p.log.Info("24/7 enabled during idle wait, keeping session",
				logging.String("guild", guildID))
		}
		return
	}

	textChannel := handle.TextChannelID()
	if err := p.sessions.Destroy(guildID); err != nil {
		return
	}
	p.log.Info("idle timeout reached, session destroyed",
		logging.String("guild", guildID))
	p.notifier.Notify(textChannel, "Queue finished, leaving voice.")
}
