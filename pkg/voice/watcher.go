package voice

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/Resona/pkg/logging"
	"github.com/latoulicious/Resona/pkg/session"
)

// Roster exposes the gateway's view of a voice channel's membership
type Roster interface {
	HumanCount(guildID, channelID string) int
}

// Notifier sends fire-and-forget notices to a text channel
type Notifier interface {
	Notify(channelID, message string)
}

// PersistenceChecker reports whether a guild has 24/7 mode enabled
type PersistenceChecker interface {
	PersistenceEnabled(guildID string) bool
}

// DefaultAloneGrace is the pause-to-teardown grace period after the last
// human leaves the voice channel
const DefaultAloneGrace = 10 * time.Second

// Watcher reacts to gateway voice-state churn: aloneness pause/teardown,
// mute-edge pause/resume and the bot's own moves and removals. Bot-state
// and member-state packets for the same real-world moment arrive as
// independent calls in no particular order; every decision re-reads the
// roster instead of trusting the triggering packet.
type Watcher struct {
	sessions   *session.Manager
	roster     Roster
	notifier   Notifier
	policies   PersistenceChecker
	log        logging.Logger
	botUserID  string
	aloneGrace time.Duration
}

// NewWatcher creates a voice churn watcher
func NewWatcher(sessions *session.Manager, roster Roster, notifier Notifier, policies PersistenceChecker, botUserID string, log logging.Logger) *Watcher {
	return &Watcher{
		sessions:   sessions,
		roster:     roster,
		notifier:   notifier,
		policies:   policies,
		log:        log,
		botUserID:  botUserID,
		aloneGrace: DefaultAloneGrace,
	}
}

// SetAloneGrace overrides the alone grace period
func (w *Watcher) SetAloneGrace(grace time.Duration) {
	w.aloneGrace = grace
}

// OnVoiceStateUpdate handles one gateway voice-state packet
func (w *Watcher) OnVoiceStateUpdate(vs *discordgo.VoiceStateUpdate) {
	if vs == nil || vs.VoiceState == nil {
		return
	}
	if vs.UserID == w.botUserID {
		w.handleBotUpdate(vs)
		return
	}
	w.handleMemberUpdate(vs)
}

func (w *Watcher) handleBotUpdate(vs *discordgo.VoiceStateUpdate) {
	handle, ok := w.sessions.Get(vs.GuildID)
	if !ok {
		return
	}

	// Kicked from voice entirely: the session cannot survive.
	if vs.ChannelID == "" {
		textChannel := handle.TextChannelID()
		if err := w.sessions.Destroy(vs.GuildID); err != nil {
			w.log.Debug("session already gone on voice removal",
				logging.String("guild", vs.GuildID))
			return
		}
		w.log.Info("bot removed from voice, session destroyed",
			logging.String("guild", vs.GuildID))
		w.notifier.Notify(textChannel, "Disconnected from voice, stopping playback.")
		return
	}

	if vs.ChannelID != handle.VoiceChannelID() {
		if err := handle.Rebind(vs.ChannelID); err == nil {
			w.log.Info("session moved to another channel",
				logging.String("guild", vs.GuildID),
				logging.String("channel", vs.ChannelID))
			w.checkAloneness(handle)
		}
	}

	action, err := handle.ApplyMuteState(vs.Mute, vs.SelfMute)
	if err != nil {
		return
	}
	switch action {
	case session.MutePaused:
		w.notifier.Notify(handle.TextChannelID(), "I was muted, pausing playback.")
	case session.MuteResumed:
		w.notifier.Notify(handle.TextChannelID(), "Unmuted, resuming playback.")
	}
}

func (w *Watcher) handleMemberUpdate(vs *discordgo.VoiceStateUpdate) {
	handle, ok := w.sessions.Get(vs.GuildID)
	if !ok {
		return
	}

	channel := handle.VoiceChannelID()
	joined := vs.ChannelID == channel
	left := vs.BeforeUpdate != nil && vs.BeforeUpdate.ChannelID == channel && vs.ChannelID != channel
	if !joined && !left {
		return
	}

	w.checkAloneness(handle)
}

// checkAloneness re-reads the roster and drives the alone/resume
// transitions from the count it finds, not from the triggering packet.
func (w *Watcher) checkAloneness(handle *session.Handle) {
	count := w.roster.HumanCount(handle.GuildID(), handle.VoiceChannelID())
	if count > 0 {
		resumed, err := handle.HandleHumanReturn()
		if err == nil && resumed {
			w.notifier.Notify(handle.TextChannelID(), "Someone joined, resuming playback.")
		}
		return
	}

	initiated, err := handle.PauseForAlone(w.aloneGrace, func() { w.onAloneExpiry(handle) })
	if err != nil {
		return
	}
	if initiated {
		w.log.Debug("channel empty, alone timeout armed",
			logging.String("guild", handle.GuildID()),
			logging.Duration("grace", w.aloneGrace))
	}
}

// onAloneExpiry runs when the alone grace timer fires. The zero-human
// condition is re-verified first; a stale fire is a no-op.
func (w *Watcher) onAloneExpiry(handle *session.Handle) {
	guildID := handle.GuildID()
	if w.roster.HumanCount(guildID, handle.VoiceChannelID()) > 0 {
		if _, err := handle.HandleHumanReturn(); err != nil {
			w.log.Debug("stale alone timer on dead session",
				logging.String("guild", guildID))
		}
		return
	}

	if w.policies.PersistenceEnabled(guildID) {
		if err := handle.StopForPersistence(); err != nil {
			return
		}
		w.log.Info("channel empty, 24/7 enabled, staying connected",
			logging.String("guild", guildID))
		w.notifier.Notify(handle.TextChannelID(), "Everyone left, staying connected (24/7 mode).")
		return
	}

	textChannel := handle.TextChannelID()
	if err := w.sessions.Destroy(guildID); err != nil {
		return
	}
	w.log.Info("channel empty, session destroyed",
		logging.String("guild", guildID))
	w.notifier.Notify(textChannel, "Everyone left the channel, leaving voice.")
}
