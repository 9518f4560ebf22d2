package session

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/latoulicious/Resona/pkg/logging"
	"github.com/latoulicious/Resona/pkg/transport"
)

// MuteAction describes what a mute-state change actually did
type MuteAction int

const (
	MuteNone MuteAction = iota
	MutePaused
	MuteResumed
)

// Handle is the per-guild session façade over the remote player. It owns
// the lifecycle state machine, the pause-cause flags, the alone and
// idle-disconnect timers and the session data bag. All check-then-act
// sequences run inside one critical section; timer callbacks re-validate
// their precondition through the caller-supplied expiry function.
type Handle struct {
	guildID string
	player  transport.Player
	log     logging.Logger

	mu             sync.Mutex
	state          State
	voiceChannelID string
	textChannelID  string

	serverMuted      bool
	selfMuted        bool
	pausedDueToAlone bool
	pausedDueToMute  bool

	autoplayEnabled bool
	autoplaySetBy   string

	lastPlayed *transport.Track
	data       map[string]interface{}

	aloneTimer *time.Timer
	idleTimer  *time.Timer
}

// NewHandle creates an active session bound to the given channels
func NewHandle(guildID string, player transport.Player, voiceChannelID, textChannelID string, log logging.Logger) *Handle {
	return &Handle{
		guildID:        guildID,
		player:         player,
		log:            log.With(logging.String("guild", guildID)),
		state:          StateActive,
		voiceChannelID: voiceChannelID,
		textChannelID:  textChannelID,
		data:           make(map[string]interface{}),
	}
}

// GuildID returns the session's guild id
func (h *Handle) GuildID() string {
	return h.guildID
}

// State returns the current lifecycle state
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// VoiceChannelID returns the bound voice channel
func (h *Handle) VoiceChannelID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.voiceChannelID
}

// TextChannelID returns the bound text channel
func (h *Handle) TextChannelID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.textChannelID
}

// Rebind moves the session to another voice channel
func (h *Handle) Rebind(voiceChannelID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}
	h.voiceChannelID = voiceChannelID
	return nil
}

// Play starts the given track and activates the session. Starting a
// track cancels any pending idle disconnect.
func (h *Handle) Play(track transport.Track) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}

	if err := h.transitionLocked(StateActive); err != nil {
		return err
	}
	h.cancelTimersLocked()
	h.pausedDueToAlone = false
	h.pausedDueToMute = false
	h.lastPlayed = &track

	return h.player.Play(track)
}

// Pause pauses playback manually. Manual pauses are never auto-resumed
// by mute or aloneness transitions.
func (h *Handle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}
	return h.player.Pause()
}

// Resume resumes playback and clears any automatic pause cause
func (h *Handle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}
	h.pausedDueToAlone = false
	h.pausedDueToMute = false
	return h.player.Resume()
}

// Stop stops playback without tearing the session down
func (h *Handle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}
	return h.player.Stop()
}

// Seek seeks within the current track
func (h *Handle) Seek(position time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}
	return h.player.Seek(position)
}

// SetVolume sets the player volume
func (h *Handle) SetVolume(volume int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}
	return h.player.SetVolume(volume)
}

// Destroy tears the session down. Both timers are cancelled
// unconditionally; destroying twice reports ErrInvalidState.
func (h *Handle) Destroy() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}
	h.cancelTimersLocked()
	h.state = StateDestroyed
	return h.player.Destroy()
}

// Player returns the underlying remote player
func (h *Handle) Player() transport.Player {
	return h.player
}

// PauseForAlone pauses playback because the channel emptied of humans
// and arms the alone grace timer. Returns whether this call initiated
// the pause; an already-paused player keeps its existing cause.
func (h *Handle) PauseForAlone(grace time.Duration, onExpire func()) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return false, ErrInvalidState
	}
	if h.state == StatePausedAlone {
		return false, nil
	}
	if err := h.transitionLocked(StatePausedAlone); err != nil {
		return false, err
	}

	initiated := false
	if !h.player.Paused() {
		if err := h.player.Pause(); err != nil {
			h.log.Warn("alone pause failed", logging.Error(err))
		} else {
			h.pausedDueToAlone = true
			initiated = true
		}
	}

	h.armAloneTimerLocked(grace, onExpire)
	return initiated, nil
}

// HandleHumanReturn cancels the alone timeout because a human rejoined.
// Playback resumes only if the pause was caused by aloneness.
func (h *Handle) HandleHumanReturn() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return false, ErrInvalidState
	}
	if h.state != StatePausedAlone {
		return false, nil
	}

	if h.aloneTimer != nil {
		h.aloneTimer.Stop()
		h.aloneTimer = nil
	}

	resumed := false
	if h.pausedDueToAlone {
		h.pausedDueToAlone = false
		if err := h.player.Resume(); err != nil {
			h.log.Warn("alone resume failed", logging.Error(err))
		} else {
			resumed = true
		}
	}

	if err := h.transitionLocked(StateActive); err != nil {
		return resumed, err
	}
	return resumed, nil
}

// ApplyMuteState records the bot's mute flags and applies edge-triggered
// pause/resume. Repeating an identical mute state is a no-op, and a
// manual pause is never hijacked or auto-resumed.
func (h *Handle) ApplyMuteState(serverMuted, selfMuted bool) (MuteAction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return MuteNone, ErrInvalidState
	}

	prev := h.serverMuted || h.selfMuted
	next := serverMuted || selfMuted
	h.serverMuted = serverMuted
	h.selfMuted = selfMuted

	if next == prev {
		return MuteNone, nil
	}

	if next {
		if h.state != StateActive || h.player.Paused() {
			return MuteNone, nil
		}
		if err := h.player.Pause(); err != nil {
			h.log.Warn("mute pause failed", logging.Error(err))
			return MuteNone, nil
		}
		h.pausedDueToMute = true
		if err := h.transitionLocked(StatePausedMuted); err != nil {
			return MutePaused, err
		}
		return MutePaused, nil
	}

	if !h.pausedDueToMute {
		return MuteNone, nil
	}
	h.pausedDueToMute = false
	if err := h.player.Resume(); err != nil {
		h.log.Warn("unmute resume failed", logging.Error(err))
		return MuteNone, nil
	}
	if err := h.transitionLocked(StateActive); err != nil {
		return MuteResumed, err
	}
	return MuteResumed, nil
}

// StopForPersistence stops playback but keeps the voice session alive,
// entering the 24/7 idle state. No timer stays armed.
func (h *Handle) StopForPersistence() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}
	if err := h.transitionLocked(StateIdlePersistent); err != nil {
		return err
	}
	h.cancelTimersLocked()
	h.pausedDueToAlone = false
	h.pausedDueToMute = false
	return h.player.Stop()
}

// MarkIdlePersistent enters the 24/7 idle state without touching playback
func (h *Handle) MarkIdlePersistent() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}
	if err := h.transitionLocked(StateIdlePersistent); err != nil {
		return err
	}
	h.cancelTimersLocked()
	return nil
}

// ArmIdleDisconnect enters the pending-disconnect idle state and arms
// the disconnect timer. The expiry function must re-validate that the
// queue is still empty and 24/7 is still off before acting.
func (h *Handle) ArmIdleDisconnect(timeout time.Duration, onExpire func()) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}
	if err := h.transitionLocked(StateIdlePendingDisconnect); err != nil {
		return err
	}
	h.armIdleTimerLocked(timeout, onExpire)
	return nil
}

// CancelIdleDisconnect disarms a pending idle disconnect, if any
func (h *Handle) CancelIdleDisconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.idleTimer != nil {
		h.idleTimer.Stop()
		h.idleTimer = nil
	}
}

// SetAutoplay records the autoplay toggle and who flipped it
func (h *Handle) SetAutoplay(enabled bool, byUser string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}
	h.autoplayEnabled = enabled
	h.autoplaySetBy = byUser
	return nil
}

// Autoplay returns the autoplay toggle and the user who last set it
func (h *Handle) Autoplay() (enabled bool, setBy string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.autoplayEnabled, h.autoplaySetBy
}

// LastPlayed returns the most recently started track
func (h *Handle) LastPlayed() *transport.Track {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastPlayed == nil {
		return nil
	}
	t := *h.lastPlayed
	return &t
}

// RecordLastPlayed remembers the track that just played
func (h *Handle) RecordLastPlayed(track transport.Track) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastPlayed = &track
}

// SetData stores a value in the session data bag
func (h *Handle) SetData(key string, value interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}
	h.data[key] = value
	return nil
}

// Data reads a value from the session data bag
func (h *Handle) Data(key string) (interface{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.data[key]
	return v, ok
}

// MuteFlags returns the bot's recorded server/self mute flags
func (h *Handle) MuteFlags() (serverMuted, selfMuted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.serverMuted, h.selfMuted
}

// PausedDueToAlone reports whether an aloneness pause is in effect
func (h *Handle) PausedDueToAlone() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pausedDueToAlone
}

// PausedDueToMute reports whether a mute pause is in effect
func (h *Handle) PausedDueToMute() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pausedDueToMute
}

func (h *Handle) transitionLocked(next State) error {
	if h.state == next {
		return nil
	}
	if !h.state.canTransitionTo(next) {
		return errors.Wrapf(ErrInvalidState, "illegal transition %s -> %s", h.state, next)
	}
	h.log.Debug("session state change",
		logging.String("from", h.state.String()),
		logging.String("to", next.String()))
	h.state = next
	return nil
}

// armAloneTimerLocked arms the alone grace timer. At most one of the two
// timers may be armed per guild, so the idle timer is disarmed first.
func (h *Handle) armAloneTimerLocked(d time.Duration, fn func()) {
	h.cancelTimersLocked()
	h.aloneTimer = time.AfterFunc(d, fn)
}

func (h *Handle) armIdleTimerLocked(d time.Duration, fn func()) {
	h.cancelTimersLocked()
	h.idleTimer = time.AfterFunc(d, fn)
}

func (h *Handle) cancelTimersLocked() {
	if h.aloneTimer != nil {
		h.aloneTimer.Stop()
		h.aloneTimer = nil
	}
	if h.idleTimer != nil {
		h.idleTimer.Stop()
		h.idleTimer = nil
	}
}
