package presence

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/latoulicious/Resona/pkg/logging"
	"github.com/latoulicious/Resona/pkg/session"
)

// PresenceManager keeps the bot's presence in sync with what it is doing:
// the number of live audio sessions, or the default server count.
type PresenceManager struct {
	session  *discordgo.Session
	sessions *session.Manager
	log      logging.Logger

	mu      sync.RWMutex
	current string
}

// NewPresenceManager creates a new presence manager
func NewPresenceManager(dg *discordgo.Session, sessions *session.Manager, log logging.Logger) *PresenceManager {
	return &PresenceManager{
		session:  dg,
		sessions: sessions,
		log:      log,
	}
}

// UpdateDefaultPresence sets the presence to the server count
func (pm *PresenceManager) UpdateDefaultPresence() {
	guilds := pm.session.State.Guilds

	presence := discordgo.UpdateStatusData{
		Status: "online",
		Activities: []*discordgo.Activity{
			{
				Name:  "music",
				Type:  discordgo.ActivityTypeListening,
				State: "in " + strconv.Itoa(len(guilds)) + " servers",
			},
		},
	}

	if err := pm.session.UpdateStatusComplex(presence); err != nil {
		pm.log.Warn("failed to update presence", logging.Error(err))
		return
	}

	pm.mu.Lock()
	pm.current = "default"
	pm.mu.Unlock()
}

// UpdateSessionPresence sets the presence to the live session count
func (pm *PresenceManager) UpdateSessionPresence() {
	count := pm.sessions.Count()
	if count == 0 {
		pm.UpdateDefaultPresence()
		return
	}

	noun := "sessions"
	if count == 1 {
		noun = "session"
	}
	presence := discordgo.UpdateStatusData{
		Status: "online",
		Activities: []*discordgo.Activity{
			{
				Name:  "music",
				Type:  discordgo.ActivityTypeListening,
				State: fmt.Sprintf("%d active %s", count, noun),
			},
		},
	}

	if err := pm.session.UpdateStatusComplex(presence); err != nil {
		pm.log.Warn("failed to update presence", logging.Error(err))
		return
	}

	pm.mu.Lock()
	pm.current = "sessions"
	pm.mu.Unlock()
}

// CurrentPresence returns the current presence type
func (pm *PresenceManager) CurrentPresence() string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.current
}

// StartPeriodicUpdates refreshes the presence until the stop channel closes
func (pm *PresenceManager) StartPeriodicUpdates(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				pm.UpdateSessionPresence()
			}
		}
	}()
}
