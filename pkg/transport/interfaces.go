package transport

import (
	"context"
	"time"
)

// Player exposes playback operations on one guild's remote player
type Player interface {
	Play(track Track) error
	Pause() error
	Resume() error
	Stop() error
	Seek(position time.Duration) error
	SetVolume(volume int) error
	Destroy() error
	Paused() bool
	Playing() bool
	Current() *Track
	Queue() Queue
}

// Queue exposes ordered track list operations for one guild
type Queue interface {
	Add(tracks ...Track)
	Remove(index int) (Track, error)
	Move(from, to int) error
	Shuffle()
	Clear()
	Len() int
	Tracks() []Track
}

// Client exposes the transport node pool: per-guild players, catalog
// search and node-level connectivity operations
type Client interface {
	Connect(guildID, voiceChannelID, textChannelID string, volume int) (Player, error)
	Player(guildID string) (Player, bool)
	Search(ctx context.Context, query string, source Source) ([]Track, error)
	ReconnectNode(nodeID string) error
	NodeConnected(nodeID string) bool
}

// EventHandler receives transport-side events. Handlers must be safe to
// call from the node read loop goroutine.
type EventHandler interface {
	OnNodeConnect(nodeID string)
	OnNodeDisconnect(nodeID string, reason string)
	OnNodeError(nodeID string, err error)
	OnQueueEnd(guildID string, lastTrack *Track)
}

// NopEventHandler discards all events
type NopEventHandler struct{}

func (NopEventHandler) OnNodeConnect(string)            {}
func (NopEventHandler) OnNodeDisconnect(string, string) {}
func (NopEventHandler) OnNodeError(string, error)       {}
func (NopEventHandler) OnQueueEnd(string, *Track)       {}
