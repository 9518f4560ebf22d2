package session

import (
	"github.com/latoulicious/Resona/pkg/transport"
)

// QueueHandle exposes the ordered track list of one session. Mutations
// are delegated to the remote queue; adding tracks while an idle
// disconnect is pending disarms that timer.
type QueueHandle struct {
	handle *Handle
}

// Queue returns the session's queue handle
func (h *Handle) Queue() *QueueHandle {
	return &QueueHandle{handle: h}
}

// Add appends tracks to the queue. A pending idle disconnect is
// cancelled, the session is no longer idle with an empty queue.
func (q *QueueHandle) Add(tracks ...transport.Track) error {
	h := q.handle
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}
	if h.idleTimer != nil {
		h.idleTimer.Stop()
		h.idleTimer = nil
	}
	h.player.Queue().Add(tracks...)
	return nil
}

// Remove removes the track at the given index
func (q *QueueHandle) Remove(index int) (transport.Track, error) {
	h := q.handle
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return transport.Track{}, ErrInvalidState
	}
	return h.player.Queue().Remove(index)
}

// Move moves a track from one position to another
func (q *QueueHandle) Move(from, to int) error {
	h := q.handle
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}
	return h.player.Queue().Move(from, to)
}

// Shuffle shuffles the queue in place
func (q *QueueHandle) Shuffle() error {
	h := q.handle
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}
	h.player.Queue().Shuffle()
	return nil
}

// Clear removes all queued tracks
func (q *QueueHandle) Clear() error {
	h := q.handle
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDestroyed {
		return ErrInvalidState
	}
	h.player.Queue().Clear()
	return nil
}

// Len returns the number of queued tracks
func (q *QueueHandle) Len() int {
	return q.handle.player.Queue().Len()
}

// Tracks returns a copy of the queued tracks
func (q *QueueHandle) Tracks() []transport.Track {
	return q.handle.player.Queue().Tracks()
}
