package session

import "github.com/pkg/errors"

// ErrInvalidState reports an operation issued against a session that
// cannot accept it, including every mutation on a destroyed session.
var ErrInvalidState = errors.New("invalid session state")

// State is the lifecycle state of one guild's audio session
type State int

const (
	StateDisconnected State = iota
	StateActive
	StatePausedAlone
	StatePausedMuted
	StateIdlePersistent
	StateIdlePendingDisconnect
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateActive:
		return "active"
	case StatePausedAlone:
		return "paused_alone"
	case StatePausedMuted:
		return "paused_muted"
	case StateIdlePersistent:
		return "idle_persistent"
	case StateIdlePendingDisconnect:
		return "idle_pending_disconnect"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// legalTransitions validates lifecycle moves. Destroyed is terminal and
// reachable from every other state.
var legalTransitions = map[State][]State{
	StateDisconnected:          {StateActive, StateDestroyed},
	StateActive:                {StatePausedAlone, StatePausedMuted, StateIdlePersistent, StateIdlePendingDisconnect, StateDestroyed},
	StatePausedAlone:           {StateActive, StatePausedMuted, StateIdlePersistent, StateIdlePendingDisconnect, StateDestroyed},
	StatePausedMuted:           {StateActive, StatePausedAlone, StateIdlePersistent, StateIdlePendingDisconnect, StateDestroyed},
	StateIdlePersistent:        {StateActive, StatePausedAlone, StatePausedMuted, StateIdlePendingDisconnect, StateDestroyed},
	StateIdlePendingDisconnect: {StateActive, StateIdlePersistent, StateDestroyed},
	StateDestroyed:             {},
}

func (s State) canTransitionTo(next State) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
