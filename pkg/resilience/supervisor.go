package resilience

import (
	"strings"
	"sync"
	"time"

	"github.com/latoulicious/Resona/pkg/logging"
)

// Reconnector is the slice of the transport client the supervisor drives
type Reconnector interface {
	ReconnectNode(nodeID string) error
	NodeConnected(nodeID string) bool
}

// Config controls backoff timing. Rate-limited failures back off harder
// than generic connectivity failures.
type Config struct {
	GenericBaseDelay   time.Duration
	GenericMaxDelay    time.Duration
	RateLimitBaseDelay time.Duration
	RateLimitMaxDelay  time.Duration
}

// DefaultConfig returns the production backoff windows
func DefaultConfig() Config {
	return Config{
		GenericBaseDelay:   10 * time.Second,
		GenericMaxDelay:    120 * time.Second,
		RateLimitBaseDelay: 30 * time.Second,
		RateLimitMaxDelay:  300 * time.Second,
	}
}

type nodeState struct {
	attempts    int
	pending     bool
	lastAttempt time.Time
	timer       *time.Timer
}

// Supervisor owns reconnect scheduling for every transport node. All
// disconnect and error events funnel through it, and the pending flag is
// checked and set inside one critical section, so at most one reconnect
// timer can ever be outstanding per node.
type Supervisor struct {
	cfg    Config
	client Reconnector
	log    logging.Logger

	mu     sync.Mutex
	nodes  map[string]*nodeState
	closed bool
}

// NewSupervisor creates a supervisor over the given reconnector
func NewSupervisor(client Reconnector, cfg Config, log logging.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		client: client,
		log:    log,
		nodes:  make(map[string]*nodeState),
	}
}

// OnNodeConnect clears all reconnect state for the node
func (s *Supervisor) OnNodeConnect(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.nodes[nodeID]
	if !ok {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(s.nodes, nodeID)
	s.log.Info("node recovered", logging.String("node", nodeID))
}

// OnNodeDisconnect schedules a reconnect unless one is already pending
func (s *Supervisor) OnNodeDisconnect(nodeID string, reason string) {
	s.schedule(nodeID, isRateLimited(reason))
}

// OnNodeError schedules a reconnect unless one is already pending
func (s *Supervisor) OnNodeError(nodeID string, err error) {
	s.schedule(nodeID, err != nil && isRateLimited(err.Error()))
}

// State reports the node's attempt count and whether a timer is armed
func (s *Supervisor) State(nodeID string) (attempts int, pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.nodes[nodeID]
	if !ok {
		return 0, false
	}
	return st.attempts, st.pending
}

// Close cancels every outstanding reconnect timer
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, st := range s.nodes {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
}

func (s *Supervisor) schedule(nodeID string, rateLimited bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	st, ok := s.nodes[nodeID]
	if !ok {
		st = &nodeState{}
		s.nodes[nodeID] = st
	}
	if st.pending {
		s.log.Debug("reconnect already scheduled", logging.String("node", nodeID))
		return
	}

	base, max := s.cfg.GenericBaseDelay, s.cfg.GenericMaxDelay
	if rateLimited {
		base, max = s.cfg.RateLimitBaseDelay, s.cfg.RateLimitMaxDelay
	}
	delay := backoffDelay(st.attempts, base, max)

	st.pending = true
	st.attempts++
	st.timer = time.AfterFunc(delay, func() { s.fire(nodeID) })

	s.log.Warn("node down, reconnect scheduled",
		logging.String("node", nodeID),
		logging.Int("attempt", st.attempts),
		logging.Duration("delay", delay),
		logging.Bool("rate_limited", rateLimited))
}

func (s *Supervisor) fire(nodeID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	st, ok := s.nodes[nodeID]
	if !ok {
		s.mu.Unlock()
		return
	}
	st.pending = false
	st.timer = nil
	st.lastAttempt = time.Now()
	s.mu.Unlock()

	// The node may have come back on its own while the timer was armed.
	if s.client.NodeConnected(nodeID) {
		s.log.Debug("node already reconnected", logging.String("node", nodeID))
		return
	}

	if err := s.client.ReconnectNode(nodeID); err != nil {
		s.log.Warn("reconnect attempt failed",
			logging.String("node", nodeID), logging.Error(err))
		// Feed the failure back in so the next attempt is scheduled with
		// the already-incremented attempt count.
		s.OnNodeError(nodeID, err)
	}
}

// backoffDelay computes min(base * 1.5^attempts, max)
func backoffDelay(attempts int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempts; i++ {
		delay = delay * 3 / 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func isRateLimited(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "429") || strings.Contains(lower, "too many requests")
}
