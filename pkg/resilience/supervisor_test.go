package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latoulicious/Resona/pkg/logging"
)

type fakeReconnector struct {
	mu         sync.Mutex
	connected  map[string]bool
	reconnects []string
	err        error
}

func newFakeReconnector() *fakeReconnector {
	return &fakeReconnector{connected: make(map[string]bool)}
}

func (f *fakeReconnector) ReconnectNode(nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects = append(f.reconnects, nodeID)
	if f.err != nil {
		return f.err
	}
	f.connected[nodeID] = true
	return nil
}

func (f *fakeReconnector) NodeConnected(nodeID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[nodeID]
}

func (f *fakeReconnector) reconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reconnects)
}

func (f *fakeReconnector) setConnected(nodeID string, up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[nodeID] = up
}

func testConfig() Config {
	return Config{
		GenericBaseDelay:   20 * time.Millisecond,
		GenericMaxDelay:    100 * time.Millisecond,
		RateLimitBaseDelay: 40 * time.Millisecond,
		RateLimitMaxDelay:  200 * time.Millisecond,
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 10 * time.Second
	max := 120 * time.Second

	tests := []struct {
		name     string
		attempts int
		expected time.Duration
	}{
		{"first attempt uses base", 0, 10 * time.Second},
		{"second attempt grows by 1.5x", 1, 15 * time.Second},
		{"third attempt grows again", 2, 22500 * time.Millisecond},
		{"large attempt count is capped", 20, 120 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, backoffDelay(tt.attempts, base, max))
		})
	}

	// Delays never decrease as attempts grow.
	prev := time.Duration(0)
	for attempts := 0; attempts < 30; attempts++ {
		delay := backoffDelay(attempts, base, max)
		assert.GreaterOrEqual(t, delay, prev)
		assert.LessOrEqual(t, delay, max)
		prev = delay
	}
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		text     string
		expected bool
	}{
		{"HTTP 429 from node", true},
		{"Too Many Requests", true},
		{"too many requests, slow down", true},
		{"connection reset by peer", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, isRateLimited(tt.text), tt.text)
	}
}

func TestScheduleDeduplicates(t *testing.T) {
	rec := newFakeReconnector()
	sup := NewSupervisor(rec, testConfig(), logging.NullLogger())
	defer sup.Close()

	// Two reconnect-triggering events arrive before the timer fires.
	sup.OnNodeDisconnect("node-1", "connection lost")
	sup.OnNodeError("node-1", errors.New("read failed"))

	attempts, pending := sup.State("node-1")
	assert.Equal(t, 1, attempts)
	assert.True(t, pending)

	require.Eventually(t, func() bool {
		return rec.reconnectCount() > 0
	}, time.Second, 5*time.Millisecond)

	// Only one timer was ever armed, so exactly one attempt happened.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.reconnectCount())
}

func TestConnectClearsState(t *testing.T) {
	rec := newFakeReconnector()
	sup := NewSupervisor(rec, testConfig(), logging.NullLogger())
	defer sup.Close()

	sup.OnNodeDisconnect("node-1", "connection lost")
	attempts, pending := sup.State("node-1")
	require.Equal(t, 1, attempts)
	require.True(t, pending)

	sup.OnNodeConnect("node-1")
	attempts, pending = sup.State("node-1")
	assert.Equal(t, 0, attempts)
	assert.False(t, pending)
}

func TestFireSkipsAlreadyConnectedNode(t *testing.T) {
	rec := newFakeReconnector()
	rec.setConnected("node-1", true)
	sup := NewSupervisor(rec, testConfig(), logging.NullLogger())
	defer sup.Close()

	sup.OnNodeDisconnect("node-1", "transient blip")

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, rec.reconnectCount())
}

func TestReconnectFailureReschedulesWithGrownBackoff(t *testing.T) {
	rec := newFakeReconnector()
	rec.err = errors.New("still unreachable")
	sup := NewSupervisor(rec, testConfig(), logging.NullLogger())
	defer sup.Close()

	sup.OnNodeDisconnect("node-1", "connection lost")

	require.Eventually(t, func() bool {
		attempts, _ := sup.State("node-1")
		return attempts >= 2 && rec.reconnectCount() >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestRateLimitedUsesLongerDelays(t *testing.T) {
	cfg := testConfig()
	generic := backoffDelay(0, cfg.GenericBaseDelay, cfg.GenericMaxDelay)
	limited := backoffDelay(0, cfg.RateLimitBaseDelay, cfg.RateLimitMaxDelay)
	assert.Greater(t, limited, generic)
}
