package transport

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/latoulicious/Resona/pkg/logging"
)

// NodeConfig describes one remote transport node
type NodeConfig struct {
	ID       string
	Address  string // host:port
	Password string
	Secure   bool
}

// NodeConn maintains the control channel to a single transport node. Ops
// go out as JSON frames; the read loop dispatches incoming event frames
// to the registered handler. Voice/audio data never touches this
// connection, the node handles playback on its own.
type NodeConn struct {
	cfg     NodeConfig
	log     logging.Logger
	handler EventHandler

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	onTrackEnd func(guildID, reason string)
}

// NewNodeConn creates a node connection in the disconnected state
func NewNodeConn(cfg NodeConfig, handler EventHandler, log logging.Logger) *NodeConn {
	if handler == nil {
		handler = NopEventHandler{}
	}
	return &NodeConn{
		cfg:     cfg,
		log:     log.With(logging.String("node", cfg.ID)),
		handler: handler,
	}
}

// ID returns the node identifier
func (n *NodeConn) ID() string {
	return n.cfg.ID
}

// Connect dials the node's control channel and starts the read loop.
// Calling Connect while already connected is a no-op.
func (n *NodeConn) Connect() error {
	n.mu.Lock()
	if n.connected {
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	scheme := "ws"
	if n.cfg.Secure {
		scheme = "wss"
	}
	endpoint := fmt.Sprintf("%s://%s/", scheme, n.cfg.Address)

	header := http.Header{}
	header.Set("Authorization", n.cfg.Password)

	conn, resp, err := websocket.DefaultDialer.Dial(endpoint, header)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, "node dial failed with status %s", resp.Status)
		}
		return errors.Wrap(err, "node dial failed")
	}

	n.mu.Lock()
	n.conn = conn
	n.connected = true
	n.mu.Unlock()

	n.log.Info("node connected", logging.String("address", n.cfg.Address))
	n.handler.OnNodeConnect(n.cfg.ID)

	go n.readLoop(conn)
	return nil
}

// Connected reports whether the control channel is up
func (n *NodeConn) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}

// Send writes one op frame to the node
func (n *NodeConn) Send(frame interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.connected || n.conn == nil {
		return errors.Errorf("node %s is not connected", n.cfg.ID)
	}
	if err := n.conn.WriteJSON(frame); err != nil {
		return errors.Wrap(err, "node write failed")
	}
	return nil
}

// Close tears down the control channel without notifying the handler
func (n *NodeConn) Close() error {
	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	n.connected = false
	n.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// eventFrame is the wire shape of frames received from the node
type eventFrame struct {
	Op      string     `json:"op"`
	Type    string     `json:"type,omitempty"`
	GuildID string     `json:"guildId,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	Error   string     `json:"error,omitempty"`
	Track   *wireTrack `json:"track,omitempty"`
}

type wireTrack struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	URI      string `json:"uri"`
	Source   string `json:"source"`
	LengthMS int64  `json:"length"`
}

func (n *NodeConn) readLoop(conn *websocket.Conn) {
	for {
		var frame eventFrame
		if err := conn.ReadJSON(&frame); err != nil {
			n.markDisconnected(conn, err)
			return
		}

		switch frame.Op {
		case "ready":
			n.log.Debug("node ready frame received")
		case "event":
			n.dispatchEvent(frame)
		default:
			n.log.Debug("unhandled node frame", logging.String("op", frame.Op))
		}
	}
}

func (n *NodeConn) dispatchEvent(frame eventFrame) {
	switch frame.Type {
	case "TrackEndEvent":
		if onEnd := n.trackEndHook(); onEnd != nil {
			onEnd(frame.GuildID, frame.Reason)
		}
	case "TrackExceptionEvent":
		n.handler.OnNodeError(n.cfg.ID, errors.Errorf("track exception in guild %s: %s", frame.GuildID, frame.Error))
	default:
		n.log.Debug("unhandled node event", logging.String("type", frame.Type))
	}
}

// trackEndHook is set by the owning client to advance the guild queue
func (n *NodeConn) trackEndHook() func(guildID, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.onTrackEnd
}

// SetTrackEndHook registers the queue-advance callback
func (n *NodeConn) SetTrackEndHook(fn func(guildID, reason string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onTrackEnd = fn
}

func (n *NodeConn) markDisconnected(conn *websocket.Conn, err error) {
	n.mu.Lock()
	// A stale read loop from a previous connection must not clobber the
	// state of a newer one.
	if n.conn != conn {
		n.mu.Unlock()
		return
	}
	n.conn = nil
	n.connected = false
	n.mu.Unlock()

	conn.Close()

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		n.log.Warn("node closed connection",
			logging.Int("code", closeErr.Code),
			logging.String("reason", closeErr.Text))
		n.handler.OnNodeDisconnect(n.cfg.ID, closeErr.Text)
		return
	}

	n.log.Warn("node read failed", logging.Error(err))
	n.handler.OnNodeError(n.cfg.ID, err)
}
