package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/latoulicious/Resona/pkg/logging"
)

// ErrNoNodesAvailable is returned when no transport node is connected
var ErrNoNodesAvailable = errors.New("no transport nodes available")

// opFrame is the wire shape of op frames sent to a node
type opFrame struct {
	Op            string     `json:"op"`
	GuildID       string     `json:"guildId,omitempty"`
	ChannelID     string     `json:"channelId,omitempty"`
	TextChannelID string     `json:"textChannelId,omitempty"`
	Volume        *int       `json:"volume,omitempty"`
	PositionMS    *int64     `json:"position,omitempty"`
	Pause         *bool      `json:"pause,omitempty"`
	Track         *wireTrack `json:"track,omitempty"`
}

// WSClient routes per-guild player operations to a pool of transport
// nodes. The queue lives client-side: when a node reports a track end the
// client advances the guild's queue itself and raises OnQueueEnd once the
// queue is exhausted.
type WSClient struct {
	log     logging.Logger
	handler EventHandler
	http    *http.Client

	mu      sync.RWMutex
	nodes   map[string]*NodeConn
	cfgs    map[string]NodeConfig
	players map[string]*wsPlayer
}

// NewClient creates a transport client for the given node pool
func NewClient(nodes []NodeConfig, handler EventHandler, log logging.Logger) *WSClient {
	if handler == nil {
		handler = NopEventHandler{}
	}
	c := &WSClient{
		log:     log,
		handler: handler,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		nodes:   make(map[string]*NodeConn),
		cfgs:    make(map[string]NodeConfig),
		players: make(map[string]*wsPlayer),
	}
	for _, cfg := range nodes {
		conn := NewNodeConn(cfg, handler, log)
		conn.SetTrackEndHook(c.handleTrackEnd)
		c.nodes[cfg.ID] = conn
		c.cfgs[cfg.ID] = cfg
	}
	return c
}

// Open dials every configured node. Dial failures are reported through
// the event handler so the resilience supervisor can schedule retries.
func (c *WSClient) Open() {
	c.mu.RLock()
	conns := make([]*NodeConn, 0, len(c.nodes))
	for _, conn := range c.nodes {
		conns = append(conns, conn)
	}
	c.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Connect(); err != nil {
			c.log.Warn("initial node connect failed",
				logging.String("node", conn.ID()), logging.Error(err))
			c.handler.OnNodeError(conn.ID(), err)
		}
	}
}

// Close tears down all node connections
func (c *WSClient) Close() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, conn := range c.nodes {
		conn.Close()
	}
}

// Connect binds a new player for the guild to a connected node
func (c *WSClient) Connect(guildID, voiceChannelID, textChannelID string, volume int) (Player, error) {
	node := c.pickNode()
	if node == nil {
		return nil, ErrNoNodesAvailable
	}

	frame := opFrame{
		Op:            "connect",
		GuildID:       guildID,
		ChannelID:     voiceChannelID,
		TextChannelID: textChannelID,
		Volume:        &volume,
	}
	if err := node.Send(frame); err != nil {
		return nil, errors.Wrap(err, "connect op failed")
	}

	player := &wsPlayer{
		guildID: guildID,
		client:  c,
		node:    node,
		queue:   &memQueue{},
		volume:  volume,
	}

	c.mu.Lock()
	c.players[guildID] = player
	c.mu.Unlock()

	c.log.Info("player connected",
		logging.String("guild", guildID),
		logging.String("channel", voiceChannelID),
		logging.String("node", node.ID()))
	return player, nil
}

// Player returns the guild's player, if one exists
func (c *WSClient) Player(guildID string) (Player, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.players[guildID]
	if !ok {
		return nil, false
	}
	return p, true
}

// ReconnectNode redials the given node's control channel
func (c *WSClient) ReconnectNode(nodeID string) error {
	c.mu.RLock()
	node, ok := c.nodes[nodeID]
	c.mu.RUnlock()
	if !ok {
		return errors.Errorf("unknown node %s", nodeID)
	}
	return node.Connect()
}

// NodeConnected reports whether the given node's control channel is up
func (c *WSClient) NodeConnected(nodeID string) bool {
	c.mu.RLock()
	node, ok := c.nodes[nodeID]
	c.mu.RUnlock()
	return ok && node.Connected()
}

var searchPrefixes = map[Source]string{
	SourceYouTube:    "ytsearch",
	SourceSoundCloud: "scsearch",
	SourceSpotify:    "spsearch",
}

// Search resolves a query against the given catalog through a connected node
func (c *WSClient) Search(ctx context.Context, query string, source Source) ([]Track, error) {
	node := c.pickNode()
	if node == nil {
		return nil, ErrNoNodesAvailable
	}

	c.mu.RLock()
	cfg := c.cfgs[node.ID()]
	c.mu.RUnlock()

	prefix, ok := searchPrefixes[source]
	if !ok {
		prefix = searchPrefixes[SourceYouTube]
	}

	scheme := "http"
	if cfg.Secure {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/loadtracks?identifier=%s",
		scheme, cfg.Address, url.QueryEscape(prefix+":"+query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build search request")
	}
	req.Header.Set("Authorization", cfg.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "search request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("search returned status %d", resp.StatusCode)
	}

	var body struct {
		Tracks []wireTrack `json:"tracks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "failed to decode search response")
	}

	tracks := make([]Track, 0, len(body.Tracks))
	for _, wt := range body.Tracks {
		tracks = append(tracks, trackFromWire(wt))
	}
	return tracks, nil
}

// pickNode returns a connected node, preferring the one with the fewest players
func (c *WSClient) pickNode() *NodeConn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[string]int, len(c.nodes))
	for _, p := range c.players {
		counts[p.node.ID()]++
	}

	var best *NodeConn
	bestCount := -1
	for _, node := range c.nodes {
		if !node.Connected() {
			continue
		}
		if best == nil || counts[node.ID()] < bestCount {
			best = node
			bestCount = counts[node.ID()]
		}
	}
	return best
}

// handleTrackEnd advances the guild queue when a node reports a track end.
// Stopped and replaced tracks do not advance: those ends were caused by a
// local operation that already decided what happens next.
func (c *WSClient) handleTrackEnd(guildID, reason string) {
	if reason == "stopped" || reason == "replaced" {
		return
	}

	c.mu.RLock()
	player, ok := c.players[guildID]
	c.mu.RUnlock()
	if !ok {
		return
	}

	last := player.takeCurrent()
	next, ok := player.queue.pop()
	if ok {
		if err := player.Play(next); err != nil {
			c.log.Error("failed to play next track",
				logging.String("guild", guildID), logging.Error(err))
		}
		return
	}

	c.handler.OnQueueEnd(guildID, last)
}

func (c *WSClient) removePlayer(guildID string) {
	c.mu.Lock()
	delete(c.players, guildID)
	c.mu.Unlock()
}

func trackFromWire(wt wireTrack) Track {
	source := Source(wt.Source)
	if source == "" {
		source = SourceYouTube
	}
	return Track{
		ID:     wt.ID,
		Title:  wt.Title,
		Author: wt.Author,
		URI:    wt.URI,
		Source: source,
		Length: time.Duration(wt.LengthMS) * time.Millisecond,
	}
}

func trackToWire(t Track) *wireTrack {
	return &wireTrack{
		ID:       t.ID,
		Title:    t.Title,
		Author:   t.Author,
		URI:      t.URI,
		Source:   string(t.Source),
		LengthMS: t.Length.Milliseconds(),
	}
}

// wsPlayer is the per-guild remote player handle
type wsPlayer struct {
	guildID string
	client  *WSClient
	node    *NodeConn
	queue   *memQueue

	mu        sync.Mutex
	current   *Track
	paused    bool
	volume    int
	destroyed bool
}

func (p *wsPlayer) Play(track Track) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return errors.Errorf("player for guild %s is destroyed", p.guildID)
	}
	p.current = &track
	p.paused = false
	p.mu.Unlock()

	return p.node.Send(opFrame{Op: "play", GuildID: p.guildID, Track: trackToWire(track)})
}

func (p *wsPlayer) Pause() error {
	return p.setPaused(true)
}

func (p *wsPlayer) Resume() error {
	return p.setPaused(false)
}

func (p *wsPlayer) setPaused(paused bool) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return errors.Errorf("player for guild %s is destroyed", p.guildID)
	}
	p.paused = paused
	p.mu.Unlock()

	return p.node.Send(opFrame{Op: "pause", GuildID: p.guildID, Pause: &paused})
}

func (p *wsPlayer) Stop() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return errors.Errorf("player for guild %s is destroyed", p.guildID)
	}
	p.current = nil
	p.paused = false
	p.mu.Unlock()

	return p.node.Send(opFrame{Op: "stop", GuildID: p.guildID})
}

func (p *wsPlayer) Seek(position time.Duration) error {
	ms := position.Milliseconds()
	return p.node.Send(opFrame{Op: "seek", GuildID: p.guildID, PositionMS: &ms})
}

func (p *wsPlayer) SetVolume(volume int) error {
	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
	return p.node.Send(opFrame{Op: "volume", GuildID: p.guildID, Volume: &volume})
}

func (p *wsPlayer) Destroy() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	p.current = nil
	p.mu.Unlock()

	p.queue.Clear()
	p.client.removePlayer(p.guildID)

	// Best effort, the node may already be gone.
	if err := p.node.Send(opFrame{Op: "destroy", GuildID: p.guildID}); err != nil {
		p.client.log.Debug("destroy op not delivered",
			logging.String("guild", p.guildID), logging.Error(err))
	}
	return nil
}

func (p *wsPlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *wsPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil && !p.paused
}

func (p *wsPlayer) Current() *Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	t := *p.current
	return &t
}

func (p *wsPlayer) Queue() Queue {
	return p.queue
}

func (p *wsPlayer) takeCurrent() *Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.current
	p.current = nil
	return t
}

// memQueue is the client-side ordered track list for one guild
type memQueue struct {
	mu     sync.Mutex
	tracks []Track
}

func (q *memQueue) Add(tracks ...Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = append(q.tracks, tracks...)
}

func (q *memQueue) Remove(index int) (Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.tracks) {
		return Track{}, errors.Errorf("invalid queue index: %d", index)
	}
	removed := q.tracks[index]
	q.tracks = append(q.tracks[:index], q.tracks[index+1:]...)
	return removed, nil
}

func (q *memQueue) Move(from, to int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if from < 0 || from >= len(q.tracks) || to < 0 || to >= len(q.tracks) {
		return errors.Errorf("invalid queue move: %d -> %d", from, to)
	}
	track := q.tracks[from]
	q.tracks = append(q.tracks[:from], q.tracks[from+1:]...)
	q.tracks = append(q.tracks[:to], append([]Track{track}, q.tracks[to:]...)...)
	return nil
}

func (q *memQueue) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	rand.Shuffle(len(q.tracks), func(i, j int) {
		q.tracks[i], q.tracks[j] = q.tracks[j], q.tracks[i]
	})
}

func (q *memQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracks = nil
}

func (q *memQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

func (q *memQueue) Tracks() []Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}

func (q *memQueue) pop() (Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 {
		return Track{}, false
	}
	next := q.tracks[0]
	q.tracks = q.tracks[1:]
	return next, true
}
