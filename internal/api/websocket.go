package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/heatpump-link/internal/bridges/heatpump"
	"github.com/nerrad567/heatpump-link/internal/infrastructure/config"
	"github.com/nerrad567/heatpump-link/internal/infrastructure/logging"
)

// Stream channels. An event is sent with the channel name as its type.
const (
	// ChannelValues carries every value of each completed poll cycle.
	ChannelValues = "values"

	// ChannelCycle carries a per-cycle summary without values.
	ChannelCycle = "cycle"
)

const (
	wsSendBufferSize      = 64
	wsDefaultPingInterval = 30
	wsDefaultPongTimeout  = 10
	wsDefaultMaxMessage   = 4096
)

// streamRequest is a client message on /ws:
//
//	{"type":"subscribe","id":"1","channels":["values"]}
//	{"type":"unsubscribe","channels":["cycle"]}
//	{"type":"ping","id":"2"}
type streamRequest struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// streamReply answers a streamRequest. Type is "subscribed",
// "unsubscribed", "pong" or "error".
type streamReply struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// streamEvent is pushed to subscribers after each poll cycle.
type streamEvent struct {
	Type string `json:"type"`
	At   string `json:"at"`
	Data any    `json:"data"`
}

// CycleEvent is the data of a ChannelCycle event.
type CycleEvent struct {
	Cycle       int    `json:"cycle"`
	ScheduledAt string `json:"scheduled_at"`
	Published   int    `json:"published"`
	Failed      int    `json:"failed"`
	DurationMS  int64  `json:"duration_ms"`
}

// cycleStream fans completed poll cycles out to websocket subscribers.
type cycleStream struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu    sync.RWMutex
	peers map[*streamPeer]struct{}
}

// streamPeer is one websocket connection and its channel set.
type streamPeer struct {
	stream *cycleStream
	conn   *websocket.Conn
	send   chan []byte

	mu       sync.RWMutex
	channels map[string]bool
}

// The stream is read-only and carries no credentials, so any origin is
// accepted.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

func newCycleStream(cfg config.WebSocketConfig, logger *logging.Logger) *cycleStream {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = wsDefaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = wsDefaultPongTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = wsDefaultMaxMessage
	}
	return &cycleStream{
		cfg:    cfg,
		logger: logger,
		peers:  make(map[*streamPeer]struct{}),
	}
}

// run blocks until ctx is cancelled, then disconnects every peer.
func (cs *cycleStream) run(ctx context.Context) {
	<-ctx.Done()
	cs.closeAll()
}

func (cs *cycleStream) add(p *streamPeer) {
	cs.mu.Lock()
	cs.peers[p] = struct{}{}
	n := len(cs.peers)
	cs.mu.Unlock()
	cs.logger.Debug("websocket client connected", "clients", n)
}

// remove drops p and closes its send queue. Safe to call more than once.
func (cs *cycleStream) remove(p *streamPeer) {
	cs.mu.Lock()
	_, ok := cs.peers[p]
	if ok {
		delete(cs.peers, p)
		close(p.send)
	}
	n := len(cs.peers)
	cs.mu.Unlock()
	if ok {
		cs.logger.Debug("websocket client disconnected", "clients", n)
	}
}

func (cs *cycleStream) closeAll() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for p := range cs.peers {
		delete(cs.peers, p)
		close(p.send)
		p.conn.Close()
	}
}

func (cs *cycleStream) count() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.peers)
}

// deliver queues data for p unless p has left. A full queue drops data.
// The read lock keeps remove from closing the queue mid-send.
func (cs *cycleStream) deliver(p *streamPeer, data []byte) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if _, ok := cs.peers[p]; !ok {
		return
	}
	select {
	case p.send <- data:
	default:
	}
}

// publish sends an event to every peer subscribed to channel.
func (cs *cycleStream) publish(channel string, data any) {
	msg, err := json.Marshal(streamEvent{
		Type: channel,
		At:   time.Now().UTC().Format(time.RFC3339),
		Data: data,
	})
	if err != nil {
		cs.logger.Error("failed to encode stream event", "channel", channel, "error", err)
		return
	}

	cs.mu.RLock()
	defer cs.mu.RUnlock()
	for p := range cs.peers {
		if !p.subscribed(channel) {
			continue
		}
		select {
		case p.send <- msg:
		default:
		}
	}
}

// broadcastCycle relays a completed poll cycle. It runs on the poller's
// goroutine and never blocks.
func (s *Server) broadcastCycle(cycle heatpump.PollCycle) {
	scheduled := cycle.ScheduledAt.UTC().Format(time.RFC3339)

	s.stream.publish(ChannelCycle, CycleEvent{
		Cycle:       cycle.Number,
		ScheduledAt: scheduled,
		Published:   cycle.Published(),
		Failed:      cycle.Failed(),
		DurationMS:  cycle.Duration.Milliseconds(),
	})

	values := ValuesResponse{
		Cycle:       cycle.Number,
		ScheduledAt: scheduled,
		Values:      make(map[string]ValueResponse, len(cycle.Results)),
	}
	for _, r := range cycle.Results {
		values.Values[r.Name] = toValueResponse(r)
	}
	s.stream.publish(ChannelValues, values)
}

// handleWebSocket upgrades the request and attaches it to the cycle stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	p := &streamPeer{
		stream:   s.stream,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]bool),
	}
	s.stream.add(p)

	go p.writeLoop()
	go p.readLoop()
}

func (p *streamPeer) subscribed(channel string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.channels[channel]
}

func (p *streamPeer) readLoop() {
	defer func() {
		p.stream.remove(p)
		p.conn.Close()
	}()

	cfg := p.stream.cfg
	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(deadline))
	}

	p.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	p.conn.SetPongHandler(extend)
	//nolint:errcheck // a failed deadline surfaces as a read error
	extend("")

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.stream.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces as a read error
		extend("")

		var req streamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			p.reply(streamReply{Type: "error", Error: "invalid JSON message"})
			continue
		}
		p.reply(p.handle(req))
	}
}

// handle applies req and returns the reply.
func (p *streamPeer) handle(req streamRequest) streamReply {
	switch req.Type {
	case "subscribe", "unsubscribe":
		on := req.Type == "subscribe"
		p.mu.Lock()
		for _, ch := range req.Channels {
			if on {
				p.channels[ch] = true
			} else {
				delete(p.channels, ch)
			}
		}
		p.mu.Unlock()
		return streamReply{Type: req.Type + "d", ID: req.ID, Channels: slices.Clone(req.Channels)}
	case "ping":
		return streamReply{Type: "pong", ID: req.ID}
	default:
		return streamReply{Type: "error", ID: req.ID, Error: "unknown message type: " + req.Type}
	}
}

func (p *streamPeer) reply(r streamReply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	p.stream.deliver(p, data)
}

func (p *streamPeer) writeLoop() {
	cfg := p.stream.cfg
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case data, ok := <-p.send:
			if !ok {
				//nolint:errcheck // peer is going away
				p.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			//nolint:errcheck // a failed deadline surfaces as a write error
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
