package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-resgraph/internal/auth"
	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-resgraph/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-resgraph/internal/pattern"
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// Event channels.
const (
	ChannelResourceValue     = "resource.value"
	ChannelResourceStructure = "resource.structure"

	// ChannelPatternPrefix is followed by a pattern name, e.g. "pattern.thermostat".
	ChannelPatternPrefix = "pattern."
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// valueEventPayload is broadcast on ChannelResourceValue.
type valueEventPayload struct {
	Path   string    `json:"path"`
	Value  any       `json:"value"`
	Old    any       `json:"old,omitempty"`
	Writer string    `json:"writer,omitempty"`
	Time   time.Time `json:"time"`
}

// structureEventPayload is broadcast on ChannelResourceStructure.
type structureEventPayload struct {
	Kind  string `json:"kind"`
	Path  string `json:"path"`
	Child string `json:"child,omitempty"`
}

// patternEventPayload is broadcast on the pattern channels.
type patternEventPayload struct {
	Event    string       `json:"event"`
	Instance instanceView `json:"instance"`
	Fields   []string     `json:"fields,omitempty"`
}

// Hub manages WebSocket connections and broadcasts graph and pattern events.
//
// Graph events are observed for the lifetime of Run. Pattern channels are
// backed by observer demands that exist only while at least one client is
// subscribed to them.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	patterns *pattern.Manager
	clients  map[*WSClient]struct{}
	mu       sync.RWMutex

	feedMu sync.Mutex
	feeds  map[string]*patternFeed
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex

	// Identity propagated from the WebSocket ticket.
	subject string
	scope   *auth.PathScope
}

// patternFeed is the observer demand behind one pattern channel.
type patternFeed struct {
	hub  *Hub
	name string
	refs int
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, patterns *pattern.Manager) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		patterns: patterns,
		clients:  make(map[*WSClient]struct{}),
		feeds:    make(map[string]*patternFeed),
	}
}

// Run observes g and broadcasts its events until ctx is cancelled, then
// drops every pattern feed and disconnects all clients.
func (h *Hub) Run(ctx context.Context, g *resource.Graph) {
	reg := g.Observe(h)
	<-ctx.Done()
	reg.Remove()
	h.closeFeeds()
	h.closeAll()
}

// ResourceStructureChanged implements resource.Observer.
func (h *Hub) ResourceStructureChanged(e resource.StructureEvent) {
	payload := structureEventPayload{Kind: e.Kind.String(), Path: e.Source.Path()}
	if e.Child != nil {
		payload.Child = e.Child.Path()
	}
	h.Broadcast(ChannelResourceStructure, payload.Path, payload)
}

// ResourceValueChanged implements resource.Observer.
func (h *Hub) ResourceValueChanged(e resource.ValueEvent) {
	h.Broadcast(ChannelResourceValue, e.Source.Path(), valueEventPayload{
		Path:   e.Source.Path(),
		Value:  e.New,
		Old:    e.Old,
		Writer: e.Writer,
		Time:   e.Time,
	})
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub and releases its pattern feeds.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
		for _, ch := range client.dropSubscriptions() {
			if name, ok := strings.CutPrefix(ch, ChannelPatternPrefix); ok {
				h.releaseFeed(name)
			}
		}
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends an event to all clients subscribed to channel whose token
// scope covers path. Lock ordering: hub lock is acquired first, then released
// before per-client subscription checks.
func (h *Hub) Broadcast(channel, path string, payload any) {
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()
	if len(clients) == 0 {
		return
	}

	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	sentCount := 0
	for _, client := range clients {
		if client.isSubscribed(channel) && client.scope.CanAccess(path) {
			client.trySend(data)
			sentCount++
		}
	}
	if sentCount > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sentCount)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// FeedCount returns the number of pattern channels with subscribers.
func (h *Hub) FeedCount() int {
	h.feedMu.Lock()
	defer h.feedMu.Unlock()
	return len(h.feeds)
}

// acquireFeed registers the observer demand for a pattern channel on first use.
func (h *Hub) acquireFeed(name string) error {
	h.feedMu.Lock()
	defer h.feedMu.Unlock()
	if f, ok := h.feeds[name]; ok {
		f.refs++
		return nil
	}
	f := &patternFeed{hub: h, name: name, refs: 1}
	if err := h.patterns.AddPatternObserver(name, f); err != nil {
		return err
	}
	h.feeds[name] = f
	return nil
}

// releaseFeed drops the observer demand once the last subscriber is gone.
func (h *Hub) releaseFeed(name string) {
	h.feedMu.Lock()
	f, ok := h.feeds[name]
	if !ok {
		h.feedMu.Unlock()
		return
	}
	f.refs--
	if f.refs > 0 {
		h.feedMu.Unlock()
		return
	}
	delete(h.feeds, name)
	h.feedMu.Unlock()
	h.patterns.RemovePatternDemand(name, f)
}

func (h *Hub) closeFeeds() {
	h.feedMu.Lock()
	feeds := h.feeds
	h.feeds = make(map[string]*patternFeed)
	h.feedMu.Unlock()
	for name, f := range feeds {
		h.patterns.RemovePatternDemand(name, f)
	}
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

func (f *patternFeed) broadcast(event string, inst *pattern.Instance, fields []string) {
	f.hub.Broadcast(ChannelPatternPrefix+f.name, inst.Anchor().Path(), patternEventPayload{
		Event:    event,
		Instance: newInstanceView(inst),
		Fields:   fields,
	})
}

func (f *patternFeed) PatternAvailable(inst *pattern.Instance) {
	f.broadcast("available", inst, nil)
}

func (f *patternFeed) PatternUnavailable(inst *pattern.Instance) {
	f.broadcast("unavailable", inst, nil)
}

func (f *patternFeed) PatternChanged(inst *pattern.Instance, changes []pattern.ChangeEvent) {
	fields := make([]string, 0, len(changes))
	for _, c := range changes {
		fields = append(fields, c.Field)
	}
	f.broadcast("changed", inst, fields)
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// Authentication is via ticket query parameter (obtained from POST /auth/ws-ticket).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	claims, ok := s.tickets.redeem(ticket)
	if !ok || claims == nil {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
		subject:       claims.Subject,
		scope:         claims.PathScope(),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func decodeChannels(payload any) ([]string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, err
	}
	return sub.Channels, nil
}

// validChannel reports whether ch names a known channel.
func validChannel(ch string) bool {
	switch ch {
	case ChannelResourceValue, ChannelResourceStructure:
		return true
	}
	name, ok := strings.CutPrefix(ch, ChannelPatternPrefix)
	return ok && name != ""
}

// handleSubscribe adds channels to the client's subscription list. A
// pattern channel for an unknown pattern is rejected.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	channels, err := decodeChannels(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	subscribed := make([]string, 0, len(channels))
	var failed []string
	for _, ch := range channels {
		if !validChannel(ch) {
			failed = append(failed, ch)
			continue
		}
		if c.isSubscribed(ch) {
			subscribed = append(subscribed, ch)
			continue
		}
		if name, ok := strings.CutPrefix(ch, ChannelPatternPrefix); ok {
			if err := c.hub.acquireFeed(name); err != nil {
				c.hub.logger.Debug("pattern channel rejected", "channel", ch, "error", err)
				failed = append(failed, ch)
				continue
			}
		}
		c.mu.Lock()
		c.subscriptions[ch] = struct{}{}
		c.mu.Unlock()
		subscribed = append(subscribed, ch)
	}

	c.hub.logger.Info("websocket client subscribed", "subject", c.subject, "channels", subscribed)

	resp := map[string]any{"subscribed": subscribed}
	if len(failed) > 0 {
		resp["rejected"] = failed
	}
	c.sendResponse(msg.ID, WSTypeResponse, resp)
}

// handleUnsubscribe removes channels from the client's subscription list.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	channels, err := decodeChannels(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	for _, ch := range channels {
		c.mu.Lock()
		_, had := c.subscriptions[ch]
		delete(c.subscriptions, ch)
		c.mu.Unlock()
		if name, ok := strings.CutPrefix(ch, ChannelPatternPrefix); ok && had {
			c.hub.releaseFeed(name)
		}
	}

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": channels,
	})
}

// dropSubscriptions clears and returns the client's channels.
func (c *WSClient) dropSubscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		out = append(out, ch)
	}
	clear(c.subscriptions)
	return out
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}

// String identifies the client in logs.
func (c *WSClient) String() string {
	return fmt.Sprintf("ws:%s", c.subject)
}
