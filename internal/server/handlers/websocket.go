package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"shoutmap/internal/domain/chat"
	"shoutmap/internal/domain/social"
	"shoutmap/internal/realtime"
	geoservice "shoutmap/internal/service/geo"
	"shoutmap/internal/service/session"
)

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 64 * 1024,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, this should be more restrictive
		return true
	},
}

// GatewayHandler upgrades clients to WebSocket and bridges them onto the
// realtime core: geo-bucketed presence broadcasts, change-stream pushes for
// tracked conversations, invitation updates and typing indicators.
type GatewayHandler struct {
	sessions    *session.Manager
	registry    *realtime.Registry
	broadcaster *realtime.Broadcaster
	bus         realtime.Bus
	chat        chat.Store
	social      banChecker
	megaphones  membershipChecker
	geo         *geoservice.Service
	maxContent  int
	cfg         WebSocketConfig
}

// NewGatewayHandler creates a new realtime gateway
func NewGatewayHandler(sessions *session.Manager, registry *realtime.Registry, broadcaster *realtime.Broadcaster, bus realtime.Bus, chatStore chat.Store, socialStore banChecker, megaphones membershipChecker, geo *geoservice.Service, maxContent int, cfg WebSocketConfig) *GatewayHandler {
	return &GatewayHandler{
		sessions:    sessions,
		registry:    registry,
		broadcaster: broadcaster,
		bus:         bus,
		chat:        chatStore,
		social:      socialStore,
		megaphones:  megaphones,
		geo:         geo,
		maxContent:  maxContent,
		cfg:         cfg,
	}
}

// authorizedConversations filters a requested conversation list down to the
// ones the user may access, running the same participation, ban and
// membership checks as the HTTP chat handlers.
func (h *GatewayHandler) authorizedConversations(ctx context.Context, userID string, ids []string) []string {
	allowed := make([]string, 0, len(ids))
	for _, id := range ids {
		ok, err := canAccessConversation(ctx, h.social, h.megaphones, userID, id)
		if err != nil {
			log.Printf("Failed to check conversation access for %s: %v", id, err)
			continue
		}
		if !ok {
			log.Printf("Dropping tracked conversation %s: user %s not authorized", id, userID)
			continue
		}
		allowed = append(allowed, id)
	}
	return allowed
}

// wsClient is one connected peer.
type wsClient struct {
	h       *GatewayHandler
	conn    *websocket.Conn
	send    chan []byte
	userID  string
	session *session.Session

	messages    *realtime.Listener
	invitations *realtime.Listener

	mu            sync.Mutex
	tracked       map[string]struct{}
	typingHandles map[string]*realtime.Handle
	stopBroadcast func()
	lastLat       float64
	lastLng       float64
	hasLocation   bool

	// sendMu guards send against close: listener callbacks can still be
	// in flight when teardown runs, so push and closeSend serialize here.
	sendMu     sync.Mutex
	sendClosed bool

	closeOnce sync.Once
}

// Serve handles a WebSocket connection for the authenticated user
func (h *GatewayHandler) Serve(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		http.Error(w, "Missing user ID", http.StatusUnauthorized)
		return
	}

	s, err := h.sessions.Acquire(userID)
	if err != nil {
		http.Error(w, "Failed to open session", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.sessions.Release(s)
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	c := &wsClient{
		h:             h,
		conn:          conn,
		send:          make(chan []byte, 256),
		userID:        userID,
		session:       s,
		tracked:       make(map[string]struct{}),
		typingHandles: make(map[string]*realtime.Handle),
	}

	if err := c.subscribe(); err != nil {
		log.Printf("Failed to attach realtime streams for %s: %v", userID, err)
		c.teardown()
		return
	}

	go c.writePump()
	go c.readPump()

	c.push(map[string]interface{}{
		"type":    "welcome",
		"user_id": userID,
		"time":    time.Now(),
	})

	log.Printf("WebSocket connected: user %s", userID)
}

// subscribe attaches the change-stream listeners that live for the whole
// connection. Tracked-conversation filtering happens per event so the set
// can change without resubscribing.
func (c *wsClient) subscribe() error {
	messages, err := realtime.NewListener(c.h.registry, realtime.ListenerConfig{
		Table:   "messages",
		Enabled: true,
		Filter: func(event realtime.ChangeEvent) bool {
			var row struct {
				ConversationID string `json:"conversation_id"`
			}
			if err := json.Unmarshal(event.Row, &row); err != nil {
				return false
			}
			c.mu.Lock()
			_, ok := c.tracked[row.ConversationID]
			c.mu.Unlock()
			return ok
		},
		Callbacks: realtime.Callbacks{
			OnInsert: func(event realtime.ChangeEvent) {
				c.pushMessage("message", event)
			},
			OnUpdate: func(event realtime.ChangeEvent) {
				c.pushMessage("message_updated", event)
			},
			OnDelete: func(event realtime.ChangeEvent) {
				c.pushMessage("message_deleted", event)
			},
		},
	})
	if err != nil {
		return err
	}
	c.messages = messages

	invitations, err := realtime.NewListener(c.h.registry, realtime.ListenerConfig{
		Table:   "invitations",
		Enabled: true,
		Filter: func(event realtime.ChangeEvent) bool {
			var row struct {
				FromID string `json:"from_id"`
				ToID   string `json:"to_id"`
			}
			if err := json.Unmarshal(event.Row, &row); err != nil {
				return false
			}
			return row.FromID == c.userID || row.ToID == c.userID
		},
		Callbacks: realtime.Callbacks{
			OnInsert: func(event realtime.ChangeEvent) {
				c.pushInvitation(event)
			},
			OnUpdate: func(event realtime.ChangeEvent) {
				c.pushInvitation(event)
			},
		},
	})
	if err != nil {
		messages.Close()
		return err
	}
	c.invitations = invitations

	return nil
}

func (c *wsClient) readPump() {
	cfg := c.h.cfg

	defer c.teardown()

	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		c.handleFrame(message)
	}
}

func (c *wsClient) writePump() {
	cfg := c.h.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.teardown()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush queued messages into the same frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// pushMessage decodes a message-table change row into its typed entity
// before forwarding. Undecodable rows are dropped, not forwarded as blobs.
func (c *wsClient) pushMessage(kind string, event realtime.ChangeEvent) {
	var m chat.Message
	if err := json.Unmarshal(event.Row, &m); err != nil {
		log.Printf("Dropping undecodable message row: %v", err)
		return
	}
	c.push(map[string]interface{}{"type": kind, "message": m, "time": event.At})
}

func (c *wsClient) pushInvitation(event realtime.ChangeEvent) {
	var inv social.Invitation
	if err := json.Unmarshal(event.Row, &inv); err != nil {
		log.Printf("Dropping undecodable invitation row: %v", err)
		return
	}
	c.push(map[string]interface{}{"type": "inbox", "invitation": inv, "time": event.At})
}

// gatewayFrame is the envelope for every inbound client frame.
type gatewayFrame struct {
	Type           string   `json:"type"`
	Lat            float64  `json:"lat"`
	Lng            float64  `json:"lng"`
	RadiusMeters   float64  `json:"radius_meters"`
	Event          string   `json:"event"`
	ConversationID string   `json:"conversation_id"`
	Conversations  []string `json:"conversations"`
	Content        string   `json:"content"`
	MessageID      string   `json:"message_id"`
}

func (c *wsClient) handleFrame(message []byte) {
	var frame gatewayFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Printf("Failed to parse WebSocket frame: %v", err)
		return
	}

	switch frame.Type {
	case "location":
		c.handleLocation(frame)
	case "broadcast":
		c.handleBroadcast(frame)
	case "track":
		c.handleTrack(frame)
	case "active":
		c.session.Unread.SetActive(context.Background(), frame.ConversationID)
	case "message":
		c.handleMessage(frame)
	case "reaction":
		c.handleReaction(frame)
	case "typing":
		c.handleTyping(frame)
	default:
		log.Printf("Unknown frame type: %s", frame.Type)
	}
}

// handleLocation moves the client on the map: the presence subscription is
// rebuilt over the cells covering the new position and an appearance event
// goes out to the client's own cell.
func (c *wsClient) handleLocation(frame gatewayFrame) {
	radius := c.h.geo.ClampRadius(frame.RadiusMeters)

	stop, err := c.h.broadcaster.Subscribe(c.userID, frame.Lat, frame.Lng, radius, func(event realtime.BroadcastEvent) {
		c.push(map[string]interface{}{
			"type":    "presence",
			"event":   event.Type,
			"user_id": event.UserID,
			"lat":     event.Lat,
			"lng":     event.Lng,
			"time":    event.At,
		})
	})
	if err != nil {
		log.Printf("Failed to subscribe to presence cells: %v", err)
		return
	}

	c.mu.Lock()
	if c.stopBroadcast != nil {
		c.stopBroadcast()
	}
	c.stopBroadcast = stop
	c.lastLat, c.lastLng = frame.Lat, frame.Lng
	c.hasLocation = true
	c.mu.Unlock()

	c.h.broadcaster.Publish(c.userID, "moved", frame.Lat, frame.Lng)
}

// handleBroadcast publishes a named event at the client's last position.
func (c *wsClient) handleBroadcast(frame gatewayFrame) {
	c.mu.Lock()
	lat, lng, ok := c.lastLat, c.lastLng, c.hasLocation
	c.mu.Unlock()

	if !ok || frame.Event == "" {
		return
	}

	c.h.broadcaster.Publish(c.userID, frame.Event, lat, lng)
}

// handleTrack replaces the set of conversations the client wants pushes for,
// wiring unread tracking and per-conversation typing streams to match.
// Conversations the client may not access are dropped before anything
// subscribes to them.
func (c *wsClient) handleTrack(frame gatewayFrame) {
	allowed := c.h.authorizedConversations(context.Background(), c.userID, frame.Conversations)

	next := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		next[id] = struct{}{}
	}

	c.session.Unread.Track(allowed...)

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, handle := range c.typingHandles {
		if _, keep := next[id]; !keep {
			handle.Release()
			delete(c.typingHandles, id)
		}
	}
	for id := range next {
		if _, ok := c.typingHandles[id]; ok {
			continue
		}
		handle, _, err := c.h.registry.Acquire(typingTopic(id), func(data []byte) {
			c.push(json.RawMessage(data))
		})
		if err != nil {
			log.Printf("Failed to subscribe to typing stream: %v", err)
			continue
		}
		c.typingHandles[id] = handle
	}

	c.tracked = next
}

// handleMessage persists a chat message sent over the socket. The resulting
// change event fans back out to every tracked listener, this client included.
// Only conversations the client tracks accept socket sends; track admission
// already ran the participation, ban and membership checks.
func (c *wsClient) handleMessage(frame gatewayFrame) {
	if frame.ConversationID == "" || frame.Content == "" {
		return
	}
	if c.h.maxContent > 0 && len(frame.Content) > c.h.maxContent {
		return
	}

	c.mu.Lock()
	_, tracked := c.tracked[frame.ConversationID]
	c.mu.Unlock()
	if !tracked {
		return
	}

	m := chat.Message{
		ID:             uuid.New().String(),
		ConversationID: frame.ConversationID,
		SenderID:       c.userID,
		Content:        frame.Content,
		CreatedAt:      time.Now(),
	}

	if err := c.h.chat.SaveMessage(context.Background(), m); err != nil {
		log.Printf("Failed to save socket message: %v", err)
	}
}

// handleReaction toggles the client's reaction through the optimistic
// aggregate; a failed write rolls the aggregate back to stored truth.
func (c *wsClient) handleReaction(frame gatewayFrame) {
	if frame.MessageID == "" {
		return
	}

	c.session.Reactions.Track(frame.MessageID)
	if err := c.session.Reactions.Toggle(context.Background(), frame.MessageID); err != nil {
		log.Printf("Failed to toggle reaction: %v", err)
		return
	}

	c.push(map[string]interface{}{
		"type":       "reaction",
		"message_id": frame.MessageID,
		"count":      c.session.Reactions.Count(frame.MessageID),
		"reacted":    c.session.Reactions.HasReacted(frame.MessageID),
	})
}

// handleTyping fans a transient typing indicator out to the conversation.
// Indicators are never persisted.
func (c *wsClient) handleTyping(frame gatewayFrame) {
	if frame.ConversationID == "" {
		return
	}

	data, err := json.Marshal(map[string]interface{}{
		"type":            "typing",
		"conversation_id": frame.ConversationID,
		"user_id":         c.userID,
		"time":            time.Now(),
	})
	if err != nil {
		return
	}

	if err := c.h.bus.Publish(typingTopic(frame.ConversationID), data); err != nil {
		log.Printf("Failed to publish typing indicator: %v", err)
	}
}

func (c *wsClient) push(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- data:
	default:
		// Slow consumer, drop rather than block the realtime path.
	}
}

// closeSend closes the outbound queue once no push can race it.
func (c *wsClient) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

func (c *wsClient) teardown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.stopBroadcast != nil {
			c.stopBroadcast()
			c.stopBroadcast = nil
		}
		for id, handle := range c.typingHandles {
			handle.Release()
			delete(c.typingHandles, id)
		}
		c.mu.Unlock()

		if c.messages != nil {
			c.messages.Close()
		}
		if c.invitations != nil {
			c.invitations.Close()
		}

		c.h.sessions.Release(c.session)
		c.conn.Close()
		c.closeSend()

		log.Printf("WebSocket disconnected: user %s", c.userID)
	})
}

func typingTopic(conversationID string) string {
	return "typing." + strings.ReplaceAll(conversationID, ":", "_")
}
