package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-safety/internal/data"
	"github.com/technosupport/ts-safety/internal/events"
	"github.com/technosupport/ts-safety/internal/state"
	"github.com/technosupport/ts-safety/internal/tokens"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for dev; restrict in prod
	},
}

const clientSendBuffer = 32

// wsEvent is the shape forwarded to connected viewers.
type wsEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan wsEvent

	mu    sync.Mutex
	rooms map[string]bool
}

func (c *wsClient) inRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[room]
}

// WSHub bridges NATS subjects to WebSocket viewers. Global subjects go
// to every client; per-stream subjects (alerts, patrol previews) are
// subscribed lazily when the first viewer joins that stream's room.
type WSHub struct {
	nc      *nats.Conn
	store   *state.Store
	tokens  *tokens.Manager
	streams data.StreamRepository

	mu      sync.Mutex
	clients map[*wsClient]bool
	subs    map[string]*nats.Subscription
}

func NewWSHub(nc *nats.Conn, store *state.Store, tm *tokens.Manager, streams data.StreamRepository) *WSHub {
	return &WSHub{
		nc:      nc,
		store:   store,
		tokens:  tm,
		streams: streams,
		clients: make(map[*wsClient]bool),
		subs:    make(map[string]*nats.Subscription),
	}
}

// Start subscribes the global subjects. Per-stream subjects are added on
// room join.
func (h *WSHub) Start() error {
	for _, subject := range []string{
		events.SubjectPTZAutotrack,
		events.SubjectZoomLevel,
		events.SubjectSystemStatus,
	} {
		if err := h.subscribeBroadcast(subject, ""); err != nil {
			return err
		}
	}
	return nil
}

// Close drops the NATS subscriptions and disconnects every client.
func (h *WSHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		_ = sub.Unsubscribe()
	}
	h.subs = make(map[string]*nats.Subscription)
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
	}
	h.clients = make(map[*wsClient]bool)
}

// subscribeBroadcast forwards a subject to every client, or only to the
// given room when room is non-empty.
func (h *WSHub) subscribeBroadcast(subject, room string) error {
	if _, ok := h.subs[subject]; ok {
		return nil
	}
	sub, err := h.nc.Subscribe(subject, func(msg *nats.Msg) {
		h.broadcast(room, wsEvent{Event: msg.Subject, Data: json.RawMessage(msg.Data)})
	})
	if err != nil {
		return err
	}
	h.subs[subject] = sub
	return nil
}

func (h *WSHub) broadcast(room string, ev wsEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if room != "" && !c.inRoom(room) {
			continue
		}
		select {
		case c.send <- ev:
		default:
			// Slow consumer: drop the event rather than block the hub.
		}
	}
}

// ServeWS upgrades the connection. Clients authenticate with a token
// query parameter and then send {"action":"join","stream_id":...}
// messages to enter per-stream rooms.
func (h *WSHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := h.tokens.ValidateToken(tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		conn:  conn,
		send:  make(chan wsEvent, clientSendBuffer),
		rooms: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	log.Printf("[WS] connected: user=%s", claims.UserID)

	go h.writeLoop(client)
	h.readLoop(client)
}

func (h *WSHub) readLoop(c *wsClient) {
	defer h.drop(c)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var payload struct {
			Action   string `json:"action"`
			StreamID string `json:"stream_id"`
		}
		if err := json.Unmarshal(msg, &payload); err != nil {
			log.Printf("[WS] bad message: %v", err)
			continue
		}

		switch payload.Action {
		case "join":
			if payload.StreamID != "" {
				h.join(c, payload.StreamID)
			}
		case "leave":
			c.mu.Lock()
			delete(c.rooms, payload.StreamID)
			c.mu.Unlock()
		}
	}
}

func (h *WSHub) writeLoop(c *wsClient) {
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// join enters the client into a stream room, subscribes that room's
// subjects and, for PTZ streams, replays the current zoom level to the
// new viewer.
func (h *WSHub) join(c *wsClient, streamID string) {
	c.mu.Lock()
	c.rooms[streamID] = true
	c.mu.Unlock()

	h.mu.Lock()
	for _, subject := range []string{
		"alert-" + streamID,
		"patrol-preview-start-" + streamID,
		"patrol-preview-waypoint-" + streamID,
		"patrol-preview-complete-" + streamID,
		"patrol-preview-error-" + streamID,
	} {
		if err := h.subscribeBroadcast(subject, streamID); err != nil {
			log.Printf("[WS] subscribe %s: %v", subject, err)
		}
	}
	h.mu.Unlock()

	h.sendZoomLevel(c, streamID)
}

func (h *WSHub) sendZoomLevel(c *wsClient, streamID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := h.streams.GetByID(ctx, streamID)
	if err != nil || s.PTZ == nil {
		return
	}

	zoom, err := h.store.ZoomLevel(ctx, streamID)
	if err != nil {
		log.Printf("[WS] zoom level %s: %v", streamID, err)
		return
	}
	payload, _ := json.Marshal(map[string]any{"stream_id": streamID, "zoom": zoom})
	select {
	case c.send <- wsEvent{Event: events.SubjectZoomLevel, Data: payload}:
	default:
	}
}

func (h *WSHub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}
