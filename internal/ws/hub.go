// Package ws is the real-time fan-out transport: per-market rooms for
// book/match activity and per-user rooms for account activity, both fed by
// the core's events.Publisher calls. It treats the domain's event payloads
// (internal/events) as opaque data and knows nothing about how they're
// produced — it only routes already-built messages to the right sockets.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Msg is the envelope sent to subscribers. Exactly one of MarketID/UserID
// is set, matching whether the message went out via Publish or
// PublishToUser. Data carries one of the typed payloads from
// internal/events (BalanceUpdatePayload, BetPlacedPayload,
// BetSettledPayload, MatchUpdatePayload) — the envelope itself stays
// generic so the transport doesn't need to import the domain's event
// types, but every caller in this tree passes one of those four.
type Msg struct {
	Type     string `json:"type"`
	MarketID string `json:"market_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Data     any    `json:"data"`
}

// Hub manages per-market and per-user subscriptions and satisfies
// events.Publisher.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[*conn]bool // marketID -> subscribers
	userRooms map[string]map[*conn]bool // userID -> connections authenticated as that user
	allConn   map[*conn]bool
}

type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	hub    *Hub
	market string
	userID string
}

func NewHub() *Hub {
	return &Hub{
		rooms:     make(map[string]map[*conn]bool),
		userRooms: make(map[string]map[*conn]bool),
		allConn:   make(map[*conn]bool),
	}
}

// Publish sends msgType/data to every subscriber of marketID's room.
func (h *Hub) Publish(marketID, msgType string, data any) {
	b, err := json.Marshal(Msg{Type: msgType, MarketID: marketID, Data: data})
	if err != nil {
		return
	}
	h.mu.RLock()
	room := h.rooms[marketID]
	h.mu.RUnlock()
	h.fanOut(room, b)
}

// PublishToUser sends msgType/data to every connection authenticated as
// userID, independent of whatever market rooms those connections are
// subscribed to. balance_update and bet_settled are addressed this way:
// they belong to one user's account, not to a single market's room.
func (h *Hub) PublishToUser(userID, msgType string, data any) {
	b, err := json.Marshal(Msg{Type: msgType, UserID: userID, Data: data})
	if err != nil {
		return
	}
	h.mu.RLock()
	room := h.userRooms[userID]
	h.mu.RUnlock()
	h.fanOut(room, b)
}

func (h *Hub) fanOut(room map[*conn]bool, b []byte) {
	for c := range room {
		select {
		case c.send <- b:
		default:
			// slow client, drop rather than block the publisher
		}
	}
}

// HandleWS upgrades the request and starts the connection's pumps. A
// connection identifies itself for account-scoped delivery via the
// user_id query parameter set by the client after it authenticates over
// HTTP; an anonymous connection still receives market-room broadcasts via
// the subscribe/unsubscribe actions below, it just never gets
// balance_update/bet_placed/bet_settled.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}
	c := &conn{ws: wsConn, send: make(chan []byte, 64), hub: h, userID: r.URL.Query().Get("user_id")}
	h.mu.Lock()
	h.allConn[c] = true
	if c.userID != "" {
		room, ok := h.userRooms[c.userID]
		if !ok {
			room = make(map[*conn]bool)
			h.userRooms[c.userID] = room
		}
		room[c] = true
	}
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (c *conn) readPump() {
	defer func() {
		c.hub.removeConn(c)
		c.ws.Close()
	}()
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		var sub struct {
			Action   string `json:"action"`
			MarketID string `json:"market_id"`
		}
		if err := json.Unmarshal(msg, &sub); err != nil {
			continue
		}
		switch sub.Action {
		case "subscribe":
			c.hub.subscribe(c, sub.MarketID)
		case "unsubscribe":
			c.hub.unsubscribe(c, sub.MarketID)
		}
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
}

func (h *Hub) subscribe(c *conn, marketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.market != "" {
		if room, ok := h.rooms[c.market]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, c.market)
			}
		}
	}
	c.market = marketID
	room, ok := h.rooms[marketID]
	if !ok {
		room = make(map[*conn]bool)
		h.rooms[marketID] = room
	}
	room[c] = true
}

func (h *Hub) unsubscribe(c *conn, marketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[marketID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, marketID)
		}
	}
	if c.market == marketID {
		c.market = ""
	}
}

func (h *Hub) removeConn(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.allConn, c)
	if c.market != "" {
		if room, ok := h.rooms[c.market]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, c.market)
			}
		}
	}
	if c.userID != "" {
		if room, ok := h.userRooms[c.userID]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.userRooms, c.userID)
			}
		}
	}
	close(c.send)
}
