package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Hub only listens on loopback; views and agent run on the same device
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TokenSource supplies the bearer token for GET_AUTH_TOKEN requests
type TokenSource interface {
	Token() string
}

// Hub connects the open UI views and the background network agent to the
// main process. Views receive read-model and sync-completion broadcasts; the
// agent exchanges request/response messages over its dedicated bridge
// connection. There is no shared memory with the agent, only these frames.
type Hub struct {
	tokens     TokenSource
	onSyncWake func()

	mu    sync.RWMutex
	views map[string]*client
	agent *client
}

// NewHub creates a hub. onSyncWake runs when the agent relays a platform
// background-sync signal; it may be nil.
func NewHub(tokens TokenSource, onSyncWake func()) *Hub {
	return &Hub{
		tokens:     tokens,
		onSyncWake: onSyncWake,
		views:      make(map[string]*client),
	}
}

// client is a middleman between one websocket connection and the hub
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	id      string
	isAgent bool
}

// ServeViews handles a UI view connection
func (h *Hub) ServeViews(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, 256), id: "view_" + uuid.New().String()}

	h.mu.Lock()
	h.views[c.id] = c
	h.mu.Unlock()
	log.Printf("🖥️ View connected: %s", c.id)

	go c.writePump()
	go c.readPump()
}

// ServeBridge handles the background agent's bridge connection. A second
// agent connection replaces the first (agent restart).
func (h *Hub) ServeBridge(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, 256), id: "agent", isAgent: true}

	h.mu.Lock()
	if old := h.agent; old != nil {
		close(old.send)
	}
	h.agent = c
	h.mu.Unlock()
	log.Println("🔌 Agent bridge connected")

	go c.writePump()
	go c.readPump()
}

// Broadcast sends a message to every connected view
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshaling broadcast payload: %v", err)
		return
	}
	frame, err := json.Marshal(Message{Type: msgType, Payload: raw})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.views {
		select {
		case c.send <- frame:
		default:
			// Buffer full or view dead; drop rather than block the hub
		}
	}
}

// SendToAgent delivers a message to the bridge, if connected
func (h *Hub) SendToAgent(msg Message) bool {
	frame, err := json.Marshal(msg)
	if err != nil {
		return false
	}

	h.mu.RLock()
	agent := h.agent
	h.mu.RUnlock()

	if agent == nil {
		return false
	}
	select {
	case agent.send <- frame:
		return true
	default:
		return false
	}
}

// dispatch routes one inbound frame
func (h *Hub) dispatch(c *client, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	switch msg.Type {
	case TypeGetAuthToken:
		if !c.isAgent {
			return
		}
		token := ""
		if h.tokens != nil {
			token = h.tokens.Token()
		}
		payload, _ := json.Marshal(AuthTokenPayload{Token: token})
		reply, _ := json.Marshal(Message{Type: TypeAuthToken, ReplyTo: msg.MsgID, Payload: payload})
		select {
		case c.send <- reply:
		default:
		}

	case TypeSyncWake:
		if !c.isAgent {
			return
		}
		log.Println("⏰ Background sync wake received from agent")
		if h.onSyncWake != nil {
			h.onSyncWake()
		}

	case TypeSkipWaiting:
		// Views ask, the agent acts
		h.SendToAgent(Message{Type: TypeSkipWaiting, MsgID: msg.MsgID})
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.isAgent {
		if h.agent == c {
			h.agent = nil
			log.Println("🔌 Agent bridge disconnected")
		}
		return
	}
	if _, ok := h.views[c.id]; ok {
		delete(h.views, c.id)
		close(c.send)
		log.Printf("🖥️ View disconnected: %s", c.id)
	}
}

// readPump pumps messages from the websocket connection to the hub
func (c *client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS error: %v", err)
			}
			break
		}
		c.hub.dispatch(c, message)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
