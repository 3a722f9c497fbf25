package agent

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fieldaxis/fieldsync/internal/hub"
)

const (
	bridgeWriteWait   = 10 * time.Second
	bridgePongWait    = 60 * time.Second
	bridgePingPeriod  = (bridgePongWait * 9) / 10
	bridgeRedialDelay = 5 * time.Second
	authTokenTimeout  = 3 * time.Second
	bridgeSendBacklog = 16
)

// Bridge is the agent's websocket connection to the main process. The agent
// never touches the session store; everything it needs crosses this channel
// as messages.
type Bridge struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan hub.Message // by MsgID, for request/response

	send chan hub.Message
	stop chan struct{}

	// OnSkipWaiting fires when a view asked the pending agent version to
	// take over immediately.
	OnSkipWaiting func()
}

// NewBridge creates a bridge that will dial the given websocket URL
func NewBridge(url string) *Bridge {
	return &Bridge{
		url:     url,
		pending: make(map[string]chan hub.Message),
		send:    make(chan hub.Message, bridgeSendBacklog),
		stop:    make(chan struct{}),
	}
}

// Start dials the main process and keeps the connection alive, redialing on
// loss. Runs until Stop.
func (b *Bridge) Start() {
	go func() {
		for {
			select {
			case <-b.stop:
				return
			default:
			}

			if err := b.run(); err != nil {
				log.Printf("⚠️ Bridge connection lost: %v", err)
			}

			select {
			case <-time.After(bridgeRedialDelay):
			case <-b.stop:
				return
			}
		}
	}()
}

// Stop tears the bridge down
func (b *Bridge) Stop() {
	close(b.stop)
	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.mu.Unlock()
}

// AuthToken asks the main process for the current bearer token. If no reply
// arrives in time (main process down, session locked) it returns an empty
// token: requests go out unauthenticated and the upstream's 401 flows back
// to the caller.
func (b *Bridge) AuthToken() string {
	msgID := uuid.NewString()
	reply := make(chan hub.Message, 1)

	b.mu.Lock()
	b.pending[msgID] = reply
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, msgID)
		b.mu.Unlock()
	}()

	if !b.enqueue(hub.Message{Type: hub.TypeGetAuthToken, MsgID: msgID}) {
		return ""
	}

	select {
	case msg := <-reply:
		var payload hub.AuthTokenPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			log.Printf("⚠️ Malformed AUTH_TOKEN reply: %v", err)
			return ""
		}
		return payload.Token
	case <-time.After(authTokenTimeout):
		log.Println("⚠️ Auth token request timed out, proceeding unauthenticated")
		return ""
	}
}

// SendSyncWake notifies the main process that a background-sync trigger
// fired and the queue should drain.
func (b *Bridge) SendSyncWake() {
	b.enqueue(hub.Message{Type: hub.TypeSyncWake})
}

func (b *Bridge) enqueue(msg hub.Message) bool {
	select {
	case b.send <- msg:
		return true
	default:
		log.Println("⚠️ Bridge send backlog full, dropping message")
		return false
	}
}

func (b *Bridge) run() error {
	conn, _, err := websocket.DefaultDialer.Dial(b.url, nil)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	log.Println("🔌 Bridge connected to main process")

	done := make(chan struct{})
	go b.writePump(conn, done)

	conn.SetReadDeadline(time.Now().Add(bridgePongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(bridgePongWait))
		return nil
	})

	for {
		var msg hub.Message
		if err := conn.ReadJSON(&msg); err != nil {
			close(done)
			conn.Close()
			return err
		}
		b.dispatch(msg)
	}
}

func (b *Bridge) writePump(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(bridgePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-b.send:
			conn.SetWriteDeadline(time.Now().Add(bridgeWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(bridgeWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-b.stop:
			return
		}
	}
}

func (b *Bridge) dispatch(msg hub.Message) {
	switch msg.Type {
	case hub.TypeAuthToken:
		b.mu.Lock()
		reply, ok := b.pending[msg.ReplyTo]
		b.mu.Unlock()
		if ok {
			reply <- msg
		}
	case hub.TypeSkipWaiting:
		if b.OnSkipWaiting != nil {
			b.OnSkipWaiting()
		}
	default:
		log.Printf("⚠️ Bridge received unknown message type: %s", msg.Type)
	}
}
