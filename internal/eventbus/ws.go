package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/llmos-bridge/daemon/internal/model"
)

// defaultWriteTimeout bounds how long a single client send may block before
// it's abandoned, so one slow consumer can't stall WSBus.Emit for everyone.
const defaultWriteTimeout = 5 * time.Second

// wsClient is a single subscriber. subscriptions is written only by the
// connection's read loop (HandleConnection) and read by Emit; both do so
// while holding WSBus.mu.
type wsClient struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

type subscribeMsg struct {
	Action  string `json:"action"`
	Pattern string `json:"pattern"`
}

// WSBus fans events out to subscribed WebSocket clients, filtering per
// client by the MQTT-style patterns it has subscribed to. Each process owns
// one WSBus; HandleConnection is called once per accepted connection from
// the HTTP layer's upgrade handler.
type WSBus struct {
	mu      sync.RWMutex
	clients map[string]*wsClient

	writeTimeout time.Duration
}

func NewWSBus() *WSBus {
	return &WSBus{
		clients:      make(map[string]*wsClient),
		writeTimeout: defaultWriteTimeout,
	}
}

// HandleConnection manages one client's lifecycle. Blocks until the
// connection closes; call it in its own goroutine from the upgrade handler.
func (b *WSBus) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &wsClient{
		id:            uuid.New().String(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	b.register(c)
	defer b.unregister(c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("event bus: invalid websocket message", "connection_id", c.id, "error", err)
			continue
		}
		b.mu.Lock()
		switch msg.Action {
		case "subscribe":
			c.subscriptions[msg.Pattern] = true
		case "unsubscribe":
			delete(c.subscriptions, msg.Pattern)
		}
		b.mu.Unlock()
	}
}

// ActiveConnections reports the number of currently connected clients.
func (b *WSBus) ActiveConnections() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *WSBus) register(c *wsClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c.id] = c
}

func (b *WSBus) unregister(c *wsClient) {
	b.mu.Lock()
	delete(b.clients, c.id)
	b.mu.Unlock()
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// Emit delivers event to every subscribed client whose pattern matches
// topic. Snapshotting client pointers under the lock, then releasing it
// before writing, keeps a slow client's write from blocking
// register/unregister on other connections — the same tradeoff the
// teacher's Broadcast makes.
func (b *WSBus) Emit(topic string, event model.EventRecord) {
	event = stamp(topic, event)

	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("event bus: failed to marshal event for websocket fan-out", "topic", topic, "error", err)
		return
	}

	b.mu.RLock()
	recipients := make([]*wsClient, 0, len(b.clients))
	for _, c := range b.clients {
		for pattern := range c.subscriptions {
			if topicMatches(pattern, topic) {
				recipients = append(recipients, c)
				break
			}
		}
	}
	b.mu.RUnlock()

	for _, c := range recipients {
		b.send(c, payload)
	}
}

func (b *WSBus) send(c *wsClient, payload []byte) {
	writeCtx, cancel := context.WithTimeout(c.ctx, b.writeTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		slog.Warn("event bus: failed to send to websocket client", "connection_id", c.id, "error", err)
	}
}
