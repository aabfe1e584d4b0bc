// Package hub fans ack-commit notifications out to subscribers of the
// token that owns the ack.
package hub

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"hec-relp-gateway/internal/model"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	Token  string
	Writer Writer
}

// queueSize bounds the messages buffered per connection. A connection
// whose queue is full is dropped.
const queueSize = 64

type subscriber struct {
	conn  *Connection
	queue chan []byte
}

// Hub delivers messages to each connection from its own goroutine, so
// Broadcast never waits on a client.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]*subscriber
	logger      *slog.Logger
}

func New() *Hub {
	return NewWithLogger(nil)
}

func NewWithLogger(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{connections: make(map[string]map[*Connection]*subscriber), logger: logger}
}

func (h *Hub) Register(conn *Connection) {
	sub := &subscriber{conn: conn, queue: make(chan []byte, queueSize)}

	h.mu.Lock()
	if h.connections[conn.Token] == nil {
		h.connections[conn.Token] = make(map[*Connection]*subscriber)
	}
	h.connections[conn.Token][conn] = sub
	h.mu.Unlock()

	go h.writeLoop(sub)
}

func (h *Hub) Unregister(conn *Connection) {
	h.remove(conn)
}

// remove deletes conn and stops its writer. It reports whether conn was
// still registered.
func (h *Hub) remove(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.Token]
	sub, ok := set[conn]
	if !ok {
		return false
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.Token)
	}
	close(sub.queue)
	return true
}

func (h *Hub) drop(conn *Connection, reason string, err error) {
	if !h.remove(conn) {
		return
	}
	_ = conn.Writer.Close()
	h.logger.Info("dropped subscriber", "reason", reason, "error", err)
}

func (h *Hub) writeLoop(sub *subscriber) {
	for msg := range sub.queue {
		if err := sub.conn.Writer.Write(msg); err != nil {
			h.drop(sub.conn, "write failed", err)
			return
		}
	}
}

// Subscribers returns the number of connections registered for token.
func (h *Hub) Subscribers(token string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[token])
}

// Broadcast queues message for every connection of token without
// blocking. Connections that cannot keep up are dropped.
func (h *Hub) Broadcast(token string, message []byte) {
	var slow []*Connection

	h.mu.RLock()
	for conn, sub := range h.connections[token] {
		select {
		case sub.queue <- message:
		default:
			slow = append(slow, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range slow {
		h.drop(conn, "queue full", nil)
	}
}

// AckMessage is pushed to subscribers when an ack id commits.
type AckMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	AckID   int64  `json:"ackID"`
}

// AckCommitted broadcasts key to the subscribers of its token.
func (h *Hub) AckCommitted(key model.AckKey) {
	if h.Subscribers(key.Token) == 0 {
		return
	}
	out, err := json.Marshal(AckMessage{Type: "ack", Channel: key.Channel, AckID: key.ID})
	if err != nil {
		h.logger.Error("encode ack notification", "error", err)
		return
	}
	h.Broadcast(key.Token, out)
}
