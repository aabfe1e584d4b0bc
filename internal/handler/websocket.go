package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"hec-relp-gateway/internal/ack"
	"hec-relp-gateway/internal/hub"
	"hec-relp-gateway/internal/middleware"
)

// AckStreamHandler pushes ack commits for the caller's token over a
// websocket and answers ack queries sent on the same socket.
type AckStreamHandler struct {
	Hub     *hub.Hub
	Tracker *ack.Tracker
	Logger  *slog.Logger
}

type clientMessage struct {
	Type    string  `json:"type"`
	Channel string  `json:"channel,omitempty"`
	Acks    []int64 `json:"acks,omitempty"`
}

type serverMessage struct {
	Type    string         `json:"type"`
	Channel string         `json:"channel,omitempty"`
	Acks    map[string]any `json:"acks,omitempty"`
	Text    string         `json:"text,omitempty"`
	Code    int            `json:"code,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsWriter serializes writes; the hub and the read loop both write.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

func (h *AckStreamHandler) Serve(c *gin.Context) {
	token, err := middleware.TokenFromContext(c)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	writer := &wsWriter{conn: ws}
	conn := &hub.Connection{Token: token, Writer: writer}
	h.Hub.Register(conn)
	defer func() {
		h.Hub.Unregister(conn)
		_ = ws.Close()
	}()

	ws.SetReadLimit(1024 * 1024)
	const pongWait = 60 * time.Second
	const writeWait = 10 * time.Second
	pingPeriod := (pongWait * 9) / 10

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() {
		closeOnce.Do(func() {
			close(done)
		})
	}
	defer closeDone()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(writeWait)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		var reply serverMessage
		switch msg.Type {
		case "ping":
			reply = serverMessage{Type: "pong"}
		case "query":
			reply = h.query(token, msg)
		default:
			continue
		}
		out, _ := json.Marshal(reply)
		if err := writer.Write(out); err != nil {
			return
		}
	}
}

func (h *AckStreamHandler) query(token string, msg clientMessage) serverMessage {
	statuses, err := h.Tracker.Query(token, msg.Channel, msg.Acks)
	if err != nil {
		e, ok := classify(err)
		if !ok {
			loggerOrDiscard(h.Logger).Error("ack stream query", "channel", msg.Channel, "error", err)
			e = apiError{code: codeInternalError, text: "Internal server error"}
		}
		return serverMessage{Type: "error", Channel: msg.Channel, Text: e.text, Code: e.code}
	}
	return serverMessage{Type: "acks", Channel: msg.Channel, Acks: ackBody(statuses)}
}
