package handler

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/maraichr/sheetflow/internal/progress"
)

// Client -> server message types.
const (
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
)

type clientMessage struct {
	Type     string `json:"type"`
	UploadID string `json:"uploadId"`
}

type serverMessage struct {
	Type     string `json:"type"`
	UploadID string `json:"uploadId,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// ProgressHandler bridges hub events to WebSocket clients. A client sends
// {"type":"subscribe","uploadId":...} and receives every event for that
// upload until it unsubscribes or disconnects.
type ProgressHandler struct {
	logger   *slog.Logger
	hub      *progress.Hub
	upgrader websocket.Upgrader
}

func NewProgressHandler(logger *slog.Logger, hub *progress.Hub) *ProgressHandler {
	return &ProgressHandler{
		logger: logger,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
	}
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (h *ProgressHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", slog.String("error", err.Error()))
		return
	}
	c := &conn{ws: ws}
	sub := h.hub.NewSubscriber(subscriberBuffer)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.pump(c, sub)
	}()

	h.readLoop(c, sub)

	// Closing the subscriber ends pump.
	h.hub.Remove(sub)
	<-done
	ws.Close()
}

func (h *ProgressHandler) readLoop(c *conn, sub *progress.Subscriber) {
	c.ws.SetReadLimit(4 * 1024)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed", slog.String("error", err.Error()))
			}
			return
		}

		id, err := uuid.Parse(msg.UploadID)
		if err != nil && (msg.Type == msgSubscribe || msg.Type == msgUnsubscribe) {
			h.reply(c, serverMessage{Type: "error", Data: map[string]string{"message": "invalid uploadId"}})
			continue
		}
		switch msg.Type {
		case msgSubscribe:
			h.hub.Subscribe(sub, id)
			h.reply(c, serverMessage{Type: "subscribed", UploadID: id.String()})
		case msgUnsubscribe:
			h.hub.Unsubscribe(sub, id)
			h.reply(c, serverMessage{Type: "unsubscribed", UploadID: id.String()})
		default:
			h.reply(c, serverMessage{Type: "error", Data: map[string]string{"message": "unknown message type: " + msg.Type}})
		}
	}
}

func (h *ProgressHandler) reply(c *conn, msg serverMessage) {
	if err := c.write(msg); err != nil {
		h.logger.Debug("websocket write", slog.String("error", err.Error()))
	}
}

// pump forwards hub events until the subscriber is closed. Write failures
// are left to the read loop, which sees the broken connection.
func (h *ProgressHandler) pump(c *conn, sub *progress.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := c.write(ev); err != nil {
				c.ws.Close()
				drain(sub)
				return
			}
		case <-ticker.C:
			if err := c.ping(); err != nil {
				c.ws.Close()
				drain(sub)
				return
			}
		}
	}
}

// drain discards events until the subscriber is removed.
func drain(sub *progress.Subscriber) {
	for range sub.C() {
	}
}
