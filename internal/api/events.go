package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatppt/chatppt/internal/chat"
)

const (
	// EventState carries a full state snapshot
	EventState = "state"

	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 5 * time.Second
)

// WSMessage is the JSON message sent over WebSocket
type WSMessage struct {
	Event string     `json:"event"`
	Data  chat.State `json:"data"`
	TS    int64      `json:"ts"` // Unix ms
}

// EventsHandler pushes a state snapshot to every connected renderer after each change
type EventsHandler struct {
	machine  Controller
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewEventsHandler creates a WebSocket handler for state events
func NewEventsHandler(machine Controller, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{
		machine: machine,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Handle is the gin handler for WebSocket connections. The current state is sent
// immediately, then again after every change.
func (h *EventsHandler) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sendCh := make(chan chat.State, 64)
	done := make(chan struct{})

	sendCh <- h.machine.State()
	unsubscribe := h.machine.Subscribe(func(st chat.State) {
		if offerLatest(sendCh, st) {
			// a slow client only misses intermediate snapshots
			h.logger.Debug("Dropped stale state event (buffer full)", zap.String("session_id", st.SessionID))
		}
	})
	defer unsubscribe()

	// Reader goroutine keeps the connection alive
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	var writeMu sync.Mutex

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
			writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case st := <-sendCh:
			writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteJSON(WSMessage{Event: EventState, Data: st, TS: time.Now().UnixMilli()})
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// offerLatest enqueues st without blocking. When the buffer is full the oldest
// snapshot makes room, so the newest state always reaches the client. It reports
// whether anything was dropped.
func offerLatest(ch chan chat.State, st chat.State) bool {
	dropped := false
	for {
		select {
		case ch <- st:
			return dropped
		default:
		}
		select {
		case <-ch:
			dropped = true
		default:
		}
	}
}
