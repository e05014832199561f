package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/benmeehan/debloat-agent/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	hubBroadcastBuffer = 256
	wsWriteTimeout     = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API listens on loopback for a local desktop client.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub broadcasts events to every connected WebSocket client as
// {"event": name, "payload": ...} text frames.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a Hub. Start must be called before clients connect.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, hubBroadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
	}
}

// Start launches the hub loop.
func (h *Hub) Start() error {
	if h.ctx != nil {
		return errors.New("websocket hub is already running")
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.wg.Add(1)
	go h.run()
	h.logger.Info().Msg("WebSocket hub started")
	return nil
}

// Stop ends the hub loop and closes every client.
func (h *Hub) Stop() error {
	if h.ctx == nil {
		return errors.New("websocket hub is not running")
	}
	h.cancel()
	h.wg.Wait()

	h.mutex.Lock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
	h.mutex.Unlock()
	h.logger.Info().Msg("WebSocket hub stopped")
	return nil
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case conn := <-h.register:
			h.mutex.Lock()
			h.clients[conn] = true
			h.mutex.Unlock()
			h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("WebSocket client connected")

		case conn := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mutex.Unlock()
			h.logger.Debug().Msg("WebSocket client disconnected")

		case message := <-h.broadcast:
			h.mutex.Lock()
			for conn := range h.clients {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Warn().Err(err).Msg("WebSocket write error")
					delete(h.clients, conn)
					conn.Close()
				}
			}
			h.mutex.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Emit encodes the event and queues it for broadcast, dropping it when the
// queue is full.
func (h *Hub) Emit(name string, payload interface{}) {
	data, err := json.Marshal(models.Event{Name: name, Payload: payload})
	if err != nil {
		h.logger.Error().Err(err).Str("event", name).Msg("Failed to encode event")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn().Str("event", name).Msg("WebSocket broadcast queue full, dropping event")
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and keeps the client registered until
// it disconnects. Client frames are read and discarded.
func (h *Hub) HandleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.ctx == nil || h.ctx.Err() != nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("WebSocket upgrade error")
			return
		}

		select {
		case h.register <- conn:
		case <-h.ctx.Done():
			conn.Close()
			return
		}

		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.ctx.Done():
			}
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn().Err(err).Msg("WebSocket error")
				}
				break
			}
		}
	}
}
