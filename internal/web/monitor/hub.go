// Package monitor streams dispatch activity to WebSocket clients.
package monitor

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/conduit-lang/relay/internal/dispatch"
)

// Message types sent to clients.
const (
	TypeOutcome    = "outcome"
	TypeReload     = "reload"
	TypeBuildError = "build_error"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 5 * time.Second
)

// Message is one monitor event.
type Message struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Outcome   *OutcomeSummary `json:"outcome,omitempty"`
	// Handlers is the manifest size after a reload.
	Handlers int      `json:"handlers,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// OutcomeSummary is the client view of a dispatch.Outcome. Handler values
// are never sent.
type OutcomeSummary struct {
	RequestID string          `json:"request_id"`
	Kind      string          `json:"kind"`
	Reason    string          `json:"reason,omitempty"`
	Route     string          `json:"route,omitempty"`
	Duration  float64         `json:"duration_ms"`
	Handlers  []HandlerResult `json:"handlers,omitempty"`
}

// HandlerResult summarises one handler invocation.
type HandlerResult struct {
	Key      string  `json:"key"`
	Source   string  `json:"source"`
	Error    string  `json:"error,omitempty"`
	Duration float64 `json:"duration_ms"`
}

// Summarize converts an outcome for clients.
func Summarize(o *dispatch.Outcome) *OutcomeSummary {
	s := &OutcomeSummary{
		RequestID: o.RequestID,
		Kind:      o.Kind.String(),
		Reason:    o.Reason,
		Route:     o.Route,
		Duration:  milliseconds(o.Duration),
	}
	for _, r := range o.Results {
		s.Handlers = append(s.Handlers, HandlerResult{
			Key:      r.Key,
			Source:   r.Source,
			Error:    r.ErrorText(),
			Duration: milliseconds(r.Duration),
		})
	}
	return s
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Hub fans monitor messages out to every connected client.
type Hub struct {
	connections map[*websocket.Conn]bool
	broadcast   chan *Message
	register    chan *websocket.Conn
	unregister  chan *websocket.Conn
	done        chan struct{}
	closeOnce   sync.Once
	mutex       sync.RWMutex
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// NewHub creates a hub and starts its run loop. allowedOrigins lists
// Origin prefixes accepted on upgrade; requests without an Origin header
// are always accepted.
func NewHub(logger *zap.Logger, allowedOrigins ...string) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		connections: make(map[*websocket.Conn]bool),
		broadcast:   make(chan *Message, 256),
		register:    make(chan *websocket.Conn),
		unregister:  make(chan *websocket.Conn),
		done:        make(chan struct{}),
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if strings.HasPrefix(origin, allowed) {
						return true
					}
				}
				return false
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	go h.run()

	return h
}

func (h *Hub) run() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return

		case conn := <-h.register:
			h.mutex.Lock()
			h.connections[conn] = true
			count := len(h.connections)
			h.mutex.Unlock()
			h.logger.Debug("monitor client connected", zap.Int("clients", count))

		case conn := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				conn.Close()
			}
			count := len(h.connections)
			h.mutex.Unlock()
			h.logger.Debug("monitor client disconnected", zap.Int("clients", count))

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("failed to encode monitor message", zap.Error(err))
				continue
			}
			h.sendToAll(websocket.TextMessage, data)

		case <-ticker.C:
			h.sendToAll(websocket.PingMessage, nil)
		}
	}
}

// sendToAll runs only on the run goroutine, which makes it the single
// writer for every connection.
func (h *Hub) sendToAll(messageType int, data []byte) {
	h.mutex.RLock()
	var failed []*websocket.Conn
	for conn := range h.connections {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(messageType, data); err != nil {
			failed = append(failed, conn)
		}
	}
	h.mutex.RUnlock()

	if len(failed) > 0 {
		h.mutex.Lock()
		for _, conn := range failed {
			if _, ok := h.connections[conn]; ok {
				conn.Close()
				delete(h.connections, conn)
			}
		}
		h.mutex.Unlock()
		h.logger.Debug("dropped monitor clients", zap.Int("count", len(failed)))
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("monitor upgrade failed", zap.Error(err))
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go h.readMessages(conn)
}

// readMessages drains the client so control frames are processed.
func (h *Hub) readMessages(conn *websocket.Conn) {
	defer func() {
		select {
		case h.unregister <- conn:
		case <-h.done:
		}
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("monitor connection error", zap.Error(err))
			}
			return
		}
	}
}

// Publish queues a message without blocking. Messages are dropped when the
// queue is full or the hub is closed.
func (h *Hub) Publish(msg *Message) bool {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.broadcast <- msg:
		return true
	default:
		h.logger.Debug("monitor queue full, dropping message", zap.String("type", msg.Type))
		return false
	}
}

// ObserveOutcome publishes a dispatch outcome. It is suitable for
// dispatch.WithObserver.
func (h *Hub) ObserveOutcome(o *dispatch.Outcome) {
	h.Publish(&Message{Type: TypeOutcome, Outcome: Summarize(o)})
}

// NotifyReload announces that a new manifest is being served.
func (h *Hub) NotifyReload(handlers int) {
	h.Publish(&Message{Type: TypeReload, Handlers: handlers})
}

// NotifyBuildError announces that a rebuild failed and the previous
// manifest is still being served.
func (h *Hub) NotifyBuildError(errs []string) {
	h.Publish(&Message{Type: TypeBuildError, Errors: errs})
}

// ConnectionCount returns the number of active connections
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.connections)
}

// Close disconnects every client and stops the hub. It is safe to call
// more than once.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)

		h.mutex.Lock()
		defer h.mutex.Unlock()
		for conn := range h.connections {
			conn.Close()
		}
		h.connections = make(map[*websocket.Conn]bool)
	})
}
