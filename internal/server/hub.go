package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans the current view state out to websocket subscribers.
//
// Every send, initial or broadcast, renders the state while holding sendMu,
// so a subscriber never receives an older state after a newer one.
type Hub struct {
	state   func() ([]byte, error)
	log     *slog.Logger
	onCount func(int)

	sendMu sync.Mutex

	mu          sync.Mutex
	subscribers map[string]*subscriber
	closed      bool
}

// NewHub creates a hub that sends whatever state returns.
func NewHub(state func() ([]byte, error), log *slog.Logger) *Hub {
	return &Hub{
		state:       state,
		log:         log,
		subscribers: make(map[string]*subscriber),
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// ServeHTTP upgrades the request, sends the current state and keeps the
// connection registered until the client goes away. Client messages are
// read and dropped.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	sub := &subscriber{id: uuid.NewString(), conn: conn}
	if !h.join(sub) {
		return
	}
	h.log.Debug("websocket subscriber joined", "id", sub.id, "remote", r.RemoteAddr)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("websocket read failed", "id", sub.id, "err", err)
			}
			h.remove(sub.id)
			return
		}
	}
}

func (h *Hub) join(sub *subscriber) bool {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	data, err := h.state()
	if err != nil {
		h.log.Error("failed to render state", "err", err)
		sub.conn.Close()
		return false
	}
	if err := sub.write(data); err != nil {
		h.log.Warn("failed to send initial state", "id", sub.id, "err", err)
		sub.conn.Close()
		return false
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.conn.Close()
		return false
	}
	h.subscribers[sub.id] = sub
	n := len(h.subscribers)
	h.mu.Unlock()

	h.reportCount(n)
	return true
}

// Broadcast sends the current state to every subscriber. Subscribers whose
// write fails are dropped.
func (h *Hub) Broadcast() {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	data, err := h.state()
	if err != nil {
		h.log.Error("failed to render state", "err", err)
		return
	}

	for _, sub := range subs {
		if err := sub.write(data); err != nil {
			h.log.Warn("failed to send update", "id", sub.id, "err", err)
			h.remove(sub.id)
		}
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	n := len(h.subscribers)
	h.mu.Unlock()

	if ok {
		sub.conn.Close()
		h.reportCount(n)
	}
}

func (h *Hub) reportCount(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subscribers
	h.subscribers = make(map[string]*subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		sub.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		sub.mu.Unlock()
		sub.conn.Close()
	}
	h.reportCount(0)
}
