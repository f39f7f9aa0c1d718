package web

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/logging"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// hubMessage is the JSON frame written to subscribers.
type hubMessage struct {
	Type   string                    `json:"type"`
	ID     string                    `json:"id,omitempty"`
	SagaID string                    `json:"sagaId,omitempty"`
	Data   *interfaces.ProgressEvent `json:"data,omitempty"`
	Time   int64                     `json:"time"`
}

// subscriber is one websocket connection following a saga.
type subscriber struct {
	id     string
	sagaID string
	conn   *websocket.Conn
	send   chan hubMessage
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { _ = s.conn.Close() })
}

// ProgressHub fans generation progress out to the websocket subscribers of each saga.
type ProgressHub struct {
	mu     sync.RWMutex
	sagas  map[string]map[*subscriber]struct{}
	join   chan *subscriber
	leave  chan *subscriber
	events chan interfaces.ProgressEvent
	// done is closed when Run returns.
	done   chan struct{}
	logger *slog.Logger
}

var _ interfaces.EventSink = (*ProgressHub)(nil)

func NewProgressHub(logger *slog.Logger) *ProgressHub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ProgressHub{
		sagas:  make(map[string]map[*subscriber]struct{}),
		join:   make(chan *subscriber, 64),
		leave:  make(chan *subscriber, 64),
		events: make(chan interfaces.ProgressEvent, 1024),
		done:   make(chan struct{}),
		logger: logger.With("component", "hub"),
	}
}

// Run routes joins, leaves and events until ctx ends, then drops every subscriber.
func (h *ProgressHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case s := <-h.join:
			h.add(s)
		case s := <-h.leave:
			h.drop(s)
		case e := <-h.events:
			h.fanOut(e)
		case <-ctx.Done():
			h.mu.Lock()
			for sagaID, subs := range h.sagas {
				for s := range subs {
					close(s.send)
				}
				delete(h.sagas, sagaID)
			}
			h.mu.Unlock()
			for {
				select {
				case s := <-h.join:
					h.refuse(s)
				default:
					return
				}
			}
		}
	}
}

func (h *ProgressHub) add(s *subscriber) {
	h.mu.Lock()
	subs := h.sagas[s.sagaID]
	if subs == nil {
		subs = make(map[*subscriber]struct{})
		h.sagas[s.sagaID] = subs
	}
	subs[s] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("subscriber joined", "subscriber", s.id, "saga", s.sagaID)
	go h.writeLoop(s)
}

func (h *ProgressHub) drop(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.sagas[s.sagaID]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.sagas, s.sagaID)
	}
	close(s.send)
	h.logger.Debug("subscriber left", "subscriber", s.id, "saga", s.sagaID)
}

func (h *ProgressHub) fanOut(e interfaces.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msg := hubMessage{Type: "progress", Data: &e, Time: time.Now().Unix()}
	for s := range h.sagas[e.SagaID] {
		select {
		case s.send <- msg:
		default:
			h.logger.Warn("subscriber is too slow, dropping event", "subscriber", s.id)
		}
	}
}

// Publish queues e without blocking. Events are dropped when the queue is full.
func (h *ProgressHub) Publish(e interfaces.ProgressEvent) {
	select {
	case h.events <- e:
	default:
		h.logger.Warn("event queue full, dropping progress event", "saga", e.SagaID)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *ProgressHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.sagas {
		n += len(subs)
	}
	return n
}

// ServeWS upgrades the request and subscribes it to the saga named by ?saga_id=.
func (h *ProgressHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	sagaID := strings.TrimSpace(r.URL.Query().Get("saga_id"))
	if sagaID == "" {
		writeError(w, http.StatusBadRequest, "saga_id is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	s := &subscriber{
		id:     uuid.NewString(),
		sagaID: sagaID,
		conn:   conn,
		send:   make(chan hubMessage, sendBuffer),
	}
	s.send <- hubMessage{Type: "connected", ID: s.id, SagaID: sagaID, Time: time.Now().Unix()}

	select {
	case <-h.done:
		h.refuse(s)
		return
	default:
	}
	select {
	case h.join <- s:
		go h.readLoop(s)
	case <-h.done:
		h.refuse(s)
	}
}

// refuse closes a subscriber that arrived after the hub stopped.
func (h *ProgressHub) refuse(s *subscriber) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
	s.close()
}

// writeLoop owns all writes to the connection.
func (h *ProgressHub) writeLoop(s *subscriber) {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		s.close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(msg); err != nil {
				h.logger.Debug("write failed", "subscriber", s.id, "error", err)
				return
			}
		case <-ping.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop only watches for the peer going away; subscribers never send.
func (h *ProgressHub) readLoop(s *subscriber) {
	defer func() {
		select {
		case h.leave <- s:
		case <-h.done:
		}
		s.close()
	}()

	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("unexpected close", "subscriber", s.id, "error", err)
			}
			return
		}
	}
}
