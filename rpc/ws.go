package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"charityledger/core/events"
)

const (
	wsWriteTimeout     = 10 * time.Second
	hubHistorySize     = 256
	subscriberCapacity = 64
)

// Hub fans committed events out to websocket subscribers and keeps a short
// history so reconnecting clients can resume from a sequence cursor.
type Hub struct {
	mu      sync.Mutex
	subs    map[uint64]chan events.Event
	nextID  uint64
	history []events.Event
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan events.Event)}
}

// Emit implements events.Emitter. Subscribers that fall behind lose events
// rather than block the ledger.
func (h *Hub) Emit(evt events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, evt)
	if len(h.history) > hubHistorySize {
		h.history = h.history[len(h.history)-hubHistorySize:]
	}
	for _, sub := range h.subs {
		select {
		case sub <- evt:
		default:
		}
	}
}

// Subscribe registers a subscriber. The backlog holds retained events with a
// sequence greater than since.
func (h *Hub) Subscribe(since uint64) (<-chan events.Event, []events.Event, func()) {
	ch := make(chan events.Event, subscriberCapacity)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	backlog := make([]events.Event, 0, len(h.history))
	for _, evt := range h.history {
		if eventSequence(evt) > since {
			backlog = append(backlog, evt)
		}
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}
	return ch, backlog, cancel
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func eventSequence(evt events.Event) uint64 {
	seq, _ := strconv.ParseUint(evt.Attributes["sequence"], 10, 64)
	return seq
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, r, http.StatusServiceUnavailable, errStreamDisabled)
		return
	}
	var since uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, errInvalidCursor)
			return
		}
		since = parsed
	}
	filter := strings.TrimSpace(r.URL.Query().Get("type"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, since, filter); err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, since uint64, filter string) error {
	updates, backlog, cancel := s.hub.Subscribe(since)
	defer cancel()

	for _, evt := range backlog {
		if filter != "" && evt.Type != filter {
			continue
		}
		if err := writeEvent(ctx, conn, evt); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if filter != "" && evt.Type != filter {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt events.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
