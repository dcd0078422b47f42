package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/unifi-toolkit/internal/stalker"
)

const (
	writeWait      = 10 * time.Second
	clientBufferSz = 16
)

// eventHub fans tracker events out to connected WebSocket clients. It
// implements stalker.Sink; a slow client's buffer overflowing drops
// that client rather than stalling the tracker.
type eventHub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[chan stalker.Event]struct{}
	closed  bool
}

func newEventHub(logger *slog.Logger) *eventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &eventHub{
		logger:  logger,
		clients: make(map[chan stalker.Event]struct{}),
	}
}

// Publish broadcasts one event to every connected client.
func (h *eventHub) Publish(ctx context.Context, ev stalker.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			// Buffer full: the reader is too slow to keep.
			delete(h.clients, ch)
			close(ch)
			h.logger.Warn("dropping slow event stream client")
		}
	}
	return nil
}

func (h *eventHub) subscribe() (chan stalker.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan stalker.Event, clientBufferSz)
	h.clients[ch] = struct{}{}
	return ch, true
}

func (h *eventHub) unsubscribe(ch chan stalker.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth happens in requireAuth; the stream carries no user input.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEventStream upgrades to a WebSocket and streams tracker events
// as JSON messages until the client or the hub goes away.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, ok := s.hub.subscribe()
	if !ok {
		return
	}
	defer s.hub.unsubscribe(ch)

	s.logger.Debug("event stream client connected", "addr", r.RemoteAddr)

	// Reader goroutine: we expect no messages, but reading is the only
	// way to notice the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		}
	}
}
