// Package feed relays inbound device messages to WebSocket subscribers.
//
// A Hub is the message sink for the TCP server: every recognized message a
// display unit sends is wrapped in an Event and pushed to each subscriber
// connected on /feed. Subscribers only listen; anything they send is
// discarded. A subscriber that cannot keep up is dropped rather than
// allowed to stall the others.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/muurk/sensorhub/internal/logging"
	"github.com/muurk/sensorhub/internal/protocol"
	"go.uber.org/zap"
)

const (
	// Path is the endpoint subscribers connect to
	Path = "/feed"

	// Time allowed to write a message to the subscriber
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the subscriber
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size accepted from a subscriber
	maxMessageSize = 512

	// Events queued per subscriber before it counts as slow
	sendBuffer = 64

	// Events queued for the hub loop before Publish drops them
	broadcastBuffer = 256

	shutdownTimeout = 5 * time.Second
)

// Event is the JSON document sent to subscribers
type Event struct {
	Category   string           `json:"category"`
	ReceivedAt time.Time        `json:"received_at"`
	Message    protocol.Message `json:"message"`
}

type subscriber struct {
	id     string
	socket *websocket.Conn
	send   chan []byte
}

// Hub tracks subscribers and fans events out to them.
type Hub struct {
	subscribers map[*subscriber]bool
	broadcast   chan []byte
	register    chan *subscriber
	unregister  chan *subscriber
	done        chan struct{}
	count       atomic.Int64
	dropped     atomic.Uint64

	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewHub creates a hub. Run must be called for events to flow.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]bool),
		broadcast:   make(chan []byte, broadcastBuffer),
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		done:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			// display dashboards are served from other origins on the LAN
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// Run owns the subscriber set until ctx is cancelled, then closes every
// subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case sub := <-h.register:
			h.subscribers[sub] = true
			h.count.Store(int64(len(h.subscribers)))
			logging.Info("Feed subscriber connected", zap.String("subscriber_id", sub.id))

		case sub := <-h.unregister:
			if h.subscribers[sub] {
				h.remove(sub)
				logging.Info("Feed subscriber disconnected", zap.String("subscriber_id", sub.id))
			}

		case event := <-h.broadcast:
			for sub := range h.subscribers {
				select {
				case sub.send <- event:
				default:
					h.remove(sub)
					logging.Warn("Dropping slow feed subscriber", zap.String("subscriber_id", sub.id))
				}
			}

		case <-ctx.Done():
			for sub := range h.subscribers {
				h.remove(sub)
			}
			return
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	delete(h.subscribers, sub)
	close(sub.send)
	h.count.Store(int64(len(h.subscribers)))
}

// Publish queues msg for every subscriber. It never blocks; when the hub is
// backed up the event is dropped. Its signature matches the server's
// message handler.
func (h *Hub) Publish(category protocol.Category, msg protocol.Message) {
	data, err := json.Marshal(Event{
		Category:   category.String(),
		ReceivedAt: h.now(),
		Message:    msg,
	})
	if err != nil {
		logging.Error("Failed to encode feed event",
			zap.String("type", msg.Type()),
			zap.Error(err),
		)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
		logging.Debug("Feed backlog full, event dropped", zap.String("type", msg.Type()))
	}
}

// Subscribers returns the number of connected subscribers
func (h *Hub) Subscribers() int {
	return int(h.count.Load())
}

// Dropped returns how many events Publish discarded
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// ServeHTTP upgrades the request and registers a new subscriber
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		logging.Debug("Feed upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	sub := &subscriber{
		id:     uuid.NewString(),
		socket: conn,
		send:   make(chan []byte, sendBuffer),
	}

	select {
	case h.register <- sub:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go h.writePump(sub)
	go h.readPump(sub)
}

// Handler returns a mux serving the feed at Path
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, h)
	return mux
}

// ListenAndServe serves the feed on addr until ctx is cancelled
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Feed listening", zap.String("addr", addr), zap.String("path", Path))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("feed server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("feed shutdown failed: %w", err)
		}
		return nil
	}
}

// readPump discards subscriber input and notices when the peer goes away
func (h *Hub) readPump(sub *subscriber) {
	defer func() {
		select {
		case h.unregister <- sub:
		case <-h.done:
		}
		_ = sub.socket.Close()
	}()

	sub.socket.SetReadLimit(maxMessageSize)
	_ = sub.socket.SetReadDeadline(time.Now().Add(pongWait))
	sub.socket.SetPongHandler(func(string) error {
		return sub.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.socket.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains sub.send to the socket and keeps the connection alive
func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sub.socket.Close()
	}()

	for {
		select {
		case event, ok := <-sub.send:
			_ = sub.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := sub.socket.WriteMessage(websocket.TextMessage, event); err != nil {
				return
			}

		case <-ticker.C:
			_ = sub.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
