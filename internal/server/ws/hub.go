// Package ws streams committed market events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/events"
)

// MarketChannels matches every channel market events are published on.
const MarketChannels = "ch:market:*"

// Config tunes the hub.
type Config struct {
	// AllowedOrigins restricts websocket upgrades. Empty allows every origin.
	AllowedOrigins []string
	// MaxReplay caps how many events one connection may replay.
	MaxReplay int
}

// outbound is the frame written to clients. Type is "hello", "replay" or
// "event".
type outbound struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Hub fans market events from the signal bus out to connected clients.
// Clients may pass ?after=<seq> to first receive logged events they missed.
type Hub struct {
	bus       domain.SignalBus
	log       domain.EventLog
	upgrader  websocket.Upgrader
	maxReplay int
	startedAt time.Time
	logger    *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub. log may be nil, which disables replay.
func NewHub(bus domain.SignalBus, log domain.EventLog, cfg Config, logger *slog.Logger) *Hub {
	if cfg.MaxReplay <= 0 {
		cfg.MaxReplay = 10000
	}
	origins := cfg.AllowedOrigins
	return &Hub{
		bus: bus,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(origins, r.Header.Get("Origin"))
			},
		},
		maxReplay: cfg.MaxReplay,
		startedAt: time.Now().UTC(),
		clients:   make(map[*client]struct{}),
		logger:    logger.With(slog.String("component", "ws_hub")),
	}
}

// Run relays bus messages to clients until ctx is cancelled, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, MarketChannels)
	if err != nil {
		return err
	}
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				// Keep serving replay-only clients until shutdown.
				h.logger.Warn("market subscription closed")
				msgs = nil
				continue
			}
			h.dispatch(data)
		}
	}
}

// HandleWS upgrades GET /ws?after=<seq> and attaches the connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var after *int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, `{"error":"after must be a non-negative integer"}`, http.StatusBadRequest)
			return
		}
		after = &n
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn, after)
	c.sendHello()
	if !h.attach(c) {
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (h *Hub) dispatch(data []byte) {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.logger.Warn("undecodable market message", slog.String("error", err.Error()))
		return
	}
	channel := env.Event.Channel()
	frame, err := json.Marshal(outbound{Type: "event", Channel: channel, Data: data})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(channel) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("dropping frame for slow client",
				slog.String("channel", channel),
				slog.Int64("seq", env.Event.Seq),
			)
		}
	}
}

func (h *Hub) attach(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client connected", slog.Int("clients", n))
	return true
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.logger.Info("client disconnected", slog.Int("clients", n))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
