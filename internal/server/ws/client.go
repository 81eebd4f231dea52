package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/nftmarket/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxInboundSize = 4096
	sendQueue      = 256

	// replayBatch is how many logged events are read per EventsAfter call.
	replayBatch = 200
)

// control is what a client may send to change the channels it receives.
type control struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

type client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	replayAfter *int64

	mu   sync.RWMutex
	subs map[string]bool
}

func newClient(h *Hub, conn *websocket.Conn, after *int64) *client {
	return &client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendQueue),
		replayAfter: after,
		subs:        map[string]bool{MarketChannels: true},
	}
}

// isSubscribed reports whether channel is wanted. A subscription ending in
// '*' matches every channel with that prefix.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) apply(msg control) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		switch msg.Action {
		case "subscribe":
			c.subs[ch] = true
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
}

func (c *client) sendHello() {
	data, err := json.Marshal(map[string]any{
		"started_at": c.hub.startedAt,
		"channels":   []string{MarketChannels},
	})
	if err != nil {
		return
	}
	frame, err := json.Marshal(outbound{Type: "hello", Data: data})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.detach(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg control
		if json.Unmarshal(raw, &msg) == nil && msg.Action != "" {
			c.apply(msg)
		}
	}
}

func (c *client) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// writePump sends the queued hello, then the replay, then live frames.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	select {
	case hello := <-c.send:
		if c.write(websocket.TextMessage, hello) != nil {
			return
		}
	default:
	}
	if c.replay() != nil {
		return
	}

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}
			if c.write(websocket.TextMessage, frame) != nil {
				return
			}
		case <-ticker.C:
			if c.write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

// replay writes logged events after the requested sequence straight to the
// connection. Live events that arrive meanwhile may repeat a replayed one;
// clients dedupe by seq.
func (c *client) replay() error {
	if c.replayAfter == nil || c.hub.log == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cursor := *c.replayAfter
	for sent := 0; sent < c.hub.maxReplay; {
		batch, err := c.hub.log.EventsAfter(ctx, cursor, replayBatch)
		if err != nil {
			c.hub.logger.Warn("replay failed",
				slog.Int64("after", cursor),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if len(batch) == 0 {
			return nil
		}
		for _, ev := range batch {
			data, err := json.Marshal(events.Envelope{Event: ev})
			if err != nil {
				continue
			}
			frame, err := json.Marshal(outbound{Type: "replay", Channel: ev.Channel(), Data: data})
			if err != nil {
				continue
			}
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return err
			}
			cursor = ev.Seq
			sent++
		}
	}
	return nil
}
