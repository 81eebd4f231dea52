package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/nftmarket/internal/cache/memory"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/events"
	memstore "github.com/alanyoungcy/nftmarket/internal/store/memory"
)

var collection = common.HexToAddress("0x00000000000000000000000000000000000000c0")

func startHub(t *testing.T, log domain.EventLog) (*memcache.Bus, *httptest.Server) {
	t.Helper()
	bus := memcache.NewBus(0)
	hub := NewHub(bus, log, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return bus, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) outbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	var out outbound
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHubBroadcastsMarketEvents(t *testing.T) {
	bus, srv := startHub(t, nil)
	conn := dial(t, srv, "")

	hello := readFrame(t, conn)
	assert.Equal(t, "hello", hello.Type)

	payload, err := json.Marshal(events.Envelope{Event: domain.Event{
		Seq:  7,
		Kind: domain.EventNewBid,
		Key:  domain.ListingKey{Collection: collection, TokenID: "1"},
	}})
	require.NoError(t, err)

	// The hub subscribes asynchronously; keep publishing until the frame
	// shows up.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = bus.Publish(context.Background(), "ch:market:NewBid", payload)
			}
		}
	}()

	frame := readFrame(t, conn)
	assert.Equal(t, "event", frame.Type)
	assert.Equal(t, "ch:market:NewBid", frame.Channel)

	var env events.Envelope
	require.NoError(t, json.Unmarshal(frame.Data, &env))
	assert.Equal(t, int64(7), env.Event.Seq)
}

func TestHubReplaysFromLog(t *testing.T) {
	store := memstore.New(common.HexToAddress("0xbeef"))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := store.WithinTx(ctx, func(ctx context.Context, tx domain.MarketTx) error {
			return tx.AppendEvent(ctx, &domain.Event{
				Kind: domain.EventItemListed,
				Key:  domain.ListingKey{Collection: collection, TokenID: "1"},
			})
		})
		require.NoError(t, err)
	}

	_, srv := startHub(t, store)
	conn := dial(t, srv, "?after=1")

	assert.Equal(t, "hello", readFrame(t, conn).Type)
	for _, want := range []int64{2, 3} {
		frame := readFrame(t, conn)
		assert.Equal(t, "replay", frame.Type)
		assert.Equal(t, "ch:market:ItemListed", frame.Channel)
		var env events.Envelope
		require.NoError(t, json.Unmarshal(frame.Data, &env))
		assert.Equal(t, want, env.Event.Seq)
	}
}

func TestHubRejectsBadReplayCursor(t *testing.T) {
	_, srv := startHub(t, nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?after=-4"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestIsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:market:New*": true, "ch:market:ItemSold": true}}
	assert.True(t, c.isSubscribed("ch:market:NewBid"))
	assert.True(t, c.isSubscribed("ch:market:ItemSold"))
	assert.False(t, c.isSubscribed("ch:market:ItemListed"))
}
