package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/nftmarket/internal/cache/memory"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/server/middleware"
	"github.com/alanyoungcy/nftmarket/internal/service"
	memstore "github.com/alanyoungcy/nftmarket/internal/store/memory"
)

const (
	apiKey     = "operator-key"
	collection = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

var (
	marketAddr = common.HexToAddress("0x000000000000000000000000000000000000beef")
	adminAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	sellerAddr = common.HexToAddress("0x0000000000000000000000000000000000000051")
	aliceAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bobAddr    = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	now     time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	ts := &testServer{t: t, now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}

	store := memstore.New(marketAddr)
	market := service.NewMarketplace(store, store, memcache.NewLockManager(), nil,
		service.MarketplaceConfig{Address: marketAddr}, logger)
	market.SetClock(func() time.Time { return ts.now })
	fees := service.NewFeeService(store, store, logger)
	require.NoError(t, fees.Init(ctx, 5, adminAddr))
	accounts := service.NewAccountService(store, marketAddr, logger)

	srv := NewServer(Config{APIKey: apiKey, RateLimit: 1000, RateWindow: time.Minute}, Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Listings: handler.NewListingHandler(market, logger),
		Auctions: handler.NewAuctionHandler(market, logger),
		Events:   handler.NewEventHandler(store, logger),
		Fee:      handler.NewFeeHandler(fees, logger),
		Accounts: handler.NewAccountHandler(accounts, logger),
	}, nil, memcache.NewRateLimiter(), logger)
	ts.handler = srv.Handler()
	return ts
}

// do sends a request as principal (zero address means anonymous) and
// decodes the JSON response into a map.
func (ts *testServer) do(method, path string, principal common.Address, body any) (int, map[string]any) {
	ts.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(ts.t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if principal != (common.Address{}) {
		req.Header.Set(middleware.HeaderPrincipal, principal.Hex())
	}
	if path == "/api/items" || bytes.HasSuffix([]byte(path), []byte("/deposits")) {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func (ts *testServer) register(token string, owner common.Address) {
	ts.t.Helper()
	code, _ := ts.do(http.MethodPost, "/api/items", common.Address{}, map[string]string{
		"collection": collection, "token_id": token, "owner": owner.Hex(),
	})
	require.Equal(ts.t, http.StatusCreated, code)
}

func (ts *testServer) deposit(account common.Address, amount string) {
	ts.t.Helper()
	code, _ := ts.do(http.MethodPost, "/api/accounts/"+account.Hex()+"/deposits", common.Address{},
		map[string]string{"amount": amount})
	require.Equal(ts.t, http.StatusOK, code)
}

func (ts *testServer) available(account common.Address) string {
	ts.t.Helper()
	code, body := ts.do(http.MethodGet, "/api/accounts/"+account.Hex(), common.Address{}, nil)
	require.Equal(ts.t, http.StatusOK, code)
	return body["available"].(string)
}

func TestDirectSaleFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.register("1", sellerAddr)
	ts.deposit(aliceAddr, "150")

	code, body := ts.do(http.MethodPost, "/api/listings", sellerAddr, map[string]string{
		"collection": collection, "token_id": "1", "price": "100",
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "ItemListed", body["kind"])
	assert.Equal(t, "100", body["amount"])

	code, body = ts.do(http.MethodGet, "/api/listings/"+collection+"/1", common.Address{}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "direct", body["mode"])
	assert.Equal(t, sellerAddr.Hex(), body["seller"])

	code, _ = ts.do(http.MethodPost, "/api/listings/"+collection+"/1/buy", aliceAddr, map[string]string{"amount": "99"})
	assert.Equal(t, http.StatusConflict, code)

	code, body = ts.do(http.MethodPost, "/api/listings/"+collection+"/1/buy", aliceAddr, map[string]string{"amount": "100"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ItemSold", body["kind"])
	assert.Equal(t, "5", body["fee"])
	assert.Equal(t, "95", body["proceeds"])

	assert.Equal(t, "50", ts.available(aliceAddr))
	assert.Equal(t, "95", ts.available(sellerAddr))
	assert.Equal(t, "5", ts.available(adminAddr))

	code, _ = ts.do(http.MethodGet, "/api/listings/"+collection+"/1", common.Address{}, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAuctionFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.register("2", sellerAddr)
	ts.deposit(aliceAddr, "1000")
	ts.deposit(bobAddr, "1000")

	code, body := ts.do(http.MethodPost, "/api/auctions", sellerAddr, map[string]any{
		"collection": collection, "token_id": "2", "start_price": "10", "duration_seconds": 3600,
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "AuctionStarted", body["kind"])

	bids := "/api/auctions/" + collection + "/2/bids"
	code, _ = ts.do(http.MethodPost, bids, aliceAddr, map[string]string{"amount": "200"})
	require.Equal(t, http.StatusOK, code)
	code, _ = ts.do(http.MethodPost, bids, bobAddr, map[string]string{"amount": "200"})
	assert.Equal(t, http.StatusConflict, code)
	code, _ = ts.do(http.MethodPost, bids, bobAddr, map[string]string{"amount": "300"})
	require.Equal(t, http.StatusOK, code)

	// Alice was refunded when bob outbid her.
	assert.Equal(t, "1000", ts.available(aliceAddr))
	assert.Equal(t, "700", ts.available(bobAddr))

	end := "/api/auctions/" + collection + "/2/end"
	code, _ = ts.do(http.MethodPost, end, aliceAddr, nil)
	assert.Equal(t, http.StatusConflict, code)

	ts.now = ts.now.Add(time.Hour)
	code, body = ts.do(http.MethodPost, end, aliceAddr, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "AuctionEnded", body["kind"])
	assert.Equal(t, bobAddr.Hex(), body["winner"])
	assert.Equal(t, "15", body["fee"])
	assert.Equal(t, "285", body["proceeds"])

	req := httptest.NewRequest(http.MethodGet, "/api/events?after=1", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var evs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evs))
	require.Len(t, evs, 3)
	assert.Equal(t, "NewBid", evs[0]["kind"])
	assert.Equal(t, "AuctionEnded", evs[2]["kind"])
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	ts.register("3", sellerAddr)

	listBody := map[string]string{"collection": collection, "token_id": "3", "price": "100"}

	code, _ := ts.do(http.MethodPost, "/api/listings", common.Address{}, listBody)
	assert.Equal(t, http.StatusUnauthorized, code, "anonymous caller")

	code, _ = ts.do(http.MethodPost, "/api/listings", aliceAddr, listBody)
	assert.Equal(t, http.StatusForbidden, code, "caller does not hold the item")

	code, _ = ts.do(http.MethodPost, "/api/listings", sellerAddr, map[string]string{
		"collection": "nope", "token_id": "3", "price": "100",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(http.MethodPost, "/api/listings", sellerAddr, map[string]string{
		"collection": collection, "token_id": "3", "price": "0",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(http.MethodPost, "/api/listings", sellerAddr, listBody)
	require.Equal(t, http.StatusCreated, code)

	code, _ = ts.do(http.MethodPost, "/api/auctions", sellerAddr, map[string]any{
		"collection": collection, "token_id": "3", "duration_seconds": 60,
	})
	assert.Equal(t, http.StatusConflict, code, "already listed")

	code, _ = ts.do(http.MethodDelete, "/api/listings/"+collection+"/3", aliceAddr, nil)
	assert.Equal(t, http.StatusConflict, code, "not the seller")

	code, _ = ts.do(http.MethodPost, "/api/listings/"+collection+"/3/buy", aliceAddr, map[string]string{"amount": "100"})
	assert.Equal(t, http.StatusPaymentRequired, code, "alice has no funds")

	code, _ = ts.do(http.MethodPut, "/api/fee", aliceAddr, map[string]int{"rate_percent": 10})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = ts.do(http.MethodPut, "/api/fee", adminAddr, map[string]int{"rate_percent": 101})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := ts.do(http.MethodPut, "/api/fee", adminAddr, map[string]int{"rate_percent": 10})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "FeeRateChanged", body["kind"])
	assert.EqualValues(t, 10, body["fee_rate"])

	code, _ = ts.do(http.MethodPost, "/api/accounts/"+bobAddr.Hex()+"/withdrawals", aliceAddr, map[string]string{"amount": "1"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = ts.do(http.MethodDelete, "/api/listings/"+collection+"/3", sellerAddr, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestStartAuctionRejectsOverflowingDuration(t *testing.T) {
	ts := newTestServer(t)
	ts.register("9", sellerAddr)
	path := "/api/auctions"

	for _, seconds := range []int64{0, 18446744074} {
		code, _ := ts.do(http.MethodPost, path, sellerAddr, map[string]any{
			"collection": collection, "token_id": "9", "duration_seconds": seconds,
		})
		assert.Equal(t, http.StatusBadRequest, code, "duration_seconds=%d", seconds)
	}

	code, _ := ts.do(http.MethodGet, "/api/listings/"+collection+"/9", common.Address{}, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body := ts.do(http.MethodPost, path, sellerAddr, map[string]any{
		"collection": collection, "token_id": "9", "duration_seconds": 3600,
	})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "AuctionStarted", body["kind"])
}

func TestEscrowAccountRoutesRefused(t *testing.T) {
	ts := newTestServer(t)
	account := "/api/accounts/" + marketAddr.Hex()

	code, _ := ts.do(http.MethodPost, account+"/withdrawals", marketAddr, map[string]string{"amount": "1"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = ts.do(http.MethodPost, account+"/deposits", common.Address{}, map[string]string{"amount": "1"})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestOperatorRoutesRequireAPIKey(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/"+aliceAddr.Hex()+"/deposits",
		bytes.NewReader([]byte(`{"amount":"10"}`)))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "0", ts.available(aliceAddr))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(http.MethodGet, "/api/health", common.Address{}, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestListListingsFilter(t *testing.T) {
	ts := newTestServer(t)
	ts.register("4", sellerAddr)
	ts.register("5", sellerAddr)
	code, _ := ts.do(http.MethodPost, "/api/listings", sellerAddr, map[string]string{
		"collection": collection, "token_id": "4", "price": "1",
	})
	require.Equal(t, http.StatusCreated, code)
	code, _ = ts.do(http.MethodPost, "/api/auctions", sellerAddr, map[string]any{
		"collection": collection, "token_id": "5", "duration_seconds": 60,
	})
	require.Equal(t, http.StatusCreated, code)

	req := httptest.NewRequest(http.MethodGet, "/api/listings?mode=auction", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "5", out[0]["token_id"])
	assert.Equal(t, string(domain.ModeAuction), out[0]["mode"])

	req = httptest.NewRequest(http.MethodGet, "/api/listings?mode=raffle", nil)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
