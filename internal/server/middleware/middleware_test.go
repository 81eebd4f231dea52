package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/nftmarket/internal/cache/memory"
	"github.com/alanyoungcy/nftmarket/internal/crypto"
)

const signerKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// echoPrincipal writes the resolved principal or "anonymous".
var echoPrincipal = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if p, ok := PrincipalFrom(r.Context()); ok {
		_, _ = io.WriteString(w, p.Hex())
		return
	}
	_, _ = io.WriteString(w, "anonymous")
})

func TestAuth(t *testing.T) {
	h := Auth("s3cret")(echoPrincipal)

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "X-API-Key", "nope", http.StatusUnauthorized},
		{"api key", "X-API-Key", "s3cret", http.StatusOK},
		{"bearer", "Authorization", "Bearer s3cret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/items", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	Auth("")(echoPrincipal).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPrincipalUnsigned(t *testing.T) {
	h := Principal(PrincipalConfig{})(echoPrincipal)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "anonymous", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderPrincipal, "0x00000000000000000000000000000000000000a1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, common.HexToAddress("0xa1").Hex(), rec.Body.String())

	req.Header.Set(HeaderPrincipal, "alice")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrincipalSigned(t *testing.T) {
	signer, err := crypto.NewSigner(signerKey)
	require.NoError(t, err)
	now := time.Unix(1767225600, 0)
	h := Principal(PrincipalConfig{
		RequireSignatures: true,
		MaxSkew:           time.Minute,
		Now:               func() time.Time { return now },
	})(echoPrincipal)

	signed := func(ts int64, path string) *http.Request {
		sig, err := signer.SignRequest(http.MethodPost, path, ts)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/auctions", nil)
		req.Header.Set(HeaderPrincipal, signer.Address().Hex())
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(HeaderSignature, sig)
		return req
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signed(now.Unix(), "/api/auctions"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, signer.Address().Hex(), rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signed(now.Unix(), "/api/listings"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signed(now.Add(-2*time.Minute).Unix(), "/api/auctions"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "skew")

	req := signed(now.Unix(), "/api/auctions")
	req.Header.Set(HeaderPrincipal, "0x00000000000000000000000000000000000000a1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitMutatingOnly(t *testing.T) {
	h := Principal(PrincipalConfig{})(RateLimit(memcache.NewRateLimiter(), 2, time.Minute, discard())(echoPrincipal))

	do := func(method, principal string) int {
		req := httptest.NewRequest(method, "/api/listings", nil)
		if principal != "" {
			req.Header.Set(HeaderPrincipal, principal)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	alice := "0x00000000000000000000000000000000000000a1"
	bob := "0x00000000000000000000000000000000000000b0"
	assert.Equal(t, http.StatusOK, do(http.MethodPost, alice))
	assert.Equal(t, http.StatusOK, do(http.MethodPost, alice))
	assert.Equal(t, http.StatusTooManyRequests, do(http.MethodPost, alice))
	assert.Equal(t, http.StatusOK, do(http.MethodPost, bob))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, alice))

	open := RateLimit(failingLimiter{}, 1, time.Minute, discard())(echoPrincipal)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"http://localhost:5173"})(echoPrincipal)

	req := httptest.NewRequest(http.MethodOptions, "/api/listings", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), HeaderSignature)

	req = httptest.NewRequest(http.MethodGet, "/api/listings", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
