package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/server/middleware"
	"github.com/alanyoungcy/nftmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards operator endpoints. Empty disables the check.
	APIKey            string
	RequireSignatures bool
	SignatureMaxSkew  time.Duration
	// RateLimit is the number of mutating requests one principal may make
	// per RateWindow. Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Archive may be nil when cold storage is not configured.
type Handlers struct {
	Health   *handler.HealthHandler
	Listings *handler.ListingHandler
	Auctions *handler.AuctionHandler
	Events   *handler.EventHandler
	Fee      *handler.FeeHandler
	Accounts *handler.AccountHandler
	Archive  *handler.ArchiveHandler
}

// Server is the marketplace HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered. wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	operator := middleware.Auth(cfg.APIKey)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Direct sale.
	mux.HandleFunc("GET /api/listings", handlers.Listings.ListListings)
	mux.HandleFunc("GET /api/listings/{collection}/{token}", handlers.Listings.GetListing)
	mux.HandleFunc("POST /api/listings", handlers.Listings.List)
	mux.HandleFunc("DELETE /api/listings/{collection}/{token}", handlers.Listings.Unlist)
	mux.HandleFunc("POST /api/listings/{collection}/{token}/buy", handlers.Listings.Buy)

	// Auctions.
	mux.HandleFunc("POST /api/auctions", handlers.Auctions.StartAuction)
	mux.HandleFunc("POST /api/auctions/{collection}/{token}/bids", handlers.Auctions.PlaceBid)
	mux.HandleFunc("POST /api/auctions/{collection}/{token}/end", handlers.Auctions.EndAuction)

	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	mux.HandleFunc("GET /api/fee", handlers.Fee.GetFee)
	mux.HandleFunc("PUT /api/fee", handlers.Fee.SetFee)

	// Custody and funds. Registration and deposits stand in for on-chain
	// transfers and are operator only.
	mux.Handle("POST /api/items", operator(http.HandlerFunc(handlers.Accounts.RegisterItem)))
	mux.Handle("POST /api/accounts/{address}/deposits", operator(http.HandlerFunc(handlers.Accounts.Deposit)))
	mux.HandleFunc("POST /api/accounts/{address}/withdrawals", handlers.Accounts.Withdraw)
	mux.HandleFunc("GET /api/accounts/{address}", handlers.Accounts.GetAccount)

	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archive.ListArchives)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Principal(middleware.PrincipalConfig{
		RequireSignatures: cfg.RequireSignatures,
		MaxSkew:           cfg.SignatureMaxSkew,
	})(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
