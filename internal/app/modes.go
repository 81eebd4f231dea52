package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/nftmarket/internal/blob/s3"
	"github.com/alanyoungcy/nftmarket/internal/events"
	"github.com/alanyoungcy/nftmarket/internal/server"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/server/ws"
	"github.com/alanyoungcy/nftmarket/internal/service"
)

// services holds the domain services shared by every mode.
type services struct {
	market   *service.Marketplace
	fees     *service.FeeService
	accounts *service.AccountService
	relay    *events.Relay
}

// APIMode serves HTTP and websocket traffic and relays the events it commits.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	svc, err := a.buildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("api mode: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startRelay(ctx, g, svc)
	a.startHTTPServer(ctx, g, deps, svc)
	return g.Wait()
}

// WorkerMode runs the background workers: auction settlement, event relay
// and archival.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	svc, err := a.buildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("worker mode: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startRelay(ctx, g, svc)
	a.startWorkers(ctx, g, deps, svc)
	return g.Wait()
}

// FullMode runs the API and every worker in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	svc, err := a.buildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startRelay(ctx, g, svc)
	a.startWorkers(ctx, g, deps, svc)
	a.startHTTPServer(ctx, g, deps, svc)
	return g.Wait()
}

func (a *App) buildServices(ctx context.Context, deps *Dependencies) (*services, error) {
	cfg := a.cfg
	market := service.NewMarketplace(deps.Store, deps.Listings, deps.LockManager, deps.ListingCache,
		service.MarketplaceConfig{
			Address:  cfg.MarketAddress(),
			LockTTL:  cfg.Market.LockTTL.Duration,
			LockWait: cfg.Market.LockWait.Duration,
		}, a.logger)

	fees := service.NewFeeService(deps.Store, deps.Settings, a.logger)
	if err := fees.Init(ctx, uint8(cfg.Market.FeeRate), cfg.AdminAddress()); err != nil {
		return nil, err
	}

	var signer events.PayloadSigner
	if cfg.Relay.SignEvents && deps.Signer != nil {
		signer = deps.Signer
	}
	relay := events.NewRelay(deps.EventLog, deps.Cursors, deps.LockManager, deps.Publishers, signer,
		events.RelayConfig{
			Interval: cfg.Relay.Interval.Duration,
			Batch:    cfg.Relay.Batch,
		}, a.logger)

	market.OnCommit(relay.Wake)
	fees.OnCommit(relay.Wake)

	return &services{
		market:   market,
		fees:     fees,
		accounts: service.NewAccountService(deps.Ledger, market.Address(), a.logger),
		relay:    relay,
	}, nil
}

func (a *App) startRelay(ctx context.Context, g *errgroup.Group, svc *services) {
	g.Go(func() error {
		return svc.relay.Run(ctx)
	})
}

func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) {
	cfg := a.cfg

	if cfg.Settler.Enabled {
		settler := service.NewSettler(svc.market, deps.Listings, deps.LockManager, cfg.MarketAddress(),
			cfg.Settler.Interval.Duration, cfg.Settler.Batch, a.logger)
		g.Go(func() error {
			return settler.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		worker := service.NewArchiveWorker(deps.Archiver, deps.LockManager,
			cfg.Archive.Retention.Duration, cfg.Archive.Interval.Duration, cfg.Archive.Cron, a.logger)
		g.Go(func() error {
			return worker.Run(ctx)
		})
	}
}

// startHTTPServer adds the API server and websocket hub to g. The server is
// shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) {
	cfg := a.cfg
	if cfg.Operator.APIKey == "" {
		a.logger.WarnContext(ctx, "operator.api_key is empty; item registration and deposits are unauthenticated")
	}

	hub := ws.NewHub(deps.SignalBus, deps.EventLog, ws.Config{AllowedOrigins: cfg.Server.CORSOrigins}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Health, a.logger),
		Listings: handler.NewListingHandler(svc.market, a.logger),
		Auctions: handler.NewAuctionHandler(svc.market, a.logger),
		Events:   handler.NewEventHandler(deps.EventLog, a.logger),
		Fee:      handler.NewFeeHandler(svc.fees, a.logger),
		Accounts: handler.NewAccountHandler(svc.accounts, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, s3blob.ArchivePrefix, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:              cfg.Server.Port,
		CORSOrigins:       cfg.Server.CORSOrigins,
		APIKey:            cfg.Operator.APIKey,
		RequireSignatures: cfg.Server.RequireSignatures,
		SignatureMaxSkew:  cfg.Server.SignatureMaxSkew.Duration,
		RateLimit:         cfg.Server.RateLimit,
		RateWindow:        cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			a.logger.Error("http server shutdown failed", slog.String("error", err.Error()))
			return err
		}
		return nil
	})
}
