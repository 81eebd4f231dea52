package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/config"
	memstore "github.com/alanyoungcy/nftmarket/internal/store/memory"
)

func TestWireInMemory(t *testing.T) {
	cfg := config.Defaults()
	cfg.Market.Address = "0x000000000000000000000000000000000000beef"
	cfg.Market.FeeRate = 3
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	_, ok := deps.Store.(*memstore.Store)
	assert.True(t, ok)
	assert.Nil(t, deps.Signer)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.Health)

	names := make([]string, 0, len(deps.Publishers))
	for _, p := range deps.Publishers {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"bus", "cache"}, names)

	a := New(&cfg, logger)
	svc, err := a.buildServices(context.Background(), deps)
	require.NoError(t, err)
	fs, err := svc.fees.Schedule(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(3), fs.RatePercent)
	assert.Equal(t, cfg.MarketAddress(), fs.Admin)
}

func TestWireLoadsOperatorKey(t *testing.T) {
	cfg := config.Defaults()
	cfg.Market.Address = "0x000000000000000000000000000000000000beef"
	cfg.Operator.PrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, deps.Signer)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", deps.Signer.Address().Hex())
}
