package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freight-escrow/internal/app"
	"github.com/ignatzorin/freight-escrow/internal/config"
	"github.com/ignatzorin/freight-escrow/internal/logger"
	"github.com/ignatzorin/freight-escrow/internal/usecase/escrow"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Env:                    "test",
		Storage:                config.StorageMemory,
		EventsBroker:           config.BrokerNone,
		LockWait:               time.Second,
		PlatformFeeRate:        decimal.RequireFromString("0.10"),
		MatchValidity:          30 * time.Minute,
		MatchReviewThreshold:   50,
		MatchHighPriorityScore: 80,
		PayoutMaxAttempts:      3,
		PayoutBackoffBase:      time.Millisecond,
		OutboxPollInterval:     10 * time.Millisecond,
		SweepInterval:          time.Hour,
		SweepLocation:          time.UTC,
	}
}

func TestBuild_MemoryStack(t *testing.T) {
	a, err := app.Build(context.Background(), memoryConfig(), logger.Discard())
	require.NoError(t, err)
	defer a.Close()

	assert.Empty(t, a.Checks)

	res, err := a.Ledger.Create(context.Background(), escrow.CreateInput{
		ShipmentID: uuid.New(),
		PaymentID:  "pay-app",
		ShipperID:  uuid.New(),
		Amount:     decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	assert.True(t, res.Escrow.PlatformFee.Equal(decimal.NewFromInt(100)))

	report, err := a.Sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts["pending"])
}

func TestBuild_StartDeliversOutbox(t *testing.T) {
	a, err := app.Build(context.Background(), memoryConfig(), logger.Discard())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)

	_, err = a.Ledger.Create(ctx, escrow.CreateInput{
		ShipmentID: uuid.New(),
		PaymentID:  "pay-relay",
		ShipperID:  uuid.New(),
		Amount:     decimal.NewFromInt(1000),
	})
	require.NoError(t, err)

	cancel()
	a.BG.Wait()
}

func TestBuild_RedisLocks(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.RedisURL = "redis://" + mr.Addr()

	a, err := app.Build(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer a.Close()

	require.Contains(t, a.Checks, "redis")
	assert.NoError(t, a.Checks["redis"].PingContext(context.Background()))

	_, err = a.Ledger.Create(context.Background(), escrow.CreateInput{
		ShipmentID: uuid.New(),
		PaymentID:  "pay-redis",
		ShipperID:  uuid.New(),
		Amount:     decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
}

func TestBuild_BadWeightsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.toml")
	require.NoError(t, os.WriteFile(path, []byte("[weights]\nroute = 0.9\ncapacity = 0.9\n"), 0o600))

	cfg := memoryConfig()
	cfg.MatchingWeightsFile = path

	_, err := app.Build(context.Background(), cfg, logger.Discard())
	assert.Error(t, err)
}
