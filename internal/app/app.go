// Package app собирает зависимости сервиса по конфигурации.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freight-escrow/internal/config"
	"github.com/ignatzorin/freight-escrow/internal/db"
	"github.com/ignatzorin/freight-escrow/internal/domain/repository"
	"github.com/ignatzorin/freight-escrow/internal/goroutine"
	"github.com/ignatzorin/freight-escrow/internal/http/handlers"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/lock"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/memory"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/messaging"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/payout"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/persistence"
	"github.com/ignatzorin/freight-escrow/internal/usecase/escrow"
	"github.com/ignatzorin/freight-escrow/internal/usecase/matching"
	"github.com/ignatzorin/freight-escrow/internal/usecase/reconciliation"
	"github.com/ignatzorin/freight-escrow/internal/ws"
)

// Stores репозитории выбранного хранилища.
type Stores struct {
	Escrows  repository.EscrowRepository
	Disputes repository.DisputeRepository
	Matches  repository.MatchRepository
	Audit    repository.AuditRepository
	Outbox   repository.OutboxRepository
}

// App собранный сервис. Close освобождает внешние соединения.
type App struct {
	Config *config.Config
	Log    logrus.FieldLogger

	Ledger    *escrow.Ledger
	Engine    *matching.Engine
	Sweeper   *reconciliation.Sweeper
	Scheduler *reconciliation.Scheduler
	Relay     *messaging.Relay
	Hub       *ws.Hub
	BG        *goroutine.RecoveryHandler

	// Checks зависимости для /health.
	Checks map[string]handlers.Pinger

	closers []func() error
}

// Build собирает хранилище, блокировки, выплаты, брокер и сценарии.
func Build(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	a := &App{
		Config: cfg,
		Log:    log,
		BG:     goroutine.NewRecoveryHandler(log),
		Checks: make(map[string]handlers.Pinger),
	}

	stores, err := a.openStores(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	locker, err := a.openLocker()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	settler := escrow.NewSettler(a.payoutPort(), escrow.SettlementConfig{
		MaxAttempts: cfg.PayoutMaxAttempts,
		BackoffBase: cfg.PayoutBackoffBase,
	}, log)

	a.Ledger = escrow.NewLedger(stores.Escrows, stores.Audit, stores.Disputes, locker, settler,
		escrow.Config{FeeRate: cfg.PlatformFeeRate},
		escrow.WithLogger(log),
	)

	matchCfg, err := a.matchingConfig()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Engine = matching.NewEngine(stores.Matches, stores.Outbox, stores.Audit, locker, a.Ledger, matchCfg,
		matching.WithLogger(log),
		matching.WithRecovery(a.BG),
	)

	a.Sweeper = reconciliation.NewSweeper(stores.Escrows, reconciliation.Config{
		PendingStale:   cfg.SweepPendingStale,
		InTransitStale: cfg.SweepInTransitStale,
		Location:       cfg.SweepLocation,
	}, nil, log)
	a.Scheduler = reconciliation.NewScheduler(a.Sweeper, a.Engine, cfg.SweepInterval, log)

	a.Hub = ws.NewHub(log)
	publishers := []messaging.Publisher{messaging.NewHubPublisher(a.Hub)}
	broker, err := a.openBroker()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if broker != nil {
		publishers = append(publishers, broker)
	}
	a.Relay = messaging.NewRelay(stores.Outbox, messaging.RelayConfig{
		Interval: cfg.OutboxPollInterval,
	}, log, publishers...)

	return a, nil
}

// Start запускает фоновые циклы до отмены ctx.
func (a *App) Start(ctx context.Context) {
	a.BG.SafeGoWithContext(ctx, "ws-hub", a.Hub.Run)
	a.BG.SafeGoWithContext(ctx, "outbox-relay", a.Relay.Run)
	a.BG.SafeGoWithContext(ctx, "reconciliation", a.Scheduler.Start)
}

// Close закрывает соединения в обратном порядке открытия.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openStores(ctx context.Context) (*Stores, error) {
	if a.Config.Storage == config.StorageMemory {
		audit, outbox := memory.NewAuditLog(), memory.NewOutbox()
		escrows := memory.NewEscrowStore(audit, outbox)
		a.Log.Warn("app: STORAGE=memory, данные не переживут перезапуск")
		return &Stores{
			Escrows:  escrows,
			Disputes: escrows,
			Matches:  memory.NewMatchStore(),
			Audit:    audit,
			Outbox:   outbox,
		}, nil
	}

	conn, err := db.NewPostgres(ctx, a.Config.DatabaseURL, db.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("app: подключение к базе: %w", err)
	}
	a.closers = append(a.closers, conn.Close)
	a.Checks["database"] = conn

	if _, err := db.RunMigrations(ctx, conn, a.Config.MigrationsPath, a.Log); err != nil {
		return nil, fmt.Errorf("app: миграции: %w", err)
	}
	return postgresStores(conn), nil
}

func postgresStores(conn *sqlx.DB) *Stores {
	escrows := persistence.NewEscrowRepository(conn)
	return &Stores{
		Escrows:  escrows,
		Disputes: escrows,
		Matches:  persistence.NewMatchRepository(conn),
		Audit:    persistence.NewAuditRepository(conn),
		Outbox:   persistence.NewOutboxRepository(conn),
	}
}

// openLocker без REDIS_URL блокировки локальные и годятся только для одного экземпляра.
func (a *App) openLocker() (repository.Locker, error) {
	if a.Config.RedisURL == "" {
		return lock.NewLocal(a.Config.LockWait), nil
	}

	opts, err := goredislib.ParseURL(a.Config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("app: REDIS_URL: %w", err)
	}
	client := goredislib.NewClient(opts)
	a.closers = append(a.closers, client.Close)
	a.Checks["redis"] = redisPinger{client}

	lockOpts := lock.DefaultOptions()
	if a.Config.LockTTL > 0 {
		lockOpts.Expiry = a.Config.LockTTL
	}
	return lock.NewRedis(client, lockOpts, a.Log), nil
}

func (a *App) payoutPort() repository.PayoutPort {
	if a.Config.PayoutBaseURL == "" {
		a.Log.Warn("app: PAYOUT_BASE_URL не задан, выплаты идут в песочницу")
		return payout.NewSandbox(a.Log)
	}
	return payout.NewClient(payout.ClientConfig{
		BaseURL: a.Config.PayoutBaseURL,
		APIKey:  a.Config.PayoutAPIKey,
		Timeout: a.Config.PayoutTimeout,
	}, a.Log)
}

func (a *App) matchingConfig() (matching.Config, error) {
	cfg := matching.DefaultConfig()
	cfg.Validity = a.Config.MatchValidity
	cfg.ReviewThreshold = a.Config.MatchReviewThreshold
	cfg.HighPriorityScore = a.Config.MatchHighPriorityScore
	cfg.FeeRate = a.Config.PlatformFeeRate

	if a.Config.MatchingWeightsFile != "" {
		scoring, err := matching.LoadScoringConfig(a.Config.MatchingWeightsFile)
		if err != nil {
			return cfg, err
		}
		cfg.Scoring = scoring
	}
	if a.Config.MatchMaxDeadheadKm > 0 {
		cfg.Scoring.MaxDeadheadKm = a.Config.MatchMaxDeadheadKm
	}
	return cfg, nil
}

func (a *App) openBroker() (messaging.Publisher, error) {
	switch a.Config.EventsBroker {
	case config.BrokerRabbitMQ:
		p, err := messaging.NewRabbitPublisher(a.Config.RabbitMQURL, a.Config.RabbitMQExchange)
		if err != nil {
			return nil, fmt.Errorf("app: rabbitmq: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		return p, nil
	case config.BrokerKafka:
		p := messaging.NewKafkaPublisher(a.Config.KafkaBrokers, a.Config.KafkaTopic)
		a.closers = append(a.closers, p.Close)
		return p, nil
	}
	return nil, nil
}

type redisPinger struct {
	client goredislib.UniversalClient
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
