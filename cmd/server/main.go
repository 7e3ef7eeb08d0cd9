package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // SWEEP_TIMEZONE без системной zoneinfo

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freight-escrow/internal/app"
	"github.com/ignatzorin/freight-escrow/internal/config"
	httpHandlers "github.com/ignatzorin/freight-escrow/internal/http/handlers"
	httpRouter "github.com/ignatzorin/freight-escrow/internal/http/router"
	"github.com/ignatzorin/freight-escrow/internal/logger"
	"github.com/ignatzorin/freight-escrow/internal/service"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	appLog := logger.Init(cfg.LogLevel)
	if cfg.Env == "development" {
		logger.SetTextFormatter()
	}

	application, err := app.Build(ctx, cfg, appLog)
	if err != nil {
		appLog.WithError(err).Fatal("main: не удалось собрать сервис")
	}
	defer func() {
		if err := application.Close(); err != nil {
			appLog.WithError(err).Warn("main: ошибка закрытия соединений")
		}
	}()

	application.Start(ctx)

	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)

	engine := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Escrow:         httpHandlers.NewEscrowHandler(application.Ledger),
		Match:          httpHandlers.NewMatchHandler(application.Engine),
		Reconciliation: httpHandlers.NewReconciliationHandler(application.Sweeper),
		Health:         httpHandlers.NewHealthHandler(application.Checks),
		WS:             httpHandlers.NewWSHandler(application.Hub, tokenManager, cfg.AllowedOrigins),
	}, tokenManager, appLog)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			appLog.WithError(err).Warn("main: ошибка остановки http сервера")
		}
	}()

	appLog.WithFields(logrus.Fields{
		"port":    cfg.HTTPPort,
		"storage": cfg.Storage,
		"broker":  cfg.EventsBroker,
	}).Info("main: HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		appLog.WithError(err).Error("main: сервер завершился с ошибкой")
	}

	// Фоновые циклы остановлены вместе с ctx, дожидаемся их.
	stop()
	application.BG.Wait()
}
