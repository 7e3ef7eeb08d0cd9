package messaging

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/repository"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/metrics"
)

type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Interval:    2 * time.Second,
		BatchSize:   100,
		MaxAttempts: 5,
	}
}

// Relay читает PENDING события из outbox и раздаёт их всем публикаторам.
// Событие помечается опубликованным, только если доставка прошла везде.
type Relay struct {
	outbox     repository.OutboxRepository
	publishers []Publisher
	cfg        RelayConfig
	now        func() time.Time
	log        logrus.FieldLogger
}

func NewRelay(outbox repository.OutboxRepository, cfg RelayConfig, log logrus.FieldLogger, publishers ...Publisher) *Relay {
	def := DefaultRelayConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &Relay{
		outbox:     outbox,
		publishers: publishers,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// Run опрашивает outbox до отмены контекста.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.WithError(err).Error("messaging: не удалось прочитать outbox")
		}
		select {
		case <-ctx.Done():
			r.log.Info("messaging: relay остановлен")
			return
		case <-ticker.C:
		}
	}
}

// Flush обрабатывает одну пачку и возвращает число опубликованных событий.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.outbox.ListPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		if failures := r.deliver(ctx, ev); len(failures) > 0 {
			reason := strings.Join(failures, "; ")
			if err := r.outbox.MarkFailed(ctx, ev.ID, reason, r.cfg.MaxAttempts); err != nil {
				return published, err
			}
			r.log.WithFields(logrus.Fields{
				"event_id":   ev.ID,
				"event_type": ev.EventType,
				"attempt":    ev.Attempts + 1,
			}).Warn("messaging: событие не доставлено: " + reason)
			continue
		}
		if err := r.outbox.MarkPublished(ctx, ev.ID, r.now()); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

func (r *Relay) deliver(ctx context.Context, ev *entity.OutboxEvent) []string {
	var failures []string
	for _, p := range r.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			metrics.OutboxPublished.WithLabelValues(p.Name(), "error").Inc()
			failures = append(failures, p.Name()+": "+err.Error())
			continue
		}
		metrics.OutboxPublished.WithLabelValues(p.Name(), "ok").Inc()
	}
	return failures
}
