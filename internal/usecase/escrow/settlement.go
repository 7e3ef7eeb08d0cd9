package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/repository"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/metrics"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freight-escrow/internal/pkg/backoff"
)

const (
	kindDisburse = "disburse"
	kindRefund   = "refund"
)

type SettlementConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// Settler вызывает провайдера выплат с ограниченным числом повторов.
// Ключ идемпотентности выводится из идентификатора эскроу, поэтому повтор безопасен.
type Settler struct {
	port repository.PayoutPort
	cfg  SettlementConfig
	log  logrus.FieldLogger
}

// SettlementError исчерпаны все попытки.
type SettlementError struct {
	Kind     string
	Attempts int
	Err      error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("%s: %d попыток, последняя ошибка: %v", e.Kind, e.Attempts, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

func NewSettler(port repository.PayoutPort, cfg SettlementConfig, log logrus.FieldLogger) *Settler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	return &Settler{port: port, cfg: cfg, log: log}
}

// Disburse перечисляет перевозчику сумму за вычетом комиссии.
func (s *Settler) Disburse(ctx context.Context, e *entity.Escrow) (string, error) {
	return s.run(ctx, kindDisburse, e, func(ctx context.Context) (string, error) {
		return s.port.Disburse(ctx, *e.TransporterID, e.NetAmount, settlementKey(e.ID, kindDisburse))
	})
}

// Refund возвращает отправителю полную сумму.
func (s *Settler) Refund(ctx context.Context, e *entity.Escrow) (string, error) {
	return s.run(ctx, kindRefund, e, func(ctx context.Context) (string, error) {
		return s.port.Refund(ctx, e.ShipperID, e.Amount, settlementKey(e.ID, kindRefund))
	})
}

func (s *Settler) run(ctx context.Context, kind string, e *entity.Escrow, call func(context.Context) (string, error)) (string, error) {
	started := time.Now()
	defer func() {
		metrics.SettlementLatency.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	}()

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff.WithJitter(backoff.Exponential(s.cfg.BackoffBase, attempt-1))
			if err := backoff.Sleep(ctx, delay); err != nil {
				break
			}
		}

		attempts++
		txID, err := call(ctx)
		if err == nil {
			metrics.SettlementAttempts.WithLabelValues(kind, "ok").Inc()
			return txID, nil
		}
		lastErr = err
		metrics.SettlementAttempts.WithLabelValues(kind, "error").Inc()

		s.log.WithFields(logrus.Fields{
			"escrow_id": e.ID,
			"kind":      kind,
			"attempt":   attempts,
			"error":     err,
		}).Warn("settlement: попытка не удалась")

		if !retryable(err) {
			break
		}
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}

	return "", apperror.Upstream(
		&SettlementError{Kind: kind, Attempts: attempts, Err: lastErr},
		"провайдер выплат не выполнил операцию",
	)
}

// retryable неизвестные ошибки считаются временными.
func retryable(err error) bool {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return true
}

// attemptsOf число попыток из ошибки Settler.
func attemptsOf(err error) int {
	var se *SettlementError
	if errors.As(err, &se) {
		return se.Attempts
	}
	return 0
}
