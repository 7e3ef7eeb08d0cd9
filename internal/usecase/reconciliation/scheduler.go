package reconciliation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freight-escrow/internal/infrastructure/metrics"
)

// Expirer закрывает просроченные предложения перевозки.
type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Scheduler периодически запускает сверку и закрытие просроченных предложений.
type Scheduler struct {
	sweeper  *Sweeper
	expirer  Expirer
	interval time.Duration
	log      logrus.FieldLogger
}

func NewScheduler(sweeper *Sweeper, expirer Expirer, interval time.Duration, log logrus.FieldLogger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{sweeper: sweeper, expirer: expirer, interval: interval, log: log}
}

// Start блокирует до отмены контекста. Первый проход выполняется сразу.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("reconciliation: планировщик остановлен")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce один проход. Ошибки логируются, следующий проход выполнится по расписанию.
func (s *Scheduler) RunOnce(ctx context.Context) *Report {
	if s.expirer != nil {
		if _, err := s.expirer.ExpireStale(ctx); err != nil {
			s.log.WithError(err).Error("reconciliation: не удалось закрыть просроченные предложения")
		}
	}

	report, err := s.sweeper.Run(ctx)
	if err != nil {
		s.log.WithError(err).Error("reconciliation: сверка не выполнена")
		return nil
	}

	for state, n := range report.Counts {
		metrics.EscrowsByState.WithLabelValues(string(state)).Set(float64(n))
	}
	metrics.FlaggedEscrows.Set(float64(len(report.Flagged)))

	fields := logrus.Fields{
		"flagged":        len(report.Flagged),
		"released_today": report.ReleasedToday.StringFixed(2),
		"refunded_today": report.RefundedToday.StringFixed(2),
	}
	for state, n := range report.Counts {
		fields["count_"+string(state)] = n
	}
	entry := s.log.WithFields(fields)
	if len(report.Flagged) > 0 {
		entry.Warn("reconciliation: есть записи, требующие внимания")
	} else {
		entry.Info("reconciliation: сверка завершена")
	}
	return report
}
