// Package escrow ведёт жизненный цикл эскроу: создание, привязку перевозчика,
// переходы по таблице и выплаты при завершении.
package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/repository"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/metrics"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

type Config struct {
	// FeeRate ставка комиссии по умолчанию, доля от суммы.
	FeeRate decimal.Decimal
}

type Ledger struct {
	repo     repository.EscrowRepository
	audit    repository.AuditRepository
	disputes repository.DisputeRepository
	locker   repository.Locker
	settler  *Settler
	cfg      Config
	now      func() time.Time
	log      logrus.FieldLogger
}

type Option func(*Ledger)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Ledger) { l.log = log }
}

func NewLedger(
	repo repository.EscrowRepository,
	audit repository.AuditRepository,
	disputes repository.DisputeRepository,
	locker repository.Locker,
	settler *Settler,
	cfg Config,
	opts ...Option,
) *Ledger {
	if cfg.FeeRate.IsZero() {
		cfg.FeeRate = valueobject.DefaultFeeRate
	}
	l := &Ledger{
		repo:     repo,
		audit:    audit,
		disputes: disputes,
		locker:   locker,
		settler:  settler,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*entity.Escrow, error) {
	return l.repo.Get(ctx, id)
}

func (l *Ledger) ListByShipment(ctx context.Context, shipmentID uuid.UUID) ([]*entity.Escrow, error) {
	return l.repo.FindByShipment(ctx, shipmentID)
}

// ActiveByPayment незавершённый эскроу по платежу или nil.
func (l *Ledger) ActiveByPayment(ctx context.Context, paymentID string) (*entity.Escrow, error) {
	return l.repo.FindNonTerminalByPayment(ctx, paymentID)
}

// GetDispute заявка на разбор спора по эскроу.
func (l *Ledger) GetDispute(ctx context.Context, escrowID uuid.UUID) (*entity.Dispute, error) {
	if _, err := l.repo.Get(ctx, escrowID); err != nil {
		return nil, err
	}
	return l.disputes.GetByEscrow(ctx, escrowID)
}

// reject пишет в аудит отклонённую мутацию и возвращает исходную ошибку.
func (l *Ledger) reject(ctx context.Context, userID uuid.UUID, action valueobject.EscrowAction, entityID uuid.UUID, cause error) error {
	metrics.EscrowRejections.WithLabelValues(string(action), string(apperror.CodeOf(cause))).Inc()

	if l.audit == nil {
		return cause
	}
	record := entity.NewAuditRejection(userID, string(action), entity.EntityTypeEscrow, entityID, cause.Error(), l.now())
	if err := l.audit.Append(ctx, record); err != nil {
		l.log.WithFields(logrus.Fields{
			"entity_id": entityID,
			"action":    action,
			"error":     err,
		}).Error("escrow: не удалось записать отказ в аудит")
	}
	return cause
}

func escrowKey(id uuid.UUID) string { return "escrow:" + id.String() }
func shipmentKey(id uuid.UUID) string { return "shipment:" + id.String() }
func paymentKey(paymentID string) string { return "payment:" + paymentID }
func settlementKey(id uuid.UUID, kind string) string { return id.String() + ":" + kind }

type snapshot struct {
	State         valueobject.EscrowState `json:"state"`
	Version       int                     `json:"version"`
	TransporterID *uuid.UUID              `json:"transporter_id,omitempty"`
}

func snapshotOf(e *entity.Escrow) snapshot {
	s := snapshot{State: e.State, Version: e.Version}
	if e.TransporterID != nil {
		id := *e.TransporterID
		s.TransporterID = &id
	}
	return s
}

func recipients(e *entity.Escrow) []uuid.UUID {
	out := []uuid.UUID{e.ShipperID}
	if e.TransporterID != nil {
		out = append(out, *e.TransporterID)
	}
	return out
}
