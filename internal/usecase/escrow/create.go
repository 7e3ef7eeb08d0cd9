package escrow

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/repository"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

type CreateInput struct {
	ShipmentID uuid.UUID
	PaymentID  string
	ShipperID  uuid.UUID
	Amount     decimal.Decimal
	// FeeRate переопределяет ставку по умолчанию.
	FeeRate *decimal.Decimal
}

type CreateResult struct {
	Escrow *entity.Escrow
	// Duplicate true, если возвращена уже существующая запись по тому же платежу.
	Duplicate bool
}

// Create открывает эскроу при инициации платежа.
// Повтор того же платежа возвращает существующую запись, конфликтующий отклоняется.
func (l *Ledger) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	rate := l.cfg.FeeRate
	if input.FeeRate != nil {
		rate = *input.FeeRate
	}
	params := entity.NewEscrowParams{
		ShipmentID: input.ShipmentID,
		PaymentID:  input.PaymentID,
		ShipperID:  input.ShipperID,
		Amount:     input.Amount,
		FeeRate:    rate,
	}

	now := l.now()
	e, err := entity.NewEscrow(params, now)
	if err != nil {
		return nil, l.reject(ctx, input.ShipperID, valueobject.ActionCreate, input.ShipmentID, err)
	}

	unlockPayment, err := l.locker.Lock(ctx, paymentKey(input.PaymentID))
	if err != nil {
		return nil, err
	}
	defer unlockPayment()
	unlockShipment, err := l.locker.Lock(ctx, shipmentKey(input.ShipmentID))
	if err != nil {
		return nil, err
	}
	defer unlockShipment()

	existing, err := l.repo.FindNonTerminalByPayment(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.SameRequest(params) {
			l.log.WithFields(logrus.Fields{
				"escrow_id":  existing.ID,
				"payment_id": input.PaymentID,
			}).Info("escrow: повторный запрос создания, возвращена существующая запись")
			return &CreateResult{Escrow: existing, Duplicate: true}, nil
		}
		dup := apperror.New(apperror.ErrCodeDuplicateDetected, "платёж уже привязан к другому эскроу")
		return nil, l.reject(ctx, input.ShipperID, valueobject.ActionCreate, existing.ID, dup)
	}

	byShipment, err := l.repo.FindByShipment(ctx, input.ShipmentID)
	if err != nil {
		return nil, err
	}
	for _, other := range byShipment {
		if other.State.IsNonTerminal() {
			dup := apperror.New(apperror.ErrCodeDuplicateDetected, "по отправке уже есть активный эскроу")
			return nil, l.reject(ctx, input.ShipperID, valueobject.ActionCreate, other.ID, dup)
		}
	}

	ev, err := paymentUpdateEvent(e, "", "Платёж принят на эскроу: "+e.Amount.StringFixed(2), now)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сформировать событие")
	}

	change := repository.EscrowChange{
		Escrow: e,
		Audit:  entity.NewAuditChange(input.ShipperID, string(valueobject.ActionCreate), entity.EntityTypeEscrow, e.ID, nil, snapshotOf(e), now),
		Events: []*entity.OutboxEvent{ev},
	}
	if err := l.repo.Put(ctx, change); err != nil {
		if apperror.IsDuplicate(err) {
			return nil, l.reject(ctx, input.ShipperID, valueobject.ActionCreate, input.ShipmentID, err)
		}
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"escrow_id":   e.ID,
		"shipment_id": e.ShipmentID,
		"amount":      e.Amount.StringFixed(2),
		"fee":         e.PlatformFee.StringFixed(2),
	}).Info("escrow: создан")
	return &CreateResult{Escrow: e}, nil
}
