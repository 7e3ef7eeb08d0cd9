package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freight-escrow/internal/domain/invariant"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

// HistoryEntry запись истории состояний эскроу. История только дополняется.
type HistoryEntry struct {
	State     valueobject.EscrowState  `json:"state"`
	Timestamp time.Time                `json:"timestamp"`
	Action    valueobject.EscrowAction `json:"action"`
	UserID    uuid.UUID                `json:"user_id"`
	Metadata  map[string]string        `json:"metadata,omitempty"`
}

// SettlementFailure последняя неудачная выплата или возврат после всех повторов.
type SettlementFailure struct {
	Action    valueobject.EscrowAction `json:"action"`
	Attempts  int                      `json:"attempts"`
	LastError string                   `json:"last_error"`
	FailedAt  time.Time                `json:"failed_at"`
}

type Escrow struct {
	ID            uuid.UUID
	ShipmentID    uuid.UUID
	PaymentID     string
	ShipperID     uuid.UUID
	TransporterID *uuid.UUID
	Amount        decimal.Decimal
	FeeRate       decimal.Decimal
	PlatformFee   decimal.Decimal
	NetAmount     decimal.Decimal
	State         valueobject.EscrowState
	StateHistory  []HistoryEntry
	Settlement    *SettlementFailure
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewEscrowParams параметры создания эскроу.
type NewEscrowParams struct {
	ShipmentID uuid.UUID
	PaymentID  string
	ShipperID  uuid.UUID
	Amount     decimal.Decimal
	FeeRate    decimal.Decimal
}

// NewEscrow создаёт эскроу в состоянии pending после проверки финансовых инвариантов.
func NewEscrow(p NewEscrowParams, now time.Time) (*Escrow, error) {
	if err := invariant.First(
		invariant.ValidateRequiredID("shipment_id", p.ShipmentID),
		invariant.ValidateRequired("payment_id", p.PaymentID),
		invariant.ValidateRequiredID("shipper_id", p.ShipperID),
		invariant.ValidatePaymentAmount(p.Amount),
		invariant.ValidateFeeRate(p.FeeRate),
		invariant.ValidateFeeRateCap(p.FeeRate),
	); err != nil {
		return nil, err
	}

	pricing := valueobject.SplitFee(p.Amount, p.FeeRate)
	if err := invariant.ValidatePricing(pricing); err != nil {
		return nil, err
	}

	return &Escrow{
		ID:          uuid.New(),
		ShipmentID:  p.ShipmentID,
		PaymentID:   p.PaymentID,
		ShipperID:   p.ShipperID,
		Amount:      pricing.Gross,
		FeeRate:     p.FeeRate,
		PlatformFee: pricing.PlatformFee,
		NetAmount:   pricing.Net,
		State:       valueobject.EscrowStatePending,
		StateHistory: []HistoryEntry{{
			State:     valueobject.EscrowStatePending,
			Timestamp: now,
			Action:    valueobject.ActionCreate,
			UserID:    p.ShipperID,
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// AssignTransporter привязывает перевозчика. Возвращает false, если он уже привязан.
func (e *Escrow) AssignTransporter(transporterID uuid.UUID, now time.Time) (bool, error) {
	if err := invariant.ValidateRequiredID("transporter_id", transporterID); err != nil {
		return false, err
	}
	if e.TransporterID != nil {
		if *e.TransporterID == transporterID {
			return false, nil
		}
		return false, apperror.New(apperror.ErrCodeInvalidTransition, "к эскроу уже привязан другой перевозчик")
	}
	if e.State != valueobject.EscrowStatePending {
		return false, apperror.New(apperror.ErrCodeInvalidTransition, "перевозчика можно привязать только к эскроу в состоянии pending")
	}

	id := transporterID
	e.TransporterID = &id
	e.UpdatedAt = now
	return true, nil
}

// Apply применяет переход из таблицы и добавляет ровно одну запись в историю.
func (e *Escrow) Apply(t valueobject.EscrowTransition, userID uuid.UUID, metadata map[string]string, now time.Time) error {
	if e.State != t.From {
		return apperror.New(apperror.ErrCodeInvalidTransition, "действие "+string(t.Action)+" недопустимо из состояния "+string(e.State))
	}

	e.State = t.To
	e.StateHistory = append(e.StateHistory, HistoryEntry{
		State:     t.To,
		Timestamp: now,
		Action:    t.Action,
		UserID:    userID,
		Metadata:  copyMetadata(metadata),
	})
	e.Settlement = nil
	e.UpdatedAt = now
	return nil
}

// RecordSettlementFailure фиксирует исчерпанные повторы выплаты без смены состояния.
func (e *Escrow) RecordSettlementFailure(action valueobject.EscrowAction, attempts int, cause error, now time.Time) {
	e.Settlement = &SettlementFailure{
		Action:    action,
		Attempts:  attempts,
		LastError: cause.Error(),
		FailedAt:  now,
	}
	e.UpdatedAt = now
}

func (e *Escrow) HasTransporter() bool {
	return e.TransporterID != nil
}

// IsTransporter проверяет, что userID привязанный перевозчик.
func (e *Escrow) IsTransporter(userID uuid.UUID) bool {
	return e.TransporterID != nil && *e.TransporterID == userID
}

// IsParticipant проверяет, что пользователь отправитель или перевозчик.
func (e *Escrow) IsParticipant(userID uuid.UUID) bool {
	return e.ShipperID == userID || e.IsTransporter(userID)
}

// LastTransitionAt время последней записи истории.
func (e *Escrow) LastTransitionAt() time.Time {
	if len(e.StateHistory) == 0 {
		return e.CreatedAt
	}
	return e.StateHistory[len(e.StateHistory)-1].Timestamp
}

// SameRequest проверяет, что повторный запрос создания описывает тот же платёж.
func (e *Escrow) SameRequest(p NewEscrowParams) bool {
	return e.PaymentID == p.PaymentID &&
		e.ShipmentID == p.ShipmentID &&
		e.ShipperID == p.ShipperID &&
		e.Amount.Equal(p.Amount)
}

// Clone возвращает глубокую копию записи.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	c := *e
	if e.TransporterID != nil {
		id := *e.TransporterID
		c.TransporterID = &id
	}
	c.StateHistory = make([]HistoryEntry, len(e.StateHistory))
	for i, h := range e.StateHistory {
		h.Metadata = copyMetadata(h.Metadata)
		c.StateHistory[i] = h
	}
	if e.Settlement != nil {
		s := *e.Settlement
		c.Settlement = &s
	}
	return &c
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
