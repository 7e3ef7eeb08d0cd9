package escrow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
)

type stateChangedPayload struct {
	EscrowID   uuid.UUID                `json:"escrow_id"`
	ShipmentID uuid.UUID                `json:"shipment_id"`
	From       valueobject.EscrowState  `json:"from"`
	To         valueobject.EscrowState  `json:"to"`
	Action     valueobject.EscrowAction `json:"action"`
	Summary    string                   `json:"summary"`
}

type paymentUpdatePayload struct {
	EscrowID      uuid.UUID               `json:"escrow_id"`
	ShipmentID    uuid.UUID               `json:"shipment_id"`
	PaymentID     string                  `json:"payment_id"`
	State         valueobject.EscrowState `json:"state"`
	Amount        string                  `json:"amount"`
	NetAmount     string                  `json:"net_amount"`
	TransactionID string                  `json:"transaction_id,omitempty"`
	Summary       string                  `json:"summary"`
}

func stateChangedEvent(e *entity.Escrow, from valueobject.EscrowState, action valueobject.EscrowAction, now time.Time) (*entity.OutboxEvent, error) {
	return entity.NewOutboxEvent(valueobject.EventEscrowStateChanged, e.ID, recipients(e), stateChangedPayload{
		EscrowID:   e.ID,
		ShipmentID: e.ShipmentID,
		From:       from,
		To:         e.State,
		Action:     action,
		Summary:    fmt.Sprintf("Эскроу по отправке %s: %s → %s", e.ShipmentID, from, e.State),
	}, now)
}

func paymentUpdateEvent(e *entity.Escrow, txID, summary string, now time.Time) (*entity.OutboxEvent, error) {
	return entity.NewOutboxEvent(valueobject.EventPaymentUpdate, e.ID, recipients(e), paymentUpdatePayload{
		EscrowID:      e.ID,
		ShipmentID:    e.ShipmentID,
		PaymentID:     e.PaymentID,
		State:         e.State,
		Amount:        e.Amount.StringFixed(2),
		NetAmount:     e.NetAmount.StringFixed(2),
		TransactionID: txID,
		Summary:       summary,
	}, now)
}

func disputeOpenedEvent(e *entity.Escrow, d *entity.Dispute, now time.Time) (*entity.OutboxEvent, error) {
	return entity.NewOutboxEvent(valueobject.EventDisputeOpened, e.ID, recipients(e), map[string]any{
		"escrow_id":  e.ID,
		"dispute_id": d.ID,
		"raised_by":  d.RaisedBy,
		"reason":     d.Reason,
		"summary":    "Открыт спор по эскроу, требуется проверка администратора",
	}, now)
}

// transitionEvents события, которые сопровождают переход.
func transitionEvents(e *entity.Escrow, from valueobject.EscrowState, action valueobject.EscrowAction, txID string, dispute *entity.Dispute, now time.Time) ([]*entity.OutboxEvent, error) {
	changed, err := stateChangedEvent(e, from, action, now)
	if err != nil {
		return nil, err
	}
	events := []*entity.OutboxEvent{changed}

	switch e.State {
	case valueobject.EscrowStateReleased:
		ev, err := paymentUpdateEvent(e, txID, "Средства перечислены перевозчику: "+e.NetAmount.StringFixed(2), now)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	case valueobject.EscrowStateRefunded:
		ev, err := paymentUpdateEvent(e, txID, "Средства возвращены отправителю: "+e.Amount.StringFixed(2), now)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	case valueobject.EscrowStateDisputed:
		if dispute != nil {
			ev, err := disputeOpenedEvent(e, dispute, now)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
	}
	return events, nil
}
