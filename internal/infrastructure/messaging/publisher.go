// Package messaging доставляет события outbox внешним получателям:
// брокеру сообщений и подключённым WebSocket клиентам.
package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
)

// Publisher получатель событий outbox. Повторная доставка того же события
// допустима, получатели дедуплицируют по ID.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, event *entity.OutboxEvent) error
}

// Envelope формат события на проводе.
type Envelope struct {
	ID          uuid.UUID             `json:"id"`
	Type        valueobject.EventType `json:"type"`
	AggregateID uuid.UUID             `json:"aggregate_id"`
	Recipients  []uuid.UUID           `json:"recipients"`
	Payload     json.RawMessage       `json:"payload"`
	CreatedAt   time.Time             `json:"created_at"`
}

func NewEnvelope(ev *entity.OutboxEvent) Envelope {
	recipients := ev.Recipients
	if recipients == nil {
		recipients = []uuid.UUID{}
	}
	return Envelope{
		ID:          ev.ID,
		Type:        ev.EventType,
		AggregateID: ev.AggregateID,
		Recipients:  recipients,
		Payload:     ev.Payload,
		CreatedAt:   ev.CreatedAt,
	}
}

func marshalEnvelope(ev *entity.OutboxEvent) ([]byte, error) {
	return json.Marshal(NewEnvelope(ev))
}
