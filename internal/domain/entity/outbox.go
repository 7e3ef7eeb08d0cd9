package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
)

// OutboxEvent событие для внешнего диспетчера уведомлений.
type OutboxEvent struct {
	ID          uuid.UUID
	EventType   valueobject.EventType
	AggregateID uuid.UUID
	Recipients  []uuid.UUID
	Payload     json.RawMessage
	Status      valueobject.OutboxStatus
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

func NewOutboxEvent(eventType valueobject.EventType, aggregateID uuid.UUID, recipients []uuid.UUID, payload any, now time.Time) (*OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("outbox: не удалось сериализовать событие %s: %w", eventType, err)
	}
	return &OutboxEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Recipients:  append([]uuid.UUID(nil), recipients...),
		Payload:     raw,
		Status:      valueobject.OutboxStatusPending,
		CreatedAt:   now,
	}, nil
}

func (e *OutboxEvent) Clone() *OutboxEvent {
	if e == nil {
		return nil
	}
	c := *e
	c.Recipients = append([]uuid.UUID(nil), e.Recipients...)
	c.Payload = append(json.RawMessage(nil), e.Payload...)
	if e.LastError != nil {
		v := *e.LastError
		c.LastError = &v
	}
	if e.PublishedAt != nil {
		v := *e.PublishedAt
		c.PublishedAt = &v
	}
	return &c
}
