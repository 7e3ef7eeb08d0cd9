package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EntityTypeEscrow = "escrow"
	EntityTypeMatch  = "match"
)

// AuditRecord запись журнала аудита: переход либо отклонённая мутация.
type AuditRecord struct {
	ID         uuid.UUID
	UserID     *uuid.UUID
	Action     string
	EntityType string
	EntityID   uuid.UUID
	Before     json.RawMessage
	After      json.RawMessage
	Reason     *string
	Timestamp  time.Time
}

// NewAuditChange запись об успешном изменении с состоянием до и после.
func NewAuditChange(userID uuid.UUID, action, entityType string, entityID uuid.UUID, before, after any, now time.Time) *AuditRecord {
	return &AuditRecord{
		ID:         uuid.New(),
		UserID:     optionalUser(userID),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     marshalSnapshot(before),
		After:      marshalSnapshot(after),
		Timestamp:  now,
	}
}

// NewAuditRejection запись об отклонённой мутации с причиной.
func NewAuditRejection(userID uuid.UUID, action, entityType string, entityID uuid.UUID, reason string, now time.Time) *AuditRecord {
	return &AuditRecord{
		ID:         uuid.New(),
		UserID:     optionalUser(userID),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Reason:     &reason,
		Timestamp:  now,
	}
}

func optionalUser(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func marshalSnapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
