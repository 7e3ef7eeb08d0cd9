package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
)

type OutboxRepository interface {
	Append(ctx context.Context, events ...*entity.OutboxEvent) error
	ListPending(ctx context.Context, limit int) ([]*entity.OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed увеличивает счётчик попыток; после maxAttempts событие становится FAILED.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxAttempts int) error
}
