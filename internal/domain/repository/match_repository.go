package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
)

type MatchRepository interface {
	CreateBatch(ctx context.Context, matches []*entity.MatchResult) error
	Get(ctx context.Context, id uuid.UUID) (*entity.MatchResult, error)
	ListByShipment(ctx context.Context, shipmentID uuid.UUID) ([]*entity.MatchResult, error)
	// CompareAndSetStatus атомарно меняет статус, если текущий равен from.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to valueobject.MatchStatus, at time.Time) (bool, error)
	MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error
	// ExpirePending переводит просроченные pending в expired и возвращает их количество.
	ExpirePending(ctx context.Context, now time.Time) (int, error)
}
