package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
)

// EscrowChange атомарная единица записи: либо сохраняется всё, либо ничего.
type EscrowChange struct {
	Escrow *entity.Escrow
	// ExpectedVersion версия, с которой запись была прочитана; 0 для новой записи.
	ExpectedVersion int
	Audit           *entity.AuditRecord
	Events          []*entity.OutboxEvent
	// Dispute создаётся или обновляется вместе с переходом.
	Dispute *entity.Dispute
}

type EscrowFilter struct {
	States       []valueobject.EscrowState
	UpdatedSince *time.Time
}

// EscrowRepository контракт хранилища эскроу.
// Put возвращает ErrVersionConflict при устаревшей версии и DuplicateDetected
// при второй активной записи по отправке или платежу.
type EscrowRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.Escrow, error)
	Put(ctx context.Context, change EscrowChange) error
	FindByShipment(ctx context.Context, shipmentID uuid.UUID) ([]*entity.Escrow, error)
	// FindNonTerminalByPayment возвращает nil, nil если активной записи нет.
	FindNonTerminalByPayment(ctx context.Context, paymentID string) (*entity.Escrow, error)
	List(ctx context.Context, filter EscrowFilter) ([]*entity.Escrow, error)
}

type AuditRepository interface {
	Append(ctx context.Context, record *entity.AuditRecord) error
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*entity.AuditRecord, error)
}

type DisputeRepository interface {
	GetByEscrow(ctx context.Context, escrowID uuid.UUID) (*entity.Dispute, error)
}
