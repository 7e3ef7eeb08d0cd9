package escrow

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/repository"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

type AssignInput struct {
	EscrowID      uuid.UUID
	TransporterID uuid.UUID
	ActorID       uuid.UUID
	Role          valueobject.Role
}

// AssignTransporter привязывает перевозчика к эскроу в состоянии pending.
// Повторная привязка того же перевозчика ничего не записывает.
func (l *Ledger) AssignTransporter(ctx context.Context, input AssignInput) (*entity.Escrow, error) {
	unlock, err := l.locker.Lock(ctx, escrowKey(input.EscrowID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, err := l.repo.Get(ctx, input.EscrowID)
	if err != nil {
		return nil, err
	}

	if !canAssign(e, input) {
		return nil, l.reject(ctx, input.ActorID, valueobject.ActionAssignTransporter, e.ID, apperror.ErrForbidden)
	}

	now := l.now()
	before := snapshotOf(e)
	expected := e.Version

	changed, err := e.AssignTransporter(input.TransporterID, now)
	if err != nil {
		return nil, l.reject(ctx, input.ActorID, valueobject.ActionAssignTransporter, e.ID, err)
	}
	if !changed {
		return e, nil
	}
	e.Version = expected + 1

	ev, err := stateChangedEvent(e, e.State, valueobject.ActionAssignTransporter, now)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сформировать событие")
	}

	err = l.repo.Put(ctx, repository.EscrowChange{
		Escrow:          e,
		ExpectedVersion: expected,
		Audit:           entity.NewAuditChange(input.ActorID, string(valueobject.ActionAssignTransporter), entity.EntityTypeEscrow, e.ID, before, snapshotOf(e), now),
		Events:          []*entity.OutboxEvent{ev},
	})
	if err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"escrow_id":      e.ID,
		"transporter_id": input.TransporterID,
	}).Info("escrow: перевозчик привязан")
	return e, nil
}

func canAssign(e *entity.Escrow, input AssignInput) bool {
	switch input.Role {
	case valueobject.RoleAdmin, valueobject.RoleSystem:
		return true
	case valueobject.RoleShipper:
		return e.ShipperID == input.ActorID
	case valueobject.RoleTransporter:
		// перевозчик привязывает только себя, принимая предложение
		return input.ActorID == input.TransporterID
	}
	return false
}
