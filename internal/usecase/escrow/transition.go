package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/invariant"
	"github.com/ignatzorin/freight-escrow/internal/domain/repository"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/infrastructure/metrics"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

type TransitionInput struct {
	EscrowID uuid.UUID
	Action   valueobject.EscrowAction
	UserID   uuid.UUID
	Role     valueobject.Role
	// Metadata: reason для спора, resolution для решения по спору.
	Metadata map[string]string
}

// Transition выполняет действие по таблице переходов.
// Выплата и возврат выполняются до сохранения; при неудаче состояние не меняется.
func (l *Ledger) Transition(ctx context.Context, input TransitionInput) (*entity.Escrow, error) {
	if !input.Action.IsTransitionAction() {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition, "неизвестное действие: "+string(input.Action))
	}
	if err := invariant.ValidateActorRole(string(input.Role)); err != nil {
		return nil, err
	}

	unlock, err := l.locker.Lock(ctx, escrowKey(input.EscrowID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, err := l.repo.Get(ctx, input.EscrowID)
	if err != nil {
		return nil, err
	}

	t, ok := valueobject.LookupTransition(e.State, input.Action)
	if !ok {
		return nil, l.reject(ctx, input.UserID, input.Action, e.ID, apperror.New(
			apperror.ErrCodeInvalidTransition,
			"действие "+string(input.Action)+" недопустимо из состояния "+string(e.State),
		))
	}
	if !t.Allows(input.Role) {
		return nil, l.reject(ctx, input.UserID, input.Action, e.ID, apperror.New(
			apperror.ErrCodeForbidden,
			"роль "+string(input.Role)+" не может выполнить "+string(input.Action),
		))
	}
	if input.Action == valueobject.ActionTransporterAccepts && !e.HasTransporter() {
		return nil, l.reject(ctx, input.UserID, input.Action, e.ID, apperror.New(
			apperror.ErrCodePreconditionFailed,
			"к эскроу не привязан перевозчик",
		))
	}
	if !isParticipant(e, input) {
		return nil, l.reject(ctx, input.UserID, input.Action, e.ID, apperror.New(
			apperror.ErrCodeForbidden,
			"пользователь не является участником сделки",
		))
	}

	now := l.now()
	dispute, err := l.prepareDispute(ctx, e, input, now)
	if err != nil {
		return nil, l.reject(ctx, input.UserID, input.Action, e.ID, err)
	}

	txID, err := l.settle(ctx, e, t.To)
	if err != nil {
		if apperror.IsUpstream(err) {
			l.recordSettlementFailure(ctx, e, input, err)
		}
		return nil, err
	}

	before := snapshotOf(e)
	expected := e.Version
	from := e.State

	meta := make(map[string]string, len(input.Metadata)+1)
	for k, v := range input.Metadata {
		meta[k] = v
	}
	if txID != "" {
		meta["transaction_id"] = txID
	}
	if err := e.Apply(t, input.UserID, meta, now); err != nil {
		return nil, l.reject(ctx, input.UserID, input.Action, e.ID, err)
	}
	e.Version = expected + 1

	events, err := transitionEvents(e, from, input.Action, txID, dispute, now)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сформировать событие")
	}

	err = l.repo.Put(ctx, repository.EscrowChange{
		Escrow:          e,
		ExpectedVersion: expected,
		Audit:           entity.NewAuditChange(input.UserID, string(input.Action), entity.EntityTypeEscrow, e.ID, before, snapshotOf(e), now),
		Events:          events,
		Dispute:         dispute,
	})
	if err != nil {
		return nil, err
	}

	metrics.EscrowTransitions.WithLabelValues(string(input.Action), string(e.State)).Inc()
	l.log.WithFields(logrus.Fields{
		"escrow_id": e.ID,
		"action":    input.Action,
		"from":      from,
		"to":        e.State,
	}).Info("escrow: переход выполнен")
	return e, nil
}

// isParticipant отправитель и перевозчик действуют только в своих сделках.
func isParticipant(e *entity.Escrow, input TransitionInput) bool {
	switch input.Role {
	case valueobject.RoleShipper:
		return e.ShipperID == input.UserID
	case valueobject.RoleTransporter:
		return e.IsTransporter(input.UserID)
	}
	return true
}

// prepareDispute открывает заявку при входе в disputed и закрывает её при решении.
func (l *Ledger) prepareDispute(ctx context.Context, e *entity.Escrow, input TransitionInput, now time.Time) (*entity.Dispute, error) {
	switch {
	case input.Action == valueobject.ActionRaiseDispute:
		return entity.NewDispute(e.ID, input.UserID, input.Metadata["reason"], now), nil

	case input.Action.IsDisputeResolution():
		resolution := input.Metadata["resolution"]
		if err := invariant.ValidateDisputeResolution(input.UserID, resolution); err != nil {
			return nil, err
		}

		d, err := l.disputes.GetByEscrow(ctx, e.ID)
		if err != nil {
			if !apperror.IsNotFound(err) {
				return nil, err
			}
			d = entity.NewDispute(e.ID, uuid.Nil, "", now)
		}

		outcome := valueobject.DisputeOutcomeForShipper
		if input.Action == valueobject.ActionResolveForTransporter {
			outcome = valueobject.DisputeOutcomeForTransporter
		}
		if err := d.Resolve(input.UserID, resolution, outcome, now); err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, nil
}

func (l *Ledger) settle(ctx context.Context, e *entity.Escrow, to valueobject.EscrowState) (string, error) {
	switch to {
	case valueobject.EscrowStateReleased:
		if !e.HasTransporter() {
			return "", apperror.New(apperror.ErrCodePreconditionFailed, "к эскроу не привязан перевозчик")
		}
		return l.settler.Disburse(ctx, e)
	case valueobject.EscrowStateRefunded:
		return l.settler.Refund(ctx, e)
	}
	return "", nil
}

// recordSettlementFailure сохраняет отметку о неудачной выплате, состояние остаётся прежним.
func (l *Ledger) recordSettlementFailure(ctx context.Context, e *entity.Escrow, input TransitionInput, cause error) {
	now := l.now()
	expected := e.Version
	e.RecordSettlementFailure(input.Action, attemptsOf(cause), cause, now)
	e.Version = expected + 1

	err := l.repo.Put(ctx, repository.EscrowChange{
		Escrow:          e,
		ExpectedVersion: expected,
		Audit:           entity.NewAuditRejection(input.UserID, string(valueobject.ActionSettlementFailed), entity.EntityTypeEscrow, e.ID, cause.Error(), now),
	})
	fields := logrus.Fields{"escrow_id": e.ID, "action": input.Action, "error": cause}
	if err != nil {
		fields["store_error"] = err
		l.log.WithFields(fields).Error("escrow: выплата не выполнена, отметку сохранить не удалось")
		return
	}
	metrics.EscrowRejections.WithLabelValues(string(input.Action), string(apperror.ErrCodeUpstreamFailure)).Inc()
	l.log.WithFields(fields).Error("escrow: выплата не выполнена после всех попыток")
}
