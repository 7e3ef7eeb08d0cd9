package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freight-escrow/internal/domain/invariant"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

// Dispute заявка на разбор спора по эскроу.
type Dispute struct {
	ID         uuid.UUID
	EscrowID   uuid.UUID
	RaisedBy   uuid.UUID
	Reason     string
	ReviewerID *uuid.UUID
	Resolution *string
	Outcome    *valueobject.DisputeOutcome
	Status     valueobject.DisputeStatus
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

func NewDispute(escrowID, raisedBy uuid.UUID, reason string, now time.Time) *Dispute {
	return &Dispute{
		ID:        uuid.New(),
		EscrowID:  escrowID,
		RaisedBy:  raisedBy,
		Reason:    reason,
		Status:    valueobject.DisputeStatusOpen,
		CreatedAt: now,
	}
}

// Resolve закрывает спор. Без проверяющего и текста решения спор не закрывается.
func (d *Dispute) Resolve(reviewerID uuid.UUID, resolution string, outcome valueobject.DisputeOutcome, now time.Time) error {
	if d.Status != valueobject.DisputeStatusOpen {
		return apperror.New(apperror.ErrCodeInvalidTransition, "спор уже закрыт")
	}
	if err := invariant.ValidateDisputeResolution(reviewerID, resolution); err != nil {
		return err
	}

	reviewer := reviewerID
	d.ReviewerID = &reviewer
	d.Resolution = &resolution
	d.Outcome = &outcome
	d.Status = valueobject.DisputeStatusResolved
	d.ResolvedAt = &now
	return nil
}

func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	c := *d
	if d.ReviewerID != nil {
		v := *d.ReviewerID
		c.ReviewerID = &v
	}
	if d.Resolution != nil {
		v := *d.Resolution
		c.Resolution = &v
	}
	if d.Outcome != nil {
		v := *d.Outcome
		c.Outcome = &v
	}
	if d.ResolvedAt != nil {
		v := *d.ResolvedAt
		c.ResolvedAt = &v
	}
	return &c
}
