package escrow

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/freight-escrow/internal/domain/entity"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

type ResolveInput struct {
	EscrowID   uuid.UUID
	ReviewerID uuid.UUID
	Resolution string
	Outcome    valueobject.DisputeOutcome
}

// ResolveDispute решение администратора по спору: выплата перевозчику или возврат отправителю.
func (l *Ledger) ResolveDispute(ctx context.Context, input ResolveInput) (*entity.Escrow, error) {
	if !input.Outcome.IsValid() {
		return nil, apperror.New(apperror.ErrCodeValidation, "исход спора должен быть for_shipper или for_transporter")
	}
	return l.Transition(ctx, TransitionInput{
		EscrowID: input.EscrowID,
		Action:   input.Outcome.Action(),
		UserID:   input.ReviewerID,
		Role:     valueobject.RoleAdmin,
		Metadata: map[string]string{"resolution": input.Resolution},
	})
}
