package invariant

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
)

// ValidateVerificationProgression уровень верификации может только расти.
func ValidateVerificationProgression(current, next valueobject.VerificationLevel) error {
	if !next.IsValid() {
		return violation(RuleVerificationRegression, "неизвестный уровень верификации: "+string(next))
	}
	if next.Rank() < current.Rank() {
		return violation(RuleVerificationRegression, "уровень верификации не может понижаться")
	}
	return nil
}

// ValidateDisputeResolution спор закрывается только с назначенным проверяющим и текстом решения.
func ValidateDisputeResolution(reviewerID uuid.UUID, resolution string) error {
	if reviewerID == uuid.Nil {
		return violation(RuleDisputeResolution, "для закрытия спора нужен проверяющий")
	}
	if strings.TrimSpace(resolution) == "" {
		return violation(RuleDisputeResolution, "для закрытия спора нужно письменное решение")
	}
	return nil
}
