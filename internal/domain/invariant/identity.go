package invariant

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
)

// Национальный формат: 07XXXXXXXX / 01XXXXXXXX или +2547XXXXXXXX / +2541XXXXXXXX.
var phonePattern = regexp.MustCompile(`^(?:0|\+254)[17]\d{8}$`)

// ValidatePhone проверяет формат номера телефона.
func ValidatePhone(phone string) error {
	if !phonePattern.MatchString(strings.TrimSpace(phone)) {
		return violation(RulePhoneFormat, "номер телефона должен быть в формате 07XXXXXXXX или +2547XXXXXXXX")
	}
	return nil
}

// ValidateUserRole проверяет роль учётной записи.
func ValidateUserRole(role string) error {
	if !valueobject.Role(role).IsUserRole() {
		return violation(RuleUserRole, "роль должна быть одной из: shipper, transporter, admin")
	}
	return nil
}

// ValidateActorRole проверяет роль инициатора перехода.
func ValidateActorRole(role string) error {
	if !valueobject.Role(role).IsActorRole() {
		return violation(RuleActorRole, "неизвестная роль инициатора: "+role)
	}
	return nil
}

// ValidateRating проверяет оценку: целое от 1 до 5.
func ValidateRating(rating int) error {
	if rating < 1 || rating > 5 {
		return violation(RuleRatingRange, "оценка должна быть от 1 до 5")
	}
	return nil
}

// ValidateNotSelfRating запрещает оценивать самого себя.
func ValidateNotSelfRating(raterID, ratedID uuid.UUID) error {
	if raterID == ratedID {
		return violation(RuleSelfRating, "нельзя оценить самого себя")
	}
	return nil
}

// ValidateRequiredID проверяет, что идентификатор задан.
func ValidateRequiredID(field string, id uuid.UUID) error {
	if id == uuid.Nil {
		return violation(RuleRequiredField, field+" обязателен")
	}
	return nil
}

// ValidateRequired проверяет, что строковое поле не пустое.
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return violation(RuleRequiredField, field+" обязателен")
	}
	return nil
}
