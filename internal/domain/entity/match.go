package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

// ScoreBreakdown составляющие оценки совпадения, каждая от 0 до 1.
type ScoreBreakdown struct {
	Route          float64 `json:"route"`
	Capacity       float64 `json:"capacity"`
	Rating         float64 `json:"rating"`
	Responsiveness float64 `json:"responsiveness"`
	Backhaul       float64 `json:"backhaul_bonus"`
}

// MatchResult предложение перевозки для пары отправка/перевозчик.
// После создания меняются только Status, NotifiedAt и UpdatedAt.
type MatchResult struct {
	ID            uuid.UUID
	ShipmentID    uuid.UUID
	ShipperID     uuid.UUID
	TransporterID uuid.UUID
	// DeclaredPrice заявленная цена отправки, по ней проверяется предел при принятии.
	DeclaredPrice decimal.Decimal
	MatchScore    int
	Breakdown     ScoreBreakdown
	Pricing       valueobject.Pricing
	Status        valueobject.MatchStatus
	NeedsReview   bool
	ReviewReasons []string
	Rating        float64
	AvailableFrom time.Time
	ExpiresAt     time.Time
	NotifiedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (m *MatchResult) IsPending() bool {
	return m.Status == valueobject.MatchStatusPending
}

// IsExpiredAt истёк ли срок ожидающего предложения к моменту now.
func (m *MatchResult) IsExpiredAt(now time.Time) bool {
	return m.IsPending() && now.After(m.ExpiresAt)
}

// FlagForReview помечает предложение для ручной проверки с причиной.
func (m *MatchResult) FlagForReview(reason string) {
	m.NeedsReview = true
	m.ReviewReasons = append(m.ReviewReasons, reason)
}

// TransitionTo меняет статус, разрешены только переходы из pending.
func (m *MatchResult) TransitionTo(status valueobject.MatchStatus, now time.Time) error {
	if !m.Status.CanTransitionTo(status) {
		return AlreadyDecided(m.Status)
	}
	m.Status = status
	m.UpdatedAt = now
	return nil
}

// AlreadyDecided ошибка для повторного решения по предложению.
func AlreadyDecided(status valueobject.MatchStatus) error {
	return apperror.New(apperror.ErrCodeInvalidTransition, "match already "+string(status))
}

func (m *MatchResult) Clone() *MatchResult {
	if m == nil {
		return nil
	}
	c := *m
	c.ReviewReasons = append([]string(nil), m.ReviewReasons...)
	if m.NotifiedAt != nil {
		t := *m.NotifiedAt
		c.NotifiedAt = &t
	}
	return &c
}
