package invariant_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ignatzorin/freight-escrow/internal/domain/invariant"
	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

func assertRule(t *testing.T, err error, rule string) {
	t.Helper()
	if assert.Error(t, err) {
		assert.True(t, apperror.IsValidation(err), "ожидалась ошибка валидации: %v", err)
		assert.Equal(t, rule, apperror.RuleOf(err))
	}
}

func TestValidatePhone(t *testing.T) {
	for _, ok := range []string{"0712345678", "0112345678", "+254712345678", " +254112345678 "} {
		assert.NoError(t, invariant.ValidatePhone(ok), ok)
	}
	for _, bad := range []string{"", "712345678", "+25471234567", "0812345678", "07123456789", "+1 555 0100"} {
		assertRule(t, invariant.ValidatePhone(bad), invariant.RulePhoneFormat)
	}
}

func TestValidateRoles(t *testing.T) {
	assert.NoError(t, invariant.ValidateUserRole("shipper"))
	assertRule(t, invariant.ValidateUserRole("system"), invariant.RuleUserRole)
	assert.NoError(t, invariant.ValidateActorRole("system"))
	assertRule(t, invariant.ValidateActorRole("guest"), invariant.RuleActorRole)
}

func TestValidateRating(t *testing.T) {
	for r := 1; r <= 5; r++ {
		assert.NoError(t, invariant.ValidateRating(r))
	}
	assertRule(t, invariant.ValidateRating(0), invariant.RuleRatingRange)
	assertRule(t, invariant.ValidateRating(6), invariant.RuleRatingRange)

	id := uuid.New()
	assertRule(t, invariant.ValidateNotSelfRating(id, id), invariant.RuleSelfRating)
	assert.NoError(t, invariant.ValidateNotSelfRating(id, uuid.New()))
}

func TestValidateShipment(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	valid := invariant.ShipmentFields{
		WeightKg:      1200,
		DeclaredPrice: decimal.NewFromInt(100000),
		PickupDate:    time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
		DeliveryDate:  time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC),
		Origin:        "Nairobi",
		Destination:   "Mombasa",
	}
	assert.NoError(t, invariant.ValidateShipment(valid, now), "забор сегодня утром допустим")

	cases := []struct {
		name   string
		mutate func(s *invariant.ShipmentFields)
		rule   string
	}{
		{"нулевой вес", func(s *invariant.ShipmentFields) { s.WeightKg = 0 }, invariant.RuleShipmentWeight},
		{"отрицательная цена", func(s *invariant.ShipmentFields) { s.DeclaredPrice = decimal.NewFromInt(-1) }, invariant.RuleShipmentPrice},
		{"забор вчера", func(s *invariant.ShipmentFields) { s.PickupDate = now.AddDate(0, 0, -1) }, invariant.RulePickupDate},
		{"доставка раньше забора", func(s *invariant.ShipmentFields) { s.DeliveryDate = s.PickupDate.Add(-time.Hour) }, invariant.RuleDeliveryDate},
		{"тот же город", func(s *invariant.ShipmentFields) { s.Destination = " nairobi " }, invariant.RuleRouteDistinct},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := valid
			tc.mutate(&s)
			assertRule(t, invariant.ValidateShipment(s, now), tc.rule)
		})
	}
}

func TestValidateMatch(t *testing.T) {
	assert.NoError(t, invariant.ValidateMatchScore(0))
	assert.NoError(t, invariant.ValidateMatchScore(100))
	assertRule(t, invariant.ValidateMatchScore(101), invariant.RuleMatchScoreRange)
	assertRule(t, invariant.ValidateMatchScore(-1), invariant.RuleMatchScoreRange)

	declared := decimal.NewFromInt(100000)
	assert.NoError(t, invariant.ValidateMatchPrice(decimal.NewFromInt(150000), declared))
	assertRule(t, invariant.ValidateMatchPrice(decimal.NewFromInt(160000), declared), invariant.RuleMatchPriceCap)
}

func TestValidateFinancial(t *testing.T) {
	amount := decimal.NewFromInt(10000)

	assertRule(t, invariant.ValidatePaymentAmount(decimal.Zero), invariant.RulePaymentAmount)
	assertRule(t, invariant.ValidateFeeRate(decimal.RequireFromString("-0.01")), invariant.RuleFeeRate)
	assertRule(t, invariant.ValidateFeeRate(decimal.RequireFromString("0.12345")), invariant.RuleFeeRate)
	assert.NoError(t, invariant.ValidateFeeRate(decimal.RequireFromString("0.0725")))
	assert.NoError(t, invariant.ValidateFeeRateCap(decimal.RequireFromString("0.1")))
	assertRule(t, invariant.ValidateFeeRateCap(decimal.RequireFromString("0.1001")), invariant.RulePlatformFeeCap)

	assert.NoError(t, invariant.ValidatePlatformFee(amount, decimal.NewFromInt(1000)))
	assertRule(t, invariant.ValidatePlatformFee(amount, decimal.NewFromInt(1200)), invariant.RulePlatformFeeCap)

	assert.NoError(t, invariant.ValidateNetAmount(amount, decimal.NewFromInt(1000), decimal.RequireFromString("9000.01")))
	assertRule(t, invariant.ValidateNetAmount(amount, decimal.NewFromInt(1000), decimal.RequireFromString("8999.98")), invariant.RuleNetAmount)
}

func TestValidatePricing_RejectsTwelvePercent(t *testing.T) {
	p := valueobject.SplitFee(decimal.NewFromInt(10000), decimal.RequireFromString("0.12"))

	assertRule(t, invariant.ValidatePricing(p), invariant.RulePlatformFeeCap)
}

func TestValidateProgression(t *testing.T) {
	assert.NoError(t, invariant.ValidateVerificationProgression(valueobject.VerificationPhone, valueobject.VerificationIdentity))
	assert.NoError(t, invariant.ValidateVerificationProgression(valueobject.VerificationPhone, valueobject.VerificationPhone))
	assertRule(t, invariant.ValidateVerificationProgression(valueobject.VerificationIdentity, valueobject.VerificationPhone), invariant.RuleVerificationRegression)

	assertRule(t, invariant.ValidateDisputeResolution(uuid.Nil, "решение"), invariant.RuleDisputeResolution)
	assertRule(t, invariant.ValidateDisputeResolution(uuid.New(), "   "), invariant.RuleDisputeResolution)
	assert.NoError(t, invariant.ValidateDisputeResolution(uuid.New(), "груз повреждён, возврат"))
}
