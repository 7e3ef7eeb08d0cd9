package invariant

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
)

// ValidateMatchScore оценка совпадения в диапазоне [0,100].
func ValidateMatchScore(score int) error {
	if score < 0 || score > 100 {
		return violation(RuleMatchScoreRange, fmt.Sprintf("оценка совпадения %d вне диапазона 0..100", score))
	}
	return nil
}

// ValidateMatchPrice итоговая цена не выше 150% заявленной.
func ValidateMatchPrice(price, declared decimal.Decimal) error {
	limit := valueobject.PriceCap(declared)
	if price.GreaterThan(limit) {
		return violation(RuleMatchPriceCap,
			fmt.Sprintf("цена %s превышает 150%% заявленной (%s)", price.StringFixed(valueobject.MoneyScale), limit.StringFixed(valueobject.MoneyScale)))
	}
	return nil
}

// ValidatePaymentAmount сумма платежа положительна.
func ValidatePaymentAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return violation(RulePaymentAmount, "сумма платежа должна быть больше нуля")
	}
	return nil
}

// ValidateFeeRate ставка комиссии задаётся долей от 0 до 1 с точностью до четырёх знаков.
func ValidateFeeRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return violation(RuleFeeRate, "ставка комиссии должна быть долей от 0 до 1")
	}
	if !rate.Equal(rate.Round(valueobject.FeeRateScale)) {
		return violation(RuleFeeRate, fmt.Sprintf("ставка комиссии задаётся не более чем %d знаками после запятой", valueobject.FeeRateScale))
	}
	return nil
}

// ValidateFeeRateCap ставка не выше 10%, независимо от округления комиссии.
func ValidateFeeRateCap(rate decimal.Decimal) error {
	if rate.GreaterThan(valueobject.MaxFeeRate) {
		return violation(RulePlatformFeeCap,
			fmt.Sprintf("ставка комиссии %s превышает 10%%", rate.String()))
	}
	return nil
}

// ValidatePlatformFee комиссия не превышает 10% суммы.
func ValidatePlatformFee(amount, fee decimal.Decimal) error {
	limit := amount.Mul(valueobject.MaxFeeRate)
	if fee.IsNegative() || fee.GreaterThan(limit) {
		return violation(RulePlatformFeeCap,
			fmt.Sprintf("комиссия %s превышает 10%% суммы (%s)", fee.StringFixed(valueobject.MoneyScale), limit.StringFixed(valueobject.MoneyScale)))
	}
	return nil
}

// ValidateNetAmount выплата равна сумме минус комиссия с допуском 0.01.
func ValidateNetAmount(amount, fee, net decimal.Decimal) error {
	diff := net.Sub(amount.Sub(fee)).Abs()
	if diff.GreaterThan(valueobject.NetAmountTolerance) {
		return violation(RuleNetAmount, "сумма выплаты не равна сумме платежа за вычетом комиссии")
	}
	return nil
}

// ValidatePricing проверяет разбивку суммы целиком.
func ValidatePricing(p valueobject.Pricing) error {
	return First(
		ValidatePaymentAmount(p.Gross),
		ValidatePlatformFee(p.Gross, p.PlatformFee),
		ValidateNetAmount(p.Gross, p.PlatformFee, p.Net),
	)
}
