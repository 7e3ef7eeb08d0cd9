package valueobject

import (
	"github.com/shopspring/decimal"
)

// MoneyScale количество знаков после запятой для денежных сумм.
const MoneyScale int32 = 2

// FeeRateScale количество знаков после запятой в ставке комиссии.
const FeeRateScale int32 = 4

var (
	// MaxFeeRate предельная доля комиссии платформы.
	MaxFeeRate = decimal.RequireFromString("0.10")
	// DefaultFeeRate ставка по умолчанию, совпадает с пределом, но задаётся конфигурацией.
	DefaultFeeRate = decimal.RequireFromString("0.10")
	// MaxPriceMultiplier предельная цена перевозки относительно заявленной.
	MaxPriceMultiplier = decimal.RequireFromString("1.5")
	// NetAmountTolerance допуск округления при сверке суммы выплаты.
	NetAmountTolerance = decimal.RequireFromString("0.01")
)

// Pricing разбивка суммы на комиссию и выплату перевозчику.
type Pricing struct {
	Gross       decimal.Decimal `json:"gross_price"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	Net         decimal.Decimal `json:"net_earnings"`
}

// RoundMoney округляет сумму до копеек.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// SplitFee считает комиссию round(amount × rate) и выплату amount − fee.
// При ставке в пределах лимита округление вверх не может вывести комиссию за лимит.
func SplitFee(amount, rate decimal.Decimal) Pricing {
	fee := RoundMoney(amount.Mul(rate))
	if rate.LessThanOrEqual(MaxFeeRate) {
		limit := amount.Mul(MaxFeeRate).RoundFloor(MoneyScale)
		if fee.GreaterThan(limit) {
			fee = limit
		}
	}
	return Pricing{
		Gross:       amount,
		PlatformFee: fee,
		Net:         amount.Sub(fee),
	}
}

// PriceCap максимально допустимая цена перевозки для заявленной цены.
func PriceCap(declared decimal.Decimal) decimal.Decimal {
	return declared.Mul(MaxPriceMultiplier)
}
