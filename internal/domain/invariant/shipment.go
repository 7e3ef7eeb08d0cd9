package invariant

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ShipmentFields поля отправки, которые проверяются до подбора перевозчика.
type ShipmentFields struct {
	WeightKg      float64
	DeclaredPrice decimal.Decimal
	PickupDate    time.Time
	DeliveryDate  time.Time
	Origin        string
	Destination   string
}

// ValidateWeight вес груза должен быть положительным.
func ValidateWeight(weightKg float64) error {
	if !(weightKg > 0) {
		return violation(RuleShipmentWeight, "вес груза должен быть больше нуля")
	}
	return nil
}

// ValidatePrice заявленная цена должна быть положительной.
func ValidatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return violation(RuleShipmentPrice, "цена перевозки должна быть больше нуля")
	}
	return nil
}

// ValidatePickupDate дата забора не раньше сегодняшней (по календарю now).
func ValidatePickupDate(pickup, now time.Time) error {
	if calendarDate(pickup.In(now.Location())).Before(calendarDate(now)) {
		return violation(RulePickupDate, "дата забора груза не может быть в прошлом")
	}
	return nil
}

// ValidateDeliveryDate дата доставки не раньше даты забора.
func ValidateDeliveryDate(pickup, delivery time.Time) error {
	if delivery.Before(pickup) {
		return violation(RuleDeliveryDate, "дата доставки не может быть раньше даты забора")
	}
	return nil
}

// ValidateRoute пункты отправления и назначения различаются без учёта регистра.
func ValidateRoute(origin, destination string) error {
	if strings.EqualFold(strings.TrimSpace(origin), strings.TrimSpace(destination)) {
		return violation(RuleRouteDistinct, "пункт отправления совпадает с пунктом назначения")
	}
	return nil
}

// ValidateShipment прогоняет все правила отправки, возвращает первое нарушение.
func ValidateShipment(s ShipmentFields, now time.Time) error {
	return First(
		ValidateWeight(s.WeightKg),
		ValidatePrice(s.DeclaredPrice),
		ValidatePickupDate(s.PickupDate, now),
		ValidateDeliveryDate(s.PickupDate, s.DeliveryDate),
		ValidateRoute(s.Origin, s.Destination),
	)
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
