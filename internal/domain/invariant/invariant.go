// Package invariant содержит чистые проверки доменных правил.
// Каждая функция отвечает за одно правило, не читает внешнее состояние
// и возвращает nil либо ошибку валидации со стабильным кодом правила.
package invariant

import "github.com/ignatzorin/freight-escrow/internal/pkg/apperror"

// Коды правил. Значения стабильны: на них опираются клиенты и журнал аудита.
const (
	RulePhoneFormat            = "PHONE_FORMAT"
	RuleUserRole               = "USER_ROLE"
	RuleActorRole              = "ACTOR_ROLE"
	RuleRatingRange            = "RATING_RANGE"
	RuleSelfRating             = "SELF_RATING"
	RuleShipmentWeight         = "SHIPMENT_WEIGHT"
	RuleShipmentPrice          = "SHIPMENT_PRICE"
	RulePickupDate             = "PICKUP_DATE"
	RuleDeliveryDate           = "DELIVERY_DATE"
	RuleRouteDistinct          = "ROUTE_DISTINCT"
	RuleMatchScoreRange        = "MATCH_SCORE_RANGE"
	RuleMatchPriceCap          = "MATCH_PRICE_CAP"
	RulePaymentAmount          = "PAYMENT_AMOUNT"
	RuleFeeRate                = "FEE_RATE"
	RulePlatformFeeCap         = "PLATFORM_FEE_CAP"
	RuleNetAmount              = "NET_AMOUNT"
	RuleVerificationRegression = "VERIFICATION_REGRESSION"
	RuleDisputeResolution      = "DISPUTE_RESOLUTION"
	RuleRequiredField          = "REQUIRED_FIELD"
)

func violation(rule, message string) error {
	return apperror.Violation(rule, message)
}

// First возвращает первую ошибку из списка проверок.
func First(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
