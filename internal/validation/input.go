package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Константы валидации
const (
	MaxPaymentIDLength  = 128
	MaxReasonLength     = 2000
	MaxResolutionLength = 2000
	MaxRegionLength     = 100
	MaxCargoTypeLength  = 50
	MaxCandidates       = 500
	MaxMetadataEntries  = 16
	MaxMetadataValue    = 500
)

var paymentIDRegex = regexp.MustCompile(`^[A-Za-z0-9_\-:.]+$`)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s не может быть пустым", fieldName)
	}
	return nil
}

// ValidatePaymentID идентификатор платежа провайдера: буквы, цифры и _-:.
func ValidatePaymentID(paymentID string) error {
	if err := ValidateNonEmpty("payment_id", paymentID); err != nil {
		return err
	}
	if err := ValidateLength("payment_id", paymentID, 0, MaxPaymentIDLength); err != nil {
		return err
	}
	if !paymentIDRegex.MatchString(paymentID) {
		return fmt.Errorf("payment_id содержит недопустимые символы")
	}
	return nil
}

// ValidateOptionalText длина необязательного текстового поля.
func ValidateOptionalText(fieldName, value string, max int) error {
	if value == "" {
		return nil
	}
	return ValidateLength(fieldName, strings.TrimSpace(value), 0, max)
}

// ValidateRegion регион маршрута. Пустой регион проверяет доменное правило маршрута.
func ValidateRegion(fieldName, region string) error {
	return ValidateOptionalText(fieldName, region, MaxRegionLength)
}

// ValidateMetadata ограничивает размер метаданных перехода.
func ValidateMetadata(meta map[string]string) error {
	if len(meta) > MaxMetadataEntries {
		return fmt.Errorf("metadata не может содержать больше %d ключей", MaxMetadataEntries)
	}
	for k, v := range meta {
		if err := ValidateNonEmpty("ключ metadata", k); err != nil {
			return err
		}
		if utf8.RuneCountInString(v) > MaxMetadataValue {
			return fmt.Errorf("значение metadata[%s] длиннее %d символов", k, MaxMetadataValue)
		}
	}
	return nil
}

// ValidateCandidateCount ограничивает размер пула кандидатов в одном запросе.
func ValidateCandidateCount(n int) error {
	if n > MaxCandidates {
		return fmt.Errorf("количество кандидатов не может превышать %d", MaxCandidates)
	}
	return nil
}

// First первая ненулевая ошибка.
func First(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
