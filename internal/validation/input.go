package validation

import (
	"fmt"
	"unicode/utf8"

	"github.com/showpls/showpls-backend/internal/models"
)

// Константы валидации
const (
	MinOrderTitleLength       = 3
	MaxOrderTitleLength       = 200
	MinOrderDescriptionLength = 10
	MaxOrderDescriptionLength = 5000
	MaxAddressLength          = 300
	MaxMessageLength          = 5000
	MaxDisputeReasonLength    = 2000
	MaxEvidenceItems          = 20
	MaxEvidenceURILength      = 1000
	MaxTipMessageLength       = 500
)

// ValidateLength проверяет длину строки в рунах.
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

// ValidateMediaType проверяет тип контента.
func ValidateMediaType(mediaType string) error {
	if _, ok := models.ValidMediaTypes[mediaType]; !ok {
		return fmt.Errorf("недопустимый тип контента: %q (ожидается photo, video или live)", mediaType)
	}
	return nil
}

// ValidateGeo проверяет координаты точки съёмки.
func ValidateGeo(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("широта должна быть в диапазоне [-90, 90]")
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("долгота должна быть в диапазоне [-180, 180]")
	}
	return nil
}

// ValidateOrderSpec проверяет поля нового заказа.
func ValidateOrderSpec(title, description, mediaType string, lat, lng float64) error {
	if err := ValidateLength("заголовок", title, MinOrderTitleLength, MaxOrderTitleLength); err != nil {
		return err
	}
	if err := ValidateLength("описание", description, MinOrderDescriptionLength, MaxOrderDescriptionLength); err != nil {
		return err
	}
	if err := ValidateMediaType(mediaType); err != nil {
		return err
	}
	return ValidateGeo(lat, lng)
}

// ValidateEvidence проверяет список ссылок на доказательства.
func ValidateEvidence(evidence []string) error {
	if len(evidence) > MaxEvidenceItems {
		return fmt.Errorf("не более %d доказательств за раз", MaxEvidenceItems)
	}
	for _, uri := range evidence {
		if uri == "" {
			return fmt.Errorf("ссылка на доказательство не может быть пустой")
		}
		if utf8.RuneCountInString(uri) > MaxEvidenceURILength {
			return fmt.Errorf("ссылка на доказательство слишком длинная")
		}
	}
	return nil
}
