// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxOrderIDLength     = 256
	maxDescriptionLength = 4096
)

// IsValidOrderID проверяет идентификатор заказа платёжного провайдера.
func IsValidOrderID(id string) bool {
	if id == "" || utf8.RuneCountInString(id) > maxOrderIDLength {
		return false
	}

	for _, ch := range id {
		if unicode.IsSpace(ch) || unicode.IsControl(ch) || ch == '/' {
			return false
		}
	}

	return true
}

// NormalizeDescription обрезает пробелы в описании операции.
// Пустое описание превращается в nil, слишком длинное считается невалидным.
func NormalizeDescription(description *string) (*string, bool) {
	if description == nil {
		return nil, true
	}

	trimmed := strings.TrimSpace(*description)
	if trimmed == "" {
		return nil, true
	}

	if utf8.RuneCountInString(trimmed) > maxDescriptionLength {
		return nil, false
	}

	return &trimmed, true
}
