package domain

import (
	"strings"
)

const (
	countryCode      = "254"
	normalizedLength = 12
)

// NormalizePhone converts 07XXXXXXXX, +254XXXXXXXXX, 254XXXXXXXXX and
// 7XXXXXXXX style inputs into the 12 digit 254XXXXXXXXX form.
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	cleaned = strings.TrimPrefix(cleaned, "+")

	if cleaned == "" {
		return "", ErrInvalidPhone
	}

	if strings.HasPrefix(cleaned, "0") {
		cleaned = countryCode + cleaned[1:]
	}
	if !strings.HasPrefix(cleaned, countryCode) {
		cleaned = countryCode + cleaned
	}

	if len(cleaned) != normalizedLength || !isDigits(cleaned) {
		return "", ErrInvalidPhone
	}
	return cleaned, nil
}

// MaskPhone hides the middle digits for logging.
func MaskPhone(phone string) string {
	if len(phone) < 9 {
		return "***"
	}
	return phone[:5] + strings.Repeat("*", len(phone)-8) + phone[len(phone)-3:]
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
