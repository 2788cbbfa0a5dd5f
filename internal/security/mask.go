package security

import "strings"

// CardLast4 returns the last four digits of a card number, or "" when it is too short.
func CardLast4(cardNumber string) string {
	trimmed := strings.TrimSpace(cardNumber)
	if len(trimmed) < 4 {
		return ""
	}
	return trimmed[len(trimmed)-4:]
}

// MaskCard hides all but the first and last four characters of a card number.
func MaskCard(cardNumber string) string {
	trimmed := strings.TrimSpace(cardNumber)
	if len(trimmed) <= 8 {
		return strings.Repeat("*", len(trimmed))
	}
	return trimmed[:4] + "********" + trimmed[len(trimmed)-4:]
}
