// Package phone normalizes caller and record phone numbers into the 10-digit key used by the gift store.
package phone

import (
	"errors"
	"strings"
)

// ErrInvalidPhone indicates a phone number that does not normalize to 10 digits.
var ErrInvalidPhone = errors.New("phone: must be 10 digits")

// Length is the number of digits in a normalized phone number.
const Length = 10

// Normalize strips every non-digit and drops a leading "1" from 11-digit input.
// The result is not validated; callers use Valid or Parse for that.
func Normalize(raw string) string {
	digits := Digits(raw)
	if len(digits) == Length+1 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}

// Digits returns only the ASCII digits of raw.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Valid reports whether p is already a normalized 10-digit phone number.
func Valid(p string) bool {
	if len(p) != Length {
		return false
	}
	for i := 0; i < len(p); i++ {
		if p[i] < '0' || p[i] > '9' {
			return false
		}
	}
	return true
}

// Parse normalizes raw and rejects anything that is not 10 digits afterwards.
func Parse(raw string) (string, error) {
	normalized := Normalize(raw)
	if !Valid(normalized) {
		return normalized, ErrInvalidPhone
	}
	return normalized, nil
}
