package store

import "strings"

// NormalizePhone reduces a phone number to the digit key used for duplicate
// detection. Eleven digit numbers with a leading 1 lose the country prefix so
// "+1 (555) 123-4567" and "5551234567" share a key.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

// ValidPhone accepts numbers carrying 7 to 15 digits once normalized.
func ValidPhone(phone string) bool {
	n := len(NormalizePhone(phone))
	return n >= 7 && n <= 15
}

// FormatE164 prepares a phone number for SMS providers, assuming US numbers
// when no country code is present.
func FormatE164(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	case len(digits) > 10:
		return "+" + digits
	default:
		return phone
	}
}
