package cardfmt

import (
	"fmt"
	"regexp"
	"strings"
)

const maskGroup = "****"

var colorHexRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// NormalizeNumber strips spaces, tabs and dashes from a card number as typed.
func NormalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-':
			return -1
		default:
			return r
		}
	}, s)
}

func IsDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func LastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// ValidateNumber accepts 4..19 digits after normalization. The number is only
// kept for display, so no Luhn check is applied.
func ValidateNumber(number string) error {
	n := NormalizeNumber(number)
	if n == "" {
		return fmt.Errorf("card number is required")
	}
	if !IsDigits(n) {
		return fmt.Errorf("card number must contain digits only")
	}
	if l := len(n); l < 4 || l > 19 {
		return fmt.Errorf("card number length must be 4..19 digits (got %d)", l)
	}
	return nil
}

// MaskGrouped renders the display form stored on a card: "**** **** **** 1234".
func MaskGrouped(number string) string {
	last4 := LastN(NormalizeNumber(number), 4)
	if last4 == "" {
		return ""
	}
	return strings.Repeat(maskGroup+" ", 3) + last4
}

// MaskShort renders the secondary form: "**** 1234".
func MaskShort(number string) string {
	last4 := LastN(NormalizeNumber(number), 4)
	if last4 == "" {
		return ""
	}
	return maskGroup + " " + last4
}

// ValidColorHex reports whether s is a #RRGGBB color tag.
func ValidColorHex(s string) bool {
	return colorHexRe.MatchString(s)
}
