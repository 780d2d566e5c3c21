package util

import (
	"html"
	"regexp"
	"strings"
)

var mobilePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)

// SanitizeInput escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious flags markup or template fragments in free-text input.
func ContainsSuspicious(s string) bool {
	return strings.ContainsAny(s, "<>${}\"'")
}

// IsValidMobile accepts mainland mobile numbers (11 digits, 13x-19x).
func IsValidMobile(mobile string) bool {
	return mobilePattern.MatchString(mobile)
}

// MaskMobile hides digits 4-7: 13812345678 -> 138****5678.
func MaskMobile(mobile string) string {
	if len(mobile) != 11 {
		return mobile
	}
	return mobile[:3] + "****" + mobile[7:]
}
