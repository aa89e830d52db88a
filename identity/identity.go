// Package identity validates user-supplied identity strings before any
// network call is made with them.
package identity

import "regexp"

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	// Korean mobile numbers: 010/011/016/017/018/019 plus 10-11 digits total.
	phoneRe = regexp.MustCompile(`^01[016789]\d{7,8}$`)
	birthRe = regexp.MustCompile(`^\d{8}$`)
)

// IsEmail reports whether s is a syntactically plausible email address.
func IsEmail(s string) bool { return emailRe.MatchString(s) }

// IsPhone reports whether s is a plausible mobile number (digits only, no
// separators).
func IsPhone(s string) bool { return phoneRe.MatchString(s) }

// IsBirthDate reports whether s is an 8-digit date (YYYYMMDD).
func IsBirthDate(s string) bool { return birthRe.MatchString(s) }

// SanitizeDigits strips every non-digit from s and truncates to maxLen.
func SanitizeDigits(s string, maxLen int) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s) && len(out) < maxLen; i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
