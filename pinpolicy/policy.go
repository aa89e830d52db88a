// Package pinpolicy rejects PINs that leak personal data or follow
// structurally weak patterns before they are ever used for key derivation.
// The checks are advisory against the user's own metadata only; breached-PIN
// lists are out of scope.
package pinpolicy

import "strings"

// PinLength is the fixed PIN length enforced by the keypad and by this
// validator.
const PinLength = 6

// Code identifies which policy rule a PIN violated. Stable values the
// presentation layer can map to localized copy.
type Code string

const (
	CodeFormat    Code = "format"
	CodeBirthDate Code = "birth_date"
	CodeRepeated  Code = "repeated_digits"
	CodeSequence  Code = "sequential_digits"
)

// Violation describes the first policy rule a PIN broke.
type Violation struct {
	Code    Code
	Message string
}

// Validate checks pin against the policy and returns the first violation,
// or nil when the PIN is acceptable. birthDate is the user's birth date as
// digits (YYYYMMDD) when known, or empty. Rules are applied in order:
// format, birth-date substring, repeated digits, sequential digits.
func Validate(pin, birthDate string) *Violation {
	if len(pin) != PinLength || !allDigits(pin) {
		return &Violation{Code: CodeFormat, Message: "PIN must be exactly 6 digits"}
	}

	birth := digitsOnly(birthDate)
	if len(birth) >= 6 {
		if strings.Contains(pin, birth[len(birth)-6:]) || strings.Contains(birth, pin) {
			return &Violation{Code: CodeBirthDate, Message: "PIN must not contain your birth date (YYMMDD)"}
		}
	}
	if len(birth) >= 4 {
		if strings.Contains(pin, birth[len(birth)-4:]) {
			return &Violation{Code: CodeBirthDate, Message: "PIN must not contain your birth date (MMDD)"}
		}
	}

	for i := 0; i+2 < len(pin); i++ {
		if pin[i] == pin[i+1] && pin[i+1] == pin[i+2] {
			return &Violation{Code: CodeRepeated, Message: "PIN must not repeat the same digit three times"}
		}
	}

	for i := 0; i+2 < len(pin); i++ {
		a, b, c := pin[i], pin[i+1], pin[i+2]
		if b == a+1 && c == b+1 {
			return &Violation{Code: CodeSequence, Message: "PIN must not contain three ascending digits"}
		}
		if b == a-1 && c == b-1 {
			return &Violation{Code: CodeSequence, Message: "PIN must not contain three descending digits"}
		}
	}

	return nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func digitsOnly(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
