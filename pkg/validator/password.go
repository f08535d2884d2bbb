package validator

import (
	"strings"
	"unicode"
)

// PasswordStrength is the outcome of ValidatePasswordStrength.
type PasswordStrength struct {
	Score    int      `json:"score"`
	IsStrong bool     `json:"isStrong"`
	Feedback []string `json:"feedback,omitempty"`
}

const (
	maxPasswordScore    = 6
	strongPasswordScore = 4
	MinPasswordLength   = 8
)

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "123456": {}, "12345678": {},
	"123456789": {}, "qwerty": {}, "qwerty123": {}, "abc123": {}, "letmein": {},
	"welcome": {}, "welcome1": {}, "admin": {}, "admin123": {}, "iloveyou": {},
	"monkey": {}, "dragon": {}, "football": {}, "111111": {}, "passw0rd": {},
}

// ValidatePasswordStrength scores a password from 0 to 6. One point each for
// length >= 8, length >= 12, lowercase, uppercase, digit and special character;
// minus 2 for a common password and minus 1 for a sequential run.
func ValidatePasswordStrength(password string) PasswordStrength {
	var (
		score    int
		feedback []string
	)
	lower, upper, digit, special := classify(password)
	length := len([]rune(password))

	if length >= MinPasswordLength {
		score++
	} else {
		feedback = append(feedback, "Use at least 8 characters")
	}
	if length >= 12 {
		score++
	}
	if lower {
		score++
	} else {
		feedback = append(feedback, "Add lowercase letters")
	}
	if upper {
		score++
	} else {
		feedback = append(feedback, "Add uppercase letters")
	}
	if digit {
		score++
	} else {
		feedback = append(feedback, "Add numbers")
	}
	if special {
		score++
	} else {
		feedback = append(feedback, "Add special characters")
	}

	if _, common := commonPasswords[strings.ToLower(password)]; common {
		score -= 2
		feedback = append(feedback, "Avoid common passwords")
	}
	if hasSequentialRun(password) {
		score--
		feedback = append(feedback, "Avoid sequential characters like abc or 123")
	}

	score = max(0, min(score, maxPasswordScore))
	return PasswordStrength{Score: score, IsStrong: score >= strongPasswordScore, Feedback: feedback}
}

// ValidatePasswordPolicy returns the registration policy violations of password:
// minimum length plus upper, lower and digit.
func ValidatePasswordPolicy(password string) []string {
	var violations []string
	lower, upper, digit, _ := classify(password)
	if len([]rune(password)) < MinPasswordLength {
		violations = append(violations, "Password must be at least 8 characters long")
	}
	if !upper {
		violations = append(violations, "Password must contain an uppercase letter")
	}
	if !lower {
		violations = append(violations, "Password must contain a lowercase letter")
	}
	if !digit {
		violations = append(violations, "Password must contain a number")
	}
	return violations
}

func classify(s string) (lower, upper, digit, special bool) {
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	return
}

// hasSequentialRun detects three ascending letters or digits, such as "abc" or "123".
func hasSequentialRun(s string) bool {
	r := []rune(strings.ToLower(s))
	for i := 0; i+2 < len(r); i++ {
		if !isAlnum(r[i]) || !isAlnum(r[i+1]) || !isAlnum(r[i+2]) {
			continue
		}
		if r[i+1] == r[i]+1 && r[i+2] == r[i+1]+1 {
			return true
		}
	}
	return false
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}
