// Package validator is a stateless rule engine for request input. It validates
// and sanitizes map-shaped payloads and exposes the injection detectors used by
// the security middleware.
package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	playground "github.com/go-playground/validator/v10"
)

// CheckType names a single validation check.
type CheckType string

const (
	CheckRequired CheckType = "required"
	CheckEmail    CheckType = "email"
	CheckPhone    CheckType = "phone"
	CheckURL      CheckType = "url"
	CheckMin      CheckType = "min"
	CheckMax      CheckType = "max"
	CheckPattern  CheckType = "pattern"
	CheckCustom   CheckType = "custom"
)

// Check is one check applied to a field. Limit is used by min and max: string
// length for strings, numeric value for numbers, element count for slices.
type Check struct {
	Type    CheckType
	Limit   float64
	Pattern *regexp.Regexp
	Fn      func(value any) bool
	Message string
}

func Required() Check     { return Check{Type: CheckRequired} }
func Email() Check        { return Check{Type: CheckEmail} }
func Phone() Check        { return Check{Type: CheckPhone} }
func URL() Check          { return Check{Type: CheckURL} }
func Min(n float64) Check { return Check{Type: CheckMin, Limit: n} }
func Max(n float64) Check { return Check{Type: CheckMax, Limit: n} }

func Pattern(re *regexp.Regexp, message string) Check {
	return Check{Type: CheckPattern, Pattern: re, Message: message}
}

func Custom(fn func(value any) bool, message string) Check {
	return Check{Type: CheckCustom, Fn: fn, Message: message}
}

// Msg returns a copy of c with a custom error message.
func (c Check) Msg(message string) Check {
	c.Message = message
	return c
}

// Rule binds checks and optional sanitization to one field.
type Rule struct {
	Field    string
	Checks   []Check
	Sanitize *SanitizeOptions
}

func (r Rule) required() bool {
	for _, c := range r.Checks {
		if c.Type == CheckRequired {
			return true
		}
	}
	return false
}

// FieldError describes one failed check.
type FieldError struct {
	Field   string    `json:"field"`
	Rule    CheckType `json:"rule"`
	Message string    `json:"message"`
}

// Result is the outcome of Validate. SanitizedData holds every input field with
// sanitized values substituted.
type Result struct {
	IsValid       bool           `json:"isValid"`
	Errors        []FieldError   `json:"errors,omitempty"`
	SanitizedData map[string]any `json:"sanitizedData"`
}

// ErrorMap groups error messages by field.
func (r Result) ErrorMap() map[string][]string {
	out := make(map[string][]string, len(r.Errors))
	for _, e := range r.Errors {
		out[e.Field] = append(out[e.Field], e.Message)
	}
	return out
}

var (
	checker = playground.New()
	phoneRe = regexp.MustCompile(`^\+?[0-9\s\-().]{7,20}$`)
)

// Validate runs rules over data. A required field that is missing records one
// error and skips its remaining checks; an optional empty field skips all checks.
func Validate(data map[string]any, rules []Rule) Result {
	sanitized := make(map[string]any, len(data))
	for k, v := range data {
		sanitized[k] = v
	}

	var errs []FieldError
	for _, rule := range rules {
		value, present := data[rule.Field]
		if present && rule.Sanitize != nil {
			if s, ok := value.(string); ok {
				value = SanitizeString(s, *rule.Sanitize)
				sanitized[rule.Field] = value
			}
		}

		if isEmpty(value) {
			if rule.required() {
				errs = append(errs, fieldError(rule.Field, Required(), fmt.Sprintf("%s is required", rule.Field)))
			}
			continue
		}

		for _, check := range rule.Checks {
			if check.Type == CheckRequired {
				continue
			}
			if msg, ok := runCheck(rule.Field, check, value); !ok {
				errs = append(errs, fieldError(rule.Field, check, msg))
			}
		}
	}

	return Result{IsValid: len(errs) == 0, Errors: errs, SanitizedData: sanitized}
}

func fieldError(field string, check Check, fallback string) FieldError {
	msg := check.Message
	if msg == "" {
		msg = fallback
	}
	return FieldError{Field: field, Rule: check.Type, Message: msg}
}

func runCheck(field string, check Check, value any) (string, bool) {
	switch check.Type {
	case CheckEmail:
		return field + " must be a valid email address", IsEmail(asString(value))
	case CheckPhone:
		return field + " must be a valid phone number", IsPhone(asString(value))
	case CheckURL:
		return field + " must be a valid URL", IsURL(asString(value))
	case CheckMin:
		n, ok := measure(value)
		return fmt.Sprintf("%s must be at least %s", field, formatLimit(check.Limit)), ok && n >= check.Limit
	case CheckMax:
		n, ok := measure(value)
		return fmt.Sprintf("%s must be at most %s", field, formatLimit(check.Limit)), ok && n <= check.Limit
	case CheckPattern:
		if check.Pattern == nil {
			return "", true
		}
		return field + " has an invalid format", check.Pattern.MatchString(asString(value))
	case CheckCustom:
		if check.Fn == nil {
			return "", true
		}
		return field + " is invalid", check.Fn(value)
	}
	return "", true
}

// IsEmail reports whether s is a syntactically valid email address.
func IsEmail(s string) bool {
	return s != "" && checker.Var(s, "email") == nil
}

// IsURL reports whether s is an absolute URL.
func IsURL(s string) bool {
	return s != "" && checker.Var(s, "url") == nil
}

// IsPhone reports whether s looks like a phone number with at least 7 digits.
func IsPhone(s string) bool {
	if !phoneRe.MatchString(s) {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 7
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// measure returns the quantity min and max compare against.
func measure(v any) (float64, bool) {
	switch t := v.(type) {
	case string:
		return float64(len([]rune(t))), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return float64(rv.Len()), true
	}
	return 0, false
}

func formatLimit(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
