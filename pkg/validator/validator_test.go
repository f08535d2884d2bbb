package validator

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequiredShortCircuits(t *testing.T) {
	res := Validate(map[string]any{}, []Rule{
		{Field: "email", Checks: []Check{Required(), Email(), Min(5)}},
	})

	require.False(t, res.IsValid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CheckRequired, res.Errors[0].Rule)
	assert.Equal(t, "email", res.Errors[0].Field)
}

func TestValidateOptionalEmptySkipsChecks(t *testing.T) {
	res := Validate(map[string]any{"phone": "   "}, []Rule{
		{Field: "phone", Checks: []Check{Phone(), Min(10)}},
	})
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
}

func TestValidateSanitizesBeforeChecking(t *testing.T) {
	res := Validate(map[string]any{
		"email": "  USER@Example.COM ",
		"name":  "<b>Jane</b><script>alert(1)</script>",
		"other": 42,
	}, []Rule{
		{Field: "email", Checks: []Check{Required(), Email()}, Sanitize: &SanitizeOptions{Trim: true, Case: CaseLower}},
		{Field: "name", Checks: []Check{Required(), Max(4)}, Sanitize: &DefaultSanitize},
	})

	require.True(t, res.IsValid, res.Errors)
	assert.Equal(t, "user@example.com", res.SanitizedData["email"])
	assert.Equal(t, "Jane", res.SanitizedData["name"])
	assert.Equal(t, 42, res.SanitizedData["other"])
}

func TestValidateChecks(t *testing.T) {
	sku := regexp.MustCompile(`^SKU-\d+$`)
	rules := []Rule{
		{Field: "email", Checks: []Check{Email()}},
		{Field: "site", Checks: []Check{URL()}},
		{Field: "qty", Checks: []Check{Min(1), Max(10)}},
		{Field: "sku", Checks: []Check{Pattern(sku, "sku must look like SKU-123")}},
		{Field: "even", Checks: []Check{Custom(func(v any) bool {
			n, ok := v.(float64)
			return ok && int(n)%2 == 0
		}, "even must be even")}},
	}

	good := Validate(map[string]any{
		"email": "a@b.io", "site": "https://shop.example.com", "qty": 3.0, "sku": "SKU-9", "even": 4.0,
	}, rules)
	assert.True(t, good.IsValid, good.Errors)

	bad := Validate(map[string]any{
		"email": "nope", "site": "not a url", "qty": 11.0, "sku": "9", "even": 3.0,
	}, rules)
	require.False(t, bad.IsValid)
	errs := bad.ErrorMap()
	assert.Len(t, errs, 5)
	assert.Equal(t, []string{"sku must look like SKU-123"}, errs["sku"])
	assert.Equal(t, []string{"even must be even"}, errs["even"])
	assert.Contains(t, errs["qty"][0], "at most 10")
}

func TestSanitizeStringClamp(t *testing.T) {
	assert.Equal(t, "HELLO", SanitizeString("  hello world ", SanitizeOptions{Trim: true, Case: CaseUpper, MaxLength: 5}))
	assert.Equal(t, "click", StripHTML(`<a href="javascript:alert(1)">click</a>`))
}

func TestIsPhone(t *testing.T) {
	assert.True(t, IsPhone("+1 (555) 123-4567"))
	assert.False(t, IsPhone("12-34"))
	assert.False(t, IsPhone("call me"))
}

func TestInjectionDetectors(t *testing.T) {
	sql := "'; DROP TABLE users; --"
	assert.True(t, HasSQLInjection(sql))
	assert.True(t, HasSQLInjection(sql), "detectors are pure")
	assert.False(t, HasSQLInjection("hello world"))
	assert.True(t, HasSQLInjection("1' OR '1'='1"))
	assert.True(t, HasSQLInjection("x UNION ALL SELECT password FROM users"))
	assert.False(t, HasSQLInjection("Great phone, I would select it again"))

	assert.True(t, HasXSS("<script>alert(1)</script>"))
	assert.True(t, HasXSS(`<img src=x onerror="alert(1)">`))
	assert.True(t, HasXSS("javascript:alert(1)"))
	assert.False(t, HasXSS("hello world"))
	assert.False(t, HasXSS("price < 10 and > 5"))
}

func TestValidatePasswordStrength(t *testing.T) {
	tests := []struct {
		password string
		score    int
		strong   bool
	}{
		{"", 0, false},
		{"password", 0, false},     // length + lower = 2, common -2
		{"Tr0ub4dor&3x!", 6, true}, // every class, long
		{"Abcdefgh1", 3, false},    // length + lower + upper + digit = 4, run -1
		{"Xk9#mQ2v", 5, true},      // length, lower, upper, digit, special
	}
	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			got := ValidatePasswordStrength(tt.password)
			assert.Equal(t, tt.score, got.Score)
			assert.Equal(t, tt.strong, got.IsStrong)
		})
	}
}

func TestValidatePasswordPolicy(t *testing.T) {
	assert.Empty(t, ValidatePasswordPolicy("Secure123"))
	v := ValidatePasswordPolicy("short")
	assert.Len(t, v, 3)
	assert.True(t, strings.Contains(strings.Join(v, " "), "8 characters"))
}
