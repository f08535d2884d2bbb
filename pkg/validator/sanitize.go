package validator

import (
	"regexp"
	"strings"
)

// CaseFold selects an optional case transformation.
type CaseFold string

const (
	CaseNone  CaseFold = ""
	CaseLower CaseFold = "lower"
	CaseUpper CaseFold = "upper"
)

// SanitizeOptions are applied in order: HTML stripping, trim, case folding, clamp.
type SanitizeOptions struct {
	Trim      bool
	Case      CaseFold
	StripHTML bool
	MaxLength int
}

// DefaultSanitize trims and strips markup.
var DefaultSanitize = SanitizeOptions{Trim: true, StripHTML: true}

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</(script|style)\s*>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]*>`)
	protocolRe    = regexp.MustCompile(`(?i)(javascript|vbscript)\s*:`)
)

// StripHTML removes script and style blocks, remaining tags and script protocols.
func StripHTML(s string) string {
	s = scriptBlockRe.ReplaceAllString(s, "")
	s = tagRe.ReplaceAllString(s, "")
	return protocolRe.ReplaceAllString(s, "")
}

// SanitizeString applies opts to s.
func SanitizeString(s string, opts SanitizeOptions) string {
	if opts.StripHTML {
		s = StripHTML(s)
	}
	if opts.Trim {
		s = strings.TrimSpace(s)
	}
	switch opts.Case {
	case CaseLower:
		s = strings.ToLower(s)
	case CaseUpper:
		s = strings.ToUpper(s)
	}
	if opts.MaxLength > 0 {
		if r := []rune(s); len(r) > opts.MaxLength {
			s = string(r[:opts.MaxLength])
		}
	}
	return s
}
