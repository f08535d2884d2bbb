package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrorKind is the closed set of error categories surfaced by the edge and the client session.
type ErrorKind string

const (
	KindUnauthorized       ErrorKind = "Unauthorized"
	KindForbidden          ErrorKind = "Forbidden"
	KindTokenExpired       ErrorKind = "TokenExpired"
	KindInvalidCredentials ErrorKind = "InvalidCredentials"
	KindValidation         ErrorKind = "ValidationError"
	KindBusinessRule       ErrorKind = "BusinessRuleViolation" // e.g. insufficient stock
	KindNetwork            ErrorKind = "NetworkError"
	KindServer             ErrorKind = "ServerError"
	KindRateLimitExceeded  ErrorKind = "RateLimitExceeded"
	KindNotFound           ErrorKind = "NotFound"
	KindDuplicateEntry     ErrorKind = "DuplicateEntry"
	KindUnknown            ErrorKind = "UnknownError"
)

// Severity drives logging level, remote reporting and user notification.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities so callers can compare them.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other or more.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ErrorCode is the machine-readable code carried on the wire. It defaults to the kind.
type ErrorCode string

type kindSpec struct {
	status      int
	severity    Severity
	retryable   bool
	userMessage string
	suggestions []string
}

var kindTable = map[ErrorKind]kindSpec{
	KindUnauthorized: {
		status: http.StatusUnauthorized, severity: SeverityMedium,
		userMessage: "Please sign in to continue.",
		suggestions: []string{"Sign in again", "Check that cookies are enabled"},
	},
	KindForbidden: {
		status: http.StatusForbidden, severity: SeverityMedium,
		userMessage: "You do not have permission to perform this action.",
		suggestions: []string{"Contact an administrator if you need access"},
	},
	KindTokenExpired: {
		status: http.StatusUnauthorized, severity: SeverityMedium,
		userMessage: "Your session has expired. Please sign in again.",
		suggestions: []string{"Sign in again"},
	},
	KindInvalidCredentials: {
		status: http.StatusUnauthorized, severity: SeverityMedium,
		userMessage: "The email or password you entered is incorrect.",
		suggestions: []string{"Check your email address", "Reset your password if you forgot it"},
	},
	KindValidation: {
		status: http.StatusBadRequest, severity: SeverityLow,
		userMessage: "Some of the information you entered is invalid.",
		suggestions: []string{"Review the highlighted fields"},
	},
	KindBusinessRule: {
		status: http.StatusConflict, severity: SeverityMedium,
		userMessage: "This request cannot be completed right now.",
		suggestions: []string{"Review your cart and try again"},
	},
	KindNetwork: {
		status: http.StatusServiceUnavailable, severity: SeverityHigh, retryable: true,
		userMessage: "We could not reach the server. Check your connection.",
		suggestions: []string{"Check your internet connection", "Try again in a moment"},
	},
	KindServer: {
		status: http.StatusInternalServerError, severity: SeverityHigh, retryable: true,
		userMessage: "Something went wrong on our side.",
		suggestions: []string{"Try again in a moment"},
	},
	KindRateLimitExceeded: {
		status: http.StatusTooManyRequests, severity: SeverityMedium, retryable: true,
		userMessage: "Too many requests. Please slow down.",
		suggestions: []string{"Wait a few seconds before trying again"},
	},
	KindNotFound: {
		status: http.StatusNotFound, severity: SeverityLow,
		userMessage: "The requested item could not be found.",
		suggestions: []string{"Check the address and try again"},
	},
	KindDuplicateEntry: {
		status: http.StatusConflict, severity: SeverityMedium,
		userMessage: "This item already exists.",
		suggestions: []string{"Use a different value"},
	},
	KindUnknown: {
		status: http.StatusInternalServerError, severity: SeverityHigh,
		userMessage: "An unexpected error occurred.",
		suggestions: []string{"Try again", "Contact support if the problem persists"},
	},
}

func specFor(kind ErrorKind) kindSpec {
	if spec, ok := kindTable[kind]; ok {
		return spec
	}
	return kindTable[KindUnknown]
}

// ErrorContext is the metadata attached to an AppError.
type ErrorContext struct {
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"requestId,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	URL       string         `json:"url,omitempty"`
	Method    string         `json:"method,omitempty"`
	Component string         `json:"component,omitempty"`
	Action    string         `json:"action,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

func (c ErrorContext) clone() ErrorContext {
	out := c
	if c.Extra != nil {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// merge returns a new context where non-empty fields of other win.
func (c ErrorContext) merge(other ErrorContext) ErrorContext {
	out := c.clone()
	if !other.Timestamp.IsZero() {
		out.Timestamp = other.Timestamp
	}
	if other.RequestID != "" {
		out.RequestID = other.RequestID
	}
	if other.UserID != "" {
		out.UserID = other.UserID
	}
	if other.URL != "" {
		out.URL = other.URL
	}
	if other.Method != "" {
		out.Method = other.Method
	}
	if other.Component != "" {
		out.Component = other.Component
	}
	if other.Action != "" {
		out.Action = other.Action
	}
	if len(other.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(other.Extra))
		}
		for k, v := range other.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// AppError is the single concrete error type of the taxonomy. It is immutable once built:
// WithContext and friends return new instances.
type AppError struct {
	kind        ErrorKind
	code        ErrorCode
	message     string
	severity    Severity
	retryable   bool
	userMessage string
	suggestions []string
	context     ErrorContext
	details     any
	cause       error
}

// ErrorOption customizes an AppError at construction time.
type ErrorOption func(*AppError)

func WithSeverity(s Severity) ErrorOption         { return func(e *AppError) { e.severity = s } }
func WithRetryable(retryable bool) ErrorOption    { return func(e *AppError) { e.retryable = retryable } }
func WithCode(code ErrorCode) ErrorOption         { return func(e *AppError) { e.code = code } }
func WithCause(cause error) ErrorOption           { return func(e *AppError) { e.cause = cause } }
func WithDetails(details any) ErrorOption         { return func(e *AppError) { e.details = details } }
func WithErrorContext(c ErrorContext) ErrorOption { return func(e *AppError) { e.context = e.context.merge(c) } }

func WithUserMessage(msg string) ErrorOption {
	return func(e *AppError) {
		if strings.TrimSpace(msg) != "" {
			e.userMessage = msg
		}
	}
}

func WithSuggestions(suggestions ...string) ErrorOption {
	return func(e *AppError) {
		if len(suggestions) > 0 {
			e.suggestions = append([]string(nil), suggestions...)
		}
	}
}

// NewError builds an AppError whose defaults come from the kind table.
func NewError(kind ErrorKind, message string, opts ...ErrorOption) *AppError {
	spec := specFor(kind)
	e := &AppError{
		kind:        kind,
		code:        ErrorCode(kind),
		message:     message,
		severity:    spec.severity,
		retryable:   spec.retryable,
		userMessage: spec.userMessage,
		suggestions: append([]string(nil), spec.suggestions...),
		context:     ErrorContext{Timestamp: time.Now().UTC()},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.message == "" {
		e.message = e.userMessage
	}
	return e
}

func (e *AppError) Kind() ErrorKind       { return e.kind }
func (e *AppError) Code() ErrorCode       { return e.code }
func (e *AppError) Message() string       { return e.message }
func (e *AppError) Severity() Severity    { return e.severity }
func (e *AppError) Retryable() bool       { return e.retryable }
func (e *AppError) UserMessage() string   { return e.userMessage }
func (e *AppError) Details() any          { return e.details }
func (e *AppError) Context() ErrorContext { return e.context.clone() }
func (e *AppError) HTTPStatus() int       { return specFor(e.kind).status }
func (e *AppError) Suggestions() []string { return append([]string(nil), e.suggestions...) }
func (e *AppError) Unwrap() error         { return e.cause }

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// IsAuthentication reports whether the error belongs to the authentication group.
func (e *AppError) IsAuthentication() bool {
	switch e.kind {
	case KindUnauthorized, KindTokenExpired, KindInvalidCredentials:
		return true
	}
	return false
}

// WithContext returns a copy of e with c merged into its context.
func (e *AppError) WithContext(c ErrorContext) *AppError {
	cp := *e
	cp.suggestions = append([]string(nil), e.suggestions...)
	cp.context = e.context.merge(c)
	return &cp
}

// WithSeverity returns a copy of e with a different severity.
func (e *AppError) WithSeverity(s Severity) *AppError {
	cp := *e
	cp.suggestions = append([]string(nil), e.suggestions...)
	cp.context = e.context.clone()
	cp.severity = s
	return &cp
}

// MarshalJSON renders the error for remote reporting.
func (e *AppError) MarshalJSON() ([]byte, error) {
	var cause string
	if e.cause != nil {
		cause = e.cause.Error()
	}
	return json.Marshal(struct {
		Kind        ErrorKind    `json:"kind"`
		Code        ErrorCode    `json:"code"`
		Message     string       `json:"message"`
		Severity    Severity     `json:"severity"`
		Retryable   bool         `json:"retryable"`
		UserMessage string       `json:"userMessage"`
		Suggestions []string     `json:"suggestions,omitempty"`
		Context     ErrorContext `json:"context"`
		Details     any          `json:"details,omitempty"`
		Cause       string       `json:"cause,omitempty"`
	}{e.kind, e.code, e.message, e.severity, e.retryable, e.userMessage, e.suggestions, e.context, e.details, cause})
}

// AsAppError unwraps err into an *AppError when possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err is an AppError of one of the given kinds.
func IsKind(err error, kinds ...ErrorKind) bool {
	appErr, ok := AsAppError(err)
	if !ok {
		return false
	}
	for _, k := range kinds {
		if appErr.kind == k {
			return true
		}
	}
	return false
}

// KindForStatus maps an HTTP status code onto the taxonomy.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusBadRequest:
		return KindValidation
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimitExceeded
	default:
		return KindServer
	}
}

// ErrorFromResponse builds an AppError from a backend response. The kind depends on the
// status only; code, message, userMessage and suggestions found in the body enrich it.
func ErrorFromResponse(status int, body []byte) *AppError {
	kind := KindForStatus(status)
	opts := []ErrorOption{WithDetails(map[string]any{"status": status})}

	message := fmt.Sprintf("request failed with status %d", status)
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		if m := firstString(parsed, "message", "error.message", "error"); m != "" {
			message = m
		}
		if c := firstString(parsed, "code", "error.code"); c != "" {
			opts = append(opts, WithCode(ErrorCode(c)))
		}
		if um := firstString(parsed, "userMessage", "error.userMessage"); um != "" {
			opts = append(opts, WithUserMessage(um))
		}
		if s := parsed.Get("suggestions"); s.IsArray() {
			var suggestions []string
			for _, item := range s.Array() {
				if item.String() != "" {
					suggestions = append(suggestions, item.String())
				}
			}
			opts = append(opts, WithSuggestions(suggestions...))
		}
	}
	return NewError(kind, message, opts...)
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
