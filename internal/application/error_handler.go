package application

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"
	"time"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/metrics"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/contextkeys"
)

// ErrorHandler normalizes errors into the taxonomy, logs them by severity,
// queues severe ones for remote reporting and notifies the user.
type ErrorHandler struct {
	logger   domain.Logger
	reporter domain.ErrorReporter
	notifier domain.Notifier
	notify   bool
}

// NewErrorHandler wires the handler. reporter and notifier may be nil.
func NewErrorHandler(logger domain.Logger, reporter domain.ErrorReporter, notifier domain.Notifier, notify bool) *ErrorHandler {
	return &ErrorHandler{logger: logger, reporter: reporter, notifier: notifier, notify: notify}
}

// Handle normalizes err, merges context from ctx and extra into a new instance,
// then logs, reports and notifies according to its severity. It returns nil for a nil err.
func (h *ErrorHandler) Handle(ctx context.Context, err error, extra domain.ErrorContext) *domain.AppError {
	if err == nil {
		return nil
	}
	appErr := Normalize(err)

	merged := extra
	if merged.RequestID == "" {
		merged.RequestID, _ = ctx.Value(contextkeys.RequestIDKey).(string)
	}
	if merged.UserID == "" {
		merged.UserID, _ = ctx.Value(contextkeys.UserIDKey).(string)
	}
	appErr = appErr.WithContext(merged)

	h.log(ctx, appErr)
	metrics.IncrementError(string(appErr.Kind()), string(appErr.Severity()))

	if h.reporter != nil && appErr.Severity().AtLeast(domain.SeverityHigh) {
		h.reporter.Report(ctx, appErr)
	}
	// Toasts go to the affected user only; anonymous failures are logged.
	if h.notify && h.notifier != nil && appErr.Severity() != domain.SeverityLow && appErr.Context().UserID != "" {
		if nerr := h.notifier.Notify(ctx, NotificationFor(appErr)); nerr != nil {
			h.logger.Warn(ctx, "Failed to deliver error notification", "error", nerr.Error())
		}
	}
	return appErr
}

// CreateFromResponse maps a backend status and body onto the taxonomy.
func (h *ErrorHandler) CreateFromResponse(status int, body []byte) *domain.AppError {
	return domain.ErrorFromResponse(status, body)
}

func (h *ErrorHandler) log(ctx context.Context, e *domain.AppError) {
	c := e.Context()
	fields := []any{
		"kind", string(e.Kind()),
		"code", string(e.Code()),
		"severity", string(e.Severity()),
		"retryable", e.Retryable(),
	}
	if c.Component != "" {
		fields = append(fields, "component", c.Component)
	}
	if c.Action != "" {
		fields = append(fields, "action", c.Action)
	}
	if c.URL != "" {
		fields = append(fields, "url", c.URL, "method", c.Method)
	}
	if cause := errors.Unwrap(e); cause != nil {
		fields = append(fields, "cause", cause.Error())
	}
	extraKeys := make([]string, 0, len(c.Extra))
	for k := range c.Extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		fields = append(fields, k, c.Extra[k])
	}

	switch e.Severity() {
	case domain.SeverityLow:
		h.logger.Info(ctx, e.Message(), fields...)
	case domain.SeverityMedium:
		h.logger.Warn(ctx, e.Message(), fields...)
	default:
		h.logger.Error(ctx, e.Message(), fields...)
	}
}

// NotificationFor builds the user-facing notification of e. MEDIUM errors are a
// dismissible warning; HIGH and CRITICAL are errors, with a reload action when retryable.
func NotificationFor(e *domain.AppError) domain.Notification {
	c := e.Context()
	n := domain.Notification{
		Level:       domain.NotificationWarning,
		Message:     e.UserMessage(),
		Description: strings.Join(e.Suggestions(), " • "),
		Code:        e.Code(),
		Dismissible: true,
		UserID:      c.UserID,
		RequestID:   c.RequestID,
		Timestamp:   time.Now().UTC(),
	}
	if e.Severity().AtLeast(domain.SeverityHigh) {
		n.Level = domain.NotificationError
		n.Dismissible = false
		if e.Retryable() {
			n.Action = &domain.NotificationAction{Label: "Retry", Kind: "reload"}
		}
	}
	return n
}

// Normalize turns any error into an AppError. Typed errors pass through;
// deadlines and net errors become network errors; anything else is classified
// from its message.
func Normalize(err error) *domain.AppError {
	if appErr, ok := domain.AsAppError(err); ok {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.KindNetwork, "request timed out", domain.WithCause(err))
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewError(domain.KindNetwork, "request was cancelled", domain.WithCause(err), domain.WithSeverity(domain.SeverityLow))
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.NewError(domain.KindNetwork, err.Error(), domain.WithCause(err))
	}
	return domain.NewError(classifyMessage(err.Error()), err.Error(), domain.WithCause(err))
}

var messageClasses = []struct {
	kind    domain.ErrorKind
	needles []string
}{
	{domain.KindNetwork, []string{"network", "timeout", "timed out", "connection", "fetch failed", "econnrefused"}},
	{domain.KindUnauthorized, []string{"unauthorized", "401", "token", "unauthenticated"}},
	{domain.KindForbidden, []string{"forbidden", "403", "permission denied"}},
	{domain.KindValidation, []string{"validation", "invalid", "required"}},
	{domain.KindNotFound, []string{"not found", "404"}},
	{domain.KindServer, []string{"server", "500", "internal"}},
}

func classifyMessage(msg string) domain.ErrorKind {
	lower := strings.ToLower(msg)
	for _, class := range messageClasses {
		for _, needle := range class.needles {
			if strings.Contains(lower, needle) {
				return class.kind
			}
		}
	}
	return domain.KindUnknown
}
