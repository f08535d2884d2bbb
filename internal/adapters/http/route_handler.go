package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/metrics"
	"gitlab.com/timkado/api/storefront-edge/internal/adapters/middleware"
	"gitlab.com/timkado/api/storefront-edge/internal/application"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/contextkeys"
	"gitlab.com/timkado/api/storefront-edge/pkg/validator"
)

// Request is what a wrapped handler receives.
type Request struct {
	*http.Request
	// User and Token are set when the route requires authentication.
	User  *domain.User
	Token string
	// Data holds the validated and sanitized JSON body when the route has rules.
	Data map[string]any
}

// HandlerFunc is a business handler. The returned value is written inside a
// success envelope unless it is a *RawResponse.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// StreamFunc writes its own response, e.g. a server-sent event stream. An
// error returned before anything was written is rendered as an error envelope.
type StreamFunc func(w http.ResponseWriter, req *Request) error

// RawResponse is written verbatim, used to relay backend envelopes.
type RawResponse struct {
	Status      int
	ContentType string
	Body        []byte
	Header      http.Header
}

// RouteOptions configures one wrapped route.
type RouteOptions struct {
	Name          string
	RequireAuth   bool
	Roles         []domain.Role
	Rules         []validator.Rule
	Audit         bool
	SkipSecurity  bool
	QueryToken    bool // accept ?access_token= for clients that cannot set headers
	SuccessStatus int
	Message       string
}

// RouteHandler wraps business handlers with the edge's request pipeline.
type RouteHandler struct {
	security *middleware.Security
	verifier *application.TokenVerifier
	errors   *application.ErrorHandler
	logger   domain.Logger
}

func NewRouteHandler(security *middleware.Security, verifier *application.TokenVerifier, errHandler *application.ErrorHandler, logger domain.Logger) *RouteHandler {
	return &RouteHandler{security: security, verifier: verifier, errors: errHandler, logger: logger}
}

// Wrap returns fn as an http.Handler running, in order: request id, security
// pipeline, bearer authentication and role check, body validation, the handler
// itself and the success or error envelope. Panics become CRITICAL errors.
func (h *RouteHandler) Wrap(opts RouteOptions, fn HandlerFunc) http.Handler {
	return h.WrapStream(opts, func(w http.ResponseWriter, req *Request) error {
		data, err := fn(req.Context(), req)
		if err != nil {
			return err
		}
		if raw, ok := data.(*RawResponse); ok {
			writeRaw(w, raw)
			return nil
		}
		status := opts.SuccessStatus
		if status == 0 {
			status = http.StatusOK
		}
		domain.WriteJSON(w, status, domain.SuccessEnvelope(req.Context(), data, opts.Message))
		return nil
	})
}

// WrapStream is Wrap for handlers that write their own response.
func (h *RouteHandler) WrapStream(opts RouteOptions, fn StreamFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := newStatusRecorder(w)
		r = middleware.WithRequestID(rec, r)
		setSecurityHeaders(rec.Header())

		route := opts.Name
		if route == "" {
			route = r.Pattern
		}

		defer func() {
			if p := recover(); p != nil {
				h.fail(rec, r, route, domain.NewError(domain.KindUnknown, "handler panicked",
					domain.WithSeverity(domain.SeverityCritical),
					domain.WithErrorContext(domain.ErrorContext{Extra: map[string]any{
						"panic": fmt.Sprint(p),
						"stack": string(debug.Stack()),
					}})))
			}
			elapsed := time.Since(rec.start)
			metrics.ObserveHTTPRequest(route, r.Method, rec.status(), elapsed)
			if opts.Audit {
				h.audit(r, route, rec.status(), elapsed)
			}
		}()

		if !opts.SkipSecurity && h.security != nil {
			checked, ok := h.security.Check(rec, r)
			if !ok {
				return
			}
			r = checked
		}

		req := &Request{Request: r}
		if opts.RequireAuth || len(opts.Roles) > 0 {
			authed, appErr := middleware.Authenticate(r, h.verifier, opts.QueryToken, opts.Roles...)
			if appErr != nil {
				h.fail(rec, r, route, appErr)
				return
			}
			req.Request = authed
			req.User, _ = middleware.UserFromContext(authed.Context())
			req.Token, _ = authed.Context().Value(contextkeys.AccessTokenKey).(string)
		}

		if len(opts.Rules) > 0 {
			data, err := decodeAndValidate(req.Request, opts.Rules)
			if err != nil {
				h.fail(rec, req.Request, route, err)
				return
			}
			req.Data = data
		}

		if err := fn(rec, req); err != nil {
			h.fail(rec, req.Request, route, err)
		}
	})
}

func (h *RouteHandler) fail(w *statusRecorder, r *http.Request, route string, err error) {
	appErr := h.errors.Handle(r.Context(), err, domain.ErrorContext{
		URL:       r.URL.Path,
		Method:    r.Method,
		Component: "api",
		Action:    route,
	})
	if w.wroteHeader {
		return
	}
	domain.WriteError(r.Context(), w, appErr)
}

func (h *RouteHandler) audit(r *http.Request, route string, status int, elapsed time.Duration) {
	ctx := r.Context()
	userID, _ := ctx.Value(contextkeys.UserIDKey).(string)
	clientIP, _ := ctx.Value(contextkeys.ClientIPKey).(string)
	h.logger.Info(ctx, "Audit",
		"route", route,
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"user_id", userID,
		"client_ip", clientIP,
		"duration_ms", elapsed.Milliseconds(),
	)
}

// decodeAndValidate reads the JSON object body of r, validates it against rules
// and returns the sanitized data. The body is put back for the handler.
func decodeAndValidate(r *http.Request, rules []validator.Rule) (map[string]any, error) {
	data := map[string]any{}
	if r.Body != nil && r.Body != http.NoBody {
		raw, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return nil, domain.NewError(domain.KindValidation, "failed to read request body", domain.WithCause(err))
		}
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, &data); err != nil {
				return nil, domain.NewError(domain.KindValidation, "request body must be a JSON object",
					domain.WithCode("MALFORMED_BODY"), domain.WithCause(err))
			}
		}
	}
	res := validator.Validate(data, rules)
	if !res.IsValid {
		return nil, domain.NewError(domain.KindValidation, "request validation failed", domain.WithDetails(res.ErrorMap()))
	}
	return res.SanitizedData, nil
}

func setSecurityHeaders(h http.Header) {
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
}

func writeRaw(w http.ResponseWriter, raw *RawResponse) {
	for k, vs := range raw.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	ct := raw.ContentType
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	status := raw.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(raw.Body)
}

// statusRecorder remembers the status code and stamps X-Response-Time when
// the header is written.
type statusRecorder struct {
	http.ResponseWriter
	start       time.Time
	code        int
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, start: time.Now()}
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.wroteHeader {
		return
	}
	s.wroteHeader = true
	s.code = code
	s.Header().Set("X-Response-Time", strconv.FormatInt(time.Since(s.start).Milliseconds(), 10)+"ms")
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (s *statusRecorder) status() int {
	if !s.wroteHeader {
		return http.StatusOK
	}
	return s.code
}
