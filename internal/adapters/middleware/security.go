package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/config"
	"gitlab.com/timkado/api/storefront-edge/internal/adapters/metrics"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/contextkeys"
)

// Security runs the request security pipeline: CORS, rate limiting, CSRF and
// input sanitization, in that order. The first stage that rejects a request
// writes the response and the rest are skipped. Settings are read on every
// request so a config reload applies immediately.
type Security struct {
	cfg     config.Provider
	logger  domain.Logger
	limiter *RateLimiter
	csrf    *CSRFStore
}

func NewSecurity(cfgProvider config.Provider, logger domain.Logger, limiter *RateLimiter, csrf *CSRFStore) *Security {
	return &Security{cfg: cfgProvider, logger: logger, limiter: limiter, csrf: csrf}
}

// CSRF exposes the token store so the issuing endpoint shares it.
func (s *Security) CSRF() *CSRFStore { return s.csrf }

// Handler wraps next with the pipeline.
func (s *Security) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r2, ok := s.Check(w, r); ok {
			next.ServeHTTP(w, r2)
		}
	})
}

// Check runs every enabled stage. It returns the request to continue with, or
// false when a response has already been written.
func (s *Security) Check(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	sec := s.cfg.Get().Security

	ip := ClientIP(r, sec.TrustProxy)
	r = r.WithContext(context.WithValue(r.Context(), contextkeys.ClientIPKey, ip))

	if !s.cors(w, r, sec) {
		return nil, false
	}
	if sec.RateLimitEnabled && !s.rateLimit(w, r, sec, ip) {
		return nil, false
	}
	if sec.CSRFEnabled && !s.checkCSRF(w, r) {
		return nil, false
	}
	if sec.SanitizationEnabled && !s.sanitize(w, r, sec) {
		return nil, false
	}
	return r, true
}

func (s *Security) cors(w http.ResponseWriter, r *http.Request, sec config.SecurityConfig) bool {
	origin := r.Header.Get("Origin")
	writeCORSHeaders(w, origin, sec.TrustedOrigins)

	if r.Method == http.MethodOptions {
		writePreflightHeaders(w, sec.AllowedMethods, sec.AllowedHeaders, sec.CORSMaxAgeSeconds)
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	if !slices.Contains(sec.AllowedMethods, r.Method) {
		w.Header().Set("Allow", strings.Join(sec.AllowedMethods, ", "))
		s.reject(w, r, "cors", http.StatusMethodNotAllowed, domain.NewError(domain.KindForbidden,
			"method "+r.Method+" is not allowed", domain.WithCode("METHOD_NOT_ALLOWED")))
		return false
	}
	if origin != "" && !isSafeMethod(r.Method) && !OriginAllowed(origin, sec.TrustedOrigins) {
		s.reject(w, r, "cors", http.StatusForbidden, domain.NewError(domain.KindForbidden,
			"origin is not allowed", domain.WithCode("ORIGIN_NOT_ALLOWED"), domain.WithDetails(map[string]string{"origin": origin})))
		return false
	}
	return true
}

func (s *Security) rateLimit(w http.ResponseWriter, r *http.Request, sec config.SecurityConfig, ip string) bool {
	window := time.Duration(sec.RateLimitWindowSeconds) * time.Second
	d := s.limiter.Allow(RateKey(ip, r), sec.RateLimitMax, window)

	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if d.Allowed {
		return true
	}

	retryAfter := retryAfterSeconds(d.RetryAfter)
	h.Set("Retry-After", strconv.Itoa(retryAfter))
	s.reject(w, r, "rate_limit", http.StatusTooManyRequests, domain.NewError(domain.KindRateLimitExceeded,
		"rate limit exceeded", domain.WithDetails(map[string]int{"retryAfter": retryAfter, "limit": d.Limit})))
	return false
}

func (s *Security) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	if isSafeMethod(r.Method) {
		return true
	}
	if s.csrf.Valid(r.Header.Get(CSRFHeader)) {
		return true
	}
	s.reject(w, r, "csrf", http.StatusForbidden, domain.NewError(domain.KindForbidden,
		"missing or invalid CSRF token", domain.WithCode("CSRF_TOKEN_INVALID")))
	return false
}

func (s *Security) sanitize(w http.ResponseWriter, r *http.Request, sec config.SecurityConfig) bool {
	if SuspiciousURL(r.URL) {
		s.reject(w, r, "sanitize", http.StatusBadRequest, domain.NewError(domain.KindValidation,
			"request URL contains forbidden patterns", domain.WithCode("SUSPICIOUS_URL")))
		return false
	}
	if isSafeMethod(r.Method) {
		return true
	}

	body, err := readBody(r, sec.MaxBodyBytes)
	if err != nil {
		code := domain.ErrorCode("MALFORMED_BODY")
		if errors.Is(err, errBodyTooLarge) {
			code = "BODY_TOO_LARGE"
		}
		s.reject(w, r, "sanitize", http.StatusBadRequest, domain.NewError(domain.KindValidation, err.Error(), domain.WithCode(code)))
		return false
	}
	paths, err := bodyViolations(r.Header.Get("Content-Type"), body)
	if err != nil {
		s.reject(w, r, "sanitize", http.StatusBadRequest, domain.NewError(domain.KindValidation,
			"malformed request body", domain.WithCode("MALFORMED_BODY"), domain.WithCause(err)))
		return false
	}
	if len(paths) > 0 {
		s.reject(w, r, "sanitize", http.StatusBadRequest, domain.NewError(domain.KindValidation,
			"request contains potentially malicious input", domain.WithCode("MALICIOUS_INPUT"),
			domain.WithDetails(map[string][]string{"fields": paths})))
		return false
	}
	return true
}

func (s *Security) reject(w http.ResponseWriter, r *http.Request, stage string, status int, appErr *domain.AppError) {
	metrics.IncrementSecurityRejection(stage)
	s.logger.Warn(r.Context(), "Request rejected by security pipeline",
		"stage", stage,
		"status", status,
		"method", r.Method,
		"path", r.URL.Path,
		"client_ip", r.Context().Value(contextkeys.ClientIPKey),
		"reason", appErr.Message(),
	)
	domain.WriteJSON(w, status, domain.ErrorEnvelope(r.Context(), appErr))
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}
