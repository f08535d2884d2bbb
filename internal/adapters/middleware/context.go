package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"gitlab.com/timkado/api/storefront-edge/pkg/contextkeys"
)

const XRequestIDHeader = "X-Request-ID"

// RequestIDMiddleware injects a request ID into the context.
// It reuses the X-Request-ID header when present, otherwise generates a new UUID.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, WithRequestID(w, r))
	})
}

// WithRequestID returns r carrying a request ID and echoes it on w. An ID
// already in the context is kept.
func WithRequestID(w http.ResponseWriter, r *http.Request) *http.Request {
	if id, ok := r.Context().Value(contextkeys.RequestIDKey).(string); ok && id != "" {
		return r
	}
	requestID := r.Header.Get(XRequestIDHeader)
	if requestID == "" || len(requestID) > 128 {
		requestID = uuid.NewString()
	}
	w.Header().Set(XRequestIDHeader, requestID)
	ctx := context.WithValue(r.Context(), contextkeys.RequestIDKey, requestID)
	return r.WithContext(ctx)
}

// ClientIP resolves the caller's address. Forwarding headers are honored only
// when the edge sits behind a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
