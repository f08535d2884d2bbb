package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// OriginAllowed matches origin against the trusted list. Entries are exact
// origins, a literal "*", or "*.example.com" for any subdomain of example.com.
func OriginAllowed(origin string, trusted []string) bool {
	if origin == "" {
		return false
	}
	origin = strings.ToLower(strings.TrimRight(origin, "/"))
	host := origin
	if _, rest, ok := strings.Cut(origin, "://"); ok {
		host = rest
	}
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}

	for _, t := range trusted {
		t = strings.ToLower(strings.TrimRight(strings.TrimSpace(t), "/"))
		switch {
		case t == "*":
			return true
		case t == origin:
			return true
		case strings.HasPrefix(t, "*."):
			suffix := t[1:] // ".example.com"
			if strings.HasSuffix(host, suffix) && len(host) > len(suffix) {
				return true
			}
		}
	}
	return false
}

// allowOriginValue is the Access-Control-Allow-Origin value for origin, or ""
// when the origin is not trusted.
func allowOriginValue(origin string, trusted []string) string {
	if origin == "" || !OriginAllowed(origin, trusted) {
		return ""
	}
	if slices.Contains(trusted, "*") {
		return "*"
	}
	return origin
}

func writeCORSHeaders(w http.ResponseWriter, origin string, trusted []string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	allow := allowOriginValue(origin, trusted)
	if allow == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", allow)
	if allow != "*" {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}

func writePreflightHeaders(w http.ResponseWriter, methods, headers []string, maxAge int) {
	h := w.Header()
	h.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
	if len(headers) > 0 {
		h.Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))
	}
	if maxAge > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
	}
}
