package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"gitlab.com/timkado/api/storefront-edge/pkg/validator"
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errMalformed    = errors.New("malformed request body")
)

var suspiciousURLFragments = []string{
	"../", `..\`, "%2e%2e", "%00", "\x00",
	"<script", "javascript:", "vbscript:", "data:",
}

// SuspiciousURL reports whether the path or query, raw or decoded, contains a
// traversal, null byte or script scheme.
func SuspiciousURL(u *url.URL) bool {
	candidates := []string{u.EscapedPath(), u.RawQuery, u.Path}
	if q, err := url.QueryUnescape(u.RawQuery); err == nil {
		candidates = append(candidates, q)
	}
	for _, c := range candidates {
		lower := strings.ToLower(c)
		for _, frag := range suspiciousURLFragments {
			if strings.Contains(lower, frag) {
				return true
			}
		}
	}
	return false
}

// readBody reads at most limit bytes of r's body and puts an identical reader back.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if int64(len(raw)) > limit {
		return nil, errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	r.ContentLength = int64(len(raw))
	return raw, nil
}

// bodyViolations parses body according to contentType and returns the paths of
// string values that look like SQL injection or XSS, sorted.
func bodyViolations(contentType string, body []byte) ([]string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "application/json"
	}

	var found []string
	check := func(path, value string) {
		if validator.HasSQLInjection(value) || validator.HasXSS(value) {
			found = append(found, path)
		}
	}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var doc any
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: trailing data after JSON value", errMalformed)
		}
		walkStrings("", doc, check)
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		checkValues(values, check)
	case mediaType == "multipart/form-data":
		form, err := multipart.NewReader(bytes.NewReader(body), params["boundary"]).ReadForm(int64(len(body)))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		defer form.RemoveAll()
		checkValues(form.Value, check)
		for field, files := range form.File {
			for i, fh := range files {
				check(fmt.Sprintf("%s[%d].filename", field, i), fh.Filename)
			}
		}
	default:
		return nil, nil
	}
	sort.Strings(found)
	return found, nil
}

func checkValues(values map[string][]string, check func(path, value string)) {
	for key, vs := range values {
		for i, v := range vs {
			path := key
			if len(vs) > 1 {
				path = fmt.Sprintf("%s[%d]", key, i)
			}
			check(path, v)
		}
	}
}

// walkStrings calls fn for every string leaf of a decoded JSON document.
func walkStrings(path string, v any, fn func(path, value string)) {
	switch t := v.(type) {
	case string:
		if path == "" {
			path = "$"
		}
		fn(path, t)
	case map[string]any:
		for k, child := range t {
			p := k
			if path != "" {
				p = path + "." + k
			}
			walkStrings(p, child, fn)
		}
	case []any:
		for i, child := range t {
			walkStrings(fmt.Sprintf("%s[%d]", path, i), child, fn)
		}
	}
}
