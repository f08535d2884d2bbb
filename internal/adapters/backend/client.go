package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/config"
	"gitlab.com/timkado/api/storefront-edge/internal/adapters/metrics"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/contextkeys"
)

const maxResponseBytes = 10 << 20

// TokenSource supplies bearer tokens and reacts to 401 responses. The client
// session implements it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	HandleUnauthorized(ctx context.Context) (bool, error)
}

// Options configures a Client.
type Options struct {
	BaseURL      string
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
	RatePerSec   float64 // 0 disables the throttle
	Burst        int
}

// Client calls the backend API. Idempotent requests are retried on transport
// errors and gateway statuses; every non-2xx response becomes a typed AppError.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	retries int
	backoff time.Duration
	logger  domain.Logger
	tokens  TokenSource
}

// Request describes one backend call. Path is relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
	// Bearer overrides the token source for this call.
	Bearer string
	// Authenticated asks the token source for a token when Bearer is empty.
	Authenticated bool
}

// Response is a buffered backend response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Data returns the "data" member of the backend envelope, or the whole body
// when the backend did not wrap it.
func (r *Response) Data() gjson.Result {
	if d := gjson.GetBytes(r.Body, "data"); d.Exists() {
		return d
	}
	return gjson.ParseBytes(r.Body)
}

// NewClient builds a client from the api section of the configuration.
func NewClient(cfgProvider config.Provider, logger domain.Logger) (*Client, error) {
	api := cfgProvider.Get().API
	return New(Options{
		BaseURL:      api.BaseURL,
		Timeout:      time.Duration(api.TimeoutSeconds) * time.Second,
		Retries:      api.Retries,
		RetryBackoff: time.Duration(api.RetryBackoffMs) * time.Millisecond,
		RatePerSec:   api.RateLimitPerSecond,
		Burst:        api.RateLimitBurst,
	}, logger)
}

func New(opts Options, logger domain.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend base url %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	c := &Client{
		base:    base,
		http:    &http.Client{Timeout: opts.Timeout},
		retries: opts.Retries,
		backoff: opts.RetryBackoff,
		logger:  logger,
	}
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return c, nil
}

// WithTokenSource returns a copy of c that authenticates through ts.
func (c *Client) WithTokenSource(ts TokenSource) *Client {
	cp := *c
	cp.tokens = ts
	return &cp
}

// Do sends req. A 401 on a request authenticated through the token source
// triggers one HandleUnauthorized and, when it allows it, a single retry.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, domain.NewError(domain.KindValidation, "request body is not serializable", domain.WithCause(err))
	}

	token, fromSource, err := c.bearer(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, req, body, token)
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized && fromSource {
		retry, herr := c.tokens.HandleUnauthorized(ctx)
		if herr != nil {
			return resp, herr
		}
		if retry {
			if token, err = c.tokens.AccessToken(ctx); err != nil {
				return resp, err
			}
			if resp, err = c.send(ctx, req, body, token); err != nil {
				return nil, err
			}
		}
	}

	if resp.Status >= http.StatusBadRequest {
		return resp, domain.ErrorFromResponse(resp.Status, resp.Body)
	}
	return resp, nil
}

func (c *Client) bearer(ctx context.Context, req Request) (string, bool, error) {
	if req.Bearer != "" {
		return req.Bearer, false, nil
	}
	if !req.Authenticated || c.tokens == nil {
		return "", false, nil
	}
	token, err := c.tokens.AccessToken(ctx)
	if errors.Is(err, domain.ErrNoSession) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

func (c *Client) send(ctx context.Context, req Request, body []byte, token string) (*Response, error) {
	target := c.resolve(req)
	idempotent := isIdempotent(req.Method)

	var lastErr error
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, domain.NewError(domain.KindNetwork, "backend throttle wait aborted", domain.WithCause(err), domain.WithRetryable(false))
			}
		}

		resp, err := c.roundTrip(ctx, req, target, body, token)
		canRetry := idempotent && attempt < c.retries && ctx.Err() == nil
		switch {
		case err != nil:
			metrics.IncrementBackendRequest(req.Method, 0)
			lastErr = err
			if !canRetry {
				return nil, domain.NewError(domain.KindNetwork, fmt.Sprintf("backend %s %s failed", req.Method, req.Path),
					domain.WithCause(lastErr),
					domain.WithErrorContext(domain.ErrorContext{Extra: map[string]any{"backend": target, "attempts": attempt + 1}}))
			}
		case isGatewayStatus(resp.Status) && canRetry:
			metrics.IncrementBackendRequest(req.Method, resp.Status)
		default:
			metrics.IncrementBackendRequest(req.Method, resp.Status)
			return resp, nil
		}

		c.logger.Warn(ctx, "Retrying backend request",
			"method", req.Method,
			"path", req.Path,
			"attempt", attempt+1,
		)
		if err := sleep(ctx, c.backoff*time.Duration(attempt+1)); err != nil {
			return nil, domain.NewError(domain.KindNetwork, "backend retry aborted", domain.WithCause(err), domain.WithRetryable(false))
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, req Request, target string, body []byte, token string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if id, ok := ctx.Value(contextkeys.RequestIDKey).(string); ok && id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: raw}, nil
}

func (c *Client) resolve(req Request) string {
	u := *c.base
	p := strings.TrimLeft(req.Path, "/")
	if unescaped, err := url.PathUnescape(p); err == nil {
		u.Path = c.base.Path + "/" + unescaped
		u.RawPath = c.base.EscapedPath() + "/" + p
	} else {
		u.Path = c.base.Path + "/" + p
	}
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}
	return u.String()
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(body)
	}
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func isGatewayStatus(status int) bool {
	return status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
