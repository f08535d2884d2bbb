package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/backend"
	"gitlab.com/timkado/api/storefront-edge/internal/adapters/cache"
	"gitlab.com/timkado/api/storefront-edge/internal/adapters/config"
	"gitlab.com/timkado/api/storefront-edge/internal/adapters/middleware"
	"gitlab.com/timkado/api/storefront-edge/internal/application"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/tokens"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (nopLogger) Fatal(context.Context, string, ...any) {}
func (l nopLogger) With(...any) domain.Logger           { return l }

func token(t *testing.T, sub string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("backend"))
	require.NoError(t, err)
	return raw
}

type fakeBackend struct {
	productReads  atomic.Int32
	productWrites atomic.Int32
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	switch {
	case r.URL.Path == "/auth/me":
		sub := tokens.Subject(bearer)
		if sub == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{
			"user": map[string]any{"id": sub, "email": sub + "@example.com", "role": sub},
		}})
	case r.URL.Path == "/auth/login":
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{
			"accessToken":  signedFor("customer"),
			"refreshToken": "r-1",
			"user":         map[string]any{"id": "customer", "email": "jane@example.com", "role": "customer"},
		}})
	case strings.HasPrefix(r.URL.Path, "/products") && r.Method == http.MethodGet:
		f.productReads.Add(1)
		_, _ = w.Write([]byte(`{"success":true,"data":[{"id":"p1","name":"Shoe"}]}`))
	case strings.HasPrefix(r.URL.Path, "/products"):
		f.productWrites.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"data":{"id":"p2"}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func signedFor(sub string) string {
	raw, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("backend"))
	return raw
}

type testEdge struct {
	mux      *http.ServeMux
	backend  *fakeBackend
	hub      *application.NotificationHub
	security *middleware.Security
}

func newTestEdge(t *testing.T, mutate func(*config.Config)) *testEdge {
	t.Helper()
	fb := &fakeBackend{}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.API.BaseURL = srv.URL
	cfg.Security.CSRFEnabled = false
	cfg.Features = map[string]bool{"wishlist": true}
	if mutate != nil {
		mutate(cfg)
	}
	provider := config.NewStaticProvider(cfg)
	logger := nopLogger{}

	client, err := backend.NewClient(provider, logger)
	require.NoError(t, err)
	authAPI := backend.NewAuthAPI(client)
	cacheSvc := application.NewCacheService(logger, application.CacheOptions{KeyPrefix: "test:"}, cache.NewMemoryTier(100))
	verifier := application.NewTokenVerifier(logger, cacheSvc, authAPI, time.Minute)
	errHandler := application.NewErrorHandler(logger, nil, nil, false)
	security := middleware.NewSecurity(provider, logger, middleware.NewRateLimiter(), middleware.NewCSRFStore(10))
	hub := application.NewNotificationHub(logger)

	routes := NewRouteHandler(security, verifier, errHandler, logger)
	mux := http.NewServeMux()
	NewAPI(provider, routes, client, authAPI, cacheSvc, verifier, security, hub, hub, logger).Register(mux)
	mux.Handle("GET /api/boom", routes.Wrap(RouteOptions{Name: "boom"}, func(context.Context, *Request) (any, error) {
		panic("kaboom")
	}))
	return &testEdge{mux: mux, backend: fb, hub: hub, security: security}
}

func (e *testEdge) do(method, target, bearer, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, r)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) domain.Envelope {
	t.Helper()
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestCatalogReadThroughAndInvalidation(t *testing.T) {
	e := newTestEdge(t, nil)

	first := e.do(http.MethodGet, "/api/catalog/products?page=1", "", "")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := e.do(http.MethodGet, "/api/catalog/products?page=1", "", "")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.EqualValues(t, 1, e.backend.productReads.Load())

	write := e.do(http.MethodPost, "/api/catalog/products", token(t, "admin"), `{"name":"Boot"}`)
	require.Equal(t, http.StatusCreated, write.Code)
	assert.EqualValues(t, 1, e.backend.productWrites.Load())

	third := e.do(http.MethodGet, "/api/catalog/products?page=1", "", "")
	assert.Equal(t, "MISS", third.Header().Get("X-Cache"))
	assert.EqualValues(t, 2, e.backend.productReads.Load())
}

func TestCatalogWriteRequiresStaff(t *testing.T) {
	e := newTestEdge(t, nil)

	anon := e.do(http.MethodPost, "/api/catalog/products", "", `{"name":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, anon.Code)
	assert.Equal(t, `Bearer realm="storefront"`, anon.Header().Get("WWW-Authenticate"))
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/api/catalog/products", token(t, "customer"), `{"name":"x"}`).Code)
	assert.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/api/catalog/products", token(t, "staff"), `{"name":"x"}`).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/catalog/orders", "", "").Code)
}

func TestLoginValidation(t *testing.T) {
	e := newTestEdge(t, nil)

	rec := e.do(http.MethodPost, "/api/auth/login", "", `{"email":"nope"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, domain.ErrorCode(domain.KindValidation), env.Code)
	details, ok := env.Details.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, details, "email")
	assert.Contains(t, details, "password")

	rec = e.do(http.MethodPost, "/api/auth/login", "", `{"email":" Jane@Example.com ","password":"Secret123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	env = decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	data := env.Data.(map[string]any)
	assert.NotEmpty(t, data["accessToken"])
	assert.Equal(t, "r-1", data["refreshToken"])
}

func TestMeAndHeaders(t *testing.T) {
	e := newTestEdge(t, nil)
	rec := e.do(http.MethodGet, "/api/auth/me", token(t, "customer"), "")
	require.Equal(t, http.StatusOK, rec.Code)

	h := rec.Header()
	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", h.Get("X-Frame-Options"))
	assert.NotEmpty(t, h.Get("Referrer-Policy"))
	assert.NotEmpty(t, h.Get("X-Request-ID"))
	assert.True(t, strings.HasSuffix(h.Get("X-Response-Time"), "ms"))

	env := decodeEnvelope(t, rec)
	assert.Equal(t, h.Get("X-Request-ID"), env.Meta.RequestID)
	user := env.Data.(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "customer", user["id"])
}

func TestPanicBecomesCriticalError(t *testing.T) {
	e := newTestEdge(t, nil)
	rec := e.do(http.MethodGet, "/api/boom", "", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, domain.ErrorCode(domain.KindUnknown), env.Code)
	assert.NotEmpty(t, env.Error)
	assert.Nil(t, env.Details)
	body := rec.Body.String()
	assert.NotContains(t, body, "goroutine")
	assert.NotContains(t, body, "kaboom")
	assert.NotContains(t, body, "panic")
}

func TestAdminCacheEndpoints(t *testing.T) {
	e := newTestEdge(t, nil)
	e.do(http.MethodGet, "/api/catalog/products", "", "")

	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/api/cache/stats", token(t, "staff"), "").Code)

	rec := e.do(http.MethodGet, "/api/cache/stats", token(t, "admin"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	tiers := decodeEnvelope(t, rec).Data.(map[string]any)["tiers"].([]any)
	require.Len(t, tiers, 1)

	rec = e.do(http.MethodPost, "/api/cache/invalidate", token(t, "admin"), `{"tags":["products"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeEnvelope(t, rec).Data.(map[string]any)["removed"])

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/cache/invalidate", token(t, "admin"), `{}`).Code)
}

func TestPublicConfigAndCSRFToken(t *testing.T) {
	e := newTestEdge(t, func(c *config.Config) { c.Security.CSRFEnabled = true })

	rec := e.do(http.MethodGet, "/api/config", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec).Data.(map[string]any)
	assert.Equal(t, map[string]any{"wishlist": true}, data["features"])

	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/api/auth/login", "", `{"email":"jane@example.com","password":"x"}`).Code)

	rec = e.do(http.MethodGet, "/api/csrf-token", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	csrf := decodeEnvelope(t, rec).Data.(map[string]any)["csrfToken"].(string)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"jane@example.com","password":"x"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set(middleware.CSRFHeader, csrf)
	out := httptest.NewRecorder()
	e.mux.ServeHTTP(out, r)
	assert.Equal(t, http.StatusOK, out.Code)
}

func TestNotificationStream(t *testing.T) {
	e := newTestEdge(t, nil)
	srv := httptest.NewServer(e.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/notifications/stream?access_token="+token(t, "customer"), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)
	_, _ = reader.ReadString('\n')

	require.NoError(t, e.hub.Notify(ctx, domain.Notification{UserID: "customer", Message: "Order shipped", Level: domain.NotificationInfo}))

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: notification\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	var n domain.Notification
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &n))
	assert.Equal(t, "Order shipped", n.Message)
}

func TestAnnouncementReachesEveryone(t *testing.T) {
	e := newTestEdge(t, nil)
	ctx := context.Background()
	jane, stopJane, err := e.hub.Subscribe(ctx, "customer")
	require.NoError(t, err)
	defer stopJane()
	bob, stopBob, err := e.hub.Subscribe(ctx, "another-customer")
	require.NoError(t, err)
	defer stopBob()

	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/api/notifications/announce", token(t, "customer"), `{"message":"hi"}`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/api/notifications/announce", token(t, "admin"), `{}`).Code)
	assert.Empty(t, jane)

	rec := e.do(http.MethodPost, "/api/notifications/announce", token(t, "admin"), `{"message":"Checkout is back <b>online</b>"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, ch := range []<-chan domain.Notification{jane, bob} {
		n := <-ch
		assert.Equal(t, "Checkout is back online", n.Message)
		assert.True(t, n.Broadcast)
	}
}
