package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/backend"
	"gitlab.com/timkado/api/storefront-edge/internal/adapters/config"
	"gitlab.com/timkado/api/storefront-edge/internal/adapters/metrics"
	"gitlab.com/timkado/api/storefront-edge/internal/adapters/middleware"
	"gitlab.com/timkado/api/storefront-edge/internal/application"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/cachekeys"
	"gitlab.com/timkado/api/storefront-edge/pkg/validator"
)

const sseHeartbeatInterval = 25 * time.Second

var catalogResources = map[string]bool{"products": true, "categories": true, "brands": true}

// API serves the edge endpoints under /api.
type API struct {
	cfg        config.Provider
	routes     *RouteHandler
	client     *backend.Client
	auth       *backend.AuthAPI
	cache      *application.CacheService
	verifier   *application.TokenVerifier
	csrf       *middleware.CSRFStore
	subscriber domain.NotificationSubscriber
	notifier   domain.Notifier
	logger     domain.Logger
}

func NewAPI(
	cfgProvider config.Provider,
	routes *RouteHandler,
	client *backend.Client,
	auth *backend.AuthAPI,
	cache *application.CacheService,
	verifier *application.TokenVerifier,
	security *middleware.Security,
	subscriber domain.NotificationSubscriber,
	notifier domain.Notifier,
	logger domain.Logger,
) *API {
	return &API{
		cfg:        cfgProvider,
		routes:     routes,
		client:     client,
		auth:       auth,
		cache:      cache,
		verifier:   verifier,
		csrf:       security.CSRF(),
		subscriber: subscriber,
		notifier:   notifier,
		logger:     logger,
	}
}

var (
	emailRule    = validator.Rule{Field: "email", Checks: []validator.Check{validator.Required(), validator.Email()}, Sanitize: &validator.SanitizeOptions{Trim: true, Case: validator.CaseLower}}
	passwordRule = validator.Rule{Field: "password", Checks: []validator.Check{validator.Required()}}
	nameSanitize = &validator.SanitizeOptions{Trim: true, StripHTML: true, MaxLength: 100}
)

func newPasswordRule(field string) validator.Rule {
	return validator.Rule{Field: field, Checks: []validator.Check{
		validator.Required(),
		validator.Custom(func(v any) bool {
			s, _ := v.(string)
			return len(validator.ValidatePasswordPolicy(s)) == 0
		}, field+" must be at least 8 characters and contain upper and lower case letters and a number"),
	}}
}

// Register mounts every route on mux.
func (a *API) Register(mux *http.ServeMux) {
	r := a.routes
	staff := []domain.Role{domain.RoleAdmin, domain.RoleStaff}

	// Preflight requests are answered by the security pipeline.
	mux.Handle("OPTIONS /api/", r.Wrap(RouteOptions{Name: "preflight"}, func(context.Context, *Request) (any, error) {
		return nil, nil
	}))

	mux.Handle("GET /api/csrf-token", r.Wrap(RouteOptions{Name: "csrf_token"}, a.csrfToken))
	mux.Handle("GET /api/config", r.Wrap(RouteOptions{Name: "public_config"}, a.publicConfig))

	mux.Handle("POST /api/auth/login", r.Wrap(RouteOptions{Name: "auth_login", Audit: true, Rules: []validator.Rule{emailRule, passwordRule}}, a.login))
	mux.Handle("POST /api/auth/register", r.Wrap(RouteOptions{Name: "auth_register", Audit: true, SuccessStatus: http.StatusCreated, Rules: []validator.Rule{
		{Field: "firstName", Checks: []validator.Check{validator.Required(), validator.Min(2)}, Sanitize: nameSanitize},
		{Field: "lastName", Checks: []validator.Check{validator.Required(), validator.Min(2)}, Sanitize: nameSanitize},
		emailRule,
		newPasswordRule("password"),
		{Field: "phone", Checks: []validator.Check{validator.Phone()}, Sanitize: &validator.SanitizeOptions{Trim: true}},
	}}, a.register))
	mux.Handle("POST /api/auth/logout", r.Wrap(RouteOptions{Name: "auth_logout", RequireAuth: true, Audit: true}, a.logout))
	mux.Handle("POST /api/auth/refresh-token", r.Wrap(RouteOptions{Name: "auth_refresh", Rules: []validator.Rule{
		{Field: "refreshToken", Checks: []validator.Check{validator.Required()}},
	}}, a.refresh))
	mux.Handle("POST /api/auth/forgot-password", r.Wrap(RouteOptions{Name: "auth_forgot_password", Message: "If the account exists, a reset link has been sent.", Rules: []validator.Rule{emailRule}}, a.forgotPassword))
	mux.Handle("PUT /api/auth/reset-password/{token}", r.Wrap(RouteOptions{Name: "auth_reset_password", Audit: true, Rules: []validator.Rule{newPasswordRule("password")}}, a.resetPassword))
	mux.Handle("GET /api/auth/me", r.Wrap(RouteOptions{Name: "auth_me", RequireAuth: true}, a.me))
	mux.Handle("PUT /api/auth/change-password", r.Wrap(RouteOptions{Name: "auth_change_password", RequireAuth: true, Audit: true, Rules: []validator.Rule{
		{Field: "currentPassword", Checks: []validator.Check{validator.Required()}},
		newPasswordRule("newPassword"),
	}}, a.changePassword))

	for _, pattern := range []string{"/api/catalog/{resource}", "/api/catalog/{resource}/{rest...}"} {
		mux.Handle("GET "+pattern, r.Wrap(RouteOptions{Name: "catalog_read"}, a.catalogRead))
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
			mux.Handle(method+" "+pattern, r.Wrap(RouteOptions{Name: "catalog_write", Roles: staff, Audit: true}, a.catalogWrite))
		}
	}

	mux.Handle("POST /api/cache/invalidate", r.Wrap(RouteOptions{Name: "cache_invalidate", Roles: []domain.Role{domain.RoleAdmin}, Audit: true}, a.invalidateCache))
	mux.Handle("GET /api/cache/stats", r.Wrap(RouteOptions{Name: "cache_stats", Roles: []domain.Role{domain.RoleAdmin}}, a.cacheStats))

	if a.subscriber != nil {
		mux.Handle("GET /api/notifications/stream", r.WrapStream(RouteOptions{Name: "notifications_stream", RequireAuth: true, QueryToken: true}, a.notificationStream))
	}
	if a.notifier != nil {
		mux.Handle("POST /api/notifications/announce", r.Wrap(RouteOptions{Name: "notifications_announce", Roles: []domain.Role{domain.RoleAdmin}, Audit: true, Rules: []validator.Rule{
			{Field: "message", Checks: []validator.Check{validator.Required()}, Sanitize: &validator.SanitizeOptions{Trim: true, StripHTML: true, MaxLength: 200}},
			{Field: "description", Sanitize: &validator.SanitizeOptions{Trim: true, StripHTML: true, MaxLength: 500}},
		}}, a.announce))
	}
}

func (a *API) csrfToken(context.Context, *Request) (any, error) {
	token, err := a.csrf.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate csrf token: %w", err)
	}
	return map[string]string{"csrfToken": token, "header": middleware.CSRFHeader}, nil
}

func (a *API) publicConfig(context.Context, *Request) (any, error) {
	cfg := a.cfg.Get()
	return map[string]any{
		"environment": cfg.App.Environment,
		"version":     cfg.App.Version,
		"features":    cfg.Features,
		"providers": map[string]string{
			"payment": cfg.Providers.Payment,
			"email":   cfg.Providers.Email,
			"storage": cfg.Providers.Storage,
		},
	}, nil
}

// sessionPayload is the login, register and refresh response body.
func sessionPayload(res *domain.AuthResult) map[string]any {
	out := map[string]any{
		"accessToken":  res.Tokens.AccessToken,
		"refreshToken": res.Tokens.RefreshToken,
		"expiresAt":    res.Tokens.ExpiresAt,
	}
	if res.User != nil {
		out["user"] = res.User
	}
	return out
}

func (a *API) login(ctx context.Context, req *Request) (any, error) {
	res, err := a.auth.Login(ctx, domain.Credentials{Email: str(req.Data, "email"), Password: str(req.Data, "password")})
	if err != nil {
		if domain.IsKind(err, domain.KindUnauthorized) {
			return nil, domain.NewError(domain.KindInvalidCredentials, "invalid email or password", domain.WithCause(err))
		}
		return nil, err
	}
	return sessionPayload(res), nil
}

func (a *API) register(ctx context.Context, req *Request) (any, error) {
	res, err := a.auth.Register(ctx, domain.RegisterRequest{
		FirstName: str(req.Data, "firstName"),
		LastName:  str(req.Data, "lastName"),
		Email:     str(req.Data, "email"),
		Password:  str(req.Data, "password"),
		Phone:     str(req.Data, "phone"),
	})
	if err != nil {
		return nil, err
	}
	return sessionPayload(res), nil
}

func (a *API) logout(ctx context.Context, req *Request) (any, error) {
	a.verifier.Forget(ctx, req.Token)
	if err := a.auth.Logout(ctx, req.Token); err != nil {
		a.logger.Warn(ctx, "Backend logout failed", "user_id", req.User.ID, "error", err.Error())
	}
	return map[string]bool{"loggedOut": true}, nil
}

func (a *API) refresh(ctx context.Context, req *Request) (any, error) {
	res, err := a.auth.RefreshToken(ctx, str(req.Data, "refreshToken"))
	if err != nil {
		if domain.IsKind(err, domain.KindUnauthorized) {
			return nil, domain.NewError(domain.KindTokenExpired, "session expired", domain.WithCause(err))
		}
		return nil, err
	}
	return sessionPayload(res), nil
}

func (a *API) forgotPassword(ctx context.Context, req *Request) (any, error) {
	return nil, a.auth.ForgotPassword(ctx, str(req.Data, "email"))
}

func (a *API) resetPassword(ctx context.Context, req *Request) (any, error) {
	return nil, a.auth.ResetPassword(ctx, req.PathValue("token"), str(req.Data, "password"))
}

func (a *API) me(_ context.Context, req *Request) (any, error) {
	return map[string]any{"user": req.User}, nil
}

func (a *API) changePassword(ctx context.Context, req *Request) (any, error) {
	err := a.auth.ChangePassword(ctx, req.Token, domain.ChangePasswordRequest{
		CurrentPassword: str(req.Data, "currentPassword"),
		NewPassword:     str(req.Data, "newPassword"),
	})
	if err != nil {
		return nil, err
	}
	return map[string]bool{"changed": true}, nil
}

func catalogPath(req *Request) (string, string, error) {
	resource := req.PathValue("resource")
	if !catalogResources[resource] {
		return "", "", domain.NewError(domain.KindNotFound, "unknown catalog resource "+resource)
	}
	path := "/" + resource
	if rest := strings.Trim(req.PathValue("rest"), "/"); rest != "" {
		path += "/" + rest
	}
	return resource, path, nil
}

// catalogRead serves catalog reads from the cache, filling it from the backend
// on a miss. Entries are tagged with the resource name.
func (a *API) catalogRead(ctx context.Context, req *Request) (any, error) {
	resource, path, err := catalogPath(req)
	if err != nil {
		return nil, err
	}
	pathAndQuery := path
	if req.URL.RawQuery != "" {
		pathAndQuery += "?" + req.URL.RawQuery
	}
	key := cachekeys.CatalogKey(resource, pathAndQuery)

	if body, ok := a.cache.Get(ctx, key); ok {
		return &RawResponse{Body: body, Header: http.Header{"X-Cache": {"HIT"}}}, nil
	}

	resp, err := a.client.Do(ctx, backend.Request{Method: http.MethodGet, Path: path, Query: req.URL.Query()})
	if err != nil {
		return nil, err
	}
	ttl := time.Duration(a.cfg.Get().Cache.CatalogTTLSeconds) * time.Second
	if err := a.cache.Set(ctx, key, resp.Body, ttl, resource); err != nil {
		a.logger.Warn(ctx, "Failed to cache catalog response", "key", key, "error", err.Error())
	}
	return &RawResponse{Status: resp.Status, Body: resp.Body, Header: http.Header{"X-Cache": {"MISS"}}}, nil
}

// catalogWrite relays a write with the caller's token and drops every cached
// read of the resource.
func (a *API) catalogWrite(ctx context.Context, req *Request) (any, error) {
	resource, path, err := catalogPath(req)
	if err != nil {
		return nil, err
	}
	var body []byte
	if req.Body != nil {
		body, err = readAll(req.Request)
		if err != nil {
			return nil, err
		}
	}
	resp, err := a.client.Do(ctx, backend.Request{Method: req.Method, Path: path, Query: req.URL.Query(), Body: body, Bearer: req.Token})
	if err != nil {
		return nil, err
	}
	removed := a.cache.InvalidateByTags(ctx, resource)
	a.logger.Info(ctx, "Catalog write invalidated cache", "resource", resource, "removed", removed)
	return &RawResponse{Status: resp.Status, Body: resp.Body}, nil
}

type invalidateRequest struct {
	Tags []string `json:"tags"`
	All  bool     `json:"all"`
}

func (a *API) invalidateCache(ctx context.Context, req *Request) (any, error) {
	var in invalidateRequest
	if err := decodeJSON(req.Request, &in); err != nil {
		return nil, err
	}
	if in.All {
		if err := a.cache.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear cache: %w", err)
		}
		return map[string]any{"cleared": true}, nil
	}
	if len(in.Tags) == 0 {
		return nil, domain.NewError(domain.KindValidation, "tags or all is required",
			domain.WithDetails(map[string][]string{"tags": {"tags is required"}}))
	}
	return map[string]any{"removed": a.cache.InvalidateByTags(ctx, in.Tags...), "tags": in.Tags}, nil
}

func (a *API) cacheStats(context.Context, *Request) (any, error) {
	return map[string]any{"tiers": a.cache.Stats()}, nil
}

// announce sends an admin message to every connected user. It is the only
// producer of broadcast notifications.
func (a *API) announce(ctx context.Context, req *Request) (any, error) {
	n := domain.Notification{
		Level:       domain.NotificationInfo,
		Message:     str(req.Data, "message"),
		Description: str(req.Data, "description"),
		Dismissible: true,
		Broadcast:   true,
		Timestamp:   time.Now().UTC(),
	}
	if err := a.notifier.Notify(ctx, n); err != nil {
		return nil, fmt.Errorf("broadcast announcement: %w", err)
	}
	return map[string]any{"broadcast": true}, nil
}

// notificationStream relays the user's notifications as server-sent events.
func (a *API) notificationStream(w http.ResponseWriter, req *Request) error {
	ctx := req.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		return domain.NewError(domain.KindServer, "streaming is not supported by this connection")
	}
	events, cancel, err := a.subscriber.Subscribe(ctx, req.User.ID)
	if err != nil {
		return err
	}
	defer cancel()

	metrics.IncrementNotificationStreams()
	defer metrics.DecrementNotificationStreams()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		case n, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(w, "notification", n); err != nil {
				a.logger.Debug(ctx, "Notification stream closed", "error", err.Error())
				return nil
			}
			flusher.Flush()
		}
	}
}
