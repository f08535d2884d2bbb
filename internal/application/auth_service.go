package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/metrics"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/cachekeys"
	"gitlab.com/timkado/api/storefront-edge/pkg/tokens"
	"gitlab.com/timkado/api/storefront-edge/pkg/validator"
)

const refreshFlightKey = "refresh"

// AuthOptions configures the client session.
type AuthOptions struct {
	// RefreshMargin treats a token as expired this long before its exp claim.
	RefreshMargin time.Duration
	// RetryAfterRefresh lets session calls retry once after a 401 triggered a refresh.
	RetryAfterRefresh bool
}

// AuthService owns one client-side session: the persisted token pair, the
// in-memory user shadow and the refresh lifecycle. Concurrent refreshes are
// coalesced into a single backend call.
type AuthService struct {
	api    domain.AuthAPI
	store  domain.KeyValueStore
	logger domain.Logger
	errors *ErrorHandler
	opts   AuthOptions
	now    func() time.Time
	flight singleflight.Group

	mu          sync.RWMutex
	state       domain.SessionState
	currentUser *domain.User
}

// NewAuthService creates the session service. errHandler may be nil.
func NewAuthService(api domain.AuthAPI, store domain.KeyValueStore, logger domain.Logger, errHandler *ErrorHandler, opts AuthOptions) *AuthService {
	if api == nil {
		panic("auth api is nil in NewAuthService")
	}
	if store == nil {
		panic("session store is nil in NewAuthService")
	}
	return &AuthService{
		api:    api,
		store:  store,
		logger: logger,
		errors: errHandler,
		opts:   opts,
		now:    time.Now,
		state:  domain.StateAnonymous,
	}
}

// State returns the current session state.
func (s *AuthService) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *AuthService) setState(st domain.SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Login validates the credentials, authenticates against the backend and stores
// the token pair and user together. Credentials are never retried.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, error) {
	res := validator.Validate(map[string]any{"email": email, "password": password}, []validator.Rule{
		{Field: "email", Checks: []validator.Check{validator.Required(), validator.Email()}, Sanitize: &validator.SanitizeOptions{Trim: true, Case: validator.CaseLower}},
		{Field: "password", Checks: []validator.Check{validator.Required()}},
	})
	if !res.IsValid {
		return nil, s.fail(ctx, "login", validationError("invalid login input", res))
	}

	s.setState(domain.StateAuthenticating)
	result, err := s.api.Login(ctx, domain.Credentials{Email: res.SanitizedData["email"].(string), Password: password})
	if err != nil {
		s.setState(domain.StateAnonymous)
		if domain.IsKind(err, domain.KindUnauthorized) {
			err = domain.NewError(domain.KindInvalidCredentials, "invalid email or password", domain.WithCause(err))
		}
		return nil, s.fail(ctx, "login", err)
	}
	if err := s.acceptAuthResult(ctx, result); err != nil {
		s.setState(domain.StateAnonymous)
		return nil, s.fail(ctx, "login", err)
	}
	s.logger.Info(ctx, "Logged in", "user_id", result.User.ID)
	return result.User, nil
}

// Register validates the form, including the password policy, then behaves like Login.
func (s *AuthService) Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error) {
	trim := &validator.SanitizeOptions{Trim: true, StripHTML: true, MaxLength: 100}
	res := validator.Validate(map[string]any{
		"firstName": req.FirstName,
		"lastName":  req.LastName,
		"email":     req.Email,
		"password":  req.Password,
		"phone":     req.Phone,
	}, []validator.Rule{
		{Field: "firstName", Checks: []validator.Check{validator.Required(), validator.Min(2)}, Sanitize: trim},
		{Field: "lastName", Checks: []validator.Check{validator.Required(), validator.Min(2)}, Sanitize: trim},
		{Field: "email", Checks: []validator.Check{validator.Required(), validator.Email()}, Sanitize: &validator.SanitizeOptions{Trim: true, Case: validator.CaseLower}},
		{Field: "password", Checks: []validator.Check{validator.Required(), passwordPolicyCheck()}},
		{Field: "phone", Checks: []validator.Check{validator.Phone()}, Sanitize: &validator.SanitizeOptions{Trim: true}},
	})
	if !res.IsValid {
		return nil, s.fail(ctx, "register", validationError("invalid registration input", res))
	}
	clean := domain.RegisterRequest{
		FirstName: res.SanitizedData["firstName"].(string),
		LastName:  res.SanitizedData["lastName"].(string),
		Email:     res.SanitizedData["email"].(string),
		Password:  req.Password,
		Phone:     res.SanitizedData["phone"].(string),
	}

	s.setState(domain.StateAuthenticating)
	result, err := s.api.Register(ctx, clean)
	if err != nil {
		s.setState(domain.StateAnonymous)
		return nil, s.fail(ctx, "register", err)
	}
	if err := s.acceptAuthResult(ctx, result); err != nil {
		s.setState(domain.StateAnonymous)
		return nil, s.fail(ctx, "register", err)
	}
	s.logger.Info(ctx, "Registered", "user_id", result.User.ID)
	return result.User, nil
}

// Logout notifies the backend on a best-effort basis and always purges local state.
func (s *AuthService) Logout(ctx context.Context) error {
	if raw, err := s.store.Get(ctx, cachekeys.AuthTokenKey); err == nil && len(raw) > 0 {
		if err := s.api.Logout(ctx, string(raw)); err != nil {
			s.logger.Warn(ctx, "Backend logout failed, clearing local session anyway", "error", err.Error())
		}
	}
	if err := s.clearAuthData(ctx); err != nil {
		return s.fail(ctx, "logout", err)
	}
	s.setState(domain.StateLoggedOut)
	s.logger.Info(ctx, "Logged out")
	return nil
}

// RefreshToken exchanges the refresh token for a new pair. Concurrent callers
// share one backend call and receive the same pair.
func (s *AuthService) RefreshToken(ctx context.Context) (*domain.AuthTokens, error) {
	stale := ""
	if raw, err := s.store.Get(ctx, cachekeys.AuthTokenKey); err == nil {
		stale = string(raw)
	}
	return s.refresh(ctx, stale)
}

// refresh runs the coalesced refresh. staleAccess is the token the caller saw;
// if the stored token already differs from it and is fresh, another flight has
// done the work and no network call is made.
func (s *AuthService) refresh(ctx context.Context, staleAccess string) (*domain.AuthTokens, error) {
	v, err, _ := s.flight.Do(refreshFlightKey, func() (any, error) {
		flightCtx := context.WithoutCancel(ctx)

		current, err := s.loadTokens(flightCtx)
		if err == nil && current.AccessToken != staleAccess && !s.expiring(*current) {
			return current, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNoSession) {
			return nil, s.fail(flightCtx, "refresh", err)
		}
		if current == nil || current.RefreshToken == "" {
			_ = s.clearAuthData(flightCtx)
			s.setState(domain.StateAnonymous)
			return nil, s.fail(flightCtx, "refresh", domain.NewError(domain.KindTokenExpired, "no refresh token available"))
		}

		s.setState(domain.StateRefreshing)
		result, err := s.api.RefreshToken(flightCtx, current.RefreshToken)
		if err != nil {
			metrics.IncrementTokenRefresh("failure")
			_ = s.clearAuthData(flightCtx)
			s.setState(domain.StateAnonymous)
			return nil, s.fail(flightCtx, "refresh", domain.NewError(domain.KindTokenExpired, "session expired", domain.WithCause(err)))
		}
		metrics.IncrementTokenRefresh("success")

		next := result.Tokens
		if next.RefreshToken == "" {
			next.RefreshToken = current.RefreshToken
		}
		if err := s.setAuthData(flightCtx, &next, result.User); err != nil {
			s.setState(domain.StateAnonymous)
			return nil, s.fail(flightCtx, "refresh", err)
		}
		return &next, nil
	})
	if err != nil {
		return nil, err
	}
	pair := *(v.(*domain.AuthTokens))
	return &pair, nil
}

// AccessToken returns a usable access token, refreshing it first when it
// expires within the margin. It returns ErrNoSession when nobody is logged in.
func (s *AuthService) AccessToken(ctx context.Context) (string, error) {
	current, err := s.loadTokens(ctx)
	if err != nil {
		return "", err
	}
	if !s.expiring(*current) {
		return current.AccessToken, nil
	}
	next, err := s.refresh(ctx, current.AccessToken)
	if err != nil {
		return "", err
	}
	return next.AccessToken, nil
}

// HandleUnauthorized reacts to a 401 from the backend with a single refresh.
// Without a refresh token the session is purged immediately. It reports whether
// the caller may retry the original request with a new token.
func (s *AuthService) HandleUnauthorized(ctx context.Context) (bool, error) {
	current, err := s.loadTokens(ctx)
	if err != nil || current.RefreshToken == "" {
		_ = s.clearAuthData(ctx)
		s.setState(domain.StateAnonymous)
		return false, s.fail(ctx, "unauthorized", domain.NewError(domain.KindTokenExpired, "session expired"))
	}
	if _, err := s.refresh(ctx, current.AccessToken); err != nil {
		return false, err
	}
	return s.opts.RetryAfterRefresh, nil
}

// GetCurrentUser returns the in-memory user, else the persisted one, else the
// backend's /auth/me when a token exists. Any failure clears the session and
// yields nil without an error.
func (s *AuthService) GetCurrentUser(ctx context.Context) *domain.User {
	s.mu.RLock()
	cached := s.currentUser
	s.mu.RUnlock()
	if cached != nil {
		return cached
	}

	if _, err := s.loadTokens(ctx); err != nil {
		return nil
	}
	if raw, err := s.store.Get(ctx, cachekeys.UserDataKey); err == nil {
		var u domain.User
		if json.Unmarshal(raw, &u) == nil && u.ID != "" {
			s.shadow(&u)
			return &u
		}
	}
	u, err := s.FetchCurrentUser(ctx)
	if err != nil {
		return nil
	}
	return u
}

// FetchCurrentUser always asks the backend and replaces the stored user.
func (s *AuthService) FetchCurrentUser(ctx context.Context) (*domain.User, error) {
	var user *domain.User
	err := s.withSession(ctx, "me", func(token string) error {
		u, err := s.api.Me(ctx, token)
		user = u
		return err
	})
	if err != nil {
		_ = s.clearAuthData(ctx)
		s.setState(domain.StateAnonymous)
		return nil, err
	}
	raw, err := json.Marshal(user)
	if err == nil {
		err = s.store.SetMany(ctx, map[string][]byte{cachekeys.UserDataKey: raw})
	}
	if err != nil {
		s.logger.Warn(ctx, "Failed to persist refreshed user", "error", err.Error())
	}
	s.shadow(user)
	return user, nil
}

// ChangePassword changes the password of the logged-in user.
func (s *AuthService) ChangePassword(ctx context.Context, req domain.ChangePasswordRequest) error {
	res := validator.Validate(map[string]any{"currentPassword": req.CurrentPassword, "newPassword": req.NewPassword}, []validator.Rule{
		{Field: "currentPassword", Checks: []validator.Check{validator.Required()}},
		{Field: "newPassword", Checks: []validator.Check{validator.Required(), passwordPolicyCheck()}},
	})
	if !res.IsValid {
		return s.fail(ctx, "change_password", validationError("invalid password change", res))
	}
	return s.withSession(ctx, "change_password", func(token string) error {
		return s.api.ChangePassword(ctx, token, req)
	})
}

// ForgotPassword asks the backend to send a reset link to email.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	if !validator.IsEmail(email) {
		return s.fail(ctx, "forgot_password", domain.NewError(domain.KindValidation, "a valid email is required",
			domain.WithDetails(map[string][]string{"email": {"email must be a valid email address"}})))
	}
	if err := s.api.ForgotPassword(ctx, email); err != nil {
		return s.fail(ctx, "forgot_password", err)
	}
	return nil
}

// ResetPassword sets a new password using the token from the reset link.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, password string) error {
	res := validator.Validate(map[string]any{"token": resetToken, "password": password}, []validator.Rule{
		{Field: "token", Checks: []validator.Check{validator.Required()}},
		{Field: "password", Checks: []validator.Check{validator.Required(), passwordPolicyCheck()}},
	})
	if !res.IsValid {
		return s.fail(ctx, "reset_password", validationError("invalid password reset", res))
	}
	if err := s.api.ResetPassword(ctx, resetToken, password); err != nil {
		return s.fail(ctx, "reset_password", err)
	}
	return nil
}

// HasRole reports whether the loaded user holds any of roles. False when no user is loaded.
func (s *AuthService) HasRole(roles ...domain.Role) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentUser.HasRole(roles...)
}

func (s *AuthService) IsAdmin() bool {
	return s.HasRole(domain.RoleAdmin)
}

// IsAuthenticated reports whether a stored access token exists and has not expired.
func (s *AuthService) IsAuthenticated(ctx context.Context) bool {
	current, err := s.loadTokens(ctx)
	if err != nil {
		return false
	}
	return s.now().Before(current.ExpiresAt)
}

// withSession runs fn with a valid access token. A 401 triggers one refresh and,
// when the policy allows it, exactly one retry. Errors from fn go through the
// error handler; refresh errors already have.
func (s *AuthService) withSession(ctx context.Context, action string, fn func(token string) error) error {
	token, err := s.AccessToken(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoSession) {
			return s.fail(ctx, action, domain.NewError(domain.KindUnauthorized, "not logged in", domain.WithCause(err)))
		}
		return err
	}
	err = fn(token)
	if domain.IsKind(err, domain.KindUnauthorized) {
		retry, rerr := s.HandleUnauthorized(ctx)
		if rerr != nil {
			return rerr
		}
		if retry {
			if token, rerr = s.AccessToken(ctx); rerr != nil {
				return rerr
			}
			err = fn(token)
		}
	}
	if err != nil {
		return s.fail(ctx, action, err)
	}
	return nil
}

func (s *AuthService) expiring(t domain.AuthTokens) bool {
	return t.ExpiresWithin(s.now(), s.opts.RefreshMargin)
}

// loadTokens reads the stored pair. A token whose expiry cannot be read is
// treated as tampered with and the session is purged.
func (s *AuthService) loadTokens(ctx context.Context) (*domain.AuthTokens, error) {
	access, err := s.store.Get(ctx, cachekeys.AuthTokenKey)
	if errors.Is(err, domain.ErrCacheMiss) || (err == nil && len(access) == 0) {
		return nil, domain.ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	exp, err := tokens.ExpiresAt(string(access))
	if err != nil {
		s.logger.Warn(ctx, "Stored access token is malformed, purging session", "error", err.Error())
		_ = s.clearAuthData(ctx)
		s.setState(domain.StateAnonymous)
		return nil, domain.ErrNoSession
	}
	pair := &domain.AuthTokens{AccessToken: string(access), ExpiresAt: exp}
	if refresh, err := s.store.Get(ctx, cachekeys.RefreshTokenKey); err == nil {
		pair.RefreshToken = string(refresh)
	}
	return pair, nil
}

func (s *AuthService) acceptAuthResult(ctx context.Context, result *domain.AuthResult) error {
	if result == nil || result.Tokens.AccessToken == "" || result.User == nil {
		return domain.NewError(domain.KindUnauthorized, "malformed authentication response")
	}
	return s.setAuthData(ctx, &result.Tokens, result.User)
}

// setAuthData stores the pair, and the user when given, in one write.
func (s *AuthService) setAuthData(ctx context.Context, pair *domain.AuthTokens, user *domain.User) error {
	if pair.ExpiresAt.IsZero() {
		exp, err := tokens.ExpiresAt(pair.AccessToken)
		if err != nil {
			return domain.NewError(domain.KindUnauthorized, "malformed access token", domain.WithCause(err))
		}
		pair.ExpiresAt = exp
	}
	values := map[string][]byte{
		cachekeys.AuthTokenKey:    []byte(pair.AccessToken),
		cachekeys.RefreshTokenKey: []byte(pair.RefreshToken),
	}
	if user != nil {
		raw, err := json.Marshal(user)
		if err != nil {
			return err
		}
		values[cachekeys.UserDataKey] = raw
	}
	if err := s.store.SetMany(ctx, values); err != nil {
		return err
	}

	s.mu.Lock()
	if user != nil {
		s.currentUser = user
	}
	s.state = domain.StateAuthenticated
	s.mu.Unlock()
	return nil
}

func (s *AuthService) clearAuthData(ctx context.Context) error {
	s.mu.Lock()
	s.currentUser = nil
	s.mu.Unlock()
	return s.store.Delete(ctx, cachekeys.SessionKeys...)
}

func (s *AuthService) shadow(u *domain.User) {
	s.mu.Lock()
	s.currentUser = u
	if s.state != domain.StateRefreshing {
		s.state = domain.StateAuthenticated
	}
	s.mu.Unlock()
}

func (s *AuthService) fail(ctx context.Context, action string, err error) error {
	if s.errors == nil {
		return Normalize(err)
	}
	ec := domain.ErrorContext{Component: "auth", Action: action}
	s.mu.RLock()
	if s.currentUser != nil {
		ec.UserID = s.currentUser.ID
	}
	s.mu.RUnlock()
	return s.errors.Handle(ctx, err, ec)
}

func validationError(msg string, res validator.Result) *domain.AppError {
	return domain.NewError(domain.KindValidation, msg, domain.WithDetails(res.ErrorMap()))
}

func passwordPolicyCheck() validator.Check {
	return validator.Custom(func(v any) bool {
		pw, _ := v.(string)
		return len(validator.ValidatePasswordPolicy(pw)) == 0
	}, "password must be at least 8 characters and contain upper and lower case letters and a number")
}
