package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/storefront-edge/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (nopLogger) Fatal(context.Context, string, ...any) {}
func (l nopLogger) With(...any) domain.Logger           { return l }

// recordingLogger counts calls per level and keeps the fields of the last error.
type recordingLogger struct {
	nopLogger
	infos, warns, errs atomic.Int32

	mu        sync.Mutex
	errFields []any
}

func (l *recordingLogger) Info(context.Context, string, ...any) { l.infos.Add(1) }
func (l *recordingLogger) Warn(context.Context, string, ...any) { l.warns.Add(1) }

func (l *recordingLogger) Error(_ context.Context, _ string, fields ...any) {
	l.errs.Add(1)
	l.mu.Lock()
	l.errFields = fields
	l.mu.Unlock()
}

func (l *recordingLogger) lastErrorField(key string) any {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i+1 < len(l.errFields); i += 2 {
		if l.errFields[i] == key {
			return l.errFields[i+1]
		}
	}
	return nil
}

var errTierDown = errors.New("tier unavailable")

// failingTier fails every operation.
type failingTier struct{ name string }

func (f failingTier) Name() string { return f.name }
func (f failingTier) Get(context.Context, string) (*domain.CacheEntry, error) {
	return nil, errTierDown
}
func (f failingTier) Set(context.Context, string, domain.CacheEntry) error { return errTierDown }
func (f failingTier) Delete(context.Context, string) error                 { return errTierDown }
func (f failingTier) Clear(context.Context) error                          { return errTierDown }

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": exp.Unix(),
		"jti": time.Now().UnixNano(),
	}).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return raw
}

// fakeAuthAPI is a scripted backend with call counters.
type fakeAuthAPI struct {
	t *testing.T

	mu            sync.Mutex
	loginErr      error
	meErr         error
	refreshErr    error
	refreshDelay  time.Duration
	user          *domain.User
	noRefreshUser bool

	loginCalls   atomic.Int32
	logoutCalls  atomic.Int32
	refreshCalls atomic.Int32
	meCalls      atomic.Int32
	changeCalls  atomic.Int32
	// changeUnauthorizedOnce makes the first ChangePassword call fail with 401.
	changeUnauthorizedOnce atomic.Bool
	lastChangeToken        atomic.Value
}

func newFakeAuthAPI(t *testing.T) *fakeAuthAPI {
	return &fakeAuthAPI{t: t, user: &domain.User{ID: "u-1", Email: "jane@example.com", Role: domain.RoleCustomer}}
}

func (f *fakeAuthAPI) pair() domain.AuthTokens {
	return domain.AuthTokens{
		AccessToken:  signedToken(f.t, "u-1", time.Now().Add(15*time.Minute)),
		RefreshToken: "refresh-" + time.Now().Format(time.RFC3339Nano),
	}
}

func (f *fakeAuthAPI) Login(_ context.Context, creds domain.Credentials) (*domain.AuthResult, error) {
	f.loginCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &domain.AuthResult{Tokens: f.pair(), User: f.user}, nil
}

func (f *fakeAuthAPI) Register(_ context.Context, req domain.RegisterRequest) (*domain.AuthResult, error) {
	u := &domain.User{ID: "u-2", Email: req.Email, FirstName: req.FirstName, LastName: req.LastName, Role: domain.RoleCustomer}
	return &domain.AuthResult{Tokens: f.pair(), User: u}, nil
}

func (f *fakeAuthAPI) Logout(context.Context, string) error {
	f.logoutCalls.Add(1)
	return errors.New("backend unavailable")
}

func (f *fakeAuthAPI) RefreshToken(context.Context, string) (*domain.AuthResult, error) {
	f.refreshCalls.Add(1)
	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &domain.AuthResult{Tokens: f.pair()}, nil
}

func (f *fakeAuthAPI) Me(context.Context, string) (*domain.User, error) {
	f.meCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.meErr != nil {
		return nil, f.meErr
	}
	u := *f.user
	return &u, nil
}

func (f *fakeAuthAPI) ChangePassword(_ context.Context, token string, _ domain.ChangePasswordRequest) error {
	f.changeCalls.Add(1)
	f.lastChangeToken.Store(token)
	if f.changeUnauthorizedOnce.CompareAndSwap(true, false) {
		return domain.ErrorFromResponse(401, []byte(`{"message":"jwt expired"}`))
	}
	return nil
}

func (f *fakeAuthAPI) ForgotPassword(context.Context, string) error        { return nil }
func (f *fakeAuthAPI) ResetPassword(context.Context, string, string) error { return nil }

// recordingNotifier stores notifications.
type recordingNotifier struct {
	mu    sync.Mutex
	items []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, item domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, item)
	return nil
}

func (n *recordingNotifier) all() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notification(nil), n.items...)
}

// recordingReporter stores reported errors.
type recordingReporter struct {
	mu    sync.Mutex
	items []*domain.AppError
}

func (r *recordingReporter) Report(_ context.Context, e *domain.AppError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, e)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
