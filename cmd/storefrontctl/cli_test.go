package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/config"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (nopLogger) Fatal(context.Context, string, ...any) {}
func (l nopLogger) With(...any) domain.Logger           { return l }

func testToken(t *testing.T) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return raw
}

func newTestCLI(t *testing.T) (*cli, *bytes.Buffer) {
	t.Helper()
	access := testToken(t)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{
			"accessToken":  access,
			"refreshToken": "r-1",
			"user":         map[string]any{"id": "u-1", "email": "jane@example.com", "role": "customer"},
		}})
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/products", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+access {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":[{"id":"p-1","page":"` + r.URL.Query().Get("page") + `"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.API.BaseURL = srv.URL + "/api"
	cfg.API.Retries = 0
	cfg.Auth.SessionPath = filepath.Join(t.TempDir(), "session.json")

	c, err := newCLI(cfg, nopLogger{})
	require.NoError(t, err)
	out := &bytes.Buffer{}
	c.out = out
	return c, out
}

func TestSessionCommands(t *testing.T) {
	ctx := context.Background()
	c, out := newTestCLI(t)

	require.NoError(t, c.run(ctx, "whoami", nil))
	assert.Equal(t, "Not logged in\n", out.String())

	out.Reset()
	require.NoError(t, c.run(ctx, "login", []string{"Jane@Example.com", "secret"}))
	assert.Equal(t, "Logged in as jane@example.com (customer)\n", out.String())

	out.Reset()
	require.NoError(t, c.run(ctx, "whoami", nil))
	var user domain.User
	require.NoError(t, json.Unmarshal(out.Bytes(), &user))
	assert.Equal(t, "u-1", user.ID)

	out.Reset()
	require.NoError(t, c.run(ctx, "get", []string{"products?page=2"}))
	assert.JSONEq(t, `[{"id":"p-1","page":"2"}]`, out.String())

	out.Reset()
	require.NoError(t, c.run(ctx, "logout", nil))
	assert.Equal(t, domain.StateLoggedOut, c.session.State())

	out.Reset()
	require.NoError(t, c.run(ctx, "whoami", nil))
	assert.Equal(t, "Not logged in\n", out.String())
}

func TestCommandArguments(t *testing.T) {
	c, _ := newTestCLI(t)
	assert.ErrorIs(t, c.run(context.Background(), "login", []string{"only-email"}), errUsage)
	assert.ErrorIs(t, c.run(context.Background(), "bogus", nil), errUsage)

	err := c.run(context.Background(), "login", []string{"not-an-email", "secret"})
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}
