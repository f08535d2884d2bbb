package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/tokens"
)

// AuthAPI implements domain.AuthAPI over the backend's /auth endpoints.
type AuthAPI struct {
	client *Client
}

func NewAuthAPI(client *Client) *AuthAPI {
	return &AuthAPI{client: client}
}

var _ domain.AuthAPI = (*AuthAPI)(nil)

func (a *AuthAPI) Login(ctx context.Context, creds domain.Credentials) (*domain.AuthResult, error) {
	resp, err := a.client.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/login", Body: creds})
	if err != nil {
		return nil, err
	}
	return parseAuthResult(resp)
}

func (a *AuthAPI) Register(ctx context.Context, req domain.RegisterRequest) (*domain.AuthResult, error) {
	resp, err := a.client.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/register", Body: req})
	if err != nil {
		return nil, err
	}
	return parseAuthResult(resp)
}

func (a *AuthAPI) Logout(ctx context.Context, accessToken string) error {
	_, err := a.client.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/logout", Bearer: accessToken})
	return err
}

func (a *AuthAPI) RefreshToken(ctx context.Context, refreshToken string) (*domain.AuthResult, error) {
	resp, err := a.client.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/refresh-token",
		Body:   map[string]string{"refreshToken": refreshToken},
	})
	if err != nil {
		return nil, err
	}
	return parseAuthResult(resp)
}

// Me returns the user behind accessToken.
func (a *AuthAPI) Me(ctx context.Context, accessToken string) (*domain.User, error) {
	resp, err := a.client.Do(ctx, Request{Method: http.MethodGet, Path: "/auth/me", Bearer: accessToken})
	if err != nil {
		return nil, err
	}
	data := resp.Data()
	if u := data.Get("user"); u.IsObject() {
		data = u
	}
	return decodeUser(data)
}

func (a *AuthAPI) ChangePassword(ctx context.Context, accessToken string, req domain.ChangePasswordRequest) error {
	_, err := a.client.Do(ctx, Request{Method: http.MethodPut, Path: "/auth/change-password", Body: req, Bearer: accessToken})
	return err
}

func (a *AuthAPI) ForgotPassword(ctx context.Context, email string) error {
	_, err := a.client.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/forgot-password",
		Body:   map[string]string{"email": email},
	})
	return err
}

func (a *AuthAPI) ResetPassword(ctx context.Context, resetToken, password string) error {
	_, err := a.client.Do(ctx, Request{
		Method: http.MethodPut,
		Path:   "/auth/reset-password/" + url.PathEscape(resetToken),
		Body:   map[string]string{"password": password},
	})
	return err
}

// parseAuthResult extracts the token pair and user from a login, register or
// refresh response. Backends name the access token either accessToken or token.
func parseAuthResult(resp *Response) (*domain.AuthResult, error) {
	data := resp.Data()
	access := firstString(data, "accessToken", "token", "tokens.accessToken")
	if access == "" {
		return nil, domain.NewError(domain.KindUnauthorized, "authentication response carries no access token")
	}
	exp, err := tokens.ExpiresAt(access)
	if err != nil {
		return nil, domain.NewError(domain.KindUnauthorized, "backend issued an unreadable access token", domain.WithCause(err))
	}

	result := &domain.AuthResult{Tokens: domain.AuthTokens{
		AccessToken:  access,
		RefreshToken: firstString(data, "refreshToken", "tokens.refreshToken"),
		ExpiresAt:    exp,
	}}
	if u := data.Get("user"); u.IsObject() {
		user, err := decodeUser(u)
		if err != nil {
			return nil, err
		}
		result.User = user
	}
	return result, nil
}

func decodeUser(r gjson.Result) (*domain.User, error) {
	if !r.IsObject() {
		return nil, domain.NewError(domain.KindServer, "backend returned no user")
	}
	var user domain.User
	if err := json.Unmarshal([]byte(r.Raw), &user); err != nil {
		return nil, domain.NewError(domain.KindServer, "backend returned an undecodable user", domain.WithCause(err))
	}
	if user.ID == "" {
		user.ID = r.Get("_id").String()
	}
	if user.Role == "" {
		user.Role = domain.RoleCustomer
	}
	return &user, nil
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
