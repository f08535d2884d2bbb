package middleware

import (
	"context"
	"net/http"
	"strings"

	"gitlab.com/timkado/api/storefront-edge/internal/application"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/contextkeys"
)

const accessTokenQueryParam = "access_token" // EventSource cannot set headers

// BearerToken extracts the token from "Authorization: Bearer <token>". When
// allowQuery is set the access_token query parameter is accepted as a fallback.
func BearerToken(r *http.Request, allowQuery bool) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if allowQuery {
		return r.URL.Query().Get(accessTokenQueryParam)
	}
	return ""
}

// Authenticate verifies the bearer token of r and checks that the user holds
// one of roles, when any are given. On success the user, its id and role and
// the raw token are injected into the returned request's context.
func Authenticate(r *http.Request, verifier *application.TokenVerifier, allowQuery bool, roles ...domain.Role) (*http.Request, *domain.AppError) {
	token := BearerToken(r, allowQuery)
	user, err := verifier.Verify(r.Context(), token)
	if err != nil {
		return nil, application.Normalize(err)
	}
	if len(roles) > 0 && !user.HasRole(roles...) {
		return nil, domain.NewError(domain.KindForbidden, "insufficient role for this resource",
			domain.WithDetails(map[string]any{"required": roles, "role": user.Role}))
	}

	ctx := context.WithValue(r.Context(), contextkeys.AuthUserKey, user)
	ctx = context.WithValue(ctx, contextkeys.UserIDKey, user.ID)
	ctx = context.WithValue(ctx, contextkeys.UserRoleKey, string(user.Role))
	ctx = context.WithValue(ctx, contextkeys.AccessTokenKey, token)
	return r.WithContext(ctx), nil
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(contextkeys.AuthUserKey).(*domain.User)
	return u, ok && u != nil
}
