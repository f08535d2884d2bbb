package contextkeys

// Key is the type of every context key set by this module.
type Key string

const (
	// RequestIDKey is the context key for storing and retrieving a request ID.
	RequestIDKey Key = "request_id"

	// UserIDKey is the context key for the authenticated user's ID.
	UserIDKey Key = "user_id"

	// UserRoleKey is the context key for the authenticated user's role.
	UserRoleKey Key = "user_role"

	// AuthUserKey holds the *domain.User resolved from the bearer token.
	AuthUserKey Key = "auth_user"

	// AccessTokenKey carries the caller's raw bearer token so proxied backend calls can forward it.
	AccessTokenKey Key = "access_token"

	// ClientIPKey is the client IP resolved by the security middleware.
	ClientIPKey Key = "client_ip"
)

// String makes Key satisfy fmt.Stringer so keys can be used as log field names.
func (c Key) String() string {
	return string(c)
}
