package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/backend"
	"gitlab.com/timkado/api/storefront-edge/internal/application"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
)

var errUsage = errors.New("usage")

type cli struct {
	session *application.AuthService
	client  *backend.Client // authenticates through session
	out     io.Writer
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	need := func(n int) error {
		if len(args) != n {
			return errUsage
		}
		return nil
	}

	switch cmd {
	case "login":
		if err := need(2); err != nil {
			return err
		}
		user, err := c.session.Login(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Logged in as %s (%s)\n", user.Email, user.Role)
	case "register":
		if err := need(4); err != nil {
			return err
		}
		user, err := c.session.Register(ctx, domain.RegisterRequest{FirstName: args[0], LastName: args[1], Email: args[2], Password: args[3]})
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Registered %s\n", user.Email)
	case "logout":
		if err := c.session.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Logged out")
	case "whoami":
		user := c.session.GetCurrentUser(ctx)
		if user == nil {
			fmt.Fprintln(c.out, "Not logged in")
			return nil
		}
		return c.printJSON(user)
	case "refresh":
		pair, err := c.session.RefreshToken(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Token refreshed, expires at %s\n", pair.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	case "change-password":
		if err := need(2); err != nil {
			return err
		}
		if err := c.session.ChangePassword(ctx, domain.ChangePasswordRequest{CurrentPassword: args[0], NewPassword: args[1]}); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Password changed")
	case "forgot-password":
		if err := need(1); err != nil {
			return err
		}
		if err := c.session.ForgotPassword(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "If the account exists, a reset link has been sent")
	case "reset-password":
		if err := need(2); err != nil {
			return err
		}
		if err := c.session.ResetPassword(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Password reset")
	case "get":
		if err := need(1); err != nil {
			return err
		}
		return c.get(ctx, args[0])
	default:
		return errUsage
	}
	return nil
}

// get fetches a backend path with the session token, e.g. "products?page=2".
func (c *cli) get(ctx context.Context, target string) error {
	path, rawQuery, _ := strings.Cut(target, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return domain.NewError(domain.KindValidation, "invalid query string", domain.WithCause(err))
	}
	resp, err := c.client.Do(ctx, backend.Request{
		Method:        http.MethodGet,
		Path:          "/" + strings.TrimPrefix(path, "/"),
		Query:         query,
		Authenticated: true,
	})
	if err != nil {
		return err
	}
	raw := resp.Data().Raw
	if raw == "" {
		return nil
	}
	return c.printJSON(json.RawMessage(raw))
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
