package domain

import "context"

// Logger is the structured logging port used across the edge and the client session.
// Implementations pull request ids and user ids from ctx, so call sites pass
// only the fields that are specific to the event.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...any)
	Info(ctx context.Context, msg string, fields ...any)
	Warn(ctx context.Context, msg string, fields ...any)
	Error(ctx context.Context, msg string, fields ...any)
	Fatal(ctx context.Context, msg string, fields ...any) // exits the process after logging

	// With returns a child logger carrying fields on every entry.
	With(fields ...any) Logger
}
