package safego

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"gitlab.com/timkado/api/storefront-edge/internal/domain"
)

// Execute runs fn in a new goroutine. A panic is recovered and logged with
// goroutineName and a stack trace.
func Execute(ctx context.Context, logger domain.Logger, goroutineName string, fn func()) {
	go func() {
		defer recoverInto(ctx, logger, goroutineName)
		fn()
	}()
}

// Every runs fn on every tick of interval until ctx is done. A panicking tick
// is logged and the loop keeps running.
func Every(ctx context.Context, logger domain.Logger, goroutineName string, interval time.Duration, fn func()) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				func() {
					defer recoverInto(ctx, logger, goroutineName)
					fn()
				}()
			case <-ctx.Done():
				logger.Debug(context.Background(), "Background loop stopped", "goroutine", goroutineName)
				return
			}
		}
	}()
}

func recoverInto(ctx context.Context, logger domain.Logger, goroutineName string) {
	r := recover()
	if r == nil {
		return
	}
	logCtx := ctx
	if ctx.Err() != nil {
		logCtx = context.Background()
	}
	logger.Error(logCtx, fmt.Sprintf("Panic recovered in goroutine: %s", goroutineName),
		"panic_info", fmt.Sprintf("%v", r),
		"stacktrace", string(debug.Stack()),
	)
}
