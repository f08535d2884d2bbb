package main

import (
	"context"
	"fmt"
	"os"

	"gitlab.com/timkado/api/storefront-edge/internal/bootstrap"
	"gitlab.com/timkado/api/storefront-edge/pkg/contextkeys"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = context.WithValue(ctx, contextkeys.RequestIDKey, "app-main")

	app, cleanup, err := bootstrap.InitializeApp(ctx)
	if err != nil {
		// The configured logger is not available yet.
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Application run failed: %v\n", err)
		cleanup()
		os.Exit(1)
	}
	fmt.Println("Application exited gracefully.")
}
