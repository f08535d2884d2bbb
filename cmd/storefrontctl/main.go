package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/backend"
	"gitlab.com/timkado/api/storefront-edge/internal/adapters/config"
	"gitlab.com/timkado/api/storefront-edge/internal/adapters/logger"
	"gitlab.com/timkado/api/storefront-edge/internal/adapters/storage"
	"gitlab.com/timkado/api/storefront-edge/internal/application"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
)

const usage = `Usage:
  storefrontctl [flags] login EMAIL PASSWORD
  storefrontctl [flags] register FIRST LAST EMAIL PASSWORD
  storefrontctl [flags] logout
  storefrontctl [flags] whoami
  storefrontctl [flags] refresh
  storefrontctl [flags] change-password CURRENT NEW
  storefrontctl [flags] forgot-password EMAIL
  storefrontctl [flags] reset-password TOKEN NEW
  storefrontctl [flags] get PATH
`

func main() {
	apiURL := flag.String("api", "", "backend base URL (overrides api.base_url)")
	sessionPath := flag.String("session", "", "session file (overrides auth.session_path)")
	verbose := flag.Bool("v", false, "log debug output to stderr")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*apiURL, *sessionPath)
	if err != nil {
		fatal(err)
	}
	level := "warn"
	if *verbose {
		level = "debug"
	}
	log, err := logger.NewZapAdapterWithLevel(level, "storefrontctl", "stderr")
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newCLI(cfg, log)
	if err != nil {
		fatal(err)
	}
	if err := c.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		fatal(err)
	}
}

func fatal(err error) {
	if appErr, ok := domain.AsAppError(err); ok {
		fmt.Fprintf(os.Stderr, "Error: %s (%s)\n", appErr.UserMessage(), appErr.Code())
		if fields, ok := appErr.Details().(map[string][]string); ok {
			for field, msgs := range fields {
				fmt.Fprintf(os.Stderr, "  %s: %s\n", field, strings.Join(msgs, "; "))
			}
		}
	} else {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(1)
}

// loadConfig reads the same file and STOREFRONT_ environment as the edge.
func loadConfig(apiURL, sessionPath string) (*config.Config, error) {
	v := config.NewViper()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if apiURL != "" {
		v.Set("api.base_url", apiURL)
	}
	if sessionPath != "" {
		v.Set("auth.session_path", sessionPath)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if cfg.Auth.SessionPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate config dir: %w", err)
		}
		cfg.Auth.SessionPath = filepath.Join(dir, "storefront", "session.json")
	}
	return cfg, nil
}

// newCLI wires one client session over the persisted session file.
func newCLI(cfg *config.Config, log domain.Logger) (*cli, error) {
	store, err := storage.NewFileStore(afero.NewOsFs(), cfg.Auth.SessionPath, cfg.Auth.SessionEncryptionKey)
	if err != nil {
		return nil, err
	}
	client, err := backend.NewClient(config.NewStaticProvider(cfg), log)
	if err != nil {
		return nil, err
	}
	// Failures surface through fatal; there is no toast recipient on a console.
	errHandler := application.NewErrorHandler(log, nil, nil, false)
	session := application.NewAuthService(backend.NewAuthAPI(client), store, log, errHandler, application.AuthOptions{
		RefreshMargin:     time.Duration(cfg.Auth.RefreshMarginSeconds) * time.Second,
		RetryAfterRefresh: cfg.Auth.RetryAfterRefresh,
	})
	return &cli{session: session, client: client.WithTokenSource(session), out: os.Stdout}, nil
}
