package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/config"
	appnats "gitlab.com/timkado/api/storefront-edge/internal/adapters/nats"
	appredis "gitlab.com/timkado/api/storefront-edge/internal/adapters/redis"
	"gitlab.com/timkado/api/storefront-edge/internal/application"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (nopLogger) Fatal(context.Context, string, ...any) {}
func (l nopLogger) With(...any) domain.Logger           { return l }

func tierNames(tiers []domain.CacheTier) []string {
	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = t.Name()
	}
	return names
}

func TestCacheTiersFollowConfig(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Defaults()
	require.NoError(t, err)
	cfg.Cache.DiskEnabled = true
	cfg.Cache.DiskPath = t.TempDir()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	tiers, err := CacheTiersProvider(ctx, config.NewStaticProvider(cfg), nopLogger{}, client)
	require.NoError(t, err)
	assert.Equal(t, []string{"memory", "disk", "redis"}, tierNames(tiers))

	cfg.Cache.DiskEnabled = false
	tiers, err = CacheTiersProvider(ctx, config.NewStaticProvider(cfg), nopLogger{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"memory"}, tierNames(tiers))
}

func TestNotificationBusSelection(t *testing.T) {
	assert.IsType(t, &application.NotificationHub{}, NotificationBusProvider(nil, nopLogger{}))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	assert.IsType(t, &appredis.NotificationPubSub{}, NotificationBusProvider(client, nopLogger{}))
}

func TestDisabledDependenciesAreOptional(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.Defaults()
	require.NoError(t, err)
	provider := config.NewStaticProvider(cfg)

	client, cleanup, err := RedisClientProvider(ctx, provider, nopLogger{})
	require.NoError(t, err)
	assert.Nil(t, client)
	cleanup()

	nc, cleanup, err := NatsConnProvider(ctx, provider, nopLogger{})
	require.NoError(t, err)
	assert.Nil(t, nc)
	cleanup()

	assert.IsType(t, appnats.NopReporter{}, ErrorReporterProvider(ctx, nil, provider, nopLogger{}))
}
