package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/wire"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/backend"
	"gitlab.com/timkado/api/storefront-edge/internal/adapters/cache"
	"gitlab.com/timkado/api/storefront-edge/internal/adapters/config"
	appgrpc "gitlab.com/timkado/api/storefront-edge/internal/adapters/grpc"
	apphttp "gitlab.com/timkado/api/storefront-edge/internal/adapters/http"
	"gitlab.com/timkado/api/storefront-edge/internal/adapters/logger"
	"gitlab.com/timkado/api/storefront-edge/internal/adapters/middleware"
	appnats "gitlab.com/timkado/api/storefront-edge/internal/adapters/nats"
	appredis "gitlab.com/timkado/api/storefront-edge/internal/adapters/redis"
	"gitlab.com/timkado/api/storefront-edge/internal/application"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
)

// NotificationBus both delivers and streams notifications.
type NotificationBus interface {
	domain.Notifier
	domain.NotificationSubscriber
}

// InitialZapLoggerProvider provides a basic *zap.Logger used until the configured logger exists.
func InitialZapLoggerProvider() (*zap.Logger, func(), error) {
	logger, err := zap.NewProduction()
	if err != nil {
		logger, err = zap.NewDevelopment()
		if err != nil {
			logger = zap.NewExample()
			fmt.Fprintf(os.Stderr, "Failed to create initial zap logger, falling back to example logger: %v\n", err)
		}
	}

	cleanup := func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync initial zap logger: %v\n", syncErr)
		}
	}
	return logger, cleanup, nil
}

// App holds the running edge.
type App struct {
	configProvider config.Provider
	logger         domain.Logger
	httpServeMux   *http.ServeMux
	httpServer     *http.Server
	grpcServer     *appgrpc.Server
	api            *apphttp.API
	readiness      *Readiness
}

// NewApp is the constructor for App, also for Wire.
func NewApp(
	cfgProvider config.Provider,
	appLogger domain.Logger,
	mux *http.ServeMux,
	server *http.Server,
	grpcSrv *appgrpc.Server,
	api *apphttp.API,
	readiness *Readiness,
) (*App, func(), error) {
	app := &App{
		configProvider: cfgProvider,
		logger:         appLogger,
		httpServeMux:   mux,
		httpServer:     server,
		grpcServer:     grpcSrv,
		api:            api,
		readiness:      readiness,
	}

	cleanup := func() {
		app.logger.Info(context.Background(), "Running app cleanup...")
		if app.grpcServer != nil {
			app.grpcServer.GracefulStop()
		}
	}
	return app, cleanup, nil
}

// ConfigProvider loads configuration; appCtx bounds the reload watchers.
func ConfigProvider(appCtx context.Context, logger *zap.Logger) (config.Provider, error) {
	return config.NewViperProvider(appCtx, logger)
}

// LoggerProvider provides the application logger.
func LoggerProvider(cfgProvider config.Provider) (domain.Logger, error) {
	return logger.NewZapAdapter(cfgProvider, cfgProvider.Get().App.ServiceName)
}

// HTTPServeMuxProvider provides the main HTTP multiplexer.
func HTTPServeMuxProvider() *http.ServeMux {
	return http.NewServeMux()
}

// HTTPGracefulServerProvider provides the HTTP server. A zero write timeout
// leaves notification streams open.
func HTTPGracefulServerProvider(cfgProvider config.Provider, mux *http.ServeMux) *http.Server {
	serverCfg := cfgProvider.Get().Server
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", serverCfg.HTTPPort),
		Handler:           mux,
		ReadTimeout:       time.Duration(serverCfg.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(serverCfg.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// RedisClientProvider connects to Redis when the Redis cache tier is enabled.
// It returns a nil client otherwise.
func RedisClientProvider(appCtx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (*redis.Client, func(), error) {
	cfg := cfgProvider.Get()
	if !cfg.Cache.RedisEnabled {
		appLogger.Info(appCtx, "Redis cache tier disabled")
		return nil, func() {}, nil
	}
	client, err := appredis.NewClient(appCtx, cfgProvider)
	if err != nil {
		appLogger.Error(appCtx, "Failed to connect to Redis", "error", err.Error(), "address", cfg.Redis.Address)
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
		appLogger.Info(context.Background(), "Redis connection closed")
	}
	appLogger.Info(appCtx, "Successfully connected to Redis", "address", cfg.Redis.Address)
	return client, cleanup, nil
}

// NatsConnProvider connects to NATS when remote error reporting is enabled.
func NatsConnProvider(appCtx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (*nats.Conn, func(), error) {
	cfg := cfgProvider.Get()
	if !cfg.Errors.ReportEnabled || cfg.NATS.URL == "" {
		appLogger.Info(appCtx, "Remote error reporting disabled")
		return nil, func() {}, nil
	}
	return appnats.Connect(appCtx, cfgProvider, appLogger)
}

// ErrorReporterProvider starts the NATS reporter, or discards reports without a connection.
func ErrorReporterProvider(appCtx context.Context, nc *nats.Conn, cfgProvider config.Provider, appLogger domain.Logger) domain.ErrorReporter {
	if nc == nil {
		return appnats.NopReporter{}
	}
	cfg := cfgProvider.Get()
	reporter := appnats.NewErrorReporter(nc, appLogger, cfg.NATS.SubjectPrefix, cfg.Errors.QueueSize,
		time.Duration(cfg.Errors.FlushIntervalSeconds)*time.Second)
	reporter.Start(appCtx)
	return reporter
}

// NotificationBusProvider fans notifications out over Redis so every replica's
// streams see them; a single node uses the in-process hub.
func NotificationBusProvider(redisClient *redis.Client, appLogger domain.Logger) NotificationBus {
	if redisClient != nil {
		return appredis.NewNotificationPubSub(redisClient, appLogger)
	}
	return application.NewNotificationHub(appLogger)
}

func NotifierProvider(bus NotificationBus) domain.Notifier { return bus }

func NotificationSubscriberProvider(bus NotificationBus) domain.NotificationSubscriber { return bus }

// CacheTiersProvider builds the enabled tiers, fastest first.
func CacheTiersProvider(appCtx context.Context, cfgProvider config.Provider, appLogger domain.Logger, redisClient *redis.Client) ([]domain.CacheTier, error) {
	cacheCfg := cfgProvider.Get().Cache
	var tiers []domain.CacheTier

	if cacheCfg.MemoryEnabled {
		mem := cache.NewMemoryTier(cacheCfg.MaxSize)
		mem.StartJanitor(appCtx, appLogger, time.Duration(cacheCfg.SweepIntervalSeconds)*time.Second)
		tiers = append(tiers, mem)
	}
	if cacheCfg.DiskEnabled {
		disk, err := cache.NewDiskTier(afero.NewOsFs(), cacheCfg.DiskPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open disk cache tier: %w", err)
		}
		tiers = append(tiers, disk)
	}
	if redisClient != nil {
		tiers = append(tiers, appredis.NewCacheTier(redisClient, appLogger, cacheCfg.KeyPrefix))
	}

	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = t.Name()
	}
	appLogger.Info(appCtx, "Cache tiers configured", "tiers", names)
	return tiers, nil
}

// CacheServiceProvider provides the multi-tier cache.
func CacheServiceProvider(appLogger domain.Logger, cfgProvider config.Provider, tiers []domain.CacheTier) *application.CacheService {
	cacheCfg := cfgProvider.Get().Cache
	return application.NewCacheService(appLogger, application.CacheOptions{
		KeyPrefix:  cacheCfg.KeyPrefix,
		DefaultTTL: time.Duration(cacheCfg.DefaultTTLSeconds) * time.Second,
	}, tiers...)
}

// ErrorHandlerProvider provides the error handler.
func ErrorHandlerProvider(appLogger domain.Logger, reporter domain.ErrorReporter, notifier domain.Notifier, cfgProvider config.Provider) *application.ErrorHandler {
	return application.NewErrorHandler(appLogger, reporter, notifier, cfgProvider.Get().Errors.NotifyEnabled)
}

// BackendClientProvider provides the backend HTTP client.
func BackendClientProvider(cfgProvider config.Provider, appLogger domain.Logger) (*backend.Client, error) {
	return backend.NewClient(cfgProvider, appLogger)
}

// AuthAPIProvider provides the backend auth endpoints.
func AuthAPIProvider(client *backend.Client) *backend.AuthAPI {
	return backend.NewAuthAPI(client)
}

// TokenVerifierProvider provides the bearer token verifier.
func TokenVerifierProvider(appLogger domain.Logger, cacheService *application.CacheService, authAPI *backend.AuthAPI, cfgProvider config.Provider) *application.TokenVerifier {
	ttl := time.Duration(cfgProvider.Get().Auth.TokenCacheTTLSeconds) * time.Second
	return application.NewTokenVerifier(appLogger, cacheService, authAPI, ttl)
}

// RateLimiterProvider provides the rate limiter and sweeps its stale windows.
func RateLimiterProvider(appCtx context.Context, appLogger domain.Logger) *middleware.RateLimiter {
	limiter := middleware.NewRateLimiter()
	limiter.StartJanitor(appCtx, appLogger, time.Minute)
	return limiter
}

// CSRFStoreProvider provides the CSRF token store.
func CSRFStoreProvider(cfgProvider config.Provider) *middleware.CSRFStore {
	return middleware.NewCSRFStore(cfgProvider.Get().Security.CSRFMaxTokens)
}

// SecurityProvider provides the request security pipeline.
func SecurityProvider(cfgProvider config.Provider, appLogger domain.Logger, limiter *middleware.RateLimiter, csrf *middleware.CSRFStore) *middleware.Security {
	return middleware.NewSecurity(cfgProvider, appLogger, limiter, csrf)
}

// RouteHandlerProvider provides the route wrapper.
func RouteHandlerProvider(security *middleware.Security, verifier *application.TokenVerifier, errHandler *application.ErrorHandler, appLogger domain.Logger) *apphttp.RouteHandler {
	return apphttp.NewRouteHandler(security, verifier, errHandler, appLogger)
}

// APIProvider provides the edge API.
func APIProvider(
	cfgProvider config.Provider,
	routes *apphttp.RouteHandler,
	client *backend.Client,
	authAPI *backend.AuthAPI,
	cacheService *application.CacheService,
	verifier *application.TokenVerifier,
	security *middleware.Security,
	subscriber domain.NotificationSubscriber,
	notifier domain.Notifier,
	appLogger domain.Logger,
) *apphttp.API {
	return apphttp.NewAPI(cfgProvider, routes, client, authAPI, cacheService, verifier, security, subscriber, notifier, appLogger)
}

// ReadinessProvider provides the dependency checker behind /ready and the gRPC health service.
func ReadinessProvider(redisClient *redis.Client, nc *nats.Conn) *Readiness {
	return NewReadiness(redisClient, nc)
}

// GRPCServerProvider provides the gRPC health server.
func GRPCServerProvider(appCtx context.Context, appLogger domain.Logger, cfgProvider config.Provider, readiness *Readiness) *appgrpc.Server {
	return appgrpc.NewServer(appCtx, appLogger, cfgProvider, readiness.Probe)
}

// ProviderSet is the Wire provider set for the entire application.
var ProviderSet = wire.NewSet(
	InitialZapLoggerProvider,
	ConfigProvider,
	LoggerProvider,
	HTTPServeMuxProvider,
	HTTPGracefulServerProvider,

	// Infrastructure
	RedisClientProvider,
	NatsConnProvider,
	ErrorReporterProvider,
	NotificationBusProvider,
	NotifierProvider,
	NotificationSubscriberProvider,
	CacheTiersProvider,
	BackendClientProvider,
	AuthAPIProvider,

	// Application services
	CacheServiceProvider,
	ErrorHandlerProvider,
	TokenVerifierProvider,

	// HTTP edge
	RateLimiterProvider,
	CSRFStoreProvider,
	SecurityProvider,
	RouteHandlerProvider,
	APIProvider,

	ReadinessProvider,
	GRPCServerProvider,
	NewApp,
)
