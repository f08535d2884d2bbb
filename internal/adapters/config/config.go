package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "STOREFRONT"

// ServerConfig holds listener settings.
type ServerConfig struct {
	HTTPPort            int `mapstructure:"http_port" validate:"required,min=1,max=65535"`
	GRPCPort            int `mapstructure:"grpc_port" validate:"min=0,max=65535"` // 0 disables the health server
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds" validate:"min=1"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds" validate:"min=0"` // 0 keeps SSE streams open
}

// APIConfig describes the external backend.
type APIConfig struct {
	BaseURL            string  `mapstructure:"base_url" validate:"required,url"`
	TimeoutSeconds     int     `mapstructure:"timeout_seconds" validate:"min=1"`
	Retries            int     `mapstructure:"retries" validate:"min=0,max=5"`
	RetryBackoffMs     int     `mapstructure:"retry_backoff_ms" validate:"min=0"`
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second" validate:"min=0"` // 0 disables the throttle
	RateLimitBurst     int     `mapstructure:"rate_limit_burst" validate:"min=0"`
}

// CacheConfig toggles and sizes the cache tiers.
type CacheConfig struct {
	DefaultTTLSeconds    int    `mapstructure:"default_ttl_seconds" validate:"min=1"`
	CatalogTTLSeconds    int    `mapstructure:"catalog_ttl_seconds" validate:"min=1"`
	MaxSize              int    `mapstructure:"max_size" validate:"min=1"`
	KeyPrefix            string `mapstructure:"key_prefix"`
	MemoryEnabled        bool   `mapstructure:"memory_enabled"`
	DiskEnabled          bool   `mapstructure:"disk_enabled"`
	DiskPath             string `mapstructure:"disk_path" validate:"required_if=DiskEnabled true"`
	RedisEnabled         bool   `mapstructure:"redis_enabled"`
	SweepIntervalSeconds int    `mapstructure:"sweep_interval_seconds" validate:"min=1"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
}

// NATSConfig holds the error reporting sink settings.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix" validate:"required"`
}

// SecurityConfig drives the request security pipeline.
type SecurityConfig struct {
	CSRFEnabled            bool     `mapstructure:"csrf_enabled"`
	RateLimitEnabled       bool     `mapstructure:"rate_limit_enabled"`
	SanitizationEnabled    bool     `mapstructure:"sanitization_enabled"`
	RateLimitWindowSeconds int      `mapstructure:"rate_limit_window_seconds" validate:"min=1"`
	RateLimitMax           int      `mapstructure:"rate_limit_max" validate:"min=1"`
	TrustedOrigins         []string `mapstructure:"trusted_origins"`
	AllowedMethods         []string `mapstructure:"allowed_methods" validate:"min=1,dive,oneof=GET HEAD POST PUT PATCH DELETE OPTIONS"`
	AllowedHeaders         []string `mapstructure:"allowed_headers"`
	CORSMaxAgeSeconds      int      `mapstructure:"cors_max_age_seconds" validate:"min=0"`
	CSRFMaxTokens          int      `mapstructure:"csrf_max_tokens" validate:"min=1"`
	MaxBodyBytes           int64    `mapstructure:"max_body_bytes" validate:"min=1"`
	TrustProxy             bool     `mapstructure:"trust_proxy"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string   `mapstructure:"level" validate:"oneof=debug info warn error"`
	Sinks []string `mapstructure:"sinks" validate:"min=1"` // "stdout" or a file path
}

// AuthConfig holds token and session settings.
type AuthConfig struct {
	TokenCacheTTLSeconds int    `mapstructure:"token_cache_ttl_seconds" validate:"min=1"`
	RefreshMarginSeconds int    `mapstructure:"refresh_margin_seconds" validate:"min=0"`
	RetryAfterRefresh    bool   `mapstructure:"retry_after_refresh"`
	SessionPath          string `mapstructure:"session_path"`
	SessionEncryptionKey string `mapstructure:"session_encryption_key" validate:"omitempty,hexadecimal,len=64"`
}

// ErrorsConfig controls remote reporting and user notification.
type ErrorsConfig struct {
	ReportEnabled        bool `mapstructure:"report_enabled"`
	NotifyEnabled        bool `mapstructure:"notify_enabled"`
	QueueSize            int  `mapstructure:"queue_size" validate:"min=1"`
	FlushIntervalSeconds int  `mapstructure:"flush_interval_seconds" validate:"min=1"`
}

// ProvidersConfig names the third-party providers the storefront is configured with.
type ProvidersConfig struct {
	Payment string `mapstructure:"payment" validate:"oneof=stripe paypal mock"`
	Email   string `mapstructure:"email" validate:"oneof=smtp sendgrid mock"`
	Storage string `mapstructure:"storage" validate:"oneof=local s3 mock"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	ServiceName            string `mapstructure:"service_name" validate:"required"`
	Version                string `mapstructure:"version"`
	Environment            string `mapstructure:"environment" validate:"oneof=development staging production test"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" validate:"min=1"`
}

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	API       APIConfig       `mapstructure:"api"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Security  SecurityConfig  `mapstructure:"security"`
	Log       LogConfig       `mapstructure:"log"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Errors    ErrorsConfig    `mapstructure:"errors"`
	Features  map[string]bool `mapstructure:"features"`
	Providers ProvidersConfig `mapstructure:"providers"`
	App       AppConfig       `mapstructure:"app"`
}

// FeatureEnabled reports whether a named feature flag is on.
func (c *Config) FeatureEnabled(name string) bool {
	return c.Features[strings.ToLower(name)]
}

// Provider gives access to the current configuration. Reloads swap the pointer.
type Provider interface {
	Get() *Config
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against its schema.
func Validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 0)

	v.SetDefault("api.base_url", "http://localhost:5000/api")
	v.SetDefault("api.timeout_seconds", 10)
	v.SetDefault("api.retries", 2)
	v.SetDefault("api.retry_backoff_ms", 200)
	v.SetDefault("api.rate_limit_per_second", 0)
	v.SetDefault("api.rate_limit_burst", 10)

	v.SetDefault("cache.default_ttl_seconds", 300)
	v.SetDefault("cache.catalog_ttl_seconds", 300)
	v.SetDefault("cache.max_size", 1000)
	v.SetDefault("cache.key_prefix", "ecommerce:")
	v.SetDefault("cache.memory_enabled", true)
	v.SetDefault("cache.disk_enabled", false)
	v.SetDefault("cache.disk_path", "/tmp/storefront-edge/cache")
	v.SetDefault("cache.redis_enabled", false)
	v.SetDefault("cache.sweep_interval_seconds", 60)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "storefront")

	v.SetDefault("security.csrf_enabled", true)
	v.SetDefault("security.rate_limit_enabled", true)
	v.SetDefault("security.sanitization_enabled", true)
	v.SetDefault("security.rate_limit_window_seconds", 900)
	v.SetDefault("security.rate_limit_max", 100)
	v.SetDefault("security.trusted_origins", []string{"http://localhost:3000"})
	v.SetDefault("security.allowed_methods", []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("security.allowed_headers", []string{"Content-Type", "Authorization", "X-CSRF-Token", "X-Requested-With", "X-Request-ID"})
	v.SetDefault("security.cors_max_age_seconds", 86400)
	v.SetDefault("security.csrf_max_tokens", 1000)
	v.SetDefault("security.max_body_bytes", 1<<20)
	v.SetDefault("security.trust_proxy", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.sinks", []string{"stdout"})

	v.SetDefault("auth.token_cache_ttl_seconds", 300)
	v.SetDefault("auth.refresh_margin_seconds", 60)
	v.SetDefault("auth.retry_after_refresh", true)
	v.SetDefault("auth.session_path", "")
	v.SetDefault("auth.session_encryption_key", "")

	v.SetDefault("errors.report_enabled", false)
	v.SetDefault("errors.notify_enabled", true)
	v.SetDefault("errors.queue_size", 256)
	v.SetDefault("errors.flush_interval_seconds", 5)

	v.SetDefault("features", map[string]bool{})
	v.SetDefault("providers.payment", "mock")
	v.SetDefault("providers.email", "mock")
	v.SetDefault("providers.storage", "local")

	v.SetDefault("app.service_name", "storefront-edge")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.shutdown_timeout_seconds", 15)
}

// NewViper returns a viper instance with defaults, file lookup and env binding.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigName(getEnv("VIPER_CONFIG_NAME", "config"))
	v.SetConfigType("yaml")
	v.AddConfigPath(getEnv("VIPER_CONFIG_PATH", "/app/config"))
	v.AddConfigPath(".")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")) // server.http_port -> STOREFRONT_SERVER_HTTP_PORT
	return v
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// viperProvider implements Provider and keeps the last valid configuration.
type viperProvider struct {
	config atomic.Pointer[Config]
	v      *viper.Viper
	logger *zap.Logger // bootstrap logger, domain.Logger depends on config
}

// NewViperProvider loads configuration from file and environment and sets up
// hot reloading on SIGHUP and on file change. A reload that fails validation
// keeps the previous configuration.
func NewViperProvider(appCtx context.Context, logger *zap.Logger) (Provider, error) {
	v := NewViper()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			logger.Warn("Config file not found; relying on defaults and environment variables", zap.Error(err))
		} else {
			logger.Error("Failed to read config file", zap.Error(err))
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := Load(v)
	if err != nil {
		logger.Error("Failed to load config", zap.Error(err))
		return nil, err
	}

	p := &viperProvider{v: v, logger: logger}
	p.config.Store(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic recovered in SIGHUP handler goroutine",
					zap.String("goroutine_name", "SIGHUPConfigReloader"),
					zap.Any("panic_info", r),
					zap.String("stacktrace", string(debug.Stack())),
				)
			}
		}()
		defer signal.Stop(sigChan)
		for {
			select {
			case <-sigChan:
				p.logger.Info("SIGHUP received, reloading configuration")
				if err := v.ReadInConfig(); err != nil {
					p.logger.Error("Failed to re-read config file on SIGHUP", zap.Error(err))
					continue
				}
				p.reload("sighup")
			case <-appCtx.Done():
				return
			}
		}
	}()

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("Panic recovered in OnConfigChange callback",
						zap.String("event_name", e.Name),
						zap.Any("panic_info", r),
						zap.String("stacktrace", string(debug.Stack())),
					)
				}
			}()
			p.logger.Info("Config file changed", zap.String("name", e.Name), zap.String("op", e.Op.String()))
			p.reload("file_change")
		})
		v.WatchConfig()
	}

	p.logger.Info("Configuration loaded successfully", zap.String("config_file_used", v.ConfigFileUsed()))
	return p, nil
}

func (p *viperProvider) reload(trigger string) {
	cfg, err := Load(p.v)
	if err != nil {
		p.logger.Error("Rejected reloaded configuration", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	p.config.Store(cfg)
	p.logger.Info("Configuration reloaded", zap.String("trigger", trigger))
}

// Get returns the current configuration.
func (p *viperProvider) Get() *Config {
	return p.config.Load()
}

// staticProvider serves a fixed configuration. Used by the CLI and tests.
type staticProvider struct {
	config *Config
}

// NewStaticProvider wraps cfg in a Provider.
func NewStaticProvider(cfg *Config) Provider {
	return &staticProvider{config: cfg}
}

func (p *staticProvider) Get() *Config { return p.config }

// Defaults returns the default configuration without reading files or signals.
func Defaults() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	return Load(v)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}
