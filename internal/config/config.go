package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/clinic-api/internal/querycache"
	"github.com/jwalitptl/clinic-api/pkg/messaging/redis"
	"github.com/jwalitptl/clinic-api/pkg/security"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	CORS      CORSConfig      `mapstructure:"cors"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Log       LogConfig       `mapstructure:"log"`
	Security  SecurityConfig  `mapstructure:"security"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver selects the gateway: postgres or memory.
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type CacheConfig struct {
	StandardStaleTime time.Duration            `mapstructure:"standard_stale_time"`
	FinancialStale    time.Duration            `mapstructure:"financial_stale_time"`
	StaleTimes        map[string]time.Duration `mapstructure:"stale_times"`
	GCTime            time.Duration            `mapstructure:"gc_time"`
	CleanupInterval   time.Duration            `mapstructure:"cleanup_interval"`
	QueryRetries      int                      `mapstructure:"query_retries"`
	MutationRetries   int                      `mapstructure:"mutation_retries"`
	RetryDelay        time.Duration            `mapstructure:"retry_delay"`
	FetchTimeout      time.Duration            `mapstructure:"fetch_timeout"`
	RollbackMode      string                   `mapstructure:"rollback_mode"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type SMTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// AlertTo receives mutation failure digests; empty disables them.
	AlertTo string `mapstructure:"alert_to"`
}

type WorkersConfig struct {
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	BadgeTTL          time.Duration `mapstructure:"badge_ttl"`
}

type SecurityConfig struct {
	// EncryptionKey is a hex AES key for diagnoses at rest; empty stores
	// them as plain text.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// Key decodes the encryption key, returning nil when none is set.
func (c *SecurityConfig) Key() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	return security.ParseHexKey(c.EncryptionKey)
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// secrets are read from the environment after the file, so they never need
// to live in config.yml.
type secrets struct {
	DBPassword    string `envconfig:"DB_PASSWORD"`
	DBHost        string `envconfig:"DB_HOST"`
	JWTSecret     string `envconfig:"JWT_SECRET"`
	RedisURL      string `envconfig:"REDIS_URL"`
	SMTPPassword  string `envconfig:"SMTP_PASSWORD"`
	EncryptionKey string `envconfig:"ENCRYPTION_KEY"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)

	v.SetDefault("jwt.issuer", "clinic-api")

	v.SetDefault("cache.standard_stale_time", querycache.StandardStaleTime)
	v.SetDefault("cache.financial_stale_time", querycache.FinancialStaleTime)
	v.SetDefault("cache.gc_time", 10*time.Minute)
	v.SetDefault("cache.cleanup_interval", time.Minute)
	v.SetDefault("cache.query_retries", 1)
	v.SetDefault("cache.mutation_retries", 1)
	v.SetDefault("cache.retry_delay", 500*time.Millisecond)
	v.SetDefault("cache.fetch_timeout", 10*time.Second)
	v.SetDefault("cache.rollback_mode", "snapshot")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"})

	v.SetDefault("smtp.port", 587)

	v.SetDefault("workers.reconnect_interval", 10*time.Second)
	v.SetDefault("workers.badge_ttl", 5*time.Minute)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yml from the usual locations, then overlays
// CLINIC_* secrets from the environment.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app/config")
	return load(v, true)
}

// LoadFile reads one explicit config file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v, false)
}

func load(v *viper.Viper, optional bool) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("clinic")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !optional || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var s secrets
	if err := envconfig.Process("clinic", &s); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.applySecrets(s)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applySecrets(s secrets) {
	if s.DBPassword != "" {
		c.Database.Password = s.DBPassword
	}
	if s.DBHost != "" {
		c.Database.Host = s.DBHost
	}
	if s.JWTSecret != "" {
		c.JWT.Secret = s.JWTSecret
	}
	if s.RedisURL != "" {
		c.Redis.URL = s.RedisURL
		c.Redis.Enabled = true
	}
	if s.SMTPPassword != "" {
		c.SMTP.Password = s.SMTPPassword
	}
	if s.EncryptionKey != "" {
		c.Security.EncryptionKey = s.EncryptionKey
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if _, err := querycache.ParseRollbackMode(c.Cache.RollbackMode); err != nil {
		return err
	}
	for kind := range c.Cache.StaleTimes {
		if _, err := querycache.ParseKind(kind); err != nil {
			return fmt.Errorf("cache.stale_times: %w", err)
		}
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt secret is required, set CLINIC_JWT_SECRET")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return errors.New("redis is enabled but no url is set")
	}
	if _, err := c.Security.Key(); err != nil {
		return fmt.Errorf("security.encryption_key: %w", err)
	}
	return nil
}

// CacheOptions converts the cache section into querycache options.
func (c *CacheConfig) CacheOptions() querycache.Options {
	opts := querycache.DefaultOptions()
	staleTimes := make(map[querycache.Kind]time.Duration, len(opts.StaleTimes))
	for kind, d := range opts.StaleTimes {
		switch d {
		case querycache.FinancialStaleTime:
			staleTimes[kind] = c.FinancialStale
		default:
			staleTimes[kind] = c.StandardStaleTime
		}
	}
	for kind, d := range c.StaleTimes {
		staleTimes[querycache.Kind(kind)] = d
	}
	opts.StaleTimes = staleTimes
	opts.DefaultStaleTime = c.StandardStaleTime
	opts.GCTime = c.GCTime
	opts.CleanupInterval = c.CleanupInterval
	opts.QueryRetries = c.QueryRetries
	opts.MutationRetries = c.MutationRetries
	opts.RetryDelay = c.RetryDelay
	opts.FetchTimeout = c.FetchTimeout
	opts.RollbackMode, _ = querycache.ParseRollbackMode(c.RollbackMode)
	return opts
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
