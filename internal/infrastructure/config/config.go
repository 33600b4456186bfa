package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "HMB_"
	defaultConfigPath = "configs/config.yaml"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server       ServerConfig       `koanf:"server"`
	Database     DatabaseConfig     `koanf:"database"`
	Redis        RedisConfig        `koanf:"redis"`
	Storage      StorageConfig      `koanf:"storage"`
	Bidding      BiddingConfig      `koanf:"bidding"`
	Currency     CurrencyConfig     `koanf:"currency"`
	Pricing      PricingConfig      `koanf:"pricing"`
	Notification NotificationConfig `koanf:"notification"`
	Geo          GeoConfig          `koanf:"geo"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Security     SecurityConfig     `koanf:"security"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// RedisConfig is optional; an empty URL disables the rate cache, attempt
// limiter and notification retry queue.
type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Driver string `koanf:"driver"` // postgres | memory
}

type BiddingConfig struct {
	// Bid attempts allowed per bidder inside AttemptWindow
	AttemptLimit  int           `koanf:"attempt_limit"`
	AttemptWindow time.Duration `koanf:"attempt_window"`

	// Currencies every bid is normalized into; the first is the ranking currency
	Currencies []string `koanf:"currencies"`
}

type CurrencyConfig struct {
	CacheTTL      time.Duration `koanf:"cache_ttl"`
	LookupTimeout time.Duration `koanf:"lookup_timeout"`
	TrendWindow   time.Duration `koanf:"trend_window"`
}

type PricingConfig struct {
	DefaultQualityScore float64       `koanf:"default_quality_score"`
	RatingTimeout       time.Duration `koanf:"rating_timeout"`
}

type NotificationConfig struct {
	Workers       int           `koanf:"workers"`
	QueueSize     int           `koanf:"queue_size"`
	SendTimeout   time.Duration `koanf:"send_timeout"`
	RatePerSecond float64       `koanf:"rate_per_second"`
	Burst         int           `koanf:"burst"`
	RetryInterval time.Duration `koanf:"retry_interval"`
	MaxAttempts   int           `koanf:"max_attempts"`

	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

type GeoConfig struct {
	DefaultRadiusKM float64 `koanf:"default_radius_km"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	ServiceName  string  `koanf:"service_name"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

type SecurityConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

// Defaults returns the configuration used when nothing overrides it
func Defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "postgres",
		},
		Bidding: BiddingConfig{
			AttemptLimit:  10,
			AttemptWindow: time.Minute,
			Currencies:    []string{"USD", "COP"},
		},
		Currency: CurrencyConfig{
			CacheTTL:      5 * time.Minute,
			LookupTimeout: 500 * time.Millisecond,
			TrendWindow:   7 * 24 * time.Hour,
		},
		Pricing: PricingConfig{
			DefaultQualityScore: 3.5,
			RatingTimeout:       300 * time.Millisecond,
		},
		Notification: NotificationConfig{
			Workers:         4,
			QueueSize:       1024,
			SendTimeout:     2 * time.Second,
			RatePerSecond:   200,
			Burst:           50,
			RetryInterval:   30 * time.Second,
			MaxAttempts:     5,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Geo: GeoConfig{
			DefaultRadiusKM: 25,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "handyman-marketplace",
			SamplingRate: 0.1,
		},
	}
}

// Load reads defaults, then configs/config.yaml (or HMB_CONFIG_FILE) when
// present, then HMB_ environment variables.
func Load() (*Config, error) {
	path := os.Getenv(envPrefix + "CONFIG_FILE")
	if path == "" {
		path = defaultConfigPath
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit config file path
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var sections = []string{
	"server", "database", "redis", "storage", "bidding", "currency",
	"pricing", "notification", "geo", "telemetry", "security",
}

// envKey maps HMB_DATABASE_MAX_OPEN_CONNS to database.max_open_conns. Only
// the separator after a known section becomes a dot.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, section := range sections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// Validate rejects configurations the services cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres storage driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	if len(c.Bidding.Currencies) == 0 {
		errs = append(errs, errors.New("bidding.currencies cannot be empty"))
	}
	if c.Bidding.AttemptLimit <= 0 || c.Bidding.AttemptWindow <= 0 {
		errs = append(errs, errors.New("bidding.attempt_limit and bidding.attempt_window must be positive"))
	}
	if c.Currency.LookupTimeout <= 0 {
		errs = append(errs, errors.New("currency.lookup_timeout must be positive"))
	}
	if c.Pricing.DefaultQualityScore < 0 || c.Pricing.DefaultQualityScore > 5 {
		errs = append(errs, errors.New("pricing.default_quality_score must be within 0..5"))
	}
	if c.Notification.Workers <= 0 || c.Notification.QueueSize <= 0 {
		errs = append(errs, errors.New("notification.workers and notification.queue_size must be positive"))
	}
	if c.Notification.MaxAttempts <= 0 {
		errs = append(errs, errors.New("notification.max_attempts must be positive"))
	}
	if c.Geo.DefaultRadiusKM <= 0 {
		errs = append(errs, errors.New("geo.default_radius_km must be positive"))
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether the service runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
