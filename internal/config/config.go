package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the YAML config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

type Config struct {
	App         AppConfig         `koanf:"app"`
	Postgres    PostgresConfig    `koanf:"postgres"`
	Log         LogConfig         `koanf:"log"`
	Auth        AuthConfig        `koanf:"auth"`
	Shipping    ShippingConfig    `koanf:"shipping"`
	Payment     PaymentConfig     `koanf:"payment"`
	Idempotency IdempotencyConfig `koanf:"idempotency"`
	NATS        NATSConfig        `koanf:"nats"`
}

type AppConfig struct {
	Port             string        `koanf:"port"`
	ReadTimeout      time.Duration `koanf:"read_timeout"`
	WriteTimeout     time.Duration `koanf:"write_timeout"`
	IdleTimeout      time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins      []string      `koanf:"cors_origins"`
	RateLimitReqs    int           `koanf:"rate_limit_requests"`
	RateLimitWindow  time.Duration `koanf:"rate_limit_window"`
	RateLimitEnabled bool          `koanf:"rate_limit_enabled"`
}

type PostgresConfig struct {
	Host            string        `koanf:"host"`
	Port            string        `koanf:"port"`
	User            string        `koanf:"user"`
	Password        string        `koanf:"password"`
	DBName          string        `koanf:"dbname"`
	SSLMode         string        `koanf:"sslmode"`
	MaxConns        int32         `koanf:"max_conns"`
	MinConns        int32         `koanf:"min_conns"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

// ShippingConfig holds the tiered shipping rule. Shipping is free only for a
// subtotal strictly above FreeThreshold. Amounts are minor currency units.
type ShippingConfig struct {
	FreeThreshold int64 `koanf:"free_threshold"`
	FlatFee       int64 `koanf:"flat_fee"`
}

type PaymentConfig struct {
	Provider           string        `koanf:"provider"`
	BaseURL            string        `koanf:"base_url"`
	SecretKey          string        `koanf:"secret_key"`
	Currency           string        `koanf:"currency"`
	CallbackURL        string        `koanf:"callback_url"`
	Timeout            time.Duration `koanf:"timeout"`
	RequestsPerSecond  float64       `koanf:"requests_per_second"`
	SignatureHeader    string        `koanf:"signature_header"`
	WebhookBodyMaxSize int64         `koanf:"webhook_body_max_size"`
}

type IdempotencyConfig struct {
	// Dir is the Badger directory. Empty keeps keys in memory only.
	Dir string        `koanf:"dir"`
	TTL time.Duration `koanf:"ttl"`
}

type NATSConfig struct {
	// URL empty disables publishing to NATS; events are logged instead.
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Port:             "8080",
			ReadTimeout:      10 * time.Second,
			WriteTimeout:     15 * time.Second,
			IdleTimeout:      120 * time.Second,
			ShutdownTimeout:  15 * time.Second,
			CORSOrigins:      []string{},
			RateLimitReqs:    100,
			RateLimitWindow:  time.Minute,
			RateLimitEnabled: true,
		},
		Postgres: PostgresConfig{
			Port:            "5432",
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MigrationsPath:  "migrations",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Shipping: ShippingConfig{
			FreeThreshold: 5_000_000,
			FlatFee:       150_000,
		},
		Payment: PaymentConfig{
			Provider:           "paystack",
			BaseURL:            "https://api.paystack.co",
			Currency:           "NGN",
			Timeout:            15 * time.Second,
			RequestsPerSecond:  20,
			SignatureHeader:    "x-signature",
			WebhookBodyMaxSize: 1 << 20,
		},
		Idempotency: IdempotencyConfig{
			TTL: 24 * time.Hour,
		},
		NATS: NATSConfig{
			SubjectPrefix: "marketplace",
		},
	}
}

// envMappings maps environment variable names (lower-cased) to koanf keys.
var envMappings = map[string]string{
	"app_port":              "app.port",
	"app_cors_origins":      "app.cors_origins",
	"app_rate_limit":        "app.rate_limit_requests",
	"app_rate_limit_window": "app.rate_limit_window",
	"app_rate_limit_enable": "app.rate_limit_enabled",

	"db_host":              "postgres.host",
	"db_port":              "postgres.port",
	"db_user":              "postgres.user",
	"db_password":          "postgres.password",
	"db_name":              "postgres.dbname",
	"db_sslmode":           "postgres.sslmode",
	"db_max_conns":         "postgres.max_conns",
	"db_min_conns":         "postgres.min_conns",
	"db_max_conn_lifetime": "postgres.max_conn_lifetime",
	"db_migrations_path":   "postgres.migrations_path",

	"log_level":  "log.level",
	"log_format": "log.format",

	"jwt_secret": "auth.jwt_secret",

	"shipping_free_threshold": "shipping.free_threshold",
	"shipping_flat_fee":       "shipping.flat_fee",

	"payment_provider":     "payment.provider",
	"payment_base_url":     "payment.base_url",
	"payment_secret_key":   "payment.secret_key",
	"payment_currency":     "payment.currency",
	"payment_callback_url": "payment.callback_url",
	"payment_timeout":      "payment.timeout",
	"payment_rps":          "payment.requests_per_second",

	"idempotency_dir": "idempotency.dir",
	"idempotency_ttl": "idempotency.ttl",

	"nats_url":            "nats.url",
	"nats_subject_prefix": "nats.subject_prefix",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional .env file and the process environment, in that order.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := configFilePath(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Comma separated env values arrive as a single string.
	if origins, ok := k.Get("app.cors_origins").(string); ok && origins != "" {
		if err := k.Set("app.cors_origins", splitAndTrim(origins)); err != nil {
			return nil, fmt.Errorf("failed to parse cors origins: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func configFilePath() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, candidate := range []string{"config.yaml", "config.yml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Port == "" {
		errs = append(errs, errors.New("APP_PORT is required"))
	}
	if c.Postgres.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.Postgres.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.Postgres.DBName == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Payment.SecretKey == "" {
		errs = append(errs, errors.New("PAYMENT_SECRET_KEY is required"))
	}
	if c.Shipping.FreeThreshold < 0 || c.Shipping.FlatFee < 0 {
		errs = append(errs, errors.New("shipping amounts cannot be negative"))
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		errs = append(errs, fmt.Errorf("postgres min_conns (%d) exceeds max_conns (%d)", c.Postgres.MinConns, c.Postgres.MaxConns))
	}

	return errors.Join(errs...)
}
