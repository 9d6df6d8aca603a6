package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Name         string `yaml:"name"`
	Env          string `yaml:"env"`
	Port         string `yaml:"port"`
	BaseURL      string `yaml:"base_url"`
	ShopName     string `yaml:"shop_name"`
	SupportEmail string `yaml:"support_email"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	// PriceIDs maps the env key (STRIPE_PRICE_ID_*) to the provider price reference.
	PriceIDs map[string]string `yaml:"price_ids"`
}

type StorageConfig struct {
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	UseSSL        bool   `yaml:"use_ssl"`
	Bucket        string `yaml:"bucket"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
	BootstrapLogin    string        `yaml:"bootstrap_login"`
	BootstrapPassword string        `yaml:"bootstrap_password"`
	BootstrapName     string        `yaml:"bootstrap_name"`
	SecureCookie      bool          `yaml:"secure_cookie"`
}

type ReconcileConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BaseBackoff  time.Duration `yaml:"base_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
}

type Config struct {
	App       AppConfig       `yaml:"app"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Stripe    StripeConfig    `yaml:"stripe"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

const priceEnvPrefix = "STRIPE_PRICE_ID"

func defaults() Config {
	return Config{
		App: AppConfig{
			Name: "nfc-store",
			Env:  "development",
			Port: "8080",
		},
		Postgres: PostgresConfig{
			Port:            "5432",
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MigrationsPath:  "migrations",
		},
		Stripe: StripeConfig{PriceIDs: map[string]string{}},
		Storage: StorageConfig{
			UseSSL: true,
			Bucket: "logos",
		},
		Auth: AuthConfig{
			TokenTTL:      24 * time.Hour,
			BootstrapName: "Super Admin",
		},
		Reconcile: ReconcileConfig{
			PollInterval: 15 * time.Second,
			BatchSize:    20,
			MaxAttempts:  10,
			BaseBackoff:  30 * time.Second,
			MaxBackoff:   time.Hour,
		},
	}
}

// NewConfig loads .env (if present), then the optional YAML file named by
// CONFIG_FILE, then environment variables, which win over both.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg, os.Environ()); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	if cfg.Stripe.PriceIDs == nil {
		cfg.Stripe.PriceIDs = map[string]string{}
	}

	return nil
}

func applyEnv(cfg *Config, environ []string) error {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			env[k] = v
		}
	}

	str := func(key string, dst *string) {
		if v, ok := env[key]; ok && v != "" {
			*dst = v
		}
	}

	str("APP_NAME", &cfg.App.Name)
	str("APP_ENV", &cfg.App.Env)
	str("APP_PORT", &cfg.App.Port)
	str("APP_BASE_URL", &cfg.App.BaseURL)
	str("SHOP_NAME", &cfg.App.ShopName)
	str("SUPPORT_EMAIL", &cfg.App.SupportEmail)

	str("DB_HOST", &cfg.Postgres.Host)
	str("DB_PORT", &cfg.Postgres.Port)
	str("DB_USER", &cfg.Postgres.User)
	str("DB_PASSWORD", &cfg.Postgres.Password)
	str("DB_NAME", &cfg.Postgres.DBName)
	str("DB_SSLMODE", &cfg.Postgres.SSLMode)
	str("DB_MIGRATIONS_PATH", &cfg.Postgres.MigrationsPath)

	str("STRIPE_SECRET_KEY", &cfg.Stripe.SecretKey)
	str("STRIPE_WEBHOOK_SECRET", &cfg.Stripe.WebhookSecret)
	cfg.Stripe.WebhookSecret = strings.TrimSpace(cfg.Stripe.WebhookSecret)
	for k, v := range env {
		if strings.HasPrefix(k, priceEnvPrefix) && strings.TrimSpace(v) != "" {
			cfg.Stripe.PriceIDs[k] = strings.TrimSpace(v)
		}
	}

	str("STORAGE_ENDPOINT", &cfg.Storage.Endpoint)
	str("STORAGE_ACCESS_KEY", &cfg.Storage.AccessKey)
	str("STORAGE_SECRET_KEY", &cfg.Storage.SecretKey)
	str("STORAGE_BUCKET_LOGOS", &cfg.Storage.Bucket)
	str("STORAGE_PUBLIC_BASE_URL", &cfg.Storage.PublicBaseURL)

	str("AUTH_JWT_SECRET", &cfg.Auth.JWTSecret)
	str("BOOTSTRAP_SUPERADMIN_LOGIN", &cfg.Auth.BootstrapLogin)
	str("BOOTSTRAP_SUPERADMIN_PASSWORD", &cfg.Auth.BootstrapPassword)
	str("BOOTSTRAP_SUPERADMIN_NAME", &cfg.Auth.BootstrapName)

	boolVars := map[string]*bool{
		"STORAGE_USE_SSL":    &cfg.Storage.UseSSL,
		"AUTH_SECURE_COOKIE": &cfg.Auth.SecureCookie,
	}
	for key, dst := range boolVars {
		if v, ok := env[key]; ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = b
		}
	}

	int32Vars := map[string]*int32{
		"DB_MAX_CONNS": &cfg.Postgres.MaxConns,
		"DB_MIN_CONNS": &cfg.Postgres.MinConns,
	}
	for key, dst := range int32Vars {
		if v, ok := env[key]; ok && v != "" {
			n, err := strconv.ParseInt(v, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = int32(n)
		}
	}

	intVars := map[string]*int{
		"RECONCILE_BATCH_SIZE":   &cfg.Reconcile.BatchSize,
		"RECONCILE_MAX_ATTEMPTS": &cfg.Reconcile.MaxAttempts,
	}
	for key, dst := range intVars {
		if v, ok := env[key]; ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
	}

	durationVars := map[string]*time.Duration{
		"DB_MAX_CONN_LIFETIME":    &cfg.Postgres.MaxConnLifetime,
		"AUTH_TOKEN_TTL":          &cfg.Auth.TokenTTL,
		"RECONCILE_POLL_INTERVAL": &cfg.Reconcile.PollInterval,
		"RECONCILE_BASE_BACKOFF":  &cfg.Reconcile.BaseBackoff,
		"RECONCILE_MAX_BACKOFF":   &cfg.Reconcile.MaxBackoff,
	}
	for key, dst := range durationVars {
		if v, ok := env[key]; ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}

	return nil
}

func (c *Config) validate() error {
	var missing []string
	if c.Postgres.Host == "" {
		missing = append(missing, "DB_HOST")
	}
	if c.Postgres.User == "" {
		missing = append(missing, "DB_USER")
	}
	if c.Postgres.DBName == "" {
		missing = append(missing, "DB_NAME")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Reconcile.MaxAttempts < 1 {
		return errors.New("RECONCILE_MAX_ATTEMPTS must be at least 1")
	}

	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}
