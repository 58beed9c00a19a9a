package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix is applied by envconfig when resolving variables.
	EnvPrefix = "recurforge"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "RECURFORGE_DB_DSN"
	EnvDBHost = "RECURFORGE_DB_HOST"
	EnvDBUser = "RECURFORGE_DB_USER"
	EnvDBName = "RECURFORGE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthTokenConfig
	Capture      CaptureTokenConfig
	Billing      BillingConfig
	PayPal       PayPalConfig
	Square       SquareConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"RECURFORGE_APP_ENV" required:"true"`
	Port         string `envconfig:"RECURFORGE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"RECURFORGE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RECURFORGE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"RECURFORGE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"RECURFORGE_DB_DSN"`
	Driver string `envconfig:"RECURFORGE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"RECURFORGE_DB_HOST"`
	LegacyPort     int    `envconfig:"RECURFORGE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RECURFORGE_DB_USER"`
	LegacyPassword string `envconfig:"RECURFORGE_DB_PASSWORD"`
	LegacyName     string `envconfig:"RECURFORGE_DB_NAME"`
	LegacySSLMode  string `envconfig:"RECURFORGE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RECURFORGE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RECURFORGE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RECURFORGE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RECURFORGE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"RECURFORGE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"RECURFORGE_REDIS_ADDR"`
	Password     string        `envconfig:"RECURFORGE_REDIS_PASSWORD"`
	DB           int           `envconfig:"RECURFORGE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RECURFORGE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RECURFORGE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RECURFORGE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RECURFORGE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RECURFORGE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// AuthTokenConfig signs the access tokens that identify customers and
// back-office staff on the account endpoints.
type AuthTokenConfig struct {
	Secret string        `envconfig:"RECURFORGE_AUTH_TOKEN_SECRET" required:"true"`
	Issuer string        `envconfig:"RECURFORGE_AUTH_TOKEN_ISSUER" default:"recurforge"`
	TTL    time.Duration `envconfig:"RECURFORGE_AUTH_TOKEN_TTL" default:"24h"`
}

// CaptureTokenConfig signs the short-lived tokens handed to buyers at
// checkout and presented back on the capture endpoint.
type CaptureTokenConfig struct {
	Secret     string        `envconfig:"RECURFORGE_CAPTURE_TOKEN_SECRET" required:"true"`
	Issuer     string        `envconfig:"RECURFORGE_CAPTURE_TOKEN_ISSUER" default:"recurforge"`
	TTL        time.Duration `envconfig:"RECURFORGE_CAPTURE_TOKEN_TTL" default:"1h"`
	NonceTTL   time.Duration `envconfig:"RECURFORGE_CAPTURE_NONCE_TTL" default:"24h"`
	WebhookTTL time.Duration `envconfig:"RECURFORGE_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

// BillingConfig carries the store-wide pricing policy knobs.
type BillingConfig struct {
	Currency         string `envconfig:"RECURFORGE_BILLING_CURRENCY" default:"USD"`
	Mode             string `envconfig:"RECURFORGE_BILLING_MODE" default:"test"`
	OneTimeDiscounts bool   `envconfig:"RECURFORGE_BILLING_ONE_TIME_DISCOUNTS" default:"false"`
	TaxInclusive     bool   `envconfig:"RECURFORGE_BILLING_TAX_INCLUSIVE" default:"false"`
	DefaultTaxRate   string `envconfig:"RECURFORGE_BILLING_DEFAULT_TAX_RATE" default:"0"`
}

type PayPalConfig struct {
	ClientID  string `envconfig:"RECURFORGE_PAYPAL_CLIENT_ID"`
	Secret    string `envconfig:"RECURFORGE_PAYPAL_SECRET"`
	Env       string `envconfig:"RECURFORGE_PAYPAL_ENV" default:"sandbox"`
	WebhookID string `envconfig:"RECURFORGE_PAYPAL_WEBHOOK_ID"`
}

// Environment returns the normalized PayPal environment (sandbox/live).
func (p PayPalConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(p.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type SquareConfig struct {
	AccessToken   string `envconfig:"RECURFORGE_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string `envconfig:"RECURFORGE_SQUARE_WEBHOOK_SECRET"`
	LocationID    string `envconfig:"RECURFORGE_SQUARE_LOCATION_ID"`
	Env           string `envconfig:"RECURFORGE_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"RECURFORGE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"RECURFORGE_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"RECURFORGE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"RECURFORGE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"RECURFORGE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic         string `envconfig:"RECURFORGE_PUBSUB_ORDERS_TOPIC" default:"rf-order-events"`
	OrdersSubscription  string `envconfig:"RECURFORGE_PUBSUB_ORDERS_SUBSCRIPTION"`
	BillingTopic        string `envconfig:"RECURFORGE_PUBSUB_BILLING_TOPIC" default:"rf-billing-events"`
	BillingSubscription string `envconfig:"RECURFORGE_PUBSUB_BILLING_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"RECURFORGE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"RECURFORGE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"RECURFORGE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"RECURFORGE_CRON_INTERVAL" default:"1h"`
	ReconcileLimit    int           `envconfig:"RECURFORGE_CRON_RECONCILE_LIMIT" default:"250"`
	ReconcileLookback time.Duration `envconfig:"RECURFORGE_CRON_RECONCILE_LOOKBACK" default:"168h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
