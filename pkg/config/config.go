package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const defaultSQLitePath = "marketcore.db"

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Checkout     CheckoutConfig
	Settlement   SettlementConfig
	Events       EventsConfig
	Loyalty      LoyaltyConfig
	Cron         CronConfig
}

// Load reads the full runtime configuration.
func Load() (*Config, error) {
	return load(true)
}

// LoadForMigrations reads the configuration without requiring redis, which schema
// tooling never touches.
func LoadForMigrations() (*Config, error) {
	return load(false)
}

func load(requireRedis bool) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
		if cfg.DB.DSN == "" {
			cfg.DB.DSN = defaultSQLitePath
		}
	} else {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
		// Only single-instance sqlite deployments may run without redis.
		if requireRedis && !cfg.Redis.Configured() {
			return nil, fmt.Errorf("%s is required", EnvRedisURL)
		}
	}
	if err := cfg.Checkout.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARKETCORE_APP_ENV" required:"true"`
	Port         string `envconfig:"MARKETCORE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"MARKETCORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARKETCORE_LOG_WARN_STACK" default:"false"`
	// CORSOrigins lists storefront origins allowed to call the API.
	CORSOrigins []string `envconfig:"MARKETCORE_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MARKETCORE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETCORE_DB_DSN"`
	Driver string `envconfig:"MARKETCORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKETCORE_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKETCORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKETCORE_DB_USER"`
	LegacyPassword string `envconfig:"MARKETCORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKETCORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKETCORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKETCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the connection targets the embedded sqlite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, "sqlite")
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETCORE_REDIS_URL"`
	Address      string        `envconfig:"MARKETCORE_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Configured reports whether a redis endpoint was provided.
func (r RedisConfig) Configured() bool {
	return r.URL != "" || r.Address != ""
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MARKETCORE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MARKETCORE_AUTO_MIGRATE" default:"false"`
}

type CheckoutConfig struct {
	Currency       string          `envconfig:"MARKETCORE_CHECKOUT_CURRENCY" default:"USD"`
	FeeFlat        decimal.Decimal `envconfig:"MARKETCORE_CHECKOUT_FEE_FLAT" default:"0"`
	FeePercent     decimal.Decimal `envconfig:"MARKETCORE_CHECKOUT_FEE_PERCENT" default:"0"`
	ReplayWindow   int             `envconfig:"MARKETCORE_CHECKOUT_REPLAY_WINDOW" default:"5"`
	IdempotencyTTL time.Duration   `envconfig:"MARKETCORE_CHECKOUT_IDEMPOTENCY_TTL" default:"24h"`
}

func (c CheckoutConfig) validate() error {
	if c.FeeFlat.IsNegative() {
		return fmt.Errorf("%s must not be negative", EnvCheckoutFeeFlat)
	}
	if c.FeePercent.IsNegative() {
		return fmt.Errorf("%s must not be negative", EnvCheckoutFeePercent)
	}
	if len(strings.TrimSpace(c.Currency)) != 3 {
		return fmt.Errorf("%s must be a 3-letter currency code", EnvCheckoutCurrency)
	}
	return nil
}

type SettlementConfig struct {
	BatchSize int           `envconfig:"MARKETCORE_SETTLEMENT_BATCH_SIZE" default:"500"`
	Interval  time.Duration `envconfig:"MARKETCORE_SETTLEMENT_INTERVAL" default:"1h"`
	LockKey   string        `envconfig:"MARKETCORE_SETTLEMENT_LOCK_KEY" default:"marketcore:cron:lock"`
	LockTTL   time.Duration `envconfig:"MARKETCORE_SETTLEMENT_LOCK_TTL" default:"30m"`
}

type CronConfig struct {
	NotificationRetentionDays int `envconfig:"MARKETCORE_CRON_NOTIFICATION_RETENTION_DAYS" default:"30"`
	OrderExpiryDays           int `envconfig:"MARKETCORE_CRON_ORDER_EXPIRY_DAYS" default:"10"`
	ReconcilePageSize         int `envconfig:"MARKETCORE_CRON_RECONCILE_PAGE_SIZE" default:"200"`
	MaxSettlementBatches      int `envconfig:"MARKETCORE_CRON_MAX_SETTLEMENT_BATCHES" default:"20"`
}

type EventsConfig struct {
	AnomalyWindow            time.Duration `envconfig:"MARKETCORE_EVENTS_ANOMALY_WINDOW" default:"10m"`
	FulfillmentFailureLimit  int           `envconfig:"MARKETCORE_EVENTS_FULFILLMENT_FAILURE_LIMIT" default:"20"`
	RefundRequestLimit       int           `envconfig:"MARKETCORE_EVENTS_REFUND_REQUEST_LIMIT" default:"10"`
	InsufficientBalanceLimit int           `envconfig:"MARKETCORE_EVENTS_INSUFFICIENT_BALANCE_LIMIT" default:"50"`
}

type LoyaltyConfig struct {
	// Tiers are "name:min_spend:discount_percent" triples.
	Tiers []string `envconfig:"MARKETCORE_LOYALTY_TIERS" default:"bronze:0:0,silver:100:2,gold:500:5"`
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
