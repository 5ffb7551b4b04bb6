package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	HTTP         HTTPConfig
	FeatureFlags FeatureFlagsConfig
	Cart         CartConfig
	Inventory    InventoryConfig
	Catalog      CatalogConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Cart.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CARTRESERVE_APP_ENV" required:"true"`
	Port         string `envconfig:"CARTRESERVE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CARTRESERVE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CARTRESERVE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"CARTRESERVE_LOG_FORMAT" default:"json"`
	// MetricsAddr exposes /metrics on background workers; empty disables the listener.
	MetricsAddr  string `envconfig:"CARTRESERVE_METRICS_ADDR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "development")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"CARTRESERVE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CARTRESERVE_DB_DSN"`
	Driver string `envconfig:"CARTRESERVE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CARTRESERVE_DB_HOST"`
	LegacyPort     int    `envconfig:"CARTRESERVE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CARTRESERVE_DB_USER"`
	LegacyPassword string `envconfig:"CARTRESERVE_DB_PASSWORD"`
	LegacyName     string `envconfig:"CARTRESERVE_DB_NAME"`
	LegacySSLMode  string `envconfig:"CARTRESERVE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CARTRESERVE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CARTRESERVE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CARTRESERVE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CARTRESERVE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// Lock waits past these bounds surface as Unavailable.
	StatementTimeout time.Duration `envconfig:"CARTRESERVE_DB_STATEMENT_TIMEOUT" default:"5s"`
	LockTimeout      time.Duration `envconfig:"CARTRESERVE_DB_LOCK_TIMEOUT" default:"2s"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CARTRESERVE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CARTRESERVE_REDIS_ADDR"`
	Password     string        `envconfig:"CARTRESERVE_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARTRESERVE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARTRESERVE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CARTRESERVE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CARTRESERVE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARTRESERVE_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"CARTRESERVE_REDIS_WRITE_TIMEOUT" default:"3s"`
}

// JWTConfig verifies bearer tokens minted by the identity service.
type JWTConfig struct {
	Secret string        `envconfig:"CARTRESERVE_JWT_SECRET" required:"true"`
	Issuer string        `envconfig:"CARTRESERVE_JWT_ISSUER" required:"true"`
	Leeway time.Duration `envconfig:"CARTRESERVE_JWT_LEEWAY" default:"30s"`
}

type HTTPConfig struct {
	AllowedOrigins    []string      `envconfig:"CARTRESERVE_HTTP_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	RequestTimeout    time.Duration `envconfig:"CARTRESERVE_HTTP_REQUEST_TIMEOUT" default:"10s"`
	RateLimitPerSec   float64       `envconfig:"CARTRESERVE_HTTP_RATE_LIMIT_PER_SEC" default:"10"`
	RateLimitBurst    int           `envconfig:"CARTRESERVE_HTTP_RATE_LIMIT_BURST" default:"20"`
	IdempotencyTTL    time.Duration `envconfig:"CARTRESERVE_HTTP_IDEMPOTENCY_TTL" default:"24h"`
	ShutdownTimeout   time.Duration `envconfig:"CARTRESERVE_HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
	GuestCartCookie   string        `envconfig:"CARTRESERVE_HTTP_GUEST_CART_COOKIE" default:"cr_cart"`
	GuestCookieMaxAge time.Duration `envconfig:"CARTRESERVE_HTTP_GUEST_COOKIE_MAX_AGE" default:"168h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CARTRESERVE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CARTRESERVE_AUTO_MIGRATE" default:"false"`
}

// CartConfig holds pricing rules applied by the totals calculator.
type CartConfig struct {
	Currency              string          `envconfig:"CARTRESERVE_CART_CURRENCY" default:"VND"`
	TaxRate               decimal.Decimal `envconfig:"CARTRESERVE_CART_TAX_RATE" default:"0.10"`
	FreeShippingThreshold int64           `envconfig:"CARTRESERVE_CART_FREE_SHIPPING_THRESHOLD" default:"500000"`
	ShippingFee           int64           `envconfig:"CARTRESERVE_CART_SHIPPING_FEE" default:"30000"`
	GuestRetention        time.Duration   `envconfig:"CARTRESERVE_CART_GUEST_RETENTION" default:"168h"`
	MaxLineQuantity       int             `envconfig:"CARTRESERVE_CART_MAX_LINE_QUANTITY" default:"999"`
}

func (c CartConfig) validate() error {
	if _, err := currency.ParseISO(c.Currency); err != nil {
		return fmt.Errorf("invalid %s %q: %w", EnvCartCurrency, c.Currency, err)
	}
	if c.TaxRate.IsNegative() {
		return fmt.Errorf("%s must be non-negative", EnvCartTaxRate)
	}
	if c.FreeShippingThreshold < 0 || c.ShippingFee < 0 {
		return fmt.Errorf("shipping amounts must be non-negative")
	}
	if c.GuestRetention <= 0 {
		return fmt.Errorf("%s must be positive", EnvCartGuestRetention)
	}
	return nil
}

// CurrencyUnit returns the parsed ISO currency for price snapshots.
func (c CartConfig) CurrencyUnit() currency.Unit {
	unit, err := currency.ParseISO(c.Currency)
	if err != nil {
		return currency.MustParseISO("VND")
	}
	return unit
}

type InventoryConfig struct {
	DefaultLowStockThreshold int `envconfig:"CARTRESERVE_INVENTORY_LOW_STOCK_THRESHOLD" default:"10"`
}

type CatalogConfig struct {
	CacheTTL time.Duration `envconfig:"CARTRESERVE_CATALOG_CACHE_TTL" default:"2m"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"CARTRESERVE_CRON_INTERVAL" default:"24h"`
	LockTTL         time.Duration `envconfig:"CARTRESERVE_CRON_LOCK_TTL" default:"30m"`
	SweepBatchSize  int           `envconfig:"CARTRESERVE_CRON_SWEEP_BATCH_SIZE" default:"200"`
	OutboxRetention time.Duration `envconfig:"CARTRESERVE_CRON_OUTBOX_RETENTION" default:"720h"`
	DLQRetention    time.Duration `envconfig:"CARTRESERVE_CRON_DLQ_RETENTION" default:"2160h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"CARTRESERVE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	InventoryTopic string `envconfig:"CARTRESERVE_PUBSUB_INVENTORY_TOPIC" default:"cr-inventory-events"`
	CartTopic      string `envconfig:"CARTRESERVE_PUBSUB_CART_TOPIC" default:"cr-cart-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CARTRESERVE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CARTRESERVE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CARTRESERVE_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
