package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Stripe    StripeConfig
	Pricing   PricingConfig
	Sync      SyncConfig
	Reconcile ReconcileConfig
	Invite    InviteConfig
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
	Env          string `envconfig:"DOT_APP_ENV" required:"true"`
	Port         string `envconfig:"DOT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"DOT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DOT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"DOT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"DOT_DB_DSN"`
	Driver string `envconfig:"DOT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DOT_DB_HOST"`
	LegacyPort     int    `envconfig:"DOT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DOT_DB_USER"`
	LegacyPassword string `envconfig:"DOT_DB_PASSWORD"`
	LegacyName     string `envconfig:"DOT_DB_NAME"`
	LegacySSLMode  string `envconfig:"DOT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DOT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DOT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DOT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DOT_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	AutoMigrate bool `envconfig:"DOT_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DOT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"DOT_REDIS_ADDR"`
	Password     string        `envconfig:"DOT_REDIS_PASSWORD"`
	DB           int           `envconfig:"DOT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DOT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DOT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DOT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DOT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DOT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret string        `envconfig:"DOT_JWT_SECRET" required:"true"`
	Issuer string        `envconfig:"DOT_JWT_ISSUER" default:"dayoftimeline"`
	TTL    time.Duration `envconfig:"DOT_JWT_TTL" default:"1h"`
}

type StripeConfig struct {
	APIKey        string        `envconfig:"DOT_STRIPE_API_KEY"`
	WebhookSecret string        `envconfig:"DOT_STRIPE_WEBHOOK_SECRET"`
	Env           string        `envconfig:"DOT_STRIPE_ENV" default:"test"`
	EventTTL      time.Duration `envconfig:"DOT_STRIPE_EVENT_TTL" default:"72h"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// PricingConfig carries the purchase-tier thresholds and known price ids.
// Pricing moved across at least three revisions, so every value is injected
// rather than hard-coded in the classifier.
type PricingConfig struct {
	PerpetualThresholdMinor int64 `envconfig:"DOT_PRICING_PERPETUAL_THRESHOLD" default:"9900"`
	LongCycleThresholdMinor int64 `envconfig:"DOT_PRICING_LONG_CYCLE_THRESHOLD" default:"2700"`

	PerpetualPriceID  string   `envconfig:"DOT_PRICING_PERPETUAL_PRICE_ID"`
	ShortCyclePriceID string   `envconfig:"DOT_PRICING_SHORT_CYCLE_PRICE_ID"`
	LongCyclePriceIDs []string `envconfig:"DOT_PRICING_LONG_CYCLE_PRICE_IDS"`
}

// IsLongCyclePrice reports whether the price id belongs to the known
// long-cycle set.
func (p PricingConfig) IsLongCyclePrice(priceID string) bool {
	if strings.TrimSpace(priceID) == "" {
		return false
	}
	for _, known := range p.LongCyclePriceIDs {
		if known == priceID {
			return true
		}
	}
	return false
}

type SyncConfig struct {
	MaxFetchAttempts int           `envconfig:"DOT_SYNC_MAX_FETCH_ATTEMPTS" default:"3"`
	BackoffBase      time.Duration `envconfig:"DOT_SYNC_BACKOFF_BASE" default:"1s"`
	BackoffCap       time.Duration `envconfig:"DOT_SYNC_BACKOFF_CAP" default:"10s"`
	FallbackWindow   time.Duration `envconfig:"DOT_SYNC_FALLBACK_WINDOW" default:"720h"`
}

type ReconcileConfig struct {
	Lookback       time.Duration `envconfig:"DOT_RECONCILE_LOOKBACK" default:"168h"`
	BatchLimit     int           `envconfig:"DOT_RECONCILE_BATCH_LIMIT" default:"50"`
	StuckAge       time.Duration `envconfig:"DOT_RECONCILE_STUCK_AGE" default:"15m"`
	InterItemDelay time.Duration `envconfig:"DOT_RECONCILE_ITEM_DELAY" default:"200ms"`
	Interval       time.Duration `envconfig:"DOT_RECONCILE_INTERVAL" default:"6h"`
}

type InviteConfig struct {
	URL     string        `envconfig:"DOT_INVITE_URL"`
	Token   string        `envconfig:"DOT_INVITE_TOKEN"`
	Timeout time.Duration `envconfig:"DOT_INVITE_TIMEOUT" default:"10s"`
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
