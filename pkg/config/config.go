package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/mycomarket/mycomarket-backend/pkg/enums"
)

const (
	EnvPrefix = "MYCO"

	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

// Environment variable names referenced outside envconfig tags (tests, tooling).
const (
	EnvAppEnv           = "MYCO_APP_ENV"
	EnvPort             = "MYCO_APP_PORT"
	EnvDBDSN            = "MYCO_DB_DSN"
	EnvDBHost           = "MYCO_DB_HOST"
	EnvDBUser           = "MYCO_DB_USER"
	EnvDBName           = "MYCO_DB_NAME"
	EnvRedisURL         = "MYCO_REDIS_URL"
	EnvGCPProjectID     = "MYCO_GCP_PROJECT_ID"
	EnvPubSubTopic      = "MYCO_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubSub        = "MYCO_PUBSUB_DOMAIN_SUBSCRIPTION"
	EnvCommissionRate   = "MYCO_MARKETPLACE_COMMISSION_RATE"
	EnvSettlementStatus = "MYCO_MARKETPLACE_SETTLEMENT_STATUS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Marketplace  MarketplaceConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Marketplace.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MYCO_APP_ENV" required:"true"`
	Port         string `envconfig:"MYCO_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MYCO_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MYCO_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MYCO_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MYCO_DB_DSN"`
	Driver string `envconfig:"MYCO_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MYCO_DB_HOST"`
	LegacyPort     int    `envconfig:"MYCO_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MYCO_DB_USER"`
	LegacyPassword string `envconfig:"MYCO_DB_PASSWORD"`
	LegacyName     string `envconfig:"MYCO_DB_NAME"`
	LegacySSLMode  string `envconfig:"MYCO_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MYCO_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MYCO_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MYCO_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MYCO_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MYCO_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MYCO_REDIS_ADDR"`
	Password     string        `envconfig:"MYCO_REDIS_PASSWORD"`
	DB           int           `envconfig:"MYCO_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MYCO_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MYCO_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MYCO_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MYCO_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MYCO_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// MarketplaceConfig carries the reservation and settlement policy knobs.
type MarketplaceConfig struct {
	CommissionRate   string        `envconfig:"MYCO_MARKETPLACE_COMMISSION_RATE" default:"0.10"`
	HoldDuration     time.Duration `envconfig:"MYCO_MARKETPLACE_HOLD_DURATION" default:"2h"`
	SettlementStatus string        `envconfig:"MYCO_MARKETPLACE_SETTLEMENT_STATUS" default:"delivered"`
	SweepInterval    time.Duration `envconfig:"MYCO_MARKETPLACE_SWEEP_INTERVAL" default:"1m"`
}

// Rate returns the commission rate as a decimal fraction (0.10 = 10%).
func (m MarketplaceConfig) Rate() decimal.Decimal {
	rate, err := decimal.NewFromString(m.CommissionRate)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// Settlement returns the order status that releases pending sale balances.
func (m MarketplaceConfig) Settlement() enums.OrderStatus {
	status, err := enums.ParseOrderStatus(m.SettlementStatus)
	if err != nil {
		return enums.OrderStatusDelivered
	}
	return status
}

func (m MarketplaceConfig) validate() error {
	rate, err := decimal.NewFromString(m.CommissionRate)
	if err != nil {
		return fmt.Errorf("invalid commission rate %q: %w", m.CommissionRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("commission rate %q must be in [0, 1)", m.CommissionRate)
	}
	if m.HoldDuration <= 0 {
		return fmt.Errorf("hold duration must be positive")
	}
	status, err := enums.ParseOrderStatus(m.SettlementStatus)
	if err != nil {
		return fmt.Errorf("invalid settlement status: %w", err)
	}
	// Settlement must be a fulfillment milestone. A status like draft or
	// cancelled would release producer balances for undelivered orders.
	switch status {
	case enums.OrderStatusConfirmed, enums.OrderStatusShipped, enums.OrderStatusDelivered:
	default:
		return fmt.Errorf("settlement status %q must be a fulfillment status (confirmed, shipped or delivered)", m.SettlementStatus)
	}
	return nil
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MYCO_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MYCO_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MYCO_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"MYCO_PUBSUB_DOMAIN_TOPIC" default:"myco-domain-events"`
	DomainSubscription string `envconfig:"MYCO_PUBSUB_DOMAIN_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MYCO_OUTBOX_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MYCO_OUTBOX_POLL_INTERVAL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MYCO_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MYCO_AUTO_MIGRATE" default:"false"`
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
