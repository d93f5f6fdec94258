package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Hashing      HashingConfig
	FeatureFlags FeatureFlagsConfig
	Ledger       LedgerConfig
	Billing      BillingConfig
	Generation   GenerationConfig
	Admin        AdminConfig
	Verification VerificationConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Stripe       StripeConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Ledger.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"NANOPHOTO_APP_ENV" required:"true"`
	Port         string   `envconfig:"NANOPHOTO_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"NANOPHOTO_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"NANOPHOTO_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"NANOPHOTO_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"NANOPHOTO_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"NANOPHOTO_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"NANOPHOTO_DB_DSN"`
	Driver string `envconfig:"NANOPHOTO_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"NANOPHOTO_DB_HOST"`
	LegacyPort     int    `envconfig:"NANOPHOTO_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"NANOPHOTO_DB_USER"`
	LegacyPassword string `envconfig:"NANOPHOTO_DB_PASSWORD"`
	LegacyName     string `envconfig:"NANOPHOTO_DB_NAME"`
	LegacySSLMode  string `envconfig:"NANOPHOTO_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"NANOPHOTO_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"NANOPHOTO_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"NANOPHOTO_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"NANOPHOTO_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQuery logs statements slower than this at warn; 0 disables it.
	SlowQuery time.Duration `envconfig:"NANOPHOTO_DB_SLOW_QUERY" default:"500ms"`
}

// IsSQLite reports whether the local single-file driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"NANOPHOTO_REDIS_URL" required:"true"`
	Address      string        `envconfig:"NANOPHOTO_REDIS_ADDR"`
	Password     string        `envconfig:"NANOPHOTO_REDIS_PASSWORD"`
	DB           int           `envconfig:"NANOPHOTO_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"NANOPHOTO_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"NANOPHOTO_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"NANOPHOTO_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NANOPHOTO_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"NANOPHOTO_REDIS_WRITE_TIMEOUT" default:"5s"`
	// KeyPrefix namespaces every key so environments can share an instance.
	KeyPrefix string `envconfig:"NANOPHOTO_REDIS_KEY_PREFIX" default:"np"`
}

type JWTConfig struct {
	Secret            string `envconfig:"NANOPHOTO_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"NANOPHOTO_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"NANOPHOTO_JWT_EXPIRATION_MINUTES" required:"true"`
	LeewaySeconds     int    `envconfig:"NANOPHOTO_JWT_LEEWAY_SECONDS" default:"30"`
}

// HashingConfig tunes Argon2id for one-time verification codes.
type HashingConfig struct {
	ArgonMemoryKB    int `envconfig:"NANOPHOTO_ARGON_MEMORY_KB" default:"19456"`
	ArgonTime        int `envconfig:"NANOPHOTO_ARGON_TIME" default:"2"`
	ArgonParallelism int `envconfig:"NANOPHOTO_ARGON_PARALLELISM" default:"1"`
	ArgonSaltLen     int `envconfig:"NANOPHOTO_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"NANOPHOTO_ARGON_KEY_LEN" default:"32"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"NANOPHOTO_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"NANOPHOTO_AUTO_MIGRATE" default:"false"`
}

type LedgerConfig struct {
	MaxAttempts       int           `envconfig:"NANOPHOTO_LEDGER_MAX_ATTEMPTS" default:"5"`
	RetryBaseDelay    time.Duration `envconfig:"NANOPHOTO_LEDGER_RETRY_BASE_DELAY" default:"25ms"`
	SignupBonus       int64         `envconfig:"NANOPHOTO_LEDGER_SIGNUP_BONUS" default:"0"`
	VerificationBonus int64         `envconfig:"NANOPHOTO_LEDGER_VERIFICATION_BONUS" default:"5"`
}

func (l LedgerConfig) validate() error {
	if l.MaxAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", EnvLedgerMaxAttempts)
	}
	if l.SignupBonus < 0 {
		return fmt.Errorf("%s must not be negative", EnvLedgerSignupBonus)
	}
	if l.VerificationBonus <= 0 {
		return fmt.Errorf("%s must be positive", EnvLedgerVerificationBonus)
	}
	return nil
}

// BillingConfig maps Stripe price ids onto the static credit tiers.
type BillingConfig struct {
	StarterPriceID        string        `envconfig:"NANOPHOTO_BILLING_STARTER_PRICE_ID" default:"price_starter"`
	StarterCredits        int64         `envconfig:"NANOPHOTO_BILLING_STARTER_CREDITS" default:"60"`
	ProPriceID            string        `envconfig:"NANOPHOTO_BILLING_PRO_PRICE_ID" default:"price_pro"`
	ProCredits            int64         `envconfig:"NANOPHOTO_BILLING_PRO_CREDITS" default:"200"`
	BusinessPriceID       string        `envconfig:"NANOPHOTO_BILLING_BUSINESS_PRICE_ID" default:"price_business"`
	BusinessCredits       int64         `envconfig:"NANOPHOTO_BILLING_BUSINESS_CREDITS" default:"800"`
	WebhookIdempotencyTTL time.Duration `envconfig:"NANOPHOTO_BILLING_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

// PriceTable returns the configured price id to credit amount mapping.
func (b BillingConfig) PriceTable() map[string]int64 {
	table := make(map[string]int64, 3)
	for id, credits := range map[string]int64{
		b.StarterPriceID:  b.StarterCredits,
		b.ProPriceID:      b.ProCredits,
		b.BusinessPriceID: b.BusinessCredits,
	} {
		id = strings.TrimSpace(id)
		if id == "" || credits <= 0 {
			continue
		}
		table[id] = credits
	}
	return table
}

type GenerationConfig struct {
	GenerateCost  int64 `envconfig:"NANOPHOTO_GENERATION_GENERATE_COST" default:"1"`
	VariationCost int64 `envconfig:"NANOPHOTO_GENERATION_VARIATION_COST" default:"1"`
	AnalyzeCost   int64 `envconfig:"NANOPHOTO_GENERATION_ANALYZE_COST" default:"0"`
}

type AdminConfig struct {
	Emails            []string `envconfig:"NANOPHOTO_ADMIN_EMAILS"`
	DefaultAdjustment int64    `envconfig:"NANOPHOTO_ADMIN_DEFAULT_ADJUSTMENT" default:"100"`
}

// IsAdmin reports whether email is on the allow-list.
func (a AdminConfig) IsAdmin(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	for _, allowed := range a.Emails {
		if strings.EqualFold(strings.TrimSpace(allowed), email) {
			return true
		}
	}
	return false
}

type VerificationConfig struct {
	CodeLength  int           `envconfig:"NANOPHOTO_VERIFICATION_CODE_LENGTH" default:"6"`
	CodeTTL     time.Duration `envconfig:"NANOPHOTO_VERIFICATION_CODE_TTL" default:"10m"`
	MaxAttempts int           `envconfig:"NANOPHOTO_VERIFICATION_MAX_ATTEMPTS" default:"5"`
	StartWindow time.Duration `envconfig:"NANOPHOTO_VERIFICATION_START_WINDOW" default:"1h"`
	StartLimit  int           `envconfig:"NANOPHOTO_VERIFICATION_START_LIMIT" default:"5"`
	// per-IP and per-phone ceilings enforced at the HTTP edge
	StartIPLimit    int `envconfig:"NANOPHOTO_VERIFICATION_START_IP_LIMIT" default:"20"`
	StartPhoneLimit int `envconfig:"NANOPHOTO_VERIFICATION_START_PHONE_LIMIT" default:"5"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"NANOPHOTO_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"NANOPHOTO_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"NANOPHOTO_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"NANOPHOTO_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LedgerTopic           string `envconfig:"NANOPHOTO_PUBSUB_LEDGER_TOPIC" default:"np-ledger-events"`
	GenerationTopic       string `envconfig:"NANOPHOTO_PUBSUB_GENERATION_TOPIC" default:"np-generation-jobs"`
	AnalyticsSubscription string `envconfig:"NANOPHOTO_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"np-ledger-analytics"`
}

type BigQueryConfig struct {
	Dataset     string `envconfig:"NANOPHOTO_BIGQUERY_DATASET" default:"nanophoto"`
	LedgerTable string `envconfig:"NANOPHOTO_BIGQUERY_LEDGER_TABLE" default:"ledger_entries"`
	// CreateMissing lets the analytics worker create the dataset and mirror
	// table on first boot. Production provisions them ahead of time.
	CreateMissing bool   `envconfig:"NANOPHOTO_BIGQUERY_CREATE_MISSING" default:"false"`
	Location      string `envconfig:"NANOPHOTO_BIGQUERY_LOCATION" default:"US"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"NANOPHOTO_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"NANOPHOTO_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"NANOPHOTO_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"NANOPHOTO_OUTBOX_RETENTION" default:"720h"`
	DLQRetention   time.Duration `envconfig:"NANOPHOTO_OUTBOX_DLQ_RETENTION" default:"2160h"`
}

type CronConfig struct {
	Schedule           string `envconfig:"NANOPHOTO_CRON_SCHEDULE" default:"@every 15m"`
	ReconcileBatchSize int    `envconfig:"NANOPHOTO_CRON_RECONCILE_BATCH_SIZE" default:"500"`
}

// StripeConfig holds the webhook signing secret. The API key is only checked
// against the environment when set; settlement never calls the Stripe API.
type StripeConfig struct {
	APIKey string `envconfig:"NANOPHOTO_STRIPE_API_KEY"`
	// Secret may list several comma separated signing secrets during a roll.
	Secret           string        `envconfig:"NANOPHOTO_STRIPE_SECRET"`
	Env              string        `envconfig:"NANOPHOTO_STRIPE_ENV" default:"test"`
	WebhookTolerance time.Duration `envconfig:"NANOPHOTO_STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = DefaultSQLiteDSN
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
