package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	FeatureFlags  FeatureFlagsConfig
	Stripe        StripeConfig
	Webhook       WebhookConfig
	Notifications NotificationsConfig
	Retention     RetentionConfig
	Eventing      EventingConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Kafka         KafkaConfig
	Outbox        OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.App.validateBaseURL(); err != nil {
		return nil, err
	}
	if err := cfg.Webhook.validateLease(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"KITAFINDER_APP_ENV" required:"true"`
	Port         string `envconfig:"KITAFINDER_APP_PORT" default:"8080"`
	BaseURL      string `envconfig:"KITAFINDER_APP_BASE_URL" required:"true"`
	LogLevel     string `envconfig:"KITAFINDER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"KITAFINDER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

func (a AppConfig) validateBaseURL() error {
	parsed, err := url.Parse(strings.TrimSpace(a.BaseURL))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvAppBaseURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute url, got %q", EnvAppBaseURL, a.BaseURL)
	}
	return nil
}

type ServiceConfig struct {
	Kind string `envconfig:"KITAFINDER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"KITAFINDER_DB_DSN"`
	Driver string `envconfig:"KITAFINDER_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"KITAFINDER_DB_HOST"`
	Port     int    `envconfig:"KITAFINDER_DB_PORT" default:"5432"`
	User     string `envconfig:"KITAFINDER_DB_USER"`
	Password string `envconfig:"KITAFINDER_DB_PASSWORD"`
	Name     string `envconfig:"KITAFINDER_DB_NAME"`
	SSLMode  string `envconfig:"KITAFINDER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"KITAFINDER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KITAFINDER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KITAFINDER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KITAFINDER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"KITAFINDER_REDIS_URL"`
	Address      string        `envconfig:"KITAFINDER_REDIS_ADDR"`
	Password     string        `envconfig:"KITAFINDER_REDIS_PASSWORD"`
	DB           int           `envconfig:"KITAFINDER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KITAFINDER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KITAFINDER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KITAFINDER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KITAFINDER_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"KITAFINDER_REDIS_WRITE_TIMEOUT" default:"3s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"KITAFINDER_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	WebhookSecret string        `envconfig:"KITAFINDER_STRIPE_WEBHOOK_SECRET" required:"true"`
	Tolerance     time.Duration `envconfig:"KITAFINDER_STRIPE_SIGNATURE_TOLERANCE" default:"5m"`
	Env           string        `envconfig:"KITAFINDER_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type WebhookConfig struct {
	Timeout         time.Duration `envconfig:"KITAFINDER_WEBHOOK_TIMEOUT" default:"8s"`
	MaxBodyBytes    int64         `envconfig:"KITAFINDER_WEBHOOK_MAX_BODY_BYTES" default:"262144"`
	InFlightTTL     time.Duration `envconfig:"KITAFINDER_WEBHOOK_IN_FLIGHT_TTL" default:"20s"`
	ConflictRetries int           `envconfig:"KITAFINDER_WEBHOOK_CONFLICT_RETRIES" default:"3"`
}

// validateLease keeps the in-flight claim a short lease: it must outlive one
// processing deadline but expire long before the processor's next retry.
func (w WebhookConfig) validateLease() error {
	if w.Timeout <= 0 {
		return fmt.Errorf("%s must be positive, got %v", EnvWebhookTimeout, w.Timeout)
	}
	if w.InFlightTTL <= w.Timeout {
		return fmt.Errorf("%s (%v) must exceed %s (%v)", EnvWebhookInFlightTTL, w.InFlightTTL, EnvWebhookTimeout, w.Timeout)
	}
	if w.InFlightTTL > maxInFlightTTL {
		return fmt.Errorf("%s (%v) must not exceed %v", EnvWebhookInFlightTTL, w.InFlightTTL, maxInFlightTTL)
	}
	return nil
}

type NotificationsConfig struct {
	FromEmail   string        `envconfig:"KITAFINDER_NOTIFY_FROM_EMAIL" required:"true"`
	FromName    string        `envconfig:"KITAFINDER_NOTIFY_FROM_NAME" default:"Kitafinder"`
	BrevoAPIKey string        `envconfig:"KITAFINDER_BREVO_API_KEY"`
	Timeout     time.Duration `envconfig:"KITAFINDER_NOTIFY_TIMEOUT" default:"3s"`
}

// Enabled reports whether outbound email can be delivered.
func (n NotificationsConfig) Enabled() bool {
	return strings.TrimSpace(n.BrevoAPIKey) != ""
}

type RetentionConfig struct {
	ProcessedEventDays int           `envconfig:"KITAFINDER_RETENTION_PROCESSED_EVENT_DAYS" default:"30"`
	OutboxDays         int           `envconfig:"KITAFINDER_RETENTION_OUTBOX_DAYS" default:"14"`
	Interval           time.Duration `envconfig:"KITAFINDER_RETENTION_INTERVAL" default:"24h"`
	LockTTL            time.Duration `envconfig:"KITAFINDER_RETENTION_LOCK_TTL" default:"1h"`
}

type EventingConfig struct {
	Broker string `envconfig:"KITAFINDER_EVENTING_BROKER" default:"pubsub"`
}

// UsesKafka reports whether domain events are relayed to Kafka instead of Pub/Sub.
func (e EventingConfig) UsesKafka() bool {
	return strings.EqualFold(strings.TrimSpace(e.Broker), BrokerKafka)
}

type GCPConfig struct {
	ProjectID       string `envconfig:"KITAFINDER_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"KITAFINDER_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	BillingTopic string `envconfig:"KITAFINDER_PUBSUB_BILLING_TOPIC" default:"kf-billing-events"`
}

type KafkaConfig struct {
	Brokers      []string `envconfig:"KITAFINDER_KAFKA_BROKERS"`
	BillingTopic string   `envconfig:"KITAFINDER_KAFKA_BILLING_TOPIC" default:"kf.billing.events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"KITAFINDER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"KITAFINDER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"KITAFINDER_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	parts := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dbPartEnvVars {
		if parts[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
