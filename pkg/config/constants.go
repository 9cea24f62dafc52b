package config

import "time"

const (
	EnvPrefix = "KITAFINDER"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	BrokerPubSub = "pubsub"
	BrokerKafka  = "kafka"
)

// maxInFlightTTL keeps an orphaned in-flight claim shorter than the
// processor's retry backoff.
const maxInFlightTTL = 5 * time.Minute

const (
	EnvAppEnv              = "KITAFINDER_APP_ENV"
	EnvPort                = "KITAFINDER_APP_PORT"
	EnvAppBaseURL          = "KITAFINDER_APP_BASE_URL"
	EnvDBDSN               = "KITAFINDER_DB_DSN"
	EnvDBHost              = "KITAFINDER_DB_HOST"
	EnvDBUser              = "KITAFINDER_DB_USER"
	EnvDBName              = "KITAFINDER_DB_NAME"
	EnvRedisURL            = "KITAFINDER_REDIS_URL"
	EnvStripeWebhookSecret = "KITAFINDER_STRIPE_WEBHOOK_SECRET"
	EnvNotifyFromEmail     = "KITAFINDER_NOTIFY_FROM_EMAIL"
	EnvWebhookTimeout      = "KITAFINDER_WEBHOOK_TIMEOUT"
	EnvWebhookInFlightTTL  = "KITAFINDER_WEBHOOK_IN_FLIGHT_TTL"
	EnvEventingBroker      = "KITAFINDER_EVENTING_BROKER"
	EnvKafkaBrokers        = "KITAFINDER_KAFKA_BROKERS"
)

var dbPartEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
