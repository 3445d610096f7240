package config

// EnvPrefix is passed to envconfig; every field carries its full variable name.
const EnvPrefix = "CHANNELCORE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	InboundTransportPubSub = "pubsub"
	InboundTransportKafka  = "kafka"
	InboundTransportNone   = "none"
)

// MaxWorkersPerChannel caps CHANNELCORE_SYNC_WORKER_PER_CHANNEL.
const MaxWorkersPerChannel = 8

const (
	EnvAppEnv         = "CHANNELCORE_APP_ENV"
	EnvPort           = "CHANNELCORE_APP_PORT"
	EnvDBDSN          = "CHANNELCORE_DB_DSN"
	EnvDBHost         = "CHANNELCORE_DB_HOST"
	EnvDBUser         = "CHANNELCORE_DB_USER"
	EnvDBName         = "CHANNELCORE_DB_NAME"
	EnvRedisURL       = "CHANNELCORE_REDIS_URL"
	EnvJWTSecret      = "CHANNELCORE_JWT_SECRET"
	EnvJWTIssuer      = "CHANNELCORE_JWT_ISSUER"
	EnvCredentialsKey = "CHANNELCORE_CREDENTIALS_KEY"
	EnvInbound        = "CHANNELCORE_INBOUND_TRANSPORT"
	EnvSyncTick       = "CHANNELCORE_SYNC_TICK_SECONDS"
	EnvSyncWorkers    = "CHANNELCORE_SYNC_WORKER_PER_CHANNEL"
	EnvPricingHorizon = "CHANNELCORE_PRICING_HORIZON_DAYS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
