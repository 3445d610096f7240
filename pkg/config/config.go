package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	API      APIConfig
	Service  ServiceConfig
	DB       DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Security SecurityConfig
	Eventing EventingConfig
	GCP      GCPConfig
	PubSub   PubSubConfig
	BigQuery BigQueryConfig
	Kafka    KafkaConfig
	Inbound  InboundConfig
	Outbox   OutboxConfig
	Tracing  TracingConfig
	Sync     SyncConfig
	Pricing  PricingConfig
	Hold     HoldConfig
	Booking  BookingConfig
	Cron     CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Inbound.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CHANNELCORE_APP_ENV" required:"true"`
	Port         string `envconfig:"CHANNELCORE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CHANNELCORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CHANNELCORE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"CHANNELCORE_LOG_FORMAT"`
	AutoMigrate  bool   `envconfig:"CHANNELCORE_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// APIConfig tunes the admin HTTP surface.
type APIConfig struct {
	CORSOrigins       []string      `envconfig:"CHANNELCORE_API_CORS_ORIGINS" default:"http://localhost:3000"`
	RateLimitWindow   time.Duration `envconfig:"CHANNELCORE_API_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitIP       int           `envconfig:"CHANNELCORE_API_RATE_LIMIT_IP" default:"120"`
	RateLimitOperator int           `envconfig:"CHANNELCORE_API_RATE_LIMIT_OPERATOR" default:"60"`
}

type ServiceConfig struct {
	Kind string `envconfig:"CHANNELCORE_SERVICE_KIND" default:"api"`
	// MetricsAddr is where workers expose /metrics; empty disables it.
	MetricsAddr string `envconfig:"CHANNELCORE_METRICS_ADDR"`
	InstanceID  string `envconfig:"CHANNELCORE_WORKER_ID"`
}

type DBConfig struct {
	DSN    string `envconfig:"CHANNELCORE_DB_DSN"`
	Driver string `envconfig:"CHANNELCORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CHANNELCORE_DB_HOST"`
	LegacyPort     int    `envconfig:"CHANNELCORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CHANNELCORE_DB_USER"`
	LegacyPassword string `envconfig:"CHANNELCORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"CHANNELCORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"CHANNELCORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CHANNELCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CHANNELCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CHANNELCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CHANNELCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements slower than this; 0 disables.
	SlowQueryThreshold time.Duration `envconfig:"CHANNELCORE_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
	// TxMaxAttempts bounds reruns of a transaction aborted by a
	// serialization failure or deadlock.
	TxMaxAttempts int `envconfig:"CHANNELCORE_DB_TX_MAX_ATTEMPTS" default:"3"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CHANNELCORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CHANNELCORE_REDIS_ADDR"`
	Password     string        `envconfig:"CHANNELCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"CHANNELCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CHANNELCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CHANNELCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CHANNELCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CHANNELCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CHANNELCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
	// KeyPrefix namespaces every key so environments can share one instance.
	KeyPrefix string `envconfig:"CHANNELCORE_REDIS_KEY_PREFIX" default:"cc"`
}

// JWTConfig guards the admin API.
type JWTConfig struct {
	Secret string `envconfig:"CHANNELCORE_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"CHANNELCORE_JWT_ISSUER" required:"true"`
	// ExpirationMinutes bounds operator tokens minted with cmd/api -mint-token.
	ExpirationMinutes int `envconfig:"CHANNELCORE_JWT_EXPIRATION_MINUTES" default:"60"`
	// PreviousSecret still verifies tokens during a secret rotation; new
	// tokens are always signed with Secret.
	PreviousSecret string        `envconfig:"CHANNELCORE_JWT_PREVIOUS_SECRET"`
	Audience       string        `envconfig:"CHANNELCORE_JWT_AUDIENCE" default:"channelcore-admin"`
	Leeway         time.Duration `envconfig:"CHANNELCORE_JWT_LEEWAY" default:"30s"`
}

type SecurityConfig struct {
	CredentialsKey  string `envconfig:"CHANNELCORE_CREDENTIALS_KEY" required:"true"`
	CredentialsSalt string `envconfig:"CHANNELCORE_CREDENTIALS_SALT" default:"channelcore-credentials"`
}

type EventingConfig struct {
	InboundIdempotencyTTL time.Duration `envconfig:"CHANNELCORE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CHANNELCORE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CHANNELCORE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CHANNELCORE_GOOGLE_APPLICATION_CREDENTIALS"`
}

// BigQueryConfig names the archive destination for audit rows leaving the
// retention window. An empty AuditTable disables the archive.
type BigQueryConfig struct {
	Dataset    string `envconfig:"CHANNELCORE_BIGQUERY_DATASET" default:"channelcore"`
	AuditTable string `envconfig:"CHANNELCORE_BIGQUERY_AUDIT_TABLE"`
	BatchSize  int    `envconfig:"CHANNELCORE_BIGQUERY_BATCH_SIZE" default:"500"`
}

type PubSubConfig struct {
	ReservationsSubscription string `envconfig:"CHANNELCORE_PUBSUB_RESERVATIONS_SUBSCRIPTION"`
	SyncRequestsSubscription string `envconfig:"CHANNELCORE_PUBSUB_SYNC_REQUESTS_SUBSCRIPTION"`
	DomainTopic              string `envconfig:"CHANNELCORE_PUBSUB_DOMAIN_TOPIC" default:"channelcore-domain-events"`
	AlertsTopic              string `envconfig:"CHANNELCORE_PUBSUB_ALERTS_TOPIC" default:"channelcore-alerts"`
	// OrderedDelivery keys messages by aggregate id so one booking's events
	// arrive in commit order. The subscription must enable ordering too.
	OrderedDelivery bool `envconfig:"CHANNELCORE_PUBSUB_ORDERED_DELIVERY" default:"true"`
}

type KafkaConfig struct {
	Brokers           []string      `envconfig:"CHANNELCORE_KAFKA_BROKERS"`
	ReservationsTopic string        `envconfig:"CHANNELCORE_KAFKA_RESERVATIONS_TOPIC" default:"ota-reservations"`
	GroupID           string        `envconfig:"CHANNELCORE_KAFKA_GROUP_ID" default:"channelcore-inbound"`
	MaxWait           time.Duration `envconfig:"CHANNELCORE_KAFKA_MAX_WAIT" default:"1s"`
}

// InboundConfig selects the transport OTA reservation messages arrive on.
type InboundConfig struct {
	Transport    string        `envconfig:"CHANNELCORE_INBOUND_TRANSPORT" default:"pubsub"`
	PollInterval time.Duration `envconfig:"CHANNELCORE_INBOUND_POLL_INTERVAL" default:"5m"`
	// IdempotencyTTL bounds how long a processed message key suppresses redeliveries.
	IdempotencyTTL time.Duration `envconfig:"CHANNELCORE_INBOUND_IDEMPOTENCY_TTL" default:"72h"`
}

func (i InboundConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(i.Transport)) {
	case InboundTransportPubSub, InboundTransportKafka, InboundTransportNone:
		return nil
	}
	return fmt.Errorf("unsupported inbound transport %q", i.Transport)
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CHANNELCORE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CHANNELCORE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CHANNELCORE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type TracingConfig struct {
	Endpoint    string  `envconfig:"CHANNELCORE_OTEL_ENDPOINT"`
	Insecure    bool    `envconfig:"CHANNELCORE_OTEL_INSECURE" default:"false"`
	SampleRatio float64 `envconfig:"CHANNELCORE_OTEL_SAMPLE_RATIO" default:"1"`
}

type SyncConfig struct {
	TickSeconds        int           `envconfig:"CHANNELCORE_SYNC_TICK_SECONDS" default:"300"`
	MaxRetries         int           `envconfig:"CHANNELCORE_SYNC_MAX_RETRIES" default:"6"`
	BackoffBaseSeconds int           `envconfig:"CHANNELCORE_SYNC_BACKOFF_BASE_SECONDS" default:"30"`
	BackoffCap         time.Duration `envconfig:"CHANNELCORE_SYNC_BACKOFF_CAP" default:"1h"`
	WorkerPerChannel   int           `envconfig:"CHANNELCORE_SYNC_WORKER_PER_CHANNEL" default:"1"`
	ChannelInflightCap int           `envconfig:"CHANNELCORE_SYNC_CHANNEL_INFLIGHT_CAP" default:"4"`
	AdaptorTimeout     time.Duration `envconfig:"CHANNELCORE_SYNC_ADAPTOR_TIMEOUT" default:"30s"`
	StoreTimeout       time.Duration `envconfig:"CHANNELCORE_SYNC_STORE_TIMEOUT" default:"5s"`
	Debounce           time.Duration `envconfig:"CHANNELCORE_SYNC_DEBOUNCE" default:"5s"`
}

// Tick returns the coordinator wake interval.
func (s SyncConfig) Tick() time.Duration {
	if s.TickSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(s.TickSeconds) * time.Second
}

// BackoffBase returns the first retry delay.
func (s SyncConfig) BackoffBase() time.Duration {
	if s.BackoffBaseSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.BackoffBaseSeconds) * time.Second
}

// Workers returns the per-channel worker count clamped to [1, MaxWorkersPerChannel].
func (s SyncConfig) Workers() int {
	if s.WorkerPerChannel <= 0 {
		return 1
	}
	if s.WorkerPerChannel > MaxWorkersPerChannel {
		return MaxWorkersPerChannel
	}
	return s.WorkerPerChannel
}

type PricingConfig struct {
	HorizonDays        int           `envconfig:"CHANNELCORE_PRICING_HORIZON_DAYS" default:"30"`
	MinAutoApplyScore  int           `envconfig:"CHANNELCORE_PRICING_MIN_AUTO_APPLY_SCORE" default:"70"`
	MinChangePct       float64       `envconfig:"CHANNELCORE_PRICING_MIN_CHANGE_PCT" default:"2"`
	ForecastStaleHours int           `envconfig:"CHANNELCORE_PRICING_FORECAST_STALE_HOURS" default:"6"`
	Interval           time.Duration `envconfig:"CHANNELCORE_PRICING_INTERVAL" default:"1h"`
	AutoApply          bool          `envconfig:"CHANNELCORE_PRICING_AUTO_APPLY" default:"true"`
}

// ForecastStaleAfter returns the age after which a forecast is regenerated.
func (p PricingConfig) ForecastStaleAfter() time.Duration {
	if p.ForecastStaleHours <= 0 {
		return 6 * time.Hour
	}
	return time.Duration(p.ForecastStaleHours) * time.Hour
}

type HoldConfig struct {
	ReservedUntilMinutes int `envconfig:"CHANNELCORE_HOLD_RESERVED_UNTIL_MINUTES" default:"15"`
}

// TTL returns how long a pending hold keeps its inventory.
func (h HoldConfig) TTL() time.Duration {
	if h.ReservedUntilMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(h.ReservedUntilMinutes) * time.Minute
}

type BookingConfig struct {
	CancellationGraceHours int `envconfig:"CHANNELCORE_BOOKING_CANCELLATION_GRACE_HOURS" default:"24"`
	NoShowGraceHours       int `envconfig:"CHANNELCORE_BOOKING_NO_SHOW_GRACE_HOURS" default:"2"`
}

func (b BookingConfig) CancellationGrace() time.Duration {
	return time.Duration(b.CancellationGraceHours) * time.Hour
}

func (b BookingConfig) NoShowGrace() time.Duration {
	return time.Duration(b.NoShowGraceHours) * time.Hour
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"CHANNELCORE_CRON_INTERVAL" default:"1m"`
	JobTimeout      time.Duration `envconfig:"CHANNELCORE_CRON_JOB_TIMEOUT" default:"10m"`
	AuditRetention  time.Duration `envconfig:"CHANNELCORE_CRON_AUDIT_RETENTION" default:"8760h"`
	OutboxRetention time.Duration `envconfig:"CHANNELCORE_CRON_OUTBOX_RETENTION" default:"720h"`
	DLQRetention    time.Duration `envconfig:"CHANNELCORE_CRON_DLQ_RETENTION" default:"2160h"`
	PurgeBatchSize  int           `envconfig:"CHANNELCORE_CRON_PURGE_BATCH_SIZE" default:"1000"`
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
