package config

import (
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"clover-api"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:""`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"clover"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SQL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`
	// Dead letter stream for inbound events that exhausted processing
	RedisDLQStream string `env:"REDIS_DLQ_STREAM" env-default:"clover:ingest:dlq"`

	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic for inbound message events
	KafkaMessageTopic string `env:"KAFKA_MESSAGE_TOPIC" env-default:"channel-messages"`
	// Kafka topic for session status transitions
	KafkaSessionTopic string `env:"KAFKA_SESSION_TOPIC" env-default:"channel-sessions"`

	// Directory holding paired-channel credential blobs, one file per integration
	SessionStorageDir string `env:"SESSION_STORAGE_DIR" env-default:"data/sessions"`
	// Base delay before the first reconnect attempt
	SessionBackoffBase time.Duration `env:"SESSION_BACKOFF_BASE" env-default:"1s"`
	// Ceiling for the reconnect delay
	SessionBackoffCap time.Duration `env:"SESSION_BACKOFF_CAP" env-default:"30s"`
	// Transient drops tolerated before the session is marked disconnected
	SessionMaxRetries int `env:"SESSION_MAX_RETRIES" env-default:"5"`

	// Webhook signing secret shared with the external platform
	WebhookAppSecret string `env:"WEBHOOK_APP_SECRET" env-default:""`
	// Token echoed back during the webhook subscription handshake
	WebhookVerifyToken string `env:"WEBHOOK_VERIFY_TOKEN" env-default:""`
	// Base URL of the webhook channel's send API
	MessengerAPIBaseURL string `env:"MESSENGER_API_BASE_URL" env-default:"https://graph.facebook.com/v17.0"`
	// Timeout for outbound send API calls
	MessengerAPITimeout time.Duration `env:"MESSENGER_API_TIMEOUT" env-default:"10s"`

	// Auth Enabled - when false, allows X-Tenant-ID and X-User-ID headers for testing
	AuthEnabled bool `env:"AUTH_ENABLED" env-default:"false"`
	// OIDC issuer URL for bearer token verification
	OIDCIssuer string `env:"OIDC_ISSUER" env-default:""`
	// OIDC client id expected in verified tokens
	OIDCClientID string `env:"OIDC_CLIENT_ID" env-default:""`
}

// Load reads the environment (and an optional .env file) into a Config.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
