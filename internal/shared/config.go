package shared

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string        `envconfig:"APP_ENV" default:"prod"`
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr    string        `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`
	MetricsAddr string        `envconfig:"METRICS_ADDR" default:":9100"`
	MySQLDSN    string        `envconfig:"MYSQL_DSN" default:"root:root@tcp(localhost:3306)/channel?parseTime=true&charset=utf8mb4,utf8&loc=UTC"`

	// An empty RedisAddr disables the cross-instance flush lock.
	RedisAddr string `envconfig:"REDIS_ADDR"`
	RedisPass string `envconfig:"REDIS_PASSWORD"`
	RedisDB   int    `envconfig:"REDIS_DB" default:"0"`

	CredentialsKey string `envconfig:"CREDENTIALS_KEY"` // base64, 32 bytes
	LookupKey      string `envconfig:"LOOKUP_KEY"`
	SnowflakeNode  int64  `envconfig:"SNOWFLAKE_NODE_ID" default:"1"`

	GatewayRPS     int           `envconfig:"GATEWAY_RPS" default:"5"`
	GatewayTimeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"30s"`

	FlushInterval  time.Duration `envconfig:"FLUSH_INTERVAL" default:"60s"`
	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"10m"`
	PurgeInterval  time.Duration `envconfig:"PURGE_INTERVAL" default:"1h"`
	FlushBatchSize int           `envconfig:"FLUSH_BATCH_SIZE" default:"200"`
	MaxAttempts    int           `envconfig:"MAX_ATTEMPTS" default:"5"`

	NotifyBuffer     int `envconfig:"NOTIFY_BUFFER" default:"1024"`
	NotifyWorkers    int `envconfig:"NOTIFY_WORKERS" default:"2"`
	ReconcileWorkers int `envconfig:"RECONCILE_WORKERS" default:"4"`
}

// Parse reads the environment, after loading a .env file when one exists.
func Parse() (Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if c.FlushInterval <= 0 || c.PollInterval <= 0 || c.PurgeInterval <= 0 {
		return Config{}, fmt.Errorf("load config: job intervals must be positive")
	}
	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		return Config{}, fmt.Errorf("load config: SNOWFLAKE_NODE_ID %d out of range 0..1023", c.SnowflakeNode)
	}
	return c, nil
}

func Load() Config {
	c, err := Parse()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if c.CredentialsKey == "" {
		log.Warn().Msg("CREDENTIALS_KEY is empty")
	}
	if c.LookupKey == "" {
		log.Warn().Msg("LOOKUP_KEY is empty")
	}
	return c
}
