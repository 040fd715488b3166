// Package configs provides application configuration loaded from environment variables.
// All configuration is externalized via environment variables for 12-factor app compliance.
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"bbot/internal/model"
)

// AppConfig holds all application configuration.
// Load it once at startup using AppLoad().
type AppConfig struct {
	// Engine contains the aggregation engine settings.
	Engine EngineConfig

	// Exchange contains the exchange API settings.
	Exchange ExchangeConfig

	// Kafka contains connection settings for the closed-candle topic.
	Kafka KafkaConfig

	// DBDSN is the ClickHouse connection string.
	DBDSN string

	// Ingester contains settings for the Kafka-to-ClickHouse ingester.
	Ingester IngesterConfig

	// ServerPort is the HTTP API listen port.
	ServerPort string
}

// EngineConfig holds the aggregation engine settings.
type EngineConfig struct {
	// Intervals is the set of candle timeframes to maintain per symbol.
	Intervals []model.Interval

	// WindowLength is how many candles each window retains.
	WindowLength int

	// BaseAssets and QuoteAssets filter the exchange symbol list.
	// "*" in either list is a wildcard.
	BaseAssets  []string
	QuoteAssets []string

	// QueueSize bounds the ingestion queue.
	QueueSize int

	// PacingDelay separates consecutive history downloads per symbol.
	PacingDelay time.Duration

	// HistoryRetries is how many times a failed backfill download is retried.
	HistoryRetries int
}

// ExchangeConfig holds exchange API endpoints and rate limiting.
type ExchangeConfig struct {
	// BaseURL is the REST API root.
	BaseURL string

	// StreamURL is the websocket stream root.
	StreamURL string

	// RequestsPerSecond caps REST request throughput.
	RequestsPerSecond float64
}

// KafkaConfig holds Kafka connection settings for closed candles.
type KafkaConfig struct {
	// Broker is the Kafka broker address (e.g., "localhost:9092").
	Broker string

	// Topic is the Kafka topic for closed candles.
	Topic string

	// GroupID is the consumer group ID for the ingester.
	GroupID string

	// Enabled turns closed-candle publishing on in the engine.
	Enabled bool
}

// IngesterConfig holds settings for batch processing.
type IngesterConfig struct {
	// BatchSize is the maximum number of candles to accumulate before flushing.
	BatchSize int

	// BatchTimeoutSeconds is the maximum seconds to wait before flushing.
	BatchTimeoutSeconds int
}

// getDatabaseDSN constructs the ClickHouse DSN from environment variables.
func getDatabaseDSN() string {
	dbUser := getEnv("CLICKHOUSE_USER", "user")
	dbPassword := getEnv("CLICKHOUSE_PASSWORD", "password")
	dbHost := getEnv("CLICKHOUSE_HOST", "localhost")
	dbPort := getEnv("CLICKHOUSE_TCP_PORT", "9000")
	dbName := getEnv("CLICKHOUSE_DB", "db")

	return fmt.Sprintf(
		"clickhouse://%s:%s@%s:%s/%s?dial_timeout=10s&read_timeout=20s",
		dbUser, dbPassword, dbHost, dbPort, dbName,
	)
}

// AppLoad loads all application configuration from environment variables.
// It attempts to load a .env file first (for local development).
// Call this once at application startup.
func AppLoad() *AppConfig {
	_ = godotenv.Load() // Ignore error - .env is optional

	return &AppConfig{
		Engine: EngineConfig{
			Intervals:      getEnvIntervals("CANDLE_INTERVALS", "2s,1m,3m,5m,15m,30m,1h,2h,4h,6h,8h,12h,1d,3d,1w"),
			WindowLength:   getEnvInt("WINDOW_LENGTH", 500),
			BaseAssets:     getEnvList("BASE_ASSETS", "*"),
			QuoteAssets:    getEnvList("QUOTE_ASSETS", "USDT"),
			QueueSize:      getEnvInt("QUEUE_SIZE", 10000),
			PacingDelay:    time.Duration(getEnvInt("PACING_DELAY_MS", 250)) * time.Millisecond,
			HistoryRetries: getEnvInt("HISTORY_RETRIES", 3),
		},
		Exchange: ExchangeConfig{
			BaseURL:           getEnv("EXCHANGE_BASE_URL", ""),
			StreamURL:         getEnv("EXCHANGE_STREAM_URL", ""),
			RequestsPerSecond: float64(getEnvInt("EXCHANGE_RPS", 5)),
		},
		Kafka: KafkaConfig{
			Broker:  getEnv("KAFKA_BROKER", "localhost:9092"),
			Topic:   getEnv("KAFKA_CANDLE_TOPIC", "bbot_candles"),
			GroupID: getEnv("KAFKA_CANDLE_GROUP_ID", "bbot-candle-consumer"),
			Enabled: getEnvBool("KAFKA_PUBLISH_ENABLED", false),
		},
		DBDSN: getDatabaseDSN(),
		Ingester: IngesterConfig{
			BatchSize:           getEnvInt("BATCH_SIZE", 200),
			BatchTimeoutSeconds: getEnvInt("BATCH_TIMEOUT_SECONDS", 5),
		},
		ServerPort: getEnv("SERVER_PORT", "8080"),
	}
}

// Validate checks the loaded configuration for values the engine cannot run
// with. All failures wrap model.ErrConfiguration.
func (c *AppConfig) Validate() error {
	if len(c.Engine.Intervals) == 0 {
		return fmt.Errorf("%w: no candle intervals configured", model.ErrConfiguration)
	}
	for _, iv := range c.Engine.Intervals {
		if !iv.Valid() {
			return fmt.Errorf("%w: unknown interval %q", model.ErrConfiguration, iv)
		}
	}
	if c.Engine.WindowLength < 1 || c.Engine.WindowLength > 1000 {
		return fmt.Errorf("%w: window length %d out of range [1, 1000]",
			model.ErrConfiguration, c.Engine.WindowLength)
	}
	if len(c.Engine.BaseAssets) == 0 || len(c.Engine.QuoteAssets) == 0 {
		return fmt.Errorf("%w: empty asset filter", model.ErrConfiguration)
	}
	if c.Engine.QueueSize < 1 {
		return fmt.Errorf("%w: queue size must be positive", model.ErrConfiguration)
	}
	return nil
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvList returns a comma-separated environment variable as a slice,
// with whitespace trimmed and empty entries dropped.
func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvIntervals parses a comma-separated interval list. Entries are kept
// as-is; Validate reports the unknown ones.
func getEnvIntervals(key, defaultValue string) []model.Interval {
	raw := getEnvList(key, defaultValue)
	out := make([]model.Interval, 0, len(raw))
	for _, s := range raw {
		out = append(out, model.Interval(s))
	}
	return out
}
