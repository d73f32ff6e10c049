package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for the gateway process. It is
// loaded once at startup and passed down by value/pointer to the
// components that need it; nothing re-reads viper after Load returns.
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JobStore  JobStoreConfig
	Ingest    IngestConfig
	MQTT      MQTTIngestConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Port        string
	Host        string
	Environment string
}

// RedisConfig points at the shared store backing the dual-shape writes
// described in spec §6 (gps:history:global, gps:last:<device_id>).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JobStoreConfig is the Postgres DSN backing the durable job-queue
// backend (internal/jobqueue's persisted Job records).
type JobStoreConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c *JobStoreConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// IngestConfig carries every tunable named in spec §6's configuration
// table. Field names mirror the option names there, just CamelCased.
type IngestConfig struct {
	BatchIntervalMS              int
	BatchMaxSize                 int
	HistoryQueueConcurrency      int
	LatestQueueConcurrency       int
	JobMaxAttempts               int
	MaxHistoryEntries            int
	DuplicateEnabled             bool
	DuplicateTimeThresholdMS     int
	DuplicateCoordinateThreshold float64
	DuplicateCacheSize           int
	CleanupEnabled               bool
	MaxDeviceInactivityMS        int64 // 0 = unset
	LatestKeyTTLSeconds          int
	CompressPayloads             bool // Open Question 2: off by default, decompressed on drain
	MaxAge                       time.Duration
	MaxFuture                    time.Duration
	KeepCompletedHistory         int
	KeepCompletedLatest          int
	KeepFailedHistory            int
	KeepFailedLatest             int
	HistoryRetryBaseDelay        time.Duration
	LatestRetryBaseDelay         time.Duration
	ShutdownDeadline             time.Duration
}

// MQTTIngestConfig configures the optional telemetry transport in
// internal/mqttapi.
type MQTTIngestConfig struct {
	Enabled        bool
	Broker         string
	ClientID       string
	Username       string
	Password       string
	LocationTopic  string
	QoS            byte
	KeepAlive      int
	ConnectTimeout int
}

type RateLimitConfig struct {
	GeneralRPS   float64
	GeneralBurst int
}

type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// Load reads .env/environment variables into a typed Config, applying
// the defaults from spec §6 for anything left unset.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AddConfigPath(".")
	if homeDir, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(homeDir)
	}
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Printf("Warning: config file not found: %v. Falling back to environment variables only.", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        viper.GetString("SERVER_PORT"),
			Host:        viper.GetString("SERVER_HOST"),
			Environment: viper.GetString("ENVIRONMENT"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("REDIS_ADDR"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		JobStore: JobStoreConfig{
			Host:     viper.GetString("JOBSTORE_DB_HOST"),
			Port:     viper.GetString("JOBSTORE_DB_PORT"),
			User:     viper.GetString("JOBSTORE_DB_USER"),
			Password: viper.GetString("JOBSTORE_DB_PASSWORD"),
			DBName:   viper.GetString("JOBSTORE_DB_NAME"),
			SSLMode:  viper.GetString("JOBSTORE_DB_SSLMODE"),
		},
		Ingest: IngestConfig{
			BatchIntervalMS:              viper.GetInt("BATCH_INTERVAL_MS"),
			BatchMaxSize:                 viper.GetInt("BATCH_MAX_SIZE"),
			HistoryQueueConcurrency:      viper.GetInt("HISTORY_QUEUE_CONCURRENCY"),
			LatestQueueConcurrency:       viper.GetInt("LATEST_QUEUE_CONCURRENCY"),
			JobMaxAttempts:               viper.GetInt("JOB_MAX_ATTEMPTS"),
			MaxHistoryEntries:            viper.GetInt("MAX_HISTORY_ENTRIES"),
			DuplicateEnabled:             viper.GetBool("DUPLICATE_ENABLED"),
			DuplicateTimeThresholdMS:     viper.GetInt("DUPLICATE_TIME_THRESHOLD_MS"),
			DuplicateCoordinateThreshold: viper.GetFloat64("DUPLICATE_COORDINATE_THRESHOLD"),
			DuplicateCacheSize:           viper.GetInt("DUPLICATE_CACHE_SIZE"),
			CleanupEnabled:               viper.GetBool("CLEANUP_ENABLED"),
			MaxDeviceInactivityMS:        viper.GetInt64("MAX_DEVICE_INACTIVITY_MS"),
			LatestKeyTTLSeconds:          viper.GetInt("LATEST_KEY_TTL_S"),
			CompressPayloads:             viper.GetBool("COMPRESS_PAYLOADS"),
			MaxAge:                       viper.GetDuration("MAX_AGE"),
			MaxFuture:                    viper.GetDuration("MAX_FUTURE"),
			KeepCompletedHistory:         viper.GetInt("KEEP_COMPLETED_HISTORY"),
			KeepCompletedLatest:          viper.GetInt("KEEP_COMPLETED_LATEST"),
			KeepFailedHistory:            viper.GetInt("KEEP_FAILED_HISTORY"),
			KeepFailedLatest:             viper.GetInt("KEEP_FAILED_LATEST"),
			HistoryRetryBaseDelay:        viper.GetDuration("HISTORY_RETRY_BASE_DELAY"),
			LatestRetryBaseDelay:         viper.GetDuration("LATEST_RETRY_BASE_DELAY"),
			ShutdownDeadline:             viper.GetDuration("SHUTDOWN_DEADLINE"),
		},
		MQTT: MQTTIngestConfig{
			Enabled:        viper.GetBool("MQTT_ENABLED"),
			Broker:         viper.GetString("MQTT_BROKER"),
			ClientID:       viper.GetString("MQTT_CLIENT_ID"),
			Username:       viper.GetString("MQTT_USERNAME"),
			Password:       viper.GetString("MQTT_PASSWORD"),
			LocationTopic:  viper.GetString("MQTT_LOCATION_TOPIC"),
			QoS:            byte(viper.GetInt("MQTT_QOS")),
			KeepAlive:      viper.GetInt("MQTT_KEEPALIVE_SECONDS"),
			ConnectTimeout: viper.GetInt("MQTT_CONNECT_TIMEOUT_SECONDS"),
		},
		RateLimit: RateLimitConfig{
			GeneralRPS:   viper.GetFloat64("RATE_LIMIT_GENERAL_RPS"),
			GeneralBurst: viper.GetInt("RATE_LIMIT_GENERAL_BURST"),
		},
		CORS: CORSConfig{
			AllowedOrigins:   viper.GetStringSlice("CORS_ALLOWED_ORIGINS"),
			AllowedMethods:   viper.GetStringSlice("CORS_ALLOWED_METHODS"),
			AllowedHeaders:   viper.GetStringSlice("CORS_ALLOWED_HEADERS"),
			ExposedHeaders:   viper.GetStringSlice("CORS_EXPOSED_HEADERS"),
			AllowCredentials: viper.GetBool("CORS_ALLOW_CREDENTIALS"),
			MaxAge:           viper.GetInt("CORS_MAX_AGE"),
		},
	}

	return cfg, nil
}

// setDefaults mirrors spec §6's configuration table.
func setDefaults() {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("ENVIRONMENT", "development")

	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)

	viper.SetDefault("BATCH_INTERVAL_MS", 10000)
	viper.SetDefault("BATCH_MAX_SIZE", 100)
	viper.SetDefault("HISTORY_QUEUE_CONCURRENCY", 5)
	viper.SetDefault("LATEST_QUEUE_CONCURRENCY", 3)
	viper.SetDefault("JOB_MAX_ATTEMPTS", 3)
	viper.SetDefault("MAX_HISTORY_ENTRIES", 100000)
	viper.SetDefault("DUPLICATE_ENABLED", true)
	viper.SetDefault("DUPLICATE_TIME_THRESHOLD_MS", 1000)
	viper.SetDefault("DUPLICATE_COORDINATE_THRESHOLD", 0.0001)
	viper.SetDefault("DUPLICATE_CACHE_SIZE", 1000)
	viper.SetDefault("CLEANUP_ENABLED", true)
	viper.SetDefault("MAX_DEVICE_INACTIVITY_MS", 0)
	viper.SetDefault("LATEST_KEY_TTL_S", 604800)
	viper.SetDefault("COMPRESS_PAYLOADS", false)
	viper.SetDefault("MAX_AGE", 24*time.Hour)
	viper.SetDefault("MAX_FUTURE", 5*time.Minute)
	viper.SetDefault("KEEP_COMPLETED_HISTORY", 100)
	viper.SetDefault("KEEP_COMPLETED_LATEST", 50)
	viper.SetDefault("KEEP_FAILED_HISTORY", 50)
	viper.SetDefault("KEEP_FAILED_LATEST", 25)
	viper.SetDefault("HISTORY_RETRY_BASE_DELAY", 2*time.Second)
	viper.SetDefault("LATEST_RETRY_BASE_DELAY", 1*time.Second)
	viper.SetDefault("SHUTDOWN_DEADLINE", 30*time.Second)

	viper.SetDefault("MQTT_ENABLED", false)
	viper.SetDefault("MQTT_QOS", 1)
	viper.SetDefault("MQTT_KEEPALIVE_SECONDS", 30)
	viper.SetDefault("MQTT_CONNECT_TIMEOUT_SECONDS", 10)

	viper.SetDefault("RATE_LIMIT_GENERAL_RPS", 50.0)
	viper.SetDefault("RATE_LIMIT_GENERAL_BURST", 100)

	viper.SetDefault("CORS_ALLOWED_ORIGINS", []string{"*"})
	viper.SetDefault("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE"})
	viper.SetDefault("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"})
	viper.SetDefault("CORS_MAX_AGE", 300)
}
