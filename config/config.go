package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the coordination server.
// Tags use mapstructure for Viper unmarshalling; every value can also be
// set through the matching environment variable.
type ServerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogPretty   bool   `mapstructure:"LOG_PRETTY"`

	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// JWTSigningKey, when set, enables signature verification of inbound
	// bearer tokens. When empty, tokens are assumed verified upstream (e.g.
	// by the ingress) and only claim extraction is performed.
	JWTSigningKey string `mapstructure:"JWT_SIGNING_KEY"`

	// Stream settings. The defaults mirror the values the deployed system
	// has always run with; they are configuration rather than constants so
	// operators can tune redelivery behavior per environment.
	StreamName         string        `mapstructure:"STREAM_NAME"`
	ConsumerGroup      string        `mapstructure:"CONSUMER_GROUP"`
	StreamMaxLen       int64         `mapstructure:"STREAM_MAX_LEN"`
	ReadBlock          time.Duration `mapstructure:"READ_BLOCK"`
	ReadCount          int64         `mapstructure:"READ_COUNT"`
	MaxConsumerErrors  int           `mapstructure:"MAX_CONSUMER_ERRORS"`
	ConsumerBackoff    time.Duration `mapstructure:"CONSUMER_BACKOFF"`
	ConsumerBackoffCap time.Duration `mapstructure:"CONSUMER_BACKOFF_CAP"`
	ReclaimMinIdle     time.Duration `mapstructure:"RECLAIM_MIN_IDLE"`
	ReclaimInterval    time.Duration `mapstructure:"RECLAIM_INTERVAL"`
	DedupWindow        time.Duration `mapstructure:"DEDUP_WINDOW"`

	// Connection registry settings.
	ConnectionTTL   time.Duration `mapstructure:"CONNECTION_TTL"`
	StaleMaxAge     time.Duration `mapstructure:"STALE_MAX_AGE"`
	StaleSweepEvery time.Duration `mapstructure:"STALE_SWEEP_EVERY"`
}

// LoadConfig reads configuration from file, environment variables, and
// defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/radsync/")
	v.AddConfigPath("$HOME/.radsync")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/radsync_dev")
	v.SetDefault("MONGO_DB_NAME", "radsync_dev")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "radsync-server")

	v.SetDefault("STREAM_NAME", "dictation_stream")
	v.SetDefault("CONSUMER_GROUP", "radiology_sync")
	v.SetDefault("STREAM_MAX_LEN", 10000)
	v.SetDefault("READ_BLOCK", 5*time.Second)
	v.SetDefault("READ_COUNT", 10)
	v.SetDefault("MAX_CONSUMER_ERRORS", 5)
	v.SetDefault("CONSUMER_BACKOFF", 2*time.Second)
	v.SetDefault("CONSUMER_BACKOFF_CAP", 30*time.Second)
	v.SetDefault("RECLAIM_MIN_IDLE", time.Minute)
	v.SetDefault("RECLAIM_INTERVAL", time.Minute)
	v.SetDefault("DEDUP_WINDOW", 10*time.Minute)

	v.SetDefault("CONNECTION_TTL", time.Hour)
	v.SetDefault("STALE_MAX_AGE", time.Hour)
	v.SetDefault("STALE_SWEEP_EVERY", 5*time.Minute)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine: defaults and env vars apply.
		// Anything else (unreadable or malformed file) is a real error.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
