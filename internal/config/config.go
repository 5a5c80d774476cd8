/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the transfer service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`

	RabbitMQURL   string `mapstructure:"RABBITMQ_URL"`
	EventExchange string `mapstructure:"EVENT_EXCHANGE"`

	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`

	JWTSecret string `mapstructure:"JWT_SECRET"`

	OutboxIntervalSeconds int `mapstructure:"OUTBOX_INTERVAL_SECONDS"`
	OutboxBatchSize       int `mapstructure:"OUTBOX_BATCH_SIZE"`

	ExpirySweepIntervalSeconds int `mapstructure:"EXPIRY_SWEEP_INTERVAL_SECONDS"`
	ExpirySweepBatchSize       int `mapstructure:"EXPIRY_SWEEP_BATCH_SIZE"`

	TransferRequestsPerMinute int `mapstructure:"TRANSFER_REQUESTS_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("EVENT_EXCHANGE", "transfer.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "pbtx:rate_limit")
	viper.SetDefault("OUTBOX_INTERVAL_SECONDS", 5)
	viper.SetDefault("OUTBOX_BATCH_SIZE", 100)
	viper.SetDefault("EXPIRY_SWEEP_INTERVAL_SECONDS", 300)
	viper.SetDefault("EXPIRY_SWEEP_BATCH_SIZE", 100)
	viper.SetDefault("TRANSFER_REQUESTS_PER_MINUTE", 0)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("OUTBOX_INTERVAL_SECONDS")
	_ = viper.BindEnv("OUTBOX_BATCH_SIZE")
	_ = viper.BindEnv("EXPIRY_SWEEP_INTERVAL_SECONDS")
	_ = viper.BindEnv("EXPIRY_SWEEP_BATCH_SIZE")
	_ = viper.BindEnv("TRANSFER_REQUESTS_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "pbtx:rate_limit"
	}

	if config.OutboxIntervalSeconds <= 0 {
		config.OutboxIntervalSeconds = 5
	}
	if config.OutboxBatchSize <= 0 {
		config.OutboxBatchSize = 100
	}
	if config.ExpirySweepIntervalSeconds <= 0 {
		config.ExpirySweepIntervalSeconds = 300
	}
	if config.ExpirySweepBatchSize <= 0 {
		config.ExpirySweepBatchSize = 100
	}
	if config.TransferRequestsPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative transfer rate limit configured; disabling\" limit=%d", config.TransferRequestsPerMinute)
		config.TransferRequestsPerMinute = 0
	}

	return
}
