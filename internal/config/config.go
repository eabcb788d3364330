/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
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

// Config holds all the configuration variables for the transfer-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	PlaidBaseURL             string `mapstructure:"PLAID_BASE_URL"`
	PlaidClientID            string `mapstructure:"PLAID_CLIENT_ID"`
	PlaidSecret              string `mapstructure:"PLAID_SECRET"`
	DwollaBaseURL            string `mapstructure:"DWOLLA_BASE_URL"`
	DwollaAPIKey             string `mapstructure:"DWOLLA_API_KEY"`
	SourceFundingURL         string `mapstructure:"SOURCE_FUNDING_URL"`
	InternalAPIKey           string `mapstructure:"INTERNAL_API_KEY"`
	RepairRateLimitPerMinute int    `mapstructure:"REPAIR_RATE_LIMIT_PER_MINUTE"`
	LedgerDedupWindowMinutes int    `mapstructure:"LEDGER_DEDUP_WINDOW_MINUTES"`
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
	viper.SetDefault("PLAID_BASE_URL", "https://sandbox.plaid.com")
	viper.SetDefault("DWOLLA_BASE_URL", "https://api-sandbox.dwolla.com")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "horizon:rate_limit")
	viper.SetDefault("REPAIR_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("LEDGER_DEDUP_WINDOW_MINUTES", 5)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "TRANSFER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PLAID_BASE_URL")
	_ = viper.BindEnv("PLAID_CLIENT_ID")
	_ = viper.BindEnv("PLAID_SECRET")
	_ = viper.BindEnv("DWOLLA_BASE_URL")
	_ = viper.BindEnv("DWOLLA_API_KEY")
	_ = viper.BindEnv("SOURCE_FUNDING_URL", "SOURCE_FUNDING_URL", "DWOLLA_SOURCE_FUNDING_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "TRANSFER_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("REPAIR_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("LEDGER_DEDUP_WINDOW_MINUTES")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
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
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("TRANSFER_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "horizon:rate_limit"
	}
	config.SourceFundingURL = strings.TrimSpace(config.SourceFundingURL)
	config.DwollaBaseURL = strings.TrimSuffix(strings.TrimSpace(config.DwollaBaseURL), "/")
	config.PlaidBaseURL = strings.TrimSuffix(strings.TrimSpace(config.PlaidBaseURL), "/")
	if config.RepairRateLimitPerMinute <= 0 {
		config.RepairRateLimitPerMinute = 10
	}
	if config.LedgerDedupWindowMinutes <= 0 {
		config.LedgerDedupWindowMinutes = 5
	}

	return
}
