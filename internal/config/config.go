/**
 * @description
 * This package handles configuration management for the marketing service.
 * It uses the Viper library to read configuration from environment
 * variables, providing a centralized way to manage application settings.
 *
 * The loyalty point amounts used to live in a lazily-created settings row;
 * they are now explicit configuration loaded once at startup and injected
 * into the ledger and engine constructors.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the marketing service.
// These values are loaded from environment variables.
type Config struct {
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	RedisURL        string `mapstructure:"REDIS_URL"`
	RabbitMQURL     string `mapstructure:"RABBITMQ_URL"`
	NotifierBaseURL string `mapstructure:"NOTIFIER_BASE_URL"`
	NotifierAPIKey  string `mapstructure:"NOTIFIER_API_KEY"`

	ExecutionExchange string `mapstructure:"EXECUTION_EXCHANGE"`
	ExecutionQueue    string `mapstructure:"EXECUTION_QUEUE"`

	// Loyalty point amounts. Zero disables the corresponding grant.
	PointsPerDollar        float64 `mapstructure:"POINTS_PER_DOLLAR"`
	SignupBonusPoints      int64   `mapstructure:"SIGNUP_BONUS_POINTS"`
	ReviewBonusPoints      int64   `mapstructure:"REVIEW_BONUS_POINTS"`
	BirthdayBonusPoints    int64   `mapstructure:"BIRTHDAY_BONUS_POINTS"`
	ReferrerBonusPoints    int64   `mapstructure:"REFERRER_BONUS_POINTS"`
	ReferredBonusPoints    int64   `mapstructure:"REFERRED_BONUS_POINTS"`
	TierUpgradeBonusPoints int64   `mapstructure:"TIER_UPGRADE_BONUS_POINTS"`
	PointsExpiryDays       int     `mapstructure:"POINTS_EXPIRY_DAYS"`

	// Workflow and campaign sweeps.
	ResumeSweepSchedule   string `mapstructure:"RESUME_SWEEP_SCHEDULE"`
	CampaignSweepSchedule string `mapstructure:"CAMPAIGN_SWEEP_SCHEDULE"`
	PointsExpirySchedule  string `mapstructure:"POINTS_EXPIRY_SCHEDULE"`
	ResumeSweepBatchSize  int    `mapstructure:"RESUME_SWEEP_BATCH_SIZE"`
	AudienceBatchSize     int    `mapstructure:"AUDIENCE_BATCH_SIZE"`
	SweepLockTTLSeconds   int    `mapstructure:"SWEEP_LOCK_TTL_SECONDS"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to bind environment variables to the Config struct.
func LoadConfig(path string) (Config, error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("EXECUTION_EXCHANGE", "marketing.events")
	viper.SetDefault("EXECUTION_QUEUE", "marketing_service.workflow_executions")
	viper.SetDefault("POINTS_PER_DOLLAR", 1.0)
	viper.SetDefault("SIGNUP_BONUS_POINTS", 100)
	viper.SetDefault("REVIEW_BONUS_POINTS", 50)
	viper.SetDefault("BIRTHDAY_BONUS_POINTS", 250)
	viper.SetDefault("REFERRER_BONUS_POINTS", 200)
	viper.SetDefault("REFERRED_BONUS_POINTS", 100)
	viper.SetDefault("TIER_UPGRADE_BONUS_POINTS", 50)
	viper.SetDefault("POINTS_EXPIRY_DAYS", 365)
	viper.SetDefault("RESUME_SWEEP_SCHEDULE", "@every 2m")
	viper.SetDefault("CAMPAIGN_SWEEP_SCHEDULE", "@every 5m")
	viper.SetDefault("POINTS_EXPIRY_SCHEDULE", "0 3 * * *") // Daily at 03:00.
	viper.SetDefault("RESUME_SWEEP_BATCH_SIZE", 100)
	viper.SetDefault("AUDIENCE_BATCH_SIZE", 500)
	viper.SetDefault("SWEEP_LOCK_TTL_SECONDS", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("NOTIFIER_BASE_URL")
	_ = viper.BindEnv("NOTIFIER_API_KEY")

	// Read the optional .env file; missing is fine, env vars still apply.
	_ = viper.ReadInConfig()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, err
	}
	return config, nil
}
