package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Alijeyrad/carebook_backend/pkg/constants"
)

func ReadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(constants.ConfigName)
	v.SetConfigType(constants.ConfigFormat)
	v.AddConfigPath(configPath)

	// Allow env vars to override config values.
	// e.g. CAREBOOK_MONGO_URI overrides mongo.uri
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read the config file (optional in Docker environments)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if os.Getenv(constants.EnvPrefix+"_MONGO_URI") == "" {
			return nil, fmt.Errorf("config file not found in %q and %s_MONGO_URI is not set", configPath, constants.EnvPrefix)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// FromCommand reads the config next to the root --config flag.
func FromCommand(cmd *cobra.Command) (*Config, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("read --config flag: %w", err)
	}
	return ReadConfig(filepath.Dir(path))
}

// setDefaults registers defaults so AutomaticEnv can bind keys absent from the file.
func setDefaults(v *viper.Viper) {
	b := DefaultBilling()
	v.SetDefault("billing.currency", b.Currency)
	v.SetDefault("billing.free_cancellation_hours", b.FreeCancellationHours)
	v.SetDefault("billing.late_cancellation_fraction", b.LateCancellationFraction)
	v.SetDefault("billing.same_day_surcharge", b.SameDaySurcharge)
	v.SetDefault("billing.payout_base_rate", b.PayoutBaseRate)
	v.SetDefault("billing.payout_tier_rate", b.PayoutTierRate)
	v.SetDefault("billing.payout_tier_sessions", b.PayoutTierSessions)
	v.SetDefault("billing.therapist_level_up_sessions", b.TherapistLevelUpSessions)
	v.SetDefault("billing.payout_weekday", b.PayoutWeekday)
	v.SetDefault("billing.payout_method", b.PayoutMethod)
	v.SetDefault("billing.payout_recovery_minutes", b.PayoutRecoveryMinutes)
	v.SetDefault("billing.provider_timeout_seconds", b.ProviderTimeoutSeconds)
	v.SetDefault("billing.verification_cache_ttl_minutes", b.VerificationCacheTTLMinutes)
	v.SetDefault("billing.expiry_grace_hours", b.ExpiryGraceHours)

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", constants.AppName)
	v.SetDefault("mongo.connect_timeout_seconds", 10)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.timeout_seconds", 30)
	v.SetDefault("server.rate_limit.max", 60)
	v.SetDefault("server.rate_limit.expiration_seconds", 60)

	v.SetDefault("authentication.paseto.mode", "local")
	v.SetDefault("authentication.paseto.issuer", constants.AppName)
	v.SetDefault("authentication.paseto.audience", constants.AppName)
	v.SetDefault("authentication.paseto.access_ttl_minutes", 60)
	v.SetDefault("authentication.session_ttl_minutes", 1440)
	v.SetDefault("authorization.casbin_model_path", "casbin_model.conf")

	v.SetDefault("jobs.lock_ttl_seconds", 300)
	v.SetDefault("jobs.run_timeout_seconds", 600)
	v.SetDefault("jobs.recurring_repair", "@daily")
	v.SetDefault("jobs.balance_repair", "@hourly")
	v.SetDefault("jobs.expire_confirmed", "@every 30m")
	v.SetDefault("jobs.payout_recovery", "@every 15m")
	v.SetDefault("jobs.scheduled_payouts", "0 9 * * 5")

	v.SetDefault("observability.service_name", constants.AppName)
}
