// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	RunOnce = pflag.Bool("run-once", false, "Runs a single reconciliation cycle and exits")

	validLogLevels = []string{"debug", "info", "warn", "error", "fatal"}
	validDrivers   = []string{"sqlite", "postgres"}
)

var envs = map[string]string{
	"app.log_level": "app_log_level",

	"host.port": "host_port",
	"host.cors": "host_cors",

	"security.rate_limit": "security_rate_limit",

	"db.driver": "db_driver",
	"db.dsn":    "db_dsn",

	"stream.endpoint":       "stream_endpoint",
	"stream.library_id":     "stream_library_id",
	"stream.api_key":        "stream_api_key",
	"stream.timeout":        "stream_timeout",
	"stream.credential_ttl": "stream_credential_ttl",
	"stream.pull_zone_root": "stream_pull_zone_root",
	"stream.cdn_hostname":   "stream_cdn_hostname",

	"upload.default_description": "upload_default_description",

	"poller.interval":       "poller_interval",
	"poller.jitter_min":     "poller_jitter_min",
	"poller.jitter_max":     "poller_jitter_max",
	"poller.lock.redis_url": "poller_lock_redis_url",
	"poller.lock.ttl":       "poller_lock_ttl",

	"storage.enabled":           "storage_enabled",
	"storage.bucket":            "storage_bucket",
	"storage.region":            "storage_region",
	"storage.endpoint":          "storage_endpoint",
	"storage.access_key":        "storage_access_key",
	"storage.secret_access_key": "storage_secret_access_key",
	"storage.r2_account_id":     "storage_r2_account_id",

	"thumbnail.max_size": "thumbnail_max_size",

	"cloudflare.turnstile.enabled":      "cloudflare_turnstile_enabled",
	"cloudflare.turnstile.secret_token": "cloudflare_turnstile_secret_token",
}

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that.
func Setup() error {
	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)

	// A missing .env is fine, the environment may be set some other way
	if err := godotenv.Load(); err != nil {
		zap.L().Debug("No .env file loaded", zap.Error(err))
	}

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	for key, env := range envs {
		v.BindEnv(key, env)
	}

	SetDefaults()

	if err := v.ReadInConfig(); err != nil {
		var notFound v.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file, %w", err)
		}
	}

	return Validate()
}

func SetDefaults() {
	v.SetDefault("app.log_level", "info")

	v.SetDefault("host.port", 8080)
	v.SetDefault("host.cors", []string{"*"})

	v.SetDefault("security.rate_limit", 10)

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "database.db")

	v.SetDefault("stream.endpoint", "https://video.bunnycdn.com")
	v.SetDefault("stream.timeout", "10s")
	v.SetDefault("stream.credential_ttl", "24h")

	v.SetDefault("poller.interval", "15s")
	v.SetDefault("poller.jitter_min", "1s")
	v.SetDefault("poller.jitter_max", "5s")
	v.SetDefault("poller.lock.ttl", "5m")

	v.SetDefault("storage.enabled", false)

	v.SetDefault("thumbnail.max_size", 5)

	v.SetDefault("cloudflare.turnstile.enabled", false)
}

// Validate checks the loaded values. thumbnail.max_size is in megabytes.
func Validate() error {
	if !slices.Contains(validLogLevels, v.GetString("app.log_level")) {
		return errors.New("invalid log level provided")
	}

	if v.GetInt("host.port") <= 0 {
		return errors.New("invalid port provided")
	}

	if v.GetInt("security.rate_limit") <= 0 {
		return errors.New("security.rate_limit must be bigger than 0")
	}

	if !slices.Contains(validDrivers, v.GetString("db.driver")) {
		return errors.New("invalid database driver provided")
	}

	if v.GetString("db.driver") == "postgres" && v.GetString("db.dsn") == "" {
		return errors.New("postgres requires db.dsn")
	}

	if v.GetString("stream.library_id") == "" {
		return errors.New("stream.library_id can't be empty")
	}

	if v.GetString("stream.api_key") == "" {
		return errors.New("stream.api_key can't be empty")
	}

	if v.GetString("stream.pull_zone_root") == "" {
		return errors.New("stream.pull_zone_root can't be empty")
	}

	if v.GetString("stream.cdn_hostname") == "" {
		return errors.New("stream.cdn_hostname can't be empty")
	}

	if v.GetDuration("stream.timeout") <= 0 {
		return errors.New("stream.timeout must be bigger than 0")
	}

	if v.GetDuration("stream.credential_ttl") <= 0 {
		return errors.New("stream.credential_ttl must be bigger than 0")
	}

	if v.GetDuration("poller.interval") <= 0 {
		return errors.New("poller.interval must be bigger than 0")
	}

	if v.GetDuration("poller.jitter_min") < 0 || v.GetDuration("poller.jitter_max") < v.GetDuration("poller.jitter_min") {
		return errors.New("poller jitter window is invalid")
	}

	if v.GetString("poller.lock.redis_url") != "" && v.GetDuration("poller.lock.ttl") <= v.GetDuration("stream.timeout") {
		return errors.New("poller.lock.ttl must be longer than stream.timeout")
	}

	if v.GetBool("storage.enabled") {
		if v.GetString("storage.bucket") == "" {
			return errors.New("bucket can't be empty")
		}
		if v.GetString("storage.access_key") != "" && v.GetString("storage.secret_access_key") == "" {
			return errors.New("secret access key can't be empty")
		}
		if v.GetString("storage.r2_account_id") != "" && v.GetString("storage.access_key") == "" {
			return errors.New("r2 storage requires an access key")
		}
	} else {
		zap.L().Warn("Object storage is disabled, thumbnail uploads won't be accepted")
	}

	if v.GetInt("thumbnail.max_size") <= 0 {
		return errors.New("thumbnail.max_size must be bigger than 0")
	}

	if !v.GetBool("cloudflare.turnstile.enabled") {
		zap.L().Warn("Cloudflare's turnstile is disabled, upload creation isn't guarded against bots")
	} else if v.GetString("cloudflare.turnstile.secret_token") == "" {
		return errors.New("turnstile secret token is missing")
	}

	return nil
}
