package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BUXBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BUXBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject the tokens at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Feed.URL, "BUXBOT_FEED_URL")
	setStr(&cfg.Feed.Token, "BUXBOT_FEED_TOKEN")

	setStr(&cfg.Broker.URL, "BUXBOT_BROKER_URL")
	setStr(&cfg.Broker.Token, "BUXBOT_BROKER_TOKEN")
	setDuration(&cfg.Broker.Timeout, "BUXBOT_BROKER_TIMEOUT")

	setStr(&cfg.Redis.Addr, "BUXBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BUXBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BUXBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "BUXBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Channel, "BUXBOT_REDIS_CHANNEL")

	setStr(&cfg.Capture.Endpoint, "BUXBOT_CAPTURE_ENDPOINT")
	setStr(&cfg.Capture.Region, "BUXBOT_CAPTURE_REGION")
	setStr(&cfg.Capture.Bucket, "BUXBOT_CAPTURE_BUCKET")
	setStr(&cfg.Capture.AccessKey, "BUXBOT_CAPTURE_ACCESS_KEY")
	setStr(&cfg.Capture.SecretKey, "BUXBOT_CAPTURE_SECRET_KEY")
	setBool(&cfg.Capture.ForcePathStyle, "BUXBOT_CAPTURE_FORCE_PATH_STYLE")

	setStr(&cfg.Metrics.Addr, "BUXBOT_METRICS_ADDR")

	setStr(&cfg.Notify.TelegramToken, "BUXBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BUXBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BUXBOT_NOTIFY_DISCORD_WEBHOOK_URL")

	setStr(&cfg.LogLevel, "BUXBOT_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
