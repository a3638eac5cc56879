// Package config defines the buxbot configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/quintic/buxbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BUXBOT_* environment
// variables.
type Config struct {
	Feed     FeedConfig    `toml:"feed"`
	Broker   BrokerConfig  `toml:"broker"`
	Redis    RedisConfig   `toml:"redis"`
	Capture  CaptureConfig `toml:"capture"`
	Metrics  MetricsConfig `toml:"metrics"`
	Notify   NotifyConfig  `toml:"notify"`
	Trades   []TradeEntry  `toml:"trades"`
	LogLevel string        `toml:"log_level"`
}

// FeedConfig holds the quote subscription stream parameters.
type FeedConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// BrokerConfig holds the order API parameters.
type BrokerConfig struct {
	URL     string   `toml:"url"`
	Token   string   `toml:"token"`
	Timeout duration `toml:"timeout"`
}

// RedisConfig holds the optional telemetry mirror parameters. Disabled when
// Addr is empty.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Channel    string `toml:"channel"` // pub/sub channel for lifecycle events
}

// CaptureConfig holds the optional market-data capture parameters. Disabled
// when Bucket is empty.
type CaptureConfig struct {
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Prefix         string   `toml:"prefix"`
	FlushInterval  duration `toml:"flush_interval"`
}

// MetricsConfig holds the optional Prometheus listener address. Disabled
// when Addr is empty.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// NotifyConfig holds the optional operator notification channels.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
}

// TradeEntry is one configured instrument.
type TradeEntry struct {
	ProductID       string  `toml:"product_id"`
	Amount          float64 `toml:"amount"`
	EntryPrice      float64 `toml:"entry_price"`
	StopLossPrice   float64 `toml:"stop_loss_price"`
	TakeProfitPrice float64 `toml:"take_profit_price"`
	Leverage        int     `toml:"leverage"`
}

// ToDomain converts the entry to the engine's trade config.
func (t TradeEntry) ToDomain() domain.TradeConfig {
	return domain.TradeConfig{
		ProductID:       t.ProductID,
		Amount:          t.Amount,
		EntryPrice:      t.EntryPrice,
		StopLossPrice:   t.StopLossPrice,
		TakeProfitPrice: t.TakeProfitPrice,
		Leverage:        t.Leverage,
	}
}

// duration wraps time.Duration for TOML decoding from strings like "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Defaults returns the built-in configuration baseline.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			URL: "wss://rtf.getbux.com/subscriptions/me",
		},
		Broker: BrokerConfig{
			URL:     "https://api.getbux.com",
			Timeout: duration{30 * time.Second},
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
			Channel:    "buxbot:lifecycle",
		},
		Capture: CaptureConfig{
			Region:        "us-east-1",
			Prefix:        "quotes",
			FlushInterval: duration{time.Minute},
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for trading. It returns a single error
// aggregating every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Feed.URL == "" {
		errs = append(errs, "feed: url must be set")
	}
	if c.Feed.Token == "" {
		errs = append(errs, "feed: token must be set")
	}
	if c.Broker.URL == "" {
		errs = append(errs, "broker: url must be set")
	}
	if c.Broker.Token == "" {
		errs = append(errs, "broker: token must be set")
	}

	if len(c.Trades) == 0 {
		errs = append(errs, "trades: at least one trade must be configured")
	}
	seen := make(map[string]bool, len(c.Trades))
	for i, t := range c.Trades {
		prefix := fmt.Sprintf("trades[%d]", i)
		if t.ProductID == "" {
			errs = append(errs, prefix+": product_id must be set")
			continue
		}
		if seen[t.ProductID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate product_id %q", prefix, t.ProductID))
		}
		seen[t.ProductID] = true

		if t.Amount <= 0 {
			errs = append(errs, fmt.Sprintf("%s (%s): amount must be positive", prefix, t.ProductID))
		}
		if t.Leverage < 1 {
			errs = append(errs, fmt.Sprintf("%s (%s): leverage must be at least 1", prefix, t.ProductID))
		}
		if t.StopLossPrice > t.EntryPrice {
			errs = append(errs, fmt.Sprintf("%s (%s): stop_loss_price must not exceed entry_price", prefix, t.ProductID))
		}
		if t.EntryPrice > t.TakeProfitPrice {
			errs = append(errs, fmt.Sprintf("%s (%s): entry_price must not exceed take_profit_price", prefix, t.ProductID))
		}
	}

	if c.Capture.Bucket != "" && c.Capture.Region == "" {
		errs = append(errs, "capture: region must be set when bucket is configured")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
