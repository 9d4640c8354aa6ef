package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is read from a json file first; environment variables override individual fields.
type Config struct {
	HttpPort        int      `json:"http_port" env:"PORT,overwrite"`
	DbConnString    string   `json:"db_conn_string" env:"DATABASE_URL,overwrite"`
	RedisAddr       string   `json:"redis_addr" env:"REDIS_ADDR,overwrite"`
	RedisPassword   string   `json:"redis_password" env:"REDIS_PASSWORD,overwrite"`
	RedisDB         int      `json:"redis_db" env:"REDIS_DB,overwrite"`
	RedisChannel    string   `json:"redis_channel" env:"REDIS_CHANNEL,overwrite"`
	PublishMaxRetry int      `json:"publish_max_retry" env:"PUBLISH_MAX_RETRY,overwrite"`
	VerifyToken     string   `json:"verify_token" env:"WEBHOOK_VERIFY_TOKEN,overwrite"`
	AppSecret       string   `json:"app_secret" env:"WHATSAPP_APP_SECRET,overwrite"`
	AllowedOrigins  []string `json:"allowed_origins" env:"CORS_ORIGIN,overwrite"`
	BroadcastBuffer int      `json:"broadcast_buffer" env:"BROADCAST_BUFFER,overwrite"`

	DeliveredAfterStr string        `json:"delivered_after" env:"STATUS_DELIVERED_AFTER,overwrite"`
	ReadAfterStr      string        `json:"read_after" env:"STATUS_READ_AFTER,overwrite"`
	DeliveredAfter    time.Duration `json:"-"`
	ReadAfter         time.Duration `json:"-"`
}

func defaults() *Config {
	return &Config{
		HttpPort:          5000,
		RedisChannel:      "wa:events",
		PublishMaxRetry:   3,
		VerifyToken:       "your_verify_token",
		AllowedOrigins:    []string{"http://localhost:5173"},
		BroadcastBuffer:   256,
		DeliveredAfterStr: "2s",
		ReadAfterStr:      "5s",
	}
}

// Read loads configFile on top of the defaults and applies overrides found through lookuper.
// A missing config file is not an error.
func Read(ctx context.Context, configFile string, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := defaults()

	content, err := os.ReadFile(configFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err = json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configFile, err)
		}
	}

	if err = envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	cfg.DeliveredAfter, err = time.ParseDuration(cfg.DeliveredAfterStr)
	if err != nil {
		return nil, fmt.Errorf("invalid delivered_after: %w", err)
	}
	cfg.ReadAfter, err = time.ParseDuration(cfg.ReadAfterStr)
	if err != nil {
		return nil, fmt.Errorf("invalid read_after: %w", err)
	}

	return cfg, nil
}
