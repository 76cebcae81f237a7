package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken string `envconfig:"BOT_TOKEN" required:"true"`
	DBPath   string `envconfig:"DB_PATH" default:"./data/remindo.db"`

	// Fallbacks used when a user or chat never picked a timezone.
	DefaultUserTZ string `envconfig:"DEFAULT_USER_TZ" default:"Asia/Tashkent"`
	DefaultChatTZ string `envconfig:"DEFAULT_CHAT_TZ" default:"UTC"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	MaxRetries   int           `envconfig:"REMINDER_MAX_RETRIES" default:"5"`
	RetryBase    int           `envconfig:"REMINDER_RETRY_BASE" default:"2"` // seconds, base^attempt
	PollInterval time.Duration `envconfig:"SCHEDULER_POLL_INTERVAL" default:"5s"`
}

// Load reads environment variables into Config. A .env file in the working
// directory is picked up first; a missing one is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
