package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// ErrDiscordTokenNotSet is returned when DISCORD_TOKEN is missing
var ErrDiscordTokenNotSet = errors.New("DISCORD_TOKEN is not set")

// Config holds all runtime configuration, loaded from the environment
type Config struct {
	DiscordToken string
	DatabasePath string
	LastFMAPIKey string

	NodeID       string
	NodeAddress  string
	NodePassword string
	NodeSecure   bool

	AloneGrace        time.Duration
	IdleTimeout       time.Duration
	ReconcileInterval time.Duration

	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from the environment. A .env file is
// honored when present.
func LoadConfig() (*Config, error) {
	// Missing .env is fine in containerized deployments.
	_ = godotenv.Load()

	discordToken := os.Getenv("DISCORD_TOKEN")
	if discordToken == "" {
		return nil, ErrDiscordTokenNotSet
	}

	return &Config{
		DiscordToken: discordToken,
		DatabasePath: getEnv("DATABASE_PATH", "resona.db"),
		LastFMAPIKey: os.Getenv("LASTFM_API_KEY"),

		NodeID:       getEnv("NODE_ID", "main"),
		NodeAddress:  getEnv("NODE_ADDRESS", "localhost:2333"),
		NodePassword: os.Getenv("NODE_PASSWORD"),
		NodeSecure:   getEnvBool("NODE_SECURE", false),

		AloneGrace:        getEnvDuration("ALONE_GRACE", 10*time.Second),
		IdleTimeout:       getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
