package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the composition root needs to wire the library.
// It is loaded once from the environment; no other package reads env vars.
type Config struct {
	AppEnv        string
	APIBaseURL    string
	APIToken      string
	AppID         string
	AppName       string
	CachePath     string
	DatabaseURL   string
	PollInterval  time.Duration
	MaxActiveJobs int
	HTTPTimeout   time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. A .env file is honored when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		APIBaseURL:    getEnv("PIXVERSE_BASE_URL", "https://testingerapp.site/api"),
		APIToken:      os.Getenv("PIXVERSE_API_TOKEN"),
		AppID:         getEnv("PIXVERSE_APP_ID", "com.test.test"),
		AppName:       getEnv("PIXVERSE_APP_NAME", "pixverse"),
		CachePath:     getEnv("CACHE_PATH", "./cache"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		PollInterval:  time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 5)),
		MaxActiveJobs: getEnvInt("MAX_ACTIVE_GENERATIONS", 2),
		HTTPTimeout:   time.Second * time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 60)),
	}

	if cfg.APIToken == "" {
		return nil, fmt.Errorf("PIXVERSE_API_TOKEN is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
