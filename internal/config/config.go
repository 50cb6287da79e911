package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is filled once at startup; nothing else reads the environment.
type Config struct {
	Port         string
	APIKey       string
	DBDriver     string
	DBURL        string
	DataFile     string
	RedisAddr    string
	CacheTTL     time.Duration
	MaxBodyBytes int64
	LogLevel     string
	LogFormat    string
}

// Load reads .env (when present) and the environment, applying defaults.
// An empty DB_URL selects the flat-file backend.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:         getenv("PORT", "8080"),
		APIKey:       getenv("SOSBOX_API_KEY", ""),
		DBDriver:     getenv("DB_DRIVER", "postgres"),
		DBURL:        getenv("DB_URL", ""),
		DataFile:     getenv("DATA_FILE", "data/boxes.json"),
		RedisAddr:    getenv("REDIS_ADDR", ""),
		CacheTTL:     getenvDuration("CACHE_TTL", 5*time.Second),
		MaxBodyBytes: getenvInt64("MAX_BODY_BYTES", 1_000_000),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		LogFormat:    getenv("LOG_FORMAT", "console"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getenvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
