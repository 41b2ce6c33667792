package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               string
	DatabaseURL        string
	LinkBaseURL        string
	TokenTTL           time.Duration
	LockTimeout        time.Duration
	RateLimitPerMinute int
	RateLimitBurst     int
	BranchRatePerMin   int
	BranchRateBurst    int
}

func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:               port,
		DatabaseURL:        os.Getenv("DB_DSN"),
		LinkBaseURL:        os.Getenv("LINK_BASE_URL"),
		TokenTTL:           readDurationHours("TOKEN_TTL_HOURS", 24),
		LockTimeout:        readDurationMillis("LOCK_TIMEOUT_MS", 3000),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
		BranchRatePerMin:   readInt("BRANCH_RATE_LIMIT_PER_MIN", 600),
		BranchRateBurst:    readInt("BRANCH_RATE_LIMIT_BURST", 120),
	}
}

func readDurationHours(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Hour
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
