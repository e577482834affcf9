// Package config loads process settings and the accounts/columns file.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string // SQLite file, used when DatabaseURL is empty
	DatabaseURL  string // PostgreSQL connection string
	ListenAddr   string
	ColumnsFile  string

	// PollInterval is how often the poller looks for columns that are due.
	PollInterval time.Duration
	// PushBatchSize caps the items pushed per read-later run.
	PushBatchSize int

	TwitterConsumerKey    string
	TwitterConsumerSecret string
	SuccessWhaleURL       string
	InstapaperURL         string

	// RedisURL enables column state fan-out over Redis pub/sub when set.
	RedisURL string
}

// Load reads configuration from the environment, after loading .env if present.
func Load() *Config {
	_ = godotenv.Load()

	pollSecs := getEnvInt("POLL_INTERVAL_SECONDS", 60)
	if pollSecs < 1 {
		pollSecs = 1
	}

	return &Config{
		DatabasePath:          getEnv("DATABASE_PATH", "onosendai.db"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		ListenAddr:            getEnv("LISTEN_ADDR", ":8080"),
		ColumnsFile:           getEnv("COLUMNS_FILE", "columns.json"),
		PollInterval:          time.Duration(pollSecs) * time.Second,
		PushBatchSize:         getEnvInt("PUSH_BATCH_SIZE", 10),
		TwitterConsumerKey:    getEnv("TWITTER_CONSUMER_KEY", ""),
		TwitterConsumerSecret: getEnv("TWITTER_CONSUMER_SECRET", ""),
		SuccessWhaleURL:       getEnv("SUCCESSWHALE_URL", "https://api.successwhale.com"),
		InstapaperURL:         getEnv("INSTAPAPER_URL", "https://www.instapaper.com"),
		RedisURL:              getEnv("REDIS_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := getEnv(key, strconv.Itoa(fallback))
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Invalid %s '%s', using default %d: %v", key, raw, fallback, err)
		return fallback
	}
	return v
}
