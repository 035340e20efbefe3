package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	UserAgent      string
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
	MaxBodyBytes   int64

	RulesFile       string
	SessionDir      string
	SessionBase     string
	MaxSessionFiles int

	DatabaseURL string
	HistoryDB   string

	LogFile  string
	LogLevel string
	JSONLog  bool

	OTLPEndpoint string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		UserAgent:      getEnv("CRYPTOSCAN_USER_AGENT", ""),
		RequestTimeout: time.Duration(getEnvInt("CRYPTOSCAN_REQUEST_TIMEOUT", 10)) * time.Second,
		RateLimit:      getEnvFloat("CRYPTOSCAN_RATE_LIMIT", 5),
		RateBurst:      getEnvInt("CRYPTOSCAN_RATE_BURST", 1),
		MaxBodyBytes:   int64(getEnvInt("CRYPTOSCAN_MAX_BODY_BYTES", 5<<20)),

		RulesFile:       getEnv("CRYPTOSCAN_RULES", ""),
		SessionDir:      getEnv("CRYPTOSCAN_SESSION_DIR", "."),
		SessionBase:     getEnv("CRYPTOSCAN_SESSION_BASE", "key"),
		MaxSessionFiles: getEnvInt("CRYPTOSCAN_MAX_SESSION_FILES", 1000),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		HistoryDB:   getEnv("CRYPTOSCAN_HISTORY_DB", ""),

		LogFile:  getEnvAllowEmpty("CRYPTOSCAN_LOG_FILE", "debug.log"),
		LogLevel: getEnv("CRYPTOSCAN_LOG_LEVEL", "info"),
		JSONLog:  getEnvBool("CRYPTOSCAN_JSON_LOG", false),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvAllowEmpty lets an explicitly empty variable switch a default off.
func getEnvAllowEmpty(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(val)
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil || f < 0 {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "json":
		return true
	case "0", "false", "no", "text":
		return false
	}
	return defaultVal
}
