// Package config loads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DB       string
	Schema   string
	SSLMode  string
}

type Config struct {
	// Server
	ServerAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	AdminToken    string

	// Extractor process
	YtDlpPath       string
	MetadataTimeout time.Duration
	StreamTimeout   time.Duration
	ProbeTimeout    time.Duration
	KillGrace       time.Duration

	// Metadata extraction
	MinRequestInterval time.Duration
	RetryAttempts      int
	RetryBaseDelay     time.Duration
	FallbackLadder     []string
	UserAgents         []string
	PrimaryPlatform    string

	// Cookies
	CookieDir             string
	FallbackCookieFile    string
	CookieBrowsers        []string
	BrowserProbeURL       string
	BrowserProbeTTL       time.Duration
	AutoExtractCookies    bool
	CookieServiceURL      string
	CookieRefreshInterval time.Duration

	// Inbound API limiter
	RateLimitRPS   float64
	RateLimitBurst int

	// Analysis queue
	AnalysisWorkers   int
	AnalysisQueueSize int
	AnalysisResultTTL time.Duration

	// Redis
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// PostgreSQL
	PostgresEnabled bool
	Postgres        PostgresConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file and then the environment. It reports
// whether a .env file was found so the caller can log it.
func Load() (*Config, bool) {
	found := godotenv.Load() == nil
	return New(), found
}

// New builds a Config from the current environment.
func New() *Config {
	return &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		ReadTimeout:   getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getEnvAsDuration("WRITE_TIMEOUT", 0),
		AdminToken:    getEnv("ADMIN_TOKEN", ""),

		YtDlpPath:       getEnv("YTDLP_PATH", ""),
		MetadataTimeout: getEnvAsDuration("METADATA_TIMEOUT", 45*time.Second),
		StreamTimeout:   getEnvAsDuration("STREAM_TIMEOUT", 2*time.Hour),
		ProbeTimeout:    getEnvAsDuration("PROBE_TIMEOUT", 20*time.Second),
		KillGrace:       getEnvAsDuration("KILL_GRACE", 3*time.Second),

		MinRequestInterval: getEnvAsDuration("MIN_REQUEST_INTERVAL", 2*time.Second),
		RetryAttempts:      getEnvAsInt("RETRY_ATTEMPTS", 3),
		RetryBaseDelay:     getEnvAsDuration("RETRY_BASE_DELAY", time.Second),
		FallbackLadder:     getEnvAsList("FALLBACK_LADDER", []string{"enhanced", "basic", "alternate-ua"}),
		UserAgents:         getEnvAsList("USER_AGENTS", nil),
		PrimaryPlatform:    getEnv("PRIMARY_PLATFORM", "youtube"),

		CookieDir:             getEnv("COOKIE_DIR", "./cookies"),
		FallbackCookieFile:    getEnv("FALLBACK_COOKIE_FILE", ""),
		CookieBrowsers:        getEnvAsList("COOKIE_BROWSERS", []string{"chrome", "firefox", "chromium", "edge"}),
		BrowserProbeURL:       getEnv("BROWSER_PROBE_URL", "https://www.youtube.com/watch?v=jNQXAC9IVRw"),
		BrowserProbeTTL:       getEnvAsDuration("BROWSER_PROBE_TTL", 10*time.Minute),
		AutoExtractCookies:    getEnvAsBool("AUTO_EXTRACT_COOKIES", false),
		CookieServiceURL:      getEnv("COOKIE_SERVICE_URL", "http://localhost:3001"),
		CookieRefreshInterval: getEnvAsDuration("COOKIE_REFRESH_INTERVAL", 6*time.Hour),

		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 20),

		AnalysisWorkers:   getEnvAsInt("ANALYSIS_WORKERS", 4),
		AnalysisQueueSize: getEnvAsInt("ANALYSIS_QUEUE_SIZE", 100),
		AnalysisResultTTL: getEnvAsDuration("ANALYSIS_RESULT_TTL", 24*time.Hour),

		RedisEnabled:  getEnvAsBool("REDIS_ENABLED", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		PostgresEnabled: getEnvAsBool("POSTGRES_ENABLED", false),
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			DB:       getEnv("POSTGRES_DB", "postgres"),
			Schema:   getEnv("POSTGRES_SCHEMA", "vidstream"),
			SSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
