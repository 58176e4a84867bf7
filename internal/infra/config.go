package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents gateway configuration loaded from environment variables.
type Config struct {
	AppEnv               string
	Port                 string
	DatabaseURL          string
	DBMaxConns           int
	FlowBaseURL          string
	FlowSessionURL       string
	RelayBaseURL         string
	RelaySecret          string
	GeminiAPIKey         string
	GeminiBaseURL        string
	DefaultUsageLimit    int
	UpstreamTimeout      time.Duration
	HTTPReadTimeout      time.Duration
	HTTPWriteTimeout     time.Duration
	HTTPIdleTimeout      time.Duration
	RateLimitPerMin      int
	CORSAllowedOrigins   []string
	WebhookAPIKey        string
	DownloadAllowedHosts []string
	GeoIPDBPath          string
	LogFile              string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		Port:                 getEnv("PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		DBMaxConns:           getEnvInt("DB_MAX_CONNS", 10),
		FlowBaseURL:          getEnv("FLOW_BASE_URL", "https://aisandbox-pa.googleapis.com/v1"),
		FlowSessionURL:       getEnv("FLOW_SESSION_URL", "https://labs.google/fx/api/auth/session"),
		RelayBaseURL:         os.Getenv("RELAY_BASE_URL"),
		RelaySecret:          os.Getenv("RELAY_SECRET"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:        getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		DefaultUsageLimit:    getEnvInt("DEFAULT_USAGE_LIMIT", 50),
		UpstreamTimeout:      time.Second * time.Duration(getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 60)),
		HTTPReadTimeout:      time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:     time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 180)),
		HTTPIdleTimeout:      time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:      getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		CORSAllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		WebhookAPIKey:        os.Getenv("WEBHOOK_API_KEY"),
		DownloadAllowedHosts: getEnvList("DOWNLOAD_ALLOWED_HOSTS", nil),
		GeoIPDBPath:          os.Getenv("GEOIP_DB_PATH"),
		LogFile:              os.Getenv("LOG_FILE"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RelayBaseURL != "" && cfg.RelaySecret == "" {
		return nil, fmt.Errorf("RELAY_SECRET is required when RELAY_BASE_URL is set")
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

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
