package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig
	Records RecordsConfig
	Query   QueryConfig
	Retry   RetryConfig
	Breaker BreakerConfig
	Cache   CacheConfig
	Redis   RedisConfig
	OTEL    OTELConfig
	Log     LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	SSEHeartbeat   time.Duration
}

// RecordsConfig describes the records service the views read from
type RecordsConfig struct {
	BaseURL string
	Timeout time.Duration
	// APIToken is sent as a bearer token when set. Usually supplied by Vault.
	APIToken         string
	PatientsPath     string
	AppointmentsPath string
	AssignmentsPath  string
	SweepPageSize    int
	SweepConcurrency int
}

// QueryConfig holds record-view defaults
type QueryConfig struct {
	PageSize       int
	Debounce       time.Duration
	PageWindow     int
	SessionIdleTTL time.Duration
}

// RetryConfig holds retry settings for record fetches
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// BreakerConfig holds circuit breaker settings for the records client
type BreakerConfig struct {
	MaxFailures int
	OpenTimeout time.Duration
}

// CacheConfig holds full-sweep cache settings
type CacheConfig struct {
	TTL        time.Duration
	MemorySize int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
	LogsEnabled    bool
}

// LogConfig holds logger configuration
type LogConfig struct {
	Env   string
	Level string
}

var defaults = map[string]interface{}{
	"SERVER_HOST":               "0.0.0.0",
	"SERVER_PORT":               8080,
	"ALLOWED_ORIGINS":           "*",
	"SSE_HEARTBEAT":             "30s",
	"RECORDS_BASE_URL":          "http://localhost:8000",
	"RECORDS_TIMEOUT":           "10s",
	"RECORDS_API_TOKEN":         "",
	"RECORDS_PATIENTS_PATH":     "/api/patients",
	"RECORDS_APPOINTMENTS_PATH": "/api/appointments",
	"RECORDS_ASSIGNMENTS_PATH":  "/api/opd-assignments",
	"RECORDS_SWEEP_PAGE_SIZE":   100,
	"RECORDS_SWEEP_CONCURRENCY": 4,
	"QUERY_PAGE_SIZE":           10,
	"QUERY_DEBOUNCE":            "300ms",
	"QUERY_PAGE_WINDOW":         5,
	"QUERY_SESSION_IDLE_TTL":    "30m",
	"RETRY_MAX_ATTEMPTS":        3,
	"RETRY_INITIAL_DELAY":       "100ms",
	"RETRY_MAX_DELAY":           "2s",
	"BREAKER_MAX_FAILURES":      5,
	"BREAKER_OPEN_TIMEOUT":      "30s",
	"CACHE_TTL":                 "2m",
	"CACHE_MEMORY_SIZE":         64,
	"REDIS_ENABLED":             false,
	"REDIS_HOST":                "localhost",
	"REDIS_PORT":                6379,
	"REDIS_PASSWORD":            "",
	"REDIS_DB":                  0,
	"OTEL_SERVICE_NAME":         "clinicops-dashboard",
	"OTEL_SERVICE_VERSION":      "1.0.0",
	"OTEL_ENDPOINT":             "",
	"OTEL_ENABLED":              false,
	"OTEL_LOGS_ENABLED":         false,
	"APP_ENV":                   "development",
	"LOG_LEVEL":                 "info",
}

// Load loads configuration from the environment, falling back to an optional
// .env file in the working directory and then to defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// A missing .env is fine
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("SERVER_HOST"),
			Port:           v.GetInt("SERVER_PORT"),
			AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
			SSEHeartbeat:   v.GetDuration("SSE_HEARTBEAT"),
		},
		Records: RecordsConfig{
			BaseURL:          strings.TrimRight(v.GetString("RECORDS_BASE_URL"), "/"),
			Timeout:          v.GetDuration("RECORDS_TIMEOUT"),
			APIToken:         v.GetString("RECORDS_API_TOKEN"),
			PatientsPath:     v.GetString("RECORDS_PATIENTS_PATH"),
			AppointmentsPath: v.GetString("RECORDS_APPOINTMENTS_PATH"),
			AssignmentsPath:  v.GetString("RECORDS_ASSIGNMENTS_PATH"),
			SweepPageSize:    v.GetInt("RECORDS_SWEEP_PAGE_SIZE"),
			SweepConcurrency: v.GetInt("RECORDS_SWEEP_CONCURRENCY"),
		},
		Query: QueryConfig{
			PageSize:       v.GetInt("QUERY_PAGE_SIZE"),
			Debounce:       v.GetDuration("QUERY_DEBOUNCE"),
			PageWindow:     v.GetInt("QUERY_PAGE_WINDOW"),
			SessionIdleTTL: v.GetDuration("QUERY_SESSION_IDLE_TTL"),
		},
		Retry: RetryConfig{
			MaxAttempts:  v.GetInt("RETRY_MAX_ATTEMPTS"),
			InitialDelay: v.GetDuration("RETRY_INITIAL_DELAY"),
			MaxDelay:     v.GetDuration("RETRY_MAX_DELAY"),
		},
		Breaker: BreakerConfig{
			MaxFailures: v.GetInt("BREAKER_MAX_FAILURES"),
			OpenTimeout: v.GetDuration("BREAKER_OPEN_TIMEOUT"),
		},
		Cache: CacheConfig{
			TTL:        v.GetDuration("CACHE_TTL"),
			MemorySize: v.GetInt("CACHE_MEMORY_SIZE"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("REDIS_ENABLED"),
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		OTEL: OTELConfig{
			ServiceName:    v.GetString("OTEL_SERVICE_NAME"),
			ServiceVersion: v.GetString("OTEL_SERVICE_VERSION"),
			Endpoint:       v.GetString("OTEL_ENDPOINT"),
			Enabled:        v.GetBool("OTEL_ENABLED"),
			LogsEnabled:    v.GetBool("OTEL_LOGS_ENABLED"),
		},
		Log: LogConfig{
			Env:   v.GetString("APP_ENV"),
			Level: v.GetString("LOG_LEVEL"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the record views cannot run with
func (c *Config) Validate() error {
	if c.Records.BaseURL == "" {
		return fmt.Errorf("RECORDS_BASE_URL is required")
	}
	if c.Query.PageSize < 1 {
		return fmt.Errorf("QUERY_PAGE_SIZE must be at least 1, got %d", c.Query.PageSize)
	}
	if c.Records.SweepPageSize < 1 {
		return fmt.Errorf("RECORDS_SWEEP_PAGE_SIZE must be at least 1, got %d", c.Records.SweepPageSize)
	}
	if c.Query.Debounce < 0 {
		return fmt.Errorf("QUERY_DEBOUNCE must not be negative")
	}
	return nil
}

// RecordsPath returns the endpoint path configured for a record kind
func (c *RecordsConfig) RecordsPath(kind string) (string, bool) {
	switch kind {
	case "patients":
		return c.PatientsPath, true
	case "appointments":
		return c.AppointmentsPath, true
	case "assignments":
		return c.AssignmentsPath, true
	}
	return "", false
}

// Endpoints maps every configured record kind to its endpoint path
func (c *RecordsConfig) Endpoints() map[string]string {
	out := make(map[string]string, 3)
	for _, kind := range []string{"patients", "appointments", "assignments"} {
		if path, ok := c.RecordsPath(kind); ok && path != "" {
			out[kind] = path
		}
	}
	return out
}

// ServerAddr returns the listen address
func (c *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
