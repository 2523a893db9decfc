package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/i474232898/weather-anomaly-pipeline/internal/weather"
	"github.com/i474232898/weather-anomaly-pipeline/internal/weather/providers"
)

// ErrConfig wraps every configuration problem. It is fatal to the process.
var ErrConfig = errors.New("configuration error")

var validate = validator.New()

// AppConfig is loaded once at startup and passed explicitly to each component.
// Treat it as read-only after Load returns.
type AppConfig struct {
	BaseURL string `validate:"required,url"`
	APIKey  string

	// Cities to track, in sweep order.
	Cities []string `validate:"dive,required"`

	// Fetch-retry policy.
	MaxAttempts int           `validate:"gte=1,lte=10"`
	Backoff     time.Duration `validate:"gte=0"`
	MaxBackoff  time.Duration `validate:"gte=0"`
	Timeout     time.Duration `validate:"gt=0"`

	// Concurrent targets per sweep; 1 = sequential.
	Workers int `validate:"gte=1,lte=64"`

	ZThreshold float64 `validate:"gt=0"`

	DBPath string `validate:"required"`

	// FetchInterval is used unless ScheduleCron is set.
	FetchInterval time.Duration `validate:"gt=0"`
	ScheduleCron  string

	Port        string `validate:"required,numeric"`
	LogLevel    string `validate:"oneof=debug info warn error"`
	LogEncoding string `validate:"oneof=json console"`
}

// Load reads configuration from the environment (and .env when present) with sensible defaults.
func Load() (*AppConfig, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("%w: load .env: %v", ErrConfig, err)
		}
	}

	cfg := &AppConfig{
		BaseURL:      getenvDefault("WEATHERAPI_BASE_URL", providers.DefaultWeatherAPIURL),
		APIKey:       os.Getenv("WEATHERAPI_API_KEY"),
		Cities:       splitList(os.Getenv("WEATHER_CITIES")),
		DBPath:       getenvDefault("DB_PATH", "database/weather.db"),
		ScheduleCron: os.Getenv("SCHEDULE_CRON"),
		Port:         getenvDefault("PORT", "8080"),
		LogLevel:     getenvDefault("LOG_LEVEL", "info"),
		LogEncoding:  getenvDefault("LOG_ENCODING", "json"),
	}

	var err error
	if cfg.MaxAttempts, err = getenvInt("FETCH_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.Workers, err = getenvInt("INGEST_WORKERS", 1); err != nil {
		return nil, err
	}
	if cfg.Backoff, err = getenvDuration("FETCH_BACKOFF", "2s"); err != nil {
		return nil, err
	}
	if cfg.MaxBackoff, err = getenvDuration("FETCH_MAX_BACKOFF", "30s"); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = getenvDuration("FETCH_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.FetchInterval, err = getenvDuration("FETCH_INTERVAL", "15m"); err != nil {
		return nil, err
	}
	if cfg.ZThreshold, err = getenvFloat("ANOMALY_Z_THRESHOLD", 2.0); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and the cron expression.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if c.ScheduleCron != "" {
		if _, err := cron.ParseStandard(c.ScheduleCron); err != nil {
			return fmt.Errorf("%w: invalid SCHEDULE_CRON %q: %v", ErrConfig, c.ScheduleCron, err)
		}
	}
	return nil
}

// RequireSource checks the settings only ingestion needs.
func (c *AppConfig) RequireSource() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: WEATHERAPI_API_KEY is required", ErrConfig)
	}
	if len(c.Cities) == 0 {
		return fmt.Errorf("%w: WEATHER_CITIES must list at least one city", ErrConfig)
	}
	return nil
}

// Targets returns the configured cities as ingestion targets.
func (c *AppConfig) Targets() []weather.Target {
	targets := make([]weather.Target, 0, len(c.Cities))
	for _, city := range c.Cities {
		targets = append(targets, weather.Target{City: city})
	}
	return targets
}

// Retry returns the fetch-retry policy.
func (c *AppConfig) Retry() providers.RetryConfig {
	return providers.RetryConfig{
		MaxAttempts: c.MaxAttempts,
		Backoff:     c.Backoff,
		MaxBackoff:  c.MaxBackoff,
		Timeout:     c.Timeout,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s: %v", ErrConfig, key, err)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s: %v", ErrConfig, key, err)
	}
	return f, nil
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s: %v", ErrConfig, key, err)
	}
	return d, nil
}
