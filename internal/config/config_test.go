package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-anomaly-pipeline/internal/weather/providers"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WEATHER_CITIES", "")
	t.Setenv("WEATHERAPI_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, providers.DefaultWeatherAPIURL, cfg.BaseURL)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Backoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 1, cfg.Workers)
	assert.InDelta(t, 2.0, cfg.ZThreshold, 1e-9)
	assert.Equal(t, "database/weather.db", cfg.DBPath)
	assert.Equal(t, 15*time.Minute, cfg.FetchInterval)
	assert.Equal(t, "8080", cfg.Port)

	// Analysis stages run without source credentials; ingestion does not.
	assert.ErrorIs(t, cfg.RequireSource(), ErrConfig)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WEATHERAPI_API_KEY", "k")
	t.Setenv("WEATHER_CITIES", " London, Paris ,,Tokyo ")
	t.Setenv("FETCH_MAX_ATTEMPTS", "5")
	t.Setenv("FETCH_BACKOFF", "500ms")
	t.Setenv("INGEST_WORKERS", "4")
	t.Setenv("ANOMALY_Z_THRESHOLD", "2.5")
	t.Setenv("SCHEDULE_CRON", "*/10 * * * *")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.RequireSource())

	assert.Equal(t, []string{"London", "Paris", "Tokyo"}, cfg.Cities)
	targets := cfg.Targets()
	require.Len(t, targets, 3)
	assert.Equal(t, "Paris", targets[1].City)

	retry := cfg.Retry()
	assert.Equal(t, 5, retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, retry.Backoff)
	assert.Equal(t, 4, cfg.Workers)
	assert.InDelta(t, 2.5, cfg.ZThreshold, 1e-9)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"bad duration":   {"FETCH_TIMEOUT", "soon"},
		"bad int":        {"FETCH_MAX_ATTEMPTS", "three"},
		"zero attempts":  {"FETCH_MAX_ATTEMPTS", "0"},
		"bad threshold":  {"ANOMALY_Z_THRESHOLD", "-1"},
		"bad cron":       {"SCHEDULE_CRON", "every tuesday"},
		"bad log level":  {"LOG_LEVEL", "verbose"},
		"bad base url":   {"WEATHERAPI_BASE_URL", "not a url"},
		"too many pools": {"INGEST_WORKERS", "1000"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}
