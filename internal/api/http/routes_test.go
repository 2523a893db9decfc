package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-anomaly-pipeline/internal/store"
	"github.com/i474232898/weather-anomaly-pipeline/internal/weather"
)

type nopProvider struct{}

func (nopProvider) Name() string { return "nop" }

func (nopProvider) Fetch(context.Context, weather.Target) (weather.SourcePayload, error) {
	return weather.SourcePayload{}, weather.ErrNotFound
}

func newTestApp(t *testing.T) (*fiber.App, *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()

	ts, err := weather.ParseSourceTime("2024-05-01 12:00")
	require.NoError(t, err)
	rec := weather.ObservationRecord{City: "Paris", TemperatureC: 18, Humidity: 60, SourceUpdatedAt: ts, IngestedAt: time.Now().UTC()}
	require.NoError(t, st.InsertObservation(ctx, rec))
	require.NoError(t, st.UpsertSnapshot(ctx, weather.CurrentSnapshot{ObservationRecord: rec}))
	require.NoError(t, st.ReplaceDaily(ctx, []weather.DailySummary{
		{City: "Paris", Date: "2024-05-01", AvgTemperature: 18, RecordCount: 1},
		{City: "Rome", Date: "2024-05-01", AvgTemperature: 22, RecordCount: 1},
	}))
	require.NoError(t, st.ReplaceHourly(ctx, []weather.HourlySummary{
		{City: "Paris", Date: "2024-05-01", Hour: 12, AvgTemperature: 18, RecordCount: 1},
		{City: "Paris", Date: "2024-05-02", Hour: 9, AvgTemperature: 15, RecordCount: 1},
	}))
	z := 3.1
	require.NoError(t, st.ReplaceAnomalies(ctx, []weather.AnomalyRecord{
		{City: "Paris", Date: "2024-05-01", AvgTemperature: 18},
		{City: "Paris", Date: "2024-05-02", AvgTemperature: 30, ZScore: &z, Severity: &z, IsAnomaly: true},
	}))

	app := fiber.New()
	RegisterRoutes(app, weather.NewService(st, nopProvider{}, nil), st)
	return app, st
}

func get(t *testing.T, app *fiber.App, target string, out any) int {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestCurrentWeather(t *testing.T) {
	app, _ := newTestApp(t)

	var snap weather.CurrentSnapshot
	assert.Equal(t, http.StatusOK, get(t, app, "/api/v1/weather/current?city=Paris", &snap))
	assert.Equal(t, "Paris", snap.City)
	assert.InDelta(t, 18.0, snap.TemperatureC, 1e-9)

	assert.Equal(t, http.StatusBadRequest, get(t, app, "/api/v1/weather/current", nil))
	assert.Equal(t, http.StatusNotFound, get(t, app, "/api/v1/weather/current?city=Lima", nil))

	var all []weather.CurrentSnapshot
	assert.Equal(t, http.StatusOK, get(t, app, "/api/v1/weather/current/all", &all))
	assert.Len(t, all, 1)
}

func TestHistory(t *testing.T) {
	app, _ := newTestApp(t)

	var body struct {
		City    string                      `json:"city"`
		Records []weather.ObservationRecord `json:"records"`
	}
	assert.Equal(t, http.StatusOK, get(t, app, "/api/v1/weather/history?city=Paris", &body))
	assert.Equal(t, "Paris", body.City)
	assert.Len(t, body.Records, 1)

	assert.Equal(t, http.StatusNotFound, get(t, app, "/api/v1/weather/history?city=Lima", nil))
}

func TestSummaries(t *testing.T) {
	app, _ := newTestApp(t)

	var daily []weather.DailySummary
	assert.Equal(t, http.StatusOK, get(t, app, "/api/v1/summaries/daily?city=Rome", &daily))
	require.Len(t, daily, 1)
	assert.Equal(t, "Rome", daily[0].City)

	var hourly []weather.HourlySummary
	assert.Equal(t, http.StatusOK, get(t, app, "/api/v1/summaries/hourly?city=Paris&date=2024-05-02", &hourly))
	require.Len(t, hourly, 1)
	assert.Equal(t, 9, hourly[0].Hour)

	assert.Equal(t, http.StatusBadRequest, get(t, app, "/api/v1/summaries/hourly?date=May-2", nil))
}

func TestAnomalies(t *testing.T) {
	app, _ := newTestApp(t)

	var all []weather.AnomalyRecord
	assert.Equal(t, http.StatusOK, get(t, app, "/api/v1/anomalies?city=Paris", &all))
	require.Len(t, all, 2)
	assert.Nil(t, all[0].ZScore)

	var alerts []weather.AnomalyRecord
	assert.Equal(t, http.StatusOK, get(t, app, "/api/v1/anomalies?alerts=true", &alerts))
	require.Len(t, alerts, 1)
	require.NotNil(t, alerts[0].Severity)
	assert.InDelta(t, 3.1, *alerts[0].Severity, 1e-9)

	assert.Equal(t, http.StatusBadRequest, get(t, app, "/api/v1/anomalies?alerts=maybe", nil))
}
