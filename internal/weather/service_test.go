package weather_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/i474232898/weather-anomaly-pipeline/internal/store"
	"github.com/i474232898/weather-anomaly-pipeline/internal/weather"
)

// fakeProvider serves canned payloads or errors per city.
type fakeProvider struct {
	mu       sync.Mutex
	payloads map[string]weather.SourcePayload
	errs     map[string]error
	calls    map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		payloads: make(map[string]weather.SourcePayload),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Fetch(_ context.Context, t weather.Target) (weather.SourcePayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[t.City]++
	if err, ok := f.errs[t.City]; ok {
		return weather.SourcePayload{}, err
	}
	p, ok := f.payloads[t.City]
	if !ok {
		return weather.SourcePayload{}, fmt.Errorf("no payload for %s", t.City)
	}
	return p, nil
}

func payload(region string, updated string, temp, humidity float64) weather.SourcePayload {
	var p weather.SourcePayload
	p.Location.Region = region
	p.Location.Country = "Testland"
	p.Current.LastUpdated = updated
	p.Current.TempC = temp
	p.Current.Humidity = humidity
	p.Current.WindKph = 10
	p.Current.Condition.Text = "Clear"
	return p
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func targets(cities ...string) []weather.Target {
	out := make([]weather.Target, 0, len(cities))
	for _, c := range cities {
		out = append(out, weather.Target{City: c})
	}
	return out
}

func TestSweepIsIdempotentOnReplay(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	prov := newFakeProvider()
	prov.payloads["London"] = payload("Greater London", "2024-05-01 12:15", 14, 70)

	svc := weather.NewService(st, prov, zaptest.NewLogger(t),
		weather.WithClock(fixedClock(time.Date(2024, 5, 1, 12, 20, 0, 0, time.UTC))))

	first := svc.Sweep(ctx, targets("London"))
	assert.Equal(t, 1, first.Persisted)
	assert.Zero(t, first.Duplicates)
	assert.NotEmpty(t, first.RunID)

	// Same source timestamp, new reading: History keeps the first, Snapshot takes the latest.
	prov.payloads["London"] = payload("Greater London", "2024-05-01 12:15", 15, 71)
	second := svc.Sweep(ctx, targets("London"))
	assert.Equal(t, 1, second.Persisted)
	assert.Equal(t, 1, second.Duplicates)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.True(t, second.Results[0].Duplicate)
	assert.Equal(t, weather.StatePersisted, second.Results[0].State)

	history, err := st.ListObservations(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.InDelta(t, 14.0, history[0].TemperatureC, 1e-9)

	snap, err := svc.GetLatest(ctx, "London")
	require.NoError(t, err)
	assert.InDelta(t, 15.0, snap.TemperatureC, 1e-9)
}

func TestSweepIsolatesMalformedTarget(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	prov := newFakeProvider()
	prov.payloads["A"] = payload("Ra", "2024-05-01 10:00", 10, 50)
	prov.payloads["B"] = payload("Rb", "", 11, 50) // missing last_updated
	prov.payloads["C"] = payload("Rc", "2024-05-01 10:00", 12, 50)

	core, logs := observer.New(zapcore.InfoLevel)
	svc := weather.NewService(st, prov, zap.New(core))

	report := svc.Sweep(ctx, targets("A", "B", "C"))
	assert.Equal(t, 2, report.Persisted)
	assert.Equal(t, 1, report.Skipped)

	require.Len(t, report.Results, 3)
	assert.Equal(t, weather.StatePersisted, report.Results[0].State)
	assert.Equal(t, weather.StateSkipped, report.Results[1].State)
	assert.ErrorIs(t, report.Results[1].Err, weather.ErrMalformedResponse)
	assert.Equal(t, weather.StatePersisted, report.Results[2].State)

	history, err := st.ListObservations(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = st.GetSnapshot(ctx, "B")
	assert.ErrorIs(t, err, weather.ErrNotFound)
	assert.Equal(t, 1, logs.FilterMessage("malformed response; skipping target").Len())
}

func TestSweepSkipsExhaustedTargetAndContinues(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	prov := newFakeProvider()
	prov.errs["Down"] = errors.New("fetch attempts exhausted")
	prov.payloads["Up"] = payload("R", "2024-05-01 10:00", 10, 50)

	svc := weather.NewService(st, prov, zaptest.NewLogger(t))
	report := svc.Sweep(ctx, targets("Down", "Up"))

	assert.Equal(t, weather.StateSkipped, report.Results[0].State)
	assert.Error(t, report.Results[0].Err)
	assert.Equal(t, weather.StatePersisted, report.Results[1].State)
	assert.Equal(t, 1, prov.calls["Up"])
}

func TestIngestTargetWarnsOnHumidityButWrites(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	prov := newFakeProvider()
	prov.payloads["Humid"] = payload("R", "2024-05-01 10:00", 25, 140)

	core, logs := observer.New(zapcore.InfoLevel)
	svc := weather.NewService(st, prov, zap.New(core))

	res := svc.IngestTarget(ctx, weather.Target{City: "Humid"})
	require.NoError(t, res.Err)
	assert.Equal(t, weather.StatePersisted, res.State)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "humidity")
	assert.Equal(t, 1, logs.FilterMessage("validation warning").Len())

	history, err := svc.History(ctx, "Humid")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestIngestTargetNormalises(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	prov := newFakeProvider()
	p := payload("Île-de-France", "2024-05-01 09:45", 18.5, 60)
	p.Current.Condition.Text = ""
	prov.payloads[" Paris "] = p

	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.FixedZone("CET", 3600))
	svc := weather.NewService(st, prov, nil, weather.WithClock(fixedClock(now)))

	res := svc.IngestTarget(ctx, weather.Target{City: " Paris "})
	require.NoError(t, res.Err)
	require.NotNil(t, res.Record)

	rec := res.Record
	assert.Equal(t, "Paris", rec.City)
	assert.Equal(t, "Unknown", rec.Condition)
	assert.Equal(t, time.UTC, rec.IngestedAt.Location())
	assert.True(t, rec.IngestedAt.Equal(now))
	assert.Equal(t, "2024-05-01 09:45:00", rec.SourceUpdatedAt.Format(weather.SourceTimeLayout))
}

func TestSweepWithWorkerPool(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	prov := newFakeProvider()
	cities := []string{"A", "B", "C", "D", "E", "F"}
	for i, c := range cities {
		prov.payloads[c] = payload("R", "2024-05-01 10:00", float64(i), 50)
	}
	prov.errs["C"] = errors.New("boom")

	svc := weather.NewService(st, prov, zaptest.NewLogger(t), weather.WithWorkers(3))
	report := svc.Sweep(ctx, targets(cities...))

	assert.Equal(t, 5, report.Persisted)
	assert.Equal(t, 1, report.Skipped)
	for i, r := range report.Results {
		assert.Equal(t, cities[i], r.Target.City)
	}

	snaps, err := st.ListSnapshots(ctx)
	require.NoError(t, err)
	assert.Len(t, snaps, 5)
}

func TestSweepCancelledLeavesTargetsNotAttempted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prov := newFakeProvider()
	svc := weather.NewService(store.NewMemoryStore(), prov, zaptest.NewLogger(t))
	report := svc.Sweep(ctx, targets("A", "B"))

	for _, r := range report.Results {
		assert.Equal(t, weather.StateNotAttempted, r.State)
	}
	assert.Empty(t, prov.calls)
}

func TestHistoryUnknownCity(t *testing.T) {
	svc := weather.NewService(store.NewMemoryStore(), newFakeProvider(), nil)
	_, err := svc.History(context.Background(), "Nowhere")
	assert.ErrorIs(t, err, weather.ErrNotFound)
}

// brokenHistory fails every history insert for one city.
type brokenHistory struct {
	*store.MemoryStore
	city string
}

func (b brokenHistory) InsertObservation(ctx context.Context, rec weather.ObservationRecord) error {
	if rec.City == b.city {
		return errors.New("disk I/O error")
	}
	return b.MemoryStore.InsertObservation(ctx, rec)
}

func TestSweepHistoryFailureSkipsSnapshot(t *testing.T) {
	ctx := context.Background()
	st := brokenHistory{MemoryStore: store.NewMemoryStore(), city: "A"}
	prov := newFakeProvider()
	prov.payloads["A"] = payload("Ra", "2024-05-01 10:00", 10, 50)
	prov.payloads["B"] = payload("Rb", "2024-05-01 10:00", 11, 50)

	core, logs := observer.New(zapcore.InfoLevel)
	report := weather.NewService(st, prov, zap.New(core)).Sweep(ctx, targets("A", "B"))

	assert.Equal(t, 1, report.Persisted)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, weather.StateSkipped, report.Results[0].State)
	require.Error(t, report.Results[0].Err)
	assert.NotErrorIs(t, report.Results[0].Err, weather.ErrDuplicate)
	assert.Equal(t, 1, logs.FilterMessage("history insert failed").Len())

	_, err := st.GetSnapshot(ctx, "A")
	assert.ErrorIs(t, err, weather.ErrNotFound)
	_, err = st.GetSnapshot(ctx, "B")
	require.NoError(t, err)
}
