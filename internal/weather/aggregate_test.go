package weather

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obs(city, updated string, temp, humidity float64) ObservationRecord {
	ts, err := ParseSourceTime(updated)
	if err != nil {
		panic(err)
	}
	return ObservationRecord{City: city, TemperatureC: temp, Humidity: humidity, SourceUpdatedAt: ts}
}

func sampleHistory() []ObservationRecord {
	return []ObservationRecord{
		obs("Oslo", "2024-05-01 10:00", 5, 80),
		obs("Oslo", "2024-05-01 10:30", 7, 70),
		obs("Oslo", "2024-05-01 11:15", 9, 60),
		obs("Oslo", "2024-05-02 08:00", 3, 90),
		obs("Berlin", "2024-05-01 10:45", 15, 50),
	}
}

func TestAggregateDaily(t *testing.T) {
	rows := AggregateDaily(sampleHistory())
	require.Len(t, rows, 3)

	assert.Equal(t, DailySummary{City: "Berlin", Date: "2024-05-01", AvgTemperature: 15, MinTemperature: 15, MaxTemperature: 15, AvgHumidity: 50, RecordCount: 1}, rows[0])

	oslo := rows[1]
	assert.Equal(t, "Oslo", oslo.City)
	assert.Equal(t, "2024-05-01", oslo.Date)
	assert.InDelta(t, 7.0, oslo.AvgTemperature, 1e-9)
	assert.InDelta(t, 5.0, oslo.MinTemperature, 1e-9)
	assert.InDelta(t, 9.0, oslo.MaxTemperature, 1e-9)
	assert.InDelta(t, 70.0, oslo.AvgHumidity, 1e-9)
	assert.Equal(t, 3, oslo.RecordCount)

	assert.Equal(t, "2024-05-02", rows[2].Date)
}

func TestAggregateHourly(t *testing.T) {
	rows := AggregateHourly(sampleHistory())
	require.Len(t, rows, 4)

	assert.Equal(t, HourlyKey{"Berlin", "2024-05-01", 10}, HourlyKey{rows[0].City, rows[0].Date, rows[0].Hour})
	assert.Equal(t, HourlyKey{"Oslo", "2024-05-01", 10}, HourlyKey{rows[1].City, rows[1].Date, rows[1].Hour})
	assert.Equal(t, 2, rows[1].RecordCount)
	assert.InDelta(t, 6.0, rows[1].AvgTemperature, 1e-9)
	assert.Equal(t, 11, rows[2].Hour)
	assert.Equal(t, 8, rows[3].Hour)
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	history := sampleHistory()
	want := AggregateDaily(history)
	wantHourly := AggregateHourly(history)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		shuffled := append([]ObservationRecord(nil), history...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, AggregateDaily(shuffled))
		assert.Equal(t, wantHourly, AggregateHourly(shuffled))
	}
}

func TestAggregateEmpty(t *testing.T) {
	assert.Empty(t, AggregateDaily(nil))
	assert.Empty(t, AggregateHourly(nil))
}

func TestParseSourceTime(t *testing.T) {
	for _, s := range []string{"2024-05-01 12:15", "2024-05-01 12:15:00", "2024-05-01T12:15:00Z"} {
		ts, err := ParseSourceTime(s)
		require.NoError(t, err, s)
		assert.True(t, time.Date(2024, 5, 1, 12, 15, 0, 0, time.UTC).Equal(ts), s)
	}

	_, err := ParseSourceTime("")
	assert.ErrorIs(t, err, ErrMalformedResponse)
	_, err = ParseSourceTime("yesterday")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestBuckets(t *testing.T) {
	r := obs("Oslo", "2024-12-31 23:59", 0, 0)
	assert.Equal(t, "2024-12-31", r.BucketDate())
	assert.Equal(t, 23, r.BucketHour())
	assert.Equal(t, "Oslo", Target{City: "  Oslo "}.Key())
}
