package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/i474232898/weather-anomaly-pipeline/internal/weather"
)

// MemoryStore is a concurrency-safe in-memory implementation of weather.Storage.
// It holds the same invariants as the SQLite store and is used by tests and dry runs.
type MemoryStore struct {
	mu sync.RWMutex

	history     []weather.ObservationRecord
	historyKeys map[string]struct{} // city + source timestamp

	current   map[string]weather.CurrentSnapshot
	hourly    map[weather.HourlyKey]weather.HourlySummary
	daily     map[weather.DailyKey]weather.DailySummary
	anomalies []weather.AnomalyRecord
}

var _ weather.Storage = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		historyKeys: make(map[string]struct{}),
		current:     make(map[string]weather.CurrentSnapshot),
		hourly:      make(map[weather.HourlyKey]weather.HourlySummary),
		daily:       make(map[weather.DailyKey]weather.DailySummary),
	}
}

func historyKey(rec weather.ObservationRecord) string {
	return rec.City + "|" + formatSource(rec.SourceUpdatedAt)
}

// InsertObservation appends a record unless (city, source timestamp) already exists.
func (s *MemoryStore) InsertObservation(_ context.Context, rec weather.ObservationRecord) error {
	key := historyKey(rec)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.historyKeys[key]; ok {
		return fmt.Errorf("%w: %s at %s", weather.ErrDuplicate, rec.City, formatSource(rec.SourceUpdatedAt))
	}
	s.historyKeys[key] = struct{}{}
	s.history = append(s.history, rec)
	return nil
}

// ListObservations returns a copy of History in insertion order.
func (s *MemoryStore) ListObservations(_ context.Context) ([]weather.ObservationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]weather.ObservationRecord(nil), s.history...), nil
}

// UpsertSnapshot replaces the city's snapshot.
func (s *MemoryStore) UpsertSnapshot(_ context.Context, snap weather.CurrentSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current[snap.City] = snap
	return nil
}

// GetSnapshot returns the snapshot of a city.
func (s *MemoryStore) GetSnapshot(_ context.Context, city string) (weather.CurrentSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.current[city]
	if !ok {
		return weather.CurrentSnapshot{}, weather.ErrNotFound
	}
	return snap, nil
}

// ListSnapshots returns all snapshots ordered by city.
func (s *MemoryStore) ListSnapshots(_ context.Context) ([]weather.CurrentSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]weather.CurrentSnapshot, 0, len(s.current))
	for _, snap := range s.current {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].City < out[j].City })
	return out, nil
}

// ReplaceHourly discards all hourly summaries and stores rows.
func (s *MemoryStore) ReplaceHourly(_ context.Context, rows []weather.HourlySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hourly = make(map[weather.HourlyKey]weather.HourlySummary, len(rows))
	for _, r := range rows {
		s.hourly[weather.HourlyKey{City: r.City, Date: r.Date, Hour: r.Hour}] = r
	}
	return nil
}

// UpsertHourly stores rows, leaving other buckets untouched.
func (s *MemoryStore) UpsertHourly(_ context.Context, rows []weather.HourlySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		s.hourly[weather.HourlyKey{City: r.City, Date: r.Date, Hour: r.Hour}] = r
	}
	return nil
}

// ListHourly returns hourly summaries ordered by city, date and hour.
func (s *MemoryStore) ListHourly(_ context.Context) ([]weather.HourlySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]weather.HourlySummary, 0, len(s.hourly))
	for _, r := range s.hourly {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].City != out[j].City {
			return out[i].City < out[j].City
		}
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Hour < out[j].Hour
	})
	return out, nil
}

// ReplaceDaily discards all daily summaries and stores rows.
func (s *MemoryStore) ReplaceDaily(_ context.Context, rows []weather.DailySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.daily = make(map[weather.DailyKey]weather.DailySummary, len(rows))
	for _, r := range rows {
		s.daily[weather.DailyKey{City: r.City, Date: r.Date}] = r
	}
	return nil
}

// UpsertDaily stores rows, leaving other buckets untouched.
func (s *MemoryStore) UpsertDaily(_ context.Context, rows []weather.DailySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		s.daily[weather.DailyKey{City: r.City, Date: r.Date}] = r
	}
	return nil
}

// ListDaily returns daily summaries ordered by city and date.
func (s *MemoryStore) ListDaily(_ context.Context) ([]weather.DailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]weather.DailySummary, 0, len(s.daily))
	for _, r := range s.daily {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].City != out[j].City {
			return out[i].City < out[j].City
		}
		return out[i].Date < out[j].Date
	})
	return out, nil
}

// ReplaceAnomalies swaps the analysis table.
func (s *MemoryStore) ReplaceAnomalies(_ context.Context, rows []weather.AnomalyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.anomalies = append([]weather.AnomalyRecord(nil), rows...)
	return nil
}

// ListAnomalies returns the analysis table, or only flagged rows when alertsOnly is set.
func (s *MemoryStore) ListAnomalies(_ context.Context, alertsOnly bool) ([]weather.AnomalyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []weather.AnomalyRecord
	for _, a := range s.anomalies {
		if alertsOnly && !a.IsAnomaly {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
