package weather

import (
	"context"
	"errors"
)

var (
	// ErrMalformedResponse is returned when a payload lacks a required field.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrDuplicate is returned by History when (city, source timestamp) already exists.
	ErrDuplicate = errors.New("duplicate history record")
	// ErrNotFound is returned when no data is available for a given city.
	ErrNotFound = errors.New("no weather data for city")
	// ErrNoData is returned by a batch stage that has no input rows. It is not a failure.
	ErrNoData = errors.New("no data")
	// ErrStorageMissing is returned when the configured storage does not exist.
	ErrStorageMissing = errors.New("storage not found")
)

// Provider abstracts the remote current-conditions source.
// A Provider owns its retry policy; a returned error means every attempt failed.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, target Target) (SourcePayload, error)
}

// HistoryStore is the append-only, deduplicated observation log.
type HistoryStore interface {
	// InsertObservation returns ErrDuplicate when (City, SourceUpdatedAt) exists.
	InsertObservation(ctx context.Context, rec ObservationRecord) error
	ListObservations(ctx context.Context) ([]ObservationRecord, error)
}

// SnapshotStore keeps one latest-known row per city.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snap CurrentSnapshot) error
	GetSnapshot(ctx context.Context, city string) (CurrentSnapshot, error)
	ListSnapshots(ctx context.Context) ([]CurrentSnapshot, error)
}

// SummaryStore holds the derived hourly and daily rollups.
type SummaryStore interface {
	ReplaceHourly(ctx context.Context, rows []HourlySummary) error
	UpsertHourly(ctx context.Context, rows []HourlySummary) error
	ListHourly(ctx context.Context) ([]HourlySummary, error)
	ReplaceDaily(ctx context.Context, rows []DailySummary) error
	UpsertDaily(ctx context.Context, rows []DailySummary) error
	ListDaily(ctx context.Context) ([]DailySummary, error)
}

// AnomalyStore holds the latest anomaly analysis. Alerts are the flagged subset.
type AnomalyStore interface {
	ReplaceAnomalies(ctx context.Context, rows []AnomalyRecord) error
	ListAnomalies(ctx context.Context, alertsOnly bool) ([]AnomalyRecord, error)
}

// Storage is the contract every backing store (SQLite, in-memory) must satisfy.
type Storage interface {
	HistoryStore
	SnapshotStore
	SummaryStore
	AnomalyStore
	Close() error
}
