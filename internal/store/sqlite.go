package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/i474232898/weather-anomaly-pipeline/internal/weather"
)

// MemoryPath opens a private in-memory SQLite database.
const MemoryPath = ":memory:"

// SQLiteStore is the durable weather.Storage backed by a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ weather.Storage = (*SQLiteStore)(nil)

// OpenSQLite opens the database at path and applies the schema.
// When create is false a missing file is weather.ErrStorageMissing rather than a new empty database.
func OpenSQLite(path string, create bool) (*SQLiteStore, error) {
	if path != MemoryPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if !create {
				return nil, fmt.Errorf("%w: %s", weather.ErrStorageMissing, path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database dir: %w", err)
			}
		}
	}

	dsn := path
	if path != MemoryPath {
		dsn = path + "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertObservation appends a History row. It never overwrites an existing row.
func (s *SQLiteStore) InsertObservation(ctx context.Context, rec weather.ObservationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weather_history (
			city, region, country, temperature_c, humidity, wind_kph,
			condition, api_last_updated, fetched_at_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.City, rec.Region, rec.Country, rec.TemperatureC, rec.Humidity, rec.WindKph,
		rec.Condition, formatSource(rec.SourceUpdatedAt), formatIngested(rec.IngestedAt),
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: %s at %s", weather.ErrDuplicate, rec.City, formatSource(rec.SourceUpdatedAt))
		}
		return fmt.Errorf("insert weather_history: %w", err)
	}
	return nil
}

// ListObservations returns every History row in insertion order.
func (s *SQLiteStore) ListObservations(ctx context.Context) ([]weather.ObservationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT city, region, country, temperature_c, humidity, wind_kph,
		       condition, api_last_updated, fetched_at_utc
		FROM weather_history
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query weather_history: %w", err)
	}
	defer rows.Close()

	var out []weather.ObservationRecord
	for rows.Next() {
		rec, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertSnapshot replaces the city's snapshot wholesale.
func (s *SQLiteStore) UpsertSnapshot(ctx context.Context, snap weather.CurrentSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO weather_current (
			city, region, country, temperature_c, humidity, wind_kph,
			condition, api_last_updated, fetched_at_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.City, snap.Region, snap.Country, snap.TemperatureC, snap.Humidity, snap.WindKph,
		snap.Condition, formatSource(snap.SourceUpdatedAt), formatIngested(snap.IngestedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert weather_current: %w", err)
	}
	return nil
}

// GetSnapshot returns the snapshot of a city or weather.ErrNotFound.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, city string) (weather.CurrentSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT city, region, country, temperature_c, humidity, wind_kph,
		       condition, api_last_updated, fetched_at_utc
		FROM weather_current
		WHERE city = ?`, city)
	rec, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return weather.CurrentSnapshot{}, weather.ErrNotFound
	}
	if err != nil {
		return weather.CurrentSnapshot{}, err
	}
	return weather.CurrentSnapshot{ObservationRecord: rec}, nil
}

// ListSnapshots returns all snapshots ordered by city.
func (s *SQLiteStore) ListSnapshots(ctx context.Context) ([]weather.CurrentSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT city, region, country, temperature_c, humidity, wind_kph,
		       condition, api_last_updated, fetched_at_utc
		FROM weather_current
		ORDER BY city`)
	if err != nil {
		return nil, fmt.Errorf("query weather_current: %w", err)
	}
	defer rows.Close()

	var out []weather.CurrentSnapshot
	for rows.Next() {
		rec, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, weather.CurrentSnapshot{ObservationRecord: rec})
	}
	return out, rows.Err()
}

const (
	insertHourly = `
		INSERT OR REPLACE INTO weather_hourly_summary (
			city, date, hour, avg_temperature, min_temperature, max_temperature, avg_humidity, record_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	insertDaily = `
		INSERT OR REPLACE INTO weather_daily_summary (
			city, date, avg_temperature, min_temperature, max_temperature, avg_humidity, record_count
		) VALUES (?, ?, ?, ?, ?, ?, ?)`
	insertAnomaly = `
		INSERT INTO weather_anomalies (
			city, date, avg_temperature, temp_change, z_score, is_anomaly, anomaly_severity
		) VALUES (?, ?, ?, ?, ?, ?, ?)`
)

// ReplaceHourly discards weather_hourly_summary and writes rows in one transaction.
func (s *SQLiteStore) ReplaceHourly(ctx context.Context, rows []weather.HourlySummary) error {
	return s.writeHourly(ctx, rows, true)
}

// UpsertHourly writes rows, leaving other buckets untouched.
func (s *SQLiteStore) UpsertHourly(ctx context.Context, rows []weather.HourlySummary) error {
	return s.writeHourly(ctx, rows, false)
}

func (s *SQLiteStore) writeHourly(ctx context.Context, rows []weather.HourlySummary, truncate bool) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if truncate {
			if _, err := tx.ExecContext(ctx, `DELETE FROM weather_hourly_summary`); err != nil {
				return err
			}
		}
		stmt, err := tx.PrepareContext(ctx, insertHourly)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.City, r.Date, r.Hour, r.AvgTemperature,
				r.MinTemperature, r.MaxTemperature, r.AvgHumidity, r.RecordCount); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListHourly returns hourly summaries ordered by city, date and hour.
func (s *SQLiteStore) ListHourly(ctx context.Context) ([]weather.HourlySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT city, date, hour, avg_temperature, min_temperature, max_temperature, avg_humidity, record_count
		FROM weather_hourly_summary
		ORDER BY city, date, hour`)
	if err != nil {
		return nil, fmt.Errorf("query weather_hourly_summary: %w", err)
	}
	defer rows.Close()

	var out []weather.HourlySummary
	for rows.Next() {
		var h weather.HourlySummary
		if err := rows.Scan(&h.City, &h.Date, &h.Hour, &h.AvgTemperature,
			&h.MinTemperature, &h.MaxTemperature, &h.AvgHumidity, &h.RecordCount); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ReplaceDaily discards weather_daily_summary and writes rows in one transaction.
func (s *SQLiteStore) ReplaceDaily(ctx context.Context, rows []weather.DailySummary) error {
	return s.writeDaily(ctx, rows, true)
}

// UpsertDaily writes rows, leaving other buckets untouched.
func (s *SQLiteStore) UpsertDaily(ctx context.Context, rows []weather.DailySummary) error {
	return s.writeDaily(ctx, rows, false)
}

func (s *SQLiteStore) writeDaily(ctx context.Context, rows []weather.DailySummary, truncate bool) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if truncate {
			if _, err := tx.ExecContext(ctx, `DELETE FROM weather_daily_summary`); err != nil {
				return err
			}
		}
		stmt, err := tx.PrepareContext(ctx, insertDaily)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.City, r.Date, r.AvgTemperature,
				r.MinTemperature, r.MaxTemperature, r.AvgHumidity, r.RecordCount); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListDaily returns daily summaries ordered by city and date.
func (s *SQLiteStore) ListDaily(ctx context.Context) ([]weather.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT city, date, avg_temperature, min_temperature, max_temperature, avg_humidity, record_count
		FROM weather_daily_summary
		ORDER BY city, date`)
	if err != nil {
		return nil, fmt.Errorf("query weather_daily_summary: %w", err)
	}
	defer rows.Close()

	var out []weather.DailySummary
	for rows.Next() {
		var d weather.DailySummary
		if err := rows.Scan(&d.City, &d.Date, &d.AvgTemperature,
			&d.MinTemperature, &d.MaxTemperature, &d.AvgHumidity, &d.RecordCount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ReplaceAnomalies swaps the whole analysis table in one transaction.
func (s *SQLiteStore) ReplaceAnomalies(ctx context.Context, rows []weather.AnomalyRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM weather_anomalies`); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, insertAnomaly)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.City, r.Date, r.AvgTemperature,
				toNull(r.TempChange), toNull(r.ZScore), r.IsAnomaly, toNull(r.Severity)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListAnomalies returns the analysis table, or only flagged rows when alertsOnly is set.
func (s *SQLiteStore) ListAnomalies(ctx context.Context, alertsOnly bool) ([]weather.AnomalyRecord, error) {
	query := `
		SELECT city, date, avg_temperature, temp_change, z_score, is_anomaly, anomaly_severity
		FROM weather_anomalies`
	if alertsOnly {
		query += ` WHERE is_anomaly = 1`
	}
	query += ` ORDER BY city, date`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query weather_anomalies: %w", err)
	}
	defer rows.Close()

	var out []weather.AnomalyRecord
	for rows.Next() {
		var (
			a                   weather.AnomalyRecord
			change, z, severity sql.NullFloat64
		)
		if err := rows.Scan(&a.City, &a.Date, &a.AvgTemperature, &change, &z, &a.IsAnomaly, &severity); err != nil {
			return nil, err
		}
		a.TempChange = nullFloat(change)
		a.ZScore = nullFloat(z)
		a.Severity = nullFloat(severity)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanObservation(row scanner) (weather.ObservationRecord, error) {
	var (
		rec               weather.ObservationRecord
		updated, ingested string
	)
	if err := row.Scan(&rec.City, &rec.Region, &rec.Country, &rec.TemperatureC, &rec.Humidity,
		&rec.WindKph, &rec.Condition, &updated, &ingested); err != nil {
		return rec, err
	}
	ts, err := time.Parse(weather.SourceTimeLayout, updated)
	if err != nil {
		return rec, fmt.Errorf("parse api_last_updated %q: %w", updated, err)
	}
	rec.SourceUpdatedAt = ts
	if rec.IngestedAt, err = time.Parse(time.RFC3339Nano, ingested); err != nil {
		return rec, fmt.Errorf("parse fetched_at_utc %q: %w", ingested, err)
	}
	return rec, nil
}

func formatSource(t time.Time) string {
	return t.Format(weather.SourceTimeLayout)
}

func formatIngested(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func toNull(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
