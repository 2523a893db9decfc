// Package anomaly flags unusual day-over-day temperature changes per city.
package anomaly

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/i474232898/weather-anomaly-pipeline/internal/weather"
)

// DefaultThreshold is the |z| above which a day is flagged.
const DefaultThreshold = 2.0

// minDefinedDeltas is the smallest delta series a sample standard deviation exists for.
const minDefinedDeltas = 2

// varianceEpsilon absorbs floating point noise when testing a series for zero spread.
const varianceEpsilon = 1e-9

// Analyze computes the per-city analysis table and its flagged subset.
// Rows are ordered by city then date. alerts is empty, not nil, when nothing is flagged.
//
// Each day's change is scored against the city's whole series of defined changes:
// z = (delta - mean(deltas)) / std(deltas), with the sample standard deviation.
// A city whose defined changes have zero spread, or which has fewer than two of them,
// gets no scores at all.
func Analyze(daily []weather.DailySummary, threshold float64) (full, alerts []weather.AnomalyRecord) {
	byCity := make(map[string][]weather.DailySummary)
	for _, d := range daily {
		byCity[d.City] = append(byCity[d.City], d)
	}
	cities := make([]string, 0, len(byCity))
	for c := range byCity {
		cities = append(cities, c)
	}
	sort.Strings(cities)

	full = make([]weather.AnomalyRecord, 0, len(daily))
	alerts = make([]weather.AnomalyRecord, 0)
	for _, city := range cities {
		days := byCity[city]
		sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })

		deltas := diff(days)
		scores := zScores(deltas)

		for i, d := range days {
			rec := weather.AnomalyRecord{
				City:           city,
				Date:           d.Date,
				AvgTemperature: d.AvgTemperature,
				TempChange:     deltas[i],
				ZScore:         scores[i],
			}
			if z := scores[i]; z != nil {
				sev := math.Abs(*z)
				rec.Severity = &sev
				rec.IsAnomaly = sev > threshold
			}
			full = append(full, rec)
			if rec.IsAnomaly {
				alerts = append(alerts, rec)
			}
		}
	}
	return full, alerts
}

// diff returns today's minus the previous day's average. The first day is undefined.
func diff(days []weather.DailySummary) []*float64 {
	out := make([]*float64, len(days))
	for i := 1; i < len(days); i++ {
		v := days[i].AvgTemperature - days[i-1].AvgTemperature
		out[i] = &v
	}
	return out
}

func zScores(deltas []*float64) []*float64 {
	out := make([]*float64, len(deltas))

	var defined []float64
	for _, d := range deltas {
		if d != nil {
			defined = append(defined, *d)
		}
	}
	if len(defined) < minDefinedDeltas {
		return out
	}
	mean, sd := meanStd(defined)
	if sd <= varianceEpsilon {
		return out
	}

	for i, d := range deltas {
		if d == nil {
			continue
		}
		z := (*d - mean) / sd
		out[i] = &z
	}
	return out
}

// meanStd returns the mean and sample standard deviation of values (len >= 2).
func meanStd(values []float64) (float64, float64) {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(ss / (n - 1))
}

// Store is what the detector reads from and writes to.
type Store interface {
	ListDaily(ctx context.Context) ([]weather.DailySummary, error)
	weather.AnomalyStore
}

// Report describes one detector run.
type Report struct {
	Rows   int
	Cities int
	Alerts []weather.AnomalyRecord
}

// Detector runs Analyze over the stored daily summaries and persists the result.
type Detector struct {
	store     Store
	threshold float64
	logger    *zap.Logger
}

// NewDetector creates a new Detector. A non-positive threshold falls back to DefaultThreshold.
func NewDetector(store Store, threshold float64, logger *zap.Logger) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{store: store, threshold: threshold, logger: logger}
}

// Run recomputes the anomaly table from the current daily summaries.
// It returns weather.ErrNoData when there are no daily summaries.
func (d *Detector) Run(ctx context.Context) (Report, error) {
	daily, err := d.store.ListDaily(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read daily summaries: %w", err)
	}
	if len(daily) == 0 {
		d.logger.Info("no daily summaries; skipping anomaly detection")
		return Report{}, weather.ErrNoData
	}

	full, alerts := Analyze(daily, d.threshold)
	if err := d.store.ReplaceAnomalies(ctx, full); err != nil {
		return Report{}, fmt.Errorf("store anomalies: %w", err)
	}

	cities := make(map[string]struct{})
	for _, r := range full {
		cities[r.City] = struct{}{}
	}
	report := Report{Rows: len(full), Cities: len(cities), Alerts: alerts}

	if len(alerts) == 0 {
		d.logger.Info("no anomalies detected; behaviour within normal range",
			zap.Int("rows", report.Rows),
			zap.Float64("threshold", d.threshold))
		return report, nil
	}
	for _, a := range alerts {
		d.logger.Warn("temperature anomaly",
			zap.String("city", a.City),
			zap.String("date", a.Date),
			zap.Float64("temp_change", *a.TempChange),
			zap.Float64("severity", *a.Severity))
	}
	d.logger.Info("anomaly detection completed",
		zap.Int("rows", report.Rows),
		zap.Int("alerts", len(alerts)))
	return report, nil
}
