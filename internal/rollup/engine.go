// Package rollup derives hourly and daily summaries from the observation history.
//
// Buckets are keyed by the source-reported update timestamp (calendar date and hour as
// reported by the source). Every build is a stateless recompute over History: a full build
// replaces the derived table, an incremental build recomputes only the buckets touched by
// rows ingested since a watermark and upserts them.
package rollup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/weather-anomaly-pipeline/internal/weather"
)

// Mode selects the refresh strategy of a build.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// ParseMode parses a refresh mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeIncremental:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown rollup mode %q (want %q or %q)", s, ModeFull, ModeIncremental)
	}
}

// Scope selects the History rows a build considers.
// IngestedSince is only used by incremental builds; rows ingested at or after it are new.
type Scope struct {
	Mode          Mode
	IngestedSince time.Time
}

// Full returns a full-rebuild scope.
func Full() Scope {
	return Scope{Mode: ModeFull}
}

// Since returns an incremental scope covering rows ingested at or after t.
func Since(t time.Time) Scope {
	return Scope{Mode: ModeIncremental, IngestedSince: t}
}

// BuildResult describes one build.
type BuildResult struct {
	Table   string
	Mode    Mode
	Buckets int
	Rows    int
}

// Store is what the engine reads from and writes to.
type Store interface {
	weather.HistoryStore
	weather.SummaryStore
}

// Engine builds the hourly and daily rollup tables.
type Engine struct {
	store  Store
	logger *zap.Logger
}

// NewEngine creates a new Engine.
func NewEngine(store Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, logger: logger}
}

// BuildHourly refreshes weather_hourly_summary.
func (e *Engine) BuildHourly(ctx context.Context, scope Scope) (BuildResult, error) {
	return build(ctx, e, scope, "weather_hourly_summary",
		weather.HourlyKeyOf, weather.AggregateHourly,
		e.store.ReplaceHourly, e.store.UpsertHourly)
}

// BuildDaily refreshes weather_daily_summary.
func (e *Engine) BuildDaily(ctx context.Context, scope Scope) (BuildResult, error) {
	return build(ctx, e, scope, "weather_daily_summary",
		weather.DailyKeyOf, weather.AggregateDaily,
		e.store.ReplaceDaily, e.store.UpsertDaily)
}

// BuildAll refreshes the hourly then the daily table with the same scope.
// It stops at the first failing table.
func (e *Engine) BuildAll(ctx context.Context, scope Scope) ([]BuildResult, error) {
	hourly, err := e.BuildHourly(ctx, scope)
	if err != nil {
		return nil, err
	}
	daily, err := e.BuildDaily(ctx, scope)
	if err != nil {
		return []BuildResult{hourly}, err
	}
	return []BuildResult{hourly, daily}, nil
}

func build[K comparable, S any](
	ctx context.Context,
	e *Engine,
	scope Scope,
	table string,
	keyOf func(weather.ObservationRecord) K,
	fold func([]weather.ObservationRecord) []S,
	replace func(context.Context, []S) error,
	upsert func(context.Context, []S) error,
) (BuildResult, error) {
	res := BuildResult{Table: table, Mode: scope.Mode}
	logger := e.logger.With(zap.String("table", table), zap.String("mode", string(scope.Mode)))

	history, err := e.store.ListObservations(ctx)
	if err != nil {
		return res, fmt.Errorf("read history: %w", err)
	}
	if len(history) == 0 {
		logger.Info("no history rows; nothing to aggregate")
		return res, weather.ErrNoData
	}

	switch scope.Mode {
	case ModeFull:
		rows := fold(history)
		if err := replace(ctx, rows); err != nil {
			return res, fmt.Errorf("rebuild %s: %w", table, err)
		}
		res.Buckets = len(rows)
		res.Rows = len(rows)

	case ModeIncremental:
		touched := make(map[K]struct{})
		for _, r := range history {
			if !r.IngestedAt.Before(scope.IngestedSince) {
				touched[keyOf(r)] = struct{}{}
			}
		}
		if len(touched) == 0 {
			logger.Info("no new history rows in scope",
				zap.Time("ingested_since", scope.IngestedSince))
			return res, nil
		}

		// Recompute each touched bucket from every History row in it, old or new.
		var inScope []weather.ObservationRecord
		for _, r := range history {
			if _, ok := touched[keyOf(r)]; ok {
				inScope = append(inScope, r)
			}
		}
		rows := fold(inScope)
		if err := upsert(ctx, rows); err != nil {
			return res, fmt.Errorf("upsert %s: %w", table, err)
		}
		res.Buckets = len(touched)
		res.Rows = len(rows)

	default:
		return res, fmt.Errorf("unknown rollup mode %q", scope.Mode)
	}

	logger.Info("rollup built",
		zap.Int("history_rows", len(history)),
		zap.Int("buckets", res.Buckets),
		zap.Int("rows", res.Rows))
	return res, nil
}
