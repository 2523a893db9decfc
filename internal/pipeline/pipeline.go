// Package pipeline runs one full collection cycle: an ingestion sweep, the rollup
// refresh for what the sweep wrote, then anomaly detection over the daily table.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/i474232898/weather-anomaly-pipeline/internal/anomaly"
	"github.com/i474232898/weather-anomaly-pipeline/internal/rollup"
	"github.com/i474232898/weather-anomaly-pipeline/internal/weather"
)

// Result collects the outcome of every stage of one run.
type Result struct {
	Sweep     weather.SweepReport
	Rollups   []rollup.BuildResult
	Anomalies anomaly.Report
}

// Pipeline wires the coordinator, the rollup engine and the detector together.
type Pipeline struct {
	service  *weather.Service
	engine   *rollup.Engine
	detector *anomaly.Detector
	targets  []weather.Target
	logger   *zap.Logger

	fullRebuild bool
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithFullRebuild makes every run rebuild the rollup tables from scratch
// instead of refreshing only the buckets the sweep touched.
func WithFullRebuild() Option {
	return func(p *Pipeline) {
		p.fullRebuild = true
	}
}

// New creates a new Pipeline.
func New(
	service *weather.Service,
	engine *rollup.Engine,
	detector *anomaly.Detector,
	targets []weather.Target,
	logger *zap.Logger,
	opts ...Option,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		service:  service,
		engine:   engine,
		detector: detector,
		targets:  targets,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunOnce executes one cycle. Empty tables are not errors. A failing rollup does not
// stop anomaly detection, which then works on whatever daily summaries exist.
// Stage errors are joined into the returned error.
func (p *Pipeline) RunOnce(ctx context.Context) (Result, error) {
	var (
		res  Result
		errs []error
	)

	res.Sweep = p.service.Sweep(ctx, p.targets)
	logger := p.logger.With(zap.String("run_id", res.Sweep.RunID))

	if err := ctx.Err(); err != nil {
		return res, err
	}

	scope := rollup.Since(res.Sweep.StartedAt)
	if p.fullRebuild {
		scope = rollup.Full()
	}
	rollups, err := p.engine.BuildAll(ctx, scope)
	res.Rollups = rollups
	if err != nil && !errors.Is(err, weather.ErrNoData) {
		logger.Error("rollup stage failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("rollup: %w", err))
	}

	report, err := p.detector.Run(ctx)
	res.Anomalies = report
	if err != nil && !errors.Is(err, weather.ErrNoData) {
		logger.Error("anomaly stage failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("anomaly detection: %w", err))
	}

	logger.Info("pipeline run completed",
		zap.Int("persisted", res.Sweep.Persisted),
		zap.Int("skipped", res.Sweep.Skipped),
		zap.Int("rollup_tables", len(res.Rollups)),
		zap.Int("alerts", len(res.Anomalies.Alerts)))
	return res, errors.Join(errs...)
}
