package weather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var validate = validator.New()

// TargetState is the per-target progress of one sweep.
type TargetState string

const (
	StateNotAttempted TargetState = "not_attempted"
	StateFetched      TargetState = "fetched"
	StateValidated    TargetState = "validated"
	StatePersisted    TargetState = "persisted"
	StateSkipped      TargetState = "skipped"
)

// TargetResult is the outcome of ingesting one target.
type TargetResult struct {
	Target    Target
	State     TargetState
	Duplicate bool
	Warnings  []string
	Record    *ObservationRecord
	Err       error
}

// SweepReport summarises one pass over all configured targets.
type SweepReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []TargetResult
	Persisted  int
	Duplicates int
	Skipped    int
}

// IngestStore is the subset of Storage the coordinator writes to.
type IngestStore interface {
	HistoryStore
	SnapshotStore
}

// Service coordinates fetching, validating and persisting observations.
type Service struct {
	store    IngestStore
	provider Provider
	logger   *zap.Logger
	now      func() time.Time
	workers  int
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithClock sets the clock used for ingestion timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// WithWorkers sets how many targets are processed concurrently. 1 means a sequential sweep.
func WithWorkers(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewService creates a new Service.
func NewService(store IngestStore, provider Provider, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:    store,
		provider: provider,
		logger:   logger,
		now:      time.Now,
		workers:  1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep ingests every target once. A failing target never aborts the sweep.
// Targets not reached before ctx is cancelled are reported as not attempted.
func (s *Service) Sweep(ctx context.Context, targets []Target) SweepReport {
	report := SweepReport{
		RunID:     uuid.NewString(),
		StartedAt: s.now().UTC(),
		Results:   make([]TargetResult, len(targets)),
	}
	logger := s.logger.With(zap.String("run_id", report.RunID))
	logger.Info("ingestion sweep started",
		zap.Int("targets", len(targets)),
		zap.Int("workers", s.workers))

	for i, t := range targets {
		report.Results[i] = TargetResult{Target: t, State: StateNotAttempted}
	}

	if s.workers <= 1 {
		for i, t := range targets {
			if ctx.Err() != nil {
				logger.Warn("sweep cancelled", zap.Int("remaining", len(targets)-i))
				break
			}
			report.Results[i] = s.ingest(ctx, logger, t)
		}
	} else {
		pool := pond.NewPool(s.workers)
		group := pool.NewGroupContext(ctx)
		for i, t := range targets {
			group.Submit(func() {
				report.Results[i] = s.ingest(ctx, logger, t)
			})
		}
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
			logger.Warn("ingestion group encountered error", zap.Error(err))
		}
		pool.StopAndWait()
	}

	for _, r := range report.Results {
		switch {
		case r.State == StatePersisted && r.Duplicate:
			report.Duplicates++
			report.Persisted++
		case r.State == StatePersisted:
			report.Persisted++
		case r.State == StateSkipped:
			report.Skipped++
		}
	}
	report.FinishedAt = s.now().UTC()

	logger.Info("ingestion sweep completed",
		zap.Int("persisted", report.Persisted),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("skipped", report.Skipped),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)))
	return report
}

// IngestTarget runs one fetch/validate/persist cycle for a single target.
func (s *Service) IngestTarget(ctx context.Context, t Target) TargetResult {
	return s.ingest(ctx, s.logger, t)
}

func (s *Service) ingest(ctx context.Context, logger *zap.Logger, t Target) TargetResult {
	res := TargetResult{Target: t, State: StateNotAttempted}
	logger = logger.With(zap.String("city", t.Key()))

	payload, err := s.provider.Fetch(ctx, t)
	if err != nil {
		logger.Error("fetch failed; skipping target", zap.Error(err))
		res.State = StateSkipped
		res.Err = err
		return res
	}
	res.State = StateFetched

	rec, warnings, err := s.normalize(t, payload)
	res.Warnings = warnings
	for _, w := range warnings {
		logger.Warn("validation warning", zap.String("warning", w))
	}
	if err != nil {
		logger.Warn("malformed response; skipping target", zap.Error(err))
		res.State = StateSkipped
		res.Err = err
		return res
	}
	res.State = StateValidated
	res.Record = &rec

	// History first. A duplicate still refreshes the snapshot.
	if err := s.store.InsertObservation(ctx, rec); err != nil {
		if !errors.Is(err, ErrDuplicate) {
			logger.Error("history insert failed", zap.Error(err))
			res.State = StateSkipped
			res.Err = err
			return res
		}
		res.Duplicate = true
		logger.Info("duplicate history record skipped",
			zap.String("source_updated", rec.SourceUpdatedAt.Format(SourceTimeLayout)))
	} else {
		logger.Info("inserted into weather_history")
	}

	if err := s.store.UpsertSnapshot(ctx, CurrentSnapshot{ObservationRecord: rec}); err != nil {
		logger.Error("snapshot upsert failed", zap.Error(err))
		res.State = StateSkipped
		res.Err = err
		return res
	}
	logger.Debug("weather_current updated")

	res.State = StatePersisted
	return res
}

// normalize validates the payload and maps it onto an ObservationRecord.
// Out-of-range fields only produce warnings; a missing or unparseable timestamp is an error.
func (s *Service) normalize(t Target, p SourcePayload) (ObservationRecord, []string, error) {
	var warnings []string

	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return ObservationRecord{}, nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		for _, fe := range verrs {
			switch fe.StructField() {
			case "LastUpdated":
				return ObservationRecord{}, warnings, fmt.Errorf("%w: missing last_updated", ErrMalformedResponse)
			case "Humidity":
				warnings = append(warnings, fmt.Sprintf("humidity %v outside [0,100]", p.Current.Humidity))
			default:
				warnings = append(warnings, fe.Error())
			}
		}
	}

	updated, err := ParseSourceTime(p.Current.LastUpdated)
	if err != nil {
		return ObservationRecord{}, warnings, err
	}

	condition := p.Current.Condition.Text
	if condition == "" {
		condition = "Unknown"
	}

	return ObservationRecord{
		City:            t.Key(),
		Region:          p.Location.Region,
		Country:         p.Location.Country,
		TemperatureC:    p.Current.TempC,
		Humidity:        p.Current.Humidity,
		WindKph:         p.Current.WindKph,
		Condition:       condition,
		SourceUpdatedAt: updated,
		IngestedAt:      s.now().UTC(),
	}, warnings, nil
}

// GetLatest returns the snapshot of a city.
func (s *Service) GetLatest(ctx context.Context, city string) (CurrentSnapshot, error) {
	return s.store.GetSnapshot(ctx, city)
}

// History returns the observations recorded for a city, oldest first.
func (s *Service) History(ctx context.Context, city string) ([]ObservationRecord, error) {
	all, err := s.store.ListObservations(ctx)
	if err != nil {
		return nil, err
	}
	var out []ObservationRecord
	for _, r := range all {
		if r.City == city {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}
