package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/weather-anomaly-pipeline/internal/pipeline"
)

// Runner is one pipeline cycle.
type Runner interface {
	RunOnce(ctx context.Context) (pipeline.Result, error)
}

// Scheduler periodically runs the collection pipeline.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	interval  time.Duration
	cronExpr  string
	runTTL    time.Duration
	logger    *zap.Logger
}

// New creates a new Scheduler. cronExpr takes precedence over interval when set.
// runTTL bounds a single run; zero means the run is bounded only by Stop.
func New(runner Runner, interval time.Duration, cronExpr string, runTTL time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		interval:  interval,
		cronExpr:  cronExpr,
		runTTL:    runTTL,
		logger:    logger.Named("scheduler"),
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// The first run happens immediately; overlapping runs are skipped.
func (s *Scheduler) Start() error {
	if s.interval <= 0 && s.cronExpr == "" {
		s.interval = 15 * time.Minute
	}

	var sched *gocron.Scheduler
	if s.cronExpr != "" {
		sched = s.scheduler.Cron(s.cronExpr)
	} else {
		sched = s.scheduler.Every(s.interval)
	}

	_, err := sched.SingletonMode().Do(s.run)
	if err != nil {
		return err
	}

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.String("cron", s.cronExpr))
	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) run() {
	ctx := context.Background()
	if s.runTTL > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTTL)
		defer cancel()
	}

	s.logger.Info("running pipeline job")
	res, err := s.runner.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("pipeline job timed out", zap.Duration("ttl", s.runTTL))
			return
		}
		s.logger.Error("pipeline job finished with errors", zap.Error(err))
		return
	}
	s.logger.Info("completed pipeline job",
		zap.String("run_id", res.Sweep.RunID),
		zap.Int("alerts", len(res.Anomalies.Alerts)))
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
