package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/i474232898/weather-anomaly-pipeline/internal/pipeline"
)

type runnerFunc func(ctx context.Context) (pipeline.Result, error)

func (f runnerFunc) RunOnce(ctx context.Context) (pipeline.Result, error) {
	return f(ctx)
}

func TestSchedulerRunsImmediately(t *testing.T) {
	ran := make(chan struct{}, 1)
	runner := runnerFunc(func(ctx context.Context) (pipeline.Result, error) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		select {
		case ran <- struct{}{}:
		default:
		}
		return pipeline.Result{}, errors.New("partial failure")
	})

	s := New(runner, time.Hour, "", time.Minute, zap.NewNop())
	require.NoError(t, s.Start())
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline job did not run")
	}
}

func TestSchedulerRejectsInvalidCron(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context) (pipeline.Result, error) {
		return pipeline.Result{}, nil
	})
	s := New(runner, 0, "not a cron", 0, nil)
	assert.Error(t, s.Start())
	s.Stop()
}
