package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// RetryConfig controls the bounded retry loop of a single target fetch.
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration // delay before the second attempt, doubled for each further one
	MaxBackoff  time.Duration // 0 = uncapped
	Timeout     time.Duration // per attempt, 0 = rely on the http.Client
}

// DefaultRetryConfig mirrors the collector defaults: 3 attempts, 2s base backoff, 10s timeout.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Backoff:     2 * time.Second,
		MaxBackoff:  30 * time.Second,
		Timeout:     10 * time.Second,
	}
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client *http.Client
	Retry  RetryConfig
	Sleep  Sleeper
	Logger *zap.Logger
}

// FetchResult is the outcome of FetchWithRetry. Err is nil only on an HTTP 200.
type FetchResult struct {
	Body     []byte
	Attempts int
	Err      error
}

// OK reports whether the fetch succeeded.
func (r FetchResult) OK() bool {
	return r.Err == nil
}

var (
	// ErrFetchExhausted is wrapped by the result of a fetch whose attempts all failed.
	ErrFetchExhausted = errors.New("fetch attempts exhausted")
	// ErrCircuitOpen is wrapped when the breaker refuses further attempts.
	ErrCircuitOpen = errors.New("circuit breaker open")

	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid retry configuration")
)

type statusError struct {
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// NewBreaker returns a circuit breaker for one target of a source.
// It trips after tripAfter consecutive failed attempts; tripAfter == 0 disables tripping.
// Client errors (4xx) describe the request, not the source's health, and never count.
func NewBreaker(name string, tripAfter uint32) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return tripAfter > 0 && counts.ConsecutiveFailures >= tripAfter
		},
		IsSuccessful: breakerNeutral,
	})
}

// breakerNeutral reports whether err leaves the breaker's failure count alone.
func breakerNeutral(err error) bool {
	if err == nil {
		return true
	}
	var se *statusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests
}

// breakerSet hands out one circuit breaker per target, so a failing city
// never trips the fetches of the others.
type breakerSet struct {
	mu        sync.Mutex
	name      string
	tripAfter uint32
	byTarget  map[string]*gobreaker.CircuitBreaker
}

func newBreakerSet(name string, tripAfter uint32) *breakerSet {
	return &breakerSet{
		name:      name,
		tripAfter: tripAfter,
		byTarget:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

// get returns the breaker of target. A nil set disables breaking.
func (b *breakerSet) get(target string) *gobreaker.CircuitBreaker {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.byTarget[target]
	if !ok {
		cb = NewBreaker(b.name+":"+target, b.tripAfter)
		b.byTarget[target] = cb
	}
	return cb
}

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay returns the wait before attempt+1, attempt being 1-based.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.Backoff * time.Duration(math.Pow(2, float64(attempt-1)))
	if cfg.MaxBackoff > 0 && delay > cfg.MaxBackoff {
		delay = cfg.MaxBackoff
	}
	return delay
}

// FetchWithRetry performs one target fetch with bounded retries and exponential backoff.
// It never panics on exhaustion; the caller decides what a failed result means.
func FetchWithRetry(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	target string,
	buildRequest func(ctx context.Context) (*http.Request, error),
) FetchResult {
	if cfg.Client == nil {
		return FetchResult{Err: errNoHTTPClient}
	}
	if cfg.Retry.MaxAttempts < 1 || cfg.Retry.Backoff < 0 {
		return FetchResult{Err: errInvalidConfig}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return FetchResult{Attempts: attempt - 1, Err: fmt.Errorf("fetch %s cancelled: %w", target, err)}
		}

		body, err := doAttempt(ctx, cfg, cb, buildRequest)
		if err == nil {
			if attempt > 1 {
				logger.Info("fetch succeeded after retries",
					zap.String("target", target),
					zap.Int("attempts", attempt))
			}
			return FetchResult{Body: body, Attempts: attempt}
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logger.Error("fetch refused by circuit breaker",
				zap.String("target", target),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return FetchResult{Attempts: attempt, Err: fmt.Errorf("%w: %v", ErrCircuitOpen, err)}
		}

		var se *statusError
		if errors.As(err, &se) {
			logger.Warn("non-200 response",
				zap.String("target", target),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", cfg.Retry.MaxAttempts),
				zap.Int("status", se.Code))
		} else {
			logger.Error("request failed",
				zap.String("target", target),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", cfg.Retry.MaxAttempts),
				zap.Error(err))
		}

		if attempt == cfg.Retry.MaxAttempts {
			break
		}
		if err := sleep(ctx, backoffDelay(cfg.Retry, attempt)); err != nil {
			return FetchResult{Attempts: attempt, Err: fmt.Errorf("fetch %s cancelled: %w", target, err)}
		}
	}

	return FetchResult{
		Attempts: cfg.Retry.MaxAttempts,
		Err:      fmt.Errorf("%w: %s after %d attempts: %v", ErrFetchExhausted, target, cfg.Retry.MaxAttempts, lastErr),
	}
}

func doAttempt(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func(ctx context.Context) (*http.Request, error),
) ([]byte, error) {
	attemptCtx := ctx
	if cfg.Retry.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, cfg.Retry.Timeout)
		defer cancel()
	}

	req, err := buildRequest(attemptCtx)
	if err != nil {
		return nil, err
	}

	call := func() (any, error) {
		resp, err := cfg.Client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, &statusError{Code: resp.StatusCode}
		}
		return io.ReadAll(resp.Body)
	}

	var result any
	if cb != nil {
		result, err = cb.Execute(call)
	} else {
		result, err = call()
	}
	if err != nil {
		return nil, err
	}

	body, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return body, nil
}
