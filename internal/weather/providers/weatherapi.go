package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/i474232898/weather-anomaly-pipeline/internal/weather"
)

// DefaultWeatherAPIURL is the current-conditions endpoint of WeatherAPI.com.
const DefaultWeatherAPIURL = "https://api.weatherapi.com/v1/current.json"

// WeatherAPIProvider implements the weather.Provider interface for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *breakerSet
}

// WeatherAPIOption customises a WeatherAPIProvider.
type WeatherAPIOption func(*WeatherAPIProvider)

// WithSleeper replaces the backoff sleeper, mainly for tests.
func WithSleeper(s Sleeper) WeatherAPIOption {
	return func(p *WeatherAPIProvider) {
		p.httpCfg.Sleep = s
	}
}

// WithTripAfter sets how many consecutive failed attempts open a target's breaker.
// 0 disables the breakers.
func WithTripAfter(n uint32) WeatherAPIOption {
	return func(p *WeatherAPIProvider) {
		if n == 0 {
			p.circuit = nil
			return
		}
		p.circuit = newBreakerSet(p.name, n)
	}
}

func NewWeatherAPIProvider(client *http.Client, baseURL, apiKey string, retry RetryConfig, logger *zap.Logger, opts ...WeatherAPIOption) *WeatherAPIProvider {
	if baseURL == "" {
		baseURL = DefaultWeatherAPIURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: baseURL,
		httpCfg: HTTPClientConfig{
			Client: client,
			Retry:  retry,
			Sleep:  SleepContext,
			Logger: logger.Named("weatherapi"),
		},
		circuit: newBreakerSet("weatherapi", 10),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

// Fetch runs one retry cycle for the target and decodes the payload.
// Validation of the decoded fields is left to the caller.
func (p *WeatherAPIProvider) Fetch(ctx context.Context, target weather.Target) (weather.SourcePayload, error) {
	if p.apiKey == "" {
		return weather.SourcePayload{}, fmt.Errorf("weatherapi api key is not configured")
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("key", p.apiKey)
		values.Set("q", target.Key())

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	res := FetchWithRetry(ctx, p.httpCfg, p.circuit.get(target.Key()), target.Key(), buildRequest)
	if !res.OK() {
		return weather.SourcePayload{}, res.Err
	}

	var payload weather.SourcePayload
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return weather.SourcePayload{}, fmt.Errorf("%w: decode %s: %v", weather.ErrMalformedResponse, target.Key(), err)
	}
	return payload, nil
}
