package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/weathervane/weather-api-service/internal/models"
	"github.com/weathervane/weather-api-service/internal/observability"
	"github.com/weathervane/weather-api-service/internal/query"
)

// WeatherClient is the upstream provider boundary. Both calls are fallible
// (network, quota); callers invoke them only on cache miss.
type WeatherClient interface {
	FetchWeather(ctx context.Context, opts query.Options) (models.WeatherSnapshot, error)
	FetchForecast(ctx context.Context, opts query.Options) (models.ForecastSnapshot, error)
}

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrNotFound      = errors.New("location not found")
	// ErrUpstreamUnavailable covers transport failures and 5xx responses;
	// the cache is left untouched and the error surfaces to the caller.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrRateLimited is the provider's 429, or the local limiter refusing to
	// issue a call that would exceed the provider quota.
	ErrRateLimited = errors.New("upstream rate limited")
)

// OpenWeatherClient calls the OpenWeather current-conditions and forecast
// endpoints. Outbound calls flow through a client-side token bucket sized to
// the provider quota, a circuit breaker, and an exponential retry loop.
type OpenWeatherClient struct {
	apiKey  string
	apiURL  string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	retryAttempts uint64
}

// NewOpenWeatherClient creates a provider client. rps bounds outbound calls
// per second (0 disables local limiting); retryAttempts counts retries after
// the first try.
func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration, rps float64, burst, retryAttempts int) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	var limiter *rate.Limiter
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "weather_api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	if retryAttempts < 0 {
		retryAttempts = 0
	}
	return &OpenWeatherClient{
		apiKey:        apiKey,
		apiURL:        strings.TrimRight(apiURL, "/"),
		timeout:       timeout,
		client:        &http.Client{Timeout: timeout},
		limiter:       limiter,
		breaker:       breaker,
		retryAttempts: uint64(retryAttempts),
	}, nil
}

// FetchWeather returns current conditions for the query.
func (c *OpenWeatherClient) FetchWeather(ctx context.Context, opts query.Options) (models.WeatherSnapshot, error) {
	var resp weatherResponse
	if err := c.call(ctx, "/weather", opts, &resp); err != nil {
		return models.WeatherSnapshot{}, err
	}
	return resp.snapshot(), nil
}

// FetchForecast returns the interval forecast for the query.
func (c *OpenWeatherClient) FetchForecast(ctx context.Context, opts query.Options) (models.ForecastSnapshot, error) {
	var resp forecastResponse
	if err := c.call(ctx, "/forecast", opts, &resp); err != nil {
		return models.ForecastSnapshot{}, err
	}
	return resp.snapshot(), nil
}

// call performs one logical provider call: limiter wait, then breaker-guarded
// HTTP with retries. Terminal errors (bad key, unknown location, quota) are
// not retried.
func (c *OpenWeatherClient) call(ctx context.Context, path string, opts query.Options, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: local quota limiter: %v", ErrRateLimited, err)
		}
	}

	attempt := 0
	op := func() error {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
		}
		attempt++

		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.doRequest(ctx, path, opts, out)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("%w: circuit open: %v", ErrUpstreamUnavailable, err))
		}
		if errors.Is(err, ErrInvalidAPIKey) || errors.Is(err, ErrNotFound) ||
			errors.Is(err, ErrRateLimited) || errors.Is(err, query.ErrMalformed) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retryAttempts), ctx))
	if err != nil {
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
	}
	return err
}

func (c *OpenWeatherClient) doRequest(ctx context.Context, path string, opts query.Options, out any) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u, err := c.buildURL(path, opts)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: provider rejected key", ErrInvalidAPIKey)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, u)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: provider quota exceeded", ErrRateLimited)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("unexpected upstream status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *OpenWeatherClient) buildURL(path string, opts query.Options) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	params := url.Values{}
	switch {
	case opts.Zip > 0:
		country := strings.ToUpper(strings.TrimSpace(opts.CountryCode))
		if country == "" {
			country = "US"
		}
		params.Set("zip", strconv.Itoa(opts.Zip)+","+country)
	case strings.TrimSpace(opts.City) != "":
		params.Set("q", strings.TrimSpace(opts.City))
	default:
		params.Set("lat", strconv.FormatFloat(*opts.Lat, 'f', 4, 64))
		params.Set("lon", strconv.FormatFloat(*opts.Lon, 'f', 4, 64))
	}
	params.Set("appid", c.apiKey)
	return c.apiURL + path + "?" + params.Encode(), nil
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == 429:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}
