package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/plant-output-forecaster/internal/circuitbreaker"
	"github.com/kjstillabower/plant-output-forecaster/internal/models"
	"github.com/kjstillabower/plant-output-forecaster/internal/observability"
)

// WeatherClient is the weather provider boundary: a current-weather lookup and
// a 3-hourly forecast lookup keyed by coordinate.
type WeatherClient interface {
	GetCurrent(ctx context.Context, lat, lon float64) (models.Observation, error)
	GetForecast(ctx context.Context, lat, lon float64, days int) ([]models.ForecastSample, error)
}

var (
	ErrInvalidAPIKey      = errors.New("invalid API key")
	ErrLocationNotFound   = errors.New("location not found")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrUpstreamFailure    = errors.New("upstream failure")
	ErrRateLimited        = errors.New("rate limited")
	ErrMalformedResponse  = errors.New("malformed response")
)

const (
	// MaxForecastDays is the longest horizon the forecast endpoint serves.
	MaxForecastDays = 5
	// SamplesPerDay is the number of 3-hourly forecast steps per day.
	SamplesPerDay = 8

	endpointCurrent  = "current"
	endpointForecast = "forecast"
)

// Options configures an OpenWeatherClient.
type Options struct {
	APIKey  string
	BaseURL string // e.g. https://api.openweathermap.org/data/2.5
	Timeout time.Duration

	// RetryAttempts is the total number of attempts per lookup. 1 (the default)
	// means a single attempt bounded by Timeout.
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// RequestsPerSecond caps outbound calls; 0 disables the limiter.
	RequestsPerSecond float64
	Burst             int

	Breaker    *circuitbreaker.CircuitBreaker
	HTTPClient *http.Client
}

// OpenWeatherClient calls the OpenWeatherMap current-weather and forecast endpoints.
type OpenWeatherClient struct {
	apiKey         string
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	limiter        *rate.Limiter
	breaker        *circuitbreaker.CircuitBreaker
}

// NewOpenWeatherClient validates opts and returns a client.
func NewOpenWeatherClient(opts Options) (*OpenWeatherClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(opts.APIKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 2 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	c := &OpenWeatherClient{
		apiKey:         opts.APIKey,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		timeout:        opts.Timeout,
		client:         httpClient,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		breaker:        opts.Breaker,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c, nil
}

// IsBreakerFailure reports whether err reflects provider health. Bad input
// (unknown location, invalid coordinates) and cancellation do not count.
func IsBreakerFailure(err error) bool {
	return !errors.Is(err, ErrLocationNotFound) &&
		!errors.Is(err, ErrInvalidCoordinates) &&
		!errors.Is(err, context.Canceled)
}

type mainBlock struct {
	Temp *float64 `json:"temp"`
}

type windBlock struct {
	Speed *float64 `json:"speed"`
}

type cloudsBlock struct {
	All *float64 `json:"all"`
}

type currentResponse struct {
	Main   *mainBlock         `json:"main"`
	Wind   windBlock          `json:"wind"`
	Clouds cloudsBlock        `json:"clouds"`
	Rain   map[string]float64 `json:"rain"`
}

type forecastResponse struct {
	List []struct {
		Dt     int64              `json:"dt"`
		Main   *mainBlock         `json:"main"`
		Wind   windBlock          `json:"wind"`
		Clouds cloudsBlock        `json:"clouds"`
		Rain   map[string]float64 `json:"rain"`
	} `json:"list"`
	City struct {
		Timezone int `json:"timezone"` // seconds east of UTC
	} `json:"city"`
}

// GetCurrent returns the current observation at a coordinate. The 1h rain
// volume is the water flow proxy.
func (c *OpenWeatherClient) GetCurrent(ctx context.Context, lat, lon float64) (models.Observation, error) {
	var resp currentResponse
	if err := c.do(ctx, endpointCurrent, "/weather", lat, lon, nil, &resp); err != nil {
		return models.Observation{}, err
	}
	if resp.Main == nil || resp.Main.Temp == nil {
		return models.Observation{}, fmt.Errorf("%w: missing main.temp", ErrMalformedResponse)
	}
	return mapObservation(resp.Main, resp.Wind, resp.Clouds, resp.Rain["1h"]), nil
}

// GetForecast returns the 3-hourly forecast for days (clamped to [1,5]).
// Timestamps carry the location's UTC offset as reported by the provider.
func (c *OpenWeatherClient) GetForecast(ctx context.Context, lat, lon float64, days int) ([]models.ForecastSample, error) {
	days = ClampDays(days)
	extra := url.Values{}
	extra.Set("cnt", strconv.Itoa(days*SamplesPerDay))

	var resp forecastResponse
	if err := c.do(ctx, endpointForecast, "/forecast", lat, lon, extra, &resp); err != nil {
		return nil, err
	}
	if len(resp.List) == 0 {
		return nil, fmt.Errorf("%w: empty forecast list", ErrMalformedResponse)
	}

	zone := time.FixedZone("", resp.City.Timezone)
	samples := make([]models.ForecastSample, 0, len(resp.List))
	for _, item := range resp.List {
		if item.Dt <= 0 {
			return nil, fmt.Errorf("%w: forecast item without timestamp", ErrMalformedResponse)
		}
		samples = append(samples, models.ForecastSample{
			Time:        time.Unix(item.Dt, 0).In(zone),
			Observation: mapObservation(item.Main, item.Wind, item.Clouds, item.Rain["3h"]),
		})
	}
	return samples, nil
}

// ClampDays restricts a forecast horizon to [1, MaxForecastDays].
func ClampDays(days int) int {
	if days < 1 {
		return 1
	}
	if days > MaxForecastDays {
		return MaxForecastDays
	}
	return days
}

// mapObservation fills absent fields from the neutral observation.
func mapObservation(m *mainBlock, w windBlock, cl cloudsBlock, rain float64) models.Observation {
	obs := models.NeutralObservation()
	if m != nil && m.Temp != nil {
		obs.Temperature = *m.Temp
	}
	if w.Speed != nil {
		obs.WindSpeed = *w.Speed
	}
	if cl.All != nil {
		obs.CloudCover = *cl.All
	}
	obs.WaterFlow = rain
	return obs.Clamped()
}

// do runs one lookup through the limiter, breaker, and retry loop and decodes
// the JSON body into out.
func (c *OpenWeatherClient) do(ctx context.Context, endpoint, path string, lat, lon float64, extra url.Values, out any) error {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("outbound rate limit wait: %w", err)
			}
		}

		call := func() error { return c.callAPI(ctx, endpoint, path, lat, lon, extra, out) }
		var err error
		if c.breaker != nil {
			err = c.breaker.Call(ctx, call)
		} else {
			err = call()
		}
		if err == nil {
			return nil
		}

		lastErr = err
		if !c.isRetryable(err) {
			return err
		}
	}

	if c.retryAttempts > 1 {
		return fmt.Errorf("exhausted retries: %w", lastErr)
	}
	return lastErr
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, endpoint, path string, lat, lon float64, extra url.Values, out any) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, lat, lon, extra)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}

	corrID := extractCorrelationID(ctx)
	if corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: parse response: %v", ErrMalformedResponse, err)
	}
	return nil
}

func (c *OpenWeatherClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded")
}

func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, path string, lat, lon float64, extra url.Values) (*http.Request, error) {
	baseURL, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *OpenWeatherClient) handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: HTTP 400", ErrInvalidCoordinates)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid API key", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey makes one current-weather call and reports an invalid or
// inactive key.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "/weather", 51.5074, -0.1278, nil)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
