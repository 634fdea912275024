// Package client talks to the OpenWeatherMap air_pollution API.
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
	"time"

	"github.com/kjstillabower/air-quality-proxy/internal/circuitbreaker"
	"github.com/kjstillabower/air-quality-proxy/internal/models"
	"github.com/kjstillabower/air-quality-proxy/internal/observability"
	"github.com/kjstillabower/air-quality-proxy/internal/routing"
)

// DefaultAPIURL is the current-conditions endpoint; forecast and history hang off it.
const DefaultAPIURL = "https://api.openweathermap.org/data/2.5/air_pollution"

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 1 << 20

var (
	ErrMissingAPIKey   = errors.New("missing API key")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
)

// UpstreamError reports a failed air_pollution call. Status is zero for transport
// failures. Err is one of the sentinels above, possibly joined with the cause.
type UpstreamError struct {
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("OpenWeather API Error: %d - %s", e.Status, e.Body)
	}
	return fmt.Sprintf("OpenWeather API Error: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

type OpenWeatherClient struct {
	apiKey         string
	apiURL         *url.URL
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

// NewOpenWeatherClient builds a client with the default retry policy. An empty apiKey
// is accepted; every Fetch then fails with ErrMissingAPIKey.
func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	return NewOpenWeatherClientWithRetry(apiKey, apiURL, timeout, 3, 200*time.Millisecond, 2*time.Second)
}

func NewOpenWeatherClientWithRetry(apiKey, apiURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*OpenWeatherClient, error) {
	if apiKey != "" && len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	base, err := url.Parse(apiURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API URL %q", apiURL)
	}
	if retryAttempts < 1 {
		retryAttempts = 1
	}

	return &OpenWeatherClient{
		apiKey:         apiKey,
		apiURL:         base,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker routes every attempt through cb. Pass nil to disable.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// HasAPIKey reports whether a credential was configured.
func (c *OpenWeatherClient) HasAPIKey() bool {
	return c.apiKey != ""
}

type airPollutionResponse struct {
	Coord json.RawMessage `json:"coord"`
	List  []models.Sample `json:"list"`
}

// Fetch performs the upstream call described by plan, retrying transient failures.
func (c *OpenWeatherClient) Fetch(ctx context.Context, plan routing.Plan) (models.UpstreamResponse, error) {
	if c.apiKey == "" {
		return models.UpstreamResponse{}, ErrMissingAPIKey
	}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.Inc()
			timer := time.NewTimer(c.calculateBackoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return models.UpstreamResponse{}, c.fail(&UpstreamError{Err: fmt.Errorf("%w: %w", ErrUpstreamFailure, ctx.Err())})
			case <-timer.C:
			}
		}

		result, err := c.attempt(ctx, plan)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryable(ctx, err) {
			break
		}
	}
	return models.UpstreamResponse{}, c.fail(lastErr)
}

func (c *OpenWeatherClient) fail(err error) error {
	observability.UpstreamErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
	return err
}

// attempt runs one call, through the breaker when one is set.
func (c *OpenWeatherClient) attempt(ctx context.Context, plan routing.Plan) (models.UpstreamResponse, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, plan)
	}
	var result models.UpstreamResponse
	err := c.breaker.Call(ctx, func() error {
		var callErr error
		result, callErr = c.callAPI(ctx, plan)
		return callErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return models.UpstreamResponse{}, &UpstreamError{Err: fmt.Errorf("%w: %w", ErrUpstreamFailure, err)}
	}
	if err != nil && !isUpstreamError(err) {
		return models.UpstreamResponse{}, &UpstreamError{Err: fmt.Errorf("%w: %w", ErrUpstreamFailure, err)}
	}
	return result, err
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, plan routing.Plan) (models.UpstreamResponse, error) {
	mode := string(plan.Mode)
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, plan)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(mode, "error").Inc()
		return models.UpstreamResponse{}, &UpstreamError{Err: fmt.Errorf("%w: build request: %w", ErrUpstreamFailure, err)}
	}

	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(mode, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(mode, "error").Observe(time.Since(start).Seconds())
		return models.UpstreamResponse{}, &UpstreamError{Err: fmt.Errorf("%w: %w", ErrUpstreamFailure, redact(err))}
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(mode, status).Inc()
	observability.UpstreamDuration.WithLabelValues(mode, status).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.UpstreamResponse{}, &UpstreamError{Err: fmt.Errorf("%w: read response body: %w", ErrUpstreamFailure, redact(err))}
	}

	if err := handleErrorResponse(resp.StatusCode, body); err != nil {
		return models.UpstreamResponse{}, err
	}

	var apiResp airPollutionResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.UpstreamResponse{}, &UpstreamError{Err: fmt.Errorf("%w: parse response: %w", ErrUpstreamFailure, err)}
	}
	return models.UpstreamResponse{Body: body, Coord: apiResp.Coord, List: apiResp.List}, nil
}

// endpoint returns the URL for a mode: the base for current, /forecast and /history below it.
func (c *OpenWeatherClient) endpoint(mode models.Mode) *url.URL {
	switch mode {
	case models.ModeForecast:
		return c.apiURL.JoinPath("forecast")
	case models.ModeHistory:
		return c.apiURL.JoinPath("history")
	default:
		u := *c.apiURL
		return &u
	}
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, plan routing.Plan) (*http.Request, error) {
	u := c.endpoint(plan.Mode)

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(plan.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(plan.Lon, 'f', -1, 64))
	if plan.Mode == models.ModeHistory {
		params.Set("start", strconv.FormatInt(plan.Start, 10))
		params.Set("end", strconv.FormatInt(plan.End, 10))
	}
	params.Set("appid", c.apiKey)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", redact(err))
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	e := &UpstreamError{Status: statusCode, Body: string(body)}
	switch {
	case statusCode == http.StatusUnauthorized:
		e.Err = ErrInvalidAPIKey
	case statusCode == http.StatusTooManyRequests:
		e.Err = ErrRateLimited
	default:
		e.Err = ErrUpstreamFailure
	}
	return e
}

// isRetryable reports whether another attempt may succeed: rate limiting, 5xx and
// transport failures that were not caused by the caller giving up.
func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		return false
	}
	switch {
	case ue.Status == 0:
		return true
	case ue.Status == http.StatusTooManyRequests:
		return true
	case ue.Status >= 500:
		return true
	}
	return false
}

// IsBreakerFailure reports whether err should count against the circuit breaker.
// Rejections caused by the request itself, such as a bad key or range, do not.
func IsBreakerFailure(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.Status != 0 {
		return ue.Status >= 500 || ue.Status == http.StatusTooManyRequests
	}
	return err != nil
}

func isUpstreamError(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// redact drops the url.Error wrapper, whose message includes the request URL and with
// it the appid parameter.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
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

// ValidateAPIKey makes one current-conditions call to confirm the key is accepted.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, routing.Plan{Mode: models.ModeCurrent, Lat: 51.5074, Lon: -0.1278})
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", redact(err))
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
