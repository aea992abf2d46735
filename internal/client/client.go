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

	"github.com/kjstillabower/black-ice-route-service/internal/circuitbreaker"
	"github.com/kjstillabower/black-ice-route-service/internal/models"
	"github.com/kjstillabower/black-ice-route-service/internal/observability"
)

// WeatherClient fetches current conditions at a point from an upstream provider.
type WeatherClient interface {
	Fetch(ctx context.Context, lat, lon float64) (models.WeatherObservation, error)
	ValidateAPIKey(ctx context.Context) error
}

// Options configures an OpenWeatherClient beyond key and URL.
type Options struct {
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Breaker        *circuitbreaker.CircuitBreaker
	Now            func() time.Time
}

// OpenWeatherClient talks to the OpenWeatherMap current-weather endpoint.
type OpenWeatherClient struct {
	apiKey         string
	apiURL         string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
	now            func() time.Time
}

// validation probe point (London)
const probeLat, probeLon = 51.5072, -0.1276

func NewOpenWeatherClient(apiKey, apiURL string, opts Options) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(apiURL); err != nil || apiURL == "" {
		return nil, fmt.Errorf("invalid API URL %q", apiURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
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
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &OpenWeatherClient{
		apiKey:         apiKey,
		apiURL:         apiURL,
		timeout:        opts.Timeout,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		breaker:        opts.Breaker,
		now:            opts.Now,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}, nil
}

type openWeatherResponse struct {
	Main struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
	Clouds struct {
		All *float64 `json:"all"`
	} `json:"clouds"`
	Visibility *float64 `json:"visibility"`
	Rain       struct {
		OneHour *float64 `json:"1h"`
	} `json:"rain"`
	Snow struct {
		OneHour *float64 `json:"1h"`
	} `json:"snow"`
	Dt int64 `json:"dt"`
}

// Fetch returns current conditions at (lat, lon). Every failure is a *ProviderError.
func (c *OpenWeatherClient) Fetch(ctx context.Context, lat, lon float64) (models.WeatherObservation, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return models.WeatherObservation{}, providerError(KindTimeout, ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := c.attempt(ctx, lat, lon)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !retryable(KindOf(err)) || ctx.Err() != nil {
			return models.WeatherObservation{}, err
		}
	}

	return models.WeatherObservation{}, lastErr
}

func (c *OpenWeatherClient) attempt(ctx context.Context, lat, lon float64) (models.WeatherObservation, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, lat, lon)
	}
	var result models.WeatherObservation
	err := c.breaker.Call(ctx, func() error {
		var callErr error
		result, callErr = c.callAPI(ctx, lat, lon)
		return callErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		observability.WeatherAPICallsTotal.WithLabelValues("circuit_open").Inc()
		return models.WeatherObservation{}, providerError(KindUnavailable, err)
	}
	if err != nil {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			err = providerError(KindOf(err), err)
		}
		return models.WeatherObservation{}, err
	}
	return result, nil
}

// TripsBreaker reports whether err should count toward opening the circuit.
// Bad keys and bad payloads are not upstream health signals.
func TripsBreaker(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindUpstream, KindRateLimited:
		return true
	}
	return false
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, lat, lon float64) (models.WeatherObservation, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, lat, lon)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.WeatherObservation{}, providerError(KindUpstream, fmt.Errorf("build request: %w", err))
	}

	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)

		if KindOf(err) == KindTimeout {
			return models.WeatherObservation{}, providerError(KindTimeout, err)
		}
		return models.WeatherObservation{}, providerError(KindUpstream, fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return models.WeatherObservation{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if KindOf(err) == KindTimeout {
			return models.WeatherObservation{}, providerError(KindTimeout, err)
		}
		return models.WeatherObservation{}, providerError(KindUpstream, fmt.Errorf("read response body: %w", err))
	}

	var apiResp openWeatherResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.WeatherObservation{}, providerError(KindMalformedResponse, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}

	return c.mapResponse(apiResp, lat, lon), nil
}

func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, lat, lon float64) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return providerError(KindInvalidAPIKey, ErrInvalidAPIKey)
	case resp.StatusCode == http.StatusTooManyRequests:
		return providerError(KindRateLimited, ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return providerError(KindUpstream, fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode))
	}
	return nil
}

func (c *OpenWeatherClient) mapResponse(apiResp openWeatherResponse, lat, lon float64) models.WeatherObservation {
	observedAt := c.now().UTC()
	if apiResp.Dt > 0 {
		observedAt = time.Unix(apiResp.Dt, 0).UTC()
	}

	obs := models.WeatherObservation{
		Temperature: finite(apiResp.Main.Temp),
		Humidity:    finite(apiResp.Main.Humidity),
		WindSpeed:   finite(apiResp.Wind.Speed),
		CloudCover:  finite(apiResp.Clouds.All),
		Visibility:  finite(apiResp.Visibility),
		ObservedAt:  observedAt,
		Location:    models.Coordinates{Lat: lat, Lon: lon},
	}

	// The API omits rain and snow when nothing is falling.
	var precip float64
	if r := finite(apiResp.Rain.OneHour); r != nil {
		precip += *r
	}
	if s := finite(apiResp.Snow.OneHour); s != nil {
		precip += *s
	}
	obs.Precipitation = models.Float(precip)

	if obs.Temperature != nil && obs.Humidity != nil {
		obs.DewPoint = DewPoint(*obs.Temperature, *obs.Humidity)
	}
	return obs
}

// Magnus coefficients (Sonntag 1990) for -45 °C to 60 °C.
const (
	magnusB = 17.62
	magnusC = 243.12
)

// DewPoint approximates the dew point in °C from air temperature (°C) and
// relative humidity (%). It returns nil when humidity is not positive.
func DewPoint(tempC, humidity float64) *float64 {
	if humidity <= 0 || humidity > 100 {
		return nil
	}
	gamma := math.Log(humidity/100) + magnusB*tempC/(magnusC+tempC)
	return models.Float(magnusC * gamma / (magnusB - gamma))
}

func finite(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return models.Float(*p)
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

// ValidateAPIKey performs a single probe request, bypassing retries and the breaker.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, probeLat, probeLon)
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
