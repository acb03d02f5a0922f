// Package radar is a client for the PropertyRadar property data API, used to
// run criteria jobs.
package radar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/mailhaus/internal/config"
	"github.com/sells-group/mailhaus/internal/metrics"
	"github.com/sells-group/mailhaus/internal/resilience"
)

const defaultBaseURL = "https://api.propertyradar.com/v1"

// MaxPageSize is the largest page the API returns.
const MaxPageSize = 1000

// Client runs property searches against the provider.
type Client interface {
	// Count previews a search and returns the number of matching properties
	// without purchasing them.
	Count(ctx context.Context, criteria json.RawMessage) (int, error)
	// Properties purchases one page of matching properties starting at start.
	Properties(ctx context.Context, criteria json.RawMessage, start, limit int) (*PropertiesResponse, error)
}

// PropertiesResponse is the response from POST /properties.
type PropertiesResponse struct {
	Results          []map[string]any `json:"results"`
	ResultCount      int              `json:"resultCount"`
	TotalResultCount int              `json:"totalResultCount"`
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("radar: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second. Zero disables limiting.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithCircuitBreaker sets the breaker guarding the API.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewClient creates a new PropertyRadar client.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(2, 1),
		retry:   resilience.DefaultRetryConfig(),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("radar: circuit state changed",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromConfig builds a client from the radar and retry settings.
func FromConfig(rc config.RadarConfig, retry config.RetryConfig) Client {
	opts := []Option{
		WithRateLimit(rc.RatePerSec),
		WithRetry(resilience.FromConfig(retry)),
	}
	if rc.BaseURL != "" {
		opts = append(opts, WithBaseURL(rc.BaseURL))
	}
	if rc.TimeoutSecs > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: time.Duration(rc.TimeoutSecs) * time.Second}))
	}
	return NewClient(rc.Token, opts...)
}

func (c *httpClient) Count(ctx context.Context, criteria json.RawMessage) (int, error) {
	q := url.Values{"Purchase": {"0"}, "Limit": {"1"}}
	var resp PropertiesResponse
	if err := c.post(ctx, "/properties", q, criteria, &resp); err != nil {
		return 0, eris.Wrap(err, "radar: count properties")
	}
	return resp.TotalResultCount, nil
}

func (c *httpClient) Properties(ctx context.Context, criteria json.RawMessage, start, limit int) (*PropertiesResponse, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	q := url.Values{
		"Purchase": {"1"},
		"Start":    {strconv.Itoa(start)},
		"Limit":    {strconv.Itoa(limit)},
	}
	var resp PropertiesResponse
	if err := c.post(ctx, "/properties", q, criteria, &resp); err != nil {
		return nil, eris.Wrapf(err, "radar: properties start=%d limit=%d", start, limit)
	}
	return &resp, nil
}

func (c *httpClient) post(ctx context.Context, path string, q url.Values, body json.RawMessage, out any) error {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	return resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			if err := c.limiter.Wait(ctx); err != nil {
				return eris.Wrap(err, "rate limiter wait")
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
			if err != nil {
				return eris.Wrap(err, "create request")
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+c.token)
			return c.do(req, out)
		})
	})
}

func (c *httpClient) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordProviderRequest(req.Method, "error", time.Since(start).Seconds())
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck
	metrics.RecordProviderRequest(req.Method, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
