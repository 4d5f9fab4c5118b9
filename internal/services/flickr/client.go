package flickr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL           = "https://api.flickr.com/services/rest"
	defaultPhotoBaseURL      = "https://live.staticflickr.com"
	defaultUserAgent         = "stencil/1.0"
	defaultHTTPTimeout       = 15 * time.Second
	defaultRequestsPerMinute = 60
	defaultRetryAttempts     = 5
	defaultRetryBaseDelay    = 1 * time.Second
	defaultRetryMaxDelay     = 10 * time.Second
	defaultPerPage           = 100
)

// Config captures the settings needed to reach the Flickr REST API.
type Config struct {
	APIKey            string
	BaseURL           string
	UserAgent         string
	RequestsPerMinute int
	TimeoutSeconds    int
}

// retryPolicy bounds how transient failures are retried. A zero
// baseDelay disables backoff sleeps entirely.
type retryPolicy struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func (p retryPolicy) maxAttempts() int {
	if p.attempts <= 0 {
		return 1
	}
	return p.attempts
}

func (p retryPolicy) ceiling() time.Duration {
	if p.maxDelay > 0 {
		return p.maxDelay
	}
	return defaultRetryMaxDelay
}

func (p retryPolicy) cap(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if limit := p.ceiling(); delay > limit {
		return limit
	}
	return delay
}

// backoff doubles the base delay per completed attempt up to the ceiling.
func (p retryPolicy) backoff(attempt int) time.Duration {
	if p.baseDelay <= 0 {
		return 0
	}
	limit := p.ceiling()
	delay := p.baseDelay
	for i := 1; i < attempt && delay <= limit/2; i++ {
		delay *= 2
	}
	return p.cap(delay)
}

// Client wraps the Flickr REST API with throttling and retries.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	photoBase  string
	policy     retryPolicy
	sleeper    func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimit overrides the request throttle (defaults to the
// configured requests-per-minute with a burst of one).
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithLogger attaches a logger for per-photo download diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRetryMaxAttempts overrides the default retry count (defaults to 5).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.policy.attempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.policy.baseDelay = baseDelay
		c.policy.maxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a Flickr client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	client := &Client{
		cfg: Config{
			APIKey:            strings.TrimSpace(cfg.APIKey),
			BaseURL:           strings.TrimSpace(cfg.BaseURL),
			UserAgent:         strings.TrimSpace(cfg.UserAgent),
			RequestsPerMinute: rpm,
			TimeoutSeconds:    cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		photoBase:  defaultPhotoBaseURL,
		policy: retryPolicy{
			attempts:  defaultRetryAttempts,
			baseDelay: defaultRetryBaseDelay,
			maxDelay:  defaultRetryMaxDelay,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = defaultBaseURL
	}
	if client.cfg.UserAgent == "" {
		client.cfg.UserAgent = defaultUserAgent
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// Configured reports whether the client carries an API key.
func (c *Client) Configured() bool {
	return c != nil && c.cfg.APIKey != ""
}

// HealthCheck verifies the API key with flickr.test.echo.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.Configured() {
		return errors.New("flickr: api key not configured")
	}
	body, err := c.callMethod(ctx, "flickr health check", "flickr.test.echo", nil)
	if err != nil {
		return err
	}
	var envelope restEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("flickr health check: decode response: %w", err)
	}
	if envelope.Stat != "ok" {
		return &apiError{Code: envelope.Code, Message: envelope.Message}
	}
	return nil
}

type restEnvelope struct {
	Stat    string `json:"stat"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type apiError struct {
	Code    int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("flickr api: code %d: %s", e.Code, strings.TrimSpace(e.Message))
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("flickr request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (e *httpStatusError) transient() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// callMethod invokes one REST method, retrying transient failures.
func (c *Client) callMethod(ctx context.Context, op, method string, params url.Values) ([]byte, error) {
	attempts := c.policy.maxAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := c.callMethodOnce(ctx, method, params)
		if err == nil {
			return body, nil
		}
		delay, retry := c.shouldRetry(ctx, err, attempt)
		if !retry {
			return nil, err
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return nil, fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, lastErr)
}

func (c *Client) callMethodOnce(ctx context.Context, method string, params url.Values) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	query := url.Values{}
	for key, values := range params {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	query.Set("method", method)
	query.Set("api_key", c.cfg.APIKey)
	query.Set("format", "json")
	query.Set("nojsoncallback", "1")

	endpoint := c.cfg.BaseURL + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("flickr request: new request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flickr request: http error (timeout=%s): %w", c.timeout(), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("flickr request: read body (timeout=%s): %w", c.timeout(), err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	return body, nil
}

// wait blocks until the rate limiter admits another request.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("flickr request: throttle: %w", err)
	}
	return nil
}

func (c *Client) timeout() time.Duration {
	if c.httpClient == nil || c.httpClient.Timeout <= 0 {
		return defaultHTTPTimeout
	}
	return c.httpClient.Timeout
}

// shouldRetry classifies err after a completed attempt. Server-directed
// Retry-After waits win over computed backoff.
func (c *Client) shouldRetry(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	if err == nil || attempt >= c.policy.maxAttempts() {
		return 0, false
	}
	if ctx == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		if !statusErr.transient() {
			return 0, false
		}
		if statusErr.RetryAfter > 0 {
			return c.policy.cap(statusErr.RetryAfter), true
		}
		return c.policy.backoff(attempt), true
	}

	// *url.Error satisfies net.Error, so transport timeouts from
	// http.Client.Do land here too.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.policy.backoff(attempt), true
	}
	return 0, false
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx == nil {
		return errors.New("flickr retry: nil context")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay, true
		}
	}
	return 0, false
}
