// Package upstream provides the HTTP client for the result backends and the
// exam list API.
//
// FetchBatch never returns an error: every failure is reported as a batch of
// synthesized error records so callers can merge it like any other batch.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/resulta/resulta-proxy/pkg/cache"
	"github.com/resulta/resulta-proxy/pkg/logging"
	"github.com/resulta/resulta-proxy/pkg/regno"
	"github.com/resulta/resulta-proxy/pkg/result"
)

// Prometheus metrics for upstream operations.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resulta_upstream_requests_total",
		Help: "Total upstream requests by backend and status",
	}, []string{"backend", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resulta_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by backend",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 35},
	}, []string{"backend"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resulta_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

// Defaults for Config.
const (
	DefaultTimeout   = 35 * time.Second
	DefaultBatchStep = 5
	DefaultUserAgent = "resulta-proxy/1.0"

	// maxBodyBytes caps how much of a backend response is read.
	maxBodyBytes = 8 << 20
)

// Client fetches result batches and the exam list.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// UserAgent is sent on every request.
	UserAgent string

	// Timeout bounds each upstream request. In-flight requests are aborted
	// when it elapses.
	Timeout time.Duration

	// BatchStep is the number of records a backend returns per batch.
	BatchStep int

	// Retry applies to GetJSON only. Result batches are never retried here;
	// failed batches are not cached and heal on the next request.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent: userAgent,
		Timeout:   DefaultTimeout,
		BatchStep: DefaultBatchStep,
		Retry:     DefaultRetryConfig(),
	}
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}

	if cfg.BatchStep < 1 {
		return nil, fmt.Errorf("batch_step must be >= 1 (got %d)", cfg.BatchStep)
	}

	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		config: cfg,
		logger: logging.NewLogger("upstream"),
	}, nil
}

// FetchBatch fetches the batch starting at key.RegNo. It always returns a
// batch: on failure, BatchStep error records covering the requested range.
func (c *Client) FetchBatch(ctx context.Context, key cache.Key) result.Batch {
	backend := backendLabel(key.BaseURL)
	logger := c.logger.With().Str("backend", backend).Str("reg_no", key.RegNo).Logger()

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	body, err := c.get(ctx, key.String(), backend)
	if err != nil {
		reason := c.failureReason(err)
		logger.Warn().Err(err).Str("reason", reason).Msg("Batch fetch failed")
		return result.ErrorBatch(key.RegNo, c.config.BatchStep, reason)
	}

	batch, reason := decodeBatch(body)
	if reason != "" {
		logger.Warn().Str("reason", reason).Int("bytes", len(body)).Msg("Backend returned unusable batch")
		return result.ErrorBatch(key.RegNo, c.config.BatchStep, reason)
	}

	backfillRegNos(batch, key.RegNo)
	return batch
}

// GetJSON fetches target and returns the body once it is known to be valid
// JSON. Server, timeout and network failures are retried with backoff.
func (c *Client) GetJSON(ctx context.Context, target string) ([]byte, error) {
	backend := backendLabel(target)

	var body []byte
	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()

		b, err := c.get(attemptCtx, target, backend)
		if err != nil {
			return err
		}
		if !json.Valid(b) {
			upstreamErrorsTotal.WithLabelValues("invalid_json").Inc()
			return fmt.Errorf("%s: %w", target, ErrInvalidJSON)
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// get performs one GET and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, target, backend string) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(backend).Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		class := ErrorClassNetwork
		status := "network_error"
		if errors.Is(err, context.DeadlineExceeded) {
			class = ErrorClassTimeout
			status = "timeout"
		}
		upstreamErrorsTotal.WithLabelValues(string(class)).Inc()
		upstreamRequestsTotal.WithLabelValues(backend, status).Inc()
		return nil, &UpstreamError{ErrorClass: class, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(backend, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		class := classifyStatus(resp.StatusCode)
		upstreamErrorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("backend", backend).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Str("body", string(snippet)).
			Msg("Upstream HTTP error")

		return nil, &UpstreamError{StatusCode: resp.StatusCode, ErrorClass: class, Message: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		class := ErrorClassNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			class = ErrorClassTimeout
		}
		upstreamErrorsTotal.WithLabelValues(string(class)).Inc()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, ErrorClass: class, Message: "read body", Err: err}
	}
	return body, nil
}

// failureReason renders err as the reason attached to synthesized records.
func (c *Client) failureReason(err error) string {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		switch {
		case upErr.ErrorClass == ErrorClassTimeout:
			return fmt.Sprintf("Request Timed Out (%s)", formatTimeout(c.config.Timeout))
		case upErr.StatusCode != 0 && upErr.Err == nil:
			return fmt.Sprintf("Backend Error: HTTP %d", upErr.StatusCode)
		case upErr.Err != nil:
			return "Fetch Failed: " + upErr.Err.Error()
		}
	}
	return "Fetch Failed: " + err.Error()
}

// decodeBatch parses a backend body. The second return value is the failure
// reason, empty on success.
func decodeBatch(body []byte) (result.Batch, string) {
	if !json.Valid(body) {
		return nil, "Backend Response JSON Parse Error"
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, "Backend Response Invalid Format"
	}

	var batch result.Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		// Array of non-objects.
		return nil, "Backend Response Invalid Format"
	}
	if batch == nil {
		batch = result.Batch{}
	}
	return batch, ""
}

// backfillRegNos fills in the registration number of error and not-found
// records that arrived without one, using their position in the batch.
func backfillRegNos(batch result.Batch, start string) {
	if !regno.Valid(start) {
		return
	}
	prefix := regno.Prefix(start)
	base := regno.Suffix(start)

	for i := range batch {
		r := &batch[i]
		if r.RegNo != "" {
			continue
		}
		if r.IsError() || r.Status == result.StatusNotFound {
			r.RegNo = regno.WithSuffix(prefix, base+i)
		}
	}
}

// classifyStatus categorizes a non-2xx status code.
func classifyStatus(status int) ErrorClass {
	if status >= 400 && status < 500 {
		return ErrorClassClient
	}
	return ErrorClassServer
}

// backendLabel returns the host of rawURL for metric labels.
func backendLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

func formatTimeout(d time.Duration) string {
	if d >= time.Second && d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return d.String()
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
