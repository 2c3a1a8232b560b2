// Package client executes SPARQL queries against a remote query service with
// rate limiting, retry with backoff, and error classification. Every call
// returns a tagged Outcome rather than panicking or dropping the query.
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

	"github.com/Sternrassler/wdqs-harvester/pkg/ratelimit"
	"github.com/Sternrassler/wdqs-harvester/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for query client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_requests_total",
		Help: "Total queries sent to the remote service by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_request_duration_seconds",
		Help:    "Query duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_errors_total",
		Help: "Total query errors by class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// maxErrorBody bounds how much of an error response is kept for diagnostics.
const maxErrorBody = 512

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	// OutcomeSuccess carries rows (possibly none).
	OutcomeSuccess OutcomeKind = iota

	// OutcomeRetryable means retries were exhausted on a transient failure.
	OutcomeRetryable

	// OutcomeFatal means the failure must not be retried.
	OutcomeFatal
)

// String returns the kind name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the result of one Execute call.
type Outcome struct {
	Kind OutcomeKind

	// Rows holds the result bindings of a successful query.
	Rows []record.Binding

	// Class, StatusCode and Err describe a failure.
	Class      ErrorClass
	StatusCode int
	Err        error

	// Attempts is the number of requests sent.
	Attempts int
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

// Config holds the client configuration.
type Config struct {
	// Endpoint is the SPARQL endpoint URL.
	Endpoint string

	// UserAgent identifies the harvester to the service (REQUIRED by WDQS).
	// Format: "AppName/Version (contact)"
	UserAgent string

	// Timeout bounds each request.
	Timeout time.Duration

	// MaxAttempts is the number of requests per query, including the first.
	MaxAttempts int

	// Backoff computes the wait between attempts.
	Backoff BackoffPolicy

	// Limiter and Tracker are shared by every worker. Nil disables them.
	Limiter *ratelimit.Limiter
	Tracker *ratelimit.Tracker
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(endpoint, userAgent string) Config {
	return Config{
		Endpoint:    endpoint,
		UserAgent:   userAgent,
		Timeout:     60 * time.Second,
		MaxAttempts: 4,
		Backoff:     DefaultBackoffPolicy(),
	}
}

// Client is the query client.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	tracker    *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a new query client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max_attempts must be >= 1 (got %d)", cfg.MaxAttempts)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	logger := log.With().Str("component", "query-client").Logger()

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter(0, 1)
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = ratelimit.NewTracker(nil, logger)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		tracker: tracker,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Execute runs query, retrying transient failures with backoff. It never
// returns an error directly; failures are reported through the Outcome.
func (c *Client) Execute(ctx context.Context, query string) Outcome {
	if strings.TrimSpace(query) == "" {
		return fatal(ErrorClassQuery, 0, 0, ErrEmptyQuery)
	}

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fatal(ErrorClassCanceled, 0, attempt-1, err)
		}
		if err := c.tracker.Wait(ctx); err != nil {
			return fatal(ErrorClassCanceled, 0, attempt-1, err)
		}

		rows, hint, qerr := c.do(ctx, query)
		if qerr == nil {
			if attempt > 1 {
				c.logger.Info().Int("attempt", attempt).Msg("Query succeeded after retry")
			}
			return Outcome{Kind: OutcomeSuccess, Rows: rows, Attempts: attempt}
		}

		errorsTotal.WithLabelValues(string(qerr.Class)).Inc()
		if !Retryable(qerr.Class) {
			c.logger.Error().
				Err(qerr).
				Str("error_class", string(qerr.Class)).
				Int("status", qerr.StatusCode).
				Msg("Query failed")
			return fatal(qerr.Class, qerr.StatusCode, attempt, qerr)
		}

		if attempt >= c.config.MaxAttempts {
			retryExhaustedTotal.WithLabelValues(string(qerr.Class)).Inc()
			c.logger.Warn().
				Str("error_class", string(qerr.Class)).
				Int("max_attempts", c.config.MaxAttempts).
				Msg("Retry attempts exhausted")
			return Outcome{
				Kind:       OutcomeRetryable,
				Class:      qerr.Class,
				StatusCode: qerr.StatusCode,
				Err:        fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, qerr),
				Attempts:   attempt,
			}
		}

		backoff := c.config.Backoff.NextDelay(attempt, hint)
		if hint > 0 {
			if err := c.tracker.Block(ctx, backoff, qerr.StatusCode); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to record cooldown")
			}
		}

		retriesTotal.WithLabelValues(string(qerr.Class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(qerr.Class)).Observe(backoff.Seconds())
		c.logger.Warn().
			Err(qerr).
			Str("error_class", string(qerr.Class)).
			Int("status", qerr.StatusCode).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Retrying query after backoff")

		if err := sleep(ctx, backoff); err != nil {
			c.logger.Warn().
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fatal(ErrorClassCanceled, 0, attempt, err)
		}
	}
}

// sparqlResponse is the subset of the SPARQL 1.1 JSON results format we read.
type sparqlResponse struct {
	Results *struct {
		Bindings []record.Binding `json:"bindings"`
	} `json:"results"`
}

// do sends a single request. It returns the Retry-After hint on failure.
func (c *Client) do(ctx context.Context, query string) ([]record.Binding, time.Duration, *QueryError) {
	form := url.Values{"query": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, &QueryError{Class: ErrorClassQuery, Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			requestsTotal.WithLabelValues("canceled").Inc()
			return nil, 0, &QueryError{Class: ErrorClassCanceled, Message: "request cancelled", Err: ctx.Err()}
		}
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, 0, &QueryError{Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_, _ = io.Copy(io.Discard, resp.Body)
		class := ClassifyStatus(resp.StatusCode)

		var hint time.Duration
		if class == ErrorClassCapacity {
			hint = parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		}
		msg := resp.Status
		if s := strings.TrimSpace(string(body)); s != "" {
			msg = resp.Status + ": " + s
		}
		return nil, hint, &QueryError{StatusCode: resp.StatusCode, Class: class, Message: msg}
	}

	var payload sparqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if ctx.Err() != nil {
			return nil, 0, &QueryError{StatusCode: resp.StatusCode, Class: ErrorClassCanceled, Message: "read cancelled", Err: ctx.Err()}
		}
		return nil, 0, &QueryError{StatusCode: resp.StatusCode, Class: ErrorClassDecode, Message: "decode response", Err: err}
	}
	if payload.Results == nil || payload.Results.Bindings == nil {
		return nil, 0, &QueryError{StatusCode: resp.StatusCode, Class: ErrorClassShape, Message: "unexpected response", Err: ErrUnexpectedShape}
	}
	return payload.Results.Bindings, 0, nil
}

// fatal builds a FatalFailure outcome.
func fatal(class ErrorClass, status, attempts int, err error) Outcome {
	var qerr *QueryError
	if !errors.As(err, &qerr) {
		err = &QueryError{StatusCode: status, Class: class, Message: class.message(), Err: err}
	}
	return Outcome{
		Kind:       OutcomeFatal,
		Class:      class,
		StatusCode: status,
		Err:        err,
		Attempts:   attempts,
	}
}

func (c ErrorClass) message() string {
	switch c {
	case ErrorClassCanceled:
		return "cancelled"
	case ErrorClassQuery:
		return "invalid query"
	default:
		return string(c)
	}
}

