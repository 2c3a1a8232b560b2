package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/wdqs-harvester/internal/testutil"
)

// fastConfig returns a config with millisecond backoff for tests.
func fastConfig(endpoint string) Config {
	cfg := DefaultConfig(endpoint, "TestHarvester/1.0 (test@example.com)")
	cfg.Timeout = 2 * time.Second
	cfg.Backoff = BackoffPolicy{
		Base:       time.Millisecond,
		Multiplier: 2,
		MaxDelay:   10 * time.Millisecond,
		MaxHint:    10 * time.Millisecond,
	}
	return cfg
}

func newTestClient(t *testing.T, mock *testutil.MockWDQS) *Client {
	t.Helper()
	c, err := New(fastConfig(mock.URL()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{name: "valid config", config: DefaultConfig("https://query.wikidata.org/sparql", "TestApp/1.0")},
		{name: "empty endpoint", config: DefaultConfig("", "TestApp/1.0"), expectError: true},
		{name: "relative endpoint", config: DefaultConfig("sparql", "TestApp/1.0"), expectError: true},
		{name: "empty user agent", config: DefaultConfig("https://query.wikidata.org/sparql", ""), expectError: true},
		{
			name: "zero attempts",
			config: Config{
				Endpoint:  "https://query.wikidata.org/sparql",
				UserAgent: "TestApp/1.0",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestExecute_Success(t *testing.T) {
	mock := testutil.NewMockWDQS()
	defer mock.Close()
	mock.Enqueue(testutil.NewBindingsResponse(testutil.PeopleRows(0, 3)))

	c := newTestClient(t, mock)
	out := c.Execute(context.Background(), "SELECT * WHERE {} LIMIT 3 OFFSET 0")

	if !out.OK() {
		t.Fatalf("Execute() kind = %v, err = %v", out.Kind, out.Err)
	}
	if len(out.Rows) != 3 {
		t.Errorf("rows = %d, want 3", len(out.Rows))
	}
	if out.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", out.Attempts)
	}
	if got := out.Rows[0].LocalName("person"); got != "Q1000000" {
		t.Errorf("person local name = %q, want Q1000000", got)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if ua := reqs[0].Header.Get("User-Agent"); ua != "TestHarvester/1.0 (test@example.com)" {
		t.Errorf("User-Agent = %q", ua)
	}
	if accept := reqs[0].Header.Get("Accept"); accept != "application/sparql-results+json" {
		t.Errorf("Accept = %q", accept)
	}
	if reqs[0].Limit != 3 || reqs[0].Offset != 0 {
		t.Errorf("window = (%d, %d), want (0, 3)", reqs[0].Offset, reqs[0].Limit)
	}
}

func TestExecute_EmptyResult(t *testing.T) {
	mock := testutil.NewMockWDQS()
	defer mock.Close()

	c := newTestClient(t, mock)
	out := c.Execute(context.Background(), "SELECT * WHERE {}")

	if !out.OK() {
		t.Fatalf("Execute() kind = %v, err = %v", out.Kind, out.Err)
	}
	if len(out.Rows) != 0 {
		t.Errorf("rows = %d, want 0", len(out.Rows))
	}
}

func TestExecute_RetryThenSuccess(t *testing.T) {
	mock := testutil.NewMockWDQS()
	defer mock.Close()
	mock.Enqueue(
		testutil.NewErrorResponse(http.StatusServiceUnavailable),
		testutil.NewRetryAfterResponse(http.StatusTooManyRequests, 1),
		testutil.NewBindingsResponse(testutil.PeopleRows(0, 1)),
	)

	c := newTestClient(t, mock)
	out := c.Execute(context.Background(), "SELECT * WHERE {}")

	if !out.OK() {
		t.Fatalf("Execute() kind = %v, err = %v", out.Kind, out.Err)
	}
	if out.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", out.Attempts)
	}
}

func TestExecute_RetryExhausted(t *testing.T) {
	mock := testutil.NewMockWDQS()
	defer mock.Close()
	mock.SetHandler(func(testutil.Request) testutil.MockResponse {
		return testutil.NewErrorResponse(http.StatusGatewayTimeout)
	})

	c := newTestClient(t, mock)
	out := c.Execute(context.Background(), "SELECT * WHERE {}")

	if out.Kind != OutcomeRetryable {
		t.Fatalf("kind = %v, want retryable", out.Kind)
	}
	if out.Class != ErrorClassCapacity {
		t.Errorf("class = %q, want capacity", out.Class)
	}
	if out.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", out.StatusCode)
	}
	if !errors.Is(out.Err, ErrRetryExhausted) {
		t.Errorf("err = %v, want ErrRetryExhausted", out.Err)
	}
	if got := mock.RequestCount(); got != 4 {
		t.Errorf("requests = %d, want exactly MaxAttempts (4)", got)
	}
}

func TestExecute_FatalStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		class  ErrorClass
	}{
		{name: "bad request", status: http.StatusBadRequest, class: ErrorClassClient},
		{name: "forbidden", status: http.StatusForbidden, class: ErrorClassClient},
		{name: "internal server error", status: http.StatusInternalServerError, class: ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockWDQS()
			defer mock.Close()
			mock.SetHandler(func(testutil.Request) testutil.MockResponse {
				return testutil.NewErrorResponse(tt.status)
			})

			c := newTestClient(t, mock)
			out := c.Execute(context.Background(), "SELECT * WHERE {}")

			if out.Kind != OutcomeFatal {
				t.Fatalf("kind = %v, want fatal", out.Kind)
			}
			if out.Class != tt.class {
				t.Errorf("class = %q, want %q", out.Class, tt.class)
			}
			if got := mock.RequestCount(); got != 1 {
				t.Errorf("requests = %d, fatal errors must not be retried", got)
			}
		})
	}
}

func TestExecute_MalformedBodyIsRetried(t *testing.T) {
	mock := testutil.NewMockWDQS()
	defer mock.Close()
	mock.Enqueue(
		testutil.MockResponse{StatusCode: http.StatusOK, Body: `{"results": {"bindings": [`},
		testutil.NewBindingsResponse(nil),
	)

	c := newTestClient(t, mock)
	out := c.Execute(context.Background(), "SELECT * WHERE {}")

	if !out.OK() {
		t.Fatalf("Execute() kind = %v, err = %v", out.Kind, out.Err)
	}
	if out.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", out.Attempts)
	}
}

func TestExecute_UnexpectedShapeIsFatal(t *testing.T) {
	mock := testutil.NewMockWDQS()
	defer mock.Close()
	mock.SetHandler(func(testutil.Request) testutil.MockResponse {
		return testutil.MockResponse{StatusCode: http.StatusOK, Body: `{"head": {"vars": []}}`}
	})

	c := newTestClient(t, mock)
	out := c.Execute(context.Background(), "SELECT * WHERE {}")

	if out.Kind != OutcomeFatal || out.Class != ErrorClassShape {
		t.Fatalf("outcome = %v/%q, want fatal/shape", out.Kind, out.Class)
	}
	if !errors.Is(out.Err, ErrUnexpectedShape) {
		t.Errorf("err = %v, want ErrUnexpectedShape", out.Err)
	}
}

func TestExecute_EmptyQuery(t *testing.T) {
	mock := testutil.NewMockWDQS()
	defer mock.Close()

	c := newTestClient(t, mock)
	out := c.Execute(context.Background(), "   ")

	if out.Kind != OutcomeFatal || out.Class != ErrorClassQuery {
		t.Fatalf("outcome = %v/%q, want fatal/query", out.Kind, out.Class)
	}
	if mock.RequestCount() != 0 {
		t.Error("empty query must not be sent")
	}
}

func TestExecute_NetworkErrorRetried(t *testing.T) {
	mock := testutil.NewMockWDQS()
	url := mock.URL()
	mock.Close()

	c, err := New(fastConfig(url))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	out := c.Execute(context.Background(), "SELECT * WHERE {}")

	if out.Kind != OutcomeRetryable || out.Class != ErrorClassNetwork {
		t.Fatalf("outcome = %v/%q, want retryable/network", out.Kind, out.Class)
	}
	if out.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", out.Attempts)
	}
}

func TestExecute_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockWDQS()
	defer mock.Close()
	mock.SetHandler(func(testutil.Request) testutil.MockResponse {
		return testutil.MockResponse{StatusCode: http.StatusOK, Body: `{"results":{"bindings":[]}}`, Delay: 5 * time.Second}
	})

	c := newTestClient(t, mock)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out := c.Execute(ctx, "SELECT * WHERE {}")
	if out.Kind != OutcomeFatal || out.Class != ErrorClassCanceled {
		t.Fatalf("outcome = %v/%q, want fatal/canceled", out.Kind, out.Class)
	}
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", out.Err)
	}
}

func TestExecute_RetryAfterSetsSharedCooldown(t *testing.T) {
	mock := testutil.NewMockWDQS()
	defer mock.Close()
	mock.Enqueue(testutil.NewRetryAfterResponse(http.StatusTooManyRequests, 30))

	cfg := fastConfig(mock.URL())
	cfg.Backoff.MaxHint = 200 * time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	start := time.Now()
	out := c.Execute(context.Background(), "SELECT * WHERE {}")
	if !out.OK() {
		t.Fatalf("Execute() kind = %v, err = %v", out.Kind, out.Err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("retry after hint took %v, want >= clamped hint", elapsed)
	}

	state, err := c.tracker.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.LastStatus != http.StatusTooManyRequests {
		t.Errorf("cooldown status = %d, want 429", state.LastStatus)
	}
}
