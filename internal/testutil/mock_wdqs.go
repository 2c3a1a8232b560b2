// Package testutil provides testing utilities for the harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	limitPattern     = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)
	offsetPattern    = regexp.MustCompile(`(?i)\bOFFSET\s+(\d+)`)
	partitionPattern = regexp.MustCompile(`VALUES\s+\?\w+\s*\{\s*wd:([A-Za-z0-9_:\-]+)\s*\}`)
)

// MockResponse defines the behavior for one mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Request is one query received by the mock.
type Request struct {
	Query     string
	Offset    int
	Limit     int
	Partition string
	Header    http.Header
}

// MockWDQS is a configurable mock SPARQL endpoint for testing.
type MockWDQS struct {
	server   *httptest.Server
	mu       sync.Mutex
	handler  func(Request) MockResponse
	queue    []MockResponse
	requests []Request
}

// NewMockWDQS creates a mock that answers every query with no rows.
func NewMockWDQS() *MockWDQS {
	mock := &MockWDQS{
		handler: func(Request) MockResponse { return NewBindingsResponse(nil) },
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := parseRequest(r)

		mock.mu.Lock()
		mock.requests = append(mock.requests, req)
		var resp MockResponse
		if len(mock.queue) > 0 {
			resp = mock.queue[0]
			mock.queue = mock.queue[1:]
		} else {
			resp = mock.handler(req)
		}
		mock.mu.Unlock()

		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}))

	return mock
}

// URL returns the mock endpoint URL.
func (m *MockWDQS) URL() string {
	return m.server.URL + "/sparql"
}

// Close shuts down the mock server.
func (m *MockWDQS) Close() {
	m.server.Close()
}

// SetHandler replaces the fallback handler.
func (m *MockWDQS) SetHandler(handler func(Request) MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// Enqueue adds responses served in order before the fallback handler.
func (m *MockWDQS) Enqueue(resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, resps...)
}

// Requests returns a copy of the received requests.
func (m *MockWDQS) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestCount returns the number of requests received.
func (m *MockWDQS) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Reset clears recorded requests and queued responses.
func (m *MockWDQS) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.queue = nil
}

func parseRequest(r *http.Request) Request {
	body, _ := io.ReadAll(r.Body)
	values, _ := url.ParseQuery(string(body))
	query := values.Get("query")
	if query == "" {
		query = r.URL.Query().Get("query")
	}

	req := Request{Query: query, Offset: -1, Limit: -1, Header: r.Header.Clone()}
	if m := offsetPattern.FindStringSubmatch(query); m != nil {
		req.Offset, _ = strconv.Atoi(m[1])
	}
	if m := limitPattern.FindStringSubmatch(query); m != nil {
		req.Limit, _ = strconv.Atoi(m[1])
	}
	if m := partitionPattern.FindStringSubmatch(query); m != nil {
		req.Partition = m[1]
	}
	return req
}

// Row is one result row: variable name to value. Values starting with
// "http" are encoded as IRIs, everything else as literals.
type Row map[string]string

// BindingsBody renders rows in the SPARQL JSON results format.
func BindingsBody(rows []Row) string {
	type term struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}
	bindings := make([]map[string]term, 0, len(rows))
	vars := map[string]bool{}
	for _, row := range rows {
		b := make(map[string]term, len(row))
		for k, v := range row {
			vars[k] = true
			typ := "literal"
			if strings.HasPrefix(v, "http") {
				typ = "uri"
			}
			b[k] = term{Type: typ, Value: v}
		}
		bindings = append(bindings, b)
	}
	head := make([]string, 0, len(vars))
	for k := range vars {
		head = append(head, k)
	}

	payload := map[string]any{
		"head":    map[string]any{"vars": head},
		"results": map[string]any{"bindings": bindings},
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

// NewBindingsResponse creates a 200 OK response carrying rows.
func NewBindingsResponse(rows []Row) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       BindingsBody(rows),
		Headers: map[string]string{
			"Content-Type": "application/sparql-results+json;charset=utf-8",
		},
	}
}

// NewErrorResponse creates an error response with the given status.
func NewErrorResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       http.StatusText(status),
		Headers: map[string]string{
			"Content-Type": "text/plain; charset=utf-8",
		},
	}
}

// NewRetryAfterResponse creates a capacity response with a Retry-After header.
func NewRetryAfterResponse(status, seconds int) MockResponse {
	resp := NewErrorResponse(status)
	resp.Headers["Retry-After"] = strconv.Itoa(seconds)
	return resp
}

// PeopleRows generates n people rows numbered from offset.
func PeopleRows(offset, n int) []Row {
	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		id := offset + i
		rows = append(rows, Row{
			"person":      fmt.Sprintf("http://www.wikidata.org/entity/Q%d", 1000000+id),
			"personLabel": fmt.Sprintf("Person %d", id),
			"birth":       "1850-01-01T00:00:00Z",
			"death":       "1900-01-01T00:00:00Z",
		})
	}
	return rows
}

// PagedPeople returns a handler serving total rows in the windows requested.
func PagedPeople(total int) func(Request) MockResponse {
	return func(req Request) MockResponse {
		if req.Offset < 0 || req.Limit < 0 || req.Offset >= total {
			return NewBindingsResponse(nil)
		}
		n := req.Limit
		if req.Offset+n > total {
			n = total - req.Offset
		}
		return NewBindingsResponse(PeopleRows(req.Offset, n))
	}
}
