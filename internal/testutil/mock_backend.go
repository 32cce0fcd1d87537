// Package testutil provides testing utilities for the resulta proxy.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock backend response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockBackend is a configurable mock result backend. By default it answers
// every batch request with five successful records starting at reg_no.
type MockBackend struct {
	server *httptest.Server
	mu     sync.RWMutex

	// responses override the default by reg_no
	responses map[string]MockResponse
	fallback  *MockResponse

	// Tracking
	requestCount int
	regNos       []string
	lastHeader   http.Header
	lastQuery    map[string]string
}

// NewMockBackend creates and starts a new mock backend.
func NewMockBackend() *MockBackend {
	mock := &MockBackend{
		responses: make(map[string]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		regNo := q.Get("reg_no")

		mock.mu.Lock()
		mock.requestCount++
		mock.regNos = append(mock.regNos, regNo)
		mock.lastHeader = r.Header.Clone()
		mock.lastQuery = map[string]string{
			"reg_no":    regNo,
			"year":      q.Get("year"),
			"semester":  q.Get("semester"),
			"exam_held": q.Get("exam_held"),
		}
		resp, exists := mock.responses[regNo]
		if !exists && mock.fallback != nil {
			resp, exists = *mock.fallback, true
		}
		mock.mu.Unlock()

		if exists {
			writeResponse(w, r, resp)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(SuccessBatch(regNo, 5)))
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockBackend) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockBackend) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.regNos = nil
	m.lastHeader = nil
	m.lastQuery = nil
}

// SetResponse configures the response for batches starting at regNo.
func (m *MockBackend) SetResponse(regNo string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[regNo] = resp
}

// SetFallback configures the response for every reg_no without its own.
func (m *MockBackend) SetFallback(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &resp
}

// RequestCount returns the number of requests made to the server.
func (m *MockBackend) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// RegNos returns the reg_no of every request, in arrival order.
func (m *MockBackend) RegNos() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.regNos...)
}

// LastHeader returns the headers of the most recent request.
func (m *MockBackend) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// LastQuery returns the decoded query of the most recent request.
func (m *MockBackend) LastQuery() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp MockResponse) {
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

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// SuccessBatch renders count successful records starting at regNo.
func SuccessBatch(regNo string, count int) string {
	if len(regNo) != 11 {
		return "[]"
	}
	prefix := regNo[:8]
	base, err := strconv.Atoi(regNo[8:])
	if err != nil {
		return "[]"
	}

	records := make([]map[string]any, count)
	for i := range records {
		records[i] = map[string]any{
			"regNo":  fmt.Sprintf("%s%03d", prefix, base+i),
			"status": "success",
			"name":   fmt.Sprintf("Student %d", base+i),
			"sgpa":   8.5,
		}
	}
	data, _ := json.Marshal(records)
	return string(data)
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewServerErrorResponse creates a response with the given 5xx status.
func NewServerErrorResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       `{"error": "backend unavailable"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewSlowResponse creates a successful response delivered after delay.
func NewSlowResponse(regNo string, delay time.Duration) MockResponse {
	resp := NewJSONResponse(SuccessBatch(regNo, 5))
	resp.Delay = delay
	return resp
}
