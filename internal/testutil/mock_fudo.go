// Package testutil provides testing utilities for the Fudo extractor.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Mock credentials accepted by MockFudo.
const (
	MockAPIKey    = "test-key"
	MockAPISecret = "test-secret"
	MockToken     = "mock-token"
)

// Paths served by MockFudo.
const (
	AuthPath  = "/auth"
	APIPrefix = "/v1alpha1"
)

// MockResponse defines a canned response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockFudo is a configurable mock Fudo API: token endpoint plus paginated
// data endpoints backed by in-memory records.
type MockFudo struct {
	server *httptest.Server
	mu     sync.RWMutex

	records   map[string][]map[string]any
	overrides map[string]map[int]MockResponse
	authFail  *MockResponse

	// Tracking
	RequestCount      int
	AuthCount         int
	PageRequests      map[string][]int
	LastRequestHeader http.Header
}

// NewMockFudo starts a new mock server.
func NewMockFudo() *MockFudo {
	mock := &MockFudo{
		records:      make(map[string][]map[string]any),
		overrides:    make(map[string]map[int]MockResponse),
		PageRequests: make(map[string][]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.mu.Unlock()

		switch {
		case r.URL.Path == AuthPath:
			mock.handleAuth(w, r)
		case strings.HasPrefix(r.URL.Path, APIPrefix+"/"):
			mock.handleData(w, r)
		default:
			http.NotFound(w, r)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockFudo) URL() string {
	return m.server.URL
}

// APIURL is the base URL to configure the client with.
func (m *MockFudo) APIURL() string {
	return m.server.URL + APIPrefix
}

// AuthURL is the token endpoint URL.
func (m *MockFudo) AuthURL() string {
	return m.server.URL + AuthPath
}

// Close shuts down the mock server.
func (m *MockFudo) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockFudo) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.AuthCount = 0
	m.PageRequests = make(map[string][]int)
	m.LastRequestHeader = nil
}

// SetRecords replaces the records served for endpoint (e.g. "/sales").
func (m *MockFudo) SetRecords(endpoint string, records []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[endpoint] = records
}

// AppendRecords adds records to endpoint, as new sales arrive upstream.
func (m *MockFudo) AppendRecords(endpoint string, records ...map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[endpoint] = append(m.records[endpoint], records...)
}

// SetPageResponse overrides the response for one page of endpoint.
func (m *MockFudo) SetPageResponse(endpoint string, page int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overrides[endpoint] == nil {
		m.overrides[endpoint] = make(map[int]MockResponse)
	}
	m.overrides[endpoint][page] = resp
}

// ClearPageResponses removes every override for endpoint.
func (m *MockFudo) ClearPageResponses(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overrides, endpoint)
}

// SetAuthFailure makes the token endpoint answer with resp.
func (m *MockFudo) SetAuthFailure(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authFail = &resp
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockFudo) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPageRequests returns the page numbers requested for endpoint, in order.
func (m *MockFudo) GetPageRequests(endpoint string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.PageRequests[endpoint]...)
}

func (m *MockFudo) handleAuth(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.AuthCount++
	fail := m.authFail
	m.mu.Unlock()

	if fail != nil {
		writeResponse(w, *fail)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		APIKey    string `json:"apiKey"`
		APISecret string `json:"apiSecret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}
	if body.APIKey != MockAPIKey || body.APISecret != MockAPISecret {
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"token": MockToken})
}

func (m *MockFudo) handleData(w http.ResponseWriter, r *http.Request) {
	endpoint := strings.TrimPrefix(r.URL.Path, APIPrefix)
	size, _ := strconv.Atoi(r.URL.Query().Get("page[size]"))
	page, _ := strconv.Atoi(r.URL.Query().Get("page[number]"))

	m.mu.Lock()
	m.PageRequests[endpoint] = append(m.PageRequests[endpoint], page)
	override, hasOverride := m.overrides[endpoint][page]
	records := m.records[endpoint]
	m.mu.Unlock()

	if hasOverride {
		writeResponse(w, override)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+MockToken {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if size < 1 || page < 1 {
		http.Error(w, `{"error":"invalid page"}`, http.StatusBadRequest)
		return
	}

	data := []map[string]any{}
	start := (page - 1) * size
	for i := start; i < start+size && i < len(records); i++ {
		data = append(data, records[i])
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		_, _ = w.Write([]byte(resp.Body))
	}
}

// Sale builds a sale record shaped like the Fudo API's.
func Sale(id, createdAt string, total float64) map[string]any {
	return map[string]any{
		"id":   id,
		"type": "Sale",
		"attributes": map[string]any{
			"createdAt": createdAt,
			"total":     total,
			"saleState": "CLOSED",
		},
		"relationships": map[string]any{
			"items": map[string]any{"data": []any{}},
		},
	}
}
