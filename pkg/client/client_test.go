package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(serverURL string) Config {
	cfg := DefaultConfig()
	cfg.APIURL = serverURL + "/v1alpha1"
	cfg.AuthURL = serverURL + "/auth"
	cfg.Retry = fastRetry(3)
	cfg.RequestsPerSecond = 0
	cfg.Timeout = 5 * time.Second
	return cfg
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(testConfig(server.URL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, server
}

// pagesHandler serves /v1alpha1/sales with total records split into pages.
func pagesHandler(total int, hits *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		size, _ := strconv.Atoi(r.URL.Query().Get("page[size]"))
		number, _ := strconv.Atoi(r.URL.Query().Get("page[number]"))

		data := []map[string]any{}
		for i := (number - 1) * size; i < number*size && i < total; i++ {
			data = append(data, map[string]any{"id": strconv.Itoa(i + 1)})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig(),
			expectError: false,
		},
		{
			name: "missing api url",
			config: Config{
				AuthURL: DefaultAuthURL,
			},
			expectError: true,
			errorMsg:    "api url is required",
		},
		{
			name: "missing auth url",
			config: Config{
				APIURL: DefaultAPIURL,
			},
			expectError: true,
			errorMsg:    "auth url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func TestAuthenticate_Success(t *testing.T) {
	var received authRequest
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
	}))

	token, err := c.Authenticate(context.Background(), Credentials{APIKey: "key", APISecret: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
	assert.Equal(t, "key", received.APIKey)
	assert.Equal(t, "secret", received.APISecret)
}

func TestAuthenticate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		handler http.HandlerFunc
		target  error
	}{
		{
			name:   "missing secret",
			creds:  Credentials{APIKey: "key"},
			target: ErrMissingCredentials,
		},
		{
			name:  "unauthorized",
			creds: Credentials{APIKey: "key", APISecret: "bad"},
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
			},
		},
		{
			name:  "response without token",
			creds: Credentials{APIKey: "key", APISecret: "secret"},
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"other":"value"}`))
			},
		},
		{
			name:  "malformed body",
			creds: Credentials{APIKey: "key", APISecret: "secret"},
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := tt.handler
			if handler == nil {
				handler = func(w http.ResponseWriter, r *http.Request) {
					t.Error("no request expected")
				}
			}
			c, _ := newTestClient(t, handler)

			token, err := c.Authenticate(context.Background(), tt.creds)
			require.Error(t, err)
			assert.Empty(t, token)
			assert.ErrorIs(t, err, ErrAuth)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestFetchPage_RequestShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1alpha1/sales", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "500", r.URL.Query().Get("page[size]"))
		assert.Equal(t, "7", r.URL.Query().Get("page[number]"))
		assert.Equal(t, "items", r.URL.Query().Get("include"))
		_, _ = w.Write([]byte(`{"data":[{"id":"1","attributes":{"total":12.50}}]}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.ExtraParams = url.Values{"include": {"items"}}
	c, err := New(cfg)
	require.NoError(t, err)

	page, err := c.FetchPage(context.Background(), "tok", "/sales", 500, 7)
	require.NoError(t, err)
	require.Len(t, page, 1)

	attrs := page[0]["attributes"].(map[string]any)
	assert.Equal(t, json.Number("12.50"), attrs["total"], "numbers keep their textual form")
}

func TestFetchPage_EmptyData(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))

	page, err := c.FetchPage(context.Background(), "tok", "/sales", 500, 1)
	require.NoError(t, err)
	assert.NotNil(t, page)
	assert.Empty(t, page)
}

func TestFetchPage_RetriesServerErrors(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"1"}]}`))
	}))

	page, err := c.FetchPage(context.Background(), "tok", "/sales", 500, 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestFetchPage_ClientErrorNotRetried(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))

	page, err := c.FetchPage(context.Background(), "tok", "/sales", 500, 1)
	require.Error(t, err)
	assert.Nil(t, page)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, ErrorClassClient, apiErr.ErrorClass)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetchPage_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	cfg := testConfig(server.URL)
	cfg.Retry = NoRetry()
	server.Close()

	c, err := New(cfg)
	require.NoError(t, err)

	_, err = c.FetchPage(context.Background(), "tok", "/sales", 500, 1)
	require.Error(t, err)
	assert.Equal(t, ErrorClassNetwork, classOf(err))
}

func TestFetchAll(t *testing.T) {
	tests := []struct {
		name          string
		total         int
		opts          FetchOptions
		expectRecords int
		expectHits    int32
	}{
		{
			name:          "stops on short page",
			total:         25,
			opts:          FetchOptions{PageSize: 10},
			expectRecords: 25,
			expectHits:    3,
		},
		{
			name:          "exact multiple needs a trailing empty page",
			total:         20,
			opts:          FetchOptions{PageSize: 10},
			expectRecords: 20,
			expectHits:    3,
		},
		{
			name:          "respects max pages",
			total:         100,
			opts:          FetchOptions{PageSize: 10, MaxPages: 4},
			expectRecords: 40,
			expectHits:    4,
		},
		{
			name:          "starts at given page",
			total:         25,
			opts:          FetchOptions{PageSize: 10, StartPage: 2},
			expectRecords: 15,
			expectHits:    2,
		},
		{
			name:          "empty endpoint",
			total:         0,
			opts:          FetchOptions{PageSize: 10},
			expectRecords: 0,
			expectHits:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			c, _ := newTestClient(t, pagesHandler(tt.total, &hits))

			data, err := c.FetchAll(context.Background(), "tok", "/sales", tt.opts)
			require.NoError(t, err)
			assert.NotNil(t, data)
			assert.Len(t, data, tt.expectRecords)
			assert.Equal(t, tt.expectHits, atomic.LoadInt32(&hits))
		})
	}
}

func TestFetchAll_FailureReturnsNil(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page[number]") == "2" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		pagesHandler(100, nil)(w, r)
	}))

	data, err := c.FetchAll(context.Background(), "tok", "/sales", FetchOptions{PageSize: 10})
	require.Error(t, err)
	assert.Nil(t, data)
	assert.Contains(t, err.Error(), "page 2")
}

func TestFetchPage_RateLimitPauseHonoured(t *testing.T) {
	var hits int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = fmt.Fprint(w, `{"data":[]}`)
	}))

	page, err := c.FetchPage(context.Background(), "tok", "/sales", 500, 1)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
