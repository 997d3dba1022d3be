// Package client provides the Fudo API HTTP client: token authentication,
// single-page fetches and the unbounded pagination primitive.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/fudo-extractor/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for Fudo client operations.
var (
	fudoRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fudo_requests_total",
		Help: "Total Fudo API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	fudoRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fudo_request_duration_seconds",
		Help:    "Fudo API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	fudoErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fudo_errors_total",
		Help: "Total Fudo API errors by class",
	}, []string{"class"})
)

const (
	// DefaultAPIURL is the Fudo data API base.
	DefaultAPIURL = "https://api.fu.do/v1alpha1"

	// DefaultAuthURL is the Fudo token endpoint.
	DefaultAuthURL = "https://auth.fu.do/api"

	// DefaultPageSize is the page size used by the extractor.
	DefaultPageSize = 500

	authEndpointLabel = "auth"
	maxErrorBody      = 512
)

// Credentials are the API key pair exchanged for a bearer token.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Config holds the client configuration.
type Config struct {
	// APIURL is the base URL data endpoints are appended to.
	APIURL string

	// AuthURL receives the POST {apiKey, apiSecret}.
	AuthURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per HTTP request.
	Timeout time.Duration

	// Retry policy for server, rate-limit and network failures.
	Retry RetryConfig

	// Pacing
	RequestsPerSecond float64
	Burst             int

	// ExtraParams are appended to every page request.
	ExtraParams url.Values
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		APIURL:            DefaultAPIURL,
		AuthURL:           DefaultAuthURL,
		UserAgent:         "fudo-extractor/1.0",
		Timeout:           30 * time.Second,
		Retry:             DefaultRetryConfig(),
		RequestsPerSecond: ratelimit.DefaultRequestsPerSecond,
		Burst:             ratelimit.DefaultBurst,
	}
}

// Client is the Fudo API client.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
}

// New creates a new Fudo client.
func New(cfg Config) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("api url is required")
	}
	if cfg.AuthURL == "" {
		return nil, fmt.Errorf("auth url is required")
	}
	if _, err := url.Parse(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "fudo-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: ratelimit.NewTracker(cfg.RequestsPerSecond, cfg.Burst, logger),
		config:  cfg,
		logger:  logger,
	}, nil
}

type authRequest struct {
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
}

type authResponse struct {
	Token string `json:"token"`
}

type pageResponse struct {
	Data []map[string]any `json:"data"`
}

// Authenticate exchanges the key pair for a bearer token. Every failure wraps ErrAuth.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	if creds.APIKey == "" || creds.APISecret == "" {
		return "", fmt.Errorf("%w: %w", ErrAuth, ErrMissingCredentials)
	}

	payload, err := json.Marshal(authRequest{APIKey: creds.APIKey, APISecret: creds.APISecret})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %w", ErrAuth, err)
	}

	var resp authResponse
	err = c.do(ctx, authEndpointLabel, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.AuthURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, &resp)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to obtain token")
		return "", fmt.Errorf("%w: %w", ErrAuth, err)
	}

	if resp.Token == "" {
		c.logger.Error().Msg("Token not found in auth response")
		return "", fmt.Errorf("%w: token not found in response", ErrAuth)
	}

	c.logger.Info().Msg("Token obtained")
	return resp.Token, nil
}

// FetchPage fetches one page of an endpoint. A nil error always comes with a
// non-nil (possibly empty) slice.
func (c *Client) FetchPage(ctx context.Context, token, endpoint string, pageSize, pageNumber int) ([]map[string]any, error) {
	pageURL, err := c.pageURL(endpoint, pageSize, pageNumber)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("page", pageNumber).
		Int("page_size", pageSize).
		Msg("Requesting page")

	var page pageResponse
	err = c.do(ctx, endpoint, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	}, &page)
	if err != nil {
		return nil, err
	}

	if page.Data == nil {
		page.Data = []map[string]any{}
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("page", pageNumber).
		Int("records", len(page.Data)).
		Msg("Page received")

	return page.Data, nil
}

// FetchOptions controls FetchAll.
type FetchOptions struct {
	// StartPage is the first page number (default 1).
	StartPage int

	// PageSize is the requested page size (default DefaultPageSize).
	PageSize int

	// MaxPages caps the number of pages fetched; 0 means no cap.
	MaxPages int
}

// FetchAll follows pagination from opts.StartPage until a short page or the
// MaxPages cap. On any request failure it returns nil and the error; a
// successful but empty result is a non-nil empty slice.
func (c *Client) FetchAll(ctx context.Context, token, endpoint string, opts FetchOptions) ([]map[string]any, error) {
	if opts.StartPage < 1 {
		opts.StartPage = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = DefaultPageSize
	}

	data := make([]map[string]any, 0)
	current := opts.StartPage
	fetched := 0

	for {
		results, err := c.FetchPage(ctx, token, endpoint, opts.PageSize, current)
		if err != nil {
			c.logger.Error().
				Err(err).
				Str("endpoint", endpoint).
				Int("page", current).
				Msg("Pagination aborted")
			return nil, fmt.Errorf("fetch %s page %d: %w", endpoint, current, err)
		}
		data = append(data, results...)
		fetched++

		if len(results) < opts.PageSize {
			c.logger.Info().
				Str("endpoint", endpoint).
				Int("pages", fetched).
				Int("records", len(data)).
				Msg("No more data")
			break
		}

		if opts.MaxPages > 0 && fetched >= opts.MaxPages {
			c.logger.Info().
				Str("endpoint", endpoint).
				Int("max_pages", opts.MaxPages).
				Msg("Reached page cap")
			break
		}
		current++
	}

	return data, nil
}

func (c *Client) pageURL(endpoint string, pageSize, pageNumber int) (string, error) {
	u, err := url.Parse(strings.TrimRight(c.config.APIURL, "/") + "/" + strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("build url for %q: %w", endpoint, err)
	}

	q := u.Query()
	for k, vs := range c.config.ExtraParams {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("page[size]", strconv.Itoa(pageSize))
	q.Set("page[number]", strconv.Itoa(pageNumber))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// do executes a request built by newReq with pacing and retries, decoding a
// 2xx JSON body into out.
func (c *Client) do(ctx context.Context, endpoint string, newReq func() (*http.Request, error), out any) error {
	startTime := time.Now()
	defer func() {
		fudoRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	return retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := newReq()
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if c.config.UserAgent != "" {
			req.Header.Set("User-Agent", c.config.UserAgent)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
			fudoErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			fudoRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return &APIError{
				ErrorClass: ErrorClassNetwork,
				Message:    "request failed",
				Err:        err,
			}
		}
		defer resp.Body.Close()

		c.limiter.UpdateFromHeaders(resp.StatusCode, resp.Header)
		fudoRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode >= 400 {
			errClass := classifyStatus(resp.StatusCode)
			fudoErrorsTotal.WithLabelValues(string(errClass)).Inc()

			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			msg := strings.TrimSpace(string(body))
			if msg == "" {
				msg = resp.Status
			}

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("Fudo request error")

			return &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: errClass,
				Message:    msg,
			}
		}

		if out == nil {
			return nil
		}

		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			fudoErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
			return &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassDecode,
				Message:    "decode response body",
				Err:        err,
			}
		}
		return nil
	})
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
