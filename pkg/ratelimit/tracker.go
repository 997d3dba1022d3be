package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request pacing.
var (
	fudoRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fudo_rate_limit_waits_total",
		Help: "Total number of requests that had to wait for a pacing token",
	})

	fudoRateLimitPausesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fudo_rate_limit_pauses_total",
		Help: "Total number of server-requested pauses (Retry-After)",
	})
)

// Tracker gates outgoing requests.
type Tracker struct {
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu    sync.Mutex
	pause PauseState
	now   func() time.Time
}

// NewTracker creates a tracker allowing rps requests per second with the given burst.
// rps <= 0 disables pacing.
func NewTracker(rps float64, burst int, logger zerolog.Logger) *Tracker {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Tracker{
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		now:     time.Now,
	}
}

// Wait blocks until a request may be sent, honouring any active pause first.
func (t *Tracker) Wait(ctx context.Context) error {
	if d := t.State().TimeUntilResume(t.now()); d > 0 {
		t.logger.Warn().Dur("wait_duration", d).Msg("Fudo API asked to pause - waiting")

		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if t.limiter.Tokens() < 1 {
		fudoRateLimitWaitsTotal.Inc()
	}
	return t.limiter.Wait(ctx)
}

// UpdateFromHeaders records a pause when a 429 or 503 carries Retry-After.
func (t *Tracker) UpdateFromHeaders(status int, headers http.Header) {
	if status != http.StatusTooManyRequests && status != http.StatusServiceUnavailable {
		return
	}

	now := t.now()
	d, ok := ParseRetryAfter(headers.Get("Retry-After"), now)
	if !ok {
		return
	}

	t.mu.Lock()
	resume := now.Add(d)
	if resume.After(t.pause.ResumeAt) {
		t.pause = PauseState{ResumeAt: resume, Reason: "retry_after"}
	}
	t.mu.Unlock()

	fudoRateLimitPausesTotal.Inc()
	t.logger.Warn().
		Int("status", status).
		Dur("pause", d).
		Msg("Fudo API rate limit - pausing requests")
}

// State returns the current pause state.
func (t *Tracker) State() PauseState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pause
}
