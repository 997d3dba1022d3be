// Package ratelimit paces requests to the Fudo API with a token bucket and
// honours server back-pressure signalled through Retry-After.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Defaults for client-side pacing.
const (
	// DefaultRequestsPerSecond keeps a single extractor well below the API quota.
	DefaultRequestsPerSecond = 5

	// DefaultBurst allows short bursts at window start.
	DefaultBurst = 5

	// MaxPause caps any server-requested pause.
	MaxPause = 2 * time.Minute
)

// PauseState records a server-requested pause.
type PauseState struct {
	// ResumeAt is when requests may continue.
	ResumeAt time.Time

	// Reason is a short label for logs ("retry_after").
	Reason string
}

// Active returns true if the pause has not yet elapsed.
func (s PauseState) Active(now time.Time) bool {
	return now.Before(s.ResumeAt)
}

// TimeUntilResume returns the remaining pause, or 0 once elapsed.
func (s PauseState) TimeUntilResume(now time.Time) time.Duration {
	d := s.ResumeAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ParseRetryAfter parses a Retry-After header value given as delta-seconds or an
// HTTP date. It returns false when the value is absent or unparseable. The result
// is clamped to [0, MaxPause].
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
	} else {
		return 0, false
	}

	if d < 0 {
		d = 0
	}
	if d > MaxPause {
		d = MaxPause
	}
	return d, true
}
