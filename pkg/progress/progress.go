// Package progress persists the per-dataset Marker: the highest page number
// successfully ingested.
package progress

import (
	"context"
	"strconv"
	"strings"

	"github.com/Sternrassler/fudo-extractor/pkg/dataset"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var extractMarkerPage = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "extract_marker_page",
	Help: "Last persisted marker page per dataset",
}, []string{"dataset"})

// Backend stores raw marker text.
type Backend interface {
	// Get returns the stored text; found is false when no marker exists.
	Get(ctx context.Context, ds dataset.Descriptor) (value string, found bool, err error)

	// Set overwrites the stored text.
	Set(ctx context.Context, ds dataset.Descriptor, value string) error

	// Name labels the backend in logs.
	Name() string
}

// Tracker reads and writes markers. Read never fails.
type Tracker struct {
	backend Backend
	logger  zerolog.Logger
}

// NewTracker creates a tracker on backend.
func NewTracker(backend Backend, logger zerolog.Logger) *Tracker {
	return &Tracker{
		backend: backend,
		logger:  logger.With().Str("marker_backend", backend.Name()).Logger(),
	}
}

// Read returns the marker for ds. Absent, malformed or unreadable markers all
// read as 0; only the log level differs.
func (t *Tracker) Read(ctx context.Context, ds dataset.Descriptor) int {
	logger := t.logger.With().Str("dataset", ds.Name()).Logger()

	raw, found, err := t.backend.Get(ctx, ds)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read marker - starting from page 0")
		return 0
	}
	if !found {
		logger.Info().Msg("No marker found - starting from page 0")
		return 0
	}

	page, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || page < 0 {
		logger.Warn().Str("content", truncate(raw, 32)).Msg("Malformed marker - starting from page 0")
		return 0
	}

	logger.Debug().Int("page", page).Msg("Marker read")
	return page
}

// Write overwrites the marker for ds. The error is returned for reporting only;
// a lost write makes the next run re-fetch the same window.
func (t *Tracker) Write(ctx context.Context, ds dataset.Descriptor, page int) error {
	logger := t.logger.With().Str("dataset", ds.Name()).Int("page", page).Logger()

	if err := t.backend.Set(ctx, ds, strconv.Itoa(page)); err != nil {
		logger.Error().Err(err).Msg("Failed to write marker")
		return err
	}

	extractMarkerPage.WithLabelValues(ds.Name()).Set(float64(page))
	logger.Info().Msg("Marker written")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
