package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/fudo-extractor/pkg/record"
	"github.com/rs/zerolog"
)

const (
	// MaxPages is the number of pages attempted per run.
	MaxPages = 5

	// DefaultPageSize is the page size requested from the API.
	DefaultPageSize = 500
)

// PageFetcher is the single-page primitive the Fudo client implements.
type PageFetcher interface {
	FetchPage(ctx context.Context, token, endpoint string, pageSize, pageNumber int) ([]map[string]any, error)
}

// Status tells callers how a window fetch ended.
type Status int

const (
	// StatusOK means at least one record was fetched.
	StatusOK Status = iota

	// StatusNoData means every page in the window was empty.
	StatusNoData

	// StatusFailed means a page request failed and the window was abandoned.
	StatusFailed
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoData:
		return "no_data"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome of one window fetch.
type Result struct {
	Status    Status
	Records   []record.Record
	Err       error
	StartPage int
	EndPage   int

	// PagesFetched counts successful requests, EmptyPages those that returned nothing.
	PagesFetched int
	EmptyPages   int
	Duration     time.Duration
}

// Window returns the inclusive page range following lastPage.
func Window(lastPage int) (start, end int) {
	if lastPage < 0 {
		lastPage = 0
	}
	start = lastPage + 1
	return start, start + MaxPages - 1
}

// WindowFetcher requests a bounded page range sequentially.
type WindowFetcher struct {
	fetcher PageFetcher
	logger  zerolog.Logger
}

// NewWindowFetcher creates a window fetcher on top of fetcher.
func NewWindowFetcher(fetcher PageFetcher, logger zerolog.Logger) *WindowFetcher {
	return &WindowFetcher{
		fetcher: fetcher,
		logger:  logger,
	}
}

// FetchWindow requests every page in [startPage, endPage]. Empty pages are logged
// and skipped; the first failed request abandons the window with StatusFailed and
// no records.
func (w *WindowFetcher) FetchWindow(ctx context.Context, token, endpoint string, startPage, endPage, pageSize int) Result {
	start := time.Now()
	res := Result{StartPage: startPage, EndPage: endPage}

	if startPage < 1 || endPage < startPage {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("invalid window [%d, %d]", startPage, endPage)
		return res
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	logger := w.logger.With().
		Str("endpoint", endpoint).
		Int("start_page", startPage).
		Int("end_page", endPage).
		Logger()

	var records []record.Record
	for page := startPage; page <= endPage; page++ {
		raw, err := w.fetcher.FetchPage(ctx, token, endpoint, pageSize, page)
		if err != nil {
			logger.Error().
				Err(err).
				Int("page", page).
				Msg("Page request failed - abandoning window")
			res.Status = StatusFailed
			res.Err = fmt.Errorf("fetch %s page %d: %w", endpoint, page, err)
			res.Duration = time.Since(start)
			return res
		}
		res.PagesFetched++

		if len(raw) == 0 {
			res.EmptyPages++
			logger.Warn().Int("page", page).Msg("No data returned for page")
			continue
		}

		records = append(records, record.FlattenAll(raw)...)
		logger.Debug().
			Int("page", page).
			Int("records", len(raw)).
			Msg("Page fetched")
	}

	res.Records = records
	res.Duration = time.Since(start)
	if len(records) == 0 {
		res.Status = StatusNoData
	} else {
		res.Status = StatusOK
	}

	logger.Info().
		Int("records", len(records)).
		Int("empty_pages", res.EmptyPages).
		Dur("duration", res.Duration).
		Str("status", res.Status.String()).
		Msg("Window fetched")

	return res
}
