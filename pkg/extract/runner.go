// Package extract runs the per-dataset pipeline: marker, window fetch,
// day partitioning, merge, marker update.
package extract

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Sternrassler/fudo-extractor/pkg/client"
	"github.com/Sternrassler/fudo-extractor/pkg/dataset"
	"github.com/Sternrassler/fudo-extractor/pkg/merge"
	"github.com/Sternrassler/fudo-extractor/pkg/pagination"
	"github.com/Sternrassler/fudo-extractor/pkg/partition"
	"github.com/Sternrassler/fudo-extractor/pkg/progress"
	"github.com/Sternrassler/fudo-extractor/pkg/secrets"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for extraction runs.
var (
	extractRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extract_runs_total",
		Help: "Total dataset runs by outcome",
	}, []string{"dataset", "outcome"})

	extractRecordsFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extract_records_fetched_total",
		Help: "Total records fetched per dataset",
	}, []string{"dataset"})

	extractPartitionsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extract_partitions_written_total",
		Help: "Total partition upserts per dataset by result",
	}, []string{"dataset", "result"})

	extractRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "extract_run_duration_seconds",
		Help:    "Duration of one dataset run",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	}, []string{"dataset"})

	extractLastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "extract_last_success_timestamp_seconds",
		Help: "Unix time of the last run that advanced the marker",
	}, []string{"dataset"})
)

// API is the part of the Fudo client the runner needs.
type API interface {
	pagination.PageFetcher
	Authenticate(ctx context.Context, creds client.Credentials) (string, error)
}

// Config tunes a Runner.
type Config struct {
	// PageSize is requested per page (default pagination.DefaultPageSize).
	PageSize int

	// Location derives partition dates (default partition.DefaultTimezone).
	Location *time.Location

	// HoldMarkerOnMergeFailure keeps the marker when any partition fails to persist.
	HoldMarkerOnMergeFailure bool
}

// Runner executes dataset runs sequentially.
type Runner struct {
	api     API
	secrets secrets.Provider
	tracker *progress.Tracker
	fetcher *pagination.WindowFetcher
	merger  *merge.Merger
	config  Config
	logger  zerolog.Logger
	now     func() time.Time
}

// NewRunner wires a runner. Every collaborator is constructed by the caller.
func NewRunner(api API, secretProvider secrets.Provider, tracker *progress.Tracker, merger *merge.Merger, cfg Config, logger zerolog.Logger) (*Runner, error) {
	if cfg.PageSize < 1 {
		cfg.PageSize = pagination.DefaultPageSize
	}
	if cfg.Location == nil {
		loc, err := partition.LoadLocation(partition.DefaultTimezone)
		if err != nil {
			return nil, err
		}
		cfg.Location = loc
	}

	return &Runner{
		api:     api,
		secrets: secretProvider,
		tracker: tracker,
		fetcher: pagination.NewWindowFetcher(api, logger),
		merger:  merger,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// RunAll runs every dataset to completion, in order. A failed or panicking
// dataset never stops the next one. The error aggregates every run that did
// not end Advanced or Stalled.
func (r *Runner) RunAll(ctx context.Context, datasets []dataset.Descriptor) ([]Result, error) {
	runID := uuid.NewString()
	logger := r.logger.With().Str("run_id", runID).Logger()
	logger.Info().Int("datasets", len(datasets)).Msg("Extraction started")

	var (
		results []Result
		errs    *multierror.Error
	)
	for _, ds := range datasets {
		res := r.runIsolated(ctx, runID, ds)
		results = append(results, res)
		if !res.Outcome.OK() {
			err := res.Err
			if err == nil {
				err = errors.New(string(res.Outcome))
			}
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", ds.Name(), err))
		}
	}

	logger.Info().
		Int("datasets", len(datasets)).
		Int("failed", len(errs.WrappedErrors())).
		Msg("Extraction finished")

	return results, errs.ErrorOrNil()
}

func (r *Runner) runIsolated(ctx context.Context, runID string, ds dataset.Descriptor) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().
				Str("run_id", runID).
				Str("dataset", ds.Name()).
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("Dataset run panicked")
			res = Result{
				Dataset: ds,
				RunID:   runID,
				Outcome: OutcomePanicked,
				Err:     fmt.Errorf("panic: %v", p),
			}
			extractRunsTotal.WithLabelValues(ds.Name(), string(OutcomePanicked)).Inc()
		}
	}()
	return r.RunDataset(ctx, runID, ds)
}

// RunDataset performs one linear run for ds:
// marker, window, auth, fetch, then partition, merge and marker update.
func (r *Runner) RunDataset(ctx context.Context, runID string, ds dataset.Descriptor) (res Result) {
	start := r.now()
	res = Result{Dataset: ds, RunID: runID}
	logger := r.logger.With().
		Str("run_id", runID).
		Str("dataset", ds.Name()).
		Str("endpoint", ds.Endpoint).
		Logger()

	defer func() {
		if res.Outcome == "" {
			// panicking; runIsolated records it
			return
		}
		res.Duration = r.now().Sub(start)
		extractRunsTotal.WithLabelValues(ds.Name(), string(res.Outcome)).Inc()
		extractRunDuration.WithLabelValues(ds.Name()).Observe(res.Duration.Seconds())
	}()

	if err := ds.Validate(); err != nil {
		res.Outcome = OutcomeInvalidDataset
		res.Err = err
		logger.Error().Err(err).Msg("Invalid dataset")
		return res
	}

	res.LastPage = r.tracker.Read(ctx, ds)
	res.MarkerPage = res.LastPage
	res.StartPage, res.EndPage = pagination.Window(res.LastPage)
	logger.Info().
		Int("start_page", res.StartPage).
		Int("end_page", res.EndPage).
		Msg("Window computed")

	token, err := r.authenticate(ctx)
	if err != nil {
		res.Outcome = OutcomeAuthFailed
		res.Err = err
		logger.Error().Err(err).Msg("Authentication failed - skipping dataset")
		return res
	}

	fetched := r.fetcher.FetchWindow(ctx, token, ds.Endpoint, res.StartPage, res.EndPage, r.config.PageSize)
	switch fetched.Status {
	case pagination.StatusFailed:
		res.Outcome = OutcomeFetchFailed
		res.Err = fetched.Err
		logger.Error().Err(fetched.Err).Msg("Fetch failed - marker unchanged")
		return res
	case pagination.StatusNoData:
		res.Outcome = OutcomeStalled
		logger.Warn().Msg("No data in requested pages - marker unchanged")
		return res
	}

	res.Records = len(fetched.Records)
	extractRecordsFetchedTotal.WithLabelValues(ds.Name()).Add(float64(res.Records))

	parts, err := partition.ByLocalDate(fetched.Records, ds.DateField, r.config.Location)
	if err != nil {
		res.Outcome = OutcomePartitionFailed
		res.Err = err
		logger.Error().Err(err).Msg("Partitioning failed - marker unchanged")
		return res
	}
	res.Partitions = len(parts)

	var mergeErrs *multierror.Error
	for _, p := range parts {
		if _, err := r.merger.Upsert(ctx, ds, p); err != nil {
			res.PartitionsFailed++
			mergeErrs = multierror.Append(mergeErrs, err)
			extractPartitionsWrittenTotal.WithLabelValues(ds.Name(), "error").Inc()
			logger.Warn().Err(err).Str("date", p.Date).Msg("Partition not persisted - continuing")
			continue
		}
		extractPartitionsWrittenTotal.WithLabelValues(ds.Name(), "success").Inc()
	}

	if res.PartitionsFailed > 0 && r.config.HoldMarkerOnMergeFailure {
		res.Outcome = OutcomeMergeFailed
		res.Err = mergeErrs.ErrorOrNil()
		logger.Error().
			Int("failed", res.PartitionsFailed).
			Int("partitions", res.Partitions).
			Msg("Partitions failed - holding marker")
		return res
	}

	if err := r.tracker.Write(ctx, ds, res.EndPage); err != nil {
		res.MarkerErr = err
	} else {
		res.MarkerPage = res.EndPage
	}

	res.Outcome = OutcomeAdvanced
	if res.PartitionsFailed > 0 {
		res.Outcome = OutcomeAdvancedWithFailures
		res.Err = mergeErrs.ErrorOrNil()
		logger.Warn().
			Int("failed", res.PartitionsFailed).
			Int("partitions", res.Partitions).
			Msg("Marker advanced although some partitions failed")
	}
	if res.MarkerErr == nil {
		extractLastSuccess.WithLabelValues(ds.Name()).Set(float64(r.now().Unix()))
	}

	logger.Info().
		Int("records", res.Records).
		Int("partitions", res.Partitions).
		Int("marker", res.MarkerPage).
		Str("outcome", string(res.Outcome)).
		Msg("Dataset run finished")

	return res
}

func (r *Runner) authenticate(ctx context.Context) (string, error) {
	creds := client.Credentials{
		APIKey:    r.secrets.Get(ctx, secrets.APIKeyID),
		APISecret: r.secrets.Get(ctx, secrets.APISecretID),
	}
	return r.api.Authenticate(ctx, creds)
}
