package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/fudo-extractor/pkg/metrics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	var (
		spec       string
		listenAddr string
		runNow     bool
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run all datasets on a cron schedule and serve /metrics and /health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if spec == "" {
				spec = opts.cfg.Schedule.Cron
			}
			if spec == "" {
				return fmt.Errorf("--cron or schedule.cron is required")
			}
			if listenAddr == "" {
				listenAddr = opts.cfg.Metrics.ListenAddr
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			logger := opts.logger.With().Str("component", "scheduler").Logger()
			state := &scheduleState{}
			job := func() {
				results, err := a.runner.RunAll(ctx, opts.cfg.Datasets)
				state.record(time.Now(), len(results), err)
				if err != nil {
					logger.Error().Err(err).Msg("Scheduled run finished with failures")
				}
			}

			// One wrapped job so --run-now shares the overlap guard with cron ticks.
			guarded := cron.NewChain(cron.SkipIfStillRunning(cronLogger{logger})).Then(cron.FuncJob(job))
			c := cron.New(cron.WithLogger(cronLogger{logger}))
			if _, err := c.AddJob(spec, guarded); err != nil {
				return fmt.Errorf("invalid cron expression %q: %w", spec, err)
			}

			server := &http.Server{
				Addr:              listenAddr,
				Handler:           newRouter(state),
				ReadHeaderTimeout: 10 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", listenAddr).Msg("Serving /metrics and /health")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			c.Start()
			logger.Info().Str("cron", spec).Int("datasets", len(opts.cfg.Datasets)).Msg("Scheduler started")
			if runNow {
				go guarded.Run()
			}

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					logger.Error().Err(err).Msg("HTTP server failed")
				}
			}

			logger.Info().Msg("Stopping scheduler")
			<-c.Stop().Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&spec, "cron", "", "Cron expression (default schedule.cron)")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Address for /metrics and /health (default metrics.listen_addr)")
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Also run once immediately")

	return cmd
}

func newRouter(state *scheduleState) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/health", healthHandler(state))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

// scheduleState is the last run summary served by /health.
type scheduleState struct {
	mu        sync.Mutex
	lastRun   time.Time
	datasets  int
	lastError string
}

func (s *scheduleState) record(at time.Time, datasets int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = at
	s.datasets = datasets
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
}

type healthResponse struct {
	Status    string     `json:"status"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	Datasets  int        `json:"datasets"`
	LastError string     `json:"last_error,omitempty"`
}

// healthHandler reports liveness. A failed last run shows as DEGRADED, still with 200.
func healthHandler(state *scheduleState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state.mu.Lock()
		resp := healthResponse{Status: "OK", Datasets: state.datasets, LastError: state.lastError}
		if !state.lastRun.IsZero() {
			t := state.lastRun
			resp.LastRun = &t
		}
		state.mu.Unlock()

		if resp.LastError != "" {
			resp.Status = "DEGRADED"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
