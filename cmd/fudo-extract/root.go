package main

import (
	"context"
	"fmt"
	"io"

	"github.com/Sternrassler/fudo-extractor/pkg/client"
	"github.com/Sternrassler/fudo-extractor/pkg/config"
	"github.com/Sternrassler/fudo-extractor/pkg/dataset"
	"github.com/Sternrassler/fudo-extractor/pkg/extract"
	"github.com/Sternrassler/fudo-extractor/pkg/logging"
	"github.com/Sternrassler/fudo-extractor/pkg/merge"
	"github.com/Sternrassler/fudo-extractor/pkg/partition"
	"github.com/Sternrassler/fudo-extractor/pkg/progress"
	"github.com/Sternrassler/fudo-extractor/pkg/secrets"
	"github.com/Sternrassler/fudo-extractor/pkg/storage"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// rootOptions holds persistent flags and the configuration they resolve to.
type rootOptions struct {
	configPath  string
	envFiles    []string
	logLevel    string
	storageType string

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "fudo-extract",
		Short:         "Incremental Fudo API extractor",
		Long:          "Fetches paginated Fudo API records, partitions them by local day and merges them into CSV objects.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.resolve(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "Env files to load (default .env when present)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error, disabled)")
	rootCmd.PersistentFlags().StringVar(&opts.storageType, "storage-type", "", "Object store (gcs, s3, azure, fs, memory)")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newFetchCmd(opts))
	rootCmd.AddCommand(newMarkerCmd(opts))
	rootCmd.AddCommand(newPartitionsCmd(opts))
	rootCmd.AddCommand(newScheduleCmd(opts))

	return rootCmd
}

// resolve loads configuration, applies flag overrides and sets up logging.
// Flags win over environment, environment over file.
func (o *rootOptions) resolve(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath, o.envFiles...)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") || flags.Changed("storage-type") {
		if flags.Changed("log-level") {
			cfg.Logging.Level = o.logLevel
		}
		if flags.Changed("storage-type") {
			cfg.Storage.Type = o.storageType
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logCfg := cfg.LoggerConfig()
	logCfg.Output = cmd.ErrOrStderr()
	o.logger = logging.Setup(logCfg)
	o.cfg = cfg
	return nil
}

// findDataset returns the configured dataset whose filename is name.
func (o *rootOptions) findDataset(name string) (dataset.Descriptor, error) {
	for _, ds := range o.cfg.Datasets {
		if ds.Name() == name {
			return ds, nil
		}
	}
	return dataset.Descriptor{}, fmt.Errorf("dataset %q is not configured", name)
}

// app holds the collaborators a command needs. Close releases them.
type app struct {
	store   storage.Store
	tracker *progress.Tracker
	backend progress.Backend
	secrets secrets.Provider
	client  *client.Client
	runner  *extract.Runner
	logger  zerolog.Logger

	closers []io.Closer
}

// newApp wires storage, progress, secrets, client and runner from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (a *app, err error) {
	a = &app{logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	storeOpts, err := cfg.StorageOptions()
	if err != nil {
		return nil, err
	}
	a.store, err = storage.New(ctx, storeOpts, logging.With(logger, "storage"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store)

	switch cfg.Progress.Backend {
	case config.ProgressRedis:
		backend, err := progress.NewRedisBackendFromURL(ctx, cfg.Progress.RedisURL, cfg.Progress.RedisPrefix)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, backend)
		a.backend = backend
	default:
		a.backend = progress.NewObjectBackend(a.store)
	}
	a.tracker = progress.NewTracker(a.backend, logging.With(logger, "progress"))

	providers := []secrets.Provider{secrets.NewEnvProvider()}
	if cfg.Secrets.GCPProjectID != "" {
		gcp, err := secrets.NewGCPProvider(ctx, cfg.Secrets.GCPProjectID, logging.With(logger, "secrets"))
		if err != nil {
			return nil, err
		}
		providers = append(providers, gcp)
	}
	a.secrets = secrets.NewChain(logging.With(logger, "secrets"), providers...)

	a.client, err = client.New(cfg.ClientConfig())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.client)

	loc, err := partition.LoadLocation(cfg.Extract.Timezone)
	if err != nil {
		return nil, err
	}
	a.runner, err = extract.NewRunner(
		a.client,
		a.secrets,
		a.tracker,
		merge.NewMerger(a.store, logging.With(logger, "merge")),
		extract.Config{
			PageSize:                 cfg.Extract.PageSize,
			Location:                 loc,
			HoldMarkerOnMergeFailure: cfg.Extract.HoldMarkerOnMergeFailure,
		},
		logging.With(logger, "extract"),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// authenticate obtains a token with the configured credentials.
func (a *app) authenticate(ctx context.Context) (string, error) {
	return a.client.Authenticate(ctx, client.Credentials{
		APIKey:    a.secrets.Get(ctx, secrets.APIKeyID),
		APISecret: a.secrets.Get(ctx, secrets.APISecretID),
	})
}

// Close releases resources in reverse order of creation.
func (a *app) Close() error {
	var errs *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	a.closers = nil
	return errs.ErrorOrNil()
}
