// Package storage provides the object store the extractor keeps its markers and
// partition files in. Backends: Google Cloud Storage, S3-compatible, Azure Blob
// and a local/in-memory filesystem.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for object store operations.
var (
	storageOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storage_operations_total",
		Help: "Total object store operations by backend, operation and result",
	}, []string{"backend", "operation", "result"})

	storageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storage_operation_duration_seconds",
		Help:    "Object store operation duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"backend", "operation"})
)

// ErrNotFound is returned by Read when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Content types used by the extractor.
const (
	ContentTypeText = "text/plain"
	ContentTypeCSV  = "text/csv"
)

// Backend type names.
const (
	TypeGCS   = "gcs"
	TypeS3    = "s3"
	TypeAzure = "azure"
	TypeFS    = "fs"
	TypeMem   = "memory"
)

// Store reads and writes whole blobs addressed by key inside one bucket.
type Store interface {
	// Read returns the blob content, or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write fully overwrites the blob.
	Write(ctx context.Context, key string, data []byte, contentType string) error

	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// instrumented wraps a Store with metrics and debug logging.
type instrumented struct {
	backend string
	store   Store
	logger  zerolog.Logger
}

// Instrument wraps s so every operation is counted under backend.
func Instrument(backend string, s Store, logger zerolog.Logger) Store {
	return &instrumented{
		backend: backend,
		store:   s,
		logger:  logger.With().Str("backend", backend).Logger(),
	}
}

func (i *instrumented) observe(operation string, start time.Time, err error) {
	result := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	storageOperationsTotal.WithLabelValues(i.backend, operation, result).Inc()
	storageOperationDuration.WithLabelValues(i.backend, operation).Observe(time.Since(start).Seconds())
}

func (i *instrumented) Read(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := i.store.Read(ctx, key)
	i.observe("read", start, err)
	if err == nil {
		i.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("Object read")
	}
	return data, err
}

func (i *instrumented) Write(ctx context.Context, key string, data []byte, contentType string) error {
	start := time.Now()
	err := i.store.Write(ctx, key, data, contentType)
	i.observe("write", start, err)
	if err == nil {
		i.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("Object written")
	}
	return err
}

func (i *instrumented) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := i.store.List(ctx, prefix)
	i.observe("list", start, err)
	return keys, err
}

func (i *instrumented) Close() error {
	return i.store.Close()
}

// Options selects and configures a backend. Only the block matching Type is used.
type Options struct {
	Type  string       `yaml:"type"`
	GCS   GCSOptions   `yaml:"gcs"`
	S3    S3Options    `yaml:"s3"`
	Azure AzureOptions `yaml:"azure"`
	FS    FSOptions    `yaml:"fs"`
}

// New constructs the configured backend, wrapped with metrics.
func New(ctx context.Context, opts Options, logger zerolog.Logger) (Store, error) {
	var (
		s   Store
		err error
	)

	backend := strings.ToLower(strings.TrimSpace(opts.Type))
	switch backend {
	case TypeGCS, "":
		backend = TypeGCS
		s, err = NewGCSStore(ctx, opts.GCS)
	case TypeS3:
		s, err = NewS3Store(opts.S3)
	case TypeAzure:
		s, err = NewAzureStore(opts.Azure)
	case TypeFS:
		s, err = NewOsFSStore(opts.FS)
	case TypeMem:
		s = NewMemStore()
	default:
		return nil, fmt.Errorf("unknown storage type %q", opts.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s store: %w", backend, err)
	}

	logger.Info().Str("backend", backend).Msg("Object store ready")
	return Instrument(backend, s, logger), nil
}
