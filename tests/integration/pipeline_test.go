//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/fudo-extractor/internal/testutil"
	"github.com/Sternrassler/fudo-extractor/pkg/client"
	"github.com/Sternrassler/fudo-extractor/pkg/config"
	"github.com/Sternrassler/fudo-extractor/pkg/dataset"
	"github.com/Sternrassler/fudo-extractor/pkg/extract"
	"github.com/Sternrassler/fudo-extractor/pkg/merge"
	"github.com/Sternrassler/fudo-extractor/pkg/progress"
	"github.com/Sternrassler/fudo-extractor/pkg/record"
	"github.com/Sternrassler/fudo-extractor/pkg/secrets"
	"github.com/Sternrassler/fudo-extractor/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis creates a Redis container and returns its URL.
func setupRedis(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

// pipeline is a runner wired against the mock API and an in-memory store.
type pipeline struct {
	mock    *testutil.MockFudo
	store   storage.Store
	tracker *progress.Tracker
	runner  *extract.Runner
}

func newPipeline(t *testing.T, backend func(storage.Store) progress.Backend, maxAttempts int) *pipeline {
	t.Helper()

	mock := testutil.NewMockFudo()
	t.Cleanup(mock.Close)

	cfg := client.DefaultConfig()
	cfg.APIURL = mock.APIURL()
	cfg.AuthURL = mock.AuthURL()
	cfg.RequestsPerSecond = 0
	cfg.Retry = client.RetryConfig{
		MaxAttempts:       maxAttempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	api, err := client.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = api.Close() })

	logger := zerolog.Nop()
	store := storage.NewMemStore()
	tracker := progress.NewTracker(backend(store), logger)
	creds := secrets.NewMapProvider(map[string]string{
		secrets.APIKeyID:    testutil.MockAPIKey,
		secrets.APISecretID: testutil.MockAPISecret,
	})

	runner, err := extract.NewRunner(api, creds, tracker, merge.NewMerger(store, logger), extract.Config{PageSize: 2}, logger)
	require.NoError(t, err)

	return &pipeline{mock: mock, store: store, tracker: tracker, runner: runner}
}

func objectBackend(s storage.Store) progress.Backend {
	return progress.NewObjectBackend(s)
}

func (p *pipeline) partition(t *testing.T, ds dataset.Descriptor, date string) (header []string, rows []record.Record) {
	t.Helper()
	data, err := p.store.Read(context.Background(), ds.PartitionKey(date))
	require.NoError(t, err)
	header, rows, err = merge.Decode(data)
	require.NoError(t, err)
	return header, rows
}

// TestFullPipeline_RedisMarkers covers two consecutive runs over two datasets
// with markers kept in Redis: window → partition → merge → marker.
func TestFullPipeline_RedisMarkers(t *testing.T) {
	url := setupRedis(t)
	ctx := context.Background()

	redisBackend, err := progress.NewRedisBackendFromURL(ctx, url, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisBackend.Close() })

	p := newPipeline(t, func(storage.Store) progress.Backend { return redisBackend }, 3)
	datasets := config.DefaultDatasets()
	sales, items := datasets[0], datasets[1]

	// 10 sales: pages 1..5 at size 2
	for i := 1; i <= 10; i++ {
		p.mock.AppendRecords("/sales", testutil.Sale(fmt.Sprint(i), "2024-05-01T15:00:00Z", float64(i)))
	}
	p.mock.AppendRecords("/items", testutil.Sale("i1", "2024-05-01T01:00:00Z", 1))

	results, err := p.runner.RunAll(ctx, datasets)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, extract.OutcomeAdvanced, results[0].Outcome)
	assert.Equal(t, extract.OutcomeAdvanced, results[1].Outcome)
	assert.Equal(t, results[0].RunID, results[1].RunID)

	assert.Equal(t, 5, p.tracker.Read(ctx, sales))
	assert.Equal(t, 5, p.tracker.Read(ctx, items))

	_, rows := p.partition(t, sales, "2024-05-01")
	assert.Len(t, rows, 10)
	_, rows = p.partition(t, items, "2024-04-30")
	assert.Len(t, rows, 1)

	// New upstream data lands on pages 6+; an updated copy of id 3 is merged keep-last.
	p.mock.AppendRecords("/sales",
		testutil.Sale("3", "2024-05-01T15:00:00Z", 300),
		testutil.Sale("11", "2024-05-02T15:00:00Z", 11),
	)
	p.mock.Reset()

	results, err = p.runner.RunAll(ctx, datasets)
	require.NoError(t, err)
	assert.Equal(t, extract.OutcomeAdvanced, results[0].Outcome)
	assert.Equal(t, extract.OutcomeStalled, results[1].Outcome)
	assert.Equal(t, []int{6, 7, 8, 9, 10}, p.mock.GetPageRequests("/sales"))
	assert.Equal(t, 10, p.tracker.Read(ctx, sales))
	assert.Equal(t, 5, p.tracker.Read(ctx, items))

	header, rows := p.partition(t, sales, "2024-05-01")
	require.Len(t, rows, 10, "id 3 replaced, not duplicated")
	assert.Contains(t, header, "attributes.total")
	assert.Equal(t, "3", rows[2]["id"])
	assert.Equal(t, "300", rows[2]["attributes.total"])

	_, rows = p.partition(t, sales, "2024-05-02")
	assert.Len(t, rows, 1)
}

// TestFullPipeline_TransientFailureRecovers aborts a window on a failing page,
// leaves the marker alone, and picks the same window up on the next run.
func TestFullPipeline_TransientFailureRecovers(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, objectBackend, 2)
	sales := config.DefaultDatasets()[0]

	for i := 1; i <= 6; i++ {
		p.mock.AppendRecords("/sales", testutil.Sale(fmt.Sprint(i), "2024-05-01T15:00:00Z", float64(i)))
	}
	p.mock.SetPageResponse("/sales", 3, testutil.MockResponse{StatusCode: http.StatusServiceUnavailable})

	res := p.runner.RunDataset(ctx, "run-1", sales)
	assert.Equal(t, extract.OutcomeFetchFailed, res.Outcome)
	assert.Equal(t, 0, p.tracker.Read(ctx, sales))

	keys, err := p.store.List(ctx, sales.PartitionPrefix())
	require.NoError(t, err)
	assert.Empty(t, keys, "nothing persisted for an aborted window")

	// Page 3 was retried once before the window was abandoned.
	assert.Equal(t, []int{1, 2, 3, 3}, p.mock.GetPageRequests("/sales"))

	p.mock.ClearPageResponses("/sales")
	res = p.runner.RunDataset(ctx, "run-2", sales)
	assert.Equal(t, extract.OutcomeAdvanced, res.Outcome)
	assert.Equal(t, 5, p.tracker.Read(ctx, sales))

	_, rows := p.partition(t, sales, "2024-05-01")
	assert.Len(t, rows, 6)
}
