package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/Sternrassler/fudo-extractor/pkg/dataset"
	"github.com/Sternrassler/fudo-extractor/pkg/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sales = dataset.Descriptor{
	Endpoint:     "/sales",
	Folder:       "fact_sales",
	FileBaseName: "fact_sales",
	DateField:    "attributes.createdAt",
}

// failingStore fails every operation with a non-not-found error.
type failingStore struct{}

func (failingStore) Read(context.Context, string) ([]byte, error) {
	return nil, errors.New("permission denied")
}
func (failingStore) Write(context.Context, string, []byte, string) error {
	return errors.New("permission denied")
}
func (failingStore) List(context.Context, string) ([]string, error) {
	return nil, errors.New("permission denied")
}
func (failingStore) Close() error { return nil }

// lastLevel returns the level of the last JSON log line in buf.
func lastLevel(t *testing.T, buf *bytes.Buffer) string {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry["level"].(string)
}

func TestTracker_Read(t *testing.T) {
	tests := []struct {
		name      string
		content   *string
		store     storage.Store
		wantPage  int
		wantLevel string
	}{
		{name: "absent", wantPage: 0, wantLevel: "info"},
		{name: "valid", content: strPtr("15"), wantPage: 15, wantLevel: "debug"},
		{name: "surrounding whitespace", content: strPtr(" 20\n"), wantPage: 20, wantLevel: "debug"},
		{name: "zero", content: strPtr("0"), wantPage: 0, wantLevel: "debug"},
		{name: "malformed", content: strPtr("abc"), wantPage: 0, wantLevel: "warn"},
		{name: "negative", content: strPtr("-5"), wantPage: 0, wantLevel: "warn"},
		{name: "empty", content: strPtr(""), wantPage: 0, wantLevel: "warn"},
		{name: "access failure", store: failingStore{}, wantPage: 0, wantLevel: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := tt.store
			if store == nil {
				store = storage.NewMemStore()
			}
			if tt.content != nil {
				require.NoError(t, store.Write(ctx, sales.MarkerKey(), []byte(*tt.content), storage.ContentTypeText))
			}

			var buf bytes.Buffer
			logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
			tracker := NewTracker(NewObjectBackend(store), logger)

			assert.Equal(t, tt.wantPage, tracker.Read(ctx, sales))
			assert.Equal(t, tt.wantLevel, lastLevel(t, &buf))
		})
	}
}

func TestTracker_WriteOverwrites(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	tracker := NewTracker(NewObjectBackend(store), zerolog.Nop())

	require.NoError(t, tracker.Write(ctx, sales, 5))
	require.NoError(t, tracker.Write(ctx, sales, 10))

	data, err := store.Read(ctx, "raw/fact_sales/fact_sales_log.txt")
	require.NoError(t, err)
	assert.Equal(t, "10", string(data))
	assert.Equal(t, 10, tracker.Read(ctx, sales))
}

func TestTracker_WriteFailureIsReported(t *testing.T) {
	tracker := NewTracker(NewObjectBackend(failingStore{}), zerolog.Nop())
	assert.Error(t, tracker.Write(context.Background(), sales, 5))
}

func strPtr(s string) *string { return &s }
