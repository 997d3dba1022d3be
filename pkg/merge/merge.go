// Package merge upserts day partitions into their CSV blobs, deduplicating by id.
package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/fudo-extractor/pkg/dataset"
	"github.com/Sternrassler/fudo-extractor/pkg/partition"
	"github.com/Sternrassler/fudo-extractor/pkg/record"
	"github.com/Sternrassler/fudo-extractor/pkg/storage"
	"github.com/rs/zerolog"
)

// Stats describes one upsert.
type Stats struct {
	Key      string
	Existing int
	Incoming int
	Written  int

	// Replaced counts rows overwritten by a later instance of the same id.
	Replaced int
	Created  bool
}

// Dedup keeps one row per id. The last instance wins and takes the position of
// the id's first appearance.
func Dedup(rows []record.Record) ([]record.Record, int) {
	index := make(map[string]int, len(rows))
	out := make([]record.Record, 0, len(rows))
	replaced := 0

	for _, row := range rows {
		id := row.ID()
		if pos, ok := index[id]; ok {
			out[pos] = row
			replaced++
			continue
		}
		index[id] = len(out)
		out = append(out, row)
	}
	return out, replaced
}

// Merger reads, merges and rewrites partition blobs.
type Merger struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewMerger creates a merger on store.
func NewMerger(store storage.Store, logger zerolog.Logger) *Merger {
	return &Merger{store: store, logger: logger}
}

// Upsert merges p into raw/{folder}/date={p.Date}/{base}.csv and overwrites it.
// A read failure other than not-found leaves the blob untouched.
func (m *Merger) Upsert(ctx context.Context, ds dataset.Descriptor, p partition.Partition) (Stats, error) {
	key := ds.PartitionKey(p.Date)
	stats := Stats{Key: key, Incoming: len(p.Records)}

	logger := m.logger.With().
		Str("dataset", ds.Name()).
		Str("date", p.Date).
		Str("key", key).
		Logger()

	var (
		header   []string
		existing []record.Record
	)
	data, err := m.store.Read(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		stats.Created = true
	case err != nil:
		return stats, fmt.Errorf("read partition %s: %w", key, err)
	default:
		header, existing, err = Decode(data)
		if err != nil {
			return stats, fmt.Errorf("parse partition %s: %w", key, err)
		}
	}
	stats.Existing = len(existing)

	combined := make([]record.Record, 0, len(existing)+len(p.Records))
	combined = append(combined, existing...)
	combined = append(combined, p.Records...)

	rows, replaced := Dedup(combined)
	stats.Replaced = replaced
	stats.Written = len(rows)

	out, err := Encode(Header(header, rows), rows)
	if err != nil {
		return stats, fmt.Errorf("encode partition %s: %w", key, err)
	}
	if err := m.store.Write(ctx, key, out, storage.ContentTypeCSV); err != nil {
		return stats, fmt.Errorf("write partition %s: %w", key, err)
	}

	logger.Info().
		Int("existing", stats.Existing).
		Int("incoming", stats.Incoming).
		Int("rows", stats.Written).
		Int("replaced", stats.Replaced).
		Bool("created", stats.Created).
		Msg("Partition written")

	return stats, nil
}
