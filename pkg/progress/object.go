package progress

import (
	"context"
	"errors"

	"github.com/Sternrassler/fudo-extractor/pkg/dataset"
	"github.com/Sternrassler/fudo-extractor/pkg/storage"
)

// ObjectBackend keeps markers as plain-text blobs at raw/{folder}/{base}_log.txt.
type ObjectBackend struct {
	store storage.Store
}

var _ Backend = (*ObjectBackend)(nil)

// NewObjectBackend stores markers in store.
func NewObjectBackend(store storage.Store) *ObjectBackend {
	return &ObjectBackend{store: store}
}

// Get implements Backend.
func (b *ObjectBackend) Get(ctx context.Context, ds dataset.Descriptor) (string, bool, error) {
	data, err := b.store.Read(ctx, ds.MarkerKey())
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// Set implements Backend.
func (b *ObjectBackend) Set(ctx context.Context, ds dataset.Descriptor, value string) error {
	return b.store.Write(ctx, ds.MarkerKey(), []byte(value), storage.ContentTypeText)
}

// Name implements Backend.
func (b *ObjectBackend) Name() string {
	return "object"
}
