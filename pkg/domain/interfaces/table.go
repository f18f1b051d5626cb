package interfaces

import (
	"context"

	"github.com/secmon-lab/simplemem/pkg/domain/model"
)

// RecordTable is the persisted table store behind a backend. Implementations
// do not lock against each other's operations; the backend serializes writers.
type RecordTable interface {
	// Open creates or connects to the table. Calling it again after success is a no-op.
	Open(ctx context.Context) error

	// Upsert inserts records or replaces those with the same entry ID.
	// Replacing keeps the original insertion position. A call writes every
	// record or none of them.
	Upsert(ctx context.Context, records []*model.MemoryRecord) error

	// Search returns at most limit records ordered by descending cosine
	// similarity. Hits below threshold are dropped when threshold is set.
	Search(ctx context.Context, vector []float32, limit int, threshold *float64) ([]*model.ScoredRecord, error)

	// List returns records in insertion order. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*model.MemoryRecord, error)

	Get(ctx context.Context, id model.EntryID) (*model.MemoryRecord, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id model.EntryID) error
	DeleteAll(ctx context.Context) error

	// Name is the table or collection name, Location the path or URI it lives at
	Name() string
	Location() string

	Close() error
}
