package interfaces

import (
	"context"

	"github.com/secmon-lab/simplemem/pkg/domain/model"
)

// Backend is the capability contract every storage backend satisfies.
// Ingest only touches the pending buffer; Finalize is the sole write path
// into persisted storage.
type Backend interface {
	// Initialize opens storage and verifies the extraction engine. It is
	// idempotent and fails with model.ErrBackendUnavailable when required
	// configuration is missing.
	Initialize(ctx context.Context) error
	IsInitialized() bool

	Add(ctx context.Context, dialogue *model.Dialogue) error
	AddMany(ctx context.Context, dialogues []*model.Dialogue) (int, error)

	// Finalize drains the pending buffer through the extraction engine and
	// persists the resulting records.
	Finalize(ctx context.Context) (*model.FinalizeResult, error)

	Query(ctx context.Context, query model.Query) (*model.Answer, error)
	Search(ctx context.Context, question string, limit int, threshold *float64) ([]*model.MemoryRecord, error)

	// List returns up to limit records in insertion order, oldest first.
	// A limit of zero or less returns every record.
	List(ctx context.Context, limit int) ([]*model.MemoryRecord, error)
	Count(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*model.Stats, error)

	Delete(ctx context.Context, id model.EntryID) error
	Clear(ctx context.Context, confirmed bool) error

	Close() error
}
