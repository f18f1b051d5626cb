package local

import (
	"context"
	"errors"

	"github.com/secmon-lab/simplemem/pkg/domain/model"
)

// DropIndexForTest replaces the vector index with an empty one
func (t *Table) DropIndexForTest() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	col, err := newIndex(t.name)
	if err != nil {
		return err
	}
	t.index = col
	return nil
}

// IndexForTest adds records to the vector index the way Upsert does after commit
func (t *Table) IndexForTest(ctx context.Context, records []*model.MemoryRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	docs := toDocuments(records)
	t.updateIndex(ctx, func(ctx context.Context) error {
		return t.index.AddDocuments(ctx, docs, 1)
	})
}

// FailIndexUpdateForTest runs an index update that always fails
func (t *Table) FailIndexUpdateForTest(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.updateIndex(ctx, func(ctx context.Context) error {
		return errors.New("index unavailable")
	})
}
