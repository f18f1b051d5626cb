package local_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
	"github.com/secmon-lab/simplemem/pkg/repository/local"
)

func newIndexedTable(t *testing.T) (*local.Table, *model.MemoryRecord) {
	t.Helper()
	ctx := context.Background()

	table := local.New(t.TempDir(), "memories")
	gt.NoError(t, table.Open(ctx)).Required()
	t.Cleanup(func() {
		gt.NoError(t, table.Close())
	})

	rec := &model.MemoryRecord{
		EntryID:             model.NewEntryID(),
		LosslessRestatement: "John said the project must be finished by Friday.",
		Keywords:            []string{"project"},
		Timestamp:           "2025-01-15T14:30:00Z",
		Persons:             []string{"John"},
		Entities:            []string{},
		Vector:              []float32{1, 0, 0},
		CreatedAt:           time.Now().UTC(),
	}
	gt.NoError(t, table.Upsert(ctx, []*model.MemoryRecord{rec})).Required()
	return table, rec
}

func searchIDs(t *testing.T, table *local.Table) []model.EntryID {
	t.Helper()
	hits, err := table.Search(context.Background(), []float32{1, 0, 0}, 10, nil)
	gt.NoError(t, err).Required()

	ids := make([]model.EntryID, len(hits))
	for i, h := range hits {
		ids[i] = h.Record.EntryID
	}
	return ids
}

func TestTable_IndexUpdateIgnoresCancellation(t *testing.T) {
	table, rec := newIndexedTable(t)
	gt.NoError(t, table.DropIndexForTest()).Required()
	gt.Array(t, searchIDs(t, table)).Length(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	table.IndexForTest(ctx, []*model.MemoryRecord{rec})

	gt.Array(t, searchIDs(t, table)).Equal([]model.EntryID{rec.EntryID})
}

func TestTable_IndexUpdateFailureRebuildsFromTable(t *testing.T) {
	table, rec := newIndexedTable(t)
	gt.NoError(t, table.DropIndexForTest()).Required()

	table.FailIndexUpdateForTest(context.Background())

	gt.Array(t, searchIDs(t, table)).Equal([]model.EntryID{rec.EntryID})

	count, err := table.Count(context.Background())
	gt.NoError(t, err).Required()
	gt.Value(t, count).Equal(1)
}
