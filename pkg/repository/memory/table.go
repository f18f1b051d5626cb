package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/simplemem/pkg/domain/interfaces"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
)

type entry struct {
	seq    int64
	record *model.MemoryRecord
}

// Table is a process-local record table. Contents are lost on exit.
type Table struct {
	name    string
	mu      sync.RWMutex
	nextSeq int64
	entries map[model.EntryID]*entry
}

var _ interfaces.RecordTable = &Table{}

// New creates an empty in-memory table
func New(name string) *Table {
	return &Table{
		name:    name,
		entries: make(map[model.EntryID]*entry),
	}
}

func (t *Table) Open(ctx context.Context) error {
	return nil
}

func (t *Table) Name() string {
	return t.name
}

func (t *Table) Location() string {
	return "memory"
}

func (t *Table) Upsert(ctx context.Context, records []*model.MemoryRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, rec := range records {
		if rec.EntryID == "" {
			return goerr.Wrap(model.ErrInvalidInput, "record has no entry id")
		}
	}

	for _, rec := range records {
		if existing, ok := t.entries[rec.EntryID]; ok {
			existing.record = rec.Copy()
			continue
		}
		t.nextSeq++
		t.entries[rec.EntryID] = &entry{seq: t.nextSeq, record: rec.Copy()}
	}
	return nil
}

func (t *Table) Get(ctx context.Context, id model.EntryID) (*model.MemoryRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "memory record not found", goerr.V(model.EntryIDKey, id))
	}
	return e.record.Copy(), nil
}

func (t *Table) List(ctx context.Context, limit int) ([]*model.MemoryRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ordered := t.ordered()
	if limit > 0 && limit < len(ordered) {
		ordered = ordered[:limit]
	}

	result := make([]*model.MemoryRecord, len(ordered))
	for i, e := range ordered {
		result[i] = e.record.Copy()
	}
	return result, nil
}

// ordered returns entries by insertion sequence. Caller holds the lock.
func (t *Table) ordered() []*entry {
	result := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].seq < result[j].seq
	})
	return result
}

func (t *Table) Search(ctx context.Context, vector []float32, limit int, threshold *float64) ([]*model.ScoredRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var candidates []*model.ScoredRecord
	for _, e := range t.ordered() {
		if len(e.record.Vector) == 0 {
			continue
		}
		score := CosineSimilarity(vector, e.record.Vector)
		if threshold != nil && score < *threshold {
			continue
		}
		candidates = append(candidates, &model.ScoredRecord{Record: e.record.Copy(), Score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (t *Table) Count(ctx context.Context) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries), nil
}

func (t *Table) Delete(ctx context.Context, id model.EntryID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; !ok {
		return goerr.Wrap(model.ErrNotFound, "memory record not found", goerr.V(model.EntryIDKey, id))
	}
	delete(t.entries, id)
	return nil
}

func (t *Table) DeleteAll(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[model.EntryID]*entry)
	return nil
}

func (t *Table) Close() error {
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}

	return dot / denom
}
