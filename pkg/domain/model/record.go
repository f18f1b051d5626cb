package model

import (
	"time"

	"github.com/google/uuid"
)

// EmbeddingDimension is the vector length requested from the embedding model
const EmbeddingDimension = 768

// EntryID is a UUID-based identifier for MemoryRecord
type EntryID string

// NewEntryID generates a new UUID v4 EntryID
func NewEntryID() EntryID {
	return EntryID(uuid.New().String())
}

// String returns the string representation of the entry ID
func (id EntryID) String() string {
	return string(id)
}

// MemoryRecord is a persisted, searchable unit of memory. Records only come
// out of finalize; Vector is kept for similarity search and never serialized.
type MemoryRecord struct {
	EntryID             EntryID   `json:"entry_id"`
	LosslessRestatement string    `json:"lossless_restatement"`
	Keywords            []string  `json:"keywords"`
	Timestamp           string    `json:"timestamp"`
	Location            string    `json:"location,omitempty"`
	Persons             []string  `json:"persons"`
	Entities            []string  `json:"entities"`
	Topic               string    `json:"topic,omitempty"`
	Vector              []float32 `json:"-"`
	CreatedAt           time.Time `json:"created_at"`
}

// Copy returns a deep copy of the record
func (r *MemoryRecord) Copy() *MemoryRecord {
	copied := *r
	copied.Keywords = copyStrings(r.Keywords)
	copied.Persons = copyStrings(r.Persons)
	copied.Entities = copyStrings(r.Entities)
	if r.Vector != nil {
		copied.Vector = make([]float32, len(r.Vector))
		copy(copied.Vector, r.Vector)
	}
	return &copied
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	copied := make([]string, len(s))
	copy(copied, s)
	return copied
}

// RecordDraft is what the extraction engine returns for one dialogue, before
// the backend assigns identity and persists it.
type RecordDraft struct {
	EntryID             EntryID
	LosslessRestatement string
	Keywords            []string
	Timestamp           string
	Location            string
	Persons             []string
	Entities            []string
	Topic               string
	Vector              []float32
}

// ToRecord materializes the draft. Timestamp falls back to the source
// dialogue's timestamp, and persons/entities become sets.
func (d *RecordDraft) ToRecord(source *Dialogue, now time.Time) *MemoryRecord {
	id := d.EntryID
	if id == "" {
		id = NewEntryID()
	}
	ts := d.Timestamp
	if ts == "" && source != nil {
		ts = source.Timestamp
	}

	record := &MemoryRecord{
		EntryID:             id,
		LosslessRestatement: d.LosslessRestatement,
		Keywords:            copyStrings(d.Keywords),
		Timestamp:           ts,
		Location:            d.Location,
		Persons:             UniqueStrings(d.Persons),
		Entities:            UniqueStrings(d.Entities),
		Topic:               d.Topic,
		CreatedAt:           now.UTC(),
	}
	if record.Keywords == nil {
		record.Keywords = []string{}
	}
	if record.Persons == nil {
		record.Persons = []string{}
	}
	if record.Entities == nil {
		record.Entities = []string{}
	}
	if d.Vector != nil {
		record.Vector = make([]float32, len(d.Vector))
		copy(record.Vector, d.Vector)
	}
	return record
}

// ScoredRecord is a similarity search hit
type ScoredRecord struct {
	Record *MemoryRecord
	Score  float64
}
