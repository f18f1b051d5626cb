package model

import "github.com/secmon-lab/simplemem/pkg/domain/types"

const (
	// DefaultQueryLimit is used when a query does not specify a limit
	DefaultQueryLimit = 10
	// MaxQueryLimit caps the grounding set of a single query
	MaxQueryLimit = 100
	// DefaultListLimit is used when a retrieve does not specify a limit
	DefaultListLimit = 100
)

// NoMemoryAnswer is returned when no record matches a question
const NoMemoryAnswer = "No relevant memories found."

// Query is a natural-language question against persisted records.
// Threshold is a minimum cosine similarity; nil disables it.
type Query struct {
	Question  string   `json:"question"`
	Limit     int      `json:"limit,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// Normalize applies the default and maximum limit
func (q Query) Normalize() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Limit > MaxQueryLimit {
		q.Limit = MaxQueryLimit
	}
	return q
}

// Answer is the outcome of a query. Evidence lists the records used as grounding.
type Answer struct {
	Answer   string          `json:"answer"`
	Evidence []EntryID       `json:"evidence"`
	Records  []*MemoryRecord `json:"records"`
}

// UnitFailure describes one dialogue that finalize could not extract
type UnitFailure struct {
	Index   int    `json:"index"`
	Speaker string `json:"speaker"`
	Reason  string `json:"reason"`
}

// FinalizeResult reports what a finalize committed
type FinalizeResult struct {
	Processed int           `json:"processed"`
	Created   int           `json:"created"`
	Failed    int           `json:"failed"`
	EntryIDs  []EntryID     `json:"entry_ids"`
	Failures  []UnitFailure `json:"failures,omitempty"`
}

// Stats is a read-only snapshot of a backend
type Stats struct {
	Count       int                `json:"count"`
	TableName   string             `json:"table_name"`
	Path        string             `json:"db_path"`
	BackendType types.BackendType  `json:"db_type"`
	Pending     int                `json:"pending"`
	State       types.SessionState `json:"state"`
}
