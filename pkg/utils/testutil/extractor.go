// Package testutil holds a deterministic extraction engine for tests that
// exercise the memory lifecycle without an LLM.
package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/secmon-lab/simplemem/pkg/domain/interfaces"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
)

// Dimension is the vector size produced by EmbedText
const Dimension = 64

// EmbedText hashes each word into a bucket so texts sharing words are similar
func EmbedText(text string) []float32 {
	vec := make([]float32, Dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%Dimension] += 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// DefaultDraft is the single record Extractor produces for d
func DefaultDraft(d *model.Dialogue) *model.RecordDraft {
	restatement := d.Content
	if d.Speaker != "" {
		restatement = d.Speaker + " said: " + d.Content
	}
	return &model.RecordDraft{
		LosslessRestatement: restatement,
		Keywords:            strings.Fields(d.Content),
		Persons:             []string{d.Speaker},
		Vector:              EmbedText(d.Content),
	}
}

// Extractor produces one record per dialogue unless a func field overrides it
type Extractor struct {
	ExtractFn func(ctx context.Context, d *model.Dialogue) ([]*model.RecordDraft, error)
	AnswerFn  func(ctx context.Context, question string, grounding []*model.MemoryRecord) (string, error)
	EmbedFn   func(ctx context.Context, text string) ([]float32, error)

	ExtractCalls atomic.Int32
	AnswerCalls  atomic.Int32

	mu        sync.Mutex
	grounding [][]*model.MemoryRecord
}

var _ interfaces.Extractor = &Extractor{}

func (f *Extractor) Extract(ctx context.Context, d *model.Dialogue) ([]*model.RecordDraft, error) {
	f.ExtractCalls.Add(1)
	if f.ExtractFn != nil {
		return f.ExtractFn(ctx, d)
	}
	return []*model.RecordDraft{DefaultDraft(d)}, nil
}

func (f *Extractor) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.EmbedFn != nil {
		return f.EmbedFn(ctx, text)
	}
	return EmbedText(text), nil
}

func (f *Extractor) Answer(ctx context.Context, question string, grounding []*model.MemoryRecord) (string, error) {
	f.AnswerCalls.Add(1)
	f.mu.Lock()
	f.grounding = append(f.grounding, grounding)
	f.mu.Unlock()

	if f.AnswerFn != nil {
		return f.AnswerFn(ctx, question, grounding)
	}
	parts := make([]string, len(grounding))
	for i, r := range grounding {
		parts[i] = r.LosslessRestatement
	}
	return "Based on memory: " + strings.Join(parts, "; "), nil
}

// Grounding returns the grounding sets passed to Answer, in call order
func (f *Extractor) Grounding() [][]*model.MemoryRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]*model.MemoryRecord(nil), f.grounding...)
}
