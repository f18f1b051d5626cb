package interfaces

import (
	"context"

	"github.com/secmon-lab/simplemem/pkg/domain/model"
)

// Extractor turns dialogue into record drafts and answers questions from
// grounding records. It wraps the external LLM.
type Extractor interface {
	// Extract may return zero drafts when the dialogue holds nothing worth
	// remembering. Every returned draft carries a vector.
	Extract(ctx context.Context, dialogue *model.Dialogue) ([]*model.RecordDraft, error)

	// Embed returns the vector of a single text, such as a question
	Embed(ctx context.Context, text string) ([]float32, error)

	// Answer synthesizes a natural-language answer grounded in records
	Answer(ctx context.Context, question string, grounding []*model.MemoryRecord) (string, error)
}
