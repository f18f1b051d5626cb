package usecase

import (
	"context"
	"encoding/json"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/simplemem/pkg/backend"
	"github.com/secmon-lab/simplemem/pkg/domain/interfaces"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
	"github.com/secmon-lab/simplemem/pkg/utils/logging"
)

// MemoryUseCase drives the dialogue lifecycle: ingest into the pending
// buffer, finalize into records, then answer questions over them.
type MemoryUseCase struct {
	selector *backend.Selector
}

func NewMemoryUseCase(selector *backend.Selector) *MemoryUseCase {
	return &MemoryUseCase{
		selector: selector,
	}
}

// Initialized reports whether the backend is ready without initializing it
func (uc *MemoryUseCase) Initialized() bool {
	return uc.selector.Initialized()
}

func (uc *MemoryUseCase) backend(ctx context.Context) (interfaces.Backend, error) {
	b, err := uc.selector.Backend(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "backend is not available")
	}
	return b, nil
}

func (uc *MemoryUseCase) Add(ctx context.Context, dialogue *model.Dialogue) error {
	if dialogue == nil {
		return goerr.Wrap(model.ErrInvalidInput, "dialogue is required")
	}

	b, err := uc.backend(ctx)
	if err != nil {
		return err
	}
	if err := b.Add(ctx, dialogue); err != nil {
		return goerr.Wrap(err, "failed to add dialogue", goerr.V(model.SpeakerKey, dialogue.Speaker))
	}
	return nil
}

// AddMany buffers all dialogues or none of them
func (uc *MemoryUseCase) AddMany(ctx context.Context, dialogues []*model.Dialogue) (int, error) {
	if len(dialogues) == 0 {
		return 0, goerr.Wrap(model.ErrInvalidInput, "at least one dialogue is required")
	}
	for i, d := range dialogues {
		if d == nil {
			return 0, goerr.Wrap(model.ErrInvalidInput, "dialogue is null", goerr.V("index", i))
		}
	}

	b, err := uc.backend(ctx)
	if err != nil {
		return 0, err
	}
	n, err := b.AddMany(ctx, dialogues)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to add dialogues", goerr.V("count", len(dialogues)))
	}
	return n, nil
}

func (uc *MemoryUseCase) Finalize(ctx context.Context) (*model.FinalizeResult, error) {
	b, err := uc.backend(ctx)
	if err != nil {
		return nil, err
	}

	result, err := b.Finalize(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to finalize dialogues")
	}

	logging.From(ctx).Info("Dialogues finalized",
		"processed", result.Processed,
		"created", result.Created,
		"failed", result.Failed,
	)
	return result, nil
}

func (uc *MemoryUseCase) Ask(ctx context.Context, query model.Query) (*model.Answer, error) {
	b, err := uc.backend(ctx)
	if err != nil {
		return nil, err
	}

	answer, err := b.Query(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to answer question")
	}
	return answer, nil
}

// Retrieve lists records in insertion order. A non-positive limit falls back
// to model.DefaultListLimit.
func (uc *MemoryUseCase) Retrieve(ctx context.Context, limit int) ([]*model.MemoryRecord, error) {
	if limit <= 0 {
		limit = model.DefaultListLimit
	}

	b, err := uc.backend(ctx)
	if err != nil {
		return nil, err
	}

	records, err := b.List(ctx, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to retrieve records")
	}
	return records, nil
}

// Search returns the records most similar to question, most similar first
func (uc *MemoryUseCase) Search(ctx context.Context, question string, limit int, threshold *float64) ([]*model.MemoryRecord, error) {
	b, err := uc.backend(ctx)
	if err != nil {
		return nil, err
	}

	records, err := b.Search(ctx, question, limit, threshold)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search records")
	}
	return records, nil
}

func (uc *MemoryUseCase) Stats(ctx context.Context) (*model.Stats, error) {
	b, err := uc.backend(ctx)
	if err != nil {
		return nil, err
	}

	stats, err := b.Stats(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get stats")
	}
	return stats, nil
}

// Clear deletes every record. It refuses before touching the backend when
// confirmed is false.
func (uc *MemoryUseCase) Clear(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return goerr.Wrap(model.ErrClearNotConfirmed, "confirmation is required to clear memories")
	}

	b, err := uc.backend(ctx)
	if err != nil {
		return err
	}
	return b.Clear(ctx, true)
}

func (uc *MemoryUseCase) Delete(ctx context.Context, id model.EntryID) error {
	if id == "" {
		return goerr.Wrap(model.ErrInvalidInput, "entry id is required")
	}

	b, err := uc.backend(ctx)
	if err != nil {
		return err
	}
	if err := b.Delete(ctx, id); err != nil {
		return goerr.Wrap(err, "failed to delete record", goerr.V(model.EntryIDKey, id))
	}
	return nil
}

// Export writes every record to w as JSON lines in insertion order
func (uc *MemoryUseCase) Export(ctx context.Context, w io.Writer) (int, error) {
	b, err := uc.backend(ctx)
	if err != nil {
		return 0, err
	}

	records, err := b.List(ctx, 0)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list records for export")
	}

	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return 0, goerr.Wrap(err, "failed to write record", goerr.V(model.EntryIDKey, rec.EntryID))
		}
	}
	return len(records), nil
}
