package backend

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
	"github.com/secmon-lab/simplemem/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

// extraction is the outcome of one dialogue
type extraction struct {
	records []*model.MemoryRecord
	err     error
}

// Finalize drains the pending buffer and persists what the extraction engine
// returns. Dialogues are extracted in parallel chunks and committed in buffer
// order.
//
// A dialogue the engine cannot process is dropped and reported in the result.
// When the caller cancels or the table fails, every dialogue not yet committed
// goes back to the pending buffer and the error is returned together with the
// partial result. Records already extracted for those dialogues are kept, and
// the next finalize writes them under the same entry IDs instead of
// extracting again.
func (s *Store) Finalize(ctx context.Context) (*model.FinalizeResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	s.tableMu.Lock()
	defer s.tableMu.Unlock()

	result := &model.FinalizeResult{EntryIDs: []model.EntryID{}}
	batch := s.buf.drain()
	if len(batch) == 0 {
		return result, nil
	}

	logger := logging.From(ctx)
	logger.Info("Finalizing dialogues", "backend", s.kind, "count", len(batch))

	committed := 0
	defer func() {
		s.buf.finish(batch[committed:])
	}()

	for offset := 0; offset < len(batch); offset += s.concurrency {
		end := min(offset+s.concurrency, len(batch))
		chunk := batch[offset:end]

		outcomes := s.extractChunk(ctx, chunk)
		if ctx.Err() != nil {
			s.stage(chunk, outcomes)
			return result, goerr.Wrap(ctx.Err(), "finalize interrupted",
				goerr.V("committed", committed), goerr.V("requeued", len(batch)-committed))
		}

		for i, out := range outcomes {
			index := offset + i
			if out.err != nil {
				result.Failed++
				result.Failures = append(result.Failures, model.UnitFailure{
					Index:   index,
					Speaker: chunk[i].Speaker,
					Reason:  out.err.Error(),
				})
				logger.Warn("Dropped dialogue after extraction failure",
					"index", index,
					"speaker", chunk[i].Speaker,
					"error", out.err,
				)
				committed = index + 1
				result.Processed++
				continue
			}

			s.stampCommit(out.records)
			if err := s.table.Upsert(ctx, out.records); err != nil {
				s.stage(chunk[i:], outcomes[i:])
				return result, goerr.Wrap(err, "failed to persist records",
					goerr.V("index", index), goerr.V("committed", committed))
			}
			delete(s.staged, chunk[i])
			for _, rec := range out.records {
				result.EntryIDs = append(result.EntryIDs, rec.EntryID)
			}
			result.Created += len(out.records)
			committed = index + 1
			result.Processed++
		}
	}

	logger.Info("Finalize completed",
		"backend", s.kind,
		"processed", result.Processed,
		"created", result.Created,
		"failed", result.Failed,
	)
	return result, nil
}

// stage keeps the successful extractions of dialogues going back to the buffer
func (s *Store) stage(dialogues []*model.Dialogue, outcomes []extraction) {
	for i, out := range outcomes {
		if out.err == nil && out.records != nil {
			s.staged[dialogues[i]] = out.records
		}
	}
}

// stampCommit sets CreatedAt in commit order. Stamps strictly increase at
// microsecond resolution, the finest Firestore keeps, so listing by CreatedAt
// follows the order records were committed.
func (s *Store) stampCommit(records []*model.MemoryRecord) {
	for _, rec := range records {
		ts := s.now().UTC().Truncate(time.Microsecond)
		if !ts.After(s.lastCommit) {
			ts = s.lastCommit.Add(time.Microsecond)
		}
		s.lastCommit = ts
		rec.CreatedAt = ts
	}
}

// extractChunk runs the engine on every dialogue of the chunk in parallel.
// Per-dialogue failures are kept in the outcome; the group never aborts early.
// Staged dialogues reuse their records.
func (s *Store) extractChunk(ctx context.Context, chunk []*model.Dialogue) []extraction {
	outcomes := make([]extraction, len(chunk))

	var eg errgroup.Group
	eg.SetLimit(s.concurrency)
	for i, d := range chunk {
		if records, ok := s.staged[d]; ok {
			outcomes[i] = extraction{records: records}
			continue
		}
		eg.Go(func() error {
			outcomes[i] = s.extractOne(ctx, d)
			return nil
		})
	}
	_ = eg.Wait()

	return outcomes
}

func (s *Store) extractOne(ctx context.Context, d *model.Dialogue) extraction {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	drafts, err := s.extractor.Extract(callCtx, d)
	if err != nil {
		return extraction{err: s.engineError(ctx, err, model.ErrExtractionFailed, "failed to extract dialogue")}
	}

	now := s.now()
	records := make([]*model.MemoryRecord, 0, len(drafts))
	for _, draft := range drafts {
		if draft == nil || draft.LosslessRestatement == "" {
			continue
		}
		if len(draft.Vector) == 0 {
			vector, err := s.extractor.Embed(callCtx, draft.LosslessRestatement)
			if err != nil {
				return extraction{err: s.engineError(ctx, err, model.ErrExtractionFailed, "failed to embed restatement")}
			}
			draft.Vector = vector
		}
		records = append(records, draft.ToRecord(d, now))
	}
	return extraction{records: records}
}
