package usecase_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/simplemem/pkg/backend"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
	"github.com/secmon-lab/simplemem/pkg/domain/types"
	"github.com/secmon-lab/simplemem/pkg/usecase"
	"github.com/secmon-lab/simplemem/pkg/utils/testutil"
)

func newUseCases(t *testing.T, cfg backend.Config) *usecase.UseCases {
	t.Helper()
	uc := usecase.New(backend.NewSelector(cfg))
	t.Cleanup(func() {
		_ = uc.Close()
	})
	return uc
}

func memoryConfig(ext *testutil.Extractor) backend.Config {
	return backend.Config{
		Type:      types.BackendMemory,
		TableName: "memories",
		Extractor: ext,
	}
}

func TestMemoryUseCase_Lifecycle(t *testing.T) {
	ctx := context.Background()
	ext := &testutil.Extractor{}
	uc := newUseCases(t, memoryConfig(ext))

	gt.Bool(t, uc.Memory.Initialized()).False()

	gt.NoError(t, uc.Memory.Add(ctx, &model.Dialogue{
		Speaker:   "Alice",
		Content:   "Bob, let's meet at Starbucks tomorrow at 2pm",
		Timestamp: "2025-01-15T14:30:00Z",
	})).Required()
	gt.Bool(t, uc.Memory.Initialized()).True()

	n, err := uc.Memory.AddMany(ctx, []*model.Dialogue{
		{Speaker: "Bob", Content: "Sure, I will bring the project documents"},
		{Speaker: "Alice", Content: "Great, see you at Starbucks"},
	})
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(2)

	stats, err := uc.Memory.Stats(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.Count).Equal(0)
	gt.Value(t, stats.Pending).Equal(3)
	gt.Value(t, stats.State).Equal(types.SessionStateBuffering)
	gt.Value(t, stats.BackendType).Equal(types.BackendMemory)

	result, err := uc.Memory.Finalize(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, result.Processed).Equal(3)
	gt.Value(t, result.Created).Equal(3)
	gt.Array(t, result.EntryIDs).Length(3)

	records, err := uc.Memory.Retrieve(ctx, 0)
	gt.NoError(t, err).Required()
	gt.Array(t, records).Length(3).Required()
	gt.Value(t, records[0].LosslessRestatement).Equal("Alice said: Bob, let's meet at Starbucks tomorrow at 2pm")
	gt.Value(t, records[0].EntryID).Equal(result.EntryIDs[0])

	records, err = uc.Memory.Retrieve(ctx, 1)
	gt.NoError(t, err).Required()
	gt.Array(t, records).Length(1)

	answer, err := uc.Memory.Ask(ctx, model.Query{Question: "Where will Alice meet Bob? Starbucks"})
	gt.NoError(t, err).Required()
	gt.String(t, answer.Answer).Contains("Starbucks")
	gt.Number(t, len(answer.Evidence)).GreaterOrEqual(1)
	gt.Value(t, ext.AnswerCalls.Load()).Equal(int32(1))

	hits, err := uc.Memory.Search(ctx, "project documents", 1, nil)
	gt.NoError(t, err).Required()
	gt.Array(t, hits).Length(1).Required()
	gt.String(t, hits[0].LosslessRestatement).Contains("project documents")

	gt.NoError(t, uc.Memory.Delete(ctx, hits[0].EntryID)).Required()
	err = uc.Memory.Delete(ctx, hits[0].EntryID)
	gt.Bool(t, errors.Is(err, model.ErrNotFound)).True()

	stats, err = uc.Memory.Stats(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.Count).Equal(2)
	gt.Value(t, stats.Pending).Equal(0)
	gt.Value(t, stats.State).Equal(types.SessionStateIdle)
}

func TestMemoryUseCase_InvalidInput(t *testing.T) {
	ctx := context.Background()
	uc := newUseCases(t, memoryConfig(&testutil.Extractor{}))

	err := uc.Memory.Add(ctx, nil)
	gt.Bool(t, errors.Is(err, model.ErrInvalidInput)).True()

	err = uc.Memory.Add(ctx, &model.Dialogue{Speaker: "Alice", Content: "   "})
	gt.Bool(t, errors.Is(err, model.ErrInvalidInput)).True()

	_, err = uc.Memory.AddMany(ctx, nil)
	gt.Bool(t, errors.Is(err, model.ErrInvalidInput)).True()

	_, err = uc.Memory.AddMany(ctx, []*model.Dialogue{
		{Speaker: "Alice", Content: "valid"},
		{Speaker: "Bob", Content: "bad timestamp", Timestamp: "yesterday"},
	})
	gt.Bool(t, errors.Is(err, model.ErrInvalidInput)).True()

	stats, err := uc.Memory.Stats(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.Pending).Equal(0)

	err = uc.Memory.Delete(ctx, "")
	gt.Bool(t, errors.Is(err, model.ErrInvalidInput)).True()
}

func TestMemoryUseCase_Clear(t *testing.T) {
	ctx := context.Background()
	uc := newUseCases(t, memoryConfig(&testutil.Extractor{}))

	gt.NoError(t, uc.Memory.Add(ctx, &model.Dialogue{Speaker: "Alice", Content: "The budget is 5000 dollars"})).Required()
	_, err := uc.Memory.Finalize(ctx)
	gt.NoError(t, err).Required()

	err = uc.Memory.Clear(ctx, false)
	gt.Bool(t, errors.Is(err, model.ErrClearNotConfirmed)).True()

	stats, err := uc.Memory.Stats(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.Count).Equal(1)

	gt.NoError(t, uc.Memory.Clear(ctx, true)).Required()

	stats, err = uc.Memory.Stats(ctx)
	gt.NoError(t, err).Required()
	gt.Value(t, stats.Count).Equal(0)
}

func TestMemoryUseCase_NoMatch(t *testing.T) {
	ctx := context.Background()
	ext := &testutil.Extractor{}
	uc := newUseCases(t, memoryConfig(ext))

	answer, err := uc.Memory.Ask(ctx, model.Query{Question: "What is the deadline?"})
	gt.NoError(t, err).Required()
	gt.Value(t, answer.Answer).Equal(model.NoMemoryAnswer)
	gt.Array(t, answer.Evidence).Length(0)
	gt.Value(t, ext.AnswerCalls.Load()).Equal(int32(0))
}

func TestMemoryUseCase_Export(t *testing.T) {
	ctx := context.Background()
	uc := newUseCases(t, memoryConfig(&testutil.Extractor{}))

	_, err := uc.Memory.AddMany(ctx, []*model.Dialogue{
		{Speaker: "Alice", Content: "first"},
		{Speaker: "Bob", Content: "second"},
	})
	gt.NoError(t, err).Required()
	_, err = uc.Memory.Finalize(ctx)
	gt.NoError(t, err).Required()

	var buf bytes.Buffer
	n, err := uc.Memory.Export(ctx, &buf)
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(2)

	var restatements []string
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var rec model.MemoryRecord
		gt.NoError(t, json.Unmarshal(scanner.Bytes(), &rec)).Required()
		gt.Value(t, rec.EntryID).NotEqual(model.EntryID(""))
		gt.Array(t, rec.Vector).Length(0)
		restatements = append(restatements, rec.LosslessRestatement)
	}
	gt.Array(t, restatements).Equal([]string{"Alice said: first", "Bob said: second"})
}

func TestMemoryUseCase_BackendUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("missing extraction engine", func(t *testing.T) {
		uc := newUseCases(t, backend.Config{Type: types.BackendMemory, TableName: "memories"})

		err := uc.Memory.Add(ctx, &model.Dialogue{Content: "hello"})
		gt.Bool(t, errors.Is(err, model.ErrBackendUnavailable)).True()
		gt.Bool(t, uc.Memory.Initialized()).False()
	})

	t.Run("unimplemented backend", func(t *testing.T) {
		uc := newUseCases(t, backend.Config{
			Type:      types.BackendNeo4j,
			TableName: "memories",
			Extractor: &testutil.Extractor{},
		})

		_, err := uc.Memory.Stats(ctx)
		gt.Bool(t, errors.Is(err, model.ErrNotImplemented)).True()
	})
}
