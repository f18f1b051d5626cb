package backend_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/simplemem/pkg/backend"
	"github.com/secmon-lab/simplemem/pkg/domain/interfaces"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
	"github.com/secmon-lab/simplemem/pkg/domain/types"
	"github.com/secmon-lab/simplemem/pkg/utils/testutil"
)

func TestSelector(t *testing.T) {
	t.Run("returns the same instance to every caller", func(t *testing.T) {
		sel := backend.NewSelector(backend.Config{
			Type:      types.BackendMemory,
			TableName: "memories",
			Extractor: &testutil.Extractor{},
		})
		t.Cleanup(func() { gt.NoError(t, sel.Close()) })
		gt.Bool(t, sel.Initialized()).False()

		ctx := context.Background()
		first, err := sel.Backend(ctx)
		gt.NoError(t, err).Required()
		second, err := sel.Backend(ctx)
		gt.NoError(t, err).Required()

		gt.Value(t, first).Equal(second)
		gt.Bool(t, first.IsInitialized()).True()
		gt.Bool(t, sel.Initialized()).True()
	})

	t.Run("local backend works end to end", func(t *testing.T) {
		sel := backend.NewSelector(backend.Config{
			Type:      types.BackendLocal,
			Path:      t.TempDir(),
			TableName: "memories",
			Extractor: &testutil.Extractor{},
		})
		t.Cleanup(func() { gt.NoError(t, sel.Close()) })

		b, err := sel.Backend(context.Background())
		gt.NoError(t, err).Required()
		stats, err := b.Stats(context.Background())
		gt.NoError(t, err).Required()
		gt.Value(t, stats.BackendType).Equal(types.BackendLocal)
		gt.Value(t, stats.Count).Equal(0)
	})

	t.Run("unimplemented backend is surfaced, not replaced", func(t *testing.T) {
		sel := backend.NewSelector(backend.Config{
			Type:      types.BackendNeo4j,
			TableName: "memories",
			Extractor: &testutil.Extractor{},
		})

		for i := 0; i < 2; i++ {
			_, err := sel.Backend(context.Background())
			gt.Bool(t, errors.Is(err, model.ErrNotImplemented)).True()
		}
		gt.Bool(t, sel.Initialized()).False()
		gt.NoError(t, sel.Close())
	})

	t.Run("unknown type is not implemented", func(t *testing.T) {
		sel := backend.NewSelector(backend.Config{Type: "cassandra"})
		_, err := sel.Backend(context.Background())
		gt.Bool(t, errors.Is(err, model.ErrNotImplemented)).True()
	})

	t.Run("missing engine makes backend unavailable", func(t *testing.T) {
		sel := backend.NewSelector(backend.Config{Type: types.BackendMemory, TableName: "memories"})
		_, err := sel.Backend(context.Background())
		gt.Bool(t, errors.Is(err, model.ErrBackendUnavailable)).True()
		gt.Bool(t, sel.Initialized()).False()
	})

	t.Run("firestore backend without project is unavailable", func(t *testing.T) {
		sel := backend.NewSelector(backend.Config{
			Type:      types.BackendFirestore,
			TableName: "memories",
			Extractor: &testutil.Extractor{},
		})
		_, err := sel.Backend(context.Background())
		gt.Bool(t, errors.Is(err, model.ErrBackendUnavailable)).True()
	})

	t.Run("custom registry", func(t *testing.T) {
		registry := backend.NewRegistry()
		var built int
		registry.Register(types.BackendMemory, func(cfg backend.Config) (interfaces.Backend, error) {
			built++
			return newMemoryBackend(t, cfg.Extractor), nil
		})

		sel := backend.NewSelector(backend.Config{
			Type:      types.BackendMemory,
			Extractor: &testutil.Extractor{},
		}, backend.WithRegistry(registry))

		for i := 0; i < 3; i++ {
			_, err := sel.Backend(context.Background())
			gt.NoError(t, err).Required()
		}
		gt.Value(t, built).Equal(1)
	})
}
