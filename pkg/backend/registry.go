package backend

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/simplemem/pkg/domain/interfaces"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
	"github.com/secmon-lab/simplemem/pkg/domain/types"
	"github.com/secmon-lab/simplemem/pkg/repository/firestore"
	"github.com/secmon-lab/simplemem/pkg/repository/local"
	"github.com/secmon-lab/simplemem/pkg/repository/memory"
)

// Config is everything a factory needs to build a backend. It is read once
// when the Selector constructs its backend.
type Config struct {
	Type      types.BackendType
	Path      string
	TableName string

	FirestoreProjectID  string
	FirestoreDatabaseID string

	Extractor   interfaces.Extractor
	Timeout     time.Duration
	Concurrency int
}

func (c Config) storeOptions() []Option {
	return []Option{
		WithTimeout(c.Timeout),
		WithConcurrency(c.Concurrency),
	}
}

// Factory constructs a backend without doing I/O; I/O happens in Initialize
type Factory func(cfg Config) (interfaces.Backend, error)

// Registry maps backend tags to factories
type Registry struct {
	factories map[types.BackendType]Factory
}

// NewRegistry returns a registry holding the built-in backends
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[types.BackendType]Factory)}

	r.Register(types.BackendLocal, func(cfg Config) (interfaces.Backend, error) {
		return New(types.BackendLocal, local.New(cfg.Path, cfg.TableName), cfg.Extractor, cfg.storeOptions()...), nil
	})
	r.Register(types.BackendMemory, func(cfg Config) (interfaces.Backend, error) {
		return New(types.BackendMemory, memory.New(cfg.TableName), cfg.Extractor, cfg.storeOptions()...), nil
	})
	r.Register(types.BackendFirestore, func(cfg Config) (interfaces.Backend, error) {
		table := firestore.New(cfg.FirestoreProjectID, cfg.FirestoreDatabaseID, cfg.TableName)
		return New(types.BackendFirestore, table, cfg.Extractor, cfg.storeOptions()...), nil
	})
	r.Register(types.BackendNeo4j, func(cfg Config) (interfaces.Backend, error) {
		return nil, goerr.Wrap(model.ErrNotImplemented, "neo4j backend is not available; use firestore for the graph backend",
			goerr.V(model.BackendTypeKey, cfg.Type))
	})

	return r
}

// Register adds or replaces the factory of a tag
func (r *Registry) Register(t types.BackendType, f Factory) {
	r.factories[t] = f
}

// Build constructs the backend for cfg.Type
func (r *Registry) Build(cfg Config) (interfaces.Backend, error) {
	f, ok := r.factories[cfg.Type]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotImplemented, "no backend registered for type", goerr.V(model.BackendTypeKey, cfg.Type))
	}
	return f(cfg)
}
