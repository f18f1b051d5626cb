package backend

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/simplemem/pkg/domain/interfaces"
	"github.com/secmon-lab/simplemem/pkg/utils/logging"
)

// Selector hands out the single backend of the process. It is built once at
// startup and passed to whoever needs storage; the backend is constructed on
// first use and never swapped.
type Selector struct {
	cfg      Config
	registry *Registry

	mu      sync.Mutex
	built   bool
	backend interfaces.Backend
	err     error
}

// SelectorOption is a functional option for Selector
type SelectorOption func(*Selector)

// WithRegistry replaces the built-in registry
func WithRegistry(r *Registry) SelectorOption {
	return func(s *Selector) {
		s.registry = r
	}
}

// NewSelector creates a selector for cfg. No backend is built yet.
func NewSelector(cfg Config, opts ...SelectorOption) *Selector {
	s := &Selector{
		cfg:      cfg,
		registry: NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the configuration the selector was built with
func (s *Selector) Config() Config {
	return s.cfg
}

func (s *Selector) build(ctx context.Context) (interfaces.Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.built {
		s.built = true
		s.backend, s.err = s.registry.Build(s.cfg)
		if s.err == nil {
			logging.From(ctx).Info("Backend selected", "backend", s.cfg.Type, "table", s.cfg.TableName)
		}
	}
	return s.backend, s.err
}

// Backend returns the process backend, constructing it on the first call and
// initializing it until initialization succeeds. A construction error, such
// as an unimplemented backend, is returned to every caller.
func (s *Selector) Backend(ctx context.Context) (interfaces.Backend, error) {
	b, err := s.build(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to select backend")
	}

	if !b.IsInitialized() {
		if err := b.Initialize(ctx); err != nil {
			return nil, goerr.Wrap(err, "failed to initialize backend")
		}
	}
	return b, nil
}

// Initialized reports whether the backend exists and is initialized. It never
// constructs or initializes anything.
func (s *Selector) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend != nil && s.backend.IsInitialized()
}

// Close closes the backend if it was constructed
func (s *Selector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
