package usecase

import (
	"github.com/secmon-lab/simplemem/pkg/backend"
)

type UseCases struct {
	selector *backend.Selector
	Memory   *MemoryUseCase
}

type Option func(*UseCases)

func New(selector *backend.Selector, opts ...Option) *UseCases {
	uc := &UseCases{
		selector: selector,
	}

	for _, opt := range opts {
		opt(uc)
	}

	uc.Memory = NewMemoryUseCase(selector)

	return uc
}

// Close releases the backend if one was constructed
func (uc *UseCases) Close() error {
	return uc.selector.Close()
}
