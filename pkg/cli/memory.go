package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/simplemem/pkg/backend"
	"github.com/secmon-lab/simplemem/pkg/cli/config"
	"github.com/secmon-lab/simplemem/pkg/usecase"
	"github.com/secmon-lab/simplemem/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// memoryConfig groups the flags every command touching the store needs
type memoryConfig struct {
	file  config.File
	store config.Store
	llm   config.LLM
}

func (m *memoryConfig) Flags() []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, m.file.Flags()...)
	flags = append(flags, m.store.Flags()...)
	flags = append(flags, m.llm.Flags()...)
	return flags
}

// build creates the use cases over a selector for the configured backend.
// The backend itself is constructed on first use.
func (m *memoryConfig) build(ctx context.Context, c *cli.Command) (*usecase.UseCases, error) {
	if err := m.file.Apply(c, &m.store, &m.llm); err != nil {
		return nil, goerr.Wrap(err, "failed to apply config file")
	}

	ext, err := m.llm.Configure(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure LLM")
	}
	if ext == nil {
		logging.Default().Warn("LLM is not configured; memory operations will report the backend unavailable", "llm", m.llm)
	}

	cfg, err := m.store.Configure(ext)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure store")
	}

	logging.Default().Info("Memory store configured", "store", m.store, "llm", m.llm)
	return usecase.New(backend.NewSelector(cfg)), nil
}
