package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/m-mizutani/gollem/llm/openai"
	"github.com/secmon-lab/simplemem/pkg/domain/interfaces"
	"github.com/secmon-lab/simplemem/pkg/service/extractor"
	"github.com/urfave/cli/v3"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// LLM holds configuration for the extraction, embedding and answer engine
type LLM struct {
	provider       string
	model          string
	apiKey         string
	geminiProject  string
	geminiLocation string
}

// Flags returns CLI flags for LLM configuration
func (l *LLM) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm-provider",
			Usage:       "LLM provider (gemini, openai)",
			Value:       ProviderGemini,
			Category:    "LLM",
			Sources:     cli.EnvVars("SIMPLEMEM_LLM_PROVIDER"),
			Destination: &l.provider,
		},
		&cli.StringFlag{
			Name:        "llm-model",
			Usage:       "Model name; the provider default is used when empty",
			Category:    "LLM",
			Sources:     cli.EnvVars("SIMPLEMEM_LLM_MODEL"),
			Destination: &l.model,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key (required for the openai provider)",
			Category:    "LLM",
			Sources:     cli.EnvVars("SIMPLEMEM_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &l.apiKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini API",
			Category:    "LLM",
			Sources:     cli.EnvVars("SIMPLEMEM_GEMINI_PROJECT"),
			Destination: &l.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini API",
			Value:       "us-central1",
			Category:    "LLM",
			Sources:     cli.EnvVars("SIMPLEMEM_GEMINI_LOCATION"),
			Destination: &l.geminiLocation,
		},
	}
}

// LogValue implements slog.LogValuer. The API key is never logged.
func (l LLM) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", l.provider),
		slog.String("model", l.model),
		slog.Bool("api_key_set", l.apiKey != ""),
		slog.String("gemini_project", l.geminiProject),
		slog.String("gemini_location", l.geminiLocation),
	)
}

// Configured reports whether enough credentials are present to build a client
func (l *LLM) Configured() bool {
	switch l.provider {
	case ProviderOpenAI:
		return l.apiKey != ""
	default:
		return l.geminiProject != ""
	}
}

// NewClient creates the gollem client for the configured provider.
// Returns nil if credentials are not configured.
func (l *LLM) NewClient(ctx context.Context) (gollem.LLMClient, error) {
	switch l.provider {
	case ProviderGemini, "":
		if l.geminiProject == "" {
			return nil, nil
		}
		var opts []gemini.Option
		if l.model != "" {
			opts = append(opts, gemini.WithModel(l.model))
		}
		client, err := gemini.New(ctx, l.geminiProject, l.geminiLocation, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create Gemini client")
		}
		return client, nil

	case ProviderOpenAI:
		if l.apiKey == "" {
			return nil, nil
		}
		var opts []openai.Option
		if l.model != "" {
			opts = append(opts, openai.WithModel(l.model))
		}
		client, err := openai.New(ctx, l.apiKey, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create OpenAI client")
		}
		return client, nil

	default:
		return nil, goerr.Wrap(ErrInvalidConfig, "unknown LLM provider",
			goerr.V(FlagKey, "llm-provider"), goerr.V(ValueKey, l.provider))
	}
}

// Configure creates the extraction engine. Returns nil if credentials are
// not configured; the backend then reports itself unavailable on first use.
func (l *LLM) Configure(ctx context.Context) (interfaces.Extractor, error) {
	client, err := l.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, nil
	}

	ext, err := extractor.New(client)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create extractor")
	}
	return ext, nil
}

// applyFile fills values not set on the command line from the config file
func (l *LLM) applyFile(c isSetter, f *LLMFile) {
	if f == nil {
		return
	}
	setString(c, "llm-provider", &l.provider, f.Provider)
	setString(c, "llm-model", &l.model, f.Model)
	setString(c, "openai-api-key", &l.apiKey, f.APIKey)
	setString(c, "gemini-project", &l.geminiProject, f.GeminiProject)
	setString(c, "gemini-location", &l.geminiLocation, f.GeminiLocation)
}
