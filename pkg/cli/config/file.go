package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"
)

// FileConfig is the optional TOML configuration file. Flags and environment
// variables take precedence over its values.
type FileConfig struct {
	Store *StoreFile `toml:"store"`
	LLM   *LLMFile   `toml:"llm"`
}

// StoreFile is the [store] table
type StoreFile struct {
	Backend             string `toml:"backend"`
	Path                string `toml:"path"`
	TableName           string `toml:"table_name"`
	FirestoreProjectID  string `toml:"firestore_project_id"`
	FirestoreDatabaseID string `toml:"firestore_database_id"`
	EngineTimeout       string `toml:"engine_timeout"`
	FinalizeConcurrency int    `toml:"finalize_concurrency"`
}

// LLMFile is the [llm] table
type LLMFile struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	APIKey         string `toml:"api_key" masq:"secret"`
	GeminiProject  string `toml:"gemini_project"`
	GeminiLocation string `toml:"gemini_location"`
}

// Validate checks values that cannot be checked by the flag parser
func (f *FileConfig) Validate() error {
	if f.Store != nil && f.Store.FinalizeConcurrency < 0 {
		return goerr.Wrap(ErrInvalidConfig, "finalize_concurrency must not be negative",
			goerr.V(ValueKey, f.Store.FinalizeConcurrency))
	}
	return nil
}

// LoadFile loads the configuration file at path
func LoadFile(path string) (*FileConfig, error) {
	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrConfigNotFound, "config file does not exist", goerr.V(ConfigPathKey, path))
		}
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V(ConfigPathKey, path))
	}

	var cfg FileConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, goerr.Wrap(ErrInvalidConfig, "failed to parse TOML config",
			goerr.V(ConfigPathKey, path), goerr.V("error", err.Error()))
	}

	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "config validation failed", goerr.V(ConfigPathKey, path))
	}

	return &cfg, nil
}

// File holds the --config flag
type File struct {
	path string
}

// Flags returns the config file flag
func (f *File) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to a TOML config file with [store] and [llm] tables",
			Sources:     cli.EnvVars("SIMPLEMEM_CONFIG"),
			Destination: &f.path,
		},
	}
}

// Apply loads the config file, if one is given, into store and llm. Values
// already set by a flag or environment variable are kept.
func (f *File) Apply(c isSetter, store *Store, llm *LLM) error {
	if f.path == "" {
		return nil
	}

	cfg, err := LoadFile(f.path)
	if err != nil {
		return err
	}
	if store != nil {
		store.applyFile(c, cfg.Store)
	}
	if llm != nil {
		llm.applyFile(c, cfg.LLM)
	}
	return nil
}

// isSetter is satisfied by *cli.Command
type isSetter interface {
	IsSet(name string) bool
}

func setString(c isSetter, flag string, dst *string, value string) {
	if value == "" || c.IsSet(flag) {
		return
	}
	*dst = value
}
