package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/simplemem/pkg/cli/config"
	"github.com/secmon-lab/simplemem/pkg/domain/types"
	"github.com/secmon-lab/simplemem/pkg/utils/logging"
)

// fakeCommand reports flags in set as explicitly given
type fakeCommand struct {
	set map[string]bool
}

func (c *fakeCommand) IsSet(name string) bool {
	return c.set[name]
}

var _ config.IsSetter = &fakeCommand{}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simplemem.toml")
	gt.NoError(t, os.WriteFile(path, []byte(content), 0600)).Required()
	return path
}

func TestStore_Configure(t *testing.T) {
	t.Run("resolves aliases", func(t *testing.T) {
		cfg, err := config.NewStoreForTest("lancedb", "./data", "memories", "").Configure(nil)
		gt.NoError(t, err).Required()
		gt.Value(t, cfg.Type).Equal(types.BackendLocal)
		gt.Value(t, cfg.Path).Equal("./data")
		gt.Value(t, cfg.TableName).Equal("memories")
		gt.Value(t, cfg.Timeout).Equal(time.Second)
		gt.Value(t, cfg.Concurrency).Equal(2)

		cfg, err = config.NewStoreForTest("graph", "", "memories", "my-project").Configure(nil)
		gt.NoError(t, err).Required()
		gt.Value(t, cfg.Type).Equal(types.BackendFirestore)
		gt.Value(t, cfg.FirestoreProjectID).Equal("my-project")
	})

	t.Run("neo4j is accepted as configuration", func(t *testing.T) {
		cfg, err := config.NewStoreForTest("neo4j", "", "memories", "").Configure(nil)
		gt.NoError(t, err).Required()
		gt.Value(t, cfg.Type).Equal(types.BackendNeo4j)
	})

	tests := []struct {
		name      string
		backend   string
		tableName string
		projectID string
	}{
		{name: "unknown backend", backend: "redis", tableName: "memories"},
		{name: "table name with dash", backend: "local", tableName: "my-memories"},
		{name: "table name starting with digit", backend: "local", tableName: "1memories"},
		{name: "empty table name", backend: "local", tableName: ""},
		{name: "firestore without project", backend: "firestore", tableName: "memories"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.NewStoreForTest(tt.backend, "", tt.tableName, tt.projectID).Configure(nil)
			gt.Value(t, err).NotNil()
			gt.Bool(t, errors.Is(err, config.ErrInvalidConfig)).True()
		})
	}
}

func TestLLM_Configure(t *testing.T) {
	t.Run("returns nil extractor when gemini project is empty", func(t *testing.T) {
		ext, err := config.NewLLMForTest("gemini", "", "").Configure(t.Context())
		gt.NoError(t, err)
		gt.Value(t, ext).Nil()
	})

	t.Run("returns nil extractor when openai key is empty", func(t *testing.T) {
		cfg := config.NewLLMForTest("openai", "", "my-project")
		gt.Bool(t, cfg.Configured()).False()

		ext, err := cfg.Configure(t.Context())
		gt.NoError(t, err)
		gt.Value(t, ext).Nil()
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		_, err := config.NewLLMForTest("anthropic", "key", "").Configure(t.Context())
		gt.Bool(t, errors.Is(err, config.ErrInvalidConfig)).True()
	})

	t.Run("returns flags", func(t *testing.T) {
		var cfg config.LLM
		gt.Value(t, len(cfg.Flags())).Equal(5)
	})
}

func TestLogger_Configure(t *testing.T) {
	orig := logging.Default()
	t.Cleanup(func() {
		logging.SetDefault(orig)
	})

	t.Run("writes to a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "simplemem.log")
		closer, err := config.NewLoggerForTest("debug", "json", path).Configure()
		gt.NoError(t, err).Required()
		closer()

		_, err = os.Stat(path)
		gt.NoError(t, err)
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := config.NewLoggerForTest("verbose", "console", "stdout").Configure()
		gt.Bool(t, errors.Is(err, config.ErrInvalidConfig)).True()
	})

	t.Run("rejects unknown format", func(t *testing.T) {
		_, err := config.NewLoggerForTest("info", "xml", "stdout").Configure()
		gt.Bool(t, errors.Is(err, config.ErrInvalidConfig)).True()
	})
}

func TestSentry_Configure(t *testing.T) {
	var cfg config.Sentry
	flush, err := cfg.Configure()
	gt.NoError(t, err).Required()
	flush()
}

func TestFile_Apply(t *testing.T) {
	path := writeFile(t, `
[store]
backend = "memory"
path = "/var/lib/simplemem"
table_name = "team_memories"
engine_timeout = "30s"
finalize_concurrency = 8

[llm]
provider = "openai"
model = "gpt-4o-mini"
api_key = "sk-test"
`)

	t.Run("file fills values not given on the command line", func(t *testing.T) {
		store := config.NewStoreForTest("local", "./simplemem_data", "memories", "")
		llm := config.NewLLMForTest("gemini", "", "")

		gt.NoError(t, config.NewFileForTest(path).Apply(&fakeCommand{}, store, llm)).Required()

		backend, dataPath, tableName, timeout, concurrency := config.StoreValues(store)
		gt.Value(t, backend).Equal("memory")
		gt.Value(t, dataPath).Equal("/var/lib/simplemem")
		gt.Value(t, tableName).Equal("team_memories")
		gt.Value(t, timeout).Equal(30 * time.Second)
		gt.Value(t, concurrency).Equal(8)

		provider, model, apiKey, _ := config.LLMValues(llm)
		gt.Value(t, provider).Equal("openai")
		gt.Value(t, model).Equal("gpt-4o-mini")
		gt.Value(t, apiKey).Equal("sk-test")
	})

	t.Run("flags take precedence", func(t *testing.T) {
		store := config.NewStoreForTest("local", "./simplemem_data", "memories", "")
		llm := config.NewLLMForTest("gemini", "", "")
		cmd := &fakeCommand{set: map[string]bool{"backend": true, "table-name": true, "llm-provider": true}}

		gt.NoError(t, config.NewFileForTest(path).Apply(cmd, store, llm)).Required()

		backend, dataPath, tableName, _, _ := config.StoreValues(store)
		gt.Value(t, backend).Equal("local")
		gt.Value(t, dataPath).Equal("/var/lib/simplemem")
		gt.Value(t, tableName).Equal("memories")

		provider, _, _, _ := config.LLMValues(llm)
		gt.Value(t, provider).Equal("gemini")
	})

	t.Run("no config file is a no-op", func(t *testing.T) {
		store := config.NewStoreForTest("local", "./simplemem_data", "memories", "")
		gt.NoError(t, config.NewFileForTest("").Apply(&fakeCommand{}, store, nil))
	})
}

func TestLoadFile(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
		gt.Bool(t, errors.Is(err, config.ErrConfigNotFound)).True()
	})

	t.Run("malformed TOML", func(t *testing.T) {
		_, err := config.LoadFile(writeFile(t, "[store\nbackend ="))
		gt.Bool(t, errors.Is(err, config.ErrInvalidConfig)).True()
	})

	t.Run("negative concurrency", func(t *testing.T) {
		_, err := config.LoadFile(writeFile(t, "[store]\nfinalize_concurrency = -1\n"))
		gt.Bool(t, errors.Is(err, config.ErrInvalidConfig)).True()
	})

	t.Run("empty file", func(t *testing.T) {
		cfg, err := config.LoadFile(writeFile(t, ""))
		gt.NoError(t, err).Required()
		gt.Value(t, cfg.Store).Nil()
		gt.Value(t, cfg.LLM).Nil()
	})
}
