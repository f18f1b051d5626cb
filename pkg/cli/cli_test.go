package cli_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/simplemem/pkg/cli"
	"github.com/secmon-lab/simplemem/pkg/cli/config"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
	"github.com/secmon-lab/simplemem/pkg/repository/firestore"
)

func TestParseGCSURL(t *testing.T) {
	tests := []struct {
		input  string
		bucket string
		object string
		ok     bool
	}{
		{input: "gs://my-bucket/exports/memories.jsonl", bucket: "my-bucket", object: "exports/memories.jsonl", ok: true},
		{input: "gs://my-bucket/a", bucket: "my-bucket", object: "a", ok: true},
		{input: "gs://my-bucket", ok: false},
		{input: "gs://my-bucket/", ok: false},
		{input: "gs:///object", ok: false},
		{input: "./memories.jsonl", ok: false},
		{input: "-", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			bucket, object, ok := cli.ParseGCSURL(tt.input)
			gt.Value(t, ok).Equal(tt.ok)
			gt.Value(t, bucket).Equal(tt.bucket)
			gt.Value(t, object).Equal(tt.object)
		})
	}
}

func TestGetIndexConfig(t *testing.T) {
	cfg := cli.GetIndexConfig("team_memories")
	gt.Array(t, cfg.Collections).Length(1).Required()
	gt.Value(t, cfg.Collections[0].Name).Equal("team_memories")
	gt.Array(t, cfg.Collections[0].Indexes).Length(1).Required()

	field := cfg.Collections[0].Indexes[0].Fields[0]
	gt.Value(t, field.Path).Equal(firestore.EmbeddingField)
	gt.Value(t, field.Vector).NotNil()
	gt.Value(t, field.Vector.Dimension).Equal(model.EmbeddingDimension)
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("stats without LLM reports the backend unavailable", func(t *testing.T) {
		var buf bytes.Buffer
		err := cli.RunWithWriter(ctx, []string{
			"simplemem", "stats",
			"--backend", "local",
			"--path", filepath.Join(t.TempDir(), "data"),
			"--gemini-project", "",
		}, "test", &buf)
		gt.Bool(t, errors.Is(err, model.ErrBackendUnavailable)).True()
	})

	t.Run("ask requires a question", func(t *testing.T) {
		var buf bytes.Buffer
		err := cli.RunWithWriter(ctx, []string{"simplemem", "ask"}, "test", &buf)
		gt.Bool(t, errors.Is(err, model.ErrInvalidInput)).True()
	})

	t.Run("invalid table name is rejected", func(t *testing.T) {
		var buf bytes.Buffer
		err := cli.RunWithWriter(ctx, []string{
			"simplemem", "stats",
			"--backend", "memory",
			"--table-name", "bad-name",
		}, "test", &buf)
		gt.Bool(t, errors.Is(err, config.ErrInvalidConfig)).True()
	})

	t.Run("invalid log level is rejected", func(t *testing.T) {
		var buf bytes.Buffer
		err := cli.RunWithWriter(ctx, []string{"simplemem", "--log-level", "loud", "stats"}, "test", &buf)
		gt.Bool(t, errors.Is(err, config.ErrInvalidConfig)).True()
	})
}
