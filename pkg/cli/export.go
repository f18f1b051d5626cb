package cli

import (
	"context"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/simplemem/pkg/usecase"
	"github.com/secmon-lab/simplemem/pkg/utils/logging"
	"github.com/secmon-lab/simplemem/pkg/utils/safe"
	"github.com/urfave/cli/v3"
)

func cmdExport() *cli.Command {
	var output string
	var memCfg memoryConfig

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Destination: a file path, - for stdout, or gs://bucket/object",
			Value:       "-",
			Destination: &output,
		},
	}
	flags = append(flags, memCfg.Flags()...)

	return &cli.Command{
		Name:  "export",
		Usage: "Export all memory records as JSON lines",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			uc, err := memCfg.build(ctx, c)
			if err != nil {
				return err
			}
			defer func() {
				if err := uc.Close(); err != nil {
					logging.Default().Error("failed to close backend", "error", err.Error())
				}
			}()

			n, err := exportRecords(ctx, uc, output, c.Root().Writer)
			if err != nil {
				return err
			}

			logging.Default().Info("Exported memory records", "count", n, "output", output)
			return nil
		},
	}
}

func exportRecords(ctx context.Context, uc *usecase.UseCases, output string, stdout io.Writer) (int, error) {
	if bucket, object, ok := parseGCSURL(output); ok {
		return exportToGCS(ctx, uc, bucket, object)
	}

	if output == "" || output == "-" {
		return uc.Memory.Export(ctx, stdout)
	}

	// #nosec G304 - path is provided by the operator
	f, err := os.Create(output)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to create output file", goerr.V("path", output))
	}
	defer safe.Close(ctx, f)

	return uc.Memory.Export(ctx, f)
}

func exportToGCS(ctx context.Context, uc *usecase.UseCases, bucket, object string) (int, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to create cloud storage client")
	}
	defer safe.Close(ctx, client)

	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"

	n, err := uc.Memory.Export(ctx, w)
	if err != nil {
		_ = w.Close()
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, goerr.Wrap(err, "failed to upload export",
			goerr.V("bucket", bucket), goerr.V("object", object))
	}
	return n, nil
}

// parseGCSURL splits gs://bucket/object. ok is false for anything else.
func parseGCSURL(s string) (bucket, object string, ok bool) {
	rest, found := strings.CutPrefix(s, "gs://")
	if !found {
		return "", "", false
	}
	bucket, object, found = strings.Cut(rest, "/")
	if !found || bucket == "" || object == "" {
		return "", "", false
	}
	return bucket, object, true
}
