package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
	"github.com/secmon-lab/simplemem/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdStats() *cli.Command {
	var memCfg memoryConfig

	return &cli.Command{
		Name:  "stats",
		Usage: "Show memory statistics",
		Flags: memCfg.Flags(),
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

			stats, err := uc.Memory.Stats(ctx)
			if err != nil {
				return err
			}

			printStats(c, stats)
			return nil
		},
	}
}

func printStats(c *cli.Command, stats *model.Stats) {
	w := c.Root().Writer
	label := color.New(color.FgCyan).SprintfFunc()

	_, _ = fmt.Fprintf(w, "%s %d\n", label("%-10s", "count:"), stats.Count)
	_, _ = fmt.Fprintf(w, "%s %s\n", label("%-10s", "table:"), stats.TableName)
	_, _ = fmt.Fprintf(w, "%s %s\n", label("%-10s", "backend:"), stats.BackendType)
	_, _ = fmt.Fprintf(w, "%s %s\n", label("%-10s", "location:"), stats.Path)
	_, _ = fmt.Fprintf(w, "%s %d\n", label("%-10s", "pending:"), stats.Pending)
	_, _ = fmt.Fprintf(w, "%s %s\n", label("%-10s", "state:"), stats.State)
}
