package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
	"github.com/secmon-lab/simplemem/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdAsk() *cli.Command {
	var limit int
	var threshold float64
	var memCfg memoryConfig

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of memories used as grounding",
			Value:       model.DefaultQueryLimit,
			Destination: &limit,
		},
		&cli.FloatFlag{
			Name:        "threshold",
			Usage:       "Minimum similarity (0 to 1) of grounding memories",
			Destination: &threshold,
		},
	}
	flags = append(flags, memCfg.Flags()...)

	return &cli.Command{
		Name:      "ask",
		Aliases:   []string{"a"},
		Usage:     "Answer a question from stored memories",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if question == "" {
				return goerr.Wrap(model.ErrInvalidInput, "question is required")
			}

			uc, err := memCfg.build(ctx, c)
			if err != nil {
				return err
			}
			defer func() {
				if err := uc.Close(); err != nil {
					logging.Default().Error("failed to close backend", "error", err.Error())
				}
			}()

			query := model.Query{Question: question, Limit: limit}
			if c.IsSet("threshold") {
				query.Threshold = &threshold
			}

			answer, err := uc.Memory.Ask(ctx, query)
			if err != nil {
				return err
			}

			printAnswer(c, answer)
			return nil
		},
	}
}

func printAnswer(c *cli.Command, answer *model.Answer) {
	w := c.Root().Writer
	header := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.FgHiBlack)

	_, _ = header.Fprintln(w, "Answer")
	_, _ = fmt.Fprintln(w, answer.Answer)

	if len(answer.Records) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	_, _ = header.Fprintln(w, "Evidence")
	for _, rec := range answer.Records {
		_, _ = fmt.Fprintf(w, "- %s ", rec.LosslessRestatement)
		_, _ = dim.Fprintf(w, "(%s, %s)\n", rec.EntryID, rec.Timestamp)
	}
}
