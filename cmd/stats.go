package cmd

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/formatter"
	"github.com/kyleking/rafs-ddms/internal/storage"
)

func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:        "stats",
		Usage:       "Display record store statistics",
		Description: `Show statistics about the local record store including record, version and dataset counts, the kinds stored and the database size.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "table", Usage: "output format (table, json)"},
		},
		Action: withConfig(func(ctx context.Context, cmd *cli.Command) error {
			format, err := formatter.ParseOutputFormat(cmd.String("output"))
			if err != nil {
				return err
			}

			repo, err := initializeStorage(ctx, getConfigFromContext(ctx))
			if err != nil {
				return err
			}
			defer repo.Close()

			return runStatsWithStorage(ctx, repo, formatter.NewTerminalFormatter(), format)
		}),
	}
}

func runStatsWithStorage(ctx context.Context, repo storage.Repository, f *formatter.Formatter, format formatter.OutputFormat) error {
	stats, err := repo.GetStats(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeStorage, "failed to get statistics")
	}

	return f.WriteStats(stats, format)
}
