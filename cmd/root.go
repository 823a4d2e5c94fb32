// Package cmd implements the rafs-ddms command line.
package cmd

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/rafs-ddms/internal/config"
	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/logging"
)

type configKey struct{}

// Execute runs the command line with the process arguments
func Execute() error {
	ctx := context.Background()

	err := NewRootCommand().Run(ctx, os.Args)
	if err != nil {
		logging.FromContext(ctx).WithFields(errors.Detail(err)).Error(err.Error())
	}

	return err
}

// NewRootCommand builds the rafs-ddms command tree
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "rafs-ddms",
		Usage: "Query and store rock and fluid sample bulk data",
		Description: `rafs-ddms reads the columnar datasets attached to rock and fluid sample
records, applies column, row and aggregation filters to them and runs
batched searches across many records at once.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db-path", Usage: "record store database path"},
			&cli.StringFlag{Name: "log-level", Usage: "log level (debug, info, warn, error)"},
			&cli.StringFlag{Name: "log-format", Usage: "log format (text, json)"},
			&cli.StringFlag{Name: "cache-dir", Usage: "payload cache directory"},
			&cli.StringFlag{Name: "schema-dir", Usage: "directory of content schemas"},
			&cli.StringFlag{Name: "search-url", Usage: "comma separated search backend addresses"},
			&cli.StringFlag{Name: "blob-endpoint", Usage: "object store endpoint"},
			&cli.IntFlag{Name: "batch-size", Usage: "datasets fetched per batch"},
		},
		Commands: []*cli.Command{
			ConfigCommand(),
			QueryCommand(),
			SearchCommand(),
			UploadCommand(),
			RecordsCommand(),
			StatsCommand(),
		},
	}
}

// withConfig loads the configuration from the file, the environment and the
// global flags, initializes logging and passes both on through ctx
func withConfig(action cli.ActionFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := config.LoadConfigWithOverrides(flagOverrides(cmd))
		if err != nil {
			return errors.Wrap(err, errors.ErrTypeConfig, "failed to load configuration")
		}

		if err := logging.InitializeLogger(cfg.Logging); err != nil {
			return errors.Wrap(err, errors.ErrTypeConfig, "failed to initialize logger")
		}

		ctx, _ = logging.WithCorrelationID(logging.WithContext(ctx, logging.GetLogger()))
		ctx = context.WithValue(ctx, configKey{}, cfg)

		return logging.Timed(ctx, cmd.Name, func() error {
			return action(ctx, cmd)
		})
	}
}

func flagOverrides(cmd *cli.Command) map[string]interface{} {
	overrides := make(map[string]interface{})

	for _, name := range []string{"db-path", "log-level", "log-format", "cache-dir", "schema-dir", "search-url", "blob-endpoint"} {
		if v := cmd.String(name); v != "" {
			overrides[name] = v
		}
	}

	if n := cmd.Int("batch-size"); n > 0 {
		overrides["batch-size"] = int(n)
	}

	return overrides
}

// getConfigFromContext returns the configuration loaded by withConfig, or the
// defaults when none was loaded
func getConfigFromContext(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey{}).(*config.Config); ok && cfg != nil {
		return cfg
	}

	return config.DefaultConfig()
}
