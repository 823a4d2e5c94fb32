package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/rafs-ddms/internal/config"
	"github.com/kyleking/rafs-ddms/internal/errors"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:        "config",
		Usage:       "Display the active configuration",
		Description: `Show the active configuration built from defaults, the config file, RAFS_DDMS_ environment variables and command-line flags. Secrets are never shown.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the configuration as JSON"},
			&cli.BoolFlag{Name: "save", Usage: "write the active configuration to the config file"},
		},
		Action: withConfig(func(ctx context.Context, cmd *cli.Command) error {
			cfg := getConfigFromContext(ctx)
			if cmd.Bool("save") {
				return saveConfig(os.Stdout, cfg)
			}

			return runConfig(os.Stdout, cfg, cmd.Bool("json"))
		}),
	}
}

func runConfig(w io.Writer, cfg *config.Config, asJSON bool) error {
	if cfg == nil {
		return errors.NewConfigError("failed to load configuration", "")
	}

	if asJSON {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return errors.Wrap(err, errors.ErrTypeInternal, "failed to marshal config to JSON")
		}

		_, err = fmt.Fprintln(w, string(data))

		return err
	}

	var b strings.Builder

	section := func(name string) { fmt.Fprintf(&b, "\n%s:\n", name) }
	field := func(name string, value interface{}) { fmt.Fprintf(&b, "  %s: %v\n", name, value) }

	b.WriteString("Active Configuration:\n")

	section("Logging")
	field("Level", cfg.Logging.Level)
	field("Format", cfg.Logging.Format)
	field("Output", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		field("File", cfg.Logging.File)
	}

	section("Storage")
	field("Path", cfg.Storage.Path)
	field("Max Connections", cfg.Storage.MaxConnections)
	field("Query Timeout", cfg.Storage.QueryTimeout)

	section("Blob")
	field("Backend", cfg.Blob.Backend)

	if cfg.Blob.Backend == "signed_url" {
		field("Signed URL Base", cfg.Blob.SignedURLBase)
	} else {
		field("Endpoint", cfg.Blob.Endpoint)
		field("Bucket", cfg.Blob.Bucket)
	}

	field("Fetch Timeout", cfg.Blob.FetchTimeout)

	section("Search")
	field("Addresses", strings.Join(cfg.Search.Addresses, ", "))
	field("Index", cfg.Search.Index)
	field("Page Size", cfg.Search.PageSize)

	section("Cache")
	field("Enabled", cfg.Cache.Enabled)

	if cfg.Cache.Enabled {
		field("Backend", cfg.Cache.Backend)

		if cfg.Cache.Backend == "redis" {
			field("Redis Address", cfg.Cache.RedisAddr)
		} else {
			field("Directory", cfg.Cache.Directory)
			field("Max Size", fmt.Sprintf("%d MB", cfg.Cache.MaxSizeMB))
		}

		field("TTL", cfg.Cache.TTL)
	}

	section("Query")
	field("Batch Size", cfg.Query.BatchSize)
	field("Workers", cfg.Query.EffectiveWorkers())
	field("Data Page Limit", cfg.Query.DataPageLimit)
	field("Search Page Limit", cfg.Query.SearchPageLimit)

	section("DDMS")
	field("ID", cfg.DDMS.ID)
	field("API Version", cfg.DDMS.APIVersion)
	field("Schema Directory", cfg.DDMS.SchemaDir)

	section("Metrics")
	field("Enabled", cfg.Metrics.Enabled)
	field("Namespace", cfg.Metrics.Namespace)

	_, err := io.WriteString(w, b.String())

	return err
}

func saveConfig(w io.Writer, cfg *config.Config) error {
	path, err := config.SaveConfig(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeConfig, "failed to save configuration")
	}

	_, err = fmt.Fprintf(w, "Configuration saved to %s\n", path)

	return err
}
