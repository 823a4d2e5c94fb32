package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/rafs-ddms/internal/config"
	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/filter"
	"github.com/kyleking/rafs-ddms/internal/formatter"
	"github.com/kyleking/rafs-ddms/internal/logging"
	"github.com/kyleking/rafs-ddms/internal/schema"
	"github.com/kyleking/rafs-ddms/internal/service"
	"github.com/kyleking/rafs-ddms/internal/table"
)

// filterFlags are the filter parameters shared by query and search
func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "columns-filter", Usage: `comma separated columns to keep, e.g. "SampleID,Pressure.value"`},
		&cli.StringFlag{Name: "rows-filter", Usage: `row predicate, e.g. "Depth,gt,100"`},
		&cli.StringFlag{Name: "rows-multiple-filter", Usage: `JSON row predicates, e.g. '{"$and": [{"Depth": {"$gt": 100}}, {"Valid": {"$eq": true}}]}'`},
		&cli.StringFlag{Name: "columns-aggregation", Usage: `aggregation, e.g. "Pressure.value,max"`},
		&cli.StringFlag{Name: "schema-version", Usage: "content schema version the filters are checked against (default latest)"},
	}
}

func rawFilters(cmd *cli.Command) filter.RawFilters {
	return filter.RawFilters{
		ColumnsFilter:      cmd.String("columns-filter"),
		RowsFilter:         cmd.String("rows-filter"),
		RowsMultipleFilter: cmd.String("rows-multiple-filter"),
		ColumnsAggregation: cmd.String("columns-aggregation"),
	}
}

func QueryCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "local parquet or JSON split file"},
		&cli.StringFlag{Name: "content-type", Usage: "content type of --file (default from the extension)"},
		&cli.StringFlag{Name: "entity-type", Aliases: []string{"e"}, Usage: "entity type whose content schema validates the filters of --file"},
		&cli.StringFlag{Name: "record", Aliases: []string{"r"}, Usage: "stored record id, optionally id:version"},
		&cli.StringFlag{Name: "dataset", Aliases: []string{"d"}, Usage: "dataset id or URN of --record"},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "table", Usage: "output format (table, json, parquet)"},
	}

	return &cli.Command{
		Name:  "query",
		Usage: "Filter a dataset",
		Description: `Apply column, row and aggregation filters to a dataset. The dataset is
either a local file (--file) or the dataset of a stored record (--record and
--dataset). Filters are checked against the content schema before any data
is read.`,
		Flags: append(flags, filterFlags()...),
		Action: withConfig(func(ctx context.Context, cmd *cli.Command) error {
			format, err := formatter.ParseOutputFormat(cmd.String("output"))
			if err != nil {
				return err
			}

			cfg := getConfigFromContext(ctx)

			var t *table.Table

			switch {
			case cmd.String("file") != "":
				t, err = runQueryFile(ctx, cfg, queryFileOptions{
					Path:          cmd.String("file"),
					ContentType:   cmd.String("content-type"),
					EntityType:    cmd.String("entity-type"),
					SchemaVersion: cmd.String("schema-version"),
					Filters:       rawFilters(cmd),
				})
			case cmd.String("record") != "":
				t, err = runQueryRecord(ctx, cfg, service.DatasetRequest{
					RecordID:      cmd.String("record"),
					Dataset:       cmd.String("dataset"),
					SchemaVersion: cmd.String("schema-version"),
					Filters:       rawFilters(cmd),
				})
			default:
				err = errors.New(errors.ErrTypeBadRequest, "either --file or --record is required")
			}

			if err != nil {
				return err
			}

			return formatter.NewTerminalFormatter().WriteTable(t, format)
		}),
	}
}

type queryFileOptions struct {
	Path          string
	ContentType   string
	EntityType    string
	SchemaVersion string
	Filters       filter.RawFilters
}

// runQueryFile filters a local file. Only the schema registry is opened.
func runQueryFile(ctx context.Context, cfg *config.Config, opts queryFileOptions) (*table.Table, error) {
	var schemas schema.Provider

	if !opts.Filters.IsEmpty() {
		registry, err := schema.LoadRegistryDir(config.ExpandPath(cfg.DDMS.SchemaDir))
		if err != nil {
			return nil, err
		}

		schemas = registry
	}

	return queryFile(ctx, table.NewEngineWithLogger(logging.FromContext(ctx)), schemas, opts)
}

func queryFile(ctx context.Context, engine *table.Engine, schemas schema.Provider, opts queryFileOptions) (*table.Table, error) {
	var set *filter.Set

	if !opts.Filters.IsEmpty() {
		if opts.EntityType == "" {
			return nil, errors.New(errors.ErrTypeBadRequest, "--entity-type is required to validate filters")
		}

		sc, err := schemas.Get(opts.EntityType, opts.SchemaVersion)
		if err != nil {
			return nil, err
		}

		if set, err = filter.NewValidator(sc, opts.Filters).Set(); err != nil {
			return nil, err
		}
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = filepath.Ext(opts.Path)
	}

	ct, err := service.ParseContentType(contentType)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(opts.Path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeBadRequest, "failed to read %s", opts.Path)
	}

	t, err := ct.Decode(ctx, data)
	if err != nil {
		return nil, err
	}

	return engine.Apply(t, set)
}

func runQueryRecord(ctx context.Context, cfg *config.Config, req service.DatasetRequest) (*table.Table, error) {
	if req.Dataset == "" {
		return nil, errors.New(errors.ErrTypeBadRequest, "--dataset is required with --record")
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	ds, err := a.bulkData().GetDataset(ctx, req)
	if err != nil {
		return nil, err
	}

	return ds.Table, nil
}
