package cmd

import (
	"context"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/cli/go-gh/v2/pkg/term"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/formatter"
	"github.com/kyleking/rafs-ddms/internal/logging"
	"github.com/kyleking/rafs-ddms/internal/search"
	"github.com/kyleking/rafs-ddms/internal/service"
)

func SearchCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "entity-type", Aliases: []string{"e"}, Usage: "entity type of the datasets to read, e.g. pvt", Required: true},
		&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "search backend query string"},
		&cli.StringSliceFlag{Name: "ids", Usage: "identifiers matched against --id-field"},
		&cli.StringFlag{Name: "id-field", Value: "SampleAnalysisID", Usage: "record data field holding the identifiers given by --ids"},
		&cli.StringFlag{Name: "offset", Usage: "number of results to skip"},
		&cli.StringFlag{Name: "page-limit", Usage: "maximum number of results"},
		&cli.BoolFlag{Name: "with-data", Usage: "return the filtered rows instead of record ids"},
		&cli.StringFlag{Name: "metrics-file", Usage: "write batch metrics to this file in the prometheus text format"},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "table", Usage: "output format (table, json, parquet)"},
	}

	return &cli.Command{
		Name:  "search",
		Usage: "Search records and filter their datasets in batches",
		Description: `Resolve the records matching a search, read the dataset of the given entity
type from each of them in concurrent batches and apply the filters. Without
--with-data only the ids of the records whose datasets matched are returned.`,
		Flags: append(flags, filterFlags()...),
		Action: withConfig(func(ctx context.Context, cmd *cli.Command) error {
			format, err := formatter.ParseOutputFormat(cmd.String("output"))
			if err != nil {
				return err
			}

			cfg := getConfigFromContext(ctx)

			page, err := service.ParsePageParams(cmd.String("offset"), cmd.String("page-limit"), cmd.Bool("with-data"), cfg.Query)
			if err != nil {
				return err
			}

			query := cmd.String("query")
			if ids := cmd.StringSlice("ids"); len(ids) > 0 {
				query = search.JoinQueries(query, search.BuildIDQuery(cmd.String("id-field"), ids))
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			reg := prometheus.NewRegistry()

			svc, err := a.search(reg)
			if err != nil {
				return err
			}

			err = runSearch(ctx, svc, service.SearchRequest{
				EntityType:    cmd.String("entity-type"),
				Query:         query,
				SchemaVersion: cmd.String("schema-version"),
				Filters:       rawFilters(cmd),
				Page:          page,
				WithData:      cmd.Bool("with-data"),
			}, formatter.NewTerminalFormatter(), format)
			if err != nil {
				return err
			}

			if path := cmd.String("metrics-file"); path != "" {
				if err := prometheus.WriteToTextfile(path, reg); err != nil {
					return errors.Wrap(err, errors.ErrTypeInternal, "failed to write metrics")
				}
			}

			return nil
		}),
	}
}

func runSearch(ctx context.Context, svc *service.Search, req service.SearchRequest, f *formatter.Formatter, format formatter.OutputFormat) error {
	stop := startSpinner("Searching " + req.EntityType + " datasets...")

	start := time.Now()
	page, err := svc.Run(ctx, req)

	stop()

	if err != nil {
		return err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"mode":       page.Mode.String(),
		"total_size": page.TotalSize,
		"duration":   time.Since(start),
	}).Info("search completed")

	return f.WritePage(page, format)
}

// startSpinner shows progress on stderr when stdout is a terminal
func startSpinner(suffix string) func() {
	if !term.FromEnv().IsTerminalOutput() {
		return func() {}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + suffix
	s.Start()

	return s.Stop
}
