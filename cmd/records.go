package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/formatter"
	"github.com/kyleking/rafs-ddms/internal/records"
	"github.com/kyleking/rafs-ddms/internal/service"
)

func RecordsCommand() *cli.Command {
	return &cli.Command{
		Name:  "records",
		Usage: "Read and store metadata records",
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Show a record",
				ArgsUsage: " <id[:version]>",
				Action: withConfig(func(ctx context.Context, cmd *cli.Command) error {
					args := cmd.Args()
					if args.Len() != 1 {
						return errors.Newf(errors.ErrTypeBadRequest, "expected exactly 1 argument, got %d", args.Len())
					}

					a, err := newApp(ctx, getConfigFromContext(ctx))
					if err != nil {
						return err
					}
					defer a.Close()

					rec, err := a.records().GetRecord(ctx, args.First())
					if err != nil {
						return err
					}

					return formatter.NewTerminalFormatter().WriteRecord(rec)
				}),
			},
			{
				Name:  "post",
				Usage: "Validate and store records",
				Description: `Check a JSON array of records against the JSON schemas of their kinds and
against the records already stored, then store them. Nothing is stored when
any record fails.`,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "JSON file holding an array of records", Required: true},
					&cli.StringSliceFlag{Name: "kind", Usage: "accepted record kind", Required: true},
					&cli.StringSliceFlag{Name: "mandatory", Usage: "data field every record must fill"},
				},
				Action: withConfig(func(ctx context.Context, cmd *cli.Command) error {
					recs, err := readRecords(cmd.String("file"))
					if err != nil {
						return err
					}

					a, err := newApp(ctx, getConfigFromContext(ctx))
					if err != nil {
						return err
					}
					defer a.Close()

					return runPostRecords(ctx, a.records(), recs, service.RecordsPolicy{
						ValidKinds:      cmd.StringSlice("kind"),
						MandatoryFields: cmd.StringSlice("mandatory"),
					}, os.Stdout)
				}),
			},
		},
	}
}

func readRecords(path string) ([]*records.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeBadRequest, "failed to read %s", path)
	}

	var recs []*records.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeBadRequest, "%s is not a JSON array of records", path)
	}

	if len(recs) == 0 {
		return nil, errors.Newf(errors.ErrTypeBadRequest, "%s holds no records", path)
	}

	return recs, nil
}

func runPostRecords(ctx context.Context, svc *service.Records, recs []*records.Record, policy service.RecordsPolicy, w io.Writer) error {
	ids, err := svc.PostRecords(ctx, recs, policy)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(map[string]interface{}{
		"recordCount":      len(ids),
		"recordIdVersions": ids,
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeInternal, "failed to encode stored ids")
	}

	_, err = fmt.Fprintln(w, string(data))

	return err
}
