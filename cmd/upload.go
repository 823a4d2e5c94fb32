package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/service"
)

func UploadCommand() *cli.Command {
	return &cli.Command{
		Name:  "upload",
		Usage: "Store a dataset for a record",
		Description: `Validate a JSON split or parquet payload, store it as parquet in the blob
store under a new dataset id and point the record at it. The record gets a
new version.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "record", Aliases: []string{"r"}, Usage: "record id", Required: true},
			&cli.StringFlag{Name: "entity-type", Aliases: []string{"e"}, Usage: "entity type of the dataset, e.g. pvt", Required: true},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "payload file", Required: true},
			&cli.StringFlag{Name: "content-type", Usage: "content type of the payload (default from the extension)"},
			&cli.StringFlag{Name: "schema-version", Usage: "content schema version the payload columns are checked against"},
		},
		Action: withConfig(func(ctx context.Context, cmd *cli.Command) error {
			req, err := uploadRequest(cmd.String("file"), cmd.String("content-type"))
			if err != nil {
				return err
			}

			req.RecordID = cmd.String("record")
			req.EntityType = cmd.String("entity-type")
			req.SchemaVersion = cmd.String("schema-version")

			a, err := newApp(ctx, getConfigFromContext(ctx))
			if err != nil {
				return err
			}
			defer a.Close()

			return runUpload(ctx, a.bulkData(), req, os.Stdout)
		}),
	}
}

// uploadRequest reads a payload file, taking its content type from the
// extension unless one is given
func uploadRequest(path, contentType string) (service.UploadRequest, error) {
	if contentType == "" {
		contentType = filepath.Ext(path)
	}

	ct, err := service.ParseContentType(contentType)
	if err != nil {
		return service.UploadRequest{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return service.UploadRequest{}, errors.Wrapf(err, errors.ErrTypeBadRequest, "failed to read %s", path)
	}

	return service.UploadRequest{ContentType: ct, Payload: data}, nil
}

func runUpload(ctx context.Context, svc *service.BulkData, req service.UploadRequest, w io.Writer) error {
	result, err := svc.UploadDataset(ctx, req)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeInternal, "failed to encode upload result")
	}

	_, err = fmt.Fprintln(w, string(data))

	return err
}
