package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/rafs-ddms/internal/config"
	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/logging"
	"github.com/kyleking/rafs-ddms/internal/records"
	"github.com/kyleking/rafs-ddms/internal/service"
	"github.com/kyleking/rafs-ddms/internal/storage"
	"github.com/kyleking/rafs-ddms/internal/table"
	"github.com/kyleking/rafs-ddms/internal/testutil"
)

func TestUploadRequest(t *testing.T) {
	splitPath := writeFile(t, "pvt.json", []byte(contentSplit))

	tests := []struct {
		name        string
		path        string
		contentType string
		want        service.ContentType
		wantType    errors.ErrorType
	}{
		{name: "json extension", path: splitPath, want: service.ContentJSON},
		{name: "explicit parquet", path: splitPath, contentType: "application/parquet", want: service.ContentParquet},
		{name: "unknown extension", path: writeFile(t, "pvt.xlsx", nil), wantType: errors.ErrTypeBadRequest},
		{name: "missing file", path: splitPath + ".missing", contentType: "json", wantType: errors.ErrTypeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := uploadRequest(tt.path, tt.contentType)
			if tt.wantType != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantType, errors.GetType(err))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, req.ContentType)
			assert.NotEmpty(t, req.Payload)
		})
	}
}

func TestRunUpload(t *testing.T) {
	ctx := context.Background()
	id := analysisID("upload")

	repo := storage.NewTestDBWithData(t, []*records.Record{testutil.NewTestRecord(testutil.WithID(id))})
	blobs := testutil.NewMockBlobStore()
	svc := service.NewBulkData(repo, blobs, testutil.NewTestRegistry(t, "pvt"),
		table.NewEngineWithLogger(logging.NewNop()), config.DefaultConfig().DDMS)

	req, err := uploadRequest(writeFile(t, "pvt.json", []byte(contentSplit)), "")
	require.NoError(t, err)

	req.RecordID = id
	req.EntityType = "pvt"
	req.SchemaVersion = testutil.TestSchemaVersion

	var buf bytes.Buffer

	require.NoError(t, runUpload(ctx, svc, req, &buf))

	var result service.UploadResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))

	assert.Equal(t, id+":2", result.RecordID)
	assert.True(t, strings.HasPrefix(result.URN, "urn://rafs-v2/pvt/"+id+"/"), result.URN)
	assert.Equal(t, 1, blobs.GetCallCount("PutPayload"))

	rec, err := repo.FetchRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{result.URN}, rec.DDMSDatasets())

	urn, err := records.ParseDatasetURN(result.URN)
	require.NoError(t, err)

	payload, ok := blobs.Payload(urn.ObjectKey())
	require.True(t, ok)

	stored, err := table.ReadParquet(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, contentColumns, stored.Columns())
	assert.Equal(t, 3, stored.NumRows())
}
