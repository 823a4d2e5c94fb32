package service

import (
	"context"
	"mime"
	"strings"

	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/table"
)

// ContentType is a supported bulk data encoding
type ContentType string

const (
	ContentJSON    ContentType = "application/json"
	ContentParquet ContentType = "application/x-parquet"
)

var contentAliases = map[string]ContentType{
	"application/json":      ContentJSON,
	"json":                  ContentJSON,
	"application/x-parquet": ContentParquet,
	"application/parquet":   ContentParquet,
	"parquet":               ContentParquet,
}

// ParseContentType matches a content type header, or a file extension, to a
// supported encoding. Parameters such as charset are ignored.
func ParseContentType(value string) (ContentType, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if mediaType, _, err := mime.ParseMediaType(normalized); err == nil {
		normalized = mediaType
	}

	normalized = strings.TrimPrefix(normalized, ".")

	if ct, ok := contentAliases[normalized]; ok {
		return ct, nil
	}

	return "", errors.Newf(errors.ErrTypeBadRequest, "%s does not match any supported mime types", value)
}

// Encode renders t in the encoding
func (c ContentType) Encode(t *table.Table) ([]byte, error) {
	switch c {
	case ContentParquet:
		return table.EncodeParquet(t, false)
	default:
		return table.EncodeSplit(t)
	}
}

// Decode reads a payload in the encoding
func (c ContentType) Decode(ctx context.Context, data []byte) (*table.Table, error) {
	switch c {
	case ContentParquet:
		return table.ReadParquet(ctx, data)
	default:
		return table.DecodeSplit(data)
	}
}
