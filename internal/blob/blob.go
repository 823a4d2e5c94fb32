// Package blob reads and writes the columnar payloads behind record datasets.
package blob

import (
	"context"
	"time"

	"github.com/kyleking/rafs-ddms/internal/config"
	"github.com/kyleking/rafs-ddms/internal/errors"
)

// Fetcher returns the raw columnar payload stored under a dataset id
type Fetcher interface {
	GetPayload(ctx context.Context, id string) ([]byte, error)
}

// Store is a Fetcher that can also write payloads
type Store interface {
	Fetcher
	PutPayload(ctx context.Context, id string, data []byte, contentType string) error
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, id string) ([]byte, error)

// GetPayload calls f
func (f FetcherFunc) GetPayload(ctx context.Context, id string) ([]byte, error) {
	return f(ctx, id)
}

// ErrDisabled is returned when no blob backend is configured
var ErrDisabled = errors.New(errors.ErrTypeConfig, "blob storage not configured")

// ErrReadOnly is returned when writing through a backend that only reads
var ErrReadOnly = errors.New(errors.ErrTypeConfig, "the blob backend is read only")

// NewFetcher builds the fetcher selected by cfg.Backend
func NewFetcher(cfg config.BlobConfig) (Fetcher, error) {
	switch cfg.Backend {
	case "signed_url":
		return NewSignedURLFetcher(cfg.SignedURLBase, config.Duration(cfg.FetchTimeout, time.Minute)), nil
	case "minio", "":
		return NewMinIOStore(cfg)
	default:
		return nil, errors.NewConfigError("unknown blob backend: "+cfg.Backend, "blob.backend")
	}
}

func notFound(id string, cause error) error {
	return errors.Wrapf(cause, errors.ErrTypeNotFound, "Dataset %s not found", id)
}
