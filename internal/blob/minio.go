package blob

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kyleking/rafs-ddms/internal/config"
	"github.com/kyleking/rafs-ddms/internal/errors"
)

const noSuchKey = "NoSuchKey"

// MinIOStore keeps payloads as objects of a single bucket
type MinIOStore struct {
	mc      *minio.Client
	bucket  string
	enabled bool
}

// NewMinIOStore creates a store for cfg. An empty endpoint gives a disabled
// store whose operations return ErrDisabled.
func NewMinIOStore(cfg config.BlobConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return &MinIOStore{bucket: cfg.Bucket}, nil
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: "us-east-1",
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to create minio client")
	}

	return &MinIOStore{mc: mc, bucket: cfg.Bucket, enabled: true}, nil
}

// Enabled reports whether the store is configured
func (s *MinIOStore) Enabled() bool {
	return s.enabled
}

// GetPayload downloads the object stored under id
func (s *MinIOStore) GetPayload(ctx context.Context, id string) ([]byte, error) {
	if !s.enabled {
		return nil, ErrDisabled
	}

	obj, err := s.mc.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.objectError(id, err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		return nil, s.objectError(id, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.objectError(id, err)
	}

	return data, nil
}

// PutPayload uploads data under id, creating the bucket when needed
func (s *MinIOStore) PutPayload(ctx context.Context, id string, data []byte, contentType string) error {
	if !s.enabled {
		return ErrDisabled
	}

	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	_, err := s.mc.PutObject(ctx, s.bucket, id, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return errors.Wrapf(err, errors.ErrTypeStorage, "failed to store dataset %s", id)
	}

	return nil
}

func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.Wrapf(err, errors.ErrTypeStorage, "failed to check bucket %s", s.bucket)
	}

	if exists {
		return nil
	}

	if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Wrapf(err, errors.ErrTypeStorage, "failed to create bucket %s", s.bucket)
	}

	return nil
}

func (s *MinIOStore) objectError(id string, err error) error {
	if minio.ToErrorResponse(err).Code == noSuchKey {
		return notFound(id, err)
	}

	return errors.Wrapf(err, errors.ErrTypeStorage, "failed to read dataset %s", id)
}
