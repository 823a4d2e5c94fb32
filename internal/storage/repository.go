// Package storage keeps metadata records in a local DuckDB database.
package storage

import (
	"context"
	"time"

	"github.com/kyleking/rafs-ddms/internal/records"
)

// Repository defines the interface for record store operations
type Repository interface {
	Initialize(ctx context.Context) error

	// FetchRecord returns the latest version of a record, or the version
	// named by an "id:version" full id
	FetchRecord(ctx context.Context, fullID string) (*records.Record, error)

	// UpsertRecords stores records, giving each a new version. It returns
	// the stored ids with their versions.
	UpsertRecords(ctx context.Context, recs []*records.Record) ([]string, error)

	// QueryRecords looks ids up; unknown ids are listed as invalid
	QueryRecords(ctx context.Context, ids []string) (*records.QueryResult, error)

	ListRecords(ctx context.Context, kind string, limit, offset int) ([]*records.Record, error)
	DeleteRecord(ctx context.Context, id string) error
	GetStats(ctx context.Context) (*Stats, error)
	Clear(ctx context.Context) error
	Close() error
}

// Stats represents record store statistics
type Stats struct {
	TotalRecords   int            `json:"total_records"`
	TotalVersions  int            `json:"total_versions"`
	TotalDatasets  int            `json:"total_datasets"`
	LastUpdated    time.Time      `json:"last_updated"`
	DatabaseSizeMB float64        `json:"database_size_mb"`
	KindBreakdown  map[string]int `json:"kind_breakdown"`
}
