package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kyleking/rafs-ddms/internal/records"
)

// NewTestDB creates an initialized database in a temporary directory that is
// closed when the test ends
func NewTestDB(t *testing.T) *DuckDBRepository {
	t.Helper()

	repo, err := NewDuckDBRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}

	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("failed to close test repository: %v", err)
		}
	})

	if err := repo.Initialize(context.Background()); err != nil {
		t.Fatalf("failed to initialize test repository: %v", err)
	}

	return repo
}

// NewTestDBWithData creates a test database pre-seeded with recs
func NewTestDBWithData(t *testing.T, recs []*records.Record) *DuckDBRepository {
	t.Helper()

	repo := NewTestDB(t)

	if _, err := repo.UpsertRecords(context.Background(), recs); err != nil {
		t.Fatalf("failed to store test records: %v", err)
	}

	return repo
}
