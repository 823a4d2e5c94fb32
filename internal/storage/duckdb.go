package storage

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	"github.com/kyleking/rafs-ddms/internal/config"
	"github.com/kyleking/rafs-ddms/internal/errors"
	"github.com/kyleking/rafs-ddms/internal/records"
)

// DuckDBRepository implements the Repository interface using DuckDB
type DuckDBRepository struct {
	db           *sql.DB
	path         string
	queryTimeout time.Duration
}

// NewDuckDBRepository creates a new DuckDB repository instance with connection pooling
func NewDuckDBRepository(dbPath string) (*DuckDBRepository, error) {
	return NewDuckDBRepositoryFromConfig(config.StorageConfig{
		Path:            dbPath,
		MaxConnections:  10,
		MaxIdleConns:    5,
		ConnMaxLifetime: "30m",
		ConnMaxIdleTime: "5m",
		QueryTimeout:    "30s",
	})
}

// NewDuckDBRepositoryFromConfig creates a new DuckDB repository with settings from config
func NewDuckDBRepositoryFromConfig(cfg config.StorageConfig) (*DuckDBRepository, error) {
	dbPath := config.ExpandPath(cfg.Path)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to create database directory")
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to open database")
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(config.Duration(cfg.ConnMaxLifetime, 30*time.Minute))
	db.SetConnMaxIdleTime(config.Duration(cfg.ConnMaxIdleTime, 5*time.Minute))

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to ping database")
	}

	return &DuckDBRepository{
		db:           db,
		path:         dbPath,
		queryTimeout: config.Duration(cfg.QueryTimeout, 30*time.Second),
	}, nil
}

// Initialize creates the database schema using migrations
func (r *DuckDBRepository) Initialize(ctx context.Context) error {
	if err := NewMigrator(r.db).Up(ctx); err != nil {
		return errors.Wrap(err, errors.ErrTypeStorage, "failed to migrate database")
	}

	return nil
}

func (r *DuckDBRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, r.queryTimeout)
}

const selectRecord = "SELECT id, kind, version, acl, legal, data FROM records"

// FetchRecord returns the latest version of a record, or the version named by fullID
func (r *DuckDBRepository) FetchRecord(ctx context.Context, fullID string) (*records.Record, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	id, version, err := records.ParseIDVersion(fullID)
	if err != nil {
		return nil, err
	}

	var rec *records.Record

	if version == 0 {
		rec, err = scanRecord(r.db.QueryRowContext(ctx, selectRecord+" WHERE id = ?", id))
	} else {
		rec, err = r.fetchVersion(ctx, id, version)
	}

	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrTypeNotFound, "Record %s not found", fullID)
	}

	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeStorage, "failed to fetch record %s", fullID)
	}

	return rec, nil
}

func (r *DuckDBRepository) fetchVersion(ctx context.Context, id string, version int64) (*records.Record, error) {
	var payload string

	err := r.db.QueryRowContext(ctx,
		"SELECT payload FROM record_versions WHERE id = ? AND version = ?", id, version).Scan(&payload)
	if err != nil {
		return nil, err
	}

	var rec records.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

// UpsertRecords stores records in one transaction. A record without an id
// gets "{authority}:{entity type}:{uuid}"; every write bumps the version.
func (r *DuckDBRepository) UpsertRecords(ctx context.Context, recs []*records.Record) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to begin transaction")
	}

	defer func() { _ = tx.Rollback() }()

	ids := make([]string, 0, len(recs))

	for _, rec := range recs {
		fullID, err := upsertRecord(ctx, tx, rec)
		if err != nil {
			return nil, err
		}

		ids = append(ids, fullID)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to commit records")
	}

	return ids, nil
}

func upsertRecord(ctx context.Context, tx *sql.Tx, rec *records.Record) (string, error) {
	kind, err := records.ParseKind(rec.Kind)
	if err != nil {
		return "", err
	}

	id, _, err := records.ParseIDVersion(rec.ID)
	if err != nil {
		return "", err
	}

	if id == "" {
		id = fmt.Sprintf("%s:%s:%s", kind.Authority, kind.EntityType, uuid.NewString())
	}

	var previous int64

	err = tx.QueryRowContext(ctx, "SELECT version FROM records WHERE id = ?", id).Scan(&previous)
	exists := err == nil

	if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
		return "", errors.Wrapf(err, errors.ErrTypeStorage, "failed to read record %s", id)
	}

	rec.ID = id
	rec.Version = previous + 1

	acl, legal, data, err := encodeRecord(rec)
	if err != nil {
		return "", err
	}

	if exists {
		_, err = tx.ExecContext(ctx, `
			UPDATE records SET kind = ?, version = ?, acl = ?, legal = ?, data = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`,
			rec.Kind, rec.Version, acl, legal, data, id)
	} else {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO records (id, kind, version, acl, legal, data) VALUES (?, ?, ?, ?, ?, ?)",
			id, rec.Kind, rec.Version, acl, legal, data)
	}

	if err != nil {
		return "", errors.Wrapf(err, errors.ErrTypeStorage, "failed to store record %s", id)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrTypeInternal, "failed to encode record")
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO record_versions (id, version, kind, payload) VALUES (?, ?, ?, ?)",
		id, rec.Version, rec.Kind, string(payload))
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrTypeStorage, "failed to store version of record %s", id)
	}

	return fmt.Sprintf("%s:%d", id, rec.Version), nil
}

// QueryRecords looks ids up. Versioned ids must match a stored version.
// Unknown ids are returned in InvalidRecords, in input order.
func (r *DuckDBRepository) QueryRecords(ctx context.Context, ids []string) (*records.QueryResult, error) {
	result := &records.QueryResult{Records: []*records.Record{}, InvalidRecords: []string{}}
	if len(ids) == 0 {
		return result, nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	found := make(map[string]*records.Record, len(ids))

	var latest []interface{}

	for _, full := range ids {
		id, version, err := records.ParseIDVersion(full)
		if err != nil {
			continue
		}

		if version == 0 {
			latest = append(latest, id)
			continue
		}

		rec, err := r.fetchVersion(ctx, id, version)

		switch {
		case err == nil:
			found[full] = rec
		case !stderrors.Is(err, sql.ErrNoRows):
			return nil, errors.Wrapf(err, errors.ErrTypeStorage, "failed to query record %s", full)
		}
	}

	if len(latest) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(latest)), ", ")

		rows, err := r.db.QueryContext(ctx, selectRecord+" WHERE id IN ("+placeholders+")", latest...)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to query records")
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to scan record")
			}

			found[rec.ID] = rec
		}

		if err := rows.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to query records")
		}
	}

	for _, full := range ids {
		key := full
		if id, version, err := records.ParseIDVersion(full); err == nil && version == 0 {
			key = id
		}

		if rec, ok := found[key]; ok {
			result.Records = append(result.Records, rec)
		} else {
			result.InvalidRecords = append(result.InvalidRecords, full)
		}
	}

	return result, nil
}

// ListRecords returns records ordered by id, optionally of one kind
func (r *DuckDBRepository) ListRecords(ctx context.Context, kind string, limit, offset int) ([]*records.Record, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := selectRecord
	args := []interface{}{}

	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}

	query += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to list records")
	}
	defer rows.Close()

	var out []*records.Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to scan record")
		}

		out = append(out, rec)
	}

	return out, rows.Err()
}

// DeleteRecord removes a record and its version history
func (r *DuckDBRepository) DeleteRecord(ctx context.Context, id string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeStorage, "failed to begin transaction")
	}

	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM record_versions WHERE id = ?", id); err != nil {
		return errors.Wrapf(err, errors.ErrTypeStorage, "failed to delete versions of %s", id)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM records WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, errors.ErrTypeStorage, "failed to delete record %s", id)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Newf(errors.ErrTypeNotFound, "Record %s not found", id)
	}

	return tx.Commit()
}

// GetStats returns record store statistics
func (r *DuckDBRepository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{KindBreakdown: make(map[string]int)}

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&stats.TotalRecords)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to get record count")
	}

	err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM record_versions").Scan(&stats.TotalVersions)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to get version count")
	}

	var lastUpdated *time.Time

	err = r.db.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM records").Scan(&lastUpdated)
	if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to get last update time")
	}

	if lastUpdated != nil {
		stats.LastUpdated = *lastUpdated
	}

	if info, err := os.Stat(r.path); err == nil {
		stats.DatabaseSizeMB = float64(info.Size()) / (1024 * 1024)
	}

	kindRows, err := r.db.QueryContext(ctx, "SELECT kind, COUNT(*) FROM records GROUP BY kind ORDER BY COUNT(*) DESC")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to get kind breakdown")
	}
	defer kindRows.Close()

	for kindRows.Next() {
		var (
			kind  string
			count int
		)
		if err := kindRows.Scan(&kind, &count); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to scan kind breakdown")
		}

		stats.KindBreakdown[kind] = count
	}

	if err := kindRows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeStorage, "failed to get kind breakdown")
	}

	stats.TotalDatasets, err = r.countDatasets(ctx)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *DuckDBRepository) countDatasets(ctx context.Context) (int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT data FROM records WHERE data LIKE ?", "%"+records.DDMSDatasetsField+"%")
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrTypeStorage, "failed to count datasets")
	}
	defer rows.Close()

	total := 0

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return 0, errors.Wrap(err, errors.ErrTypeStorage, "failed to scan record data")
		}

		rec := records.Record{}
		if err := json.Unmarshal([]byte(data), &rec.Data); err == nil {
			total += len(rec.DDMSDatasets())
		}
	}

	return total, rows.Err()
}

// Clear removes all records from the database
func (r *DuckDBRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM record_versions"); err != nil {
		return errors.Wrap(err, errors.ErrTypeStorage, "failed to clear record versions")
	}

	if _, err := r.db.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return errors.Wrap(err, errors.ErrTypeStorage, "failed to clear records")
	}

	return nil
}

// Close closes the database connection
func (r *DuckDBRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*records.Record, error) {
	var (
		rec        records.Record
		acl, legal sql.NullString
		data       string
	)

	if err := row.Scan(&rec.ID, &rec.Kind, &rec.Version, &acl, &legal, &data); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
		return nil, fmt.Errorf("invalid data of record %s: %w", rec.ID, err)
	}

	if acl.Valid && acl.String != "" {
		if err := json.Unmarshal([]byte(acl.String), &rec.ACL); err != nil {
			return nil, fmt.Errorf("invalid acl of record %s: %w", rec.ID, err)
		}
	}

	if legal.Valid && legal.String != "" {
		if err := json.Unmarshal([]byte(legal.String), &rec.Legal); err != nil {
			return nil, fmt.Errorf("invalid legal of record %s: %w", rec.ID, err)
		}
	}

	return &rec, nil
}

func encodeRecord(rec *records.Record) (acl, legal sql.NullString, data string, err error) {
	if rec.ACL != nil {
		b, err := json.Marshal(rec.ACL)
		if err != nil {
			return acl, legal, "", errors.Wrap(err, errors.ErrTypeInternal, "failed to encode acl")
		}

		acl = sql.NullString{String: string(b), Valid: true}
	}

	if rec.Legal != nil {
		b, err := json.Marshal(rec.Legal)
		if err != nil {
			return acl, legal, "", errors.Wrap(err, errors.ErrTypeInternal, "failed to encode legal")
		}

		legal = sql.NullString{String: string(b), Valid: true}
	}

	d := rec.Data
	if d == nil {
		d = map[string]interface{}{}
	}

	b, err := json.Marshal(d)
	if err != nil {
		return acl, legal, "", errors.Wrap(err, errors.ErrTypeInternal, "failed to encode data")
	}

	return acl, legal, string(b), nil
}
