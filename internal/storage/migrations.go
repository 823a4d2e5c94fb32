package storage

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/kyleking/rafs-ddms/internal/logging"
)

// Migration is one versioned change of the record store schema
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// MigrationStatus reports whether a migration has been applied
type MigrationStatus struct {
	Version     int       `json:"version"`
	Description string    `json:"description"`
	Applied     bool      `json:"applied"`
	AppliedAt   time.Time `json:"applied_at,omitempty"`
}

var recordStoreMigrations = []Migration{
	{
		Version:     1,
		Description: "Record store",
		Up: `CREATE TABLE IF NOT EXISTS records (
			id VARCHAR PRIMARY KEY,
			kind VARCHAR NOT NULL,
			version BIGINT NOT NULL,
			acl VARCHAR,
			legal VARCHAR,
			data VARCHAR NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		Down: `DROP TABLE IF EXISTS records`,
	},
	{
		Version:     2,
		Description: "Record version history",
		Up: `CREATE TABLE IF NOT EXISTS record_versions (
			id VARCHAR NOT NULL,
			version BIGINT NOT NULL,
			kind VARCHAR NOT NULL,
			payload VARCHAR NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id, version)
		)`,
		Down: `DROP TABLE IF EXISTS record_versions`,
	},
}

// Migrator applies and rolls back the record store migrations. Applied
// versions are tracked in schema_migrations.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrator creates a migrator over db
func NewMigrator(db *sql.DB) *Migrator {
	migrations := slices.Clone(recordStoreMigrations)
	slices.SortFunc(migrations, func(a, b Migration) int { return a.Version - b.Version })

	return &Migrator{db: db, migrations: migrations}
}

// Latest is the highest known migration version
func (m *Migrator) Latest() int {
	if len(m.migrations) == 0 {
		return 0
	}

	return m.migrations[len(m.migrations)-1].Version
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	return nil
}

// Status lists every known migration in version order
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	appliedAt := map[int]time.Time{}

	for rows.Next() {
		var (
			version int
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration status: %w", err)
		}

		appliedAt[version] = at
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	status := make([]MigrationStatus, 0, len(m.migrations))

	for _, mig := range m.migrations {
		at, ok := appliedAt[mig.Version]
		status = append(status, MigrationStatus{
			Version:     mig.Version,
			Description: mig.Description,
			Applied:     ok,
			AppliedAt:   at,
		})
	}

	return status, nil
}

// Current is the highest applied version, 0 on a fresh database
func (m *Migrator) Current(ctx context.Context) (int, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}

	current := 0

	for _, s := range status {
		if s.Applied {
			current = s.Version
		}
	}

	return current, nil
}

// Up applies every pending migration in order
func (m *Migrator) Up(ctx context.Context) error {
	status, err := m.Status(ctx)
	if err != nil {
		return err
	}

	for i, s := range status {
		if s.Applied {
			continue
		}

		logging.Infof("Applying migration %d: %s", s.Version, s.Description)

		if err := m.step(ctx, m.migrations[i], true); err != nil {
			return err
		}
	}

	return nil
}

// DownTo rolls back applied migrations above version, newest first
func (m *Migrator) DownTo(ctx context.Context, version int) error {
	status, err := m.Status(ctx)
	if err != nil {
		return err
	}

	for i := len(status) - 1; i >= 0; i-- {
		s := status[i]
		if s.Version <= version || !s.Applied {
			continue
		}

		logging.Infof("Rolling back migration %d: %s", s.Version, s.Description)

		if err := m.step(ctx, m.migrations[i], false); err != nil {
			return err
		}
	}

	return nil
}

// step runs one direction of mig and its bookkeeping in a transaction
func (m *Migrator) step(ctx context.Context, mig Migration, up bool) error {
	script, record, args := mig.Down, "DELETE FROM schema_migrations WHERE version = ?", []any{mig.Version}
	if up {
		script = mig.Up
		record = "INSERT INTO schema_migrations (version, description) VALUES (?, ?)"
		args = append(args, mig.Description)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("migration %d (up=%t) failed: %w", mig.Version, up, err)
	}

	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", mig.Version, err)
	}

	return tx.Commit()
}
