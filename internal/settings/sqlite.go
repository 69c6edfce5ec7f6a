package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/studio-ops/coordinator/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS app_settings (
	org                    TEXT    NOT NULL,
	app                    TEXT    NOT NULL,
	environment            TEXT    NOT NULL DEFAULT '',
	undeploy_on_inactivity INTEGER NOT NULL DEFAULT 0,
	created                TIMESTAMP NOT NULL,
	created_by             TEXT    NOT NULL,
	last_modified_by       TEXT    NOT NULL,
	version                INTEGER NOT NULL,
	PRIMARY KEY (org, app, environment)
);
`

// SQLiteStore implements Store on a SQLite database. The composite primary
// key makes the global row and each environment override row separately
// unique; the version column carries the optimistic concurrency token.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore wraps an already-open database. The caller owns schema
// creation; use Open for the full open-and-migrate path.
func NewSQLiteStore(db *sql.DB, logger *zap.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

// Open opens (creating if necessary) the settings database at path and
// ensures the schema exists.
func Open(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach settings database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create settings schema: %w", err)
	}

	logger.Info("Settings database ready", zap.String("path", path))

	return NewSQLiteStore(db, logger), nil
}

// Get returns the row for the exact (org, app, environment) triple.
func (s *SQLiteStore) Get(ctx context.Context, org, app, environment string) (*model.AppSettings, error) {
	if org == "" || app == "" {
		return nil, fmt.Errorf("%w: org and app are required", ErrInvalidEntity)
	}

	query := `
		SELECT org, app, environment, undeploy_on_inactivity,
		       created, created_by, last_modified_by, version
		FROM app_settings
		WHERE org = ? AND app = ? AND environment = ?
	`
	row := s.db.QueryRowContext(ctx, query, org, app, environment)

	entity, err := scanSettings(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read app settings: %w", err)
	}
	return entity, nil
}

// GetAll returns a snapshot of every settings row.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]model.AppSettings, error) {
	query := `
		SELECT org, app, environment, undeploy_on_inactivity,
		       created, created_by, last_modified_by, version
		FROM app_settings
		ORDER BY org, app, environment
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list app settings: %w", err)
	}
	defer rows.Close()

	var all []model.AppSettings
	for rows.Next() {
		entity, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan app settings: %w", err)
		}
		all = append(all, *entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate app settings: %w", err)
	}
	return all, nil
}

// Upsert inserts or CAS-updates one settings row. The update is a single
// compare-and-swap statement guarded by the version column, never a
// read-then-write.
func (s *SQLiteStore) Upsert(ctx context.Context, entity model.AppSettings) (*model.AppSettings, error) {
	if entity.Org == "" || entity.App == "" {
		return nil, fmt.Errorf("%w: org and app are required", ErrInvalidEntity)
	}
	if entity.LastModifiedBy == "" {
		return nil, fmt.Errorf("%w: last modified by is required", ErrInvalidEntity)
	}

	update := `
		UPDATE app_settings
		SET undeploy_on_inactivity = ?, last_modified_by = ?, version = version + 1
		WHERE org = ? AND app = ? AND environment = ? AND version = ?
	`
	res, err := s.db.ExecContext(ctx, update,
		entity.UndeployOnInactivity,
		entity.LastModifiedBy,
		entity.Org,
		entity.App,
		entity.Environment,
		entity.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update app settings: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check update result: %w", err)
	}

	if affected == 1 {
		s.logger.Debug("App settings updated",
			zap.String("org", entity.Org),
			zap.String("app", entity.App),
			zap.String("environment", entity.Environment),
			zap.Int64("version", entity.Version+1),
		)
		return s.Get(ctx, entity.Org, entity.App, entity.Environment)
	}

	// No row matched: either the triple does not exist yet, or the
	// caller's version token is stale.
	_, err = s.Get(ctx, entity.Org, entity.App, entity.Environment)
	switch {
	case err == nil:
		return nil, ErrConcurrencyConflict
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	return s.insert(ctx, entity)
}

func (s *SQLiteStore) insert(ctx context.Context, entity model.AppSettings) (*model.AppSettings, error) {
	insert := `
		INSERT INTO app_settings (
			org, app, environment, undeploy_on_inactivity,
			created, created_by, last_modified_by, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1)
	`
	_, err := s.db.ExecContext(ctx, insert,
		entity.Org,
		entity.App,
		entity.Environment,
		entity.UndeployOnInactivity,
		time.Now().UTC(),
		entity.LastModifiedBy,
		entity.LastModifiedBy,
	)
	if err != nil {
		// A concurrent writer may have inserted the same triple between
		// our existence check and this statement; surface that as the
		// same conflict a stale version produces.
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return nil, ErrConcurrencyConflict
		}
		return nil, fmt.Errorf("failed to insert app settings: %w", err)
	}

	s.logger.Debug("App settings created",
		zap.String("org", entity.Org),
		zap.String("app", entity.App),
		zap.String("environment", entity.Environment),
	)

	return s.Get(ctx, entity.Org, entity.App, entity.Environment)
}

// Ping verifies the backing database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the backing database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSettings(row interface {
	Scan(dest ...interface{}) error
}) (*model.AppSettings, error) {
	var entity model.AppSettings
	err := row.Scan(
		&entity.Org,
		&entity.App,
		&entity.Environment,
		&entity.UndeployOnInactivity,
		&entity.Created,
		&entity.CreatedBy,
		&entity.LastModifiedBy,
		&entity.Version,
	)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}
