package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// LibSQLInstalled is an InstalledStore backed by a local libsql database.
type LibSQLInstalled struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLibSQLInstalled creates an installed-app store for the given database URL.
func NewLibSQLInstalled(url string, logger *zap.Logger) (*LibSQLInstalled, error) {
	db, err := openDatabase(url)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LibSQLInstalled{db: db, logger: logger}, nil
}

// Initialize creates the installed-apps schema if it doesn't exist.
func (s *LibSQLInstalled) Initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS installed_apps (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		architecture TEXT NOT NULL DEFAULT '',
		installed_at TIMESTAMP NOT NULL,
		app_dir TEXT NOT NULL
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create installed schema: %w", err)
	}

	return nil
}

// List returns all installed apps. Rows whose app directory no longer
// exists on disk are removed and not returned.
func (s *LibSQLInstalled) List(ctx context.Context) ([]*InstalledApp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, version, channel, architecture, installed_at, app_dir
		FROM installed_apps
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list installed apps: %w", err)
	}

	apps, err := scanApps(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	var alive []*InstalledApp
	for _, app := range apps {
		if s.pruneIfMissing(ctx, app) {
			continue
		}
		alive = append(alive, app)
	}
	return alive, nil
}

// Get returns the installed app with the given id, or nil if absent.
// A stale row whose app directory is gone is removed and reported absent.
func (s *LibSQLInstalled) Get(ctx context.Context, id string) (*InstalledApp, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, version, channel, architecture, installed_at, app_dir
		FROM installed_apps
		WHERE id = ?
	`, id)

	app, err := scanApp(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get installed app: %w", err)
	}

	if s.pruneIfMissing(ctx, app) {
		return nil, nil
	}
	return app, nil
}

// Upsert inserts or replaces an installed-app record.
func (s *LibSQLInstalled) Upsert(ctx context.Context, app *InstalledApp) error {
	installedAt := app.InstalledAt
	if installedAt.IsZero() {
		installedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO installed_apps
			(id, name, version, channel, architecture, installed_at, app_dir)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, app.ID, app.Name, app.Version, app.Channel, app.Architecture, installedAt, app.AppDir)
	if err != nil {
		return fmt.Errorf("failed to upsert installed app: %w", err)
	}
	return nil
}

// Delete removes an installed-app record. Deleting an absent id is not
// an error.
func (s *LibSQLInstalled) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM installed_apps WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete installed app: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *LibSQLInstalled) Close() error {
	return s.db.Close()
}

// pruneIfMissing deletes the record when its app directory has
// disappeared, e.g. after a manual removal. A record without an app
// directory is treated as missing. Returns true if pruned.
func (s *LibSQLInstalled) pruneIfMissing(ctx context.Context, app *InstalledApp) bool {
	if app.AppDir != "" {
		if _, err := os.Stat(app.AppDir); err == nil {
			return false
		}
	}

	s.logger.Info("pruning installed app with missing directory",
		zap.String("id", app.ID),
		zap.String("app_dir", app.AppDir))
	if err := s.Delete(ctx, app.ID); err != nil {
		s.logger.Warn("failed to prune installed app", zap.String("id", app.ID), zap.Error(err))
	}
	return true
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApp(row rowScanner) (*InstalledApp, error) {
	var app InstalledApp
	err := row.Scan(&app.ID, &app.Name, &app.Version, &app.Channel,
		&app.Architecture, &app.InstalledAt, &app.AppDir)
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func scanApps(rows *sql.Rows) ([]*InstalledApp, error) {
	var apps []*InstalledApp
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installed app: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate installed apps: %w", err)
	}
	return apps, nil
}
