package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// LibSQLCatalog is a CatalogStore backed by a local libsql database.
type LibSQLCatalog struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLibSQLCatalog creates a catalog store for the given database URL,
// e.g. "file:/home/user/.cache/store-provider/db/fdroid.db".
func NewLibSQLCatalog(url string, logger *zap.Logger) (*LibSQLCatalog, error) {
	db, err := openDatabase(url)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LibSQLCatalog{db: db, logger: logger}, nil
}

// Initialize creates the catalog schema if it doesn't exist.
func (c *LibSQLCatalog) Initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS catalog (
		source TEXT NOT NULL,
		package_id TEXT NOT NULL,
		source_url TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		license TEXT NOT NULL DEFAULT '',
		categories TEXT NOT NULL DEFAULT '[]',
		author TEXT NOT NULL DEFAULT '',
		web_url TEXT NOT NULL DEFAULT '',
		source_code TEXT NOT NULL DEFAULT '',
		tracker_url TEXT NOT NULL DEFAULT '',
		changelog_url TEXT NOT NULL DEFAULT '',
		donation_urls TEXT NOT NULL DEFAULT '[]',
		added_date TEXT NOT NULL DEFAULT '',
		updated_date TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (source, package_id)
	);

	CREATE INDEX IF NOT EXISTS idx_catalog_name ON catalog(LOWER(name));
	`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create catalog schema: %w", err)
	}

	return nil
}

// ReplaceAll swaps the whole catalog for the given entries in a single
// transaction. Readers either see the previous catalog or the new one,
// never a partial mix.
func (c *LibSQLCatalog) ReplaceAll(ctx context.Context, entries []*CatalogEntry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM catalog"); err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO catalog (
			source, package_id, source_url, name, summary, description,
			license, categories, author, web_url, source_code, tracker_url,
			changelog_url, donation_urls, added_date, updated_date, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		categories, err := json.Marshal(e.Categories)
		if err != nil {
			return fmt.Errorf("failed to marshal categories for %s: %w", e.PackageID, err)
		}
		donations, err := json.Marshal(e.DonationURLs)
		if err != nil {
			return fmt.Errorf("failed to marshal donation urls for %s: %w", e.PackageID, err)
		}
		payload := e.Payload
		if payload == nil {
			payload = json.RawMessage("{}")
		}

		if _, err := stmt.ExecContext(ctx,
			e.Source, e.PackageID, e.SourceURL, e.Name, e.Summary, e.Description,
			e.License, string(categories), e.Author, e.WebURL, e.SourceCode, e.TrackerURL,
			e.ChangelogURL, string(donations), e.AddedDate, e.UpdatedDate, string(payload),
		); err != nil {
			return fmt.Errorf("failed to insert %s: %w", e.PackageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog replace: %w", err)
	}

	c.logger.Debug("catalog replaced", zap.Int("entries", len(entries)))
	return nil
}

// Search returns entries whose name contains the query, case-insensitively.
func (c *LibSQLCatalog) Search(ctx context.Context, query string) ([]*CatalogEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT source, package_id, source_url, name, summary, description,
			license, categories, author, web_url, source_code, tracker_url,
			changelog_url, donation_urls, added_date, updated_date, payload
		FROM catalog
		WHERE LOWER(name) LIKE LOWER(?)
		ORDER BY name
	`, "%"+query+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to search catalog: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// SearchWithSummary matches the query against name or summary.
func (c *LibSQLCatalog) SearchWithSummary(ctx context.Context, query string) ([]*CatalogEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT source, package_id, source_url, name, summary, description,
			license, categories, author, web_url, source_code, tracker_url,
			changelog_url, donation_urls, added_date, updated_date, payload
		FROM catalog
		WHERE LOWER(name) LIKE LOWER(?) OR LOWER(summary) LIKE LOWER(?)
		ORDER BY name
	`, "%"+query+"%", "%"+query+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to search catalog: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetByID returns the entry for a package ID, or nil if none exists.
// A package ID can appear under more than one source; the first row
// wins and the multiplicity is logged.
func (c *LibSQLCatalog) GetByID(ctx context.Context, packageID string) (*CatalogEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT source, package_id, source_url, name, summary, description,
			license, categories, author, web_url, source_code, tracker_url,
			changelog_url, donation_urls, added_date, updated_date, payload
		FROM catalog
		WHERE package_id = ?
		ORDER BY source
	`, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	if len(entries) > 1 {
		c.logger.Warn("package present in multiple sources, using first",
			zap.String("package_id", packageID),
			zap.Int("sources", len(entries)))
	}
	return entries[0], nil
}

// Count returns the number of catalog entries.
func (c *LibSQLCatalog) Count(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM catalog").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count catalog: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (c *LibSQLCatalog) Close() error {
	return c.db.Close()
}

func scanEntries(rows *sql.Rows) ([]*CatalogEntry, error) {
	var entries []*CatalogEntry
	for rows.Next() {
		var e CatalogEntry
		var categories, donations, payload string
		if err := rows.Scan(
			&e.Source, &e.PackageID, &e.SourceURL, &e.Name, &e.Summary, &e.Description,
			&e.License, &categories, &e.Author, &e.WebURL, &e.SourceCode, &e.TrackerURL,
			&e.ChangelogURL, &donations, &e.AddedDate, &e.UpdatedDate, &payload,
		); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(categories), &e.Categories); err != nil {
			return nil, fmt.Errorf("failed to unmarshal categories: %w", err)
		}
		if err := json.Unmarshal([]byte(donations), &e.DonationURLs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal donation urls: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}
