// Package storage persists the synchronized catalog snapshot and the
// installed-app records for one store service.
package storage

import (
	"context"
	"encoding/json"
	"time"
)

// CatalogEntry represents one available package from one source.
type CatalogEntry struct {
	Source       string          // Source (repository) identifier
	PackageID    string          // Package identifier within the source
	SourceURL    string          // URL of the source the entry came from
	Name         string          // Human-readable name
	Summary      string          // One-line summary
	Description  string          // Full description
	License      string          // License identifier
	Categories   []string        // Category tags
	Author       string          // Author name
	WebURL       string          // Project website
	SourceCode   string          // Source code location
	TrackerURL   string          // Issue tracker
	ChangelogURL string          // Changelog
	DonationURLs []string        // Donation links
	AddedDate    string          // When the package was first published
	UpdatedDate  string          // When the package was last updated
	Payload      json.RawMessage // Format-specific install metadata blob
}

// InstalledApp represents one locally-installed app.
type InstalledApp struct {
	ID           string    // Package identifier
	Name         string    // Human-readable name
	Version      string    // Installed version
	Channel      string    // Release channel the install came from
	Architecture string    // Architecture the install was built for
	InstalledAt  time.Time // When the app was installed
	AppDir       string    // Directory holding the extracted app
}

// CatalogStore holds the last-synchronized snapshot of available packages.
// A sync replaces the whole table atomically; readers never observe a
// partially-written snapshot.
type CatalogStore interface {
	// Initialize creates the schema
	Initialize(ctx context.Context) error

	// ReplaceAll atomically replaces the catalog contents with entries
	ReplaceAll(ctx context.Context, entries []*CatalogEntry) error

	// Search returns entries whose name contains query, case-insensitively
	Search(ctx context.Context, query string) ([]*CatalogEntry, error)

	// SearchWithSummary matches query against name or summary
	SearchWithSummary(ctx context.Context, query string) ([]*CatalogEntry, error)

	// GetByID returns the entry for a package id, or nil if absent.
	// If several sources provide the id, the first row wins.
	GetByID(ctx context.Context, packageID string) (*CatalogEntry, error)

	// Count returns the number of catalog rows
	Count(ctx context.Context) (int, error)

	// Close closes the store
	Close() error
}

// InstalledStore holds the installed-app records. Records whose app
// directory has disappeared from disk are pruned lazily on read.
type InstalledStore interface {
	// Initialize creates the schema
	Initialize(ctx context.Context) error

	// List returns all valid installed apps
	List(ctx context.Context) ([]*InstalledApp, error)

	// Get returns one installed app, or nil if absent
	Get(ctx context.Context, id string) (*InstalledApp, error)

	// Upsert inserts or replaces an installed-app record
	Upsert(ctx context.Context, app *InstalledApp) error

	// Delete removes an installed-app record
	Delete(ctx context.Context, id string) error

	// Close closes the store
	Close() error
}
