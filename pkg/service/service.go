// Package service implements the store operations exposed on the bus.
// Each store runs its operations through a task serializer so that
// work against the shared caches never interleaves.
package service

import (
	"context"
	"encoding/json"

	"github.com/dikkadev/store-provider/pkg/upgrade"
)

// SearchResult is one row of a search response, serialized to JSON on
// the wire.
type SearchResult struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Summary     string          `json:"summary"`
	Description string          `json:"description"`
	License     string          `json:"license"`
	Author      string          `json:"author"`
	WebURL      string          `json:"web_url"`
	Repository  string          `json:"repository"`
	Package     json.RawMessage `json:"package"`
}

// InstalledApp is an installed app as reported to clients.
type InstalledApp struct {
	ID           string
	Name         string
	Version      string
	Channel      string
	Architecture string
	InstallDate  float64
	State        string
}

// Repository is a configured package source.
type Repository struct {
	Name string
	URL  string
}

// Store is the operation surface both store services share.
type Store interface {
	// Name identifies the store ("fdroid" or "openstore").
	Name() string

	// Search queries the catalog, refreshing it first when it is empty.
	Search(ctx context.Context, query string) ([]SearchResult, error)

	// UpdateCache refreshes the catalog from the upstream sources.
	UpdateCache(ctx context.Context) (bool, error)

	// Install downloads and installs a package by id.
	Install(ctx context.Context, packageID string) (bool, error)

	// GetRepositories lists the configured sources.
	GetRepositories(ctx context.Context) ([]Repository, error)

	// GetUpgradable lists installed apps with a newer build available.
	GetUpgradable(ctx context.Context) ([]upgrade.Candidate, error)

	// UpgradePackages upgrades the given packages, or every upgradable
	// package when the list is empty.
	UpgradePackages(ctx context.Context, packages []string) (bool, error)

	// GetInstalledApps lists the installed apps of this store.
	GetInstalledApps(ctx context.Context) ([]InstalledApp, error)

	// UninstallApp removes an installed app.
	UninstallApp(ctx context.Context, packageID string) (bool, error)

	// Close stops the task serializer and releases resources.
	Close() error
}
