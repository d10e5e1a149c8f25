package openstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dikkadev/store-provider/pkg/storage"
)

// SourceName identifies OpenStore rows in the catalog.
const SourceName = "OpenStore"

// StoreURL is the public storefront address reported to clients.
const StoreURL = "https://open-store.io"

// Lister fetches the full app listing.
type Lister interface {
	FetchAppList(ctx context.Context) ([]*App, error)
}

// Syncer refreshes the OpenStore catalog from the API.
type Syncer struct {
	client  Lister
	catalog storage.CatalogStore
	logger  *zap.Logger
}

// NewSyncer creates a syncer writing into catalog.
func NewSyncer(client Lister, catalog storage.CatalogStore, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{client: client, catalog: catalog, logger: logger}
}

// Sync fetches the complete listing and replaces the catalog with it.
// When the fetch fails the previous snapshot is left untouched.
func (s *Syncer) Sync(ctx context.Context) error {
	apps, err := s.client.FetchAppList(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch apps: %w", err)
	}

	entries := make([]*storage.CatalogEntry, 0, len(apps))
	for _, app := range apps {
		entries = append(entries, buildEntry(app))
	}

	if err := s.catalog.ReplaceAll(ctx, entries); err != nil {
		return fmt.Errorf("failed to store catalog: %w", err)
	}

	s.logger.Info("openstore catalog synchronized", zap.Int("apps", len(entries)))
	return nil
}

// EnsurePopulated runs a sync when the catalog is empty.
func (s *Syncer) EnsurePopulated(ctx context.Context) error {
	count, err := s.catalog.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	s.logger.Info("catalog is empty, triggering sync")
	return s.Sync(ctx)
}

func buildEntry(app *App) *storage.CatalogEntry {
	var categories []string
	if app.Category != "" {
		categories = []string{app.Category}
	}

	return &storage.CatalogEntry{
		Source:      SourceName,
		PackageID:   app.ID,
		SourceURL:   StoreURL,
		Name:        app.Name,
		Summary:     app.Tagline,
		Description: app.Description,
		License:     app.License,
		Categories:  categories,
		Author:      app.Author,
		WebURL:      StoreURL + "/app/" + app.ID,
		AddedDate:   app.PublishedDate,
		UpdatedDate: app.UpdatedDate,
		Payload:     app.Raw,
	}
}
