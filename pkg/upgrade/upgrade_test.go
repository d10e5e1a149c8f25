package upgrade

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/dikkadev/store-provider/pkg/openstore"
	"github.com/dikkadev/store-provider/pkg/storage"
)

type fakeCatalog struct {
	entries map[string]*storage.CatalogEntry
}

func (c *fakeCatalog) Initialize(ctx context.Context) error { return nil }

func (c *fakeCatalog) ReplaceAll(ctx context.Context, entries []*storage.CatalogEntry) error {
	return nil
}

func (c *fakeCatalog) Search(ctx context.Context, query string) ([]*storage.CatalogEntry, error) {
	return nil, nil
}

func (c *fakeCatalog) SearchWithSummary(ctx context.Context, query string) ([]*storage.CatalogEntry, error) {
	return nil, nil
}

func (c *fakeCatalog) GetByID(ctx context.Context, packageID string) (*storage.CatalogEntry, error) {
	return c.entries[packageID], nil
}

func (c *fakeCatalog) Count(ctx context.Context) (int, error) { return len(c.entries), nil }

func (c *fakeCatalog) Close() error { return nil }

func catalogEntry(id, version, repoURL string) *storage.CatalogEntry {
	payload, _ := json.Marshal(map[string]string{"version": version})
	return &storage.CatalogEntry{
		Source:    "testrepo",
		PackageID: id,
		SourceURL: repoURL,
		Name:      id,
		Payload:   payload,
	}
}

func TestResolveDirect(t *testing.T) {
	catalog := &fakeCatalog{entries: map[string]*storage.CatalogEntry{
		"org.example.stale":   catalogEntry("org.example.stale", "2.0", "https://repo.example.org"),
		"org.example.current": catalogEntry("org.example.current", "1.0", "https://repo.example.org"),
	}}

	installed := []InstalledInfo{
		{ID: "org.example.stale", Name: "Stale", Version: "1.0"},
		{ID: "org.example.current", Name: "Current", Version: "1.0"},
		{ID: "org.example.unknown", Name: "Unknown", Version: "1.0"},
	}

	candidates, err := ResolveDirect(context.Background(), installed, catalog, zap.NewNop())
	if err != nil {
		t.Fatalf("ResolveDirect failed: %v", err)
	}

	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d: %v", len(candidates), candidates)
	}
	c := candidates[0]
	if c.ID != "org.example.stale" || c.CurrentVersion != "1.0" || c.AvailableVersion != "2.0" {
		t.Errorf("unexpected candidate: %+v", c)
	}
	if c.RepoURL != "https://repo.example.org" {
		t.Errorf("unexpected repo url: %s", c.RepoURL)
	}
}

func TestResolveDirectDowngradeStillCounts(t *testing.T) {
	// Version comparison is plain string inequality, a repo that moved
	// backwards still produces a candidate.
	catalog := &fakeCatalog{entries: map[string]*storage.CatalogEntry{
		"org.example.app": catalogEntry("org.example.app", "0.9", ""),
	}}

	candidates, err := ResolveDirect(context.Background(),
		[]InstalledInfo{{ID: "org.example.app", Version: "1.0"}}, catalog, zap.NewNop())
	if err != nil {
		t.Fatalf("ResolveDirect failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].Name != "org.example.app" {
		t.Errorf("expected id as fallback name, got %s", candidates[0].Name)
	}
}

func TestPickLatestVariantChannelPreference(t *testing.T) {
	downloads := []openstore.Download{
		{Channel: "xenial", Architecture: "arm64", Version: "1.0", Revision: 10},
		{Channel: "focal", Architecture: "arm64", Version: "2.0", Revision: 5},
		{Channel: "focal", Architecture: "arm64", Version: "2.1", Revision: 6},
		{Channel: "focal", Architecture: "armhf", Version: "2.2", Revision: 9},
	}

	// Installed channel wins even when another channel has a higher revision.
	d := PickLatestVariant(downloads, "arm64", "focal")
	if d == nil || d.Version != "2.1" {
		t.Errorf("expected focal revision 6, got %+v", d)
	}

	// Unknown installed channel falls back to focal.
	d = PickLatestVariant(downloads, "arm64", "noble")
	if d == nil || d.Version != "2.1" {
		t.Errorf("expected focal fallback, got %+v", d)
	}

	// Without a focal variant the highest revision of any channel wins.
	xenialOnly := []openstore.Download{
		{Channel: "xenial", Architecture: "all", Version: "1.0", Revision: 2},
		{Channel: "xenial", Architecture: "all", Version: "1.1", Revision: 4},
	}
	d = PickLatestVariant(xenialOnly, "arm64", "focal")
	if d == nil || d.Version != "1.1" {
		t.Errorf("expected highest revision, got %+v", d)
	}
}

func TestPickLatestVariantArchitectureFilter(t *testing.T) {
	downloads := []openstore.Download{
		{Channel: "focal", Architecture: "armhf", Version: "1.0", Revision: 1},
	}
	if d := PickLatestVariant(downloads, "arm64", "focal"); d != nil {
		t.Errorf("expected no compatible variant, got %+v", d)
	}

	all := []openstore.Download{
		{Channel: "focal", Architecture: "all", Version: "1.0", Revision: 1},
	}
	if d := PickLatestVariant(all, "arm64", "focal"); d == nil {
		t.Error("expected architecture-independent variant to match")
	}
}

func TestResolveVariant(t *testing.T) {
	app := &storage.InstalledApp{
		ID:           "terminal.app",
		Name:         "Terminal",
		Version:      "1.0",
		Channel:      "focal",
		Architecture: "arm64",
	}

	downloads := []openstore.Download{
		{Channel: "focal", Architecture: "arm64", Version: "1.1", Revision: 8, DownloadURL: "https://open-store.io/dl/8"},
	}

	c := ResolveVariant(app, downloads)
	if c == nil {
		t.Fatal("expected a candidate")
	}
	if c.AvailableVersion != "1.1" || c.DownloadURL != "https://open-store.io/dl/8" {
		t.Errorf("unexpected candidate: %+v", c)
	}

	// Same version means nothing to do.
	same := []openstore.Download{
		{Channel: "focal", Architecture: "arm64", Version: "1.0", Revision: 8},
	}
	if c := ResolveVariant(app, same); c != nil {
		t.Errorf("expected no candidate for current version, got %+v", c)
	}

	// No compatible architecture.
	if c := ResolveVariant(app, []openstore.Download{{Channel: "focal", Architecture: "armhf", Version: "2.0"}}); c != nil {
		t.Errorf("expected no candidate, got %+v", c)
	}
}
