package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/dikkadev/store-provider/pkg/andromeda"
	"github.com/dikkadev/store-provider/pkg/storage"
)

type fakeSession struct {
	pingErr    error
	apps       []andromeda.AppInfo
	installed  []string
	removed    []string
	installErr error
	removeErr  error
}

func (s *fakeSession) Ping(ctx context.Context) error { return s.pingErr }

func (s *fakeSession) InstallApp(ctx context.Context, packagePath string) error {
	if s.installErr != nil {
		return s.installErr
	}
	s.installed = append(s.installed, packagePath)
	return nil
}

func (s *fakeSession) RemoveApp(ctx context.Context, packageName string) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	s.removed = append(s.removed, packageName)
	return nil
}

func (s *fakeSession) AppsInfo(ctx context.Context) ([]andromeda.AppInfo, error) {
	return s.apps, nil
}

type fakeSyncer struct {
	syncs     int
	populated int
	ok        bool
	err       error
}

func (s *fakeSyncer) Sync(ctx context.Context) (bool, error) {
	s.syncs++
	return s.ok, s.err
}

func (s *fakeSyncer) EnsurePopulated(ctx context.Context) (bool, error) {
	s.populated++
	return s.ok, s.err
}

type fakeCatalog struct {
	entries map[string]*storage.CatalogEntry
	results []*storage.CatalogEntry
}

func (c *fakeCatalog) Initialize(ctx context.Context) error { return nil }

func (c *fakeCatalog) ReplaceAll(ctx context.Context, entries []*storage.CatalogEntry) error {
	return nil
}

func (c *fakeCatalog) Search(ctx context.Context, query string) ([]*storage.CatalogEntry, error) {
	return c.results, nil
}

func (c *fakeCatalog) SearchWithSummary(ctx context.Context, query string) ([]*storage.CatalogEntry, error) {
	return c.results, nil
}

func (c *fakeCatalog) GetByID(ctx context.Context, packageID string) (*storage.CatalogEntry, error) {
	return c.entries[packageID], nil
}

func (c *fakeCatalog) Count(ctx context.Context) (int, error) { return len(c.entries), nil }

func (c *fakeCatalog) Close() error { return nil }

type fakeDownloader struct {
	downloads []string
	err       error
	errFor    map[string]error
}

func (d *fakeDownloader) DownloadFile(ctx context.Context, url, destPath string) error {
	if d.err != nil {
		return d.err
	}
	if err, ok := d.errFor[url]; ok {
		return err
	}
	d.downloads = append(d.downloads, url)
	return os.WriteFile(destPath, []byte("artifact"), 0o644)
}

func fdroidEntry(id, version, apkName string) *storage.CatalogEntry {
	payload, _ := json.Marshal(map[string]interface{}{
		"apk_name":     apkName,
		"download_url": "https://repo.example.org/" + apkName,
		"version":      version,
	})
	return &storage.CatalogEntry{
		Source:    "testrepo",
		PackageID: id,
		SourceURL: "https://repo.example.org",
		Name:      id,
		Payload:   payload,
	}
}

func newFDroidService(t *testing.T, session *fakeSession, syncer *fakeSyncer, catalog *fakeCatalog, downloader *fakeDownloader) *FDroidService {
	t.Helper()

	svc := NewFDroidService(FDroidConfig{
		Catalog:      catalog,
		Syncer:       syncer,
		Session:      session,
		Downloader:   downloader,
		SystemDir:    t.TempDir(),
		CustomDir:    t.TempDir(),
		DownloadsDir: t.TempDir(),
		Logger:       zap.NewNop(),
	})
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestFDroidSearchGatedOnSession(t *testing.T) {
	session := &fakeSession{pingErr: errors.New("no container")}
	syncer := &fakeSyncer{ok: true}
	catalog := &fakeCatalog{results: []*storage.CatalogEntry{fdroidEntry("a", "1.0", "a.apk")}}
	svc := newFDroidService(t, session, syncer, catalog, &fakeDownloader{})

	results, err := svc.Search(context.Background(), "a")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results when container is down, got %v", results)
	}
	if syncer.populated != 0 {
		t.Error("expected no catalog access when container is down")
	}
}

func TestFDroidSearch(t *testing.T) {
	session := &fakeSession{}
	syncer := &fakeSyncer{ok: true}
	catalog := &fakeCatalog{results: []*storage.CatalogEntry{fdroidEntry("org.example.app", "1.0", "app.apk")}}
	svc := newFDroidService(t, session, syncer, catalog, &fakeDownloader{})

	results, err := svc.Search(context.Background(), "app")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != "org.example.app" || results[0].Repository != "testrepo" {
		t.Errorf("unexpected result: %+v", results[0])
	}
	if syncer.populated != 1 {
		t.Errorf("expected EnsurePopulated to run once, got %d", syncer.populated)
	}
}

func TestFDroidInstall(t *testing.T) {
	session := &fakeSession{}
	syncer := &fakeSyncer{ok: true}
	catalog := &fakeCatalog{entries: map[string]*storage.CatalogEntry{
		"org.example.app": fdroidEntry("org.example.app", "1.0", "app.apk"),
	}}
	downloader := &fakeDownloader{}

	var signaled []string
	svc := NewFDroidService(FDroidConfig{
		Catalog:      catalog,
		Syncer:       syncer,
		Session:      session,
		Downloader:   downloader,
		SystemDir:    t.TempDir(),
		CustomDir:    t.TempDir(),
		DownloadsDir: t.TempDir(),
		Logger:       zap.NewNop(),
		OnInstalled:  func(id string) { signaled = append(signaled, id) },
	})
	defer svc.Close()

	ok, err := svc.Install(context.Background(), "org.example.app")
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if !ok {
		t.Fatal("expected install to succeed")
	}

	if len(session.installed) != 1 {
		t.Fatalf("expected 1 container install, got %v", session.installed)
	}
	if filepath.Base(session.installed[0]) != "app.apk" {
		t.Errorf("unexpected apk path: %s", session.installed[0])
	}
	// The artifact is removed after handing it to the container.
	if _, err := os.Stat(session.installed[0]); !os.IsNotExist(err) {
		t.Error("expected downloaded apk to be deleted")
	}
	if len(signaled) != 1 || signaled[0] != "org.example.app" {
		t.Errorf("expected AppInstalled notification, got %v", signaled)
	}
}

func TestFDroidInstallUnknownPackage(t *testing.T) {
	svc := newFDroidService(t, &fakeSession{}, &fakeSyncer{ok: true},
		&fakeCatalog{entries: map[string]*storage.CatalogEntry{}}, &fakeDownloader{})

	ok, err := svc.Install(context.Background(), "org.example.missing")
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if ok {
		t.Error("expected install of unknown package to fail")
	}
}

func TestFDroidGetUpgradable(t *testing.T) {
	session := &fakeSession{apps: []andromeda.AppInfo{
		{PackageName: "org.example.stale", Name: "Stale", VersionName: "1.0"},
		{PackageName: "org.example.current", Name: "Current", VersionName: "2.0"},
	}}
	catalog := &fakeCatalog{entries: map[string]*storage.CatalogEntry{
		"org.example.stale":   fdroidEntry("org.example.stale", "2.0", "stale.apk"),
		"org.example.current": fdroidEntry("org.example.current", "2.0", "current.apk"),
	}}
	svc := newFDroidService(t, session, &fakeSyncer{ok: true}, catalog, &fakeDownloader{})

	candidates, err := svc.GetUpgradable(context.Background())
	if err != nil {
		t.Fatalf("GetUpgradable failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d: %v", len(candidates), candidates)
	}
	if candidates[0].ID != "org.example.stale" || candidates[0].AvailableVersion != "2.0" {
		t.Errorf("unexpected candidate: %+v", candidates[0])
	}
}

func TestFDroidUpgradePackagesAllWhenEmpty(t *testing.T) {
	session := &fakeSession{apps: []andromeda.AppInfo{
		{PackageName: "org.example.stale", Name: "Stale", VersionName: "1.0"},
	}}
	catalog := &fakeCatalog{entries: map[string]*storage.CatalogEntry{
		"org.example.stale": fdroidEntry("org.example.stale", "2.0", "stale.apk"),
	}}
	downloader := &fakeDownloader{}
	svc := newFDroidService(t, session, &fakeSyncer{ok: true}, catalog, downloader)

	ok, err := svc.UpgradePackages(context.Background(), nil)
	if err != nil {
		t.Fatalf("UpgradePackages failed: %v", err)
	}
	if !ok {
		t.Fatal("expected upgrade to succeed")
	}
	if len(session.installed) != 1 {
		t.Errorf("expected 1 upgrade install, got %v", session.installed)
	}
}

func TestFDroidUpgradePackagesContinuesPastFailure(t *testing.T) {
	session := &fakeSession{apps: []andromeda.AppInfo{
		{PackageName: "org.example.broken", Name: "Broken", VersionName: "1.0"},
		{PackageName: "org.example.good", Name: "Good", VersionName: "1.0"},
	}}
	catalog := &fakeCatalog{entries: map[string]*storage.CatalogEntry{
		"org.example.broken": fdroidEntry("org.example.broken", "2.0", "broken.apk"),
		"org.example.good":   fdroidEntry("org.example.good", "2.0", "good.apk"),
	}}
	downloader := &fakeDownloader{errFor: map[string]error{
		"https://repo.example.org/broken.apk": errors.New("mirror gone"),
	}}
	svc := newFDroidService(t, session, &fakeSyncer{ok: true}, catalog, downloader)

	ok, err := svc.UpgradePackages(context.Background(), nil)
	if err != nil {
		t.Fatalf("UpgradePackages failed: %v", err)
	}
	if ok {
		t.Error("expected overall failure to be reported")
	}

	// The failed package does not stop the remaining upgrades.
	if len(session.installed) != 1 {
		t.Fatalf("expected 1 install despite the failure, got %v", session.installed)
	}
	if filepath.Base(session.installed[0]) != "good.apk" {
		t.Errorf("unexpected apk installed: %s", session.installed[0])
	}
}

func TestFDroidUpgradePackagesNothingToDo(t *testing.T) {
	svc := newFDroidService(t, &fakeSession{}, &fakeSyncer{ok: true},
		&fakeCatalog{}, &fakeDownloader{})

	ok, err := svc.UpgradePackages(context.Background(), nil)
	if err != nil {
		t.Fatalf("UpgradePackages failed: %v", err)
	}
	if !ok {
		t.Error("expected empty upgrade to report success")
	}
}

func TestFDroidGetInstalledApps(t *testing.T) {
	session := &fakeSession{apps: []andromeda.AppInfo{
		{PackageName: "org.example.app", Name: "Example", VersionName: "1.0"},
	}}
	svc := newFDroidService(t, session, &fakeSyncer{ok: true}, &fakeCatalog{}, &fakeDownloader{})

	apps, err := svc.GetInstalledApps(context.Background())
	if err != nil {
		t.Fatalf("GetInstalledApps failed: %v", err)
	}
	if len(apps) != 1 {
		t.Fatalf("expected 1 app, got %d", len(apps))
	}
	if apps[0].ID != "org.example.app" || apps[0].State != "installed" {
		t.Errorf("unexpected app: %+v", apps[0])
	}
}

func TestFDroidUninstall(t *testing.T) {
	session := &fakeSession{}
	svc := newFDroidService(t, session, &fakeSyncer{ok: true}, &fakeCatalog{}, &fakeDownloader{})

	ok, err := svc.UninstallApp(context.Background(), "org.example.app")
	if err != nil {
		t.Fatalf("UninstallApp failed: %v", err)
	}
	if !ok {
		t.Fatal("expected uninstall to succeed")
	}
	if len(session.removed) != 1 || session.removed[0] != "org.example.app" {
		t.Errorf("unexpected removals: %v", session.removed)
	}
}

func TestFDroidUpdateCacheGatedOnSession(t *testing.T) {
	syncer := &fakeSyncer{ok: true}
	svc := newFDroidService(t, &fakeSession{pingErr: errors.New("down")}, syncer, &fakeCatalog{}, &fakeDownloader{})

	ok, err := svc.UpdateCache(context.Background())
	if err != nil {
		t.Fatalf("UpdateCache failed: %v", err)
	}
	if ok {
		t.Error("expected update to report failure when container is down")
	}
	if syncer.syncs != 0 {
		t.Error("expected no sync when container is down")
	}
}
