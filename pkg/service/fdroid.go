package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dikkadev/store-provider/pkg/andromeda"
	"github.com/dikkadev/store-provider/pkg/fdroid"
	"github.com/dikkadev/store-provider/pkg/storage"
	"github.com/dikkadev/store-provider/pkg/tasks"
	"github.com/dikkadev/store-provider/pkg/upgrade"
)

// Downloader fetches a single artifact to a local path.
type Downloader interface {
	DownloadFile(ctx context.Context, url, destPath string) error
}

// CatalogSyncer refreshes a catalog and can guarantee it is populated.
type CatalogSyncer interface {
	Sync(ctx context.Context) (bool, error)
	EnsurePopulated(ctx context.Context) (bool, error)
}

// FDroidService serves the F-Droid side of the store. All operations
// are gated on the container session manager: when the container is
// down, queries return empty results and mutations report failure.
type FDroidService struct {
	catalog      storage.CatalogStore
	syncer       CatalogSyncer
	session      andromeda.SessionManager
	downloader   Downloader
	systemDir    string
	customDir    string
	downloadsDir string
	tasks        *tasks.Serializer
	logger       *zap.Logger
	onInstalled  func(packageID string)
}

// FDroidConfig wires an FDroidService.
type FDroidConfig struct {
	Catalog      storage.CatalogStore
	Syncer       CatalogSyncer
	Session      andromeda.SessionManager
	Downloader   Downloader
	SystemDir    string
	CustomDir    string
	DownloadsDir string
	Notifier     tasks.Notifier
	Logger       *zap.Logger
	// OnInstalled is called after a successful install, outside of any
	// lock, typically to emit the AppInstalled signal.
	OnInstalled func(packageID string)
}

// NewFDroidService creates the service and starts its task serializer.
func NewFDroidService(cfg FDroidConfig) *FDroidService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FDroidService{
		catalog:      cfg.Catalog,
		syncer:       cfg.Syncer,
		session:      cfg.Session,
		downloader:   cfg.Downloader,
		systemDir:    cfg.SystemDir,
		customDir:    cfg.CustomDir,
		downloadsDir: cfg.DownloadsDir,
		tasks:        tasks.NewSerializer("fdroid", cfg.Notifier, logger),
		logger:       logger,
		onInstalled:  cfg.OnInstalled,
	}
}

func (s *FDroidService) Name() string { return "fdroid" }

// peerAvailable reports whether the container session manager answers.
func (s *FDroidService) peerAvailable(ctx context.Context) bool {
	if err := s.session.Ping(ctx); err != nil {
		s.logger.Debug("container session manager unavailable", zap.Error(err))
		return false
	}
	return true
}

func (s *FDroidService) Search(ctx context.Context, query string) ([]SearchResult, error) {
	result, err := s.tasks.Enqueue(ctx, "search", func(ctx context.Context) (interface{}, error) {
		s.logger.Info("searching", zap.String("query", query))

		if !s.peerAvailable(ctx) {
			return []SearchResult{}, nil
		}
		if ok, err := s.syncer.EnsurePopulated(ctx); err != nil || !ok {
			return []SearchResult{}, err
		}

		entries, err := s.catalog.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		return entriesToResults(entries), nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]SearchResult), nil
}

func (s *FDroidService) UpdateCache(ctx context.Context) (bool, error) {
	result, err := s.tasks.Enqueue(ctx, "update-cache", func(ctx context.Context) (interface{}, error) {
		if !s.peerAvailable(ctx) {
			return false, nil
		}
		ok, err := s.syncer.Sync(ctx)
		if err != nil {
			return false, err
		}
		return ok, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (s *FDroidService) Install(ctx context.Context, packageID string) (bool, error) {
	result, err := s.tasks.Enqueue(ctx, "install", func(ctx context.Context) (interface{}, error) {
		s.logger.Info("installing package", zap.String("package_id", packageID))

		if !s.peerAvailable(ctx) {
			return false, nil
		}
		if ok, err := s.syncer.EnsurePopulated(ctx); err != nil || !ok {
			return false, err
		}

		entry, err := s.catalog.GetByID(ctx, packageID)
		if err != nil {
			return false, err
		}
		if entry == nil {
			s.logger.Warn("package not found", zap.String("package_id", packageID))
			return false, nil
		}

		info, err := decodePackageInfo(entry.Payload)
		if err != nil {
			return false, err
		}

		if err := s.installAPK(ctx, packageID, info); err != nil {
			s.logger.Error("install failed", zap.String("package_id", packageID), zap.Error(err))
			return false, nil
		}

		if s.onInstalled != nil {
			s.onInstalled(packageID)
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// installAPK downloads the build and hands it to the container. The
// downloaded artifact is removed either way.
func (s *FDroidService) installAPK(ctx context.Context, packageID string, info *fdroid.PackageInfo) error {
	if err := os.MkdirAll(s.downloadsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create downloads dir: %w", err)
	}

	apkPath := filepath.Join(s.downloadsDir, info.ApkName)
	if err := s.downloader.DownloadFile(ctx, info.DownloadURL, apkPath); err != nil {
		return fmt.Errorf("failed to download %s: %w", packageID, err)
	}
	defer os.Remove(apkPath)

	if err := s.session.InstallApp(ctx, apkPath); err != nil {
		return err
	}

	s.logger.Info("package installed", zap.String("package_id", packageID), zap.String("version", info.Version))
	return nil
}

func (s *FDroidService) GetRepositories(ctx context.Context) ([]Repository, error) {
	result, err := s.tasks.Enqueue(ctx, "get-repositories", func(ctx context.Context) (interface{}, error) {
		if !s.peerAvailable(ctx) {
			return []Repository{}, nil
		}

		repos, err := fdroid.ListRepositories(s.systemDir, s.customDir)
		if err != nil {
			return nil, err
		}

		out := make([]Repository, 0, len(repos))
		for _, r := range repos {
			out = append(out, Repository{Name: r.Name, URL: r.URL})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]Repository), nil
}

// RemoveRepository acknowledges a removal request. Repositories are
// configured through list files on disk, so the request only checks
// that the session manager is reachable.
func (s *FDroidService) RemoveRepository(ctx context.Context, repoID string) (bool, error) {
	result, err := s.tasks.Enqueue(ctx, "remove-repository", func(ctx context.Context) (interface{}, error) {
		available := s.peerAvailable(ctx)
		if available {
			s.logger.Info("repository removal requested", zap.String("repo_id", repoID))
		}
		return available, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (s *FDroidService) GetUpgradable(ctx context.Context) ([]upgrade.Candidate, error) {
	result, err := s.tasks.Enqueue(ctx, "get-upgradable", func(ctx context.Context) (interface{}, error) {
		if !s.peerAvailable(ctx) {
			return []upgrade.Candidate{}, nil
		}
		candidates, err := s.upgradable(ctx)
		if err != nil {
			return nil, err
		}
		return candidates, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]upgrade.Candidate), nil
}

func (s *FDroidService) upgradable(ctx context.Context) ([]upgrade.Candidate, error) {
	apps, err := s.session.AppsInfo(ctx)
	if err != nil {
		return nil, err
	}

	installed := make([]upgrade.InstalledInfo, 0, len(apps))
	for _, app := range apps {
		installed = append(installed, upgrade.InstalledInfo{
			ID:      app.PackageName,
			Name:    app.Name,
			Version: app.VersionName,
		})
	}
	return upgrade.ResolveDirect(ctx, installed, s.catalog, s.logger)
}

func (s *FDroidService) UpgradePackages(ctx context.Context, packages []string) (bool, error) {
	result, err := s.tasks.Enqueue(ctx, "upgrade-packages", func(ctx context.Context) (interface{}, error) {
		if !s.peerAvailable(ctx) {
			return false, nil
		}

		candidates, err := s.upgradable(ctx)
		if err != nil {
			return false, err
		}

		byID := make(map[string]upgrade.Candidate, len(candidates))
		for _, c := range candidates {
			byID[c.ID] = c
		}

		targets := packages
		if len(targets) == 0 {
			targets = make([]string, 0, len(candidates))
			for _, c := range candidates {
				targets = append(targets, c.ID)
			}
			s.logger.Info("upgrading all available packages", zap.Strings("packages", targets))
		}
		if len(targets) == 0 {
			s.logger.Info("no packages to upgrade")
			return true, nil
		}

		success := true
		for _, packageID := range targets {
			candidate, ok := byID[packageID]
			if !ok {
				continue
			}

			info, err := decodePackageInfo(candidate.Payload)
			if err != nil {
				s.logger.Warn("skipping candidate with bad payload",
					zap.String("package_id", packageID), zap.Error(err))
				continue
			}

			// One failed package does not stop the remaining upgrades.
			if err := s.installAPK(ctx, packageID, info); err != nil {
				s.logger.Error("upgrade failed", zap.String("package_id", packageID), zap.Error(err))
				success = false
			}
		}
		return success, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (s *FDroidService) GetInstalledApps(ctx context.Context) ([]InstalledApp, error) {
	result, err := s.tasks.Enqueue(ctx, "get-installed", func(ctx context.Context) (interface{}, error) {
		if !s.peerAvailable(ctx) {
			return []InstalledApp{}, nil
		}

		apps, err := s.session.AppsInfo(ctx)
		if err != nil {
			return nil, err
		}

		out := make([]InstalledApp, 0, len(apps))
		for _, app := range apps {
			out = append(out, InstalledApp{
				ID:      app.PackageName,
				Name:    app.Name,
				Version: app.VersionName,
				State:   "installed",
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]InstalledApp), nil
}

func (s *FDroidService) UninstallApp(ctx context.Context, packageID string) (bool, error) {
	result, err := s.tasks.Enqueue(ctx, "uninstall", func(ctx context.Context) (interface{}, error) {
		s.logger.Info("uninstalling app", zap.String("package_id", packageID))

		if !s.peerAvailable(ctx) {
			return false, nil
		}
		if err := s.session.RemoveApp(ctx, packageID); err != nil {
			s.logger.Error("uninstall failed", zap.String("package_id", packageID), zap.Error(err))
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// Close stops the task serializer. Queued operations fail with
// tasks.ErrStopped.
func (s *FDroidService) Close() error {
	s.tasks.Stop()
	return nil
}

func entriesToResults(entries []*storage.CatalogEntry) []SearchResult {
	results := make([]SearchResult, 0, len(entries))
	for _, entry := range entries {
		results = append(results, SearchResult{
			ID:          entry.PackageID,
			Name:        entry.Name,
			Summary:     entry.Summary,
			Description: entry.Description,
			License:     entry.License,
			Author:      entry.Author,
			WebURL:      entry.WebURL,
			Repository:  entry.Source,
			Package:     entry.Payload,
		})
	}
	return results
}

func decodePackageInfo(payload json.RawMessage) (*fdroid.PackageInfo, error) {
	var info fdroid.PackageInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, fmt.Errorf("failed to decode install payload: %w", err)
	}
	if info.DownloadURL == "" || info.ApkName == "" {
		return nil, fmt.Errorf("install payload has no download")
	}
	return &info, nil
}
