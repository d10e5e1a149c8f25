package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/dikkadev/store-provider/pkg/aptkit"
	"github.com/dikkadev/store-provider/pkg/openstore"
	"github.com/dikkadev/store-provider/pkg/storage"
	"github.com/dikkadev/store-provider/pkg/tasks"
	"github.com/dikkadev/store-provider/pkg/upgrade"
)

// AppDetailer fetches the live detail document of an OpenStore app.
type AppDetailer interface {
	AppDetails(ctx context.Context, appID string) (*openstore.AppDetails, error)
}

// OpenStoreSyncer refreshes the OpenStore catalog.
type OpenStoreSyncer interface {
	Sync(ctx context.Context) error
	EnsurePopulated(ctx context.Context) error
}

// OpenStoreService serves the OpenStore side of the store: click
// packages unpacked into the user's app directory and tracked in the
// installed database.
type OpenStoreService struct {
	catalog     storage.CatalogStore
	installed   storage.InstalledStore
	syncer      OpenStoreSyncer
	details     AppDetailer
	downloader  Downloader
	installer   ClickInstaller
	apt         aptkit.Transactor
	arch        string
	appsDir     string
	tasks       *tasks.Serializer
	logger      *zap.Logger
	onInstalled func(packageID string)
}

// OpenStoreConfig wires an OpenStoreService.
type OpenStoreConfig struct {
	Catalog    storage.CatalogStore
	Installed  storage.InstalledStore
	Syncer     OpenStoreSyncer
	Details    AppDetailer
	Downloader Downloader
	Installer  ClickInstaller
	// Apt refreshes the APT package lists alongside the catalog. May
	// be nil when AptKit is not available on the system.
	Apt          aptkit.Transactor
	Architecture string
	AppsDir      string
	Notifier     tasks.Notifier
	Logger       *zap.Logger
	OnInstalled  func(packageID string)
}

// NewOpenStoreService creates the service and starts its task
// serializer.
func NewOpenStoreService(cfg OpenStoreConfig) *OpenStoreService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	arch := cfg.Architecture
	if arch == "" {
		arch = openstore.SystemArchitecture()
	}

	return &OpenStoreService{
		catalog:     cfg.Catalog,
		installed:   cfg.Installed,
		syncer:      cfg.Syncer,
		details:     cfg.Details,
		downloader:  cfg.Downloader,
		installer:   cfg.Installer,
		apt:         cfg.Apt,
		arch:        arch,
		appsDir:     cfg.AppsDir,
		tasks:       tasks.NewSerializer("openstore", cfg.Notifier, logger),
		logger:      logger,
		onInstalled: cfg.OnInstalled,
	}
}

func (s *OpenStoreService) Name() string { return "openstore" }

func (s *OpenStoreService) Search(ctx context.Context, query string) ([]SearchResult, error) {
	result, err := s.tasks.Enqueue(ctx, "search", func(ctx context.Context) (interface{}, error) {
		s.logger.Info("searching", zap.String("query", query))

		// An unpopulatable catalog answers with whatever snapshot is on
		// disk; an empty result set is how clients learn the store is
		// unavailable, errors stay on the logging side channel.
		if err := s.syncer.EnsurePopulated(ctx); err != nil {
			s.logger.Warn("failed to populate catalog", zap.Error(err))
		}

		entries, err := s.catalog.SearchWithSummary(ctx, query)
		if err != nil {
			return nil, err
		}

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
				Repository:  openstore.SourceName,
				Package:     summaryPackage(entry.Payload),
			})
		}
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]SearchResult), nil
}

func (s *OpenStoreService) UpdateCache(ctx context.Context) (bool, error) {
	result, err := s.tasks.Enqueue(ctx, "update-cache", func(ctx context.Context) (interface{}, error) {
		if err := s.syncer.Sync(ctx); err != nil {
			s.logger.Error("cache update failed", zap.Error(err))
			return false, nil
		}

		if s.apt != nil {
			if err := s.apt.UpdateCache(ctx); err != nil {
				s.logger.Warn("apt cache refresh failed", zap.Error(err))
			}
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (s *OpenStoreService) Install(ctx context.Context, packageID string) (bool, error) {
	result, err := s.tasks.Enqueue(ctx, "install", func(ctx context.Context) (interface{}, error) {
		if err := s.install(ctx, packageID); err != nil {
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

// install resolves the best download, unpacks it and records the
// installation. A previous installation of the app is replaced.
func (s *OpenStoreService) install(ctx context.Context, packageID string) error {
	s.logger.Info("installing package", zap.String("package_id", packageID))

	details, err := s.details.AppDetails(ctx, packageID)
	if err != nil {
		return err
	}
	if len(details.Downloads) == 0 {
		return fmt.Errorf("no downloads available for %s", packageID)
	}

	download := openstore.FindCompatibleDownload(details.Downloads, s.arch)
	if download == nil {
		return fmt.Errorf("no compatible download for %s on %s", packageID, s.arch)
	}
	if download.DownloadURL == "" {
		return fmt.Errorf("download for %s has no url", packageID)
	}

	stagingDir, err := os.MkdirTemp("", "openstore-install-")
	if err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	clickPath := filepath.Join(stagingDir, fmt.Sprintf("%s-%s.click", packageID, download.Version))
	s.logger.Debug("downloading click package",
		zap.String("url", download.DownloadURL),
		zap.String("architecture", download.Architecture))
	if err := s.downloader.DownloadFile(ctx, download.DownloadURL, clickPath); err != nil {
		return err
	}

	// Replace any previous installation before unpacking the new one.
	if old, err := s.installed.Get(ctx, packageID); err == nil && old != nil {
		if err := s.installer.CleanupDesktopFiles(packageID); err != nil {
			s.logger.Warn("failed to clean up old desktop files", zap.Error(err))
		}
		if old.AppDir != "" {
			if err := os.RemoveAll(old.AppDir); err != nil {
				s.logger.Warn("failed to remove old app dir",
					zap.String("app_dir", old.AppDir), zap.Error(err))
			}
		}
	}

	appDir := filepath.Join(s.appsDir, packageID)
	if err := s.installer.Extract(ctx, clickPath, appDir); err != nil {
		return err
	}

	desktopFiles, err := s.installer.ProcessDesktopFiles(packageID, appDir)
	if err != nil {
		s.logger.Warn("failed to process desktop files", zap.Error(err))
	} else {
		s.logger.Debug("processed desktop files", zap.Int("count", len(desktopFiles)))
	}

	app := &storage.InstalledApp{
		ID:           packageID,
		Name:         details.Name,
		Version:      download.Version,
		Channel:      download.Channel,
		Architecture: download.Architecture,
		InstalledAt:  time.Now(),
		AppDir:       appDir,
	}
	if err := s.installed.Upsert(ctx, app); err != nil {
		return fmt.Errorf("failed to record installation: %w", err)
	}

	s.logger.Info("package installed",
		zap.String("package_id", packageID),
		zap.String("version", download.Version),
		zap.String("architecture", download.Architecture))
	return nil
}

func (s *OpenStoreService) GetRepositories(ctx context.Context) ([]Repository, error) {
	result, err := s.tasks.Enqueue(ctx, "get-repositories", func(ctx context.Context) (interface{}, error) {
		return []Repository{{Name: openstore.SourceName, URL: openstore.StoreURL}}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]Repository), nil
}

func (s *OpenStoreService) GetUpgradable(ctx context.Context) ([]upgrade.Candidate, error) {
	result, err := s.tasks.Enqueue(ctx, "get-upgradable", func(ctx context.Context) (interface{}, error) {
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

func (s *OpenStoreService) upgradable(ctx context.Context) ([]upgrade.Candidate, error) {
	apps, err := s.installed.List(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []upgrade.Candidate
	for _, app := range apps {
		details, err := s.details.AppDetails(ctx, app.ID)
		if err != nil {
			s.logger.Warn("skipping app without details",
				zap.String("package_id", app.ID), zap.Error(err))
			continue
		}

		if c := upgrade.ResolveVariant(app, details.Downloads); c != nil {
			candidates = append(candidates, *c)
			s.logger.Debug("upgradable",
				zap.String("package_id", c.ID),
				zap.String("from", c.CurrentVersion),
				zap.String("to", c.AvailableVersion))
		}
	}
	return candidates, nil
}

func (s *OpenStoreService) UpgradePackages(ctx context.Context, packages []string) (bool, error) {
	result, err := s.tasks.Enqueue(ctx, "upgrade-packages", func(ctx context.Context) (interface{}, error) {
		targets := packages
		if len(targets) == 0 {
			candidates, err := s.upgradable(ctx)
			if err != nil {
				return false, err
			}
			for _, c := range candidates {
				targets = append(targets, c.ID)
			}
		}
		if len(targets) == 0 {
			s.logger.Info("no packages to upgrade")
			return true, nil
		}

		success := true
		for _, packageID := range targets {
			if err := s.install(ctx, packageID); err != nil {
				s.logger.Error("upgrade failed", zap.String("package_id", packageID), zap.Error(err))
				success = false
				continue
			}
			if s.onInstalled != nil {
				s.onInstalled(packageID)
			}
		}
		return success, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (s *OpenStoreService) GetInstalledApps(ctx context.Context) ([]InstalledApp, error) {
	result, err := s.tasks.Enqueue(ctx, "get-installed", func(ctx context.Context) (interface{}, error) {
		apps, err := s.installed.List(ctx)
		if err != nil {
			return nil, err
		}

		out := make([]InstalledApp, 0, len(apps))
		for _, app := range apps {
			out = append(out, InstalledApp{
				ID:           app.ID,
				Name:         app.Name,
				Version:      app.Version,
				Channel:      app.Channel,
				Architecture: app.Architecture,
				InstallDate:  float64(app.InstalledAt.Unix()),
				State:        "installed",
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]InstalledApp), nil
}

func (s *OpenStoreService) UninstallApp(ctx context.Context, packageID string) (bool, error) {
	result, err := s.tasks.Enqueue(ctx, "uninstall", func(ctx context.Context) (interface{}, error) {
		s.logger.Info("uninstalling app", zap.String("package_id", packageID))

		app, err := s.installed.Get(ctx, packageID)
		if err != nil {
			return false, err
		}
		if app == nil {
			s.logger.Warn("app not installed", zap.String("package_id", packageID))
			return false, nil
		}

		if err := s.installer.CleanupDesktopFiles(packageID); err != nil {
			s.logger.Warn("failed to clean up desktop files", zap.Error(err))
		}
		if err := s.installed.Delete(ctx, packageID); err != nil {
			return false, err
		}
		if app.AppDir != "" {
			if err := os.RemoveAll(app.AppDir); err != nil {
				s.logger.Warn("failed to remove app dir",
					zap.String("app_dir", app.AppDir), zap.Error(err))
			}
		}

		s.logger.Info("app uninstalled", zap.String("package_id", packageID))
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// Close stops the task serializer.
func (s *OpenStoreService) Close() error {
	s.tasks.Stop()
	return nil
}

// summaryPackage reduces the raw catalog payload to the fields search
// clients need.
func summaryPackage(payload json.RawMessage) json.RawMessage {
	var app struct {
		Version string `json:"version"`
		Icon    string `json:"icon"`
	}
	if err := json.Unmarshal(payload, &app); err != nil {
		return json.RawMessage(`{}`)
	}

	out, err := json.Marshal(map[string]string{
		"version":  app.Version,
		"icon_url": app.Icon,
	})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return out
}
