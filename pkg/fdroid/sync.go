package fdroid

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/dikkadev/store-provider/pkg/fetch"
	"github.com/dikkadev/store-provider/pkg/storage"
)

// IndexFetcher downloads a repository index into a staging directory,
// trying mirrors in order.
type IndexFetcher interface {
	FetchIndex(ctx context.Context, mirrors []string, stagingDir string) error
}

// Syncer refreshes the F-Droid catalog from the configured repositories.
type Syncer struct {
	systemDir string
	customDir string
	cacheDir  string
	fetcher   IndexFetcher
	catalog   storage.CatalogStore
	logger    *zap.Logger
}

// NewSyncer creates a syncer. cacheDir is the staging area for
// downloaded indexes, one subdirectory per repository.
func NewSyncer(systemDir, customDir, cacheDir string, fetcher IndexFetcher, catalog storage.CatalogStore, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		systemDir: systemDir,
		customDir: customDir,
		cacheDir:  cacheDir,
		fetcher:   fetcher,
		catalog:   catalog,
		logger:    logger,
	}
}

// Sync downloads every configured repository index and replaces the
// catalog with the merged result. Repositories download concurrently,
// each one walking its mirror list in order. Sync succeeds when at
// least one repository could be downloaded; repositories that fail are
// simply absent from the new snapshot.
func (s *Syncer) Sync(ctx context.Context) (bool, error) {
	files, err := DiscoverRepoFiles(s.systemDir, s.customDir)
	if err != nil {
		return false, fmt.Errorf("failed to discover repositories: %w", err)
	}
	if len(files) == 0 {
		s.logger.Warn("no repositories configured",
			zap.String("system_dir", s.systemDir),
			zap.String("custom_dir", s.customDir))
	}

	var wg sync.WaitGroup
	results := make([]bool, len(files))
	for i, file := range files {
		mirrors, err := ReadRepoList(filepath.Join(file.Dir, file.Name))
		if err != nil || len(mirrors) == 0 {
			s.logger.Warn("skipping repository without mirrors",
				zap.String("repo", file.Name), zap.Error(err))
			continue
		}

		wg.Add(1)
		go func(i int, name string, mirrors []string) {
			defer wg.Done()

			stagingDir := filepath.Join(s.cacheDir, name)
			if err := s.fetcher.FetchIndex(ctx, mirrors, stagingDir); err != nil {
				s.logger.Warn("failed to download repository index",
					zap.String("repo", name), zap.Error(err))
				return
			}
			results[i] = true
		}(i, file.Name, mirrors)
	}
	wg.Wait()

	success := false
	for _, ok := range results {
		if ok {
			success = true
			break
		}
	}

	entries, err := s.processStagedIndexes()
	if err != nil {
		return false, err
	}
	if err := s.catalog.ReplaceAll(ctx, entries); err != nil {
		return false, fmt.Errorf("failed to store catalog: %w", err)
	}

	s.logger.Info("fdroid catalog synchronized",
		zap.Int("repositories", len(files)),
		zap.Int("packages", len(entries)),
		zap.Bool("success", success))
	return success, nil
}

// EnsurePopulated runs a sync when the catalog is empty, so a query
// against a cold cache still returns data.
func (s *Syncer) EnsurePopulated(ctx context.Context) (bool, error) {
	count, err := s.catalog.Count(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}

	s.logger.Info("catalog is empty, triggering sync")
	return s.Sync(ctx)
}

// processStagedIndexes parses every staged index under the cache
// directory into catalog entries and removes the staged files.
// A staging directory without both the index and its repo_url marker
// is incomplete and skipped.
func (s *Syncer) processStagedIndexes() ([]*storage.CatalogEntry, error) {
	dirs, err := os.ReadDir(s.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read staging dir: %w", err)
	}

	var entries []*storage.CatalogEntry
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}

		repoDir := filepath.Join(s.cacheDir, dir.Name())
		indexPath := filepath.Join(repoDir, fetch.IndexFileName)
		urlPath := filepath.Join(repoDir, fetch.RepoURLFileName)

		urlData, err := os.ReadFile(urlPath)
		if err != nil {
			continue
		}
		repoURL := string(urlData)

		index, err := ParseIndex(indexPath)
		if err != nil {
			s.logger.Warn("failed to parse staged index",
				zap.String("repo", dir.Name()), zap.Error(err))
			continue
		}

		for packageID, pkg := range index.Packages {
			entry := buildEntry(dir.Name(), packageID, repoURL, pkg)
			if entry == nil {
				continue
			}
			entries = append(entries, entry)
		}

		os.Remove(indexPath)
		os.Remove(urlPath)
	}
	return entries, nil
}

// buildEntry converts one index package into a catalog entry. Packages
// without any version are skipped.
func buildEntry(repoName, packageID, repoURL string, pkg Package) *storage.CatalogEntry {
	version := latestVersion(pkg.Versions)
	if version == nil {
		return nil
	}

	info := buildPackageInfo(pkg.Metadata, version, repoURL)
	payload, err := json.Marshal(info)
	if err != nil {
		return nil
	}

	return &storage.CatalogEntry{
		Source:       repoName,
		PackageID:    packageID,
		SourceURL:    repoURL,
		Name:         localizedText(pkg.Metadata.Name),
		Summary:      localizedText(pkg.Metadata.Summary),
		Description:  localizedText(pkg.Metadata.Description),
		License:      pkg.Metadata.License,
		Categories:   pkg.Metadata.Categories,
		Author:       pkg.Metadata.Author.Name,
		WebURL:       pkg.Metadata.WebSite,
		SourceCode:   pkg.Metadata.SourceCode,
		TrackerURL:   pkg.Metadata.IssueTracker,
		ChangelogURL: pkg.Metadata.Changelog,
		DonationURLs: pkg.Metadata.Donate,
		AddedDate:    formatEpoch(pkg.Metadata.Added),
		UpdatedDate:  formatEpoch(pkg.Metadata.LastUpdated),
		Payload:      payload,
	}
}

func formatEpoch(millis int64) string {
	if millis == 0 {
		return ""
	}
	return strconv.FormatInt(millis, 10)
}
