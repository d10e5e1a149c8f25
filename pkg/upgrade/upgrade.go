// Package upgrade decides which installed apps have a newer build
// available. F-Droid style repositories are compared by version string
// against the local catalog; OpenStore apps are compared against the
// live download variants of the app.
package upgrade

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/dikkadev/store-provider/pkg/openstore"
	"github.com/dikkadev/store-provider/pkg/storage"
)

// InstalledInfo is the minimal view of an installed app needed for
// upgrade resolution.
type InstalledInfo struct {
	ID      string
	Name    string
	Version string
}

// Candidate is an upgradable app and where its new build comes from.
type Candidate struct {
	ID               string
	Name             string
	CurrentVersion   string
	AvailableVersion string
	RepoURL          string
	Channel          string
	Architecture     string
	DownloadURL      string
	// Payload is the catalog install payload of the available build,
	// present for catalog-backed candidates only.
	Payload json.RawMessage
}

// ResolveDirect compares installed apps against the catalog snapshot.
// An app is upgradable when the catalog version string differs from
// the installed one. Apps absent from the catalog are skipped.
func ResolveDirect(ctx context.Context, installed []InstalledInfo, catalog storage.CatalogStore, logger *zap.Logger) ([]Candidate, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var candidates []Candidate
	for _, app := range installed {
		entry, err := catalog.GetByID(ctx, app.ID)
		if err != nil {
			return nil, err
		}
		if entry == nil || len(entry.Payload) == 0 {
			continue
		}

		var payload struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal(entry.Payload, &payload); err != nil {
			logger.Warn("skipping catalog entry with bad payload",
				zap.String("package_id", app.ID), zap.Error(err))
			continue
		}

		if payload.Version == app.Version {
			continue
		}

		name := app.Name
		if name == "" {
			name = app.ID
		}
		candidates = append(candidates, Candidate{
			ID:               app.ID,
			Name:             name,
			CurrentVersion:   app.Version,
			AvailableVersion: payload.Version,
			RepoURL:          entry.SourceURL,
			Payload:          entry.Payload,
		})
	}
	return candidates, nil
}

// PickLatestVariant selects the newest compatible download for an
// installed app. Downloads are narrowed to the app's architecture
// (or "all"), then to the installed channel, falling back to focal and
// finally to any remaining channel. The highest revision wins.
func PickLatestVariant(downloads []openstore.Download, arch, channel string) *openstore.Download {
	var compatible []openstore.Download
	for _, d := range downloads {
		if d.Architecture == arch || d.Architecture == "all" {
			compatible = append(compatible, d)
		}
	}
	if len(compatible) == 0 {
		return nil
	}

	if picked := maxRevision(filterChannel(compatible, channel)); picked != nil {
		return picked
	}
	if picked := maxRevision(filterChannel(compatible, "focal")); picked != nil {
		return picked
	}
	return maxRevision(compatible)
}

// ResolveVariant reports whether an installed app should be upgraded
// to one of the given downloads. Nil means no compatible variant
// exists or the best one matches the installed version.
func ResolveVariant(app *storage.InstalledApp, downloads []openstore.Download) *Candidate {
	best := PickLatestVariant(downloads, app.Architecture, app.Channel)
	if best == nil {
		return nil
	}
	if best.Version == app.Version {
		return nil
	}

	return &Candidate{
		ID:               app.ID,
		Name:             app.Name,
		CurrentVersion:   app.Version,
		AvailableVersion: best.Version,
		RepoURL:          openstore.SourceName,
		Channel:          best.Channel,
		Architecture:     app.Architecture,
		DownloadURL:      best.DownloadURL,
	}
}

func filterChannel(downloads []openstore.Download, channel string) []openstore.Download {
	var filtered []openstore.Download
	for _, d := range downloads {
		if d.Channel == channel {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

func maxRevision(downloads []openstore.Download) *openstore.Download {
	if len(downloads) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(downloads); i++ {
		if downloads[i].Revision > downloads[best].Revision {
			best = i
		}
	}
	return &downloads[best]
}
