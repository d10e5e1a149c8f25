// Package fdroid synchronizes F-Droid style repositories into the local
// catalog database and resolves the latest installable version of each
// package from the repository index.
package fdroid

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

const defaultLocale = "en-US"

// Index is the subset of an index-v2.json document the store needs.
type Index struct {
	Packages map[string]Package `json:"packages"`
}

// Package holds the metadata and version history of one package.
type Package struct {
	Metadata Metadata           `json:"metadata"`
	Versions map[string]Version `json:"versions"`
}

// Metadata is the per-package descriptive block. Text fields are
// localized maps keyed by locale tag.
type Metadata struct {
	Name         map[string]string `json:"name"`
	Summary      map[string]string `json:"summary"`
	Description  map[string]string `json:"description"`
	License      string            `json:"license"`
	Categories   []string          `json:"categories"`
	Author       Author            `json:"author"`
	WebSite      string            `json:"webSite"`
	SourceCode   string            `json:"sourceCode"`
	IssueTracker string            `json:"issueTracker"`
	Changelog    string            `json:"changelog"`
	Donate       []string          `json:"donate"`
	Added        int64             `json:"added"`
	LastUpdated  int64             `json:"lastUpdated"`
	Icon         map[string]File   `json:"icon"`
}

// Author identifies the package author.
type Author struct {
	Name string `json:"name"`
}

// Version is one released build of a package.
type Version struct {
	File     File     `json:"file"`
	Manifest Manifest `json:"manifest"`
}

// File is a downloadable artifact, its name is a path relative to the
// repository root.
type File struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Manifest mirrors the Android manifest fields the index carries.
type Manifest struct {
	VersionName    string       `json:"versionName"`
	VersionCode    int64        `json:"versionCode"`
	UsesSdk        UsesSdk      `json:"usesSdk"`
	UsesPermission []Permission `json:"usesPermission"`
	Features       []Feature    `json:"features"`
}

// UsesSdk carries the SDK level bounds of a build.
type UsesSdk struct {
	MinSdkVersion    int `json:"minSdkVersion"`
	TargetSdkVersion int `json:"targetSdkVersion"`
}

// Permission is a requested Android permission. Some indexes carry
// malformed entries, anything that is not an object is ignored.
type Permission struct {
	Name string `json:"name"`
}

func (p *Permission) UnmarshalJSON(data []byte) error {
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		p.Name = ""
		return nil
	}
	p.Name = obj.Name
	return nil
}

// Feature is a declared hardware or software feature.
type Feature struct {
	Name string `json:"name"`
}

// PackageInfo is the install payload stored alongside each catalog
// entry. Download URLs are absolute, resolved against the repository
// the index came from.
type PackageInfo struct {
	ApkName     string   `json:"apk_name"`
	DownloadURL string   `json:"download_url"`
	IconURL     string   `json:"icon_url"`
	Version     string   `json:"version"`
	VersionCode int64    `json:"version_code"`
	Size        int64    `json:"size"`
	MinSdk      int      `json:"min_sdk"`
	TargetSdk   int      `json:"target_sdk"`
	Permissions []string `json:"permissions"`
	Features    []string `json:"features"`
	Hash        string   `json:"hash"`
	HashType    string   `json:"hash_type"`
}

// ParseIndex decodes an index-v2.json file.
func ParseIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse index: %w", err)
	}
	return &index, nil
}

// localizedText picks the en-US value, falling back to any available
// locale. Iteration order over maps is not stable, so the fallback is
// the lexicographically first locale to keep results deterministic.
func localizedText(texts map[string]string) string {
	if len(texts) == 0 {
		return ""
	}
	if text, ok := texts[defaultLocale]; ok {
		return text
	}

	locales := make([]string, 0, len(texts))
	for locale := range texts {
		locales = append(locales, locale)
	}
	sort.Strings(locales)
	return texts[locales[0]]
}

// latestVersion returns the version with the highest versionCode, or
// nil when the package has no versions.
func latestVersion(versions map[string]Version) *Version {
	var latest *Version
	for key := range versions {
		v := versions[key]
		if latest == nil || v.Manifest.VersionCode > latest.Manifest.VersionCode {
			latest = &v
		}
	}
	return latest
}

// buildPackageInfo assembles the install payload for a version.
func buildPackageInfo(metadata Metadata, version *Version, repoURL string) *PackageInfo {
	info := &PackageInfo{
		ApkName:     strings.TrimPrefix(version.File.Name, "/"),
		DownloadURL: repoURL + version.File.Name,
		Version:     version.Manifest.VersionName,
		VersionCode: version.Manifest.VersionCode,
		Size:        version.File.Size,
		MinSdk:      version.Manifest.UsesSdk.MinSdkVersion,
		TargetSdk:   version.Manifest.UsesSdk.TargetSdkVersion,
		Hash:        version.File.SHA256,
		HashType:    "sha256",
	}

	if icon, ok := metadata.Icon[defaultLocale]; ok && icon.Name != "" {
		info.IconURL = repoURL + icon.Name
	} else {
		locales := make([]string, 0, len(metadata.Icon))
		for locale := range metadata.Icon {
			locales = append(locales, locale)
		}
		sort.Strings(locales)
		for _, locale := range locales {
			if name := metadata.Icon[locale].Name; name != "" {
				info.IconURL = repoURL + name
				break
			}
		}
	}

	for _, p := range version.Manifest.UsesPermission {
		if p.Name != "" {
			info.Permissions = append(info.Permissions, p.Name)
		}
	}
	for _, f := range version.Manifest.Features {
		if f.Name != "" {
			info.Features = append(info.Features, f.Name)
		}
	}
	return info
}
