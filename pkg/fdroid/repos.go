package fdroid

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RepoFile is one repository configuration file, a list of mirror URLs
// for the same repository ordered by preference.
type RepoFile struct {
	// Name is the config file name and doubles as the repository id.
	Name string
	// Dir is the directory the file was found in.
	Dir string
	// Custom reports whether the file came from the admin-managed
	// directory rather than the packaged defaults.
	Custom bool
}

// Repository is a repository as reported to clients.
type Repository struct {
	Name string
	URL  string
}

// ReadRepoList reads mirror URLs from a repository config file. Blank
// lines and lines starting with '#' are skipped. A missing file yields
// an empty list.
func ReadRepoList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var mirrors []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		mirrors = append(mirrors, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return mirrors, nil
}

// DiscoverRepoFiles merges the system and custom repository config
// directories. A file in the custom directory shadows a system file of
// the same name. Results are sorted by name for stable ordering.
func DiscoverRepoFiles(systemDir, customDir string) ([]RepoFile, error) {
	seen := make(map[string]RepoFile)

	if entries, err := os.ReadDir(customDir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			seen[entry.Name()] = RepoFile{Name: entry.Name(), Dir: customDir, Custom: true}
		}
	}

	if entries, err := os.ReadDir(systemDir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if _, ok := seen[entry.Name()]; ok {
				continue
			}
			seen[entry.Name()] = RepoFile{Name: entry.Name(), Dir: systemDir}
		}
	}

	files := make([]RepoFile, 0, len(seen))
	for _, file := range seen {
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// ListRepositories reports the configured repositories by name and
// primary mirror. Files without any usable mirror line are skipped.
func ListRepositories(systemDir, customDir string) ([]Repository, error) {
	files, err := DiscoverRepoFiles(systemDir, customDir)
	if err != nil {
		return nil, err
	}

	var repos []Repository
	for _, file := range files {
		mirrors, err := ReadRepoList(filepath.Join(file.Dir, file.Name))
		if err != nil || len(mirrors) == 0 {
			continue
		}

		source := "default"
		if file.Custom {
			source = "custom"
		}
		repos = append(repos, Repository{
			Name: file.Name + " (" + source + ")",
			URL:  mirrors[0],
		})
	}
	return repos, nil
}
