package click

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// DesktopPaths names the directories desktop integration writes to.
// StoreDir holds the rewritten desktop files, SystemDir receives
// symlinks so launchers pick the apps up, ScriptsDir holds the
// generated launch wrappers.
type DesktopPaths struct {
	StoreDir   string
	SystemDir  string
	ScriptsDir string
}

// DesktopFile records the artifacts created for one desktop entry.
type DesktopFile struct {
	Name       string
	ScriptPath string
	StorePath  string
	SystemPath string
}

// entry is a parsed desktop file preserving section and key order.
type entry struct {
	sections []string
	keys     map[string][]string
	values   map[string]map[string]string
}

// ProcessDesktopFiles finds every desktop file under appDir, rewrites
// it to launch through a generated wrapper script with the app's
// library paths set up, and links it into the system applications
// directory under an app-scoped name.
func ProcessDesktopFiles(appID, appDir string, paths DesktopPaths, logger *zap.Logger) ([]DesktopFile, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, dir := range []string{paths.StoreDir, paths.SystemDir, paths.ScriptsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	var desktopFiles []string
	err := filepath.Walk(appDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".desktop") {
			desktopFiles = append(desktopFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan for desktop files: %w", err)
	}

	if len(desktopFiles) == 0 {
		logger.Debug("no desktop files found", zap.String("app", appID))
		return nil, nil
	}

	var results []DesktopFile
	for _, desktopFile := range desktopFiles {
		result, err := processOne(appID, appDir, desktopFile, paths)
		if err != nil {
			logger.Warn("failed to process desktop file",
				zap.String("file", desktopFile), zap.Error(err))
			continue
		}
		results = append(results, *result)
	}
	return results, nil
}

func processOne(appID, appDir, desktopFile string, paths DesktopPaths) (*DesktopFile, error) {
	parsed, err := parseDesktopFile(desktopFile)
	if err != nil {
		return nil, err
	}

	main, ok := parsed.values["Desktop Entry"]
	if !ok {
		return nil, fmt.Errorf("no Desktop Entry section in %s", desktopFile)
	}

	baseName := filepath.Base(desktopFile)
	stem := strings.TrimSuffix(baseName, ".desktop")
	scriptPath := filepath.Join(paths.ScriptsDir, appID+"_"+stem+".sh")
	storePath := filepath.Join(paths.StoreDir, appID+"_"+baseName)
	systemPath := filepath.Join(paths.SystemDir, appID+"_"+baseName)

	if err := writeLaunchScript(scriptPath, appDir, main["Exec"]); err != nil {
		return nil, err
	}

	parsed.set("Desktop Entry", "Path", appDir)
	parsed.set("Desktop Entry", "Exec", scriptPath)

	if icon := main["Icon"]; icon != "" && !strings.HasPrefix(icon, "/") && !strings.HasPrefix(icon, "$") {
		iconPath := filepath.Join(appDir, icon)
		if _, err := os.Stat(iconPath); err == nil {
			parsed.set("Desktop Entry", "Icon", iconPath)
		}
	}

	if err := writeDesktopFile(storePath, parsed); err != nil {
		return nil, err
	}

	os.Remove(systemPath)
	if err := os.Symlink(storePath, systemPath); err != nil {
		return nil, fmt.Errorf("failed to link desktop file: %w", err)
	}

	name := main["Name"]
	if name == "" {
		name = appID
	}
	return &DesktopFile{
		Name:       name,
		ScriptPath: scriptPath,
		StorePath:  storePath,
		SystemPath: systemPath,
	}, nil
}

// CleanupDesktopFiles removes the desktop files, symlinks and launch
// scripts created for an app.
func CleanupDesktopFiles(appID string, paths DesktopPaths, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	patterns := []string{
		filepath.Join(paths.SystemDir, appID+"_*.desktop"),
		filepath.Join(paths.StoreDir, appID+"_*.desktop"),
		filepath.Join(paths.ScriptsDir, appID+"_*.sh"),
	}

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("bad cleanup pattern %s: %w", pattern, err)
		}
		for _, match := range matches {
			if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
				logger.Warn("failed to remove desktop artifact",
					zap.String("path", match), zap.Error(err))
				continue
			}
			logger.Debug("removed desktop artifact", zap.String("path", match))
		}
	}
	return nil
}

func parseDesktopFile(path string) (*entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	parsed := &entry{
		keys:   make(map[string][]string),
		values: make(map[string]map[string]string),
	}

	var section string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line[1 : len(line)-1]
			if _, ok := parsed.values[section]; !ok {
				parsed.sections = append(parsed.sections, section)
				parsed.values[section] = make(map[string]string)
			}
			continue
		}

		if section == "" {
			continue
		}
		if key, value, ok := strings.Cut(line, "="); ok {
			parsed.set(section, strings.TrimSpace(key), strings.TrimSpace(value))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return parsed, nil
}

func (e *entry) set(section, key, value string) {
	if _, ok := e.values[section]; !ok {
		e.sections = append(e.sections, section)
		e.values[section] = make(map[string]string)
	}
	if _, ok := e.values[section][key]; !ok {
		e.keys[section] = append(e.keys[section], key)
	}
	e.values[section][key] = value
}

func writeDesktopFile(path string, parsed *entry) error {
	var b strings.Builder
	for _, section := range parsed.sections {
		fmt.Fprintf(&b, "[%s]\n", section)
		for _, key := range parsed.keys[section] {
			fmt.Fprintf(&b, "%s=%s\n", key, parsed.values[section][key])
		}
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// writeLaunchScript creates the wrapper that launches the app with its
// bundled libraries on the search paths.
func writeLaunchScript(path, appDir, execCmd string) error {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n\n")
	b.WriteString("TRIPLET=$(gcc -dumpmachine 2>/dev/null || echo \"$(uname -m)-linux-gnu\")\n\n")
	fmt.Fprintf(&b, "cd %s\n\n", appDir)
	b.WriteString("export LD_LIBRARY_PATH=${PWD}/lib:${PWD}/usr/lib:${PWD}/lib/${TRIPLET}:${PWD}/usr/lib/${TRIPLET}:${LD_LIBRARY_PATH}\n\n")
	b.WriteString("export PATH=${PWD}:${PWD}/bin:${PWD}/usr/bin:${PWD}/lib/bin:${PWD}/lib/${TRIPLET}/bin:${PATH}\n\n")
	b.WriteString("export QML2_IMPORT_PATH=${PWD}/lib:${PWD}/lib/${TRIPLET}:${PWD}/usr/lib/:${PWD}/usr/lib/${TRIPLET}/\n\n")
	b.WriteString(execCmd + "\n")

	return os.WriteFile(path, []byte(b.String()), 0o755)
}
