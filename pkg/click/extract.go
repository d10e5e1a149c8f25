// Package click unpacks click application packages and manages the
// desktop entries that make the unpacked apps launchable.
//
// A click package is an ar archive holding a data.tar.gz with the
// application tree. Extraction shells out to ar for the outer archive
// and streams the inner tarball directly.
package click

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

const dataTarName = "data.tar.gz"

// Extract unpacks the click package at clickPath into targetDir.
func Extract(ctx context.Context, clickPath, targetDir string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create target dir: %w", err)
	}

	workDir, err := os.MkdirTemp("", "click-extract-")
	if err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	absClickPath, err := filepath.Abs(clickPath)
	if err != nil {
		return fmt.Errorf("failed to resolve click path: %w", err)
	}

	logger.Debug("extracting click package", zap.String("path", absClickPath))

	cmd := exec.CommandContext(ctx, "ar", "x", absClickPath)
	cmd.Dir = workDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to unpack archive: %w: %s", err, strings.TrimSpace(string(output)))
	}

	dataTarPath := filepath.Join(workDir, dataTarName)
	if _, err := os.Stat(dataTarPath); err != nil {
		return fmt.Errorf("%s not found in %s", dataTarName, clickPath)
	}

	if err := extractTarGz(dataTarPath, targetDir); err != nil {
		return fmt.Errorf("failed to extract data tarball: %w", err)
	}

	logger.Debug("click package extracted", zap.String("target", targetDir))
	return nil
}

func extractTarGz(tarPath, targetDir string) error {
	f, err := os.Open(tarPath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	reader := tar.NewReader(gz)
	for {
		header, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		dest, err := securePath(targetDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(header.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, reader); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			os.Remove(dest)
			if err := os.Symlink(header.Linkname, dest); err != nil {
				return err
			}
		}
	}
}

// securePath joins name under root, rejecting entries that would
// escape the target directory.
func securePath(root, name string) (string, error) {
	dest := filepath.Join(root, name)
	if !strings.HasPrefix(dest, filepath.Clean(root)+string(os.PathSeparator)) && dest != filepath.Clean(root) {
		return "", fmt.Errorf("archive entry escapes target dir: %s", name)
	}
	return dest, nil
}
