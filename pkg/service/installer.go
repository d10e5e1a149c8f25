package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/dikkadev/store-provider/pkg/click"
)

// ClickInstaller unpacks click packages and maintains their desktop
// integration.
type ClickInstaller interface {
	Extract(ctx context.Context, clickPath, targetDir string) error
	ProcessDesktopFiles(appID, appDir string) ([]click.DesktopFile, error)
	CleanupDesktopFiles(appID string) error
}

type clickInstaller struct {
	paths  click.DesktopPaths
	logger *zap.Logger
}

// NewClickInstaller creates the production installer writing desktop
// entries to the given paths.
func NewClickInstaller(paths click.DesktopPaths, logger *zap.Logger) ClickInstaller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &clickInstaller{paths: paths, logger: logger}
}

func (c *clickInstaller) Extract(ctx context.Context, clickPath, targetDir string) error {
	return click.Extract(ctx, clickPath, targetDir, c.logger)
}

func (c *clickInstaller) ProcessDesktopFiles(appID, appDir string) ([]click.DesktopFile, error) {
	return click.ProcessDesktopFiles(appID, appDir, c.paths, c.logger)
}

func (c *clickInstaller) CleanupDesktopFiles(appID string) error {
	return click.CleanupDesktopFiles(appID, c.paths, c.logger)
}
