// Package manager assembles the daemon: storage, catalog syncers, the
// store services and their bus exports, and the shared idle countdown.
package manager

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/dikkadev/store-provider/pkg/andromeda"
	"github.com/dikkadev/store-provider/pkg/aptkit"
	"github.com/dikkadev/store-provider/pkg/click"
	"github.com/dikkadev/store-provider/pkg/config"
	"github.com/dikkadev/store-provider/pkg/dbusadapter"
	"github.com/dikkadev/store-provider/pkg/fdroid"
	"github.com/dikkadev/store-provider/pkg/fetch"
	"github.com/dikkadev/store-provider/pkg/idle"
	"github.com/dikkadev/store-provider/pkg/openstore"
	"github.com/dikkadev/store-provider/pkg/service"
	"github.com/dikkadev/store-provider/pkg/storage"
)

// Store display names announced through GetAvailableStores.
var availableStores = []string{"AndroidStore", "OpenStore"}

// Manager owns the daemon's long-lived pieces and runs them until an
// exit condition: the idle countdown fires, the bus connection drops,
// or the surrounding context is cancelled.
type Manager struct {
	cfg    *config.Config
	dirs   *config.Directories
	logger *zap.Logger

	idle    *idle.Monitor
	fetcher *fetch.Fetcher

	fdroidCatalog    *storage.LibSQLCatalog
	openstoreCatalog *storage.LibSQLCatalog
	installed        *storage.LibSQLInstalled

	fdroid    *service.FDroidService
	openstore *service.OpenStoreService

	conns []*dbus.Conn
}

// New wires the full daemon. The configuration's directories must
// already exist; see Config.EnsureDirectories.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		cfg:    cfg,
		dirs:   cfg.GetDirectories(),
		logger: logger,
		idle:   idle.NewMonitor(cfg.IdleTimeout, logger),
	}

	if err := m.openStorage(ctx); err != nil {
		m.Close()
		return nil, err
	}

	m.fetcher = fetch.NewFetcher(logger)

	if err := m.exportServices(); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) openStorage(ctx context.Context) error {
	fdroidCatalog, err := storage.NewLibSQLCatalog("file:"+filepath.Join(m.dirs.DB, "fdroid.db"), m.logger)
	if err != nil {
		return fmt.Errorf("failed to open fdroid catalog: %w", err)
	}
	m.fdroidCatalog = fdroidCatalog

	openstoreCatalog, err := storage.NewLibSQLCatalog("file:"+filepath.Join(m.dirs.DB, "openstore.db"), m.logger)
	if err != nil {
		return fmt.Errorf("failed to open openstore catalog: %w", err)
	}
	m.openstoreCatalog = openstoreCatalog

	installed, err := storage.NewLibSQLInstalled("file:"+filepath.Join(m.dirs.Apps, "installed.db"), m.logger)
	if err != nil {
		return fmt.Errorf("failed to open installed database: %w", err)
	}
	m.installed = installed

	for _, init := range []func(context.Context) error{
		fdroidCatalog.Initialize,
		openstoreCatalog.Initialize,
		installed.Initialize,
	} {
		if err := init(ctx); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
	}
	return nil
}

func (m *Manager) exportServices() error {
	managerConn, err := dbusadapter.Connect()
	if err != nil {
		return err
	}
	m.conns = append(m.conns, managerConn)

	fdroidConn, err := dbusadapter.Connect()
	if err != nil {
		return err
	}
	m.conns = append(m.conns, fdroidConn)

	openstoreConn, err := dbusadapter.Connect()
	if err != nil {
		return err
	}
	m.conns = append(m.conns, openstoreConn)

	session, err := andromeda.NewClient(m.logger)
	if err != nil {
		return fmt.Errorf("failed to create session manager client: %w", err)
	}

	// AptKit lives on the system bus, which may be absent in a test
	// session. The OpenStore service degrades to catalog-only updates.
	var apt aptkit.Transactor
	if aptClient, err := aptkit.NewClient(m.logger); err != nil {
		m.logger.Warn("aptkit unavailable, apt cache refresh disabled", zap.Error(err))
	} else {
		apt = aptClient
	}

	m.fdroid = service.NewFDroidService(service.FDroidConfig{
		Catalog:      m.fdroidCatalog,
		Syncer:       fdroid.NewSyncer(m.cfg.SystemRepoDir, m.cfg.UserRepoDir, m.dirs.RepoCache, m.fetcher, m.fdroidCatalog, m.logger),
		Session:      session,
		Downloader:   m.fetcher,
		SystemDir:    m.cfg.SystemRepoDir,
		CustomDir:    m.cfg.UserRepoDir,
		DownloadsDir: m.dirs.Downloads,
		Notifier:     m.idle,
		Logger:       m.logger,
		OnInstalled:  dbusadapter.AppInstalledEmitter(fdroidConn, dbusadapter.FDroidPath, dbusadapter.FDroidIface, m.logger),
	})

	client := openstore.NewClient(m.cfg.OpenStoreAPI, m.logger)
	m.openstore = service.NewOpenStoreService(service.OpenStoreConfig{
		Catalog:    m.openstoreCatalog,
		Installed:  m.installed,
		Syncer:     openstore.NewSyncer(client, m.openstoreCatalog, m.logger),
		Details:    client,
		Downloader: m.fetcher,
		Installer: service.NewClickInstaller(click.DesktopPaths{
			StoreDir:   m.dirs.DesktopEntries,
			SystemDir:  m.dirs.DesktopEntries,
			ScriptsDir: filepath.Join(m.dirs.Apps, "scripts"),
		}, m.logger),
		Apt:         apt,
		AppsDir:     m.dirs.Apps,
		Notifier:    m.idle,
		Logger:      m.logger,
		OnInstalled: dbusadapter.AppInstalledEmitter(openstoreConn, dbusadapter.OpenStorePath, dbusadapter.OpenStoreIface, m.logger),
	})

	if err := dbusadapter.ExportManager(managerConn, availableStores, m.logger); err != nil {
		return err
	}
	if err := dbusadapter.ExportFDroid(fdroidConn, m.fdroid, m.logger); err != nil {
		return err
	}
	if err := dbusadapter.ExportOpenStore(openstoreConn, m.openstore, m.logger); err != nil {
		return err
	}
	return nil
}

// AvailableStores returns the display names of the hosted stores.
func (m *Manager) AvailableStores() []string {
	return availableStores
}

// Run blocks until the daemon should exit. The idle countdown starts
// immediately, so a daemon that receives no calls terminates after the
// configured timeout.
func (m *Manager) Run(ctx context.Context) error {
	m.idle.Reset()

	disconnected := m.watchDisconnect()

	select {
	case <-ctx.Done():
		m.logger.Info("shutdown requested")
		return ctx.Err()
	case <-m.idle.Done():
		return nil
	case <-disconnected:
		m.logger.Warn("session bus connection lost, shutting down")
		return nil
	}
}

// watchDisconnect reports loss of the manager's bus connection. The
// library closes registered signal channels when the connection dies,
// which is the only portable disconnect notification.
func (m *Manager) watchDisconnect() <-chan struct{} {
	done := make(chan struct{})
	if len(m.conns) == 0 {
		return done
	}

	ch := make(chan *dbus.Signal, 16)
	m.conns[0].Signal(ch)

	go func() {
		defer close(done)
		for range ch {
		}
	}()
	return done
}

// Close releases every resource the manager owns. Safe to call on a
// partially constructed manager.
func (m *Manager) Close() {
	m.idle.Stop()

	if m.fdroid != nil {
		if err := m.fdroid.Close(); err != nil {
			m.logger.Warn("failed to close fdroid service", zap.Error(err))
		}
	}
	if m.openstore != nil {
		if err := m.openstore.Close(); err != nil {
			m.logger.Warn("failed to close openstore service", zap.Error(err))
		}
	}

	for _, conn := range m.conns {
		if err := conn.Close(); err != nil {
			m.logger.Debug("failed to close bus connection", zap.Error(err))
		}
	}

	if m.fetcher != nil {
		m.fetcher.Close()
	}

	if m.fdroidCatalog != nil {
		if err := m.fdroidCatalog.Close(); err != nil {
			m.logger.Warn("failed to close fdroid catalog", zap.Error(err))
		}
	}
	if m.openstoreCatalog != nil {
		if err := m.openstoreCatalog.Close(); err != nil {
			m.logger.Warn("failed to close openstore catalog", zap.Error(err))
		}
	}
	if m.installed != nil {
		if err := m.installed.Close(); err != nil {
			m.logger.Warn("failed to close installed database", zap.Error(err))
		}
	}
}
