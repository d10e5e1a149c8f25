// Package dbusadapter exposes the store services on the session bus.
// Each store keeps its own bus connection and well-known name, so a
// client can address either store without the other being up.
package dbusadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"go.uber.org/zap"

	"github.com/dikkadev/store-provider/pkg/service"
	"github.com/dikkadev/store-provider/pkg/upgrade"
)

// Bus names, object paths and interfaces of the exported services.
const (
	ManagerBusName = "io.FuriOS.StoreManager"
	ManagerPath    = dbus.ObjectPath("/io/FuriOS/StoreManager")
	ManagerIface   = "io.FuriOS.StoreManager"

	FDroidBusName = "io.FuriOS.AndroidStore"
	FDroidPath    = dbus.ObjectPath("/fdroid")
	FDroidIface   = "io.FuriOS.AndroidStore.fdroid"

	OpenStoreBusName = "io.FuriOS.OpenStore"
	OpenStorePath    = dbus.ObjectPath("/")
	OpenStoreIface   = "io.FuriOS.OpenStore"
)

const appInstalledSignal = "AppInstalled"

// Connect opens a dedicated session bus connection.
func Connect() (*dbus.Conn, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return conn, nil
}

// AppInstalledEmitter returns a function emitting the AppInstalled
// signal for the given object.
func AppInstalledEmitter(conn *dbus.Conn, path dbus.ObjectPath, iface string, logger *zap.Logger) func(packageID string) {
	return func(packageID string) {
		if err := conn.Emit(path, iface+"."+appInstalledSignal, packageID); err != nil {
			logger.Warn("failed to emit AppInstalled", zap.Error(err))
		}
	}
}

// repoEntry marshals to the (ss) struct of GetRepositories.
type repoEntry struct {
	Name string
	URL  string
}

// storeAdapter maps a store service onto the bus method signatures.
type storeAdapter struct {
	store  service.Store
	logger *zap.Logger
}

func (a *storeAdapter) Search(query string) (string, *dbus.Error) {
	results, err := a.store.Search(context.Background(), query)
	if err != nil {
		return "", busError(err)
	}

	encoded, err := json.Marshal(results)
	if err != nil {
		return "", busError(err)
	}
	return string(encoded), nil
}

func (a *storeAdapter) UpdateCache() (bool, *dbus.Error) {
	ok, err := a.store.UpdateCache(context.Background())
	if err != nil {
		return false, busError(err)
	}
	return ok, nil
}

func (a *storeAdapter) Install(packageID string) (bool, *dbus.Error) {
	ok, err := a.store.Install(context.Background(), packageID)
	if err != nil {
		return false, busError(err)
	}
	return ok, nil
}

func (a *storeAdapter) GetRepositories() ([]repoEntry, *dbus.Error) {
	repos, err := a.store.GetRepositories(context.Background())
	if err != nil {
		return nil, busError(err)
	}

	entries := make([]repoEntry, 0, len(repos))
	for _, r := range repos {
		entries = append(entries, repoEntry{Name: r.Name, URL: r.URL})
	}
	return entries, nil
}

func (a *storeAdapter) GetUpgradable() ([]map[string]dbus.Variant, *dbus.Error) {
	candidates, err := a.store.GetUpgradable(context.Background())
	if err != nil {
		return nil, busError(err)
	}

	out := make([]map[string]dbus.Variant, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, candidateToVariant(c))
	}
	return out, nil
}

func (a *storeAdapter) UpgradePackages(packages []string) (bool, *dbus.Error) {
	ok, err := a.store.UpgradePackages(context.Background(), packages)
	if err != nil {
		return false, busError(err)
	}
	return ok, nil
}

func (a *storeAdapter) GetInstalledApps() ([]map[string]dbus.Variant, *dbus.Error) {
	apps, err := a.store.GetInstalledApps(context.Background())
	if err != nil {
		return nil, busError(err)
	}

	out := make([]map[string]dbus.Variant, 0, len(apps))
	for _, app := range apps {
		out = append(out, installedToVariant(app))
	}
	return out, nil
}

func (a *storeAdapter) UninstallApp(packageName string) (bool, *dbus.Error) {
	ok, err := a.store.UninstallApp(context.Background(), packageName)
	if err != nil {
		return false, busError(err)
	}
	return ok, nil
}

// fdroidAdapter adds the repository removal stub the F-Droid interface
// carries.
type fdroidAdapter struct {
	storeAdapter
	svc *service.FDroidService
}

func (a *fdroidAdapter) RemoveRepository(repoID string) (bool, *dbus.Error) {
	ok, err := a.svc.RemoveRepository(context.Background(), repoID)
	if err != nil {
		return false, busError(err)
	}
	return ok, nil
}

// managerAdapter is the discovery surface clients use to activate the
// daemon and enumerate its stores.
type managerAdapter struct {
	stores []string
}

func (a *managerAdapter) Start() (bool, *dbus.Error) {
	return true, nil
}

func (a *managerAdapter) GetAvailableStores() ([]string, *dbus.Error) {
	return a.stores, nil
}

// ExportManager exports the manager interface and claims its name.
func ExportManager(conn *dbus.Conn, stores []string, logger *zap.Logger) error {
	adapter := &managerAdapter{stores: stores}
	if err := conn.Export(adapter, ManagerPath, ManagerIface); err != nil {
		return fmt.Errorf("failed to export manager: %w", err)
	}
	if err := exportIntrospection(conn, ManagerPath, managerIntrospection()); err != nil {
		return err
	}
	if err := requestName(conn, ManagerBusName); err != nil {
		return err
	}

	logger.Info("store manager exported", zap.String("bus_name", ManagerBusName))
	return nil
}

// ExportFDroid exports the F-Droid store interface and claims its name.
func ExportFDroid(conn *dbus.Conn, svc *service.FDroidService, logger *zap.Logger) error {
	adapter := &fdroidAdapter{
		storeAdapter: storeAdapter{store: svc, logger: logger},
		svc:          svc,
	}
	if err := conn.Export(adapter, FDroidPath, FDroidIface); err != nil {
		return fmt.Errorf("failed to export fdroid store: %w", err)
	}
	if err := exportIntrospection(conn, FDroidPath, storeIntrospection(FDroidIface, true)); err != nil {
		return err
	}
	if err := requestName(conn, FDroidBusName); err != nil {
		return err
	}

	logger.Info("fdroid store exported", zap.String("bus_name", FDroidBusName))
	return nil
}

// ExportOpenStore exports the OpenStore interface and claims its name.
func ExportOpenStore(conn *dbus.Conn, svc service.Store, logger *zap.Logger) error {
	adapter := &storeAdapter{store: svc, logger: logger}
	if err := conn.Export(adapter, OpenStorePath, OpenStoreIface); err != nil {
		return fmt.Errorf("failed to export openstore: %w", err)
	}
	if err := exportIntrospection(conn, OpenStorePath, storeIntrospection(OpenStoreIface, false)); err != nil {
		return err
	}
	if err := requestName(conn, OpenStoreBusName); err != nil {
		return err
	}

	logger.Info("openstore exported", zap.String("bus_name", OpenStoreBusName))
	return nil
}

func requestName(conn *dbus.Conn, name string) error {
	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request name %s: %w", name, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name %s already taken", name)
	}
	return nil
}

func exportIntrospection(conn *dbus.Conn, path dbus.ObjectPath, node *introspect.Node) error {
	if err := conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspection: %w", err)
	}
	return nil
}

func busError(err error) *dbus.Error {
	return dbus.MakeFailedError(err)
}

func candidateToVariant(c upgrade.Candidate) map[string]dbus.Variant {
	out := map[string]dbus.Variant{
		"id":               dbus.MakeVariant(c.ID),
		"name":             dbus.MakeVariant(c.Name),
		"packageName":      dbus.MakeVariant(c.ID),
		"currentVersion":   dbus.MakeVariant(c.CurrentVersion),
		"availableVersion": dbus.MakeVariant(c.AvailableVersion),
		"repository":       dbus.MakeVariant(c.RepoURL),
	}
	if c.Architecture != "" {
		out["architecture"] = dbus.MakeVariant(c.Architecture)
	}
	if c.Channel != "" {
		out["channel"] = dbus.MakeVariant(c.Channel)
	}
	if c.DownloadURL != "" {
		out["download_url"] = dbus.MakeVariant(c.DownloadURL)
	}
	if len(c.Payload) > 0 {
		out["package"] = dbus.MakeVariant(string(c.Payload))
	}
	return out
}

func installedToVariant(app service.InstalledApp) map[string]dbus.Variant {
	out := map[string]dbus.Variant{
		"id":          dbus.MakeVariant(app.ID),
		"packageName": dbus.MakeVariant(app.ID),
		"name":        dbus.MakeVariant(app.Name),
		"versionName": dbus.MakeVariant(app.Version),
		"state":       dbus.MakeVariant(app.State),
	}
	if app.Channel != "" {
		out["channel"] = dbus.MakeVariant(app.Channel)
	}
	if app.Architecture != "" {
		out["architecture"] = dbus.MakeVariant(app.Architecture)
	}
	if app.InstallDate != 0 {
		out["installDate"] = dbus.MakeVariant(app.InstallDate)
	}
	return out
}
