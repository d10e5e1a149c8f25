// Package andromeda is the client side of the container session
// manager, the privileged peer that installs and removes Android apps.
package andromeda

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	busName    = "io.furios.Andromeda.Session"
	objectPath = "/SessionManager"
	iface      = "io.furios.Andromeda.SessionManager"
)

// ErrPeerUnavailable is returned when the session manager is not
// reachable on the bus. Operations that need the container treat this
// as "do nothing" rather than a hard failure.
var ErrPeerUnavailable = errors.New("container session manager unavailable")

// AppInfo describes one installed Android app as reported by the
// session manager.
type AppInfo struct {
	PackageName string
	Name        string
	VersionName string
}

// SessionManager is the operations surface of the container peer.
type SessionManager interface {
	Ping(ctx context.Context) error
	InstallApp(ctx context.Context, packagePath string) error
	RemoveApp(ctx context.Context, packageName string) error
	AppsInfo(ctx context.Context) ([]AppInfo, error)
}

// Client talks to the session manager over the session bus.
type Client struct {
	conn   *dbus.Conn
	logger *zap.Logger
}

// NewClient connects to the session bus.
func NewClient(logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

// Ping checks whether the session manager is up.
func (c *Client) Ping(ctx context.Context) error {
	call := c.object().CallWithContext(ctx, iface+".Ping", 0)
	if call.Err != nil {
		c.logger.Debug("session manager not reachable", zap.Error(call.Err))
		return fmt.Errorf("%w: %v", ErrPeerUnavailable, call.Err)
	}
	return nil
}

// InstallApp asks the session manager to install the package at the
// given path inside the container.
func (c *Client) InstallApp(ctx context.Context, packagePath string) error {
	call := c.object().CallWithContext(ctx, iface+".InstallApp", 0, packagePath)
	if call.Err != nil {
		return fmt.Errorf("failed to install %s: %w", packagePath, call.Err)
	}
	c.logger.Info("app installed in container", zap.String("path", packagePath))
	return nil
}

// RemoveApp asks the session manager to remove an app from the
// container.
func (c *Client) RemoveApp(ctx context.Context, packageName string) error {
	call := c.object().CallWithContext(ctx, iface+".RemoveApp", 0, packageName)
	if call.Err != nil {
		return fmt.Errorf("failed to remove %s: %w", packageName, call.Err)
	}
	c.logger.Info("app removed from container", zap.String("package", packageName))
	return nil
}

// AppsInfo lists the apps installed in the container.
func (c *Client) AppsInfo(ctx context.Context) ([]AppInfo, error) {
	var raw []map[string]dbus.Variant
	call := c.object().CallWithContext(ctx, iface+".GetAppsInfo", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerUnavailable, call.Err)
	}
	if err := call.Store(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode apps info: %w", err)
	}
	return parseAppsInfo(raw), nil
}

func (c *Client) object() dbus.BusObject {
	return c.conn.Object(busName, objectPath)
}

// parseAppsInfo converts the variant maps of GetAppsInfo into AppInfo
// records. Entries without a package name are dropped.
func parseAppsInfo(raw []map[string]dbus.Variant) []AppInfo {
	var apps []AppInfo
	for _, entry := range raw {
		app := AppInfo{
			PackageName: variantString(entry, "packageName"),
			Name:        variantString(entry, "name"),
			VersionName: variantString(entry, "versionName"),
		}
		if app.PackageName == "" {
			continue
		}
		apps = append(apps, app)
	}
	return apps
}

func variantString(entry map[string]dbus.Variant, key string) string {
	v, ok := entry[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}
