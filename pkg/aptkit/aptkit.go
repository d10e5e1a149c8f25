// Package aptkit drives APT operations through the AptKit system bus
// service. AptKit models every operation as a transaction object that
// must be run and then watched until it reaches a final exit state.
package aptkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	busName     = "org.aptkit"
	objectPath  = "/org/aptkit"
	iface       = "org.aptkit"
	txIface     = "org.aptkit.transaction"
	exitSuccess = "exit-success"
	// unfinished is reported while the transaction is still running.
	exitUnfinished = "exit-unfinished"

	// transactionTimeout bounds how long a single transaction may run.
	transactionTimeout = 5 * time.Minute
)

// ErrTransactionTimeout is returned when a transaction does not finish
// within the allowed time. The transaction is cancelled before the
// error is returned.
var ErrTransactionTimeout = errors.New("aptkit transaction timed out")

// Transactor runs APT operations.
type Transactor interface {
	UpdateCache(ctx context.Context) error
	InstallPackages(ctx context.Context, packages []string) error
}

// Client talks to AptKit over the system bus.
type Client struct {
	conn   *dbus.Conn
	logger *zap.Logger
}

// NewClient connects to the system bus.
func NewClient(logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

// UpdateCache refreshes the APT package lists.
func (c *Client) UpdateCache(ctx context.Context) error {
	c.logger.Info("updating apt package cache")

	var txPath dbus.ObjectPath
	call := c.conn.Object(busName, objectPath).CallWithContext(ctx, iface+".UpdateCache", 0)
	if call.Err != nil {
		return fmt.Errorf("failed to start cache update: %w", call.Err)
	}
	if err := call.Store(&txPath); err != nil {
		return fmt.Errorf("failed to decode transaction path: %w", err)
	}

	return c.runTransaction(ctx, txPath)
}

// InstallPackages installs Debian packages.
func (c *Client) InstallPackages(ctx context.Context, packages []string) error {
	c.logger.Info("installing packages", zap.Strings("packages", packages))

	var txPath dbus.ObjectPath
	call := c.conn.Object(busName, objectPath).CallWithContext(ctx, iface+".InstallPackages", 0, packages)
	if call.Err != nil {
		return fmt.Errorf("failed to start install: %w", call.Err)
	}
	if err := call.Store(&txPath); err != nil {
		return fmt.Errorf("failed to decode transaction path: %w", err)
	}

	return c.runTransaction(ctx, txPath)
}

// runTransaction starts the transaction and watches its signals until
// it reports a final exit state. Transactions that outlive the timeout
// are cancelled.
func (c *Client) runTransaction(ctx context.Context, txPath dbus.ObjectPath) error {
	c.logger.Debug("transaction started", zap.String("path", string(txPath)))

	matchOpts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(txPath),
		dbus.WithMatchInterface(txIface),
	}
	if err := c.conn.AddMatchSignalContext(ctx, matchOpts...); err != nil {
		return fmt.Errorf("failed to subscribe to transaction signals: %w", err)
	}
	defer c.conn.RemoveMatchSignal(matchOpts...)

	signals := make(chan *dbus.Signal, 16)
	c.conn.Signal(signals)
	defer c.conn.RemoveSignal(signals)

	tx := c.conn.Object(busName, txPath)
	call := tx.CallWithContext(ctx, txIface+".Run", 0)
	if call.Err != nil {
		return fmt.Errorf("failed to run transaction: %w", call.Err)
	}

	timeout := time.NewTimer(transactionTimeout)
	defer timeout.Stop()

	for {
		select {
		case sig := <-signals:
			exitState, done := c.handleSignal(sig, txPath)
			if !done {
				continue
			}
			if exitState != exitSuccess {
				return fmt.Errorf("transaction finished with exit state %q", exitState)
			}
			c.logger.Info("transaction completed", zap.String("path", string(txPath)))
			return nil

		case <-timeout.C:
			c.cancelTransaction(tx)
			return ErrTransactionTimeout

		case <-ctx.Done():
			c.cancelTransaction(tx)
			return ctx.Err()
		}
	}
}

// handleSignal inspects one transaction signal. It returns the exit
// state and true once the transaction reached a final state.
func (c *Client) handleSignal(sig *dbus.Signal, txPath dbus.ObjectPath) (string, bool) {
	if sig == nil || sig.Path != txPath {
		return "", false
	}

	switch sig.Name {
	case txIface + ".Finished":
		if len(sig.Body) < 1 {
			return "", false
		}
		state, _ := sig.Body[0].(string)
		return state, true

	case txIface + ".PropertyChanged":
		if len(sig.Body) < 2 {
			return "", false
		}
		name, _ := sig.Body[0].(string)
		variant, ok := sig.Body[1].(dbus.Variant)
		if !ok {
			return "", false
		}

		switch name {
		case "Progress":
			if progress, ok := variant.Value().(int32); ok {
				c.logger.Debug("transaction progress", zap.Int32("percent", progress))
			}
		case "ExitState":
			state, _ := variant.Value().(string)
			if state != "" && state != exitUnfinished {
				return state, true
			}
		}
	}
	return "", false
}

func (c *Client) cancelTransaction(tx dbus.BusObject) {
	// Best effort, the transaction may already be gone.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if call := tx.CallWithContext(ctx, txIface+".Cancel", 0); call.Err != nil {
		c.logger.Warn("failed to cancel transaction", zap.Error(call.Err))
	} else {
		c.logger.Info("transaction cancelled")
	}
}
