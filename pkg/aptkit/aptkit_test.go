package aptkit

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

func testClient() *Client {
	return &Client{logger: zap.NewNop()}
}

func TestHandleSignalFinished(t *testing.T) {
	c := testClient()
	txPath := dbus.ObjectPath("/org/aptkit/transaction/1")

	state, done := c.handleSignal(&dbus.Signal{
		Path: txPath,
		Name: txIface + ".Finished",
		Body: []interface{}{"exit-success"},
	}, txPath)

	if !done {
		t.Fatal("expected Finished to end the transaction")
	}
	if state != exitSuccess {
		t.Errorf("unexpected exit state: %s", state)
	}
}

func TestHandleSignalExitStateProperty(t *testing.T) {
	c := testClient()
	txPath := dbus.ObjectPath("/org/aptkit/transaction/1")

	// Unfinished keeps waiting.
	_, done := c.handleSignal(&dbus.Signal{
		Path: txPath,
		Name: txIface + ".PropertyChanged",
		Body: []interface{}{"ExitState", dbus.MakeVariant(exitUnfinished)},
	}, txPath)
	if done {
		t.Error("expected exit-unfinished to keep the transaction running")
	}

	// A final state ends it.
	state, done := c.handleSignal(&dbus.Signal{
		Path: txPath,
		Name: txIface + ".PropertyChanged",
		Body: []interface{}{"ExitState", dbus.MakeVariant("exit-failed")},
	}, txPath)
	if !done {
		t.Fatal("expected final exit state to end the transaction")
	}
	if state != "exit-failed" {
		t.Errorf("unexpected exit state: %s", state)
	}
}

func TestHandleSignalIgnoresOtherTransactions(t *testing.T) {
	c := testClient()
	txPath := dbus.ObjectPath("/org/aptkit/transaction/1")

	_, done := c.handleSignal(&dbus.Signal{
		Path: dbus.ObjectPath("/org/aptkit/transaction/2"),
		Name: txIface + ".Finished",
		Body: []interface{}{"exit-success"},
	}, txPath)
	if done {
		t.Error("expected signal from another transaction to be ignored")
	}
}

func TestHandleSignalProgressKeepsWaiting(t *testing.T) {
	c := testClient()
	txPath := dbus.ObjectPath("/org/aptkit/transaction/1")

	_, done := c.handleSignal(&dbus.Signal{
		Path: txPath,
		Name: txIface + ".PropertyChanged",
		Body: []interface{}{"Progress", dbus.MakeVariant(int32(40))},
	}, txPath)
	if done {
		t.Error("expected progress updates to keep the transaction running")
	}
}
