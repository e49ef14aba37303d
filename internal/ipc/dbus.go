package ipc

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/mender-core/agent/internal/logging"
)

var log = logging.For("ipc")

const objectPath = dbus.ObjectPath("/io/mender/AuthenticationManager")

// DBusBus is the production Bus backed by the system message bus.
type DBusBus struct {
	conn *dbus.Conn
	name string
}

// NewSystemBus connects to the system D-Bus and requests name as its
// well-known bus name.
func NewSystemBus(name string) (*DBusBus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("ipc: connect to system bus: %w", err)
	}
	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ipc: request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("ipc: bus name %s already owned", name)
	}
	return &DBusBus{conn: conn, name: name}, nil
}

// EmitSignal implements Bus.
func (b *DBusBus) EmitSignal(iface, name string, args ...interface{}) error {
	log.WithField("signal", iface+"."+name).Debug("emitting dbus signal")
	return b.conn.Emit(objectPath, iface+"."+name, args...)
}

// RegisterSignalHandler implements Bus: it adds a match rule for
// iface.name and dispatches matching signals to fn on their own goroutine.
func (b *DBusBus) RegisterSignalHandler(iface, name string, fn func(args ...interface{})) error {
	matchOpts := []dbus.MatchOption{
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember(name),
	}
	if err := b.conn.AddMatchSignal(matchOpts...); err != nil {
		return fmt.Errorf("ipc: subscribing to %s.%s: %w", iface, name, err)
	}
	signals := make(chan *dbus.Signal, 10)
	b.conn.Signal(signals)
	go func() {
		for sig := range signals {
			if sig.Name != iface+"."+name {
				continue
			}
			go fn(sig.Body...)
		}
	}()
	return nil
}

// CallMethod implements Bus: a blocking call to method on iface against
// this bus's own exported object.
func (b *DBusBus) CallMethod(iface, method string, args ...interface{}) ([]interface{}, error) {
	call := b.conn.Object(b.name, objectPath).Call(iface+"."+method, 0, args...)
	if call.Err != nil {
		return nil, fmt.Errorf("ipc: calling %s.%s: %w", iface, method, call.Err)
	}
	return call.Body, nil
}

// MethodHandler implements Bus: installs fn to answer inbound calls to
// method on iface.
func (b *DBusBus) MethodHandler(iface, method string, fn func(args ...interface{}) ([]interface{}, error)) error {
	log.WithField("method", method).Debug("registering dbus method handler")
	return b.conn.ExportMethodTable(map[string]interface{}{
		method: func(args ...interface{}) ([]interface{}, *dbus.Error) {
			result, err := fn(args...)
			if err != nil {
				return nil, dbus.MakeFailedError(err)
			}
			return result, nil
		},
	}, objectPath, iface)
}

// Close implements Bus.
func (b *DBusBus) Close() error {
	return b.conn.Close()
}
