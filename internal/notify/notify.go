// Package notify sends desktop notifications for gatekeeper events.
package notify

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

// Notifier shows a message to the learner.
type Notifier interface {
	Notify(summary, body string) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(summary, body string) error { return nil }

type Config struct {
	AppName    string
	BusAddress string
	LeaderPID  int
}

// busConn is the part of *dbus.Conn the notifier uses.
type busConn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Close() error
}

// DBusNotifier posts to org.freedesktop.Notifications on the session bus.
// A connection is opened lazily and reopened after a failed call.
type DBusNotifier struct {
	cfg  Config
	dial func(addr string) (busConn, error)

	mu   sync.Mutex
	conn busConn
}

func NewDBusNotifier(cfg Config) *DBusNotifier {
	if cfg.AppName == "" {
		cfg.AppName = "FocusWarden"
	}
	return &DBusNotifier{cfg: cfg, dial: dialSessionBus}
}

func dialSessionBus(addr string) (busConn, error) {
	conn, err := dbus.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send hello: %w", err)
	}
	return conn, nil
}

func (n *DBusNotifier) Notify(summary, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		addr, err := sessionBusAddress(n.cfg.BusAddress, n.cfg.LeaderPID)
		if err != nil {
			return fmt.Errorf("failed to get session bus address: %w", err)
		}
		conn, err := n.dial(addr)
		if err != nil {
			return err
		}
		n.conn = conn
	}

	obj := n.conn.Object("org.freedesktop.Notifications", "/org/freedesktop/Notifications")
	call := obj.Call("org.freedesktop.Notifications.Notify", 0,
		n.cfg.AppName,
		uint32(0),
		"dialog-warning",
		summary,
		body,
		[]string{},
		map[string]dbus.Variant{
			"urgency": dbus.MakeVariant(byte(1)),
		},
		int32(10000),
	)
	if call.Err != nil {
		n.conn.Close()
		n.conn = nil
		return fmt.Errorf("failed to send notification: %w", call.Err)
	}
	return nil
}

func (n *DBusNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}
