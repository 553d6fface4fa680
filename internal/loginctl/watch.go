// Package loginctl follows logind so sessions stop sampling while the
// machine sleeps or the desktop is locked.
package loginctl

import (
	"context"
	"fmt"
	"log"

	"github.com/godbus/dbus/v5"
)

const (
	signalPrepareForSleep   = "org.freedesktop.login1.Manager.PrepareForSleep"
	signalPropertiesChanged = "org.freedesktop.DBus.Properties.PropertiesChanged"
	sessionInterface        = "org.freedesktop.login1.Session"
)

// Reasons passed to Handler.Suspend.
const (
	ReasonSleep  = "system is going to sleep"
	ReasonLocked = "screen locked"
)

// Handler reacts to the learner leaving the machine.
type Handler interface {
	// Suspend stops every camera with reason.
	Suspend(reason string)
}

// Watch subscribes to logind on conn and calls h until ctx is done.
func Watch(ctx context.Context, conn *dbus.Conn, h Handler) error {
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath("/org/freedesktop/login1"),
		dbus.WithMatchInterface("org.freedesktop.login1.Manager"),
		dbus.WithMatchMember("PrepareForSleep"),
	); err != nil {
		return fmt.Errorf("add match failed: %w", err)
	}

	// watch for property changes (session locked)
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return fmt.Errorf("add match for PropertiesChanged failed: %w", err)
	}

	c := make(chan *dbus.Signal, 10)
	conn.Signal(c)
	defer conn.RemoveSignal(c)

	for {
		select {
		case sig := <-c:
			if sig == nil {
				return nil
			}
			dispatch(sig, h)
		case <-ctx.Done():
			return nil
		}
	}
}

// dispatch maps one logind signal to the handler.
func dispatch(sig *dbus.Signal, h Handler) {
	switch sig.Name {
	case signalPrepareForSleep:
		if len(sig.Body) == 0 {
			return
		}
		if sleeping, _ := sig.Body[0].(bool); sleeping {
			log.Println("System is going to sleep")
			h.Suspend(ReasonSleep)
		} else {
			log.Println("System has woken up")
		}

	case signalPropertiesChanged:
		if len(sig.Body) < 2 {
			return
		}
		iface, ok := sig.Body[0].(string)
		if !ok || iface != sessionInterface {
			return
		}
		changedProps, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return
		}
		if val, exists := changedProps["LockedHint"]; exists {
			if locked, _ := val.Value().(bool); locked {
				log.Println("Session locked:", sig.Path)
				h.Suspend(ReasonLocked)
			}
		}
	}
}
