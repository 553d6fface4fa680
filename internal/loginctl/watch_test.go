package loginctl

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

type recordingHandler struct {
	reasons []string
}

func (h *recordingHandler) Suspend(reason string) {
	h.reasons = append(h.reasons, reason)
}

func TestDispatch(t *testing.T) {
	locked := func(v bool) []interface{} {
		return []interface{}{
			sessionInterface,
			map[string]dbus.Variant{"LockedHint": dbus.MakeVariant(v)},
			[]string{},
		}
	}

	tests := []struct {
		name string
		sig  *dbus.Signal
		want []string
	}{
		{"Going to sleep", &dbus.Signal{Name: signalPrepareForSleep, Body: []interface{}{true}}, []string{ReasonSleep}},
		{"Waking up", &dbus.Signal{Name: signalPrepareForSleep, Body: []interface{}{false}}, nil},
		{"Sleep without body", &dbus.Signal{Name: signalPrepareForSleep}, nil},
		{"Locked", &dbus.Signal{Name: signalPropertiesChanged, Path: "/org/freedesktop/login1/session/_32", Body: locked(true)}, []string{ReasonLocked}},
		{"Unlocked", &dbus.Signal{Name: signalPropertiesChanged, Body: locked(false)}, nil},
		{"Other interface", &dbus.Signal{Name: signalPropertiesChanged, Body: []interface{}{
			"org.freedesktop.login1.User",
			map[string]dbus.Variant{"LockedHint": dbus.MakeVariant(true)},
		}}, nil},
		{"Other property", &dbus.Signal{Name: signalPropertiesChanged, Body: []interface{}{
			sessionInterface,
			map[string]dbus.Variant{"IdleHint": dbus.MakeVariant(true)},
		}}, nil},
		{"Unrelated signal", &dbus.Signal{Name: "org.freedesktop.login1.Manager.SessionNew"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{}
			dispatch(tt.sig, h)
			assert.Equal(t, tt.want, h.reasons)
		})
	}
}
