package arg

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/SoarinFerret/FocusWarden/internal/ipc"
)

// callDaemon invokes a Manager method and returns its JSON reply.
func callDaemon(method string, args ...interface{}) (string, error) {
	conn, err := ipc.Connect(sessionBus)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	obj := conn.Object(ipc.ServiceName, dbus.ObjectPath(ipc.ObjectPath))

	var result string
	if err := obj.Call(ipc.InterfaceName+"."+method, 0, args...).Store(&result); err != nil {
		return "", fmt.Errorf("failed to call %s: %w", method, err)
	}
	return result, nil
}
