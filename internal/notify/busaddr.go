package notify

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
)

const busAddressVar = "DBUS_SESSION_BUS_ADDRESS"

// sessionBusAddress picks the desktop session bus: an explicit address, the
// daemon's own environment, or the environment of the desktop session
// leader when the daemon runs outside the session.
func sessionBusAddress(explicit string, leaderPID int) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if addr := os.Getenv(busAddressVar); addr != "" {
		return addr, nil
	}
	if leaderPID > 0 {
		return envFromProc(leaderPID, busAddressVar)
	}
	return "", fmt.Errorf("no session bus address: set notify.bus_address or notify.leader_pid")
}

// envFromProc reads one variable from /proc/<pid>/environ.
func envFromProc(pid int, name string) (string, error) {
	path := fmt.Sprintf("/proc/%d/environ", pid)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	scanner.Split(splitNull)

	prefix := name + "="
	for scanner.Scan() {
		if v, ok := strings.CutPrefix(scanner.Text(), prefix); ok {
			return v, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("error scanning %s: %w", path, err)
	}
	return "", fmt.Errorf("%s not found in process %d", name, pid)
}

// splitNull is a bufio.SplitFunc for NUL separated records.
func splitNull(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
