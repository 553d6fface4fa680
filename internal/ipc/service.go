// Package ipc exposes the daemon's state on D-Bus for fwctl. Every method
// returns a JSON document.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/SoarinFerret/FocusWarden/internal/block"
	"github.com/SoarinFerret/FocusWarden/internal/emitter"
	"github.com/SoarinFerret/FocusWarden/internal/engine"
	"github.com/SoarinFerret/FocusWarden/internal/metrics"
	"github.com/SoarinFerret/FocusWarden/internal/state"
)

const (
	ObjectPath    = "/io/github/soarinferret/focuswarden"
	InterfaceName = "io.github.soarinferret.focuswarden.Manager"
	ServiceName   = "io.github.soarinferret.focuswarden"

	// ErrorNotFound is the D-Bus error name for an unknown video.
	ErrorNotFound = "io.github.soarinferret.focuswarden.Error.NotFound"
	errorFailed   = "io.github.soarinferret.focuswarden.Error.Failed"
)

// Status is the reply of GetStatus.
type Status struct {
	engine.Summary
	DetectorReady bool             `json:"detector_ready"`
	Metrics       metrics.Snapshot `json:"metrics"`
	Events        *emitter.Stats   `json:"events,omitempty"`
}

// BlockInfo is a stored block with its remaining time.
type BlockInfo struct {
	block.Record
	RemainingMS int64 `json:"remainingMs"`
	Expired     bool  `json:"expired"`
}

// Manager is the exported D-Bus object.
type Manager struct {
	Engine        *engine.Engine
	Metrics       *metrics.Metrics
	DetectorReady func() bool
	EventStats    func() emitter.Stats
	Now           func() time.Time
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) GetStatus() (string, *dbus.Error) {
	summary, err := m.Engine.Summary(context.Background())
	if err != nil {
		return "", failed("get status", err)
	}
	status := Status{Summary: summary, Metrics: m.Metrics.Snapshot()}
	if m.DetectorReady != nil {
		status.DetectorReady = m.DetectorReady()
	}
	if m.EventStats != nil {
		stats := m.EventStats()
		status.Events = &stats
	}
	return marshal(status)
}

func (m *Manager) ListSessions() (string, *dbus.Error) {
	return marshal(m.Engine.Sessions())
}

func (m *Manager) ListBlocks() (string, *dbus.Error) {
	records, err := m.Engine.Blocks().List(context.Background())
	if err != nil {
		return "", failed("list blocks", err)
	}
	now := m.now()
	infos := make([]BlockInfo, 0, len(records))
	for _, r := range records {
		infos = append(infos, blockInfo(r, now))
	}
	return marshal(infos)
}

func (m *Manager) GetBlock(videoID string) (string, *dbus.Error) {
	rec, err := m.Engine.Blocks().Load(context.Background(), videoID)
	if errors.Is(err, state.ErrNotFound) {
		return "", dbus.NewError(ErrorNotFound, []interface{}{fmt.Sprintf("video %s is not blocked", videoID)})
	}
	if err != nil {
		return "", failed("get block", err)
	}
	return marshal(blockInfo(rec, m.now()))
}

func blockInfo(r block.Record, now time.Time) BlockInfo {
	return BlockInfo{Record: r, RemainingMS: r.Remaining(now).Milliseconds(), Expired: r.Expired(now)}
}

func marshal(v interface{}) (string, *dbus.Error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", failed("encode reply", err)
	}
	return string(data), nil
}

func failed(op string, err error) *dbus.Error {
	log.Printf("D-Bus %s failed: %v", op, err)
	return dbus.NewError(errorFailed, []interface{}{fmt.Sprintf("%s: %v", op, err)})
}

// Serve claims ServiceName on conn and exports m until ctx is done.
func Serve(ctx context.Context, conn *dbus.Conn, m *Manager) error {
	reply, err := conn.RequestName(ServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("failed to request name: %s is already owned", ServiceName)
	}

	if err := conn.Export(m, dbus.ObjectPath(ObjectPath), InterfaceName); err != nil {
		return fmt.Errorf("failed to export interface: %w", err)
	}

	<-ctx.Done()
	conn.ReleaseName(ServiceName)
	return nil
}

// Connect opens the system bus, or the session bus when session is true.
func Connect(session bool) (*dbus.Conn, error) {
	if session {
		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to session bus: %w", err)
		}
		return conn, nil
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return conn, nil
}
