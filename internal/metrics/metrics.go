// Package metrics holds process-wide counters. All methods are safe on a
// nil *Metrics so callers may leave it unset.
package metrics

import (
	"sync/atomic"
	"time"
)

type Metrics struct {
	framesAnalyzed atomic.Int64
	noSignalTicks  atomic.Int64
	skippedTicks   atomic.Int64
	detectorErrors atomic.Int64
	detectLatency  atomic.Int64
	lastFrameTime  atomic.Int64

	warnings atomic.Int64
	blocks   atomic.Int64
	unblocks atomic.Int64

	activeSessions atomic.Int32

	wsConnections atomic.Int64
	wsMessages    atomic.Int64
	wsErrors      atomic.Int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	FramesAnalyzed   int64   `json:"frames_analyzed"`
	NoSignalTicks    int64   `json:"no_signal_ticks"`
	SkippedTicks     int64   `json:"skipped_ticks"`
	DetectorErrors   int64   `json:"detector_errors"`
	AvgDetectLatency float64 `json:"avg_detect_latency_ms"`
	LastFrameTime    int64   `json:"last_frame_time"`
	Warnings         int64   `json:"warnings"`
	Blocks           int64   `json:"blocks"`
	Unblocks         int64   `json:"unblocks"`
	ActiveSessions   int     `json:"active_sessions"`
	WSConnections    int64   `json:"ws_connections"`
	WSMessages       int64   `json:"ws_messages"`
	WSErrors         int64   `json:"ws_errors"`
}

func New() *Metrics {
	return &Metrics{}
}

// FrameAnalyzed records one frame that reached the analyzer.
func (m *Metrics) FrameAnalyzed(latency time.Duration) {
	if m == nil {
		return
	}
	m.framesAnalyzed.Add(1)
	m.detectLatency.Add(latency.Milliseconds())
	m.lastFrameTime.Store(time.Now().Unix())
}

func (m *Metrics) NoSignal() {
	if m != nil {
		m.noSignalTicks.Add(1)
	}
}

// TickSkipped records a tick dropped because the previous one was still
// running.
func (m *Metrics) TickSkipped() {
	if m != nil {
		m.skippedTicks.Add(1)
	}
}

func (m *Metrics) DetectorError() {
	if m != nil {
		m.detectorErrors.Add(1)
	}
}

func (m *Metrics) Warning() {
	if m != nil {
		m.warnings.Add(1)
	}
}

func (m *Metrics) Block() {
	if m != nil {
		m.blocks.Add(1)
	}
}

func (m *Metrics) Unblock() {
	if m != nil {
		m.unblocks.Add(1)
	}
}

func (m *Metrics) SetActiveSessions(count int) {
	if m != nil {
		m.activeSessions.Store(int32(count))
	}
}

func (m *Metrics) WebSocketConnected() {
	if m != nil {
		m.wsConnections.Add(1)
	}
}

func (m *Metrics) WebSocketDisconnected() {
	if m != nil {
		m.wsConnections.Add(-1)
	}
}

func (m *Metrics) WebSocketMessage() {
	if m != nil {
		m.wsMessages.Add(1)
	}
}

func (m *Metrics) WebSocketError() {
	if m != nil {
		m.wsErrors.Add(1)
	}
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	s := Snapshot{
		FramesAnalyzed: m.framesAnalyzed.Load(),
		NoSignalTicks:  m.noSignalTicks.Load(),
		SkippedTicks:   m.skippedTicks.Load(),
		DetectorErrors: m.detectorErrors.Load(),
		LastFrameTime:  m.lastFrameTime.Load(),
		Warnings:       m.warnings.Load(),
		Blocks:         m.blocks.Load(),
		Unblocks:       m.unblocks.Load(),
		ActiveSessions: int(m.activeSessions.Load()),
		WSConnections:  m.wsConnections.Load(),
		WSMessages:     m.wsMessages.Load(),
		WSErrors:       m.wsErrors.Load(),
	}
	if s.FramesAnalyzed > 0 {
		s.AvgDetectLatency = float64(m.detectLatency.Load()) / float64(s.FramesAnalyzed)
	}
	return s
}
