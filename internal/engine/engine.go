package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SoarinFerret/FocusWarden/internal/block"
	"github.com/SoarinFerret/FocusWarden/internal/emitter"
	"github.com/SoarinFerret/FocusWarden/internal/gatekeeper"
	"github.com/SoarinFerret/FocusWarden/internal/metrics"
	"github.com/SoarinFerret/FocusWarden/internal/notify"
)

const outboxSize = 64

type Options struct {
	Blocks        *block.Registry
	Notifier      notify.Notifier
	Emitter       emitter.Emitter
	Metrics       *metrics.Metrics
	SweepInterval time.Duration
	Debug         bool
}

// Engine hosts the live gatekeeper sessions, removes expired block records
// and forwards session transitions to the notifier and the event emitter.
type Engine struct {
	blocks   *block.Registry
	notifier notify.Notifier
	emitter  emitter.Emitter
	metrics  *metrics.Metrics
	interval time.Duration
	debug    bool
	now      func() time.Time
	started  time.Time

	mu       sync.RWMutex
	sessions map[string]*gatekeeper.Gatekeeper

	outbox chan emitter.Event
}

// SessionInfo describes one live session.
type SessionInfo struct {
	ID      string            `json:"id"`
	VideoID string            `json:"video_id"`
	Status  gatekeeper.Status `json:"status"`
}

// Summary is the daemon-wide view served over D-Bus and HTTP.
type Summary struct {
	StartedAt      time.Time `json:"started_at"`
	ActiveSessions int       `json:"active_sessions"`
	BlockedVideos  int       `json:"blocked_videos"`
}

// NewEngine creates an engine. Notifier and Emitter default to no-ops.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Blocks == nil {
		return nil, fmt.Errorf("block registry is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Emitter == nil {
		opts.Emitter = emitter.Nop{}
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &Engine{
		blocks:   opts.Blocks,
		notifier: opts.Notifier,
		emitter:  opts.Emitter,
		metrics:  opts.Metrics,
		interval: opts.SweepInterval,
		debug:    opts.Debug,
		now:      time.Now,
		started:  time.Now(),
		sessions: make(map[string]*gatekeeper.Gatekeeper),
		outbox:   make(chan emitter.Event, outboxSize),
	}, nil
}

// Run sweeps expired blocks on every interval and delivers queued
// transitions until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	log.Println("Engine started - sweeping expired blocks...")

	// Run immediately on start
	e.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("Engine shutting down...")
			return nil
		case <-ticker.C:
			e.sweep(ctx)
		case ev := <-e.outbox:
			e.deliver(ev)
		}
	}
}

func (e *Engine) sweep(ctx context.Context) {
	removed, err := e.blocks.Sweep(ctx, e.now())
	if err != nil {
		log.Printf("Failed to sweep expired blocks: %v", err)
		return
	}
	for _, id := range removed {
		log.Printf("Removed expired block for video %s", id)
	}
	if e.debug {
		log.Printf("DEBUG: sweep at %s removed %d block(s), %d live session(s)",
			e.now().Format(time.RFC3339), len(removed), e.count())
	}
}

// Listener returns the gatekeeper listener for session id. Every event goes
// to next first; transitions are then queued for the notifier and emitter.
func (e *Engine) Listener(id string, next gatekeeper.Listener) gatekeeper.Listener {
	return func(ev gatekeeper.Event) {
		if next != nil {
			next(ev)
		}
		if ev.Kind == gatekeeper.EventStatus {
			return
		}
		select {
		case e.outbox <- emitter.FromGatekeeper(id, ev):
		default:
			log.Printf("Session %s: event queue full, dropping %s", id, ev.Kind)
		}
	}
}

// deliver runs on the Run goroutine so a slow bus or broker never stalls a
// sampling tick.
func (e *Engine) deliver(ev emitter.Event) {
	if err := e.emitter.Emit(ev); err != nil && e.debug {
		log.Printf("DEBUG: session %s: failed to emit %s: %v", ev.SessionID, ev.Kind, err)
	}

	summary, body, ok := notification(ev)
	if !ok {
		return
	}
	if err := e.notifier.Notify(summary, body); err != nil {
		log.Printf("Failed to send notification for video %s: %v", ev.VideoID, err)
	} else {
		log.Printf("Sent notification for video %s: %s", ev.VideoID, summary)
	}
}

// notification renders the desktop message for a transition.
func notification(ev emitter.Event) (summary, body string, ok bool) {
	s := ev.Status
	switch ev.Kind {
	case gatekeeper.EventWarning:
		return "Attention Warning",
			fmt.Sprintf("Video paused: %s (warning %d of %d)", s.InattentionReason, s.AlertCount, s.MaxAlerts), true
	case gatekeeper.EventBlocked:
		return "Video Blocked",
			fmt.Sprintf("%s. You can resume in %s", capitalize(s.BlockReason), formatTimeRemaining(s.BlockRemaining())), true
	case gatekeeper.EventUnblocked:
		return "Video Unblocked", "You can resume watching " + ev.VideoID, true
	case gatekeeper.EventCameraError:
		return "Camera Unavailable", s.CameraError, true
	}
	return "", "", false
}

func capitalize(s string) string {
	if s == "" {
		return "Too many warnings"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Register adds a session. Ids are unique.
func (e *Engine) Register(id string, g *gatekeeper.Gatekeeper) error {
	e.mu.Lock()
	if _, exists := e.sessions[id]; exists {
		e.mu.Unlock()
		return fmt.Errorf("session %s already registered", id)
	}
	e.sessions[id] = g
	n := len(e.sessions)
	e.mu.Unlock()

	e.metrics.SetActiveSessions(n)
	log.Printf("Session %s registered for video %s", id, g.VideoID())
	return nil
}

// Unregister removes a session and closes its gatekeeper.
func (e *Engine) Unregister(id string) {
	e.mu.Lock()
	g, exists := e.sessions[id]
	delete(e.sessions, id)
	n := len(e.sessions)
	e.mu.Unlock()

	if !exists {
		return
	}
	e.metrics.SetActiveSessions(n)
	if err := g.Close(); err != nil {
		log.Printf("Failed to close session %s: %v", id, err)
	}
	log.Printf("Session %s for video %s closed", id, g.VideoID())
}

func (e *Engine) Session(id string) (*gatekeeper.Gatekeeper, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g, ok := e.sessions[id]
	return g, ok
}

// Sessions lists live sessions ordered by video then id.
func (e *Engine) Sessions() []SessionInfo {
	type entry struct {
		id string
		g  *gatekeeper.Gatekeeper
	}
	e.mu.RLock()
	entries := make([]entry, 0, len(e.sessions))
	for id, g := range e.sessions {
		entries = append(entries, entry{id, g})
	}
	e.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(entries))
	for _, en := range entries {
		infos = append(infos, SessionInfo{ID: en.id, VideoID: en.g.VideoID(), Status: en.g.Status()})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].VideoID != infos[j].VideoID {
			return infos[i].VideoID < infos[j].VideoID
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

func (e *Engine) Summary(ctx context.Context) (Summary, error) {
	records, err := e.blocks.List(ctx)
	if err != nil {
		return Summary{}, err
	}
	now := e.now()
	blocked := 0
	for _, r := range records {
		if !r.Expired(now) {
			blocked++
		}
	}
	return Summary{StartedAt: e.started, ActiveSessions: e.count(), BlockedVideos: blocked}, nil
}

func (e *Engine) Blocks() *block.Registry {
	return e.blocks
}

// Suspend stops the camera of every live session. Their videos pause and
// each learner is shown reason.
func (e *Engine) Suspend(reason string) {
	e.mu.RLock()
	gks := make([]*gatekeeper.Gatekeeper, 0, len(e.sessions))
	for _, g := range e.sessions {
		gks = append(gks, g)
	}
	e.mu.RUnlock()

	log.Printf("Suspending %d session(s): %s", len(gks), reason)
	for _, g := range gks {
		g.DisableCamera(reason)
	}
}

// Close unregisters every session.
func (e *Engine) Close() {
	e.mu.RLock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	for _, id := range ids {
		e.Unregister(id)
	}
}

func (e *Engine) count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

// formatTimeRemaining formats duration into human-readable string
func formatTimeRemaining(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 0 {
		return fmt.Sprintf("%d hour(s) %d minute(s)", hours, minutes)
	}
	if minutes == 0 {
		return fmt.Sprintf("%d second(s)", int(d.Seconds()))
	}
	return fmt.Sprintf("%d minute(s)", minutes)
}
