// Package gatekeeper couples one video view to the learner's attention. It
// samples the camera, pauses the video while the learner is inattentive,
// counts strikes and blocks the video for a fixed time once too many
// strikes accumulate. Blocks are stored and survive a reload.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SoarinFerret/FocusWarden/internal/analyzer"
	"github.com/SoarinFerret/FocusWarden/internal/block"
	"github.com/SoarinFerret/FocusWarden/internal/detector"
	"github.com/SoarinFerret/FocusWarden/internal/metrics"
	"github.com/SoarinFerret/FocusWarden/internal/state"
)

// Deps are the collaborators of a gatekeeper. Clock, Metrics and Listener
// are optional.
type Deps struct {
	Analyzer *analyzer.Analyzer
	Detector detector.Detector
	Blocks   *block.Registry
	Video    Video
	Camera   Camera
	Clock    Clock
	Metrics  *metrics.Metrics
	Listener Listener
}

type Gatekeeper struct {
	videoID  string
	opts     Options
	analyzer *analyzer.Analyzer
	detector detector.Detector
	blocks   *block.Registry
	video    Video
	camera   Camera
	clock    Clock
	metrics  *metrics.Metrics
	listener Listener

	ctx    context.Context
	cancel context.CancelFunc

	// processing makes Tick single-flight.
	processing atomic.Bool

	mu                      sync.Mutex
	state                   State
	closed                  bool
	stream                  Stream
	attentive               bool
	attentionLevel          int
	grimacing               bool
	noFace                  bool
	reason                  string
	alertCount              int
	record                  *block.Record
	cameraError             string
	cameraPrompt            bool
	permissive              bool
	detectorFailures        int
	verificationUnavailable bool
	last                    *analyzer.Assessment

	loopGen         int
	sampleTimer     Timer
	alertResetTimer Timer
	countdownTimer  Timer

	// pending events are queued under mu and delivered by flush.
	pending []Event
	emitMu  sync.Mutex
}

// New creates a gatekeeper for videoID in the Locked state. Call Mount
// before use.
func New(videoID string, opts Options, deps Deps) (*Gatekeeper, error) {
	if videoID == "" {
		return nil, fmt.Errorf("video id is required")
	}
	if deps.Analyzer == nil || deps.Detector == nil || deps.Blocks == nil || deps.Video == nil || deps.Camera == nil {
		return nil, fmt.Errorf("gatekeeper for %s: missing dependency", videoID)
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	opts.normalize()

	ctx, cancel := context.WithCancel(context.Background())
	return &Gatekeeper{
		videoID:        videoID,
		opts:           opts,
		analyzer:       deps.Analyzer,
		detector:       deps.Detector,
		blocks:         deps.Blocks,
		video:          deps.Video,
		camera:         deps.Camera,
		clock:          deps.Clock,
		metrics:        deps.Metrics,
		listener:       deps.Listener,
		ctx:            ctx,
		cancel:         cancel,
		state:          Locked,
		attentive:      true,
		attentionLevel: 100,
	}, nil
}

func (g *Gatekeeper) VideoID() string {
	return g.videoID
}

// Mount prepares the detector and restores a stored block for the video.
// A detector that fails to initialize leaves the gatekeeper permissive.
func (g *Gatekeeper) Mount(ctx context.Context) error {
	permissive := false
	if !g.detector.IsReady() {
		if err := g.detector.Initialize(ctx); err != nil {
			log.Printf("Video %s: landmark detector unavailable, running permissive: %v", g.videoID, err)
			permissive = true
		}
	}

	rec, err := g.blocks.Load(ctx, g.videoID)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		log.Printf("Video %s: failed to read block record: %v", g.videoID, err)
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	g.permissive = permissive

	if err == nil {
		now := g.clock.Now()
		if rec.Expired(now) {
			if err := g.blocks.Delete(ctx, g.videoID); err != nil {
				log.Printf("Video %s: failed to delete expired block: %v", g.videoID, err)
			}
		} else {
			log.Printf("Video %s: restoring block, %s remaining", g.videoID, rec.Remaining(now).Round(time.Second))
			g.record = &rec
			g.state = Blocked
			g.pauseVideo()
			g.scheduleCountdown()
		}
	}
	g.queue(EventStatus)
	g.mu.Unlock()

	g.flush()
	return nil
}

// EnableCamera acquires the camera and starts sampling. Acquisition errors
// return to Locked and wrap ErrCamera.
func (g *Gatekeeper) EnableCamera(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if g.stream != nil || g.state == CameraPending {
		g.mu.Unlock()
		return nil
	}
	if g.state == Locked {
		g.state = CameraPending
	}
	g.cameraError = ""
	g.cameraPrompt = false
	g.queue(EventStatus)
	g.mu.Unlock()
	g.flush()

	stream, err := g.camera.Start(ctx)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		if stream != nil {
			stream.Stop()
		}
		return ErrClosed
	}
	if err != nil {
		log.Printf("Video %s: camera error: %v", g.videoID, err)
		g.cameraError = err.Error()
		if g.state == CameraPending {
			g.state = Locked
		}
		g.queue(EventCameraError)
		g.mu.Unlock()
		g.flush()
		return fmt.Errorf("%w: %v", ErrCamera, err)
	}

	g.stream = stream
	if g.state == CameraPending {
		g.state = Attentive
		g.attentive = true
	}
	g.startLoop()
	g.queue(EventStatus)
	g.mu.Unlock()
	g.flush()
	return nil
}

// DisableCamera stops the camera. An unblocked session returns to Locked
// and the video is paused. reason, when set, is reported as a camera error.
func (g *Gatekeeper) DisableCamera(reason string) {
	g.mu.Lock()
	if g.closed || g.stream == nil {
		g.mu.Unlock()
		return
	}
	g.stopCamera()
	g.analyzer.Reset()
	g.grimacing = false
	g.noFace = false
	if g.state.Active() {
		if g.state == Attentive {
			g.pauseVideo()
		}
		if g.state == Warning && g.alertCount > 0 {
			g.scheduleAlertReset()
		}
		g.state = Locked
		g.reason = ""
		g.attentive = true
	}
	kind := EventStatus
	if reason != "" {
		g.cameraError = reason
		kind = EventCameraError
	}
	g.queue(kind)
	g.mu.Unlock()
	g.flush()
}

// RequestPlay is called when playback is about to start. Outside the
// attentive state the play is reverted and the reason returned.
func (g *Gatekeeper) RequestPlay() error {
	g.mu.Lock()
	defer g.flush()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}

	var err error
	switch g.state {
	case Attentive:
		return nil
	case Locked:
		g.cameraPrompt = true
		err = ErrCameraInactive
	case CameraPending:
		err = ErrCameraInactive
	case Warning:
		err = ErrInattentive
	case Blocked:
		err = ErrBlocked
	}
	g.pauseVideo()
	g.queue(EventPlayIntercepted)
	return err
}

// Status returns a snapshot of the session.
func (g *Gatekeeper) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusLocked()
}

// Close stops sampling, the camera and all timers and discards the debounce
// counters. A stored block is left in place.
func (g *Gatekeeper) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.stopCamera()
	stopTimer(&g.alertResetTimer)
	stopTimer(&g.countdownTimer)
	g.pending = nil
	g.mu.Unlock()

	g.cancel()
	g.analyzer.Reset()
	if g.opts.Debug {
		log.Printf("DEBUG: video %s: gatekeeper closed", g.videoID)
	}
	return nil
}

// Callers hold g.mu.
func (g *Gatekeeper) statusLocked() Status {
	s := Status{
		VideoID:                 g.videoID,
		State:                   g.state,
		CameraActive:            g.stream != nil,
		IsAttentive:             g.attentive,
		AttentionLevel:          g.attentionLevel,
		ShowWarning:             g.state == Warning,
		InattentionReason:       g.reason,
		AlertCount:              g.alertCount,
		MaxAlerts:               g.opts.MaxAlerts,
		CameraError:             g.cameraError,
		CameraPromptRequested:   g.cameraPrompt,
		Permissive:              g.permissive,
		VerificationUnavailable: g.verificationUnavailable,
	}
	if g.record != nil {
		s.BlockEndTime = g.record.EndTime
		s.BlockReason = g.record.Reason
		s.BlockRemainingMS = g.record.Remaining(g.clock.Now()).Milliseconds()
	}
	if g.last != nil {
		a := *g.last
		s.Assessment = &a
	}
	return s
}

// queue records an event for delivery after mu is released. Callers hold
// g.mu.
func (g *Gatekeeper) queue(kind EventKind) {
	if g.listener == nil || g.closed {
		return
	}
	g.pending = append(g.pending, Event{Kind: kind, At: g.clock.Now(), Status: g.statusLocked()})
}

// flush delivers queued events in order. Callers must not hold g.mu.
func (g *Gatekeeper) flush() {
	if g.listener == nil {
		return
	}
	g.emitMu.Lock()
	defer g.emitMu.Unlock()

	g.mu.Lock()
	events := g.pending
	g.pending = nil
	g.mu.Unlock()

	for _, ev := range events {
		g.listener(ev)
	}
}

// Callers hold g.mu.
func (g *Gatekeeper) pauseVideo() {
	if err := g.video.Pause(); err != nil {
		log.Printf("Video %s: pause failed: %v", g.videoID, err)
	}
}

// Callers hold g.mu.
func (g *Gatekeeper) playVideo() {
	if err := g.video.Play(); err != nil {
		log.Printf("Video %s: play failed: %v", g.videoID, err)
	}
}

// Callers hold g.mu.
func (g *Gatekeeper) stopCamera() {
	g.loopGen++
	stopTimer(&g.sampleTimer)
	if g.stream != nil {
		g.stream.Stop()
		g.stream = nil
	}
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
