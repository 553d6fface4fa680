package gatekeeper

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/SoarinFerret/FocusWarden/internal/analyzer"
	"github.com/SoarinFerret/FocusWarden/internal/block"
	"github.com/SoarinFerret/FocusWarden/internal/detector"
	"github.com/SoarinFerret/FocusWarden/internal/landmarks"
)

// startLoop schedules the first sample. Callers hold g.mu.
func (g *Gatekeeper) startLoop() {
	g.loopGen++
	gen := g.loopGen
	stopTimer(&g.sampleTimer)
	g.sampleTimer = g.clock.AfterFunc(g.opts.SampleInterval, func() { g.sample(gen) })
}

// sample runs on every interval. The next sample is scheduled before this
// one runs, so a slow tick makes the next one skip rather than queue.
func (g *Gatekeeper) sample(gen int) {
	g.mu.Lock()
	if g.closed || gen != g.loopGen || g.stream == nil {
		g.mu.Unlock()
		return
	}
	g.sampleTimer = g.clock.AfterFunc(g.opts.SampleInterval, func() { g.sample(gen) })
	g.mu.Unlock()

	g.Tick(g.ctx)
}

// Tick captures one frame, assesses it and applies the result. It returns
// false when skipped because another tick is in flight or the session is
// not sampling.
func (g *Gatekeeper) Tick(ctx context.Context) bool {
	if !g.processing.CompareAndSwap(false, true) {
		g.metrics.TickSkipped()
		if g.opts.Debug {
			log.Printf("DEBUG: video %s: tick skipped, previous still running", g.videoID)
		}
		return false
	}
	defer g.processing.Store(false)

	g.mu.Lock()
	if g.closed || !g.state.Active() || g.stream == nil {
		g.mu.Unlock()
		return false
	}
	stream, gen, permissive := g.stream, g.loopGen, g.permissive
	g.mu.Unlock()

	frame, err := stream.Capture(ctx)
	if err != nil {
		g.metrics.NoSignal()
		if g.opts.Debug {
			log.Printf("DEBUG: video %s: capture failed: %v", g.videoID, err)
		}
		return true
	}

	var (
		res      analyzer.Assessment
		noFace   bool
		detErr   error
		analyzed bool
	)
	if permissive {
		res = analyzer.Neutral(analyzer.ErrDetectorUnavailable)
	} else {
		start := time.Now()
		var lm *landmarks.FaceLandmarks
		lm, detErr = g.detector.Detect(ctx, frame)
		switch {
		case detErr == nil:
			res = g.analyzer.Analyze(lm)
			analyzed = true
			g.metrics.FrameAnalyzed(time.Since(start))
		case errors.Is(detErr, detector.ErrNoFace):
			noFace = true
			detErr = nil
		}
	}

	g.mu.Lock()
	if g.closed || gen != g.loopGen || !g.state.Active() {
		g.mu.Unlock()
		return true
	}

	switch {
	case detErr != nil:
		g.detectorFailed(detErr)
	case noFace:
		g.detectorFailures = 0
		g.verificationUnavailable = false
		g.metrics.NoSignal()
		g.applyNoFace()
	case analyzed && res.Details.Error != "":
		// unusable landmarks carry no signal either way
		g.metrics.NoSignal()
		if g.opts.Debug {
			log.Printf("DEBUG: video %s: landmarks rejected: %s", g.videoID, res.Details.Error)
		}
	default:
		if analyzed {
			g.detectorFailures = 0
			g.verificationUnavailable = false
		}
		g.apply(res)
	}
	g.mu.Unlock()

	g.flush()
	return true
}

// detectorFailed counts a detector error. The tick is otherwise a no-op.
// Callers hold g.mu.
func (g *Gatekeeper) detectorFailed(err error) {
	g.metrics.DetectorError()
	g.detectorFailures++
	log.Printf("Video %s: landmark detection failed (%d in a row): %v", g.videoID, g.detectorFailures, err)

	limit := g.opts.DetectorFailureLimit
	if limit > 0 && g.detectorFailures >= limit && !g.verificationUnavailable {
		log.Printf("Video %s: attention verification unavailable", g.videoID)
		g.verificationUnavailable = true
		if g.state == Warning {
			g.clearWarning()
			return
		}
		g.queue(EventStatus)
	}
}

// clearWarning leaves Warning for Attentive and resumes the video. Strikes
// are kept; the reset timer starts from here. Callers hold g.mu.
func (g *Gatekeeper) clearWarning() {
	g.state = Attentive
	g.reason = ""
	g.attentive = true
	g.noFace = false
	g.playVideo()
	if g.alertCount > 0 {
		g.scheduleAlertReset()
	}
	g.queue(EventWarningCleared)
}

// applyNoFace handles a frame without a face. Callers hold g.mu.
func (g *Gatekeeper) applyNoFace() {
	if !g.opts.NoFaceWarning {
		return
	}
	g.attentive = false
	g.reason = ReasonNoFace
	if g.noFace {
		return
	}
	g.noFace = true
	if g.state == Attentive {
		g.pauseVideo()
		g.state = Warning
		g.queue(EventWarning)
		return
	}
	g.queue(EventStatus)
}

// apply turns an assessment into playback control. Pause happens on the
// transition into Warning and play on the transition out of it. A strike
// is counted only on a rising edge of IsGrimacing out of Attentive; a
// warning already on screen, no face included, just takes the new reason.
// Callers hold g.mu.
func (g *Gatekeeper) apply(res analyzer.Assessment) {
	wasGrimacing := g.grimacing
	g.grimacing = res.IsGrimacing
	g.noFace = false
	g.attentionLevel = res.AttentionScore
	g.attentive = !res.IsGrimacing
	if res.Details.Error == "" {
		a := res
		g.last = &a
	}

	if !res.IsGrimacing {
		g.reason = ""
		if g.state == Warning {
			g.clearWarning()
			return
		}
		g.queue(EventStatus)
		return
	}

	g.reason = res.InattentionReason
	// the reset window only runs while no violation is in progress
	stopTimer(&g.alertResetTimer)
	strike := g.state == Attentive && !wasGrimacing
	if g.state == Attentive {
		g.pauseVideo()
		g.state = Warning
	}
	if !strike {
		g.queue(EventStatus)
		return
	}

	g.alertCount++
	g.metrics.Warning()
	log.Printf("Video %s: inattention warning %d/%d: %s", g.videoID, g.alertCount, g.opts.MaxAlerts, g.reason)
	if g.alertCount >= g.opts.MaxAlerts {
		g.queue(EventWarning)
		g.block(res.InattentionReason)
		return
	}
	g.queue(EventWarning)
}

// block stores a block record and enters Blocked. The video is already
// paused by the warning. Callers hold g.mu.
func (g *Gatekeeper) block(reason string) {
	rec := block.NewRecord(g.videoID, reason, g.clock.Now(), g.opts.BlockDuration)
	if err := g.blocks.Save(g.ctx, rec); err != nil {
		log.Printf("Video %s: failed to store block record: %v", g.videoID, err)
	}
	log.Printf("Video %s: blocked for %s (%s)", g.videoID, g.opts.BlockDuration, reason)

	g.record = &rec
	g.state = Blocked
	g.alertCount = 0
	g.grimacing = false
	g.noFace = false
	stopTimer(&g.alertResetTimer)
	g.metrics.Block()
	g.scheduleCountdown()
	g.queue(EventBlocked)
}

// scheduleAlertReset arms the strike reset after the last violation ends.
// Callers hold g.mu.
func (g *Gatekeeper) scheduleAlertReset() {
	stopTimer(&g.alertResetTimer)
	var t Timer
	t = g.clock.AfterFunc(g.opts.AlertResetTimeout, func() {
		g.mu.Lock()
		if g.closed || g.alertResetTimer != t {
			g.mu.Unlock()
			return
		}
		g.alertResetTimer = nil
		if g.alertCount > 0 {
			if g.opts.Debug {
				log.Printf("DEBUG: video %s: alert count reset", g.videoID)
			}
			g.alertCount = 0
			g.queue(EventStatus)
		}
		g.mu.Unlock()
		g.flush()
	})
	g.alertResetTimer = t
}

// Callers hold g.mu.
func (g *Gatekeeper) scheduleCountdown() {
	stopTimer(&g.countdownTimer)
	var t Timer
	t = g.clock.AfterFunc(g.opts.CountdownInterval, func() {
		g.mu.Lock()
		if g.closed || g.countdownTimer != t || g.record == nil {
			g.mu.Unlock()
			return
		}
		g.countdown()
		g.mu.Unlock()
		g.flush()
	})
	g.countdownTimer = t
}

// countdown refreshes the block and lifts it once expired. Callers hold
// g.mu.
func (g *Gatekeeper) countdown() {
	g.countdownTimer = nil

	if !g.record.Expired(g.clock.Now()) {
		g.scheduleCountdown()
		g.queue(EventStatus)
		return
	}

	if err := g.blocks.Delete(g.ctx, g.videoID); err != nil {
		log.Printf("Video %s: failed to delete expired block: %v", g.videoID, err)
	}
	log.Printf("Video %s: block expired", g.videoID)
	g.record = nil
	g.reason = ""
	g.attentive = true
	if g.stream != nil {
		g.state = Attentive
	} else {
		g.state = Locked
	}
	g.metrics.Unblock()
	g.queue(EventUnblocked)
}
