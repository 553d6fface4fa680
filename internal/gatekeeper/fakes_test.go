package gatekeeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SoarinFerret/FocusWarden/internal/detector"
	"github.com/SoarinFerret/FocusWarden/internal/landmarks"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward, running due timers in order. Timers
// scheduled by a callback run too if they fall due before the target.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.when.After(target) {
				continue
			}
			if next == nil || t.when.Before(next.when) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.when.After(c.now) {
			c.now = next.when
		}
		c.mu.Unlock()
		next.f()
	}
}

type fakeVideo struct {
	mu     sync.Mutex
	plays  int
	pauses int
	calls  []string
}

func (v *fakeVideo) Play() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.plays++
	v.calls = append(v.calls, "play")
	return nil
}

func (v *fakeVideo) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pauses++
	v.calls = append(v.calls, "pause")
	return nil
}

func (v *fakeVideo) counts() (plays, pauses int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.plays, v.pauses
}

// fakeCamera serves a settable face. A nil face yields frames without
// landmarks.
type fakeCamera struct {
	mu       sync.Mutex
	startErr error
	face     *landmarks.FaceLandmarks
	captures int
	stops    int
	// hold, when set, blocks Capture until it is closed.
	hold    chan struct{}
	entered chan struct{}
}

func (c *fakeCamera) Start(ctx context.Context) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return nil, c.startErr
	}
	return &fakeStream{c: c}, nil
}

func (c *fakeCamera) setFace(f *landmarks.FaceLandmarks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.face = f
}

func (c *fakeCamera) stats() (captures, stops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captures, c.stops
}

type fakeStream struct {
	c *fakeCamera
}

func (s *fakeStream) Capture(ctx context.Context) (detector.Frame, error) {
	s.c.mu.Lock()
	hold, entered := s.c.hold, s.c.entered
	s.c.captures++
	face := s.c.face
	s.c.mu.Unlock()

	if hold != nil {
		entered <- struct{}{}
		select {
		case <-hold:
		case <-ctx.Done():
			return detector.Frame{}, ctx.Err()
		}
	}
	return detector.Frame{Landmarks: face}, nil
}

func (s *fakeStream) Stop() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.stops++
}

// failingDetector is ready but every detection errors.
type failingDetector struct {
	initErr error
}

func (d *failingDetector) Initialize(ctx context.Context) error { return d.initErr }
func (d *failingDetector) IsReady() bool                        { return false }
func (d *failingDetector) Close() error                         { return nil }

func (d *failingDetector) Detect(ctx context.Context, frame detector.Frame) (*landmarks.FaceLandmarks, error) {
	if d.initErr != nil {
		return nil, detector.ErrNotReady
	}
	return nil, errors.New("model crashed")
}

// flakyDetector passes landmarks through until broken is set.
type flakyDetector struct {
	*detector.Passthrough
	broken atomic.Bool
}

func (d *flakyDetector) Detect(ctx context.Context, frame detector.Frame) (*landmarks.FaceLandmarks, error) {
	if d.broken.Load() {
		return nil, errors.New("worker exited")
	}
	return d.Passthrough.Detect(ctx, frame)
}
