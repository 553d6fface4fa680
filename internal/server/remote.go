package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/SoarinFerret/FocusWarden/internal/detector"
	"github.com/SoarinFerret/FocusWarden/internal/gatekeeper"
)

var errNoFrame = errors.New("no frame received")

// frameInbox holds at most one frame. A newer frame replaces one that was
// not yet taken.
type frameInbox struct {
	mu     sync.Mutex
	frame  *detector.Frame
	open   bool
	signal chan struct{}
}

func newFrameInbox() *frameInbox {
	return &frameInbox{signal: make(chan struct{}, 1)}
}

// Put stores f and reports whether an untaken frame was dropped. Frames are
// discarded while the inbox is closed.
func (b *frameInbox) Put(f detector.Frame) (accepted, replaced bool) {
	b.mu.Lock()
	if !b.open {
		b.mu.Unlock()
		return false, false
	}
	replaced = b.frame != nil
	b.frame = &f
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
	return true, replaced
}

// Take waits up to timeout for a frame.
func (b *frameInbox) Take(ctx context.Context, timeout time.Duration) (detector.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		b.mu.Lock()
		if b.frame != nil {
			f := *b.frame
			b.frame = nil
			b.mu.Unlock()
			return f, nil
		}
		b.mu.Unlock()

		select {
		case <-b.signal:
		case <-ctx.Done():
			return detector.Frame{}, ctx.Err()
		case <-timer.C:
			return detector.Frame{}, errNoFrame
		}
	}
}

// setOpen opens or closes the inbox. Closing drops a pending frame.
func (b *frameInbox) setOpen(open bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = open
	if !open {
		b.frame = nil
	}
}

// remoteVideo is the player element on the other end of the connection.
type remoteVideo struct {
	c *client
}

func (v remoteVideo) Play() error  { return v.c.send(MsgPlay, nil) }
func (v remoteVideo) Pause() error { return v.c.send(MsgPause, nil) }

// remoteCamera asks the player for camera access and waits for the answer.
type remoteCamera struct {
	c *client
}

func (rc remoteCamera) Start(ctx context.Context) (gatekeeper.Stream, error) {
	c := rc.c
	// drop an answer left over from an earlier request
	select {
	case <-c.cameraReply:
	default:
	}
	c.awaitingCamera.Store(true)
	defer c.awaitingCamera.Store(false)

	if err := c.send(MsgRequestCamera, nil); err != nil {
		return nil, err
	}

	select {
	case err := <-c.cameraReply:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("camera request cancelled: %w", ctx.Err())
	case <-c.done:
		return nil, errConnClosed
	}

	c.inbox.setOpen(true)
	return &remoteStream{c: c}, nil
}

type remoteStream struct {
	c *client
}

func (s *remoteStream) Capture(ctx context.Context) (detector.Frame, error) {
	return s.c.inbox.Take(ctx, s.c.srv.cfg.CaptureTimeout)
}

func (s *remoteStream) Stop() {
	s.c.inbox.setOpen(false)
	if err := s.c.send(MsgStopCamera, nil); err != nil && !errors.Is(err, errConnClosed) {
		log.Printf("Client %s: failed to send %s: %v", s.c.id, MsgStopCamera, err)
	}
}
