package detector

import (
	"context"
	"sync/atomic"

	"github.com/SoarinFerret/FocusWarden/internal/landmarks"
)

// Passthrough trusts landmarks computed on the capture side (the learner's
// browser) and attached to the frame.
type Passthrough struct {
	ready atomic.Bool
}

func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

func (p *Passthrough) Initialize(ctx context.Context) error {
	p.ready.Store(true)
	return nil
}

func (p *Passthrough) IsReady() bool {
	return p.ready.Load()
}

func (p *Passthrough) Detect(ctx context.Context, frame Frame) (*landmarks.FaceLandmarks, error) {
	if !p.ready.Load() {
		return nil, ErrNotReady
	}
	if frame.Landmarks == nil || len(frame.Landmarks.Positions) == 0 {
		return nil, ErrNoFace
	}
	return frame.Landmarks, nil
}

func (p *Passthrough) Close() error {
	p.ready.Store(false)
	return nil
}
