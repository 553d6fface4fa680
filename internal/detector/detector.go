// Package detector wraps the external facial landmark detector behind one
// capability: given a frame, return one face or none.
package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SoarinFerret/FocusWarden/internal/landmarks"
)

var (
	// ErrNoFace is returned when a frame was processed but holds no face.
	ErrNoFace = errors.New("no face detected")
	// ErrNotReady is returned by Detect before a successful Initialize.
	ErrNotReady = errors.New("detector not initialized")
)

// Frame is one captured camera image. Landmarks is set when the capture
// side already ran a detector.
type Frame struct {
	Sequence   uint64                   `json:"sequence"`
	Width      int                      `json:"width"`
	Height     int                      `json:"height"`
	Format     string                   `json:"format,omitempty"`
	Data       []byte                   `json:"data,omitempty"`
	Landmarks  *landmarks.FaceLandmarks `json:"landmarks,omitempty"`
	CapturedAt time.Time                `json:"captured_at"`
}

// Detector finds 68-point landmarks in a frame.
type Detector interface {
	// Initialize loads models or starts the backing process.
	Initialize(ctx context.Context) error
	IsReady() bool
	// Detect returns ErrNoFace when the frame holds no face.
	Detect(ctx context.Context, frame Frame) (*landmarks.FaceLandmarks, error)
	Close() error
}

// Config selects and configures a detector.
type Config struct {
	// Kind is "passthrough" or "worker".
	Kind    string
	Command string
	Args    []string
	// Timeout bounds one Detect call on the worker.
	Timeout time.Duration
}

// New builds the detector described by cfg. It is not initialized.
func New(cfg Config) (Detector, error) {
	switch cfg.Kind {
	case "", "passthrough":
		return NewPassthrough(), nil
	case "worker":
		if cfg.Command == "" {
			return nil, fmt.Errorf("detector command is required for worker kind")
		}
		return NewWorker(WorkerConfig{Command: cfg.Command, Args: cfg.Args, Timeout: cfg.Timeout}), nil
	default:
		return nil, fmt.Errorf("unknown detector kind %q", cfg.Kind)
	}
}
