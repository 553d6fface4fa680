package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SoarinFerret/FocusWarden/internal/analyzer"
	"github.com/SoarinFerret/FocusWarden/internal/detector"
)

var (
	// ErrCamera wraps camera acquisition failures. They are retryable and
	// never cost a strike.
	ErrCamera = errors.New("camera unavailable")
	// ErrCameraInactive is returned by RequestPlay before the camera runs.
	ErrCameraInactive = errors.New("camera is not active")
	// ErrInattentive is returned by RequestPlay while a warning is shown.
	ErrInattentive = errors.New("attention warning active")
	// ErrBlocked is returned by RequestPlay while the video is blocked.
	ErrBlocked = errors.New("video is blocked")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("gatekeeper closed")
)

// ReasonNoFace is the warning shown while no face is in frame.
const ReasonNoFace = "no face detected"

type State int

const (
	Locked State = iota
	CameraPending
	Attentive
	Warning
	Blocked
)

var stateNames = map[State]string{
	Locked:        "locked",
	CameraPending: "camera_pending",
	Attentive:     "attentive",
	Warning:       "warning",
	Blocked:       "blocked",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for k, v := range stateNames {
		if v == string(text) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", string(text))
}

// Active reports whether the camera loop is sampling in this state.
func (s State) Active() bool {
	return s == Attentive || s == Warning
}

type Options struct {
	// MaxAlerts is the number of strikes that triggers a block.
	MaxAlerts         int
	BlockDuration     time.Duration
	AlertResetTimeout time.Duration
	SampleInterval    time.Duration
	// CountdownInterval is how often a block's remaining time is refreshed.
	CountdownInterval time.Duration
	NoFaceWarning     bool
	// DetectorFailureLimit is the consecutive detector error count that
	// marks verification unavailable. Zero or less disables it.
	DetectorFailureLimit int
	Debug                bool
}

func DefaultOptions() Options {
	return Options{
		MaxAlerts:            2,
		BlockDuration:        5 * time.Minute,
		AlertResetTimeout:    60 * time.Second,
		SampleInterval:       time.Second,
		CountdownInterval:    time.Second,
		NoFaceWarning:        true,
		DetectorFailureLimit: 10,
	}
}

func (o *Options) normalize() {
	d := DefaultOptions()
	if o.MaxAlerts < 1 {
		o.MaxAlerts = d.MaxAlerts
	}
	if o.BlockDuration <= 0 {
		o.BlockDuration = d.BlockDuration
	}
	if o.AlertResetTimeout <= 0 {
		o.AlertResetTimeout = d.AlertResetTimeout
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = d.SampleInterval
	}
	if o.CountdownInterval <= 0 {
		o.CountdownInterval = d.CountdownInterval
	}
}

// Video is the playback element being gated.
type Video interface {
	Play() error
	Pause() error
}

// Camera acquires the learner's camera.
type Camera interface {
	// Start blocks until the stream is live or acquisition fails.
	Start(ctx context.Context) (Stream, error)
}

// Stream is a live camera.
type Stream interface {
	// Capture returns the current frame.
	Capture(ctx context.Context) (detector.Frame, error)
	Stop()
}

// Status is a snapshot of one session.
type Status struct {
	VideoID                 string               `json:"video_id"`
	State                   State                `json:"state"`
	CameraActive            bool                 `json:"camera_active"`
	IsAttentive             bool                 `json:"is_attentive"`
	AttentionLevel          int                  `json:"attention_level"`
	ShowWarning             bool                 `json:"show_warning"`
	InattentionReason       string               `json:"inattention_reason,omitempty"`
	AlertCount              int                  `json:"alert_count"`
	MaxAlerts               int                  `json:"max_alerts"`
	BlockEndTime            int64                `json:"block_end_time,omitempty"`
	BlockReason             string               `json:"block_reason,omitempty"`
	BlockRemainingMS        int64                `json:"block_remaining_ms,omitempty"`
	CameraError             string               `json:"camera_error,omitempty"`
	CameraPromptRequested   bool                 `json:"camera_prompt_requested,omitempty"`
	Permissive              bool                 `json:"permissive,omitempty"`
	VerificationUnavailable bool                 `json:"verification_unavailable,omitempty"`
	Assessment              *analyzer.Assessment `json:"assessment,omitempty"`
}

// BlockRemaining is the time left on the block.
func (s Status) BlockRemaining() time.Duration {
	return time.Duration(s.BlockRemainingMS) * time.Millisecond
}

type EventKind string

const (
	EventStatus          EventKind = "status"
	EventWarning         EventKind = "warning"
	EventWarningCleared  EventKind = "warning_cleared"
	EventBlocked         EventKind = "blocked"
	EventUnblocked       EventKind = "unblocked"
	EventCameraError     EventKind = "camera_error"
	EventPlayIntercepted EventKind = "play_intercepted"
)

// Event is a state change, with the status right after it.
type Event struct {
	Kind   EventKind `json:"kind"`
	At     time.Time `json:"at"`
	Status Status    `json:"status"`
}

// Listener receives events in order. It must not call back into the
// gatekeeper synchronously.
type Listener func(Event)
