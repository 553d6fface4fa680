// Package emitter publishes gatekeeper events to external consumers.
package emitter

import (
	"time"

	"github.com/SoarinFerret/FocusWarden/internal/gatekeeper"
)

// Event is one gatekeeper event tagged with the session that produced it.
type Event struct {
	SessionID string               `json:"session_id"`
	VideoID   string               `json:"video_id"`
	Kind      gatekeeper.EventKind `json:"kind"`
	At        time.Time            `json:"at"`
	Status    gatekeeper.Status    `json:"status"`
}

// FromGatekeeper tags ev with sessionID.
func FromGatekeeper(sessionID string, ev gatekeeper.Event) Event {
	return Event{
		SessionID: sessionID,
		VideoID:   ev.Status.VideoID,
		Kind:      ev.Kind,
		At:        ev.At,
		Status:    ev.Status,
	}
}

type Emitter interface {
	Emit(Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Emit(Event) error { return nil }
func (Nop) Close() error     { return nil }
