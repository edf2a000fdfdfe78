// Package pipeline is the session event loop: a bounded priority queue
// of conversational events, batch processing, registered skill dispatch
// and a bounded worker pool for blocking work.
package pipeline

import (
	"time"

	"github.com/brightpath/tutorcore/internal/sessionctx"
)

// EventType classifies pipeline events.
type EventType string

const (
	EventSessionStart EventType = "session_start"
	EventSessionEnd   EventType = "session_end"
	EventText         EventType = "text"
	// Audio and video are reserved; they queue at low priority and are
	// currently dropped by the processing loop.
	EventAudio EventType = "audio"
	EventVideo EventType = "video"
)

// Priority returns the queue priority for the event type. Lower runs
// first; lifecycle events outrank transcript traffic.
func (t EventType) Priority() int {
	switch t {
	case EventSessionStart, EventSessionEnd:
		return 1
	case EventText:
		return 2
	case EventAudio:
		return 3
	default:
		return 4
	}
}

// Event is one unit of session traffic.
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	LearnerID string
	Speaker   sessionctx.Speaker
	Text      string
}

// Lifecycle reports whether the event starts or ends a session.
func (e Event) Lifecycle() bool {
	return e.Type == EventSessionStart || e.Type == EventSessionEnd
}
