package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// State is the engine-level lifecycle state of a pipeline instance.
type State int8

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return fmt.Sprintf("state(%d)", int8(s))
	}
}

// ParseState converts a wire-format state name to a State.
func ParseState(s string) (State, error) {
	switch strings.ToLower(s) {
	case "null":
		return StateNull, nil
	case "ready":
		return StateReady, nil
	case "paused":
		return StatePaused, nil
	case "playing":
		return StatePlaying, nil
	default:
		return StateNull, fmt.Errorf("invalid state %q: valid values are null, ready, paused, playing", s)
	}
}

// NotificationKind discriminates Notification values.
type NotificationKind int8

const (
	NotifStateChanged NotificationKind = iota
	NotifError
	NotifWarning
	NotifEOS
	NotifBuffering
	NotifApplication
)

// Notification is a single asynchronous report from a running instance.
// Exactly the fields relevant to Kind are populated.
type Notification struct {
	Kind NotificationKind

	// TopLevel is true when the notification originates from the pipeline
	// itself rather than one of its child elements. State reconciliation
	// only trusts top-level state changes.
	TopLevel bool

	// NotifStateChanged
	OldState State
	NewState State

	// NotifBuffering: fill level, 0..100.
	Percent int

	// NotifError, NotifWarning, NotifApplication
	Message string
}

// Instance is one live pipeline inside the engine.
//
// SetState requests a transition; the acknowledgement only means the engine
// accepted the request. The actually-reached state arrives later as a
// top-level NotifStateChanged on the Notifications channel.
//
// Close forces the instance to StateNull, releases its resources, and then
// closes the Notifications channel. Close is idempotent.
type Instance interface {
	SetState(state State) error
	Position() (position, duration time.Duration, ok bool)
	Snapshot(details string) string
	Notifications() <-chan Notification
	Close() error
}

// Engine builds runnable pipeline instances from opaque descriptions.
type Engine interface {
	Build(ctx context.Context, description string) (Instance, error)
	Version() string
}

// unsupportedMediaPatterns match engine error messages that indicate the
// description references media the engine cannot handle (missing codec,
// unknown format, hardware limitation) as opposed to a malformed
// description.
var unsupportedMediaPatterns = []string{
	"no suitable",
	"missing plugin",
	"missing element",
	"codec not found",
	"could not determine type",
	"unhandled",
	"not supported",
	"unsupported",
	"no decoder",
	"no encoder",
	"no demuxer",
	"no muxer",
	"not negotiated",
}

// IsUnsupportedMedia reports whether err looks like an unsupported-media
// failure rather than a malformed description.
func IsUnsupportedMedia(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range unsupportedMediaPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
