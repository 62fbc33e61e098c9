package pipeline

import "github.com/streamctl/streamd/internal/engine"

// State is the normalized lifecycle state of a registered pipeline. It is
// updated only from engine notifications, never from command issuance, so a
// commanded-but-not-yet-applied transition is never reported as current.
type State string

const (
	StateNull    State = "null"
	StateReady   State = "ready"
	StatePaused  State = "paused"
	StatePlaying State = "playing"
	StateEOS     State = "eos"
	StateError   State = "error"
)

func fromEngine(s engine.State) State {
	switch s {
	case engine.StateReady:
		return StateReady
	case engine.StatePaused:
		return StatePaused
	case engine.StatePlaying:
		return StatePlaying
	default:
		return StateNull
	}
}

// terminal reports whether s absorbs further engine state reports. A new
// create resets the pipeline out of a terminal state.
func (s State) terminal() bool {
	return s == StateEOS || s == StateError
}
