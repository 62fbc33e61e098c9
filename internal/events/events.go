// Package events defines the daemon's unsolicited notification frames and
// the broadcaster that fans them out to connected sessions.
package events

// Type tags an event frame.
type Type string

const (
	TypeStateChanged    Type = "state_changed"
	TypeError           Type = "error"
	TypeEOS             Type = "eos"
	TypePipelineAdded   Type = "pipeline_added"
	TypePipelineUpdated Type = "pipeline_updated"
	TypePipelineRemoved Type = "pipeline_removed"
)

// Event is one unsolicited notification. It carries no correlation id and
// expects no response.
type Event struct {
	Event Type `json:"event"`
	Data  any  `json:"data"`
}

// StateChangedData is the payload of a state_changed event.
type StateChangedData struct {
	PipelineID string `json:"pipeline_id"`
	OldState   string `json:"old_state"`
	NewState   string `json:"new_state"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	PipelineID string `json:"pipeline_id"`
	Message    string `json:"message"`
}

// EOSData is the payload of an eos event.
type EOSData struct {
	PipelineID string `json:"pipeline_id"`
}

// LifecycleData is the payload of pipeline_added/updated/removed events.
type LifecycleData struct {
	PipelineID  string `json:"pipeline_id"`
	Description string `json:"description,omitempty"`
}

// StateChanged builds a state_changed event.
func StateChanged(pipelineID, oldState, newState string) Event {
	return Event{Event: TypeStateChanged, Data: StateChangedData{
		PipelineID: pipelineID,
		OldState:   oldState,
		NewState:   newState,
	}}
}

// Error builds an error event.
func Error(pipelineID, message string) Event {
	return Event{Event: TypeError, Data: ErrorData{PipelineID: pipelineID, Message: message}}
}

// EOS builds an eos event.
func EOS(pipelineID string) Event {
	return Event{Event: TypeEOS, Data: EOSData{PipelineID: pipelineID}}
}

// PipelineAdded builds a pipeline_added event.
func PipelineAdded(pipelineID, description string) Event {
	return Event{Event: TypePipelineAdded, Data: LifecycleData{PipelineID: pipelineID, Description: description}}
}

// PipelineUpdated builds a pipeline_updated event.
func PipelineUpdated(pipelineID, description string) Event {
	return Event{Event: TypePipelineUpdated, Data: LifecycleData{PipelineID: pipelineID, Description: description}}
}

// PipelineRemoved builds a pipeline_removed event.
func PipelineRemoved(pipelineID string) Event {
	return Event{Event: TypePipelineRemoved, Data: LifecycleData{PipelineID: pipelineID}}
}
