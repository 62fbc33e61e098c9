// Package enginetest provides a scripted engine fake for unit tests.
package enginetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/streamctl/streamd/internal/engine"
)

// Engine is a fake engine.Engine whose build behavior is controlled by the
// test. Each successful Build returns the next *Instance from Instances,
// or a fresh auto-acking one when the slice is exhausted.
type Engine struct {
	mu         sync.Mutex
	BuildErr   error
	BuildDelay time.Duration
	built      []*Instance
}

func New() *Engine { return &Engine{} }

func (e *Engine) Version() string { return "fake-0.0.1" }

func (e *Engine) Build(ctx context.Context, description string) (engine.Instance, error) {
	e.mu.Lock()
	delay := e.BuildDelay
	e.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.BuildErr != nil {
		return nil, e.BuildErr
	}
	inst := NewInstance()
	inst.Description = description
	e.built = append(e.built, inst)
	return inst, nil
}

// Built returns every instance handed out so far, in build order.
func (e *Engine) Built() []*Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Instance(nil), e.built...)
}

// Instance is a controllable engine.Instance. By default SetState succeeds
// and immediately reports the reached state as a top-level notification,
// which is what drivers rely on to update their normalized state.
type Instance struct {
	Description string

	mu          sync.Mutex
	state       engine.State
	notifs      chan engine.Notification
	closed      bool
	setStateErr error
	autoAck     bool
	calls       []engine.State
	pos, dur    time.Duration
	hasPos      bool
}

func NewInstance() *Instance {
	return &Instance{
		notifs:  make(chan engine.Notification, 64),
		autoAck: true,
	}
}

// FailSetState makes every subsequent SetState return an error.
func (i *Instance) FailSetState(msg string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.setStateErr = errors.New(msg)
}

// DisableAutoAck stops SetState from emitting state-changed notifications,
// so the test can emit them manually via EmitStateChanged.
func (i *Instance) DisableAutoAck() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.autoAck = false
}

// SetPosition fixes the values returned by Position.
func (i *Instance) SetPosition(pos, dur time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pos, i.dur, i.hasPos = pos, dur, true
}

// StateCalls returns every state passed to SetState, in call order.
func (i *Instance) StateCalls() []engine.State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]engine.State(nil), i.calls...)
}

func (i *Instance) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

func (i *Instance) SetState(state engine.State) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return errors.New("instance is closed")
	}
	if err := i.setStateErr; err != nil {
		i.mu.Unlock()
		return err
	}
	old := i.state
	i.state = state
	i.calls = append(i.calls, state)
	ack := i.autoAck
	i.mu.Unlock()

	if ack {
		i.emit(engine.Notification{
			Kind:     engine.NotifStateChanged,
			TopLevel: true,
			OldState: old,
			NewState: state,
		})
	}
	return nil
}

func (i *Instance) Position() (time.Duration, time.Duration, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pos, i.dur, i.hasPos
}

func (i *Instance) Snapshot(details string) string {
	return "digraph pipeline { /* " + details + " */ }"
}

func (i *Instance) Notifications() <-chan engine.Notification { return i.notifs }

func (i *Instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	i.state = engine.StateNull
	close(i.notifs)
	return nil
}

// EmitStateChanged injects a state-changed notification. fromChild marks
// it as originating from a child element rather than the pipeline.
func (i *Instance) EmitStateChanged(old, new engine.State, fromChild bool) {
	i.mu.Lock()
	if !fromChild {
		i.state = new
	}
	i.mu.Unlock()
	i.emit(engine.Notification{
		Kind:     engine.NotifStateChanged,
		TopLevel: !fromChild,
		OldState: old,
		NewState: new,
	})
}

// EmitBuffering injects a buffering notification with the given percent.
func (i *Instance) EmitBuffering(percent int) {
	i.emit(engine.Notification{Kind: engine.NotifBuffering, TopLevel: true, Percent: percent})
}

// EmitError injects a runtime error notification.
func (i *Instance) EmitError(msg string) {
	i.emit(engine.Notification{Kind: engine.NotifError, TopLevel: true, Message: msg})
}

// EmitEOS injects an end-of-stream notification.
func (i *Instance) EmitEOS() {
	i.emit(engine.Notification{Kind: engine.NotifEOS, TopLevel: true})
}

// EmitWarning injects a warning notification.
func (i *Instance) EmitWarning(msg string) {
	i.emit(engine.Notification{Kind: engine.NotifWarning, TopLevel: true, Message: msg})
}

func (i *Instance) emit(n engine.Notification) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	i.notifs <- n
}
