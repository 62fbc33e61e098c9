package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/streamctl/streamd/internal/engine"
	"github.com/streamctl/streamd/internal/events"
	"github.com/streamctl/streamd/internal/infrastructure/logging"
	"github.com/streamctl/streamd/internal/infrastructure/monitoring"
)

// Info is a point-in-time view of a pipeline.
type Info struct {
	ID          string `json:"pipeline_id"`
	Description string `json:"description"`
	State       State  `json:"state"`
	Buffering   bool   `json:"buffering"`
	EOS         bool   `json:"eos"`
}

// Driver runs the state machine for one registered pipeline. It is the sole
// mutator of the pipeline's normalized state and flags, driven only by
// engine notifications and command outcomes.
//
// Commands against the same driver are serialized; commands against
// different drivers proceed independently.
type Driver struct {
	id      string
	eng     engine.Engine
	bus     *events.Broadcaster
	log     *logging.Logger
	metrics *monitoring.Metrics

	cmdMu sync.Mutex // serializes Create/SetState/Destroy

	mu          sync.Mutex
	description string
	state       State
	target      engine.State // last caller-commanded state
	buffering   bool
	eos         bool
	inst        engine.Instance
	watcherDone chan struct{}
}

// NewDriver returns an idle driver in StateNull with no engine instance.
func NewDriver(id string, eng engine.Engine, bus *events.Broadcaster, log *logging.Logger, metrics *monitoring.Metrics) *Driver {
	return &Driver{
		id:      id,
		eng:     eng,
		bus:     bus,
		log:     log.Named("driver").With(zap.String("pipeline_id", id)),
		metrics: metrics,
		state:   StateNull,
	}
}

func (d *Driver) ID() string { return d.id }

// Create tears down any existing engine instance, builds a new one from
// description, and brings it to READY. On build or readying failure the
// pipeline is left without a live instance in StateNull.
func (d *Driver) Create(ctx context.Context, description string) error {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	d.teardown()

	inst, err := d.eng.Build(ctx, description)
	if err != nil {
		d.log.Warn("engine rejected description", zap.Error(err))
		return &RejectedError{Err: err}
	}

	done := make(chan struct{})
	d.mu.Lock()
	d.description = description
	d.state = StateNull
	d.target = engine.StateReady
	d.buffering = false
	d.eos = false
	d.inst = inst
	d.watcherDone = done
	d.mu.Unlock()

	go d.watch(inst, done)

	if err := inst.SetState(engine.StateReady); err != nil {
		d.teardown()
		return &RejectedError{Err: err}
	}
	d.log.Info("pipeline created", zap.Int("description_bytes", len(description)))
	return nil
}

// SetState requests an engine transition to target. Success means the
// engine accepted the request; the normalized state follows once the engine
// reports the transition.
func (d *Driver) SetState(target engine.State) error {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	d.mu.Lock()
	inst := d.inst
	d.mu.Unlock()
	if inst == nil {
		return &StateChangeError{Target: target, Err: errNoInstance}
	}

	if err := inst.SetState(target); err != nil {
		d.log.Warn("state change refused", zap.Stringer("target", target), zap.Error(err))
		return &StateChangeError{Target: target, Err: err}
	}

	d.mu.Lock()
	d.target = target
	d.mu.Unlock()
	return nil
}

func (d *Driver) Play() error  { return d.SetState(engine.StatePlaying) }
func (d *Driver) Pause() error { return d.SetState(engine.StatePaused) }
func (d *Driver) Stop() error  { return d.SetState(engine.StateNull) }

// Destroy forces the engine instance to NULL and releases it. Idempotent
// and safe in any state, including a pipeline that never had an instance.
func (d *Driver) Destroy() {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()
	d.teardown()
}

// Info returns the current normalized view of the pipeline.
func (d *Driver) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Info{
		ID:          d.id,
		Description: d.description,
		State:       d.state,
		Buffering:   d.buffering,
		EOS:         d.eos,
	}
}

// Position reports the current playback position and, for bounded media,
// the total duration. ok is false when the pipeline has no live instance
// or the engine cannot answer the query.
func (d *Driver) Position() (position, duration time.Duration, ok bool) {
	d.mu.Lock()
	inst := d.inst
	d.mu.Unlock()
	if inst == nil {
		return 0, 0, false
	}
	return inst.Position()
}

// Snapshot renders the pipeline graph as dot text.
func (d *Driver) Snapshot(details string) (string, error) {
	d.mu.Lock()
	inst := d.inst
	d.mu.Unlock()
	if inst == nil {
		return "", errNoInstance
	}
	return inst.Snapshot(details), nil
}

// teardown releases the current instance and waits for its watcher to
// drain. Callers hold cmdMu.
func (d *Driver) teardown() {
	d.mu.Lock()
	inst, done := d.inst, d.watcherDone
	d.inst, d.watcherDone = nil, nil
	d.mu.Unlock()

	if inst != nil {
		_ = inst.Close()
	}
	if done != nil {
		<-done
	}

	d.mu.Lock()
	d.state = StateNull
	d.buffering = false
	d.mu.Unlock()
}

// watch consumes the instance's notification stream until it closes. One
// watcher runs per live instance; per-pipeline notification order is
// preserved end-to-end because this is the only consumer.
func (d *Driver) watch(inst engine.Instance, done chan struct{}) {
	defer close(done)
	for n := range inst.Notifications() {
		d.handle(inst, n)
	}
}

func (d *Driver) handle(inst engine.Instance, n engine.Notification) {
	switch n.Kind {
	case engine.NotifStateChanged:
		// Child elements report their own transitions; only the
		// pipeline's top-level report moves the normalized state.
		if !n.TopLevel {
			return
		}
		d.mu.Lock()
		if d.state.terminal() {
			d.mu.Unlock()
			return
		}
		old := d.state
		next := fromEngine(n.NewState)
		d.state = next
		d.mu.Unlock()
		if old != next {
			d.bus.Publish(events.StateChanged(d.id, string(old), string(next)))
		}

	case engine.NotifBuffering:
		d.handleBuffering(inst, n.Percent)

	case engine.NotifError:
		d.mu.Lock()
		d.state = StateError
		d.mu.Unlock()
		d.log.Error("engine reported error", zap.String("message", n.Message))
		if d.metrics != nil {
			d.metrics.PipelineErrors.Inc()
		}
		d.bus.Publish(events.Error(d.id, n.Message))

	case engine.NotifEOS:
		// End-of-stream pipelines do not keep engine resources alive:
		// report, then drive the instance down to NULL. Closing the
		// instance ends this watcher's stream.
		d.mu.Lock()
		d.state = StateEOS
		d.eos = true
		d.inst = nil
		d.mu.Unlock()
		d.bus.Publish(events.EOS(d.id))
		_ = inst.Close()

	case engine.NotifWarning:
		d.log.Warn("engine warning", zap.String("message", n.Message))
	}
}

// handleBuffering implements the buffering stall policy: below 100% a
// playing pipeline is paused internally and the buffering flag raised;
// at 100% the flag clears and playback resumes only if the caller's last
// commanded state was PLAYING. The commanded target itself is never
// touched here.
func (d *Driver) handleBuffering(inst engine.Instance, percent int) {
	var transition engine.State
	apply := false

	d.mu.Lock()
	if percent < 100 {
		if d.state == StatePlaying {
			transition, apply = engine.StatePaused, true
		}
		d.buffering = true
	} else if d.buffering {
		d.buffering = false
		if d.target == engine.StatePlaying {
			transition, apply = engine.StatePlaying, true
		}
	}
	d.mu.Unlock()

	if !apply {
		return
	}
	if err := inst.SetState(transition); err != nil {
		d.log.Warn("buffering transition refused",
			zap.Int("percent", percent),
			zap.Stringer("target", transition),
			zap.Error(err))
	}
}
