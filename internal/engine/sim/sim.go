// Package sim implements engine.Engine as an in-process simulation.
//
// The simulation understands just enough of the textual description format
// (elements separated by "!", each optionally followed by name=value
// properties) to validate it, and acknowledges state transitions by
// walking through the intermediate states and reporting each one as a
// top-level notification, the way a real engine does.
package sim

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/streamctl/streamd/internal/engine"
)

const Version = "sim-1.2.0"

var elementName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// Engine builds simulated pipeline instances.
type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Version() string { return Version }

// Build validates the description and returns an idle instance in
// StateNull. A stage whose element name is not a plain identifier fails
// the build, mirroring a parse failure in a real engine.
func (e *Engine) Build(ctx context.Context, description string) (engine.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stages, err := parse(description)
	if err != nil {
		return nil, err
	}

	return &instance{
		stages: stages,
		notifs: make(chan engine.Notification, 64),
	}, nil
}

type stage struct {
	element string
	props   map[string]string
}

func parse(description string) ([]stage, error) {
	var stages []stage
	for _, raw := range strings.Split(description, "!") {
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			return nil, fmt.Errorf("empty stage in description")
		}
		name := fields[0]
		if !elementName.MatchString(name) {
			return nil, fmt.Errorf("no element %q", name)
		}
		st := stage{element: name, props: make(map[string]string)}
		for _, f := range fields[1:] {
			k, v, ok := strings.Cut(f, "=")
			if !ok {
				return nil, fmt.Errorf("element %q: malformed property %q", name, f)
			}
			st.props[k] = v
		}
		stages = append(stages, st)
	}
	return stages, nil
}

type instance struct {
	stages []stage
	notifs chan engine.Notification

	mu       sync.Mutex
	state    engine.State
	closed   bool
	playedAt time.Time
	played   time.Duration
}

func (i *instance) Notifications() <-chan engine.Notification { return i.notifs }

// SetState walks the state ladder one step at a time, reporting each
// transition, like a real engine that cannot skip states.
func (i *instance) SetState(target engine.State) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return fmt.Errorf("instance is closed")
	}

	for i.state != target {
		next := i.state
		if target > i.state {
			next++
		} else {
			next--
		}
		i.transitionLocked(next)
	}
	return nil
}

func (i *instance) transitionLocked(next engine.State) {
	old := i.state
	i.state = next

	switch {
	case next == engine.StatePlaying:
		i.playedAt = time.Now()
	case old == engine.StatePlaying:
		i.played += time.Since(i.playedAt)
	}
	if next == engine.StateNull {
		i.played = 0
	}

	select {
	case i.notifs <- engine.Notification{
		Kind:     engine.NotifStateChanged,
		TopLevel: true,
		OldState: old,
		NewState: next,
	}:
	default:
		// Consumer gone; drop rather than wedge the caller.
	}
}

func (i *instance) Position() (position, duration time.Duration, ok bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed || i.state == engine.StateNull {
		return 0, 0, false
	}
	position = i.played
	if i.state == engine.StatePlaying {
		position += time.Since(i.playedAt)
	}
	// A bounded source advertises a duration; live pipelines do not.
	if i.bounded() {
		return position, 10 * time.Second, true
	}
	return position, 0, true
}

func (i *instance) bounded() bool {
	for _, st := range i.stages {
		if _, ok := st.props["num-buffers"]; ok {
			return true
		}
	}
	return false
}

// Snapshot renders the pipeline graph as dot text. The details variants
// mirror the debug-graph flags of a real engine.
func (i *instance) Snapshot(details string) string {
	i.mu.Lock()
	defer i.mu.Unlock()

	var b strings.Builder
	b.WriteString("digraph pipeline {\n")
	for n, st := range i.stages {
		label := st.element
		switch details {
		case "states":
			label = fmt.Sprintf("%s [%s]", st.element, i.state)
		case "media":
			label = fmt.Sprintf("%s (raw)", st.element)
		case "caps":
			label = fmt.Sprintf("%s <any>", st.element)
		default: // "all" and unknown variants render everything
			label = fmt.Sprintf("%s [%s] <any>", st.element, i.state)
		}
		fmt.Fprintf(&b, "  n%d [label=%q];\n", n, label)
		if n > 0 {
			fmt.Fprintf(&b, "  n%d -> n%d;\n", n-1, n)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// Close drives the instance to StateNull and closes the notification
// channel. Safe to call more than once.
func (i *instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	for i.state != engine.StateNull {
		i.transitionLocked(i.state - 1)
	}
	i.closed = true
	close(i.notifs)
	return nil
}
