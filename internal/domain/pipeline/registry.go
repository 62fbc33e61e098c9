package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/streamctl/streamd/internal/engine"
	"github.com/streamctl/streamd/internal/events"
	"github.com/streamctl/streamd/internal/infrastructure/logging"
	"github.com/streamctl/streamd/internal/infrastructure/monitoring"
)

// Registry maps pipeline ids to their drivers. Structural mutation (add,
// remove) is single-writer-at-a-time; lookups and listing are concurrent
// and never observe a half-committed entry. Commands against different
// pipelines never serialize on the registry.
type Registry struct {
	eng     engine.Engine
	bus     *events.Broadcaster
	log     *logging.Logger
	metrics *monitoring.Metrics
	max     int

	addMu    sync.Mutex // serializes structural changes and id generation
	reserved map[string]struct{}

	mu      sync.RWMutex
	drivers map[string]*Driver
	order   []string
}

// NewRegistry creates an empty registry. max <= 0 means unlimited.
func NewRegistry(eng engine.Engine, bus *events.Broadcaster, log *logging.Logger, max int) *Registry {
	return &Registry{
		eng:      eng,
		bus:      bus,
		log:      log.Named("registry"),
		max:      max,
		reserved: make(map[string]struct{}),
		drivers:  make(map[string]*Driver),
	}
}

// WithMetrics adds metrics tracking to the registry and its drivers.
func (r *Registry) WithMetrics(m *monitoring.Metrics) *Registry {
	r.metrics = m
	return r
}

// Add registers a new pipeline and brings it to READY. An empty id asks the
// registry to generate one. The entry becomes visible to lookups only after
// the engine instance is live; a failed build registers nothing.
func (r *Registry) Add(ctx context.Context, id, description string) (*Driver, error) {
	id, err := r.reserve(id)
	if err != nil {
		return nil, err
	}

	// The engine build runs outside any registry lock; the reservation
	// keeps the id from colliding with concurrent adds meanwhile.
	drv := NewDriver(id, r.eng, r.bus, r.log, r.metrics)
	if err := drv.Create(ctx, description); err != nil {
		r.unreserve(id)
		return nil, err
	}

	r.addMu.Lock()
	r.mu.Lock()
	r.drivers[id] = drv
	r.order = append(r.order, id)
	r.mu.Unlock()
	delete(r.reserved, id)
	r.addMu.Unlock()

	if r.metrics != nil {
		r.metrics.PipelinesCreated.Inc()
		r.metrics.PipelinesActive.Inc()
	}
	r.log.Info("pipeline added", zap.String("pipeline_id", id))
	r.bus.Publish(events.PipelineAdded(id, description))
	return drv, nil
}

// reserve claims id, or generates one, so the engine build can run outside
// the registry locks without another Add taking the same id. A reserved id
// counts against the pipeline limit.
func (r *Registry) reserve(id string) (string, error) {
	r.addMu.Lock()
	defer r.addMu.Unlock()

	r.mu.RLock()
	count := len(r.drivers)
	_, taken := r.drivers[id]
	r.mu.RUnlock()

	live := count + len(r.reserved)
	if id == "" {
		id = r.generateID(live)
	} else if taken {
		return "", &DuplicateIDError{ID: id}
	} else if _, held := r.reserved[id]; held {
		return "", &DuplicateIDError{ID: id}
	}
	if r.max > 0 && live >= r.max {
		return "", &LimitError{Max: r.max}
	}
	r.reserved[id] = struct{}{}
	return id, nil
}

// unreserve releases a reservation whose build failed.
func (r *Registry) unreserve(id string) {
	r.addMu.Lock()
	delete(r.reserved, id)
	r.addMu.Unlock()
}

// Update replaces an existing pipeline's description, rebuilding its engine
// instance. On rebuild failure the entry stays registered without a live
// instance.
func (r *Registry) Update(ctx context.Context, id, description string) error {
	drv, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := drv.Create(ctx, description); err != nil {
		return err
	}
	// A concurrent Remove may have dropped the entry while the rebuild was
	// in flight; an unregistered driver must not keep a live instance.
	if cur, err := r.Get(id); err != nil || cur != drv {
		drv.Destroy()
		return &NotFoundError{ID: id}
	}
	r.bus.Publish(events.PipelineUpdated(id, description))
	return nil
}

// Remove destroys a pipeline and drops it from the registry. Removing an
// unknown id is an error, never a silent success.
func (r *Registry) Remove(id string) error {
	r.addMu.Lock()

	r.mu.Lock()
	drv, ok := r.drivers[id]
	if !ok {
		r.mu.Unlock()
		r.addMu.Unlock()
		return &NotFoundError{ID: id}
	}
	delete(r.drivers, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	r.addMu.Unlock()

	drv.Destroy()

	if r.metrics != nil {
		r.metrics.PipelinesRemoved.Inc()
		r.metrics.PipelinesActive.Dec()
	}
	r.log.Info("pipeline removed", zap.String("pipeline_id", id))
	r.bus.Publish(events.PipelineRemoved(id))
	return nil
}

// Get looks up a pipeline by id.
func (r *Registry) Get(id string) (*Driver, error) {
	r.mu.RLock()
	drv, ok := r.drivers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return drv, nil
}

// Resolve returns the driver for id, or, when id is empty, the sole
// registered pipeline. With zero or several pipelines an omitted id cannot
// be resolved and ErrAmbiguousTarget is returned.
func (r *Registry) Resolve(id string) (*Driver, error) {
	if id != "" {
		return r.Get(id)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) != 1 {
		return nil, ErrAmbiguousTarget
	}
	return r.drivers[r.order[0]], nil
}

// List returns the registered ids in insertion order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of registered pipelines.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.drivers)
}

// Shutdown destroys every pipeline. The registry is unusable afterwards
// only by convention; entries are removed as they are torn down.
func (r *Registry) Shutdown() {
	for _, id := range r.List() {
		if err := r.Remove(id); err != nil {
			continue
		}
	}
}

// generateID derives a readable id from the number of live and reserved
// pipelines, falling back to a random token when the counter-based name is
// already in use. Callers hold addMu.
func (r *Registry) generateID(live int) string {
	id := fmt.Sprintf("pipeline_%d", live)
	r.mu.RLock()
	_, taken := r.drivers[id]
	r.mu.RUnlock()
	if !taken {
		_, taken = r.reserved[id]
	}
	if taken {
		return "pipeline_" + uuid.NewString()
	}
	return id
}
