package provider

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/finkor/brokergate/internal/metrics"
	"github.com/finkor/brokergate/internal/validation"
	gwerrors "github.com/finkor/brokergate/pkg/errors"
)

// Factory builds the broker-specific adapter behind a provider id.
type Factory func(logger *zap.Logger) (Adapter, error)

// Registry tracks registered adapter factories and the live providers built
// from them. Providers are created on first Get and cached by id.
type Registry struct {
	logger   *zap.Logger
	metrics  *metrics.GatewayMetrics
	pipeline *validation.Pipeline

	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]*BaseProvider
}

func NewRegistry(pipeline *validation.Pipeline, m *metrics.GatewayMetrics, logger *zap.Logger) *Registry {
	return &Registry{
		logger:    logger,
		metrics:   m,
		pipeline:  pipeline,
		factories: make(map[string]Factory),
		instances: make(map[string]*BaseProvider),
	}
}

// Register installs a factory for the given provider id. Registering an id
// twice replaces the factory but leaves any live instance untouched.
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	r.factories[id] = f
	r.mu.Unlock()
}

// Get returns the live provider for id, building it on first use.
func (r *Registry) Get(id string) (*BaseProvider, error) {
	r.mu.RLock()
	p, ok := r.instances[id]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check: another goroutine may have built it while we waited.
	if p, ok := r.instances[id]; ok {
		return p, nil
	}

	f, ok := r.factories[id]
	if !ok {
		return nil, gwerrors.New(gwerrors.KindConfiguration, "UnknownProvider",
			"no factory registered for provider "+id)
	}
	adapter, err := f(r.logger)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindConfiguration, "ProviderFactoryFailed", err).WithProvider(id)
	}

	p = NewBaseProvider(id, adapter, r.pipeline, r.metrics, r.logger)
	r.instances[id] = p
	r.logger.Info("provider instance created", zap.String("provider", id))
	return p, nil
}

// Remove disconnects and forgets a live provider instance. The factory stays
// registered so the id can be recreated later.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	p, ok := r.instances[id]
	delete(r.instances, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return p.Disconnect(ctx)
}

// List returns the registered provider ids in stable order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Active returns the ids with a live instance, in stable order.
func (r *Registry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HealthAll snapshots the health of every live provider.
func (r *Registry) HealthAll(ctx context.Context) map[string]HealthStatus {
	r.mu.RLock()
	live := make(map[string]*BaseProvider, len(r.instances))
	for id, p := range r.instances {
		live[id] = p
	}
	r.mu.RUnlock()

	out := make(map[string]HealthStatus, len(live))
	for id, p := range live {
		out[id] = p.Health(ctx)
	}
	return out
}

// Shutdown disconnects every live provider. Errors are logged, not returned;
// shutdown always completes.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	live := r.instances
	r.instances = make(map[string]*BaseProvider)
	r.mu.Unlock()

	for id, p := range live {
		if err := p.Disconnect(ctx); err != nil {
			r.logger.Warn("provider disconnect failed during shutdown",
				zap.String("provider", id), zap.Error(err))
		}
	}
}
