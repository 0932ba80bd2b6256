// Package registry tracks the modules composed into a muster server and
// drives their lifecycle in registration order.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/mheilberg/muster/internal/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Registry holds registered modules and coordinates init/start/stop.
type Registry struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	order   []plugin.Plugin
	byName  map[string]plugin.Plugin
	started []plugin.Plugin
}

// New creates an empty Registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger,
		byName: make(map[string]plugin.Plugin),
	}
}

// Register adds a module. Names must be unique and non-empty.
func (r *Registry) Register(p plugin.Plugin) error {
	name := p.Name()
	if name == "" {
		return fmt.Errorf("register module: empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("register module %q: already registered", name)
	}
	r.byName[name] = p
	r.order = append(r.order, p)
	r.logger.Debug("module registered", zap.String("module", name))
	return nil
}

// InitAll initializes every module in registration order. Each module
// receives the shared configuration and a named child logger.
func (r *Registry) InitAll(config *viper.Viper) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.order {
		if err := p.Init(config, r.logger.Named(p.Name())); err != nil {
			return fmt.Errorf("init module %q: %w", p.Name(), err)
		}
	}
	return nil
}

// StartAll starts every module. On failure, already-started modules are
// stopped in reverse order before returning.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.order {
		if err := p.Start(ctx); err != nil {
			for i := len(r.started) - 1; i >= 0; i-- {
				if stopErr := r.started[i].Stop(); stopErr != nil {
					r.logger.Warn("stop after failed start",
						zap.String("module", r.started[i].Name()),
						zap.Error(stopErr))
				}
			}
			r.started = nil
			return fmt.Errorf("start module %q: %w", p.Name(), err)
		}
		r.started = append(r.started, p)
	}
	return nil
}

// StopAll stops started modules in reverse start order.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.started) - 1; i >= 0; i-- {
		p := r.started[i]
		if err := p.Stop(); err != nil {
			r.logger.Warn("module stop failed", zap.String("module", p.Name()), zap.Error(err))
		}
	}
	r.started = nil
}

// Get returns a registered module by name.
func (r *Registry) Get(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// All returns modules in registration order.
func (r *Registry) All() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]plugin.Plugin, len(r.order))
	copy(out, r.order)
	return out
}

// AllRoutes returns every module's routes keyed by module name.
func (r *Registry) AllRoutes() map[string][]plugin.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string][]plugin.Route, len(r.order))
	for _, p := range r.order {
		if rs := p.Routes(); len(rs) > 0 {
			routes[p.Name()] = rs
		}
	}
	return routes
}
