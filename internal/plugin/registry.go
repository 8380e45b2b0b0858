// Package plugin hosts the module registry that drives the lifecycle of
// every exhibitdesk module.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/HerbHall/exhibitdesk/pkg/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Registry manages the lifecycle of all registered modules.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]plugin.Plugin
	order   []string
	enabled map[string]bool
	logger  *zap.Logger
}

// NewRegistry creates a new module registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]plugin.Plugin),
		enabled: make(map[string]bool),
		logger:  logger,
	}
}

// Register adds a module to the registry.
func (r *Registry) Register(p plugin.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("module %q already registered", name)
	}

	r.plugins[name] = p
	r.order = append(r.order, name)
	r.logger.Info("module registered", zap.String("name", name), zap.String("version", p.Version()))
	return nil
}

// InitAll initializes every enabled module. Each module receives its own
// "modules.<name>" sub-config and a named child logger. Modules are enabled
// unless "modules.<name>.enabled" is explicitly false.
func (r *Registry) InitAll(ctx context.Context, deps plugin.Dependencies) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	config := deps.Config
	if config == nil {
		config = viper.New()
	}

	for _, name := range r.order {
		p := r.plugins[name]

		key := "modules." + name + ".enabled"
		if config.IsSet(key) && !config.GetBool(key) {
			r.logger.Info("module disabled, skipping", zap.String("name", name))
			continue
		}

		moduleConfig := config.Sub("modules." + name)
		if moduleConfig == nil {
			moduleConfig = viper.New()
		}

		modDeps := deps
		modDeps.Config = moduleConfig
		modDeps.Logger = r.logger.Named(name)

		r.logger.Info("initializing module", zap.String("name", name))
		if err := p.Init(ctx, modDeps); err != nil {
			return fmt.Errorf("failed to initialize module %q: %w", name, err)
		}
		if v, ok := p.(plugin.Validator); ok {
			if err := v.ValidateConfig(); err != nil {
				return fmt.Errorf("invalid config for module %q: %w", name, err)
			}
		}
		r.enabled[name] = true
	}
	return nil
}

// StartAll starts all initialized modules.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		if !r.enabled[name] {
			continue
		}
		r.logger.Info("starting module", zap.String("name", name))
		if err := r.plugins[name].Start(ctx); err != nil {
			return fmt.Errorf("failed to start module %q: %w", name, err)
		}
	}
	return nil
}

// StopAll stops all started modules in reverse order.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		if !r.enabled[name] {
			continue
		}
		r.logger.Info("stopping module", zap.String("name", name))
		if err := r.plugins[name].Stop(ctx); err != nil {
			r.logger.Error("failed to stop module", zap.String("name", name), zap.Error(err))
		}
	}
}

// Get returns a module by name.
func (r *Registry) Get(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// All returns all enabled modules in registration order.
func (r *Registry) All() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]plugin.Plugin, 0, len(r.order))
	for _, name := range r.order {
		if r.enabled[name] {
			result = append(result, r.plugins[name])
		}
	}
	return result
}

// AllRoutes returns the routes of every enabled module that serves HTTP.
func (r *Registry) AllRoutes() map[string][]plugin.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string][]plugin.Route)
	for _, name := range r.order {
		if !r.enabled[name] {
			continue
		}
		hp, ok := r.plugins[name].(plugin.HTTPProvider)
		if !ok {
			continue
		}
		if pr := hp.Routes(); len(pr) > 0 {
			routes[name] = pr
		}
	}
	return routes
}
