package adapter

import (
	"fmt"
	"log/slog"
	"sort"
)

// Registry holds the configured adapters and the recommended model ids per
// adapter. Requests naming an unregistered adapter fail validation;
// non-recommended models are allowed but logged.
type Registry struct {
	adapters    map[string]Adapter
	recommended map[string]map[string]bool
	logger      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		adapters:    make(map[string]Adapter),
		recommended: make(map[string]map[string]bool),
		logger:      logger,
	}
}

// Register adds an adapter under its name with its recommended model ids.
// Re-registering a name replaces the previous adapter.
func (r *Registry) Register(a Adapter, recommendedModels ...string) {
	r.adapters[a.Name()] = a
	models := make(map[string]bool, len(recommendedModels))
	for _, m := range recommendedModels {
		models[m] = true
	}
	r.recommended[a.Name()] = models
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("adapter: unknown adapter %q (registered: %v)", name, r.Names())
	}
	return a, nil
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Recommended returns the recommended model ids for an adapter, sorted.
func (r *Registry) Recommended(adapterName string) []string {
	models := make([]string, 0, len(r.recommended[adapterName]))
	for m := range r.recommended[adapterName] {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// CheckModel logs a warning when modelID is outside the adapter's
// recommended set. It never rejects; model catalogs drift faster than
// configuration.
func (r *Registry) CheckModel(adapterName, modelID string) {
	models, ok := r.recommended[adapterName]
	if !ok || len(models) == 0 || models[modelID] {
		return
	}
	r.logger.Warn("adapter: model not in recommended set",
		"adapter", adapterName, "model", modelID, "recommended", r.Recommended(adapterName))
}
