package agents

import (
	"sort"
	"sync"

	"agent-platform/internal/common/errors"
	"agent-platform/internal/common/logging"
)

// Registry maps agent type names to constructors. Lookups are read-mostly;
// registration happens at startup and at plugin load time. Re-registering a
// name overwrites the previous constructor (hot reload), with a warning.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	logger       logging.Logger
}

// NewRegistry creates a registry pre-populated with the builtin agents.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	r := &Registry{
		constructors: make(map[string]Constructor),
		logger:       logger.WithFields(logging.String("component", "agent_registry")),
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register("validator", NewValidatorAgent)
	r.Register("analyzer", NewAnalyzerAgent)
	r.Register("enricher", NewEnricherAgent)
	r.Register("transformer", NewTransformerAgent)
}

// Register adds a constructor under the given name. Last write wins.
func (r *Registry) Register(name string, constructor Constructor) {
	r.mu.Lock()
	_, overwrite := r.constructors[name]
	r.constructors[name] = constructor
	r.mu.Unlock()

	if overwrite {
		r.logger.Warn("agent constructor overwritten",
			logging.String("agent", name),
		)
	}
}

// Get returns the constructor registered under name.
func (r *Registry) Get(name string) (Constructor, error) {
	r.mu.RLock()
	constructor, ok := r.constructors[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.NotFoundError("agent " + name)
	}
	return constructor, nil
}

// Create builds an agent instance by name with the given configuration.
func (r *Registry) Create(name string, config map[string]interface{}) (Agent, error) {
	constructor, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return constructor(config)
}

// IsRegistered reports whether a constructor exists under name.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[name]
	return ok
}

// List returns the registered agent names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
