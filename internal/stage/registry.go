package stage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"redub/internal/services"
)

// Registry maps (stage kind, engine identifier) to adapter instances.
// Only synthesize adapters are engine-keyed; every other kind registers
// with an empty engine.
type Registry struct {
	mu       sync.RWMutex
	adapters map[registryKey]Adapter
}

type registryKey struct {
	kind   NodeKind
	engine string
}

// NewRegistry returns an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[registryKey]Adapter)}
}

// Register installs an adapter. Registering the same (kind, engine) twice
// is a programming error and panics at process start.
func (r *Registry) Register(kind NodeKind, engine string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey{kind: kind, engine: normalizeEngine(engine)}
	if _, exists := r.adapters[key]; exists {
		panic(fmt.Sprintf("stage adapter already registered for %s/%s", kind, engine))
	}
	r.adapters[key] = adapter
}

// Resolve finds the adapter for a stage kind and engine identifier.
func (r *Registry) Resolve(kind NodeKind, engine string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[registryKey{kind: kind, engine: normalizeEngine(engine)}]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, string(kind), "resolve adapter",
			fmt.Sprintf("no adapter registered for kind %q engine %q", kind, engine), nil)
	}
	return adapter, nil
}

// Engines returns the engine identifiers registered for a kind, sorted.
func (r *Registry) Engines(kind NodeKind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var engines []string
	for key := range r.adapters {
		if key.kind == kind {
			engines = append(engines, key.engine)
		}
	}
	sort.Strings(engines)
	return engines
}

// HasEngine reports whether an engine identifier resolves for synthesize.
func (r *Registry) HasEngine(engine string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[registryKey{kind: KindSynthesize, engine: normalizeEngine(engine)}]
	return ok
}

func normalizeEngine(engine string) string {
	return strings.ToLower(strings.TrimSpace(engine))
}
