package tool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry errors.
var (
	// ErrNilTool indicates a nil Tool was passed to Register.
	ErrNilTool = errors.New("tool is nil")

	// ErrEmptyName indicates a descriptor without a name.
	ErrEmptyName = errors.New("tool name is empty")

	// ErrDuplicate indicates a second registration under an existing name.
	ErrDuplicate = errors.New("tool already registered")
)

// Registry is a thread-safe name-to-tool index.
//
// The fallback chain resolves alternate tools through a Registry, and the
// scheduler looks up job targets in one. A Registry is an explicit value
// handed to whoever needs it; there is no package-level instance, so two
// independent runtimes in one process never share tools by accident.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under its descriptor name.
//
// The descriptor's schema is compiled here, so malformed schemas fail at
// startup rather than on the first invocation. Registering a nil tool, an
// empty name, or a name already in use is an error.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return ErrNilTool
	}
	desc := t.Describe()
	if desc.Name() == "" {
		return ErrEmptyName
	}
	if err := desc.Schema().Validate(); err != nil {
		return fmt.Errorf("tool %q: %w", desc.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[desc.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, desc.Name())
	}
	r.tools[desc.Name()] = t
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Unregister removes a tool. Removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
