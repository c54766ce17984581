package alerts

import (
	"fmt"
	"slices"
	"sync"
)

// Registry manages channel instances by name.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]Channel),
	}
}

// Register adds a channel to the registry.
func (r *Registry) Register(c Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	r.channels[name] = c
	return nil
}

// Get returns a channel by name.
func (r *Registry) Get(name string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("channel %q: %w", name, ErrChannelNotFound)
	}
	return c, nil
}

// List returns all registered channel names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
