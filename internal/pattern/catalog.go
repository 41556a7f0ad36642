package pattern

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog holds the pattern descriptors known to a Manager, keyed by name.
type Catalog struct {
	mu    sync.RWMutex
	descs map[string]*Descriptor
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{descs: make(map[string]*Descriptor)}
}

// Register adds d. Registering the same descriptor again is a no-op;
// a different descriptor under an existing name is rejected.
func (c *Catalog) Register(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", ErrInvalidDescriptor)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.descs[d.name]; ok && existing != d {
		return fmt.Errorf("%w: %s already registered", ErrInvalidDescriptor, d.name)
	}
	c.descs[d.name] = d
	return nil
}

// Replace adds d, overwriting any descriptor with the same name. Demands
// already registered keep the descriptor they were created with.
func (c *Catalog) Replace(d *Descriptor) {
	c.mu.Lock()
	c.descs[d.name] = d
	c.mu.Unlock()
}

// Get returns the named descriptor.
func (c *Catalog) Get(name string) (*Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.descs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPattern, name)
	}
	return d, nil
}

// Names returns the registered pattern names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.descs))
	for name := range c.descs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
