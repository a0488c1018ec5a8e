package deploy

import (
	"errors"
	"fmt"
	"sort"
)

// =============================================================================
// Catalog
// =============================================================================

var (
	ErrDuplicateDeployment = errors.New("deployment already registered")
	ErrUnknownDeployment   = errors.New("unknown deployment")
)

// Catalog is the explicit registry of deployments. It is built once at
// startup and passed by reference to whatever needs to look deployments up;
// construction of a Deployment never registers anything as a side effect, so
// tests can assemble isolated catalogs of their own.
type Catalog struct {
	deployments map[string]*Deployment
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{deployments: map[string]*Deployment{}}
}

// Add registers a deployment under its name. Names are unique.
func (c *Catalog) Add(d *Deployment) error {
	if _, ok := c.deployments[d.Name()]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateDeployment, d.Name())
	}
	c.deployments[d.Name()] = d
	return nil
}

// Get looks a deployment up by name.
func (c *Catalog) Get(name string) (*Deployment, error) {
	d, ok := c.deployments[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDeployment, name)
	}
	return d, nil
}

// Names returns the sorted names of all registered deployments.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.deployments))
	for name := range c.deployments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered deployments.
func (c *Catalog) Len() int { return len(c.deployments) }
