package memory

import (
	"context"
	"sync"

	"library-reservation/internal/domain"
)

// Catalog is an in-memory catalog. Put exists for seeding; the ledger only reads.
type Catalog struct {
	mu    sync.RWMutex
	books map[string]domain.Resource
}

// NewCatalog creates a catalog holding the given resources.
func NewCatalog(resources ...domain.Resource) *Catalog {
	c := &Catalog{books: make(map[string]domain.Resource, len(resources))}
	for _, r := range resources {
		c.books[r.ID] = r
	}
	return c
}

// Put adds or replaces a resource.
func (c *Catalog) Put(r domain.Resource) {
	c.mu.Lock()
	c.books[r.ID] = r
	c.mu.Unlock()
}

func (c *Catalog) Exists(ctx context.Context, resourceKey string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.Unavailable("memory catalog exists", err)
	}
	c.mu.RLock()
	_, ok := c.books[resourceKey]
	c.mu.RUnlock()
	return ok, nil
}

func (c *Catalog) Get(ctx context.Context, resourceKey string) (*domain.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Unavailable("memory catalog get", err)
	}
	c.mu.RLock()
	r, ok := c.books[resourceKey]
	c.mu.RUnlock()
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	return &r, nil
}

// IDs returns every resource ID in the catalog, in no particular order.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.books))
	for id := range c.books {
		ids = append(ids, id)
	}
	return ids
}
