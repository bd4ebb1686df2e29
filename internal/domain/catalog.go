package domain

import "context"

// Catalog is the read-only set of claimable resources.
type Catalog interface {
	Exists(ctx context.Context, resourceKey string) (bool, error)
	// Get returns ErrResourceNotFound when the resource is not in the catalog.
	Get(ctx context.Context, resourceKey string) (*Resource, error)
}
