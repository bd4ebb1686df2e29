// internal/domain/claim.go
package domain

import (
	"fmt"
	"time"
)

// Claim is the reservation record binding one holder to one resource.
// ResourceKey is also the storage key: at most one Claim exists per ResourceKey.
type Claim struct {
	ID          string    `json:"id"`
	HolderID    string    `json:"holder_id"`
	ResourceKey string    `json:"resource_key"`
	ClaimedAt   time.Time `json:"claimed_at"`
}

// Validate checks if the claim is complete enough to be stored.
func (c *Claim) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("claim ID cannot be empty")
	}
	if c.HolderID == "" {
		return fmt.Errorf("claim holder cannot be empty")
	}
	if c.ResourceKey == "" {
		return fmt.Errorf("claim resource key cannot be empty")
	}
	if c.ClaimedAt.IsZero() {
		return fmt.Errorf("claim time cannot be zero")
	}
	return nil
}

// Resource is a claimable catalog entry (a book). The ledger never writes it.
type Resource struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	ImageURL string `json:"image_url"`
	Category string `json:"category"`
}

// ClaimDetails joins a claim with the resource it holds, for detail views.
type ClaimDetails struct {
	Claim
	Resource Resource `json:"book"`
}

// ClaimPage is one page of an enumeration. A nil Next means the enumeration is done.
type ClaimPage struct {
	Claims []*Claim
	Next   Cursor
}

// Cursor is a backend-native scan position. Callers outside the store treat it as opaque.
type Cursor []byte
