// internal/domain/store.go
package domain

import (
	"context"
	"fmt"
)

// Predicate is the existence condition a conditional write is evaluated against.
type Predicate int

const (
	MustNotExist Predicate = iota + 1
	MustExist
)

func (p Predicate) String() string {
	switch p {
	case MustNotExist:
		return "must_not_exist"
	case MustExist:
		return "must_exist"
	default:
		return fmt.Sprintf("predicate(%d)", int(p))
	}
}

// MutationKind names the write applied by a Mutation.
type MutationKind int

const (
	MutationInsert MutationKind = iota + 1
	MutationSetHolder
	MutationDelete
)

func (k MutationKind) String() string {
	switch k {
	case MutationInsert:
		return "insert"
	case MutationSetHolder:
		return "set_holder"
	case MutationDelete:
		return "delete"
	default:
		return fmt.Sprintf("mutation(%d)", int(k))
	}
}

// Mutation is a write against the claim row of a single resource key.
type Mutation struct {
	Kind     MutationKind
	Claim    *Claim // MutationInsert
	HolderID string // MutationSetHolder
}

// Insert stores a new claim row.
func Insert(claim *Claim) Mutation {
	return Mutation{Kind: MutationInsert, Claim: claim}
}

// SetHolder replaces the holder of an existing row, leaving its ID and ClaimedAt untouched.
func SetHolder(holderID string) Mutation {
	return Mutation{Kind: MutationSetHolder, HolderID: holderID}
}

// Delete removes the row.
func Delete() Mutation {
	return Mutation{Kind: MutationDelete}
}

// Check rejects mutation/predicate pairs that no store implements: inserts are
// only guarded by MustNotExist, updates and deletes only by MustExist.
func (m Mutation) Check(key string, p Predicate) error {
	switch m.Kind {
	case MutationInsert:
		if p != MustNotExist {
			return fmt.Errorf("%w: %s guarded by %s", ErrUnsupportedMutation, m.Kind, p)
		}
		if m.Claim == nil {
			return fmt.Errorf("%w: insert without a claim", ErrUnsupportedMutation)
		}
		if m.Claim.ResourceKey != key {
			return fmt.Errorf("%w: claim for %q written under key %q", ErrUnsupportedMutation, m.Claim.ResourceKey, key)
		}
		return m.Claim.Validate()
	case MutationSetHolder:
		if p != MustExist {
			return fmt.Errorf("%w: %s guarded by %s", ErrUnsupportedMutation, m.Kind, p)
		}
		if m.HolderID == "" {
			return fmt.Errorf("%w: empty holder", ErrUnsupportedMutation)
		}
		return nil
	case MutationDelete:
		if p != MustExist {
			return fmt.Errorf("%w: %s guarded by %s", ErrUnsupportedMutation, m.Kind, p)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMutation, m.Kind)
	}
}

// ClaimStore is the conditional store the ledger is built on.
//
// ConditionalApply must be atomic and linearizable with respect to every other
// ConditionalApply on the same key. It reports applied=false when the predicate
// did not hold, and an error wrapping ErrStoreUnavailable when the outcome is unknown.
type ClaimStore interface {
	ConditionalApply(ctx context.Context, key string, m Mutation, p Predicate) (applied bool, err error)
	// Get returns ErrClaimNotFound when no row exists for key.
	Get(ctx context.Context, key string) (*Claim, error)
	// Scan returns up to pageSize rows ordered by key, starting after cursor.
	// A nil cursor starts from the beginning.
	Scan(ctx context.Context, cursor Cursor, pageSize int) (*ClaimPage, error)
}
