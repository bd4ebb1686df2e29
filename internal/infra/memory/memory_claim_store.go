// Package memory holds in-process implementations of the storage contracts. They stand in
// for the external engines in tests and single-node development setups.
package memory

import (
	"context"
	"sort"
	"sync"

	"library-reservation/internal/domain"
)

type memoryClaimStore struct {
	mu   sync.Mutex
	rows map[string]domain.Claim
}

// NewClaimStore creates an empty in-memory claim store.
func NewClaimStore() domain.ClaimStore {
	return &memoryClaimStore{rows: make(map[string]domain.Claim)}
}

// ConditionalApply evaluates the predicate and applies the mutation under one lock,
// which makes every call linearizable.
func (s *memoryClaimStore) ConditionalApply(ctx context.Context, key string, m domain.Mutation, p domain.Predicate) (bool, error) {
	if err := m.Check(key, p); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, domain.Unavailable("memory apply", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists := s.rows[key]
	switch p {
	case domain.MustNotExist:
		if exists {
			return false, nil
		}
	case domain.MustExist:
		if !exists {
			return false, nil
		}
	}

	switch m.Kind {
	case domain.MutationInsert:
		s.rows[key] = *m.Claim
	case domain.MutationSetHolder:
		row.HolderID = m.HolderID
		s.rows[key] = row
	case domain.MutationDelete:
		delete(s.rows, key)
	}
	return true, nil
}

func (s *memoryClaimStore) Get(ctx context.Context, key string) (*domain.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Unavailable("memory get", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[key]
	if !ok {
		return nil, domain.ErrClaimNotFound
	}
	return &row, nil
}

// Scan pages through the rows in key order. The cursor is the last key returned.
func (s *memoryClaimStore) Scan(ctx context.Context, cursor domain.Cursor, pageSize int) (*domain.ClaimPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Unavailable("memory scan", err)
	}
	if pageSize <= 0 {
		pageSize = 1
	}

	s.mu.Lock()
	keys := make([]string, 0, len(s.rows))
	after := string(cursor)
	for k := range s.rows {
		if cursor == nil || k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	page := &domain.ClaimPage{}
	for i, k := range keys {
		if i == pageSize {
			page.Next = domain.Cursor(keys[i-1])
			break
		}
		row := s.rows[k]
		page.Claims = append(page.Claims, &row)
	}
	s.mu.Unlock()

	return page, nil
}
