package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-reservation/internal/domain"
	"library-reservation/internal/infra/storetest"
)

func TestClaimStoreContract(t *testing.T) {
	storetest.RunClaimStoreContract(t, func(t *testing.T) domain.ClaimStore {
		return NewClaimStore()
	})
}

func TestClaimStoreCanceledContextIsUnavailable(t *testing.T) {
	store := NewClaimStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.ConditionalApply(ctx, "k", domain.Delete(), domain.MustExist)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	catalog := NewCatalog(domain.Resource{ID: "b1", Title: "Dune"})

	ok, err := catalog.Exists(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = catalog.Exists(ctx, "b2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = catalog.Get(ctx, "b2")
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)

	catalog.Put(domain.Resource{ID: "b2", Title: "Emma"})
	got, err := catalog.Get(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, "Emma", got.Title)
	assert.ElementsMatch(t, []string{"b1", "b2"}, catalog.IDs())
}

func TestSingleNodeLeader(t *testing.T) {
	ctx := context.Background()
	leader := NewLeaderElectionManager()
	assert.False(t, leader.IsLeader())

	lost, err := leader.Campaign(ctx)
	require.NoError(t, err)
	assert.True(t, leader.IsLeader())

	require.NoError(t, leader.Resign(ctx))
	assert.False(t, leader.IsLeader())
	_, open := <-lost
	assert.False(t, open, "lost channel closes on resign")
}
