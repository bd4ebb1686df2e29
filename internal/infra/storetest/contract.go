// Package storetest holds the behaviour every domain.ClaimStore backend must share.
// Backend test files call RunClaimStoreContract with a constructor for a fresh, empty store.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-reservation/internal/domain"
)

// GivenClaim builds a complete claim for key.
func GivenClaim(key, holder string) *domain.Claim {
	return &domain.Claim{
		ID:          uuid.NewString(),
		HolderID:    holder,
		ResourceKey: key,
		ClaimedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

// GivenUniqueKey returns a resource key no other test uses.
func GivenUniqueKey(t testing.TB) string {
	t.Helper()
	return uuid.NewString()
}

// RunClaimStoreContract exercises the conditional-apply, read and scan contract.
func RunClaimStoreContract(t *testing.T, newStore func(t *testing.T) domain.ClaimStore) {
	t.Run("insert applies only when absent", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		key := GivenUniqueKey(t)

		first := GivenClaim(key, "holder-a")
		applied, err := store.ConditionalApply(ctx, key, domain.Insert(first), domain.MustNotExist)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = store.ConditionalApply(ctx, key, domain.Insert(GivenClaim(key, "holder-b")), domain.MustNotExist)
		require.NoError(t, err)
		assert.False(t, applied, "second insert must not apply")

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, "holder-a", got.HolderID)
		assert.True(t, first.ClaimedAt.Equal(got.ClaimedAt))
	})

	t.Run("set holder keeps identity", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		key := GivenUniqueKey(t)

		applied, err := store.ConditionalApply(ctx, key, domain.SetHolder("nobody"), domain.MustExist)
		require.NoError(t, err)
		assert.False(t, applied, "update of a missing row must not apply")

		claim := GivenClaim(key, "holder-a")
		_, err = store.ConditionalApply(ctx, key, domain.Insert(claim), domain.MustNotExist)
		require.NoError(t, err)

		applied, err = store.ConditionalApply(ctx, key, domain.SetHolder("holder-b"), domain.MustExist)
		require.NoError(t, err)
		assert.True(t, applied)

		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, claim.ID, got.ID)
		assert.Equal(t, "holder-b", got.HolderID)
		assert.True(t, claim.ClaimedAt.Equal(got.ClaimedAt))
	})

	t.Run("delete applies only when present", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		key := GivenUniqueKey(t)

		applied, err := store.ConditionalApply(ctx, key, domain.Delete(), domain.MustExist)
		require.NoError(t, err)
		assert.False(t, applied)

		_, err = store.ConditionalApply(ctx, key, domain.Insert(GivenClaim(key, "holder-a")), domain.MustNotExist)
		require.NoError(t, err)

		applied, err = store.ConditionalApply(ctx, key, domain.Delete(), domain.MustExist)
		require.NoError(t, err)
		assert.True(t, applied)

		_, err = store.Get(ctx, key)
		assert.ErrorIs(t, err, domain.ErrClaimNotFound)
	})

	t.Run("unsupported pairs are rejected", func(t *testing.T) {
		store := newStore(t)
		key := GivenUniqueKey(t)

		_, err := store.ConditionalApply(context.Background(), key, domain.Delete(), domain.MustNotExist)
		assert.ErrorIs(t, err, domain.ErrUnsupportedMutation)
	})

	t.Run("racing inserts apply exactly once", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		key := GivenUniqueKey(t)

		const racers = 64
		var applied atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := store.ConditionalApply(ctx, key, domain.Insert(GivenClaim(key, fmt.Sprintf("holder-%d", i))), domain.MustNotExist)
				assert.NoError(t, err)
				if ok {
					applied.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), applied.Load())
	})

	t.Run("scan visits every row once", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		want := make(map[string]bool)
		for i := 0; i < 23; i++ {
			key := GivenUniqueKey(t)
			_, err := store.ConditionalApply(ctx, key, domain.Insert(GivenClaim(key, "holder")), domain.MustNotExist)
			require.NoError(t, err)
			want[key] = true
		}

		seen := make(map[string]int)
		var cursor domain.Cursor
		for pages := 0; ; pages++ {
			require.Less(t, pages, 100, "scan did not terminate")
			page, err := store.Scan(ctx, cursor, 5)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(page.Claims), 5)
			for _, c := range page.Claims {
				seen[c.ResourceKey]++
			}
			if page.Next == nil {
				break
			}
			cursor = page.Next
		}

		for key := range want {
			assert.Equal(t, 1, seen[key], "key %s", key)
		}
	})
}
