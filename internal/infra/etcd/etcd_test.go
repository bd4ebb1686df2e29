package etcd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"

	"library-reservation/internal/domain"
	"library-reservation/internal/infra/memory"
	"library-reservation/internal/infra/storetest"
	"library-reservation/internal/usecase"
)

var (
	embedOnce   sync.Once
	embedServer *embed.Etcd
	embedClient *clientv3.Client
	embedDir    string
	embedErr    error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if embedClient != nil {
		_ = embedClient.Close()
	}
	if embedServer != nil {
		embedServer.Close()
	}
	if embedDir != "" {
		_ = os.RemoveAll(embedDir)
	}
	os.Exit(code)
}

func freeURL(t *testing.T) url.URL {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return url.URL{Scheme: "http", Host: l.Addr().String()}
}

// testClient starts one in-process etcd member for the whole package run.
func testClient(t *testing.T) *clientv3.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping embedded etcd tests in short mode")
	}

	embedOnce.Do(func() {
		embedDir, embedErr = os.MkdirTemp("", "reservation-etcd")
		if embedErr != nil {
			return
		}

		clientURL, peerURL := freeURL(t), freeURL(t)
		cfg := embed.NewConfig()
		cfg.Dir = embedDir
		cfg.LogLevel = "error"
		cfg.ListenClientUrls, cfg.AdvertiseClientUrls = []url.URL{clientURL}, []url.URL{clientURL}
		cfg.ListenPeerUrls, cfg.AdvertisePeerUrls = []url.URL{peerURL}, []url.URL{peerURL}
		cfg.InitialCluster = fmt.Sprintf("%s=%s", cfg.Name, peerURL.String())

		embedServer, embedErr = embed.StartEtcd(cfg)
		if embedErr != nil {
			return
		}
		select {
		case <-embedServer.Server.ReadyNotify():
		case <-time.After(10 * time.Second):
			embedErr = fmt.Errorf("embedded etcd did not become ready")
			return
		}

		embedClient, embedErr = NewClient(context.Background(), []string{clientURL.String()}, 5*time.Second)
	})
	require.NoError(t, embedErr)
	return embedClient
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func uniquePrefix(name string) string {
	return "/test/" + uuid.NewString() + "/" + name + "/"
}

func TestEtcdClaimStoreContract(t *testing.T) {
	cli := testClient(t)
	storetest.RunClaimStoreContract(t, func(t *testing.T) domain.ClaimStore {
		return NewEtcdClaimStore(cli, uniquePrefix("reservations"), testLogger())
	})
}

func TestEtcdClaimStoreRejectsForeignCursor(t *testing.T) {
	cli := testClient(t)
	store := NewEtcdClaimStore(cli, uniquePrefix("reservations"), testLogger())

	_, err := store.Scan(context.Background(), domain.Cursor("/elsewhere/key"), 10)
	assert.ErrorIs(t, err, domain.ErrInvalidCursor)
}

func TestEtcdClaimStoreConcurrentHolderUpdates(t *testing.T) {
	cli := testClient(t)
	ctx := context.Background()
	store := NewEtcdClaimStore(cli, uniquePrefix("reservations"), testLogger())

	key := storetest.GivenUniqueKey(t)
	claim := storetest.GivenClaim(key, "holder-0")
	_, err := store.ConditionalApply(ctx, key, domain.Insert(claim), domain.MustNotExist)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			applied, err := store.ConditionalApply(ctx, key, domain.SetHolder(fmt.Sprintf("holder-%d", i)), domain.MustExist)
			assert.NoError(t, err)
			assert.True(t, applied)
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, claim.ID, got.ID, "holder updates never replace the claim identity")
	assert.True(t, claim.ClaimedAt.Equal(got.ClaimedAt))
}

func TestEtcdCatalog(t *testing.T) {
	cli := testClient(t)
	ctx := context.Background()
	catalog := NewEtcdCatalog(cli, uniquePrefix("books"), testLogger())

	book := domain.Resource{ID: uuid.NewString(), Title: "The Hobbit", Author: "J.R.R. Tolkien"}
	require.NoError(t, catalog.Put(ctx, book))

	ok, err := catalog.Exists(ctx, book.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := catalog.Get(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, book, *got)

	ok, err = catalog.Exists(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = catalog.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
}

func TestEtcdCatalogKeysStayUnderDir(t *testing.T) {
	catalog := NewEtcdCatalog(nil, "/library/books", testLogger())
	assert.Equal(t, "/library/books/abc", catalog.key("abc"))
	assert.Equal(t, "/library/books/../reservations/abc", catalog.key("../reservations/abc"))
}

func TestEtcdCatalogIgnoresClaimsReachedByDotSegments(t *testing.T) {
	cli := testClient(t)
	ctx := context.Background()
	root := uniquePrefix("library")
	store := NewEtcdClaimStore(cli, root+"reservations/", testLogger())
	catalog := NewEtcdCatalog(cli, root+"books/", testLogger())

	key := storetest.GivenUniqueKey(t)
	_, err := store.ConditionalApply(ctx, key, domain.Insert(storetest.GivenClaim(key, "holder-a")), domain.MustNotExist)
	require.NoError(t, err)

	ok, err := catalog.Exists(ctx, "../reservations/"+key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = catalog.Get(ctx, "../reservations/"+key)
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
}

func TestEtcdClaimStoreUnavailable(t *testing.T) {
	cli := testClient(t)
	store := NewEtcdClaimStore(cli, uniquePrefix("reservations"), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	key := storetest.GivenUniqueKey(t)
	_, err := store.ConditionalApply(ctx, key, domain.Insert(storetest.GivenClaim(key, "h")), domain.MustNotExist)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestLedgerOnEtcd(t *testing.T) {
	cli := testClient(t)
	ctx := context.Background()
	store := NewEtcdClaimStore(cli, uniquePrefix("reservations"), testLogger())
	books := []domain.Resource{{ID: uuid.NewString()}, {ID: uuid.NewString()}}
	ledger := usecase.NewReservationService(store, memory.NewCatalog(books...), usecase.ReservationConfig{
		CatalogPrecheck: true,
		StoreTimeout:    5 * time.Second,
	}, testLogger())

	t.Run("one winner among racing creates", func(t *testing.T) {
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := ledger.CreateClaim(ctx, fmt.Sprintf("holder-%d", i), books[0].ID)
				if err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})

	t.Run("transfer keeps identity on the same key and renews it on a new key", func(t *testing.T) {
		before, err := store.Get(ctx, books[0].ID)
		require.NoError(t, err)

		same, err := ledger.TransferClaim(ctx, books[0].ID, "holder-x", books[0].ID)
		require.NoError(t, err)
		assert.Equal(t, before.ID, same.ID)
		assert.True(t, before.ClaimedAt.Equal(same.ClaimedAt))

		moved, err := ledger.TransferClaim(ctx, books[0].ID, "holder-x", books[1].ID)
		require.NoError(t, err)
		assert.NotEqual(t, before.ID, moved.ID)

		_, err = ledger.GetDetails(ctx, books[0].ID)
		assert.ErrorIs(t, err, domain.ErrClaimNotFound)
		_, err = ledger.GetDetails(ctx, books[1].ID)
		assert.NoError(t, err)
	})
}
