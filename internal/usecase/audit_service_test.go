package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-reservation/internal/domain"
	"library-reservation/internal/infra/memory"
)

// flakyCatalog fails lookups for one key.
type flakyCatalog struct {
	domain.Catalog
	failKey string
}

func (c *flakyCatalog) Exists(ctx context.Context, key string) (bool, error) {
	if key == c.failKey {
		return false, domain.Unavailable("flaky catalog", errors.New("timeout"))
	}
	return c.Catalog.Exists(ctx, key)
}

func TestLedgerAuditorSweep(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, ReservationConfig{PageSize: 7}, 28)
	for _, b := range f.books {
		_, err := f.ledger.CreateClaim(ctx, "holder", b.ID)
		require.NoError(t, err)
	}
	orphans := []string{uuid.NewString(), uuid.NewString()}
	for _, key := range orphans {
		_, err := f.ledger.CreateClaim(ctx, "holder", key)
		require.NoError(t, err)
	}

	auditor := NewLedgerAuditor(f.ledger, f.catalog, testLogger())
	assert.Nil(t, auditor.LastReport())

	report, err := auditor.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 30, report.LiveClaims)
	assert.Equal(t, 5, report.Pages)
	assert.ElementsMatch(t, orphans, report.Orphans)
	assert.Same(t, report, auditor.LastReport())

	_, err = f.store.Get(ctx, orphans[0])
	assert.NoError(t, err, "the auditor never releases claims")
}

func TestLedgerAuditorCollectsCatalogErrors(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t, nil, ReservationConfig{}, 3)
	for _, b := range f.books {
		_, err := f.ledger.CreateClaim(ctx, "holder", b.ID)
		require.NoError(t, err)
	}

	auditor := NewLedgerAuditor(f.ledger, &flakyCatalog{Catalog: f.catalog, failKey: f.books[1].ID}, testLogger())
	report, err := auditor.Sweep(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), f.books[1].ID)
	assert.Equal(t, 3, report.LiveClaims, "the sweep continues past a failed lookup")
	assert.Empty(t, report.Orphans)
	assert.Nil(t, auditor.LastReport())
}

func TestLedgerAuditorStopsOnListFailure(t *testing.T) {
	store := &faultyStore{ClaimStore: memory.NewClaimStore(), failScan: true}
	f := newLedgerFixture(t, store, ReservationConfig{}, 0)

	auditor := NewLedgerAuditor(f.ledger, f.catalog, testLogger())
	err := auditor.Run(context.Background())

	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, AuditTaskName, auditor.Name())
}

type recordingScheduler struct {
	mu      sync.Mutex
	added   []string
	removed []string
	running atomic.Bool
}

func (s *recordingScheduler) Start(ctx context.Context) error {
	s.running.Store(true)
	<-ctx.Done()
	s.running.Store(false)
	return ctx.Err()
}

func (s *recordingScheduler) AddTask(spec string, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, spec+" "+task.Name())
	return nil
}

func (s *recordingScheduler) RemoveTask(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, name)
	return nil
}

func TestAuditServiceRunsScheduleWhileLeading(t *testing.T) {
	f := newLedgerFixture(t, nil, ReservationConfig{}, 0)
	leader := memory.NewLeaderElectionManager()
	sched := &recordingScheduler{}
	svc := NewAuditService(leader, sched, NewLedgerAuditor(f.ledger, f.catalog, testLogger()), "*/30 * * * * *", "node-1", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	assert.Eventually(t, sched.running.Load, 2*time.Second, 10*time.Millisecond)
	assert.True(t, leader.IsLeader())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("audit service did not stop")
	}

	assert.False(t, sched.running.Load())
	assert.False(t, leader.IsLeader(), "leadership is resigned on shutdown")
	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.Equal(t, []string{"*/30 * * * * * " + AuditTaskName}, sched.added)
	assert.Equal(t, []string{AuditTaskName}, sched.removed)
}
