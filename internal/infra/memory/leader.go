package memory

import (
	"context"
	"sync"

	"library-reservation/internal/domain"
)

// singleNodeLeader is the election used when there is no etcd cluster to campaign in:
// the only node always leads until it resigns.
type singleNodeLeader struct {
	mu       sync.Mutex
	isLeader bool
	lost     chan struct{}
}

// NewLeaderElectionManager returns an election that this node wins immediately.
func NewLeaderElectionManager() domain.LeaderElectionManager {
	return &singleNodeLeader{}
}

func (l *singleNodeLeader) Campaign(ctx context.Context) (<-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isLeader = true
	l.lost = make(chan struct{})
	return l.lost, nil
}

func (l *singleNodeLeader) Resign(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isLeader {
		l.isLeader = false
		close(l.lost)
	}
	return nil
}

func (l *singleNodeLeader) IsLeader() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isLeader
}
