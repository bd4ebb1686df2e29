package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validClaim(key string) *Claim {
	return &Claim{ID: "c-1", HolderID: "h-1", ResourceKey: key, ClaimedAt: time.Now()}
}

func TestMutationCheck(t *testing.T) {
	tests := []struct {
		name    string
		m       Mutation
		p       Predicate
		wantErr bool
	}{
		{"insert if absent", Insert(validClaim("k")), MustNotExist, false},
		{"insert if present", Insert(validClaim("k")), MustExist, true},
		{"insert nil claim", Insert(nil), MustNotExist, true},
		{"insert under other key", Insert(validClaim("other")), MustNotExist, true},
		{"insert incomplete claim", Insert(&Claim{ResourceKey: "k"}), MustNotExist, true},
		{"set holder if present", SetHolder("h-2"), MustExist, false},
		{"set holder if absent", SetHolder("h-2"), MustNotExist, true},
		{"set empty holder", SetHolder(""), MustExist, true},
		{"delete if present", Delete(), MustExist, false},
		{"delete if absent", Delete(), MustNotExist, true},
		{"unknown kind", Mutation{}, MustExist, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Check("k", tt.p)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUnavailableWrapsBothErrors(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable("etcd txn", cause)

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(ErrAlreadyClaimed))
	assert.Contains(t, err.Error(), "etcd txn")
}
