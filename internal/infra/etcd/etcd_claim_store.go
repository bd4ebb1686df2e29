// internal/infra/etcd/etcd_claim_store.go
package etcd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"library-reservation/internal/domain"

	jsoniter "github.com/json-iterator/go"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// ReservationDir is the etcd prefix claims are stored under, one key per resource.
	ReservationDir = "/library/reservations/"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type etcdClaimStore struct {
	client *clientv3.Client
	prefix string
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdClaimStore creates a claim store whose conditional writes are etcd transactions.
// An empty prefix selects ReservationDir.
func NewEtcdClaimStore(client *clientv3.Client, prefix string, logger *slog.Logger) domain.ClaimStore {
	if prefix == "" {
		prefix = ReservationDir
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &etcdClaimStore{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "etcd-claim-store"),
		tracer: otel.Tracer("library-reservation-etcd-claim-store"),
	}
}

func (s *etcdClaimStore) key(resourceKey string) string {
	return s.prefix + resourceKey
}

// predicateCmp expresses a Predicate as a comparison on the key's create revision,
// which is zero exactly when the key does not exist.
func predicateCmp(key string, p domain.Predicate) clientv3.Cmp {
	if p == domain.MustNotExist {
		return clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
	}
	return clientv3.Compare(clientv3.CreateRevision(key), ">", 0)
}

// ConditionalApply runs the mutation as a single etcd transaction guarded by the predicate.
func (s *etcdClaimStore) ConditionalApply(ctx context.Context, resourceKey string, m domain.Mutation, p domain.Predicate) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "repo.etcd.ConditionalApply")
	defer span.End()

	key := s.key(resourceKey)
	span.SetAttributes(
		attribute.String("etcd.key", key),
		attribute.String("mutation", m.Kind.String()),
		attribute.String("predicate", p.String()),
	)

	if err := m.Check(resourceKey, p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rejected mutation")
		return false, err
	}

	var (
		applied bool
		err     error
	)
	switch m.Kind {
	case domain.MutationInsert:
		applied, err = s.insert(ctx, key, m.Claim)
	case domain.MutationSetHolder:
		applied, err = s.setHolder(ctx, key, m.HolderID)
	case domain.MutationDelete:
		applied, err = s.delete(ctx, key)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "etcd transaction failed")
		return false, err
	}

	span.SetAttributes(attribute.Bool("applied", applied))
	return applied, nil
}

func (s *etcdClaimStore) insert(ctx context.Context, key string, claim *domain.Claim) (bool, error) {
	claimJSON, err := json.Marshal(claim)
	if err != nil {
		return false, fmt.Errorf("failed to marshal claim %s to JSON: %w", claim.ID, err)
	}

	resp, err := s.client.Txn(ctx).
		If(predicateCmp(key, domain.MustNotExist)).
		Then(clientv3.OpPut(key, string(claimJSON))).
		Commit()
	if err != nil {
		return false, domain.Unavailable("etcd insert "+key, err)
	}
	return resp.Succeeded, nil
}

func (s *etcdClaimStore) delete(ctx context.Context, key string) (bool, error) {
	resp, err := s.client.Txn(ctx).
		If(predicateCmp(key, domain.MustExist)).
		Then(clientv3.OpDelete(key)).
		Commit()
	if err != nil {
		return false, domain.Unavailable("etcd delete "+key, err)
	}
	return resp.Succeeded, nil
}

// setHolder rewrites the holder field of an existing value. The value has to be read
// first, so the write is guarded by the mod revision that was read; a concurrent
// writer makes the guard fail and the loop re-reads. The loop ends with applied=false
// as soon as the key is observed absent.
func (s *etcdClaimStore) setHolder(ctx context.Context, key, holderID string) (bool, error) {
	getResp, err := s.client.Get(ctx, key)
	if err != nil {
		return false, domain.Unavailable("etcd get "+key, err)
	}

	for attempt := 1; ; attempt++ {
		if len(getResp.Kvs) == 0 {
			return false, nil
		}
		kv := getResp.Kvs[0]

		var claim domain.Claim
		if err := json.Unmarshal(kv.Value, &claim); err != nil {
			return false, fmt.Errorf("failed to unmarshal claim at %s from JSON: %w", key, err)
		}
		claim.HolderID = holderID
		claimJSON, err := json.Marshal(&claim)
		if err != nil {
			return false, fmt.Errorf("failed to marshal claim %s to JSON: %w", claim.ID, err)
		}

		txnResp, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)).
			Then(clientv3.OpPut(key, string(claimJSON))).
			Else(clientv3.OpGet(key)).
			Commit()
		if err != nil {
			return false, domain.Unavailable("etcd update "+key, err)
		}
		if txnResp.Succeeded {
			return true, nil
		}

		s.logger.Debug("claim changed during holder update, retrying", "key", key, "attempt", attempt)
		getResp = (*clientv3.GetResponse)(txnResp.Responses[0].GetResponseRange())
	}
}

// Get reads the claim with a linearizable range request.
func (s *etcdClaimStore) Get(ctx context.Context, resourceKey string) (*domain.Claim, error) {
	ctx, span := s.tracer.Start(ctx, "repo.etcd.GetClaim")
	defer span.End()

	key := s.key(resourceKey)
	span.SetAttributes(attribute.String("etcd.key", key))

	resp, err := s.client.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get claim from etcd")
		return nil, domain.Unavailable("etcd get "+key, err)
	}

	if len(resp.Kvs) == 0 {
		return nil, domain.ErrClaimNotFound
	}

	var claim domain.Claim
	if err := json.Unmarshal(resp.Kvs[0].Value, &claim); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal claim")
		return nil, fmt.Errorf("failed to unmarshal claim %s from JSON: %w", resourceKey, err)
	}
	return &claim, nil
}

// Scan returns claims in key order. The cursor is the last etcd key of the previous page.
func (s *etcdClaimStore) Scan(ctx context.Context, cursor domain.Cursor, pageSize int) (*domain.ClaimPage, error) {
	ctx, span := s.tracer.Start(ctx, "repo.etcd.ScanClaims")
	defer span.End()
	span.SetAttributes(attribute.Int("page_size", pageSize))

	if pageSize <= 0 {
		pageSize = 1
	}

	start := s.prefix
	if cursor != nil {
		last := string(cursor)
		if !strings.HasPrefix(last, s.prefix) {
			return nil, fmt.Errorf("%w: position outside %s", domain.ErrInvalidCursor, s.prefix)
		}
		// The smallest key strictly greater than last.
		start = last + "\x00"
	}

	resp, err := s.client.Get(ctx, start,
		clientv3.WithRange(clientv3.GetPrefixRangeEnd(s.prefix)),
		clientv3.WithLimit(int64(pageSize)),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to scan claims from etcd")
		return nil, domain.Unavailable("etcd scan "+s.prefix, err)
	}
	span.SetAttributes(attribute.Int("etcd.kv_count", len(resp.Kvs)))

	page := &domain.ClaimPage{Claims: make([]*domain.Claim, 0, len(resp.Kvs))}
	for _, kv := range resp.Kvs {
		var claim domain.Claim
		if err := json.Unmarshal(kv.Value, &claim); err != nil {
			s.logger.Warn("failed to unmarshal claim from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		page.Claims = append(page.Claims, &claim)
	}
	if resp.More && len(resp.Kvs) > 0 {
		page.Next = domain.Cursor(resp.Kvs[len(resp.Kvs)-1].Key)
	}
	return page, nil
}
