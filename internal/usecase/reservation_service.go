package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"library-reservation/internal/domain"
	"library-reservation/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultPageSize = 25

// ReservationConfig tunes the ledger.
type ReservationConfig struct {
	// PageSize bounds every List page. Zero selects DefaultPageSize.
	PageSize int
	// CatalogPrecheck rejects claims on resources the catalog does not know.
	CatalogPrecheck bool
	// StoreTimeout bounds each store call. Zero leaves the caller's deadline alone.
	StoreTimeout time.Duration
}

// ReservationPage is one page of claims plus the token for the next one.
// An empty NextCursor means the listing is complete.
type ReservationPage struct {
	Claims     []*domain.Claim `json:"reservations"`
	NextCursor string          `json:"next_paging_state"`
}

// ReservationService is the reservation ledger. It keeps no state of its own:
// exclusivity comes entirely from the store's conditional writes.
type ReservationService struct {
	store   domain.ClaimStore
	catalog domain.Catalog
	cfg     ReservationConfig
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewReservationService creates a new ReservationService instance.
func NewReservationService(store domain.ClaimStore, catalog domain.Catalog, cfg ReservationConfig, logger *slog.Logger) *ReservationService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &ReservationService{
		store:   store,
		catalog: catalog,
		cfg:     cfg,
		logger:  logger.With("component", "reservation-service"),
		tracer:  otel.Tracer("library-reservation-usecase"),
		now:     time.Now,
	}
}

// CreateClaim binds holderID to resourceKey. It fails with ErrAlreadyClaimed when
// any claim exists for the key, whoever holds it.
func (s *ReservationService) CreateClaim(ctx context.Context, holderID, resourceKey string) (*domain.Claim, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreateClaim")
	defer span.End()
	span.SetAttributes(attribute.String("holder_id", holderID), attribute.String("resource_key", resourceKey))

	claim, err := s.createClaim(ctx, holderID, resourceKey)
	s.observe(span, "create", err)
	if err == nil {
		span.SetAttributes(attribute.String("claim.id", claim.ID))
	}
	return claim, err
}

func (s *ReservationService) createClaim(ctx context.Context, holderID, resourceKey string) (*domain.Claim, error) {
	if holderID == "" || resourceKey == "" {
		return nil, fmt.Errorf("%w: holder and resource are required", domain.ErrInvalidArgument)
	}
	if err := s.precheck(ctx, resourceKey); err != nil {
		return nil, err
	}

	claim := &domain.Claim{
		ID:          uuid.NewString(),
		HolderID:    holderID,
		ResourceKey: resourceKey,
		ClaimedAt:   s.now().UTC().Truncate(time.Millisecond),
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	applied, err := s.store.ConditionalApply(storeCtx, resourceKey, domain.Insert(claim), domain.MustNotExist)
	if err != nil {
		return nil, fmt.Errorf("create claim on %s: %w", resourceKey, err)
	}
	if !applied {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyClaimed, resourceKey)
	}

	s.logger.Info("claim created", "resource_key", resourceKey, "holder_id", holderID, "claim_id", claim.ID)
	return claim, nil
}

// TransferClaim moves the claim on oldKey to newHolderID and newKey.
//
// With an unchanged key only the holder is replaced; the claim keeps its ID and
// ClaimedAt. With a different key the old claim is released and a fresh one is
// created. The two steps are not atomic: if the create fails the old resource
// stays unclaimed and the error is returned.
func (s *ReservationService) TransferClaim(ctx context.Context, oldKey, newHolderID, newKey string) (*domain.Claim, error) {
	ctx, span := s.tracer.Start(ctx, "service.TransferClaim")
	defer span.End()
	span.SetAttributes(
		attribute.String("old_resource_key", oldKey),
		attribute.String("holder_id", newHolderID),
		attribute.String("resource_key", newKey),
		attribute.Bool("key_changed", oldKey != newKey),
	)

	var (
		claim *domain.Claim
		err   error
	)
	if oldKey == newKey {
		claim, err = s.replaceHolder(ctx, oldKey, newHolderID)
	} else {
		claim, err = s.moveClaim(ctx, oldKey, newHolderID, newKey)
	}
	s.observe(span, "transfer", err)
	return claim, err
}

func (s *ReservationService) replaceHolder(ctx context.Context, key, newHolderID string) (*domain.Claim, error) {
	if key == "" || newHolderID == "" {
		return nil, fmt.Errorf("%w: holder and resource are required", domain.ErrInvalidArgument)
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	applied, err := s.store.ConditionalApply(storeCtx, key, domain.SetHolder(newHolderID), domain.MustExist)
	if err != nil {
		return nil, fmt.Errorf("transfer claim on %s: %w", key, err)
	}
	if !applied {
		return nil, fmt.Errorf("%w: %s", domain.ErrClaimNotFound, key)
	}

	claim, err := s.store.Get(storeCtx, key)
	if err != nil {
		// A concurrent release may remove the row between the update and the read.
		return nil, fmt.Errorf("read transferred claim on %s: %w", key, err)
	}

	s.logger.Info("claim holder replaced", "resource_key", key, "holder_id", newHolderID, "claim_id", claim.ID)
	return claim, nil
}

func (s *ReservationService) moveClaim(ctx context.Context, oldKey, newHolderID, newKey string) (*domain.Claim, error) {
	if oldKey == "" || newKey == "" || newHolderID == "" {
		return nil, fmt.Errorf("%w: holder and resources are required", domain.ErrInvalidArgument)
	}

	if err := s.mustHaveClaim(ctx, oldKey); err != nil {
		return nil, err
	}
	if err := s.mustBeFree(ctx, newKey); err != nil {
		return nil, err
	}
	if err := s.precheck(ctx, newKey); err != nil {
		return nil, err
	}

	if err := s.releaseClaim(ctx, oldKey); err != nil {
		return nil, err
	}

	claim, err := s.createClaim(ctx, newHolderID, newKey)
	if err != nil {
		s.logger.Warn("transfer released the old claim but could not create the new one; old resource is now unclaimed",
			"old_resource_key", oldKey, "resource_key", newKey, "holder_id", newHolderID, "error", err)
		return nil, err
	}
	return claim, nil
}

func (s *ReservationService) mustHaveClaim(ctx context.Context, key string) error {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	if _, err := s.store.Get(storeCtx, key); err != nil {
		return fmt.Errorf("look up claim on %s: %w", key, err)
	}
	return nil
}

func (s *ReservationService) mustBeFree(ctx context.Context, key string) error {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	_, err := s.store.Get(storeCtx, key)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", domain.ErrAlreadyClaimed, key)
	case errors.Is(err, domain.ErrClaimNotFound):
		return nil
	default:
		return fmt.Errorf("look up claim on %s: %w", key, err)
	}
}

// ReleaseClaim removes the claim on resourceKey.
func (s *ReservationService) ReleaseClaim(ctx context.Context, resourceKey string) error {
	ctx, span := s.tracer.Start(ctx, "service.ReleaseClaim")
	defer span.End()
	span.SetAttributes(attribute.String("resource_key", resourceKey))

	err := s.releaseClaim(ctx, resourceKey)
	s.observe(span, "release", err)
	return err
}

func (s *ReservationService) releaseClaim(ctx context.Context, resourceKey string) error {
	if resourceKey == "" {
		return fmt.Errorf("%w: resource is required", domain.ErrInvalidArgument)
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	applied, err := s.store.ConditionalApply(storeCtx, resourceKey, domain.Delete(), domain.MustExist)
	if err != nil {
		return fmt.Errorf("release claim on %s: %w", resourceKey, err)
	}
	if !applied {
		return fmt.Errorf("%w: %s", domain.ErrClaimNotFound, resourceKey)
	}

	s.logger.Info("claim released", "resource_key", resourceKey)
	return nil
}

// List returns one page of claims starting after cursor. Pages are not a snapshot:
// claims created or released between calls may or may not appear.
func (s *ReservationService) List(ctx context.Context, cursor string) (*ReservationPage, error) {
	ctx, span := s.tracer.Start(ctx, "service.List")
	defer span.End()
	span.SetAttributes(attribute.Int("page_size", s.cfg.PageSize), attribute.Bool("first_page", cursor == ""))

	page, err := s.list(ctx, cursor)
	s.observe(span, "list", err)
	return page, err
}

func (s *ReservationService) list(ctx context.Context, cursor string) (*ReservationPage, error) {
	position, err := domain.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	page, err := s.store.Scan(storeCtx, position, s.cfg.PageSize)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	return &ReservationPage{
		Claims:     page.Claims,
		NextCursor: domain.EncodeCursor(page.Next),
	}, nil
}

// GetDetails returns the claim on resourceKey joined with its catalog entry.
func (s *ReservationService) GetDetails(ctx context.Context, resourceKey string) (*domain.ClaimDetails, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetDetails")
	defer span.End()
	span.SetAttributes(attribute.String("resource_key", resourceKey))

	details, err := s.getDetails(ctx, resourceKey)
	s.observe(span, "get_details", err)
	return details, err
}

func (s *ReservationService) getDetails(ctx context.Context, resourceKey string) (*domain.ClaimDetails, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	claim, err := s.store.Get(storeCtx, resourceKey)
	if err != nil {
		return nil, fmt.Errorf("get claim on %s: %w", resourceKey, err)
	}
	book, err := s.catalog.Get(storeCtx, resourceKey)
	if err != nil {
		return nil, fmt.Errorf("get resource %s: %w", resourceKey, err)
	}
	return &domain.ClaimDetails{Claim: *claim, Resource: *book}, nil
}

// Exists reports whether the catalog knows resourceKey.
func (s *ReservationService) Exists(ctx context.Context, resourceKey string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "service.Exists")
	defer span.End()
	span.SetAttributes(attribute.String("resource_key", resourceKey))

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	ok, err := s.catalog.Exists(storeCtx, resourceKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to look up resource in catalog")
	}
	return ok, err
}

func (s *ReservationService) precheck(ctx context.Context, resourceKey string) error {
	if !s.cfg.CatalogPrecheck {
		return nil
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	ok, err := s.catalog.Exists(storeCtx, resourceKey)
	if err != nil {
		return fmt.Errorf("look up resource %s: %w", resourceKey, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrResourceNotFound, resourceKey)
	}
	return nil
}

func (s *ReservationService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *ReservationService) observe(span trace.Span, operation string, err error) {
	outcome := Outcome(err)
	metrics.ClaimOperationsTotal.WithLabelValues(operation, outcome).Inc()
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, operation+" failed: "+outcome)
	}
}

// Outcome classifies err into the label used for operation metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, domain.ErrClaimNotFound):
		return "claim_not_found"
	case errors.Is(err, domain.ErrResourceNotFound):
		return "resource_not_found"
	case errors.Is(err, domain.ErrInvalidCursor), errors.Is(err, domain.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
