package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"library-reservation/internal/domain"
	"library-reservation/internal/infra/postgres/internal/adapters"
)

const (
	defaultReservationTable = "reservations"
	dialectPostgres         = "postgres"
	colResourceKey          = "resource_key"
	colID                   = "id"
	colHolderID             = "holder_id"
	colClaimedAt            = "claimed_at"
)

// ErrEmptyTableName is returned when a store is configured with an empty table name.
var ErrEmptyTableName = errors.New("table name must not be empty")

// ErrNilDatabaseConnection is returned when a constructor receives a nil handle.
var ErrNilDatabaseConnection = errors.New("database connection must not be nil")

// ClaimStore keeps one row per resource key. The primary key on resource_key is what
// makes the conditional statements atomic: INSERT ... ON CONFLICT DO NOTHING inserts
// at most one row per key, and UPDATE/DELETE by key affect zero rows once it is gone.
type ClaimStore struct {
	db     adapters.DBAdapter
	table  string
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a ClaimStore or Catalog.
type Option func(*options) error

type options struct {
	table  string
	logger *slog.Logger
}

// WithTableName overrides the table the store reads and writes.
func WithTableName(table string) Option {
	return func(o *options) error {
		if table == "" {
			return ErrEmptyTableName
		}
		o.table = table
		return nil
	}
}

// WithLogger sets the logger. SQL is logged at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

func buildOptions(defaultTable string, opts []Option) (options, error) {
	o := options{table: defaultTable, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return options{}, err
		}
	}
	return o, nil
}

// NewClaimStoreFromPGXPool creates a claim store on a pgx pool.
func NewClaimStoreFromPGXPool(pool *pgxpool.Pool, opts ...Option) (*ClaimStore, error) {
	if pool == nil {
		return nil, ErrNilDatabaseConnection
	}
	return newClaimStore(adapters.NewPGXAdapter(pool), opts)
}

// NewClaimStoreFromSQLX creates a claim store on a sqlx handle.
func NewClaimStoreFromSQLX(db *sqlx.DB, opts ...Option) (*ClaimStore, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}
	return newClaimStore(adapters.NewSQLXAdapter(db), opts)
}

func newClaimStore(db adapters.DBAdapter, opts []Option) (*ClaimStore, error) {
	o, err := buildOptions(defaultReservationTable, opts)
	if err != nil {
		return nil, err
	}
	return &ClaimStore{
		db:     db,
		table:  o.table,
		logger: o.logger.With("component", "postgres-claim-store"),
		tracer: otel.Tracer("library-reservation-postgres-claim-store"),
	}, nil
}

// EnsureSchema creates the reservations table when it is missing.
func (s *ClaimStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, reservationsDDL(s.table)); err != nil {
		return domain.Unavailable("create table "+s.table, err)
	}
	return nil
}

func (s *ClaimStore) ConditionalApply(ctx context.Context, key string, m domain.Mutation, p domain.Predicate) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "repo.postgres.ConditionalApply")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.table", s.table),
		attribute.String("resource_key", key),
		attribute.String("mutation", m.Kind.String()),
		attribute.String("predicate", p.String()),
	)

	if err := m.Check(key, p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rejected mutation")
		return false, err
	}

	query, args, err := s.buildMutation(key, m)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build statement")
		return false, err
	}
	s.logger.Debug("executing conditional statement", "mutation", m.Kind.String(), "query", query)

	result, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conditional statement failed")
		return false, domain.Unavailable(fmt.Sprintf("postgres %s %s", m.Kind, key), err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rows affected unavailable")
		return false, domain.Unavailable("postgres rows affected", err)
	}
	span.SetAttributes(attribute.Bool("applied", affected == 1))
	return affected == 1, nil
}

// buildMutation renders the statement for m. Only rows matching the key can be
// affected, so RowsAffected == 1 means the predicate held and the write applied.
func (s *ClaimStore) buildMutation(key string, m domain.Mutation) (string, []any, error) {
	builder := goqu.Dialect(dialectPostgres)

	var (
		query string
		args  []any
		err   error
	)
	switch m.Kind {
	case domain.MutationInsert:
		query, args, err = builder.Insert(s.table).Prepared(true).
			Cols(colResourceKey, colID, colHolderID, colClaimedAt).
			Vals(goqu.Vals{m.Claim.ResourceKey, m.Claim.ID, m.Claim.HolderID, m.Claim.ClaimedAt}).
			OnConflict(goqu.DoNothing()).
			ToSQL()
	case domain.MutationSetHolder:
		query, args, err = builder.Update(s.table).Prepared(true).
			Set(goqu.Record{colHolderID: m.HolderID}).
			Where(goqu.C(colResourceKey).Eq(key)).
			ToSQL()
	case domain.MutationDelete:
		query, args, err = builder.Delete(s.table).Prepared(true).
			Where(goqu.C(colResourceKey).Eq(key)).
			ToSQL()
	default:
		return "", nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedMutation, m.Kind)
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to build %s statement: %w", m.Kind, err)
	}
	return query, args, nil
}

func (s *ClaimStore) Get(ctx context.Context, key string) (*domain.Claim, error) {
	ctx, span := s.tracer.Start(ctx, "repo.postgres.GetClaim")
	defer span.End()
	span.SetAttributes(attribute.String("resource_key", key))

	query, args, err := goqu.Dialect(dialectPostgres).
		From(s.table).Prepared(true).
		Select(colResourceKey, colID, colHolderID, colClaimedAt).
		Where(goqu.C(colResourceKey).Eq(key)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build select statement: %w", err)
	}

	claims, err := s.queryClaims(ctx, query, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read claim")
		return nil, err
	}
	if len(claims) == 0 {
		return nil, domain.ErrClaimNotFound
	}
	return claims[0], nil
}

// Scan is keyset pagination on the primary key; the cursor is the last key returned.
func (s *ClaimStore) Scan(ctx context.Context, cursor domain.Cursor, pageSize int) (*domain.ClaimPage, error) {
	ctx, span := s.tracer.Start(ctx, "repo.postgres.ScanClaims")
	defer span.End()
	span.SetAttributes(attribute.Int("page_size", pageSize))

	query, args, err := s.buildScan(cursor, pageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build scan")
		return nil, err
	}

	claims, err := s.queryClaims(ctx, query, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to scan claims")
		return nil, err
	}

	page := &domain.ClaimPage{Claims: claims}
	if len(claims) > pageSize {
		page.Claims = claims[:pageSize]
		page.Next = domain.Cursor(page.Claims[pageSize-1].ResourceKey)
	}
	return page, nil
}

func (s *ClaimStore) buildScan(cursor domain.Cursor, pageSize int) (string, []any, error) {
	if pageSize <= 0 {
		return "", nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	// Keys are text columns; a cursor Postgres cannot store as text was never a key.
	if cursor != nil && (!utf8.Valid(cursor) || bytes.IndexByte(cursor, 0) >= 0) {
		return "", nil, fmt.Errorf("%w: not a text key", domain.ErrInvalidCursor)
	}
	stmt := goqu.Dialect(dialectPostgres).
		From(s.table).Prepared(true).
		Select(colResourceKey, colID, colHolderID, colClaimedAt).
		Order(goqu.C(colResourceKey).Asc()).
		Limit(uint(pageSize) + 1)
	if cursor != nil {
		stmt = stmt.Where(goqu.C(colResourceKey).Gt(string(cursor)))
	}

	query, args, err := stmt.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build scan statement: %w", err)
	}
	return query, args, nil
}

func (s *ClaimStore) queryClaims(ctx context.Context, query string, args []any) ([]*domain.Claim, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.Unavailable("postgres query "+s.table, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("failed to close rows", "error", closeErr)
		}
	}()

	claims := make([]*domain.Claim, 0)
	for rows.Next() {
		var c domain.Claim
		if err := rows.Scan(&c.ResourceKey, &c.ID, &c.HolderID, &c.ClaimedAt); err != nil {
			return nil, fmt.Errorf("failed to scan claim row: %w", err)
		}
		c.ClaimedAt = c.ClaimedAt.UTC()
		claims = append(claims, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("postgres rows "+s.table, err)
	}
	return claims, nil
}
