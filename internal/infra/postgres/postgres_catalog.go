package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"library-reservation/internal/domain"
	"library-reservation/internal/infra/postgres/internal/adapters"
)

const defaultBooksTable = "books"

// Catalog reads books from a postgres table. The ledger only reads it; Put exists for seeding.
type Catalog struct {
	db     adapters.DBAdapter
	table  string
	logger *slog.Logger
}

// NewCatalogFromPGXPool creates a catalog on a pgx pool.
func NewCatalogFromPGXPool(pool *pgxpool.Pool, opts ...Option) (*Catalog, error) {
	if pool == nil {
		return nil, ErrNilDatabaseConnection
	}
	return newCatalog(adapters.NewPGXAdapter(pool), opts)
}

// NewCatalogFromSQLX creates a catalog on a sqlx handle.
func NewCatalogFromSQLX(db *sqlx.DB, opts ...Option) (*Catalog, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}
	return newCatalog(adapters.NewSQLXAdapter(db), opts)
}

func newCatalog(db adapters.DBAdapter, opts []Option) (*Catalog, error) {
	o, err := buildOptions(defaultBooksTable, opts)
	if err != nil {
		return nil, err
	}
	return &Catalog{
		db:     db,
		table:  o.table,
		logger: o.logger.With("component", "postgres-catalog"),
	}, nil
}

// EnsureSchema creates the books table when it is missing.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, booksDDL(c.table)); err != nil {
		return domain.Unavailable("create table "+c.table, err)
	}
	return nil
}

func (c *Catalog) Exists(ctx context.Context, resourceKey string) (bool, error) {
	query, args, err := goqu.Dialect(dialectPostgres).
		From(c.table).Prepared(true).
		Select(goqu.L("1")).
		Where(goqu.C(colID).Eq(resourceKey)).
		Limit(1).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("failed to build exists statement: %w", err)
	}

	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return false, domain.Unavailable("postgres catalog exists "+resourceKey, err)
	}
	defer c.closeRows(rows)

	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, domain.Unavailable("postgres catalog exists "+resourceKey, err)
	}
	return found, nil
}

func (c *Catalog) Get(ctx context.Context, resourceKey string) (*domain.Resource, error) {
	query, args, err := goqu.Dialect(dialectPostgres).
		From(c.table).Prepared(true).
		Select("id", "title", "author", "image_url", "category").
		Where(goqu.C(colID).Eq(resourceKey)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build book select: %w", err)
	}

	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.Unavailable("postgres catalog get "+resourceKey, err)
	}
	defer c.closeRows(rows)

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, domain.Unavailable("postgres catalog get "+resourceKey, err)
		}
		return nil, domain.ErrResourceNotFound
	}
	var r domain.Resource
	if err := rows.Scan(&r.ID, &r.Title, &r.Author, &r.ImageURL, &r.Category); err != nil {
		return nil, fmt.Errorf("failed to scan book row: %w", err)
	}
	return &r, nil
}

// Put inserts or replaces a book.
func (c *Catalog) Put(ctx context.Context, r domain.Resource) error {
	query, args, err := goqu.Dialect(dialectPostgres).
		Insert(c.table).Prepared(true).
		Rows(goqu.Record{
			"id":        r.ID,
			"title":     r.Title,
			"author":    r.Author,
			"image_url": r.ImageURL,
			"category":  r.Category,
		}).
		OnConflict(goqu.DoUpdate("id", goqu.Record{
			"title":     goqu.L("EXCLUDED.title"),
			"author":    goqu.L("EXCLUDED.author"),
			"image_url": goqu.L("EXCLUDED.image_url"),
			"category":  goqu.L("EXCLUDED.category"),
		})).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build book upsert: %w", err)
	}
	if _, err := c.db.Exec(ctx, query, args...); err != nil {
		return domain.Unavailable("postgres catalog put "+r.ID, err)
	}
	return nil
}

func (c *Catalog) closeRows(rows adapters.DBRows) {
	if err := rows.Close(); err != nil {
		c.logger.Warn("failed to close rows", "error", err)
	}
}
