// internal/infra/etcd/etcd_catalog.go
package etcd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"library-reservation/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// BookDir is the etcd prefix holding catalog entries, keyed by book id.
	BookDir = "/library/books/"
)

// Catalog reads books stored as JSON under BookDir.
type Catalog struct {
	client *clientv3.Client
	dir    string
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdCatalog creates a catalog backed by etcd. An empty dir selects BookDir.
func NewEtcdCatalog(client *clientv3.Client, dir string, logger *slog.Logger) *Catalog {
	if dir == "" {
		dir = BookDir
	}
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	return &Catalog{
		client: client,
		dir:    dir,
		logger: logger.With("component", "etcd-catalog"),
		tracer: otel.Tracer("library-reservation-etcd-catalog"),
	}
}

// key appends the id verbatim, so ids with dot segments stay inside dir.
func (c *Catalog) key(resourceKey string) string {
	return c.dir + resourceKey
}

// Exists only asks etcd for the key count, not the value.
func (c *Catalog) Exists(ctx context.Context, resourceKey string) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "repo.etcd.BookExists")
	defer span.End()

	key := c.key(resourceKey)
	span.SetAttributes(attribute.String("etcd.key", key))

	resp, err := c.client.Get(ctx, key, clientv3.WithCountOnly())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to look up book in etcd")
		return false, domain.Unavailable("etcd catalog exists "+key, err)
	}
	return resp.Count > 0, nil
}

func (c *Catalog) Get(ctx context.Context, resourceKey string) (*domain.Resource, error) {
	ctx, span := c.tracer.Start(ctx, "repo.etcd.GetBook")
	defer span.End()

	key := c.key(resourceKey)
	span.SetAttributes(attribute.String("etcd.key", key))

	resp, err := c.client.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get book from etcd")
		return nil, domain.Unavailable("etcd catalog get "+key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, domain.ErrResourceNotFound
	}

	var book domain.Resource
	if err := json.Unmarshal(resp.Kvs[0].Value, &book); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal book")
		return nil, fmt.Errorf("failed to unmarshal book %s from JSON: %w", resourceKey, err)
	}
	if book.ID == "" {
		book.ID = resourceKey
	}
	return &book, nil
}

// Put stores a book. The ledger never calls it; it is how a catalog gets seeded.
func (c *Catalog) Put(ctx context.Context, book domain.Resource) error {
	ctx, span := c.tracer.Start(ctx, "repo.etcd.PutBook")
	defer span.End()

	bookJSON, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("failed to marshal book %s to JSON: %w", book.ID, err)
	}

	key := c.key(book.ID)
	span.SetAttributes(attribute.String("etcd.key", key))

	if _, err := c.client.Put(ctx, key, string(bookJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put book to etcd")
		return domain.Unavailable("etcd catalog put "+key, err)
	}
	return nil
}
