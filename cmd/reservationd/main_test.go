package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-reservation/internal/config"
	"library-reservation/internal/usecase"
)

func TestOpenMemorySeedsCatalog(t *testing.T) {
	ctx := context.Background()
	bookID := uuid.NewString()
	cfg := &config.Config{StoreBackend: config.BackendMemory, CatalogPrecheck: true, MemoryBookIDs: []string{bookID}}

	b, err := openBackend(ctx, cfg, "node-1", slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	require.NoError(t, err)
	defer b.close()

	ledger := usecase.NewReservationService(b.store, b.catalog, usecase.ReservationConfig{CatalogPrecheck: true}, slog.Default())
	claim, err := ledger.CreateClaim(ctx, uuid.NewString(), bookID)
	require.NoError(t, err)
	assert.Equal(t, bookID, claim.ResourceKey)
}

func TestOpenMemoryWarnsWhenPrecheckBlocksEverything(t *testing.T) {
	var logs bytes.Buffer
	cfg := &config.Config{StoreBackend: config.BackendMemory, CatalogPrecheck: true}

	b, err := openBackend(context.Background(), cfg, "node-1", slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)
	defer b.close()

	assert.Contains(t, logs.String(), "every reservation will be rejected")

	logs.Reset()
	cfg.CatalogPrecheck = false
	_, err = openBackend(context.Background(), cfg, "node-1", slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), "every reservation will be rejected")
}
