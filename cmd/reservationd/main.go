// cmd/reservationd/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	http_api "library-reservation/internal/api/http"
	"library-reservation/internal/api/health"
	"library-reservation/internal/config"
	"library-reservation/internal/domain"
	"library-reservation/internal/infra/etcd"
	"library-reservation/internal/infra/memory"
	"library-reservation/internal/infra/postgres"
	"library-reservation/internal/scheduler"
	"library-reservation/internal/tracing"
	"library-reservation/internal/usecase"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// backend bundles what a storage choice provides to the rest of the service.
type backend struct {
	store   domain.ClaimStore
	catalog domain.Catalog
	leader  domain.LeaderElectionManager
	close   func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("Invalid log_level %q: %v", cfg.LogLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	logger = logger.With("node_id", nodeID)

	var traceOut io.Writer
	if cfg.TraceExport {
		traceOut = os.Stderr
	}
	tracerShutdown, err := tracing.InitTracer("library-reservation", nodeID, traceOut)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	}()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, nodeID, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("service shut down")
}

func run(ctx context.Context, cfg *config.Config, nodeID string, logger *slog.Logger) error {
	logger.Info("starting library reservation service", "store_backend", cfg.StoreBackend)

	b, err := openBackend(ctx, cfg, nodeID, logger)
	if err != nil {
		return err
	}
	defer b.close()

	ledger := usecase.NewReservationService(b.store, b.catalog, usecase.ReservationConfig{
		PageSize:        cfg.PageSize,
		CatalogPrecheck: cfg.CatalogPrecheck,
		StoreTimeout:    cfg.StoreTimeout,
	}, logger)

	auditor := usecase.NewLedgerAuditor(ledger, b.catalog, logger)
	cronScheduler := scheduler.NewCronScheduler(logger, cfg.AuditTimeout)
	auditService := usecase.NewAuditService(b.leader, cronScheduler, auditor, cfg.AuditSchedule, nodeID, logger)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	http_api.NewReservationHandler(ledger, logger,
		usecase.WithMaxAttempts(cfg.RetryMaxAttempts),
		usecase.WithBaseDelay(cfg.RetryBaseDelay),
	).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.HttpListenAddr,
		Handler:           http_api.WithCORS(cfg.CorsAllowedOrigins, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthServer := health.NewServer(b.store, cfg.HealthProbeInterval, cfg.StoreTimeout, logger)
	grpcListener, err := net.Listen("tcp", cfg.GrpcListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.GrpcListenAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP API server", "address", cfg.HttpListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return healthServer.Serve(gctx, grpcListener)
	})

	g.Go(func() error {
		if err := auditService.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("audit service stopped: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openBackend(ctx context.Context, cfg *config.Config, nodeID string, logger *slog.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendEtcd:
		client, err := etcd.NewClient(ctx, cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create etcd client: %w", err)
		}
		logger.Info("connected to etcd", "endpoints", cfg.EtcdEndpoints)
		return &backend{
			store:   etcd.NewEtcdClaimStore(client, cfg.EtcdPrefix, logger),
			catalog: etcd.NewEtcdCatalog(client, cfg.EtcdBookDir, logger),
			leader:  etcd.NewEtcdLeaderElectionManager(client, nodeID, cfg.LeaderElectionTTL, logger),
			close:   func() { _ = client.Close() },
		}, nil

	case config.BackendPostgres:
		return openPostgres(ctx, cfg, logger)

	default:
		return openMemory(cfg, logger), nil
	}
}

// openMemory seeds the catalog from memory_book_ids. With the precheck on and
// no ids every create is rejected, so that case is logged loudly.
func openMemory(cfg *config.Config, logger *slog.Logger) *backend {
	books := make([]domain.Resource, 0, len(cfg.MemoryBookIDs))
	for _, id := range cfg.MemoryBookIDs {
		books = append(books, domain.Resource{ID: id})
	}
	catalog := memory.NewCatalog(books...)

	ids := catalog.IDs()
	logger.Warn("using the in-memory store; claims are lost on restart", "catalog_size", len(ids))
	if cfg.CatalogPrecheck && len(ids) == 0 {
		logger.Error("catalog precheck is on but the in-memory catalog is empty; every reservation will be rejected",
			"hint", "set memory_book_ids or disable catalog_precheck")
	}
	return &backend{
		store:   memory.NewClaimStore(),
		catalog: catalog,
		leader:  memory.NewLeaderElectionManager(),
		close:   func() {},
	}
}

// openPostgres runs the auditor on every node: there is no election outside etcd.
func openPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	opts := []postgres.Option{postgres.WithLogger(logger)}

	var (
		store   *postgres.ClaimStore
		catalog *postgres.Catalog
		closeFn func()
	)
	switch cfg.PostgresDriver {
	case config.DriverSQLX:
		db, err := postgres.NewSQLX(ctx, cfg.PostgresDSN, cfg.StoreTimeout)
		if err != nil {
			return nil, err
		}
		closeFn = func() { _ = db.Close() }
		if store, err = postgres.NewClaimStoreFromSQLX(db, opts...); err != nil {
			closeFn()
			return nil, err
		}
		if catalog, err = postgres.NewCatalogFromSQLX(db, opts...); err != nil {
			closeFn()
			return nil, err
		}
	default:
		pool, err := postgres.NewPGXPool(ctx, cfg.PostgresDSN, cfg.StoreTimeout)
		if err != nil {
			return nil, err
		}
		closeFn = pool.Close
		if store, err = postgres.NewClaimStoreFromPGXPool(pool, opts...); err != nil {
			closeFn()
			return nil, err
		}
		if catalog, err = postgres.NewCatalogFromPGXPool(pool, opts...); err != nil {
			closeFn()
			return nil, err
		}
	}

	if err := store.EnsureSchema(ctx); err != nil {
		closeFn()
		return nil, err
	}
	if err := catalog.EnsureSchema(ctx); err != nil {
		closeFn()
		return nil, err
	}
	logger.Info("connected to postgres", "driver", cfg.PostgresDriver)

	return &backend{
		store:   store,
		catalog: catalog,
		leader:  memory.NewLeaderElectionManager(),
		close:   closeFn,
	}, nil
}
