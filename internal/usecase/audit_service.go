package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"library-reservation/internal/domain"
	"library-reservation/internal/metrics"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const AuditTaskName = "ledger-audit"

// AuditReport summarises one sweep over all claims.
type AuditReport struct {
	LiveClaims int
	Orphans    []string // resource keys claimed but missing from the catalog
	Pages      int
	FinishedAt time.Time
}

// LedgerAuditor walks every claim through the ledger's List and checks each one
// against the catalog. It only reads; orphan claims are reported, never released.
type LedgerAuditor struct {
	ledger  *ReservationService
	catalog domain.Catalog
	logger  *slog.Logger
	tracer  trace.Tracer

	mu   sync.Mutex
	last *AuditReport
}

func NewLedgerAuditor(ledger *ReservationService, catalog domain.Catalog, logger *slog.Logger) *LedgerAuditor {
	return &LedgerAuditor{
		ledger:  ledger,
		catalog: catalog,
		logger:  logger.With("component", "ledger-auditor"),
		tracer:  otel.Tracer("library-reservation-auditor"),
	}
}

func (a *LedgerAuditor) Name() string { return AuditTaskName }

func (a *LedgerAuditor) Run(ctx context.Context) error {
	_, err := a.Sweep(ctx)
	return err
}

// Sweep runs one audit. Catalog lookup failures are collected and the sweep goes on;
// a failed page read ends it. Gauges are only updated by a complete sweep.
func (a *LedgerAuditor) Sweep(ctx context.Context) (*AuditReport, error) {
	ctx, span := a.tracer.Start(ctx, "auditor.Sweep")
	defer span.End()

	report := &AuditReport{}
	var result *multierror.Error

	cursor := ""
	for {
		page, err := a.ledger.List(ctx, cursor)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("list page %d: %w", report.Pages+1, err))
			break
		}
		report.Pages++
		report.LiveClaims += len(page.Claims)

		for _, claim := range page.Claims {
			ok, err := a.catalog.Exists(ctx, claim.ResourceKey)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("check resource %s: %w", claim.ResourceKey, err))
				continue
			}
			if !ok {
				report.Orphans = append(report.Orphans, claim.ResourceKey)
				a.logger.Warn("claim references a resource missing from the catalog",
					"resource_key", claim.ResourceKey, "holder_id", claim.HolderID, "claim_id", claim.ID)
			}
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	report.FinishedAt = time.Now().UTC()

	span.SetAttributes(
		attribute.Int("audit.live_claims", report.LiveClaims),
		attribute.Int("audit.orphans", len(report.Orphans)),
		attribute.Int("audit.pages", report.Pages),
	)

	if err := result.ErrorOrNil(); err != nil {
		metrics.AuditRunsTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit sweep incomplete")
		a.logger.Error("audit sweep incomplete", "error", err, "pages", report.Pages)
		return report, err
	}

	metrics.AuditRunsTotal.WithLabelValues("success").Inc()
	metrics.LiveClaims.Set(float64(report.LiveClaims))
	metrics.OrphanClaims.Set(float64(len(report.Orphans)))
	a.logger.Info("audit sweep finished", "live_claims", report.LiveClaims, "orphans", len(report.Orphans), "pages", report.Pages)

	a.mu.Lock()
	a.last = report
	a.mu.Unlock()
	return report, nil
}

// LastReport returns the most recent complete sweep, or nil before the first one.
func (a *LedgerAuditor) LastReport() *AuditReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// AuditService schedules a task for as long as this node holds the leadership.
type AuditService struct {
	leaderManager domain.LeaderElectionManager
	scheduler     domain.Scheduler
	task          domain.Task
	schedule      string
	nodeID        string
	retryDelay    time.Duration
	logger        *slog.Logger
}

func NewAuditService(leaderManager domain.LeaderElectionManager, scheduler domain.Scheduler, task domain.Task, schedule, nodeID string, logger *slog.Logger) *AuditService {
	return &AuditService{
		leaderManager: leaderManager,
		scheduler:     scheduler,
		task:          task,
		schedule:      schedule,
		nodeID:        nodeID,
		retryDelay:    5 * time.Second,
		logger:        logger.With("component", "audit-service", "node_id", nodeID),
	}
}

// Start campaigns, runs the scheduler while leading and campaigns again after
// leadership is lost. It returns when ctx is done.
func (s *AuditService) Start(ctx context.Context) error {
	s.logger.Info("audit service starting")
	defer metrics.IsLeader.WithLabelValues(s.nodeID).Set(0)

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("audit service shutting down")
			return err
		}

		s.logger.Info("attempting to campaign for leadership")
		lost, err := s.leaderManager.Campaign(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				continue
			}
			s.logger.Error("leadership campaign failed", "error", err, "retry_in", s.retryDelay)
			select {
			case <-time.After(s.retryDelay):
			case <-ctx.Done():
			}
			continue
		}

		s.logger.Info("became the leader, starting the audit schedule")
		metrics.IsLeader.WithLabelValues(s.nodeID).Set(1)
		err = s.lead(ctx, lost)
		metrics.IsLeader.WithLabelValues(s.nodeID).Set(0)
		if err != nil {
			s.logger.Error("leader term ended with an error", "error", err)
		}
	}
}

// lead runs one leadership term.
func (s *AuditService) lead(ctx context.Context, lost <-chan struct{}) error {
	if err := s.scheduler.AddTask(s.schedule, s.task); err != nil {
		_ = s.leaderManager.Resign(context.WithoutCancel(ctx))
		return fmt.Errorf("schedule %s: %w", s.task.Name(), err)
	}
	defer func() {
		_ = s.scheduler.RemoveTask(s.task.Name())
	}()

	termCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.scheduler.Start(termCtx) }()

	select {
	case <-lost:
		s.logger.Warn("leadership lost, stopping the audit schedule")
	case <-ctx.Done():
		s.logger.Info("stopping the audit schedule")
	}
	cancel()

	// Resign also clears local leader state after a lost session.
	resignCtx, resignCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	if err := s.leaderManager.Resign(resignCtx); err != nil {
		s.logger.Warn("failed to resign leadership", "error", err)
	}
	resignCancel()

	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
