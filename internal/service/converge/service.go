package converge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/whisperstream/dbt/internal/cache"
	"github.com/whisperstream/dbt/internal/domain"
)

// Service runs convergence calls against one warehouse. It assumes at
// most one call per target identifier is in flight; the Runner provides
// that serialization for concurrent callers.
type Service struct {
	warehouse domain.Warehouse
	cache     *cache.RelationCache
	logger    *slog.Logger
}

// NewService creates a convergence Service.
func NewService(warehouse domain.Warehouse, relCache *cache.RelationCache, logger *slog.Logger) *Service {
	return &Service{
		warehouse: warehouse,
		cache:     relCache,
		logger:    logger,
	}
}

// PrimeSchema loads a schema's relations into the existence cache so
// later lookups skip the warehouse round trip.
func (s *Service) PrimeSchema(ctx context.Context, database, schema string) error {
	sess, err := s.warehouse.Session(ctx)
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}
	defer func() { _ = sess.Close() }()

	rels, err := sess.ListRelations(ctx, database, schema)
	if err != nil {
		return fmt.Errorf("list relations in %s.%s: %w", database, schema, err)
	}
	s.cache.AddSchema(database, schema)
	for _, rel := range rels {
		s.cache.Add(rel)
	}
	return nil
}

// Converge brings the target relation up to date with its defining
// query. On success the target is a table containing the query's rows,
// merged or rebuilt per the planned strategy. The result carries the
// pending-cleanup list and any non-fatal cleanup warnings.
func (s *Service) Converge(ctx context.Context, req domain.ConvergenceRequest) (*domain.ConvergenceResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	res := &domain.ConvergenceResult{
		RunID:  uuid.NewString(),
		Target: req.Target,
		State:  domain.StateStart,
	}
	logger := s.logger.With("run_id", res.RunID, "target", req.Target.String())

	sess, err := s.warehouse.Session(ctx)
	if err != nil {
		res.State = domain.StateFailed
		return res, fmt.Errorf("acquire session: %w", err)
	}
	defer func() { _ = sess.Close() }()

	existing, err := s.lookupRelation(ctx, sess, req.Target)
	if err != nil {
		res.State = domain.StateFailed
		return res, fmt.Errorf("observe target: %w", err)
	}
	kind := domain.KindAbsent
	if existing != nil {
		kind = existing.Kind
	}

	strategy, err := Plan(kind, req.FullRefresh, s.warehouse.Profile(),
		len(req.UniqueKey) > 0, req.RequireUniqueKey)
	if err != nil {
		res.State = domain.StateFailed
		return res, err
	}
	res.Strategy = strategy
	res.State = domain.StatePlanned
	logger = logger.With("strategy", string(strategy))
	logger.Debug("strategy planned", "existing_kind", string(kind), "full_refresh", req.FullRefresh)

	if err := s.runHooks(ctx, sess, req.PreHooks, false); err != nil {
		res.State = domain.StateFailed
		return res, err
	}

	var pending []domain.RelationRef
	switch s.warehouse.Profile() {
	case domain.ProfileAtomicReplace:
		pending, err = s.runAtomicReplace(ctx, sess, req, strategy, logger)
	default:
		pending, err = s.runTransactional(ctx, sess, req, strategy, logger)
	}
	if err != nil {
		res.State = domain.StateFailed
		return res, err
	}
	res.State = domain.StateCommitted
	res.PendingCleanup = pending

	// Post-commit disposal of every queued ephemeral relation. Never
	// escalates: a failed drop is reported as a warning on the result.
	for _, ref := range pending {
		if err := sess.DropRelationIfExists(ctx, ref); err != nil {
			warn := &domain.CleanupWarning{Relation: ref, Cause: err}
			res.Warnings = append(res.Warnings, warn)
			logger.Warn("cleanup failed", "relation", ref.String(), "error", err)
			continue
		}
		s.cache.Drop(ref)
	}
	res.State = domain.StateCleanedUp

	if err := s.runHooks(ctx, sess, req.PostHooks, false); err != nil {
		res.State = domain.StateFailed
		return res, err
	}

	if n, err := sess.CountRows(ctx, req.Target); err != nil {
		logger.Warn("row count failed", "error", err)
	} else {
		res.Rows = n
	}

	res.State = domain.StateDone
	logger.Info("convergence complete", "rows", res.Rows, "warnings", len(res.Warnings))
	return res, nil
}

// lookupRelation observes the target through the cache when its schema
// is primed, falling back to the warehouse oracle otherwise. A nil
// relation means absent.
func (s *Service) lookupRelation(ctx context.Context, sess domain.Session, ref domain.RelationRef) (*domain.Relation, error) {
	if s.cache.HasSchema(ref.Database, ref.Schema) {
		if rel, ok := s.cache.Get(ref); ok {
			return &rel, nil
		}
		return nil, nil
	}
	rel, err := sess.GetRelation(ctx, ref)
	if err != nil {
		return nil, err
	}
	if rel != nil {
		s.cache.Add(*rel)
	}
	return rel, nil
}

// runHooks executes the hooks matching the transaction placement, in
// list order. The first failure aborts as HookExecutionError.
func (s *Service) runHooks(ctx context.Context, sess domain.Session, hooks []domain.Hook, inTransaction bool) error {
	for i, h := range hooks {
		if h.Transaction != inTransaction {
			continue
		}
		if err := sess.Exec(ctx, h.SQL); err != nil {
			return domain.ErrHookExecution("hook %d failed: %v", i+1, err)
		}
	}
	return nil
}
