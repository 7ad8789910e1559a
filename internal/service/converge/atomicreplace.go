package converge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/whisperstream/dbt/internal/domain"
)

// runAtomicReplace executes the chosen strategy under a warehouse that
// offers only single-statement atomicity plus a native merge. There is
// no multi-statement transaction to scope hooks to, so hooks marked
// transactional run adjacent to the main statement instead.
func (s *Service) runAtomicReplace(ctx context.Context, sess domain.Session,
	req domain.ConvergenceRequest, strategy domain.Strategy, logger *slog.Logger) ([]domain.RelationRef, error) {

	if err := s.runHooks(ctx, sess, req.PreHooks, true); err != nil {
		return nil, err
	}

	switch strategy {
	case domain.StrategyCreateTable, domain.StrategyDropCreate:
		if err := s.dropCreate(ctx, sess, req); err != nil {
			return nil, err
		}
	case domain.StrategyNativeMerge:
		if err := s.nativeMerge(ctx, sess, req); err != nil {
			return nil, err
		}
	default:
		return nil, domain.ErrConfiguration(
			"strategy %s is not valid under the atomic-replace profile", strategy)
	}

	if err := s.runHooks(ctx, sess, req.PostHooks, true); err != nil {
		return nil, err
	}
	return nil, nil
}

// dropCreate disposes of whatever occupies the target identifier and
// rebuilds it with one atomic create-as-select. No backup is kept:
// each statement is independently atomic, but the pair is not, so a
// create failure after the drop can leave the target absent.
func (s *Service) dropCreate(ctx context.Context, sess domain.Session, req domain.ConvergenceRequest) error {
	if err := sess.DropRelationIfExists(ctx, req.Target); err != nil {
		return fmt.Errorf("drop %s: %w", req.Target, err)
	}
	s.cache.Drop(req.Target)

	if err := sess.CreateAsSelect(ctx, req.Target, req.Query, false); err != nil {
		return fmt.Errorf("create %s: %w", req.Target, err)
	}
	s.cache.Add(domain.Relation{Ref: req.Target, Kind: domain.KindTable})
	return nil
}

// nativeMerge upserts the defining query's rows into the existing
// table with one native merge statement, relying on the warehouse's
// statement-level atomicity. Schema mismatches fail fast from the
// warehouse itself; no delta relation or widening step exists here.
func (s *Service) nativeMerge(ctx context.Context, sess domain.Session, req domain.ConvergenceRequest) error {
	target, err := sess.GetRelation(ctx, req.Target)
	if err != nil {
		return fmt.Errorf("inspect target %s: %w", req.Target, err)
	}
	if target == nil {
		return fmt.Errorf("target relation %s vanished before merge", req.Target)
	}

	if err := sess.ExecuteNativeMerge(ctx, req.Target, req.Query,
		req.UniqueKey, target.ColumnNames()); err != nil {
		return fmt.Errorf("merge into %s: %w", req.Target, err)
	}
	return nil
}
