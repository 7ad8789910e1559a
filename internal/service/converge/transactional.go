package converge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/whisperstream/dbt/internal/domain"
)

// runTransactional executes the chosen strategy under a warehouse with
// multi-statement transactions and atomic rename. Every cache
// notification happens at mutation time, speculatively for mutations
// inside a still-open transaction; a later rollback leaves the cache
// optimistic until the next priming pass.
func (s *Service) runTransactional(ctx context.Context, sess domain.Session,
	req domain.ConvergenceRequest, strategy domain.Strategy, logger *slog.Logger) ([]domain.RelationRef, error) {

	switch strategy {
	case domain.StrategyCreateTable:
		return nil, s.createTable(ctx, sess, req)
	case domain.StrategyBackupSwap:
		return s.backupSwap(ctx, sess, req)
	case domain.StrategyMergeUpsert:
		return s.mergeUpsert(ctx, sess, req, logger)
	default:
		return nil, domain.ErrConfiguration(
			"strategy %s is not valid under the transactional profile", strategy)
	}
}

// createTable materializes the defining query at a previously absent
// target identifier.
func (s *Service) createTable(ctx context.Context, sess domain.Session, req domain.ConvergenceRequest) error {
	return s.inTransaction(ctx, sess, req, func() error {
		if err := sess.CreateAsSelect(ctx, req.Target, req.Query, false); err != nil {
			return fmt.Errorf("create %s: %w", req.Target, err)
		}
		s.cache.Add(domain.Relation{Ref: req.Target, Kind: domain.KindTable})
		return nil
	})
}

// backupSwap destructively rebuilds the target while keeping a restore
// point. Rename and create share one transaction: if the create fails,
// the rollback undoes the rename and the original relation reappears
// under its original name. The backup is dropped only after commit.
func (s *Service) backupSwap(ctx context.Context, sess domain.Session, req domain.ConvergenceRequest) ([]domain.RelationRef, error) {
	backup := req.Target.WithSuffix(domain.BackupSuffix)

	// A backup left behind by a crashed run would block the rename.
	if err := sess.DropRelationIfExists(ctx, backup); err != nil {
		return nil, fmt.Errorf("drop stale backup %s: %w", backup, err)
	}
	s.cache.Drop(backup)

	err := s.inTransaction(ctx, sess, req, func() error {
		if err := sess.RenameRelation(ctx, req.Target, backup); err != nil {
			return fmt.Errorf("rename %s to backup: %w", req.Target, err)
		}
		s.cache.Rename(req.Target, backup)

		if err := sess.CreateAsSelect(ctx, req.Target, req.Query, false); err != nil {
			return fmt.Errorf("create %s: %w", req.Target, err)
		}
		s.cache.Add(domain.Relation{Ref: req.Target, Kind: domain.KindTable})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []domain.RelationRef{backup}, nil
}

// mergeUpsert converges an existing table without rebuilding it. The
// delta is computed into a session-temporary relation in its own short
// transaction so its column list can be inspected, target columns are
// widened where the incoming types demand it, and the upsert itself
// runs inside the main transaction. Widening is not undone by a later
// rollback; that exposure is documented per capability profile.
func (s *Service) mergeUpsert(ctx context.Context, sess domain.Session,
	req domain.ConvergenceRequest, logger *slog.Logger) ([]domain.RelationRef, error) {

	tmp := req.Target.WithSuffix(domain.TempSuffix)

	if err := sess.DropRelationIfExists(ctx, tmp); err != nil {
		return nil, fmt.Errorf("drop stale delta %s: %w", tmp, err)
	}
	s.cache.Drop(tmp)

	if err := s.shortTransaction(ctx, sess, func() error {
		return sess.CreateAsSelect(ctx, tmp, req.Query, true)
	}); err != nil {
		return nil, fmt.Errorf("compute delta %s: %w", tmp, err)
	}

	delta, err := sess.GetRelation(ctx, tmp)
	if err != nil {
		return nil, fmt.Errorf("inspect delta %s: %w", tmp, err)
	}
	if delta == nil {
		return nil, fmt.Errorf("delta relation %s vanished after create", tmp)
	}
	target, err := sess.GetRelation(ctx, req.Target)
	if err != nil {
		return nil, fmt.Errorf("inspect target %s: %w", req.Target, err)
	}
	if target == nil {
		return nil, fmt.Errorf("target relation %s vanished before merge", req.Target)
	}

	if err := s.expandColumnTypes(ctx, sess, target, delta, logger); err != nil {
		return nil, err
	}

	// Project onto the columns both relations share, in target order.
	common := make([]string, 0, len(target.Columns))
	for _, col := range target.Columns {
		if delta.Column(col.Name) != nil {
			common = append(common, col.Name)
		}
	}
	if len(common) == 0 {
		return nil, domain.ErrSchemaIncompatible(
			"delta for %s shares no columns with the target", req.Target)
	}

	err = s.inTransaction(ctx, sess, req, func() error {
		if len(req.UniqueKey) > 0 {
			// Incoming rows win: purge every matched key, then insert
			// the delta. Duplicate keys inside the delta itself are
			// inserted faithfully.
			if err := sess.DeleteByKey(ctx, req.Target, tmp, req.UniqueKey); err != nil {
				return fmt.Errorf("delete matched keys in %s: %w", req.Target, err)
			}
		}
		if err := sess.InsertFrom(ctx, req.Target, tmp, common); err != nil {
			return fmt.Errorf("insert delta into %s: %w", req.Target, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []domain.RelationRef{tmp}, nil
}

// expandColumnTypes widens target columns whose incoming delta type is
// strictly more permissive. Widening is monotonic: matching or
// narrower incoming types are skipped, never applied in reverse.
func (s *Service) expandColumnTypes(ctx context.Context, sess domain.Session,
	target, delta *domain.Relation, logger *slog.Logger) error {

	for _, in := range delta.Columns {
		cur := target.Column(in.Name)
		if cur == nil {
			continue
		}
		newType, widen, err := domain.WidenedType(cur.Type, in.Type)
		if err != nil {
			return domain.ErrSchemaIncompatible(
				"column %s of %s: %v", in.Name, target.Ref, err)
		}
		if !widen {
			continue
		}
		logger.Info("widening column",
			"column", in.Name, "from", cur.Type, "to", newType)
		if err := sess.ExpandColumnType(ctx, target.Ref, in.Name, newType); err != nil {
			return fmt.Errorf("widen column %s of %s: %w", in.Name, target.Ref, err)
		}
	}
	return nil
}

// inTransaction wraps fn in the main transaction, running the
// transaction-scoped hooks around it and rolling back on any failure.
func (s *Service) inTransaction(ctx context.Context, sess domain.Session,
	req domain.ConvergenceRequest, fn func() error) error {

	return s.shortTransaction(ctx, sess, func() error {
		if err := s.runHooks(ctx, sess, req.PreHooks, true); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
		return s.runHooks(ctx, sess, req.PostHooks, true)
	})
}

// shortTransaction runs fn between Begin and Commit, rolling back when
// fn fails and surfacing transaction control failures as
// TransactionAbortError.
func (s *Service) shortTransaction(ctx context.Context, sess domain.Session, fn func() error) error {
	if err := sess.Begin(ctx); err != nil {
		return domain.ErrTransactionAbort("begin: %v", err)
	}
	if err := fn(); err != nil {
		if rbErr := sess.Rollback(ctx); rbErr != nil {
			return domain.ErrTransactionAbort("rollback after %v: %v", err, rbErr)
		}
		return err
	}
	if err := sess.Commit(ctx); err != nil {
		return domain.ErrTransactionAbort("commit: %v", err)
	}
	return nil
}
