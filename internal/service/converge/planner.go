// Package converge brings persisted relations up to date with their
// defining queries, incrementally where the warehouse state allows it.
package converge

import "github.com/whisperstream/dbt/internal/domain"

// Plan selects the materialization strategy from the observed state of
// the target, the refresh flag, and the warehouse capability profile.
// It is a pure function; the chosen executor enforces everything else.
//
//	absent          -> CreateTable
//	view            -> BackupSwap / DropCreate
//	table + refresh -> BackupSwap / DropCreate
//	table           -> MergeUpsert / NativeMerge
func Plan(existing domain.RelationKind, fullRefresh bool, profile domain.CapabilityProfile,
	hasUniqueKey, requireUniqueKey bool) (domain.Strategy, error) {

	if existing == domain.KindAbsent {
		return domain.StrategyCreateTable, nil
	}

	if existing != domain.KindTable || fullRefresh {
		if profile == domain.ProfileAtomicReplace {
			return domain.StrategyDropCreate, nil
		}
		return domain.StrategyBackupSwap, nil
	}

	if profile == domain.ProfileAtomicReplace {
		if !hasUniqueKey {
			return "", domain.ErrConfiguration(
				"native merge requires a unique key")
		}
		return domain.StrategyNativeMerge, nil
	}

	if !hasUniqueKey && requireUniqueKey {
		return "", domain.ErrConfiguration(
			"keyed merge requested but no unique key configured")
	}
	return domain.StrategyMergeUpsert, nil
}
