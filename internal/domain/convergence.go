package domain

import "strings"

// CapabilityProfile selects which executor variant applies for a
// warehouse. It is fixed per warehouse type, not per call.
type CapabilityProfile string

// Capability profile constants.
const (
	// ProfileTransactional marks warehouses with multi-statement
	// transactions and atomic rename.
	ProfileTransactional CapabilityProfile = "TRANSACTIONAL"
	// ProfileAtomicReplace marks warehouses with single-statement
	// atomicity plus a native merge primitive.
	ProfileAtomicReplace CapabilityProfile = "ATOMIC_REPLACE"
)

// Strategy is the materialization action chosen by the planner.
type Strategy string

// Strategy constants.
const (
	StrategyCreateTable Strategy = "CREATE_TABLE"
	StrategyBackupSwap  Strategy = "BACKUP_SWAP"
	StrategyDropCreate  Strategy = "DROP_CREATE"
	StrategyMergeUpsert Strategy = "MERGE_UPSERT"
	StrategyNativeMerge Strategy = "NATIVE_MERGE"
)

// RunState tracks a convergence call through its state machine.
type RunState string

// Run state constants.
const (
	StateStart     RunState = "START"
	StatePlanned   RunState = "PLANNED"
	StateCommitted RunState = "COMMITTED"
	StateCleanedUp RunState = "CLEANED_UP"
	StateDone      RunState = "DONE"
	StateFailed    RunState = "FAILED"
)

// Hook is a caller-authored statement run before or after the main
// materialization. Transaction controls whether it runs inside the
// main transaction scope.
type Hook struct {
	SQL         string `yaml:"sql"`
	Transaction bool   `yaml:"transaction"`
}

// ConvergenceRequest asks the engine to bring one target relation up
// to date with its defining query.
type ConvergenceRequest struct {
	Target RelationRef
	// Query is the defining query; immutable for the duration of the call.
	Query string
	// UniqueKey identifies row identity for upsert matching. Optional.
	UniqueKey []string
	// FullRefresh forces a destructive rebuild of an existing table.
	FullRefresh bool
	// RequireUniqueKey makes a keyless merge a configuration error
	// instead of an append-only insert.
	RequireUniqueKey bool
	PreHooks         []Hook
	PostHooks        []Hook
}

// Validate checks that the request is well-formed.
func (r *ConvergenceRequest) Validate() error {
	if r.Target.Schema == "" {
		return ErrConfiguration("target schema is required")
	}
	if r.Target.Name == "" {
		return ErrConfiguration("target name is required")
	}
	if strings.TrimSpace(r.Query) == "" {
		return ErrConfiguration("defining query is required")
	}
	for _, k := range r.UniqueKey {
		if strings.TrimSpace(k) == "" {
			return ErrConfiguration("unique key columns must be non-empty")
		}
	}
	return nil
}

// ConvergenceResult reports one completed convergence call.
type ConvergenceResult struct {
	RunID    string
	Target   RelationRef
	Strategy Strategy
	State    RunState
	// Rows is the target row count after the call.
	Rows int64
	// PendingCleanup lists the ephemeral relations queued for
	// post-commit disposal during the call.
	PendingCleanup []RelationRef
	// Warnings holds non-fatal cleanup failures.
	Warnings []*CleanupWarning
}
