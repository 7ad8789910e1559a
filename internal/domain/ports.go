package domain

import "context"

// Warehouse is a target warehouse type with a fixed capability profile.
type Warehouse interface {
	// Profile reports the capability profile every session of this
	// warehouse operates under.
	Profile() CapabilityProfile
	// Session pins a connection for one convergence call.
	Session(ctx context.Context) (Session, error)
}

// Session is a pinned warehouse connection. The engine issues every
// statement of one convergence call on a single session so that
// transaction scope and session-temporary relations behave.
//
// Implementations map warehouse-reported failures onto the engine's
// error taxonomy: constraint violations become MergeConflictError,
// unresolvable column references and casts become
// SchemaIncompatibleError.
type Session interface {
	// GetRelation observes the relation at ref, or nil when absent.
	GetRelation(ctx context.Context, ref RelationRef) (*Relation, error)
	// ListRelations observes every relation in a schema, for priming
	// the existence cache.
	ListRelations(ctx context.Context, database, schema string) ([]Relation, error)

	// CreateAsSelect materializes query's rows at ref. Temporary
	// relations are session-scoped and vanish when the session closes.
	CreateAsSelect(ctx context.Context, ref RelationRef, query string, temporary bool) error
	// RenameRelation renames atomically. Only supported under the
	// Transactional profile.
	RenameRelation(ctx context.Context, from, to RelationRef) error
	// DropRelationIfExists drops ref regardless of kind; absent
	// targets are not an error.
	DropRelationIfExists(ctx context.Context, ref RelationRef) error
	// ExpandColumnType widens one column in place. May auto-commit
	// depending on the warehouse.
	ExpandColumnType(ctx context.Context, ref RelationRef, column, newType string) error

	// ExecuteNativeMerge upserts the source query's rows into target
	// in one atomic statement, matching on keyCols. AtomicReplace
	// profile only.
	ExecuteNativeMerge(ctx context.Context, target RelationRef, sourceQuery string, keyCols, cols []string) error
	// DeleteByKey deletes target rows whose key appears in source.
	DeleteByKey(ctx context.Context, target, source RelationRef, keyCols []string) error
	// InsertFrom appends the named columns of source into target.
	InsertFrom(ctx context.Context, target, source RelationRef, cols []string) error

	// CountRows returns the row count of ref.
	CountRows(ctx context.Context, ref RelationRef) (int64, error)
	// Exec runs one caller-authored hook statement.
	Exec(ctx context.Context, sql string) error

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	Close() error
}
