// Package domain defines core types, interfaces, and errors for the convergence engine.
package domain

import "strings"

// RelationKind classifies what currently occupies a relation identifier.
type RelationKind string

// Relation kind constants.
const (
	KindAbsent RelationKind = "ABSENT"
	KindTable  RelationKind = "TABLE"
	KindView   RelationKind = "VIEW"
)

// Relation name suffixes for the ephemeral relations the engine manages.
const (
	BackupSuffix = "__backup"
	TempSuffix   = "__tmp"
)

// RelationRef is the qualified identifier of a relation in a warehouse.
// Database may be empty for warehouses without a catalog level.
type RelationRef struct {
	Database string
	Schema   string
	Name     string
}

// String returns the dotted form for logs and error messages.
func (r RelationRef) String() string {
	if r.Database == "" {
		return r.Schema + "." + r.Name
	}
	return r.Database + "." + r.Schema + "." + r.Name
}

// Key returns the lowercased identity used by the existence cache, so
// quoting and case never affect relation identity.
func (r RelationRef) Key() string {
	return strings.ToLower(r.String())
}

// WithSuffix returns a sibling ref in the same schema with the suffix
// appended to the name. Used for backup and delta relations.
func (r RelationRef) WithSuffix(suffix string) RelationRef {
	return RelationRef{Database: r.Database, Schema: r.Schema, Name: r.Name + suffix}
}

// Column is a named, typed column of a relation.
type Column struct {
	Name string
	Type string
}

// Relation is an observed relation: its identifier, kind, and ordered
// column list. Existence and kind are owned by the warehouse, not by
// this engine.
type Relation struct {
	Ref     RelationRef
	Kind    RelationKind
	Columns []Column
}

// Column returns the column with the given name (case-insensitive),
// or nil when the relation has no such column.
func (r *Relation) Column(name string) *Column {
	for i := range r.Columns {
		if strings.EqualFold(r.Columns[i].Name, name) {
			return &r.Columns[i]
		}
	}
	return nil
}

// ColumnNames returns the ordered column names.
func (r *Relation) ColumnNames() []string {
	out := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		out[i] = c.Name
	}
	return out
}
