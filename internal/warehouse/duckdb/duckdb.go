// Package duckdb adapts a DuckDB database to the engine's warehouse
// ports under the AtomicReplace capability profile: single-statement
// atomicity plus a native merge primitive, no multi-statement
// transactional DDL and no atomic rename.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/whisperstream/dbt/internal/domain"
	"github.com/whisperstream/dbt/internal/warehouse"
)

// Warehouse wraps an open DuckDB database.
type Warehouse struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a DuckDB-backed Warehouse.
func New(db *sql.DB, logger *slog.Logger) *Warehouse {
	return &Warehouse{db: db, logger: logger}
}

// Profile reports the AtomicReplace capability profile.
func (w *Warehouse) Profile() domain.CapabilityProfile {
	return domain.ProfileAtomicReplace
}

// Session pins one connection so session-temporary relations survive
// across statements.
func (w *Warehouse) Session(ctx context.Context) (domain.Session, error) {
	conn, err := w.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &session{
		conn:   conn,
		logger: w.logger,
		temps:  make(map[string]struct{}),
	}, nil
}

type session struct {
	conn   *sql.Conn
	logger *slog.Logger
	temps  map[string]struct{}
}

func (s *session) isTemp(ref domain.RelationRef) bool {
	_, ok := s.temps[strings.ToLower(ref.Name)]
	return ok
}

func (s *session) fqn(ref domain.RelationRef) string {
	if s.isTemp(ref) {
		return warehouse.QuoteIdent(ref.Name)
	}
	return warehouse.QualifiedName(ref.Database, ref.Schema, ref.Name)
}

// run executes one statement, logging it at debug level.
func (s *session) run(ctx context.Context, stmt string) error {
	s.logger.Debug("execute statement", "sql", stmt)
	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return mapErr(err)
	}
	return nil
}

func (s *session) GetRelation(ctx context.Context, ref domain.RelationRef) (*domain.Relation, error) {
	query := `SELECT table_type FROM information_schema.tables
		WHERE lower(table_schema) = lower(?) AND lower(table_name) = lower(?)`
	args := []any{ref.Schema, ref.Name}
	switch {
	case s.isTemp(ref):
		query = `SELECT table_type FROM information_schema.tables
			WHERE table_catalog = 'temp' AND lower(table_name) = lower(?)`
		args = []any{ref.Name}
	case ref.Database != "":
		query += " AND lower(table_catalog) = lower(?)"
		args = append(args, ref.Database)
	}

	var tableType string
	err := s.conn.QueryRowContext(ctx, query, args...).Scan(&tableType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", ref, err)
	}

	rel := &domain.Relation{Ref: ref, Kind: domain.KindTable}
	if tableType == "VIEW" {
		rel.Kind = domain.KindView
	}
	cols, err := s.tableColumns(ctx, ref)
	if err != nil {
		return nil, err
	}
	rel.Columns = cols
	return rel, nil
}

func (s *session) tableColumns(ctx context.Context, ref domain.RelationRef) ([]domain.Column, error) {
	query := `SELECT column_name, data_type FROM information_schema.columns
		WHERE lower(table_schema) = lower(?) AND lower(table_name) = lower(?)
		ORDER BY ordinal_position`
	args := []any{ref.Schema, ref.Name}
	if s.isTemp(ref) {
		query = `SELECT column_name, data_type FROM information_schema.columns
			WHERE table_catalog = 'temp' AND lower(table_name) = lower(?)
			ORDER BY ordinal_position`
		args = []any{ref.Name}
	}
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", ref, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []domain.Column
	for rows.Next() {
		var c domain.Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("scan columns of %s: %w", ref, err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (s *session) ListRelations(ctx context.Context, database, schema string) ([]domain.Relation, error) {
	query := `SELECT table_name, table_type FROM information_schema.tables
		WHERE lower(table_schema) = lower(?)`
	args := []any{schema}
	if database != "" {
		query += " AND lower(table_catalog) = lower(?)"
		args = append(args, database)
	}
	query += " ORDER BY table_name"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list relations in %s.%s: %w", database, schema, err)
	}
	defer func() { _ = rows.Close() }()

	var rels []domain.Relation
	for rows.Next() {
		var name, tableType string
		if err := rows.Scan(&name, &tableType); err != nil {
			return nil, err
		}
		kind := domain.KindTable
		if tableType == "VIEW" {
			kind = domain.KindView
		}
		rels = append(rels, domain.Relation{
			Ref:  domain.RelationRef{Database: database, Schema: schema, Name: name},
			Kind: kind,
		})
	}
	return rels, rows.Err()
}

func (s *session) CreateAsSelect(ctx context.Context, ref domain.RelationRef, query string, temporary bool) error {
	var ddl string
	if temporary {
		ddl = fmt.Sprintf("CREATE TEMP TABLE %s AS (%s)",
			warehouse.QuoteIdent(ref.Name), query)
	} else {
		ddl = fmt.Sprintf("CREATE OR REPLACE TABLE %s AS (%s)", s.fqn(ref), query)
	}
	if err := s.run(ctx, ddl); err != nil {
		return err
	}
	if temporary {
		s.temps[strings.ToLower(ref.Name)] = struct{}{}
	}
	return nil
}

func (s *session) RenameRelation(context.Context, domain.RelationRef, domain.RelationRef) error {
	return domain.ErrConfiguration("atomic rename is not available under the atomic-replace profile")
}

func (s *session) DropRelationIfExists(ctx context.Context, ref domain.RelationRef) error {
	rel, err := s.GetRelation(ctx, ref)
	if err != nil {
		return err
	}
	if rel == nil {
		return nil
	}
	object := "TABLE"
	if rel.Kind == domain.KindView {
		object = "VIEW"
	}
	ddl := fmt.Sprintf("DROP %s IF EXISTS %s", object, s.fqn(ref))
	if err := s.run(ctx, ddl); err != nil {
		return err
	}
	delete(s.temps, strings.ToLower(ref.Name))
	return nil
}

func (s *session) ExpandColumnType(ctx context.Context, ref domain.RelationRef, column, newType string) error {
	ddl := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DATA TYPE %s",
		s.fqn(ref), warehouse.QuoteIdent(column), newType)
	return s.run(ctx, ddl)
}

// ExecuteNativeMerge issues one MERGE statement: matched rows are
// replaced wholesale, unmatched rows inserted. Statement-level
// atomicity comes from the warehouse.
func (s *session) ExecuteNativeMerge(ctx context.Context, target domain.RelationRef,
	sourceQuery string, keyCols, _ []string) error {

	stmt := fmt.Sprintf(
		"MERGE INTO %s AS target USING (%s) AS source ON %s WHEN MATCHED THEN UPDATE SET * WHEN NOT MATCHED THEN INSERT *",
		s.fqn(target), sourceQuery, warehouse.MatchOn(keyCols))
	return s.run(ctx, stmt)
}

func (s *session) DeleteByKey(ctx context.Context, target, source domain.RelationRef, keyCols []string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s IN (SELECT %s FROM %s)",
		s.fqn(target),
		warehouse.KeyTuple(keyCols),
		warehouse.ColumnList(keyCols),
		s.fqn(source))
	return s.run(ctx, stmt)
}

func (s *session) InsertFrom(ctx context.Context, target, source domain.RelationRef, cols []string) error {
	list := warehouse.ColumnList(cols)
	stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		s.fqn(target), list, list, s.fqn(source))
	return s.run(ctx, stmt)
}

func (s *session) CountRows(ctx context.Context, ref domain.RelationRef) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.fqn(ref))
	if err := s.conn.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", ref, err)
	}
	return count, nil
}

func (s *session) Exec(ctx context.Context, sqlText string) error {
	return s.run(ctx, sqlText)
}

func (s *session) Begin(context.Context) error {
	return domain.ErrConfiguration("multi-statement transactions are not available under the atomic-replace profile")
}

func (s *session) Commit(context.Context) error {
	return domain.ErrConfiguration("multi-statement transactions are not available under the atomic-replace profile")
}

func (s *session) Rollback(context.Context) error {
	return domain.ErrConfiguration("multi-statement transactions are not available under the atomic-replace profile")
}

func (s *session) Close() error {
	return s.conn.Close()
}

// mapErr lifts DuckDB failures onto the engine's error taxonomy.
// DuckDB reports error classes in the message text.
func mapErr(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Constraint Error"):
		return domain.ErrMergeConflict("%v", err)
	case strings.Contains(msg, "Binder Error"),
		strings.Contains(msg, "Conversion Error"),
		strings.Contains(msg, "Mismatch Type Error"):
		return domain.ErrSchemaIncompatible("%v", err)
	}
	return err
}
