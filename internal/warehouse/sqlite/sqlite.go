// Package sqlite adapts a SQLite database to the engine's warehouse
// ports under the Transactional capability profile: multi-statement
// transactions with atomic rename.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/whisperstream/dbt/internal/domain"
	"github.com/whisperstream/dbt/internal/warehouse"
)

// Warehouse wraps an open SQLite database.
type Warehouse struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a SQLite-backed Warehouse.
func New(db *sql.DB, logger *slog.Logger) *Warehouse {
	return &Warehouse{db: db, logger: logger}
}

// Profile reports the Transactional capability profile.
func (w *Warehouse) Profile() domain.CapabilityProfile {
	return domain.ProfileTransactional
}

// Session pins one connection, so transaction scope and session-
// temporary relations hold across statements.
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
	// temps tracks the lowercased names of relations created with the
	// temporary flag this session; they resolve into the temp schema.
	temps map[string]struct{}
}

func (s *session) isTemp(ref domain.RelationRef) bool {
	_, ok := s.temps[strings.ToLower(ref.Name)]
	return ok
}

func (s *session) fqn(ref domain.RelationRef) string {
	if s.isTemp(ref) {
		return `"temp".` + warehouse.QuoteIdent(ref.Name)
	}
	return warehouse.QualifiedName(s.schemaOf(ref), ref.Name)
}

// schemaOf maps the ref onto a SQLite schema name. SQLite has no
// catalog level; an empty schema means the main database.
func (s *session) schemaOf(ref domain.RelationRef) string {
	if ref.Schema == "" {
		return "main"
	}
	return ref.Schema
}

func (s *session) masterTable(ref domain.RelationRef) string {
	if s.isTemp(ref) {
		return "sqlite_temp_master"
	}
	return warehouse.QuoteIdent(s.schemaOf(ref)) + ".sqlite_master"
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
	query := fmt.Sprintf(
		"SELECT type FROM %s WHERE lower(name) = lower(?) AND type IN ('table', 'view')",
		s.masterTable(ref))
	var typ string
	err := s.conn.QueryRowContext(ctx, query, ref.Name).Scan(&typ)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", ref, err)
	}

	rel := &domain.Relation{Ref: ref, Kind: domain.KindTable}
	if typ == "view" {
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
	schema := "temp"
	if !s.isTemp(ref) {
		schema = s.schemaOf(ref)
	}
	pragma := fmt.Sprintf("PRAGMA %s.table_info(%s)",
		warehouse.QuoteIdent(schema), warehouse.QuoteIdent(ref.Name))
	rows, err := s.conn.QueryContext(ctx, pragma)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", ref, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []domain.Column
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan columns of %s: %w", ref, err)
		}
		cols = append(cols, domain.Column{Name: name, Type: typ})
	}
	return cols, rows.Err()
}

func (s *session) ListRelations(ctx context.Context, _ string, schema string) ([]domain.Relation, error) {
	if schema == "" {
		schema = "main"
	}
	query := fmt.Sprintf(
		"SELECT name, type FROM %s.sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%%' ORDER BY name",
		warehouse.QuoteIdent(schema))
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list relations in %s: %w", schema, err)
	}
	defer func() { _ = rows.Close() }()

	var rels []domain.Relation
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, err
		}
		kind := domain.KindTable
		if typ == "view" {
			kind = domain.KindView
		}
		rels = append(rels, domain.Relation{
			Ref:  domain.RelationRef{Schema: schema, Name: name},
			Kind: kind,
		})
	}
	return rels, rows.Err()
}

func (s *session) CreateAsSelect(ctx context.Context, ref domain.RelationRef, query string, temporary bool) error {
	var ddl string
	if temporary {
		ddl = fmt.Sprintf("CREATE TEMPORARY TABLE %s AS %s",
			warehouse.QuoteIdent(ref.Name), query)
	} else {
		ddl = fmt.Sprintf("CREATE TABLE %s AS %s", s.fqn(ref), query)
	}
	if err := s.run(ctx, ddl); err != nil {
		return err
	}
	if temporary {
		s.temps[strings.ToLower(ref.Name)] = struct{}{}
	}
	return nil
}

func (s *session) RenameRelation(ctx context.Context, from, to domain.RelationRef) error {
	rel, err := s.GetRelation(ctx, from)
	if err != nil {
		return err
	}
	if rel == nil {
		return fmt.Errorf("cannot rename absent relation %s", from)
	}

	if rel.Kind == domain.KindView {
		return s.renameView(ctx, from, to)
	}

	ddl := fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		s.fqn(from), warehouse.QuoteIdent(to.Name))
	return s.run(ctx, ddl)
}

// renameView recreates the view under the new name and drops the old
// one. SQLite has no ALTER for views; inside a transaction the pair
// still rolls back as a unit.
func (s *session) renameView(ctx context.Context, from, to domain.RelationRef) error {
	query := fmt.Sprintf("SELECT sql FROM %s WHERE lower(name) = lower(?)", s.masterTable(from))
	var ddl string
	if err := s.conn.QueryRowContext(ctx, query, from.Name).Scan(&ddl); err != nil {
		return fmt.Errorf("read definition of view %s: %w", from, err)
	}
	body, err := viewBody(ddl)
	if err != nil {
		return fmt.Errorf("view %s: %w", from, err)
	}

	create := fmt.Sprintf("CREATE VIEW %s AS %s", s.fqn(to), body)
	if err := s.run(ctx, create); err != nil {
		return err
	}
	return s.run(ctx, fmt.Sprintf("DROP VIEW %s", s.fqn(from)))
}

// viewBody extracts the defining select from a CREATE VIEW statement.
func viewBody(ddl string) (string, error) {
	idx := strings.Index(strings.ToUpper(ddl), " AS ")
	if idx < 0 {
		return "", fmt.Errorf("unparseable view definition %q", ddl)
	}
	return ddl[idx+len(" AS "):], nil
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

// ExpandColumnType widens a column through a scratch column: add the
// wider column, copy the data over, drop the original, rename. SQLite
// has no ALTER COLUMN TYPE. The steps run under a savepoint so a
// partial failure cannot leave the scratch column behind.
func (s *session) ExpandColumnType(ctx context.Context, ref domain.RelationRef, column, newType string) error {
	fqn := s.fqn(ref)
	col := warehouse.QuoteIdent(column)
	scratch := warehouse.QuoteIdent(column + "__widen")

	if err := s.run(ctx, "SAVEPOINT widen_column"); err != nil {
		return err
	}
	steps := []string{
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", fqn, scratch, newType),
		fmt.Sprintf("UPDATE %s SET %s = %s", fqn, scratch, col),
		fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", fqn, col),
		fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", fqn, scratch, col),
	}
	for _, step := range steps {
		if err := s.run(ctx, step); err != nil {
			_, _ = s.conn.ExecContext(ctx, "ROLLBACK TO widen_column")
			_, _ = s.conn.ExecContext(ctx, "RELEASE widen_column")
			return err
		}
	}
	return s.run(ctx, "RELEASE widen_column")
}

func (s *session) ExecuteNativeMerge(context.Context, domain.RelationRef, string, []string, []string) error {
	return domain.ErrConfiguration("native merge is not available under the transactional profile")
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

func (s *session) Begin(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, "BEGIN")
	return err
}

func (s *session) Commit(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, "COMMIT")
	return err
}

func (s *session) Rollback(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, "ROLLBACK")
	return err
}

func (s *session) Close() error {
	return s.conn.Close()
}

// mapErr lifts SQLite failures onto the engine's error taxonomy.
func mapErr(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return domain.ErrMergeConflict("%v", err)
	}
	return err
}
