package duckdb

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperstream/dbt/internal/domain"
)

func newSessionForTest(t *testing.T) (domain.Session, *sql.DB) {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec("CREATE SCHEMA analytics")
	require.NoError(t, err)

	wh := New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Equal(t, domain.ProfileAtomicReplace, wh.Profile())

	sess, err := wh.Session(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess, db
}

func analyticsRef(name string) domain.RelationRef {
	return domain.RelationRef{Schema: "analytics", Name: name}
}

func TestGetRelation(t *testing.T) {
	sess, db := newSessionForTest(t)
	ctx := context.Background()
	_, err := db.Exec("CREATE TABLE analytics.t (id BIGINT, label VARCHAR)")
	require.NoError(t, err)
	_, err = db.Exec("CREATE VIEW analytics.v AS SELECT id FROM analytics.t")
	require.NoError(t, err)

	t.Run("absent", func(t *testing.T) {
		rel, err := sess.GetRelation(ctx, analyticsRef("missing"))
		require.NoError(t, err)
		assert.Nil(t, rel)
	})

	t.Run("table with columns", func(t *testing.T) {
		rel, err := sess.GetRelation(ctx, analyticsRef("t"))
		require.NoError(t, err)
		require.NotNil(t, rel)
		assert.Equal(t, domain.KindTable, rel.Kind)
		require.Len(t, rel.Columns, 2)
		assert.Equal(t, "id", rel.Columns[0].Name)
		assert.Equal(t, "BIGINT", rel.Columns[0].Type)
		assert.Equal(t, "VARCHAR", rel.Columns[1].Type)
	})

	t.Run("view", func(t *testing.T) {
		rel, err := sess.GetRelation(ctx, analyticsRef("v"))
		require.NoError(t, err)
		require.NotNil(t, rel)
		assert.Equal(t, domain.KindView, rel.Kind)
	})
}

func TestCreateAsSelectReplacesExisting(t *testing.T) {
	sess, db := newSessionForTest(t)
	ctx := context.Background()

	require.NoError(t, sess.CreateAsSelect(ctx, analyticsRef("t"), "SELECT 1 AS id", false))
	require.NoError(t, sess.CreateAsSelect(ctx, analyticsRef("t"), "SELECT 2 AS id", false))

	var id int
	require.NoError(t, db.QueryRow("SELECT id FROM analytics.t").Scan(&id))
	assert.Equal(t, 2, id)
}

func TestTemporaryRelations(t *testing.T) {
	sess, _ := newSessionForTest(t)
	ctx := context.Background()

	tmp := analyticsRef("t__tmp")
	require.NoError(t, sess.CreateAsSelect(ctx, tmp, "SELECT 1 AS id", true))

	rel, err := sess.GetRelation(ctx, tmp)
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, domain.KindTable, rel.Kind)

	n, err := sess.CountRows(ctx, tmp)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, sess.DropRelationIfExists(ctx, tmp))
	rel, err = sess.GetRelation(ctx, tmp)
	require.NoError(t, err)
	assert.Nil(t, rel)
}

func TestDropRelationIfExistsIsKindAware(t *testing.T) {
	sess, db := newSessionForTest(t)
	ctx := context.Background()
	_, err := db.Exec("CREATE TABLE analytics.t (id BIGINT)")
	require.NoError(t, err)
	_, err = db.Exec("CREATE VIEW analytics.v AS SELECT id FROM analytics.t")
	require.NoError(t, err)

	require.NoError(t, sess.DropRelationIfExists(ctx, analyticsRef("v")))
	require.NoError(t, sess.DropRelationIfExists(ctx, analyticsRef("t")))
	require.NoError(t, sess.DropRelationIfExists(ctx, analyticsRef("t")))

	rels, err := sess.ListRelations(ctx, "", "analytics")
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestExpandColumnType(t *testing.T) {
	sess, db := newSessionForTest(t)
	ctx := context.Background()
	_, err := db.Exec("CREATE TABLE analytics.t (id INTEGER, v VARCHAR)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO analytics.t VALUES (1, 'x')")
	require.NoError(t, err)

	require.NoError(t, sess.ExpandColumnType(ctx, analyticsRef("t"), "id", "BIGINT"))

	rel, err := sess.GetRelation(ctx, analyticsRef("t"))
	require.NoError(t, err)
	require.NotNil(t, rel)
	col := rel.Column("id")
	require.NotNil(t, col)
	assert.Equal(t, "BIGINT", col.Type)

	var id int64
	require.NoError(t, db.QueryRow("SELECT id FROM analytics.t").Scan(&id))
	assert.Equal(t, int64(1), id)
}

func TestExecuteNativeMerge(t *testing.T) {
	sess, db := newSessionForTest(t)
	ctx := context.Background()
	_, err := db.Exec("CREATE TABLE analytics.t (id BIGINT, status VARCHAR)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO analytics.t VALUES (1, 'open'), (2, 'open')")
	require.NoError(t, err)

	err = sess.ExecuteNativeMerge(ctx, analyticsRef("t"),
		"SELECT 2 AS id, 'closed' AS status UNION ALL SELECT 3, 'open'",
		[]string{"id"}, []string{"id", "status"})
	require.NoError(t, err)

	rows, err := db.Query("SELECT id, status FROM analytics.t ORDER BY id")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	got := map[int64]string{}
	for rows.Next() {
		var id int64
		var status string
		require.NoError(t, rows.Scan(&id, &status))
		got[id] = status
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, map[int64]string{1: "open", 2: "closed", 3: "open"}, got)
}

func TestRenameAndTransactionsUnavailable(t *testing.T) {
	sess, _ := newSessionForTest(t)
	ctx := context.Background()

	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, sess.RenameRelation(ctx, analyticsRef("a"), analyticsRef("b")), &cfgErr)
	require.ErrorAs(t, sess.Begin(ctx), &cfgErr)
	require.ErrorAs(t, sess.Commit(ctx), &cfgErr)
	require.ErrorAs(t, sess.Rollback(ctx), &cfgErr)
}

func TestMapErrClassifiesSchemaFailures(t *testing.T) {
	sess, db := newSessionForTest(t)
	ctx := context.Background()
	_, err := db.Exec("CREATE TABLE analytics.t (id BIGINT, v VARCHAR)")
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE analytics.src (id BIGINT)")
	require.NoError(t, err)

	// The source has no column v; the binder failure maps onto the
	// schema-incompatible class.
	err = sess.InsertFrom(ctx, analyticsRef("t"), analyticsRef("src"),
		[]string{"id", "v"})
	var schemaErr *domain.SchemaIncompatibleError
	require.ErrorAs(t, err, &schemaErr)
}
