package cli

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperstream/dbt/internal/config"
	"github.com/whisperstream/dbt/internal/domain"
	sqlitewh "github.com/whisperstream/dbt/internal/warehouse/sqlite"
)

func TestOpenDatabaseSQLiteMemoryIsSharedAcrossSessions(t *testing.T) {
	db, err := openDatabase(config.WarehouseConfig{Type: config.WarehouseSQLite})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wh := sqlitewh.New(db, logger)
	ref := domain.RelationRef{Schema: "main", Name: "events"}

	sess1, err := wh.Session(ctx)
	require.NoError(t, err)
	require.NoError(t, sess1.CreateAsSelect(ctx, ref, "SELECT 1 AS id", false))
	require.NoError(t, sess1.Close())

	// A later session must observe what an earlier one created.
	sess2, err := wh.Session(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess2.Close() })
	rel, err := sess2.GetRelation(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, domain.KindTable, rel.Kind)
}

func TestSelectRequests(t *testing.T) {
	targets := []config.TargetConfig{
		{Schema: "main", Name: "events", Query: "SELECT 1"},
		{Schema: "main", Name: "totals", Query: "SELECT 2"},
	}

	t.Run("all by default", func(t *testing.T) {
		reqs := selectRequests(targets, nil, false)
		require.Len(t, reqs, 2)
		assert.False(t, reqs[0].FullRefresh)
	})

	t.Run("filter by name", func(t *testing.T) {
		reqs := selectRequests(targets, []string{" Totals "}, false)
		require.Len(t, reqs, 1)
		assert.Equal(t, "totals", reqs[0].Target.Name)
	})

	t.Run("full refresh override", func(t *testing.T) {
		reqs := selectRequests(targets, nil, true)
		require.Len(t, reqs, 2)
		assert.True(t, reqs[0].FullRefresh)
		assert.True(t, reqs[1].FullRefresh)
	})
}
