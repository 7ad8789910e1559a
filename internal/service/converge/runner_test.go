package converge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisperstream/dbt/internal/domain"
)

func TestRunnerConvergesAllTargets(t *testing.T) {
	svc, db := newSQLiteServiceForTest(t)

	reqs := []domain.ConvergenceRequest{
		{
			Target: domain.RelationRef{Schema: "main", Name: "orders"},
			Query:  "SELECT 1 AS id",
		},
		{
			Target: domain.RelationRef{Schema: "main", Name: "customers"},
			Query:  "SELECT 1 AS id UNION ALL SELECT 2",
		},
	}
	outcomes := NewRunner(svc, 4).Run(context.Background(), reqs)

	require.Len(t, outcomes, 2)
	for i, out := range outcomes {
		assert.Equal(t, reqs[i].Target, out.Request.Target)
		require.NoError(t, out.Err)
		assert.Equal(t, domain.StateDone, out.Result.State)
	}
	assert.Equal(t, int64(1), outcomes[0].Result.Rows)
	assert.Equal(t, int64(2), outcomes[1].Result.Rows)

	var count int64
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM main.customers").Scan(&count))
	assert.Equal(t, int64(2), count)
}

func TestRunnerSerializesDuplicateTargets(t *testing.T) {
	svc, db := newSQLiteServiceForTest(t)

	// Same target twice: one run creates, the other appends. The
	// per-target lock keeps them from interleaving.
	req := domain.ConvergenceRequest{
		Target: domain.RelationRef{Schema: "main", Name: "Orders"},
		Query:  "SELECT 1 AS id",
	}
	outcomes := NewRunner(svc, 8).Run(context.Background(),
		[]domain.ConvergenceRequest{req, req})

	require.Len(t, outcomes, 2)
	for _, out := range outcomes {
		require.NoError(t, out.Err)
	}
	strategies := map[domain.Strategy]int{}
	for _, out := range outcomes {
		strategies[out.Result.Strategy]++
	}
	assert.Equal(t, 1, strategies[domain.StrategyCreateTable])
	assert.Equal(t, 1, strategies[domain.StrategyMergeUpsert])

	var count int64
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM main."Orders"`).Scan(&count))
	assert.Equal(t, int64(2), count)
}

func TestRunnerReportsFailuresPerOutcome(t *testing.T) {
	svc, _ := newSQLiteServiceForTest(t)

	outcomes := NewRunner(svc, 1).Run(context.Background(), []domain.ConvergenceRequest{
		{Target: domain.RelationRef{Schema: "main", Name: "bad"}},
		{
			Target: domain.RelationRef{Schema: "main", Name: "good"},
			Query:  "SELECT 1 AS id",
		},
	})

	require.Len(t, outcomes, 2)
	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, outcomes[0].Err, &cfgErr)
	require.NoError(t, outcomes[1].Err)
	assert.Equal(t, domain.StateDone, outcomes[1].Result.State)
}
