package cli

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/whisperstream/dbt/internal/cache"
	"github.com/whisperstream/dbt/internal/config"
	"github.com/whisperstream/dbt/internal/domain"
	"github.com/whisperstream/dbt/internal/service/converge"
	duckdbwh "github.com/whisperstream/dbt/internal/warehouse/duckdb"
	sqlitewh "github.com/whisperstream/dbt/internal/warehouse/sqlite"
)

func newRunCmd() *cobra.Command {
	var (
		projectPath string
		fullRefresh bool
		selectNames []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every target in a project file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.LoadFromEnv()
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: cfg.SlogLevel(),
			}))

			project, err := config.LoadProject(projectPath)
			if err != nil {
				return err
			}

			db, err := openDatabase(project.Warehouse)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			wh, err := newWarehouse(project.Warehouse.Type, db, logger)
			if err != nil {
				return err
			}

			svc := converge.NewService(wh, cache.New(), logger)

			reqs := selectRequests(project.Targets, selectNames, fullRefresh)
			if len(reqs) == 0 {
				return fmt.Errorf("no targets matched %v", selectNames)
			}

			// Prime the existence cache once per schema before the run.
			primed := make(map[string]bool)
			for _, req := range reqs {
				key := strings.ToLower(req.Target.Database + "." + req.Target.Schema)
				if primed[key] {
					continue
				}
				if err := svc.PrimeSchema(cmd.Context(), req.Target.Database, req.Target.Schema); err != nil {
					return err
				}
				primed[key] = true
			}

			runner := converge.NewRunner(svc, cfg.MaxParallel)
			outcomes := runner.Run(cmd.Context(), reqs)

			var failed int
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
					fmt.Fprintf(os.Stdout, "FAIL  %s: %v\n", o.Request.Target, o.Err)
					continue
				}
				fmt.Fprintf(os.Stdout, "OK    %s  strategy=%s rows=%d warnings=%d\n",
					o.Request.Target, o.Result.Strategy, o.Result.Rows, len(o.Result.Warnings))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d targets failed", failed, len(outcomes))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectPath, "project", "p", "project.yaml", "path to the project file")
	cmd.Flags().BoolVar(&fullRefresh, "full-refresh", false, "force a destructive rebuild of every selected target")
	cmd.Flags().StringSliceVar(&selectNames, "select", nil, "only run the named targets")
	return cmd
}

func openDatabase(wh config.WarehouseConfig) (*sql.DB, error) {
	switch wh.Type {
	case config.WarehouseDuckDB:
		return sql.Open("duckdb", wh.Path)
	case config.WarehouseSQLite:
		if wh.Path == "" {
			// A plain :memory: DSN gives every pooled connection its own
			// private database. Shared cache plus a single connection
			// keeps all sessions on one database.
			db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
			if err != nil {
				return nil, err
			}
			db.SetMaxOpenConns(1)
			return db, nil
		}
		return sql.Open("sqlite3", wh.Path)
	default:
		return nil, domain.ErrConfiguration("unsupported warehouse type %q", wh.Type)
	}
}

func newWarehouse(whType string, db *sql.DB, logger *slog.Logger) (domain.Warehouse, error) {
	switch whType {
	case config.WarehouseDuckDB:
		return duckdbwh.New(db, logger), nil
	case config.WarehouseSQLite:
		return sqlitewh.New(db, logger), nil
	default:
		return nil, domain.ErrConfiguration("unsupported warehouse type %q", whType)
	}
}

func selectRequests(targets []config.TargetConfig, names []string, fullRefresh bool) []domain.ConvergenceRequest {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[strings.ToLower(strings.TrimSpace(n))] = true
	}

	reqs := make([]domain.ConvergenceRequest, 0, len(targets))
	for _, t := range targets {
		if len(wanted) > 0 && !wanted[strings.ToLower(t.Name)] {
			continue
		}
		req := t.Request()
		if fullRefresh {
			req.FullRefresh = true
		}
		reqs = append(reqs, req)
	}
	return reqs
}
