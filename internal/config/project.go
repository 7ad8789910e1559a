package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/whisperstream/dbt/internal/domain"
)

// Warehouse type constants for project files.
const (
	WarehouseDuckDB = "duckdb"
	WarehouseSQLite = "sqlite"
)

// Project is the declarative description of a set of convergence
// targets against one warehouse.
type Project struct {
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Targets   []TargetConfig  `yaml:"targets"`
}

// WarehouseConfig selects the warehouse and its location. The
// capability profile follows from the type.
type WarehouseConfig struct {
	Type string `yaml:"type"`
	// Path is the database location; empty means in-memory.
	Path string `yaml:"path"`
}

// TargetConfig describes one convergence target.
type TargetConfig struct {
	Database         string        `yaml:"database"`
	Schema           string        `yaml:"schema"`
	Name             string        `yaml:"name"`
	Query            string        `yaml:"query"`
	UniqueKey        []string      `yaml:"unique_key"`
	FullRefresh      bool          `yaml:"full_refresh"`
	RequireUniqueKey bool          `yaml:"require_unique_key"`
	PreHooks         []domain.Hook `yaml:"pre_hooks"`
	PostHooks        []domain.Hook `yaml:"post_hooks"`
}

// Request converts the target into a convergence request.
func (t TargetConfig) Request() domain.ConvergenceRequest {
	return domain.ConvergenceRequest{
		Target: domain.RelationRef{
			Database: t.Database,
			Schema:   t.Schema,
			Name:     t.Name,
		},
		Query:            t.Query,
		UniqueKey:        t.UniqueKey,
		FullRefresh:      t.FullRefresh,
		RequireUniqueKey: t.RequireUniqueKey,
		PreHooks:         t.PreHooks,
		PostHooks:        t.PostHooks,
	}
}

// LoadProject reads and validates a project file. Unknown fields are
// rejected so typos surface at load time.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var project Project
	if err := decoder.Decode(&project); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("project file %s is empty", path)
		}
		return nil, fmt.Errorf("parse project file %s: %w", path, err)
	}

	if err := project.Validate(); err != nil {
		return nil, err
	}
	return &project, nil
}

// Validate checks that the project is well-formed.
func (p *Project) Validate() error {
	switch p.Warehouse.Type {
	case WarehouseDuckDB, WarehouseSQLite:
	case "":
		return domain.ErrConfiguration("warehouse.type is required")
	default:
		return domain.ErrConfiguration("warehouse.type must be %s or %s, got %q",
			WarehouseDuckDB, WarehouseSQLite, p.Warehouse.Type)
	}

	if len(p.Targets) == 0 {
		return domain.ErrConfiguration("at least one target is required")
	}
	for i, t := range p.Targets {
		req := t.Request()
		if err := req.Validate(); err != nil {
			return fmt.Errorf("target %d: %w", i+1, err)
		}
	}
	return nil
}
