// Package cache holds the shared relation existence cache. The engine
// notifies it on every create, rename, and drop it performs so that
// existence lookups stay consistent without a warehouse round trip.
package cache

import (
	"sort"
	"strings"
	"sync"

	"github.com/whisperstream/dbt/internal/domain"
)

// RelationCache is an explicit handle passed to the engine, never
// ambient global state. It only answers existence queries for schemas
// it has been primed for; everything else is a miss.
type RelationCache struct {
	mu        sync.RWMutex
	schemas   map[string]struct{}
	relations map[string]domain.Relation
}

// New creates an empty RelationCache.
func New() *RelationCache {
	return &RelationCache{
		schemas:   make(map[string]struct{}),
		relations: make(map[string]domain.Relation),
	}
}

func schemaKey(database, schema string) string {
	return strings.ToLower(database + "." + schema)
}

// AddSchema marks a schema as primed: from now on a lookup miss in it
// means the relation is absent.
func (c *RelationCache) AddSchema(database, schema string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas[schemaKey(database, schema)] = struct{}{}
}

// HasSchema reports whether a schema has been primed.
func (c *RelationCache) HasSchema(database, schema string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.schemas[schemaKey(database, schema)]
	return ok
}

// Add records a relation, typically after a create the engine
// performed or during priming. The relation's schema becomes primed.
func (c *RelationCache) Add(rel domain.Relation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas[schemaKey(rel.Ref.Database, rel.Ref.Schema)] = struct{}{}
	c.relations[rel.Ref.Key()] = rel
}

// Drop forgets a relation. Unknown refs are ignored so drops stay
// idempotent.
func (c *RelationCache) Drop(ref domain.RelationRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.relations, ref.Key())
}

// Rename moves a cached relation to a new identifier, keeping its kind
// and columns. Renaming an unknown relation records nothing; renaming
// onto an occupied identifier replaces it, matching the engine's
// swap-over-backup usage.
func (c *RelationCache) Rename(from, to domain.RelationRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rel, ok := c.relations[from.Key()]
	if !ok {
		return
	}
	delete(c.relations, from.Key())
	rel.Ref = to
	c.relations[to.Key()] = rel
}

// Get returns the cached relation at ref, if any.
func (c *RelationCache) Get(ref domain.RelationRef) (domain.Relation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rel, ok := c.relations[ref.Key()]
	return rel, ok
}

// List returns the cached relations of one schema, ordered by name.
func (c *RelationCache) List(database, schema string) []domain.Relation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key := schemaKey(database, schema)
	out := make([]domain.Relation, 0)
	for _, rel := range c.relations {
		if schemaKey(rel.Ref.Database, rel.Ref.Schema) == key {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Ref.Key() < out[j].Ref.Key()
	})
	return out
}

// Clear empties the cache, including schema coverage.
func (c *RelationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas = make(map[string]struct{})
	c.relations = make(map[string]domain.Relation)
}
