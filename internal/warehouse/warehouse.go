// Package warehouse provides the SQL helpers shared by the warehouse
// adapters.
package warehouse

import "strings"

// QuoteIdent double-quotes an identifier, escaping embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedName joins the non-empty parts of a relation identifier,
// quoting each.
func QualifiedName(parts ...string) string {
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		quoted = append(quoted, QuoteIdent(p))
	}
	return strings.Join(quoted, ".")
}

// ColumnList renders a comma-separated list of quoted column names.
func ColumnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// KeyTuple renders a key column list as a tuple expression: a single
// column stays bare, multiple columns become a row value.
func KeyTuple(cols []string) string {
	if len(cols) == 1 {
		return QuoteIdent(cols[0])
	}
	return "(" + ColumnList(cols) + ")"
}

// MatchOn renders the join predicate matching target to source rows on
// the key columns.
func MatchOn(keyCols []string) string {
	parts := make([]string, len(keyCols))
	for i, k := range keyCols {
		qk := QuoteIdent(k)
		parts[i] = "target." + qk + " = source." + qk
	}
	return strings.Join(parts, " AND ")
}
