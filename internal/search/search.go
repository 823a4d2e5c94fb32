// Package search finds the records, and their datasets, that a bulk search
// has to read.
package search

import (
	"context"
	"fmt"
	"strings"
)

// Result is one page of search hits. Each hit is a record source document.
type Result struct {
	Total int
	Hits  []map[string]interface{}
}

// Backend runs query-string searches over the record index
type Backend interface {
	FindRecords(ctx context.Context, query string, offset, limit int) (*Result, error)
}

// BuildIDQuery builds a query matching records whose data.<field> holds any
// of values: data.Field:("a" OR "b")
func BuildIDQuery(field string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}

	return fmt.Sprintf("data.%s:(%s)", field, strings.Join(quoted, " OR "))
}

// JoinQueries combines non-empty queries with AND
func JoinQueries(queries ...string) string {
	parts := make([]string, 0, len(queries))
	for _, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			parts = append(parts, q)
		}
	}

	if len(parts) < 2 {
		return strings.Join(parts, "")
	}

	for i, q := range parts {
		parts[i] = "(" + q + ")"
	}

	return strings.Join(parts, " AND ")
}
