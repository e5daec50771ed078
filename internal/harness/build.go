package harness

import (
	"fmt"

	"github.com/roach88/docsession/internal/session"
)

type dynamicQuery = session.Query[session.Dynamic]

// buildOps maps builder op names to the fluent calls they make.
var buildOps = map[string]func(q *dynamicQuery, op BuildOp) *dynamicQuery{
	"equals":        func(q *dynamicQuery, op BuildOp) *dynamicQuery { return q.WhereEquals(op.Field, op.Value) },
	"not_equals":    func(q *dynamicQuery, op BuildOp) *dynamicQuery { return q.WhereNotEquals(op.Field, op.Value) },
	"gt":            func(q *dynamicQuery, op BuildOp) *dynamicQuery { return q.WhereGreaterThan(op.Field, op.Value) },
	"gte":           func(q *dynamicQuery, op BuildOp) *dynamicQuery { return q.WhereGreaterThanOrEqual(op.Field, op.Value) },
	"lt":            func(q *dynamicQuery, op BuildOp) *dynamicQuery { return q.WhereLessThan(op.Field, op.Value) },
	"lte":           func(q *dynamicQuery, op BuildOp) *dynamicQuery { return q.WhereLessThanOrEqual(op.Field, op.Value) },
	"in":            func(q *dynamicQuery, op BuildOp) *dynamicQuery { return q.WhereIn(op.Field, op.Values...) },
	"starts_with":   func(q *dynamicQuery, op BuildOp) *dynamicQuery { return q.WhereStartsWith(op.Field, text(op.Value)) },
	"ends_with":     func(q *dynamicQuery, op BuildOp) *dynamicQuery { return q.WhereEndsWith(op.Field, text(op.Value)) },
	"search":        func(q *dynamicQuery, op BuildOp) *dynamicQuery { return q.Search(op.Field, text(op.Value)) },
	"and":           func(q *dynamicQuery, _ BuildOp) *dynamicQuery { return q.AndAlso() },
	"or":            func(q *dynamicQuery, _ BuildOp) *dynamicQuery { return q.OrElse() },
	"not":           func(q *dynamicQuery, _ BuildOp) *dynamicQuery { return q.Not() },
	"open":          func(q *dynamicQuery, _ BuildOp) *dynamicQuery { return q.OpenSubclause() },
	"close":         func(q *dynamicQuery, _ BuildOp) *dynamicQuery { return q.CloseSubclause() },
	"order_by":      func(q *dynamicQuery, op BuildOp) *dynamicQuery { return q.OrderBy(op.Field) },
	"order_by_desc": func(q *dynamicQuery, op BuildOp) *dynamicQuery { return q.OrderByDescending(op.Field) },
	"take":          func(q *dynamicQuery, op BuildOp) *dynamicQuery { return q.Take(op.N) },
	"skip":          func(q *dynamicQuery, op BuildOp) *dynamicQuery { return q.Skip(op.N) },
}

// applyBuild replays ops on q. Ops are validated when the scenario loads.
func applyBuild(q *dynamicQuery, ops []BuildOp) *dynamicQuery {
	for _, op := range ops {
		q = buildOps[op.Op](q, op)
	}
	return q
}

func text(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
