package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/docsession/internal/ir"
	"github.com/roach88/docsession/internal/queryir"
)

// SearchFunction is the name of the SQL function implementing search().
// The store registers it on every connection.
const SearchFunction = "ds_search"

// SQLCompiler compiles query IR to parameterized SQL over the documents
// table, using SQLite's JSON1 functions to reach into document bodies.
// Every statement is ordered with a unique tie-break. Values are always
// bound as parameters; field paths are validated before they are embedded
// as JSON path literals.
type SQLCompiler struct {
	// Params holds named parameter values referenced as $name.
	Params map[string]any
}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{
		Params: make(map[string]any),
	}
}

// Compile converts a query to parameterized SQL.
// Returns (sql, params, error) tuple.
//
// The statement yields the columns id, collection, revision and data. For
// projection queries data holds the projected JSON object and id, revision
// may be empty.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, err
	}
	if q.GroupBy != "" {
		return c.compileGrouped(q)
	}
	return c.compileSelect(q)
}

// compileSelect compiles a non-grouped query.
func (c *SQLCompiler) compileSelect(q queryir.Query) (string, []any, error) {
	var b strings.Builder
	var params []any

	data := "d.data"
	if len(q.Select) > 0 {
		data = compileProjections(q.Select)
	}
	fmt.Fprintf(&b, "SELECT d.id AS id, d.collection AS collection, d.revision AS revision, %s AS data FROM documents AS d WHERE d.collection = ?", data)
	params = append(params, q.Collection)

	if q.Where != nil {
		whereSQL, whereParams, err := c.compileClause(q.Where)
		if err != nil {
			return "", nil, fmt.Errorf("compile where: %w", err)
		}
		b.WriteString(" AND ")
		b.WriteString(whereSQL)
		params = append(params, whereParams...)
	}

	// Always ordered, with a unique tie-break.
	b.WriteString(" ORDER BY ")
	b.WriteString(c.stableOrderKey(q.OrderBy))

	params = appendLimit(&b, params, q)
	return b.String(), params, nil
}

// compileGrouped compiles a grouped query. The inner statement produces one
// row per (key, count) pair; the outer statement orders and projects them.
func (c *SQLCompiler) compileGrouped(q queryir.Query) (string, []any, error) {
	var inner strings.Builder
	var params []any

	path := jsonPath(q.GroupBy)
	if queryir.IsArrayPath(q.GroupBy) {
		fmt.Fprintf(&inner, "SELECT gk.value AS gkey, COUNT(*) AS gcount FROM documents AS d, json_each(d.data, '%s') AS gk WHERE d.collection = ?", path)
	} else {
		fmt.Fprintf(&inner, "SELECT json_extract(d.data, '%s') AS gkey, COUNT(*) AS gcount FROM documents AS d WHERE d.collection = ? AND json_type(d.data, '%s') IS NOT NULL", path, path)
	}
	params = append(params, q.Collection)

	if q.Where != nil {
		whereSQL, whereParams, err := c.compileClause(q.Where)
		if err != nil {
			return "", nil, fmt.Errorf("compile where: %w", err)
		}
		inner.WriteString(" AND ")
		inner.WriteString(whereSQL)
		params = append(params, whereParams...)
	}
	inner.WriteString(" GROUP BY gkey")

	projections := q.Select
	if len(projections) == 0 {
		projections = []queryir.Projection{{Field: q.GroupBy}, {Aggregate: queryir.AggCount}}
	}
	var pairs []string
	for _, p := range projections {
		pairs = append(pairs, fmt.Sprintf("'%s', %s", p.OutputName(), groupedRef(p.Aggregate)))
	}

	var order []string
	for _, k := range q.OrderBy {
		agg := k.Aggregate
		if agg == queryir.AggNone {
			if k.Field != q.GroupBy {
				return "", nil, ir.Errorf(ir.ErrCodeMalformedQuery, "cannot order grouped query by %q", k.Field)
			}
			agg = queryir.AggKey
		}
		order = append(order, groupedRef(agg)+direction(k.Descending))
	}
	order = append(order, "g.gkey ASC")

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT '' AS id, '' AS collection, '' AS revision, json_object(%s) AS data FROM (%s) AS g ORDER BY %s",
		strings.Join(pairs, ", "), inner.String(), strings.Join(order, ", "))

	params = appendLimit(&b, params, q)
	return b.String(), params, nil
}

func groupedRef(agg queryir.Aggregate) string {
	if agg == queryir.AggCount {
		return "g.gcount"
	}
	return "g.gkey"
}

// compileProjections builds the json_object expression for a select list.
// The -> operator keeps arrays and objects as JSON rather than text.
func compileProjections(projections []queryir.Projection) string {
	pairs := make([]string, len(projections))
	for i, p := range projections {
		expr := fmt.Sprintf("d.data -> '%s'", jsonPath(p.Field))
		if p.Field == queryir.IDField {
			expr = "d.id"
		}
		pairs[i] = fmt.Sprintf("'%s', %s", p.OutputName(), expr)
	}
	return "json_object(" + strings.Join(pairs, ", ") + ")"
}

// stableOrderKey returns the ORDER BY list. It always ends with d.id,
// compared bytewise, so ties break the same way on every run.
func (c *SQLCompiler) stableOrderKey(keys []queryir.OrderKey) string {
	if len(keys) == 0 {
		// Insertion order, by the etag assigned at write time.
		return "d.etag ASC, d.id COLLATE BINARY ASC"
	}
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		expr := fmt.Sprintf("json_extract(d.data, '%s')", jsonPath(k.Field))
		if k.Field == queryir.IDField {
			expr = "d.id COLLATE BINARY"
		}
		parts = append(parts, expr+direction(k.Descending))
	}
	parts = append(parts, "d.id COLLATE BINARY ASC")
	return strings.Join(parts, ", ")
}

func direction(desc bool) string {
	if desc {
		return " DESC"
	}
	return " ASC"
}

func appendLimit(b *strings.Builder, params []any, q queryir.Query) []any {
	switch {
	case q.Limit > 0 && q.Offset > 0:
		b.WriteString(" LIMIT ? OFFSET ?")
		return append(params, q.Limit, q.Offset)
	case q.Limit > 0:
		b.WriteString(" LIMIT ?")
		return append(params, q.Limit)
	case q.Offset > 0:
		b.WriteString(" LIMIT -1 OFFSET ?")
		return append(params, q.Offset)
	}
	return params
}

// jsonPath converts a validated field path to a JSON path expression.
func jsonPath(field string) string {
	return "$." + queryir.TrimArraySuffix(field)
}

// compileClause compiles a clause to a SQL boolean expression. Values are
// bound through ? placeholders.
func (c *SQLCompiler) compileClause(clause queryir.Clause) (string, []any, error) {
	switch cl := clause.(type) {
	case queryir.And:
		return c.compileBinary(cl.Left, cl.Right, "AND")
	case queryir.Or:
		return c.compileBinary(cl.Left, cl.Right, "OR")
	case queryir.Group:
		sql, params, err := c.compileClause(cl.Inner)
		if err != nil {
			return "", nil, err
		}
		return "(" + sql + ")", params, nil
	case queryir.Not:
		sql, params, err := c.compileClause(cl.Inner)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + sql + ")", params, nil
	case queryir.Compare:
		return c.compileCompare(cl)
	case queryir.In:
		return c.compileIn(cl)
	case queryir.StartsWith:
		return c.compileLike(cl.Field, cl.Prefix, "", "%")
	case queryir.EndsWith:
		return c.compileLike(cl.Field, cl.Suffix, "%", "")
	case queryir.Search:
		return c.compileSearch(cl)
	default:
		return "", nil, fmt.Errorf("unsupported clause type: %T", clause)
	}
}

func (c *SQLCompiler) compileBinary(left, right queryir.Clause, op string) (string, []any, error) {
	leftSQL, leftParams, err := c.compileClause(left)
	if err != nil {
		return "", nil, err
	}
	rightSQL, rightParams, err := c.compileClause(right)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("(%s %s %s)", leftSQL, op, rightSQL), append(leftParams, rightParams...), nil
}

// overField wraps an element condition so it applies to a field. Over a
// document field the condition must hold for at least one element (a
// scalar field is a single element).
func overField(field, cond string) string {
	if field == queryir.IDField {
		return "(" + cond + ")"
	}
	return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(d.data, '%s') AS je WHERE %s)", jsonPath(field), cond)
}

// element returns the value and type expressions of an element condition.
func element(field string) (value, typ string) {
	if field == queryir.IDField {
		return "d.id", "'text'"
	}
	return "je.value", "je.type"
}

func (c *SQLCompiler) compileCompare(cmp queryir.Compare) (string, []any, error) {
	v, err := c.resolve(cmp.Value)
	if err != nil {
		return "", nil, err
	}
	if cmp.Op == queryir.OpNotEqual {
		cond, params, err := equalCondition(cmp.Field, v)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + overField(cmp.Field, cond) + ")", params, nil
	}
	if cmp.Op == queryir.OpEqual {
		cond, params, err := equalCondition(cmp.Field, v)
		if err != nil {
			return "", nil, err
		}
		return overField(cmp.Field, cond), params, nil
	}

	value, typ := element(cmp.Field)
	switch val := v.(type) {
	case string:
		return overField(cmp.Field, fmt.Sprintf("%s = 'text' AND %s %s ?", typ, value, cmp.Op)), []any{val}, nil
	case int64:
		return overField(cmp.Field, fmt.Sprintf("%s = 'integer' AND %s %s ?", typ, value, cmp.Op)), []any{val}, nil
	default:
		return "", nil, ir.Errorf(ir.ErrCodeMalformedQuery, "operator %s does not apply to %s", cmp.Op, describe(v))
	}
}

// equalCondition returns the element condition for equality with v.
func equalCondition(field string, v any) (string, []any, error) {
	value, typ := element(field)
	switch val := v.(type) {
	case nil:
		return fmt.Sprintf("%s = 'null'", typ), nil, nil
	case bool:
		return fmt.Sprintf("%s = ?", typ), []any{fmt.Sprint(val)}, nil
	case string:
		return fmt.Sprintf("%s = 'text' AND %s = ?", typ, value), []any{val}, nil
	case int64:
		return fmt.Sprintf("%s = 'integer' AND %s = ?", typ, value), []any{val}, nil
	default:
		return "", nil, ir.Errorf(ir.ErrCodeMalformedQuery, "cannot compare %s with %s; use in for lists", field, describe(v))
	}
}

func (c *SQLCompiler) compileIn(in queryir.In) (string, []any, error) {
	var values []any
	for _, op := range in.Values {
		v, err := c.resolve(op)
		if err != nil {
			return "", nil, err
		}
		if list, ok := v.([]any); ok {
			values = append(values, list...)
			continue
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		// An empty list matches nothing.
		return "0", nil, nil
	}

	var conds []string
	var params []any
	for _, v := range values {
		cond, p, err := equalCondition(in.Field, v)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, "("+cond+")")
		params = append(params, p...)
	}
	return overField(in.Field, strings.Join(conds, " OR ")), params, nil
}

// compileLike compiles startsWith and endsWith. LIKE matching is
// case-insensitive for ASCII letters.
func (c *SQLCompiler) compileLike(field string, op queryir.Operand, before, after string) (string, []any, error) {
	v, err := c.resolve(op)
	if err != nil {
		return "", nil, err
	}
	s, ok := v.(string)
	if !ok {
		return "", nil, ir.Errorf(ir.ErrCodeMalformedQuery, "pattern for %s must be a string, got %s", field, describe(v))
	}
	value, typ := element(field)
	cond := fmt.Sprintf(`%s = 'text' AND %s LIKE ? ESCAPE '\'`, typ, value)
	return overField(field, cond), []any{before + escapeLike(s) + after}, nil
}

func (c *SQLCompiler) compileSearch(s queryir.Search) (string, []any, error) {
	v, err := c.resolve(s.Terms)
	if err != nil {
		return "", nil, err
	}
	terms, ok := v.(string)
	if !ok {
		return "", nil, ir.Errorf(ir.ErrCodeMalformedQuery, "search terms for %s must be a string, got %s", s.Field, describe(v))
	}
	value, typ := element(s.Field)
	cond := fmt.Sprintf("%s = 'text' AND %s(%s, ?)", typ, SearchFunction, value)
	return overField(s.Field, cond), []any{terms}, nil
}

// resolve turns an operand into a plain Go value: nil, string, int64, bool
// or []any.
func (c *SQLCompiler) resolve(op queryir.Operand) (any, error) {
	switch o := op.(type) {
	case queryir.Literal:
		return ir.ToGo(o.Value), nil
	case queryir.Param:
		raw, ok := c.Params[o.Name]
		if !ok {
			return nil, ir.NewMissingParameterError(o.Name)
		}
		v, err := ir.FromGo(raw)
		if err != nil {
			return nil, &ir.Error{
				Code:    ir.ErrCodeMalformedQuery,
				Message: fmt.Sprintf("parameter $%s", o.Name),
				Err:     err,
			}
		}
		if _, isObject := v.(ir.IRObject); isObject {
			return nil, ir.Errorf(ir.ErrCodeMalformedQuery, "parameter $%s: objects cannot be compared", o.Name)
		}
		return ir.ToGo(v), nil
	default:
		return nil, fmt.Errorf("unsupported operand type: %T", op)
	}
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case int64:
		return "an integer"
	case bool:
		return "a boolean"
	case []any:
		return "a list"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// escapeLike escapes LIKE wildcards with a backslash.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
