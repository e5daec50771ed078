package session

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/roach88/docsession/internal/ir"
	"github.com/roach88/docsession/internal/queryir"
	"github.com/roach88/docsession/internal/querylang"
)

// opKind is the kind of a recorded builder call.
type opKind int

const (
	opLeaf opKind = iota
	opAnd
	opOr
	opNot
	opOpen
	opClose
)

// leafKind is the predicate of a leaf call.
type leafKind int

const (
	leafCompare leafKind = iota
	leafIn
	leafStartsWith
	leafEndsWith
	leafSearch
)

// op is one recorded builder call. Calls are replayed at compile time, so
// recording never fails.
type op struct {
	kind     opKind
	leaf     leafKind
	field    string
	operator queryir.Operator
	value    any
}

// Query builds a query over documents of type T.
//
// Every fluent call records intent and returns the same builder; problems
// such as an unmatched CloseSubclause surface as MALFORMED_QUERY from
// Compile, ToList or First. A Query is not safe for concurrent use.
type Query[T any] struct {
	coll *Collection[T]

	raw    string
	isRaw  bool
	ops    []op
	order  []ir.OrderKey
	limit  int
	offset int

	paramNames []string
	params     map[string]any
}

func newQuery[T any](c *Collection[T]) *Query[T] {
	return &Query[T]{coll: c, params: make(map[string]any)}
}

func newRawQuery[T any](c *Collection[T], text string) *Query[T] {
	q := newQuery(c)
	q.raw = text
	q.isRaw = true
	return q
}

func (q *Query[T]) leaf(kind leafKind, field string, operator queryir.Operator, value any) *Query[T] {
	q.ops = append(q.ops, op{kind: opLeaf, leaf: kind, field: field, operator: operator, value: value})
	return q
}

// WhereEquals matches documents whose field equals value. Array fields
// match when any element equals value.
func (q *Query[T]) WhereEquals(field string, value any) *Query[T] {
	return q.leaf(leafCompare, field, queryir.OpEqual, value)
}

// WhereNotEquals matches documents whose field does not equal value.
func (q *Query[T]) WhereNotEquals(field string, value any) *Query[T] {
	return q.leaf(leafCompare, field, queryir.OpNotEqual, value)
}

// WhereGreaterThan matches documents whose field is greater than value.
func (q *Query[T]) WhereGreaterThan(field string, value any) *Query[T] {
	return q.leaf(leafCompare, field, queryir.OpGreater, value)
}

// WhereGreaterThanOrEqual matches documents whose field is at least value.
func (q *Query[T]) WhereGreaterThanOrEqual(field string, value any) *Query[T] {
	return q.leaf(leafCompare, field, queryir.OpGreaterEqual, value)
}

// WhereLessThan matches documents whose field is less than value.
func (q *Query[T]) WhereLessThan(field string, value any) *Query[T] {
	return q.leaf(leafCompare, field, queryir.OpLess, value)
}

// WhereLessThanOrEqual matches documents whose field is at most value.
func (q *Query[T]) WhereLessThanOrEqual(field string, value any) *Query[T] {
	return q.leaf(leafCompare, field, queryir.OpLessEqual, value)
}

// WhereIn matches documents whose field equals any of values. A single
// slice argument is expanded, so WhereIn("emails", list) and
// WhereIn("emails", list...) are equivalent.
func (q *Query[T]) WhereIn(field string, values ...any) *Query[T] {
	if len(values) == 1 {
		if arr, err := ir.FromGo(values[0]); err == nil {
			if elems, ok := arr.(ir.IRArray); ok {
				values = ir.ToGo(elems).([]any)
			}
		}
	}
	return q.leaf(leafIn, field, "", slices.Clone(values))
}

// WhereStartsWith matches documents whose text field starts with prefix.
func (q *Query[T]) WhereStartsWith(field, prefix string) *Query[T] {
	return q.leaf(leafStartsWith, field, "", prefix)
}

// WhereEndsWith matches documents whose text field ends with suffix.
func (q *Query[T]) WhereEndsWith(field, suffix string) *Query[T] {
	return q.leaf(leafEndsWith, field, "", suffix)
}

// Search matches documents whose text field contains any of the
// whitespace-separated terms, ignoring case. A term ending in '*' matches
// as a word prefix.
func (q *Query[T]) Search(field, terms string) *Query[T] {
	return q.leaf(leafSearch, field, "", terms)
}

// AndAlso joins the next clause with AND. AND is also the default.
// Calling AndAlso or OrElse again before the next clause overrides it.
func (q *Query[T]) AndAlso() *Query[T] {
	q.ops = append(q.ops, op{kind: opAnd})
	return q
}

// OrElse joins the next clause with OR.
func (q *Query[T]) OrElse() *Query[T] {
	q.ops = append(q.ops, op{kind: opOr})
	return q
}

// Not negates the next clause or subclause.
func (q *Query[T]) Not() *Query[T] {
	q.ops = append(q.ops, op{kind: opNot})
	return q
}

// OpenSubclause starts a parenthesized group.
func (q *Query[T]) OpenSubclause() *Query[T] {
	q.ops = append(q.ops, op{kind: opOpen})
	return q
}

// CloseSubclause ends the innermost open group.
func (q *Query[T]) CloseSubclause() *Query[T] {
	q.ops = append(q.ops, op{kind: opClose})
	return q
}

// OrderBy appends an ascending sort key. The first key is the primary one.
func (q *Query[T]) OrderBy(field string) *Query[T] {
	q.order = append(q.order, ir.OrderKey{Field: field})
	return q
}

// OrderByDescending appends a descending sort key.
func (q *Query[T]) OrderByDescending(field string) *Query[T] {
	q.order = append(q.order, ir.OrderKey{Field: field, Descending: true})
	return q
}

// Take limits the number of results.
func (q *Query[T]) Take(n int) *Query[T] {
	q.limit = n
	return q
}

// Skip skips the first n results.
func (q *Query[T]) Skip(n int) *Query[T] {
	q.offset = n
	return q
}

// AddParameter binds a named parameter referenced from raw query text as
// $name. Binding a name again replaces its value. Built queries name their
// own parameters, so binding one there fails at compile time.
func (q *Query[T]) AddParameter(name string, value any) *Query[T] {
	if _, ok := q.params[name]; !ok {
		q.paramNames = append(q.paramNames, name)
	}
	q.params[name] = value
	return q
}

// Compile produces the query text, ordering and parameters. Compiling the
// same call sequence twice yields identical results.
func (q *Query[T]) Compile() (ir.CompiledQuery, error) {
	if q.isRaw {
		return q.compileRaw()
	}
	return q.compileBuilt()
}

// ToList compiles and executes the query, returning entities in result
// order. Documents are attached to the session as if loaded; projections
// are returned untracked.
func (q *Query[T]) ToList(ctx context.Context) ([]*T, error) {
	cq, err := q.Compile()
	if err != nil {
		return nil, err
	}
	return q.coll.execute(ctx, cq)
}

// First returns the first result, or false when there is none.
func (q *Query[T]) First(ctx context.Context) (*T, bool, error) {
	cq, err := q.Compile()
	if err != nil {
		return nil, false, err
	}
	if !q.isRaw && (q.limit == 0 || q.limit > 1) {
		limited := *q
		limited.limit = 1
		if cq, err = limited.Compile(); err != nil {
			return nil, false, err
		}
	}
	results, err := q.coll.execute(ctx, cq)
	if err != nil || len(results) == 0 {
		return nil, false, err
	}
	return results[0], true, nil
}

// compileRaw validates raw text and checks that every bound parameter is
// referenced. Unbound references are left for execution.
func (q *Query[T]) compileRaw() (ir.CompiledQuery, error) {
	if q.limit != 0 || q.offset != 0 {
		return ir.CompiledQuery{}, ir.Errorf(ir.ErrCodeMalformedQuery,
			"take and skip are not supported on raw queries; use limit and offset in the text")
	}
	parsed, err := querylang.Parse(q.raw)
	if err != nil {
		return ir.CompiledQuery{}, err
	}
	referenced := queryir.ParamNames(parsed)
	for _, name := range q.paramNames {
		if !slices.Contains(referenced, name) {
			return ir.CompiledQuery{}, ir.Errorf(ir.ErrCodeMalformedQuery,
				"parameter $%s is not referenced by the query", name)
		}
	}
	if err := validateOrdering(q.order); err != nil {
		return ir.CompiledQuery{}, err
	}
	return ir.CompiledQuery{
		Text:       q.raw,
		Ordering:   slices.Clone(q.order),
		Parameters: q.cloneParams(),
	}, nil
}

// compileBuilt replays the recorded calls into a clause tree and renders it.
func (q *Query[T]) compileBuilt() (ir.CompiledQuery, error) {
	b := clauseBuilder{params: make(map[string]any)}
	where, err := b.build(q.ops)
	if err != nil {
		return ir.CompiledQuery{}, err
	}
	if len(q.paramNames) > 0 {
		return ir.CompiledQuery{}, ir.Errorf(ir.ErrCodeMalformedQuery,
			"parameter $%s is not referenced by the query", q.paramNames[0])
	}
	if err := validateOrdering(q.order); err != nil {
		return ir.CompiledQuery{}, err
	}

	text, err := querylang.Render(queryir.Query{
		Collection: q.coll.shape.Collection(),
		Where:      where,
		Limit:      q.limit,
		Offset:     q.offset,
	})
	if err != nil {
		return ir.CompiledQuery{}, err
	}
	return ir.CompiledQuery{
		Text:       text,
		Ordering:   slices.Clone(q.order),
		Parameters: b.params,
	}, nil
}

func (q *Query[T]) cloneParams() map[string]any {
	if len(q.params) == 0 {
		return nil
	}
	out := make(map[string]any, len(q.params))
	for k, v := range q.params {
		out[k] = v
	}
	return out
}

func validateOrdering(keys []ir.OrderKey) error {
	for _, k := range keys {
		switch k.Field {
		case queryir.IDField, queryir.AggKey.String(), queryir.AggCount.String():
			continue
		}
		if !queryir.ValidField(k.Field) {
			return ir.Errorf(ir.ErrCodeMalformedQuery, "invalid order by field %q", k.Field)
		}
	}
	return nil
}

// frame is one nesting level of the clause being built.
type frame struct {
	expr    queryir.Clause
	conn    opKind // opAnd, opOr, or opLeaf for none pending
	negate  bool   // negate the group this frame becomes
	pending bool   // a Not is waiting for the next clause
}

// clauseBuilder folds recorded calls left to right into a clause tree.
// Values become parameters named p0, p1, ... in call order.
type clauseBuilder struct {
	params map[string]any
	next   int
}

func (b *clauseBuilder) build(ops []op) (queryir.Clause, error) {
	stack := []*frame{{conn: opLeaf}}
	top := func() *frame { return stack[len(stack)-1] }

	for _, o := range ops {
		f := top()
		switch o.kind {
		case opAnd, opOr:
			if f.expr == nil {
				return nil, malformedBuilder("%s before the first clause", connName(o.kind))
			}
			f.conn = o.kind
		case opNot:
			f.pending = !f.pending
		case opOpen:
			stack = append(stack, &frame{conn: opLeaf, negate: f.pending})
			f.pending = false
		case opClose:
			if len(stack) == 1 {
				return nil, malformedBuilder("CloseSubclause without matching OpenSubclause")
			}
			if f.expr == nil {
				return nil, malformedBuilder("empty subclause")
			}
			if f.conn != opLeaf {
				return nil, malformedBuilder("%s at the end of a subclause", connName(f.conn))
			}
			if f.pending {
				return nil, malformedBuilder("Not at the end of a subclause")
			}
			stack = stack[:len(stack)-1]
			var group queryir.Clause = queryir.Group{Inner: f.expr}
			if f.negate {
				group = queryir.Not{Inner: group}
			}
			top().combine(group)
		case opLeaf:
			clause, err := b.leaf(o)
			if err != nil {
				return nil, err
			}
			if f.pending {
				clause = queryir.Not{Inner: clause}
				f.pending = false
			}
			f.combine(clause)
		}
	}

	if len(stack) > 1 {
		return nil, malformedBuilder("%d unclosed subclause(s)", len(stack)-1)
	}
	f := top()
	if f.conn != opLeaf {
		return nil, malformedBuilder("%s without a following clause", connName(f.conn))
	}
	if f.pending {
		return nil, malformedBuilder("Not without a following clause")
	}
	return f.expr, nil
}

// combine joins c to the frame's expression with the pending connective,
// AND by default.
func (f *frame) combine(c queryir.Clause) {
	switch {
	case f.expr == nil:
		f.expr = c
	case f.conn == opOr:
		f.expr = queryir.Or{Left: f.expr, Right: c}
	default:
		f.expr = queryir.And{Left: f.expr, Right: c}
	}
	f.conn = opLeaf
}

func (b *clauseBuilder) leaf(o op) (queryir.Clause, error) {
	if o.leaf == leafIn {
		values := o.value.([]any)
		if _, err := ir.FromGo(values); err != nil {
			return nil, malformedBuilder("in(%s): %v", o.field, err)
		}
		return queryir.In{Field: o.field, Values: []queryir.Operand{b.bind(values)}}, nil
	}

	if _, err := ir.FromGo(o.value); err != nil {
		return nil, malformedBuilder("value for %s: %v", o.field, err)
	}
	p := b.bind(o.value)
	switch o.leaf {
	case leafStartsWith:
		return queryir.StartsWith{Field: o.field, Prefix: p}, nil
	case leafEndsWith:
		return queryir.EndsWith{Field: o.field, Suffix: p}, nil
	case leafSearch:
		return queryir.Search{Field: o.field, Terms: p}, nil
	default:
		return queryir.Compare{Field: o.field, Op: o.operator, Value: p}, nil
	}
}

// bind stores value under the next generated name.
func (b *clauseBuilder) bind(value any) queryir.Param {
	name := "p" + strconv.Itoa(b.next)
	b.next++
	b.params[name] = value
	return queryir.Param{Name: name}
}

func connName(k opKind) string {
	if k == opOr {
		return "OrElse"
	}
	return "AndAlso"
}

func malformedBuilder(format string, args ...any) *ir.Error {
	return &ir.Error{Code: ir.ErrCodeMalformedQuery, Message: fmt.Sprintf(format, args...)}
}
