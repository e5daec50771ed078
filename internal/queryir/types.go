package queryir

import "github.com/roach88/docsession/internal/ir"

// IDField is the pseudo-field naming a document's identifier.
const IDField = "id()"

// Clause is a node of a where-clause tree.
//
// This is a sealed interface - only types in this package implement it.
type Clause interface {
	clauseNode() // Marker method - seals interface to this package
}

// Operand is the right-hand side of a leaf clause.
//
// This is a sealed interface - only Literal and Param implement it.
type Operand interface {
	operandNode()
}

// Literal is an inline value written in query text.
type Literal struct {
	Value ir.IRValue
}

func (Literal) operandNode() {}

// Param references a named parameter ($name in query text). The name is
// stored without the leading '$'.
type Param struct {
	Name string
}

func (Param) operandNode() {}

// Operator is a comparison operator.
type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
)

// Valid reports whether op is a known comparison operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	}
	return false
}

// Compare is field <op> value.
//
// Over an array field, Compare matches when any element satisfies it,
// except OpNotEqual which matches when no element equals the value.
type Compare struct {
	Field string
	Op    Operator
	Value Operand
}

func (Compare) clauseNode() {}

// In matches when the field equals any of Values. A single Param bound to
// an array expands to the array's elements.
type In struct {
	Field  string
	Values []Operand
}

func (In) clauseNode() {}

// StartsWith matches string fields beginning with Prefix.
type StartsWith struct {
	Field  string
	Prefix Operand
}

func (StartsWith) clauseNode() {}

// EndsWith matches string fields ending with Suffix.
type EndsWith struct {
	Field  string
	Suffix Operand
}

func (EndsWith) clauseNode() {}

// Search is a case-insensitive full-text match: the field matches when it
// contains any whitespace-separated term of Terms. A term ending in '*'
// matches as a word prefix.
type Search struct {
	Field string
	Terms Operand
}

func (Search) clauseNode() {}

// And is the conjunction of two clauses.
type And struct {
	Left  Clause
	Right Clause
}

func (And) clauseNode() {}

// Or is the disjunction of two clauses.
type Or struct {
	Left  Clause
	Right Clause
}

func (Or) clauseNode() {}

// Group is an explicitly parenthesized sub-clause.
type Group struct {
	Inner Clause
}

func (Group) clauseNode() {}

// Not negates a clause.
type Not struct {
	Inner Clause
}

func (Not) clauseNode() {}

// Aggregate selects what an ordering key or projection refers to.
type Aggregate int

const (
	// AggNone refers to a document field.
	AggNone Aggregate = iota
	// AggKey refers to the group key of a grouped query: key().
	AggKey
	// AggCount refers to the group size of a grouped query: count().
	AggCount
)

// String returns the query text form of the aggregate.
func (a Aggregate) String() string {
	switch a {
	case AggKey:
		return "key()"
	case AggCount:
		return "count()"
	default:
		return ""
	}
}

// OrderKey is one ordering key.
type OrderKey struct {
	Field      string    // Field path; empty when Aggregate is set
	Aggregate  Aggregate // key() or count() in grouped queries
	Descending bool
}

// Projection is one selected output field.
type Projection struct {
	Field     string    // Field path; empty when Aggregate is set
	Aggregate Aggregate // key() or count() in grouped queries
	Alias     string    // Output name; defaults to the last path segment
}

// OutputName returns the name the projection is emitted under.
func (p Projection) OutputName() string {
	if p.Alias != "" {
		return p.Alias
	}
	switch p.Aggregate {
	case AggKey:
		return "key"
	case AggCount:
		return "count"
	}
	if p.Field == IDField {
		return "id"
	}
	name := TrimArraySuffix(p.Field)
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return name
}

// Query is a complete query over one collection.
//
// Semantics:
//
//	from <Collection> [where <Where>] [group by <GroupBy>]
//	[order by <OrderBy>] [select <Select>] [limit <Offset>, <Limit>]
//
// Where filters documents before grouping. A grouped query produces one
// result per distinct group key; grouping by an array path ("emails[]")
// groups by each element.
type Query struct {
	Collection string
	Where      Clause // nil = every document in the collection
	GroupBy    string // "" = not grouped
	OrderBy    []OrderKey
	Select     []Projection
	Limit      int // 0 = unlimited
	Offset     int
}

// IsProjection reports whether the query produces projections rather than
// whole documents. Projections are never tracked by a session.
func (q Query) IsProjection() bool {
	return q.GroupBy != "" || len(q.Select) > 0
}

// IsArrayPath reports whether a field path names array elements ("tags[]").
func IsArrayPath(field string) bool {
	return len(field) > 2 && field[len(field)-2:] == "[]"
}

// TrimArraySuffix returns field without a trailing "[]".
func TrimArraySuffix(field string) string {
	if IsArrayPath(field) {
		return field[:len(field)-2]
	}
	return field
}
