package queryir

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/docsession/internal/ir"
)

var (
	collectionPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)
	fieldPattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*(\[\])?$`)
)

// ValidField reports whether field is a well-formed field path or the id()
// pseudo-field.
func ValidField(field string) bool {
	return field == IDField || fieldPattern.MatchString(field)
}

// Validate checks the structural rules a query must satisfy before it can
// be rendered or compiled:
//  1. The collection name is an identifier
//  2. Every field path is well formed
//  3. Connectives, groups and negations have non-nil operands
//  4. In has at least one value
//  5. key() and count() appear only in grouped queries
//  6. Limit and Offset are non-negative
//
// All violations are collected into a single MALFORMED_QUERY error.
// Validate is a pure function with no side effects.
func Validate(q Query) error {
	v := &validator{}
	v.validateQuery(q)
	if len(v.problems) == 0 {
		return nil
	}
	return &ir.Error{
		Code:    ir.ErrCodeMalformedQuery,
		Message: strings.Join(v.problems, "; "),
	}
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	if !collectionPattern.MatchString(q.Collection) {
		v.addProblem("invalid collection name %q", q.Collection)
	}
	if q.Where != nil {
		v.validateClause(q.Where)
	}
	if q.GroupBy != "" && (q.GroupBy == IDField || !ValidField(q.GroupBy)) {
		v.addProblem("invalid group by field %q", q.GroupBy)
	}
	grouped := q.GroupBy != ""

	for _, k := range q.OrderBy {
		v.validateRef("order by", k.Field, k.Aggregate, grouped)
	}
	seen := make(map[string]bool, len(q.Select))
	for _, p := range q.Select {
		v.validateRef("select", p.Field, p.Aggregate, grouped)
		if grouped && p.Aggregate == AggNone && p.Field != q.GroupBy {
			v.addProblem("select of %q in a grouped query must be key() or count()", p.Field)
		}
		if p.Alias != "" && !fieldPattern.MatchString(p.Alias) {
			v.addProblem("invalid alias %q", p.Alias)
		}
		name := p.OutputName()
		if seen[name] {
			v.addProblem("duplicate projection %q", name)
		}
		seen[name] = true
	}

	if q.Limit < 0 {
		v.addProblem("negative limit %d", q.Limit)
	}
	if q.Offset < 0 {
		v.addProblem("negative offset %d", q.Offset)
	}
}

func (v *validator) validateRef(where, field string, agg Aggregate, grouped bool) {
	if agg != AggNone {
		if !grouped {
			v.addProblem("%s %s requires group by", where, agg)
		}
		return
	}
	if !ValidField(field) {
		v.addProblem("%s: invalid field %q", where, field)
	}
}

func (v *validator) validateClause(c Clause) {
	switch clause := c.(type) {
	case nil:
		v.addProblem("missing clause operand")
	case Compare:
		v.validateField(clause.Field)
		if !clause.Op.Valid() {
			v.addProblem("unknown operator %q", clause.Op)
		}
		v.validateOperand(clause.Field, clause.Value)
	case In:
		v.validateField(clause.Field)
		if len(clause.Values) == 0 {
			v.addProblem("in(%s) requires at least one value", clause.Field)
		}
		for _, op := range clause.Values {
			v.validateOperand(clause.Field, op)
		}
	case StartsWith:
		v.validateField(clause.Field)
		v.validateOperand(clause.Field, clause.Prefix)
	case EndsWith:
		v.validateField(clause.Field)
		v.validateOperand(clause.Field, clause.Suffix)
	case Search:
		v.validateField(clause.Field)
		v.validateOperand(clause.Field, clause.Terms)
	case And:
		v.validateClause(clause.Left)
		v.validateClause(clause.Right)
	case Or:
		v.validateClause(clause.Left)
		v.validateClause(clause.Right)
	case Group:
		v.validateClause(clause.Inner)
	case Not:
		v.validateClause(clause.Inner)
	default:
		v.addProblem("unknown clause type %T", c)
	}
}

func (v *validator) validateField(field string) {
	if !ValidField(field) {
		v.addProblem("invalid field %q", field)
	}
}

func (v *validator) validateOperand(field string, op Operand) {
	switch o := op.(type) {
	case Param:
		if !paramPattern.MatchString(o.Name) {
			v.addProblem("invalid parameter name %q", o.Name)
		}
	case Literal:
		if o.Value == nil {
			v.addProblem("missing value for %s", field)
		}
	default:
		v.addProblem("missing value for %s", field)
	}
}
