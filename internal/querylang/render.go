package querylang

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/docsession/internal/ir"
	"github.com/roach88/docsession/internal/queryir"
)

// Operator precedence used to decide where parentheses are required.
const (
	precOr = iota + 1
	precAnd
	precUnary
)

// Render validates q and renders it as query text.
//
// Rendering is deterministic: the same query always produces the same text,
// so the text can be used as a cache key.
func Render(q queryir.Query) (string, error) {
	if err := queryir.Validate(q); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("from ")
	b.WriteString(q.Collection)

	if q.Where != nil {
		b.WriteString(" where ")
		if err := renderClause(&b, q.Where, 0); err != nil {
			return "", err
		}
	}
	if q.GroupBy != "" {
		b.WriteString(" group by ")
		b.WriteString(q.GroupBy)
	}
	if len(q.OrderBy) > 0 {
		b.WriteString(" order by ")
		for i, k := range q.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(refText(k.Field, k.Aggregate))
			if k.Descending {
				b.WriteString(" desc")
			}
		}
	}
	if len(q.Select) > 0 {
		b.WriteString(" select ")
		for i, proj := range q.Select {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(refText(proj.Field, proj.Aggregate))
			if proj.Alias != "" {
				b.WriteString(" as ")
				b.WriteString(proj.Alias)
			}
		}
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " limit %d", q.Limit)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&b, " offset %d", q.Offset)
	}
	return b.String(), nil
}

// RenderClause renders a where-clause on its own.
func RenderClause(c queryir.Clause) (string, error) {
	var b strings.Builder
	if err := renderClause(&b, c, 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

func refText(field string, agg queryir.Aggregate) string {
	if agg != queryir.AggNone {
		return agg.String()
	}
	return field
}

// renderClause writes c, parenthesizing it when its precedence is lower than
// the precedence its parent requires.
func renderClause(b *strings.Builder, c queryir.Clause, parent int) error {
	switch clause := c.(type) {
	case queryir.Or:
		return renderBinary(b, clause.Left, clause.Right, " or ", precOr, parent)
	case queryir.And:
		return renderBinary(b, clause.Left, clause.Right, " and ", precAnd, parent)
	case queryir.Group:
		b.WriteByte('(')
		if err := renderClause(b, clause.Inner, 0); err != nil {
			return err
		}
		b.WriteByte(')')
		return nil
	case queryir.Not:
		b.WriteString("not ")
		return renderClause(b, clause.Inner, precUnary)
	case queryir.Compare:
		b.WriteString(clause.Field)
		b.WriteByte(' ')
		b.WriteString(string(clause.Op))
		b.WriteByte(' ')
		return renderOperand(b, clause.Value)
	case queryir.In:
		b.WriteString(clause.Field)
		b.WriteString(" in (")
		for i, op := range clause.Values {
			if i > 0 {
				b.WriteString(", ")
			}
			if err := renderOperand(b, op); err != nil {
				return err
			}
		}
		b.WriteByte(')')
		return nil
	case queryir.StartsWith:
		return renderFunction(b, "startsWith", clause.Field, clause.Prefix)
	case queryir.EndsWith:
		return renderFunction(b, "endsWith", clause.Field, clause.Suffix)
	case queryir.Search:
		return renderFunction(b, "search", clause.Field, clause.Terms)
	default:
		return ir.Errorf(ir.ErrCodeMalformedQuery, "cannot render clause %T", c)
	}
}

func renderBinary(b *strings.Builder, left, right queryir.Clause, sep string, prec, parent int) error {
	wrap := prec < parent
	if wrap {
		b.WriteByte('(')
	}
	if err := renderClause(b, left, prec); err != nil {
		return err
	}
	b.WriteString(sep)
	// The right operand binds one level tighter: the parser folds left, so
	// a same-precedence right operand needs parentheses to keep its shape.
	if err := renderClause(b, right, prec+1); err != nil {
		return err
	}
	if wrap {
		b.WriteByte(')')
	}
	return nil
}

func renderFunction(b *strings.Builder, name, field string, arg queryir.Operand) error {
	b.WriteString(name)
	b.WriteByte('(')
	b.WriteString(field)
	b.WriteString(", ")
	if err := renderOperand(b, arg); err != nil {
		return err
	}
	b.WriteByte(')')
	return nil
}

func renderOperand(b *strings.Builder, op queryir.Operand) error {
	switch o := op.(type) {
	case queryir.Param:
		b.WriteByte('$')
		b.WriteString(o.Name)
		return nil
	case queryir.Literal:
		return renderLiteral(b, o.Value)
	default:
		return ir.Errorf(ir.ErrCodeMalformedQuery, "cannot render operand %T", op)
	}
}

func renderLiteral(b *strings.Builder, v ir.IRValue) error {
	switch val := v.(type) {
	case ir.IRString:
		b.WriteString(QuoteString(string(val)))
	case ir.IRInt:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case ir.IRBool:
		b.WriteString(strconv.FormatBool(bool(val)))
	case ir.IRNull:
		b.WriteString("null")
	default:
		return ir.Errorf(ir.ErrCodeMalformedQuery, "literal of type %T cannot appear in query text; bind it as a parameter", v)
	}
	return nil
}

// QuoteString quotes s as a query text string literal.
func QuoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('\'')
	return b.String()
}
