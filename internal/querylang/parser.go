package querylang

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/docsession/internal/ir"
	"github.com/roach88/docsession/internal/queryir"
)

// Parse parses query text into a validated query.
//
// Syntax errors and structural violations are returned as MALFORMED_QUERY
// errors carrying the byte offset of the problem.
func Parse(text string) (queryir.Query, error) {
	toks, err := lex(text)
	if err != nil {
		return queryir.Query{}, err
	}
	p := &parser{toks: toks}
	q, err := p.parseQuery()
	if err != nil {
		return queryir.Query{}, err
	}
	if err := queryir.Validate(q); err != nil {
		return queryir.Query{}, err
	}
	return q, nil
}

func malformed(pos int, format string, args ...any) *ir.Error {
	return &ir.Error{
		Code:    ir.ErrCodeMalformedQuery,
		Message: fmt.Sprintf("at offset %d: %s", pos, fmt.Sprintf(format, args...)),
		Details: map[string]string{"offset": strconv.Itoa(pos)},
	}
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptKeyword(kw string) bool {
	if p.peek().keyword(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.acceptKeyword(kw) {
		t := p.peek()
		return malformed(t.pos, "expected %q, found %s", kw, t)
	}
	return nil
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, malformed(t.pos, "expected %s, found %s", kind, t)
	}
	return t, nil
}

func (p *parser) parseQuery() (queryir.Query, error) {
	var q queryir.Query
	if err := p.expectKeyword("from"); err != nil {
		return q, err
	}
	coll, err := p.expect(tokIdent)
	if err != nil {
		return q, err
	}
	if isReserved(coll.text) {
		return q, malformed(coll.pos, "expected collection name, found %s", coll)
	}
	q.Collection = coll.text

	if p.acceptKeyword("where") {
		if q.Where, err = p.parseOr(); err != nil {
			return q, err
		}
	}
	if p.acceptKeyword("group") {
		if err := p.expectKeyword("by"); err != nil {
			return q, err
		}
		t, err := p.expect(tokIdent)
		if err != nil {
			return q, err
		}
		q.GroupBy = t.text
	}
	if p.acceptKeyword("order") {
		if err := p.expectKeyword("by"); err != nil {
			return q, err
		}
		if q.OrderBy, err = p.parseOrderKeys(); err != nil {
			return q, err
		}
	}
	if p.acceptKeyword("select") {
		if q.Select, err = p.parseProjections(); err != nil {
			return q, err
		}
	}
	if p.acceptKeyword("limit") {
		if q.Limit, err = p.parseCount(); err != nil {
			return q, err
		}
	}
	if p.acceptKeyword("offset") {
		if q.Offset, err = p.parseCount(); err != nil {
			return q, err
		}
	}

	if t := p.peek(); t.kind != tokEOF {
		return q, malformed(t.pos, "unexpected %s", t)
	}
	return q, nil
}

func (p *parser) parseOr() (queryir.Clause, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = queryir.Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (queryir.Clause, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("and") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = queryir.And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (queryir.Clause, error) {
	if p.acceptKeyword("not") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return queryir.Not{Inner: inner}, nil
	}
	if p.peek().kind == tokLParen {
		open := p.next()
		if p.peek().kind == tokRParen {
			return nil, malformed(open.pos, "empty group")
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, malformed(t.pos, "expected ')' to close group opened at offset %d, found %s", open.pos, t)
		}
		return queryir.Group{Inner: inner}, nil
	}
	return p.parsePredicate()
}

func (p *parser) parsePredicate() (queryir.Clause, error) {
	t := p.peek()
	if t.kind != tokIdent {
		return nil, malformed(t.pos, "expected condition, found %s", t)
	}

	if p.peekAt(1).kind == tokLParen {
		switch strings.ToLower(t.text) {
		case "startswith", "endswith", "search":
			return p.parseFunction()
		}
	}

	field, err := p.parseField()
	if err != nil {
		return nil, err
	}

	if p.acceptKeyword("in") {
		if _, err := p.expect(tokLParen); err != nil {
			return nil, err
		}
		var values []queryir.Operand
		for {
			op, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			values = append(values, op)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return queryir.In{Field: field, Values: values}, nil
	}

	opTok, err := p.expect(tokOp)
	if err != nil {
		return nil, err
	}
	value, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return queryir.Compare{Field: field, Op: queryir.Operator(opTok.text), Value: value}, nil
}

func (p *parser) parseFunction() (queryir.Clause, error) {
	name := p.next()
	p.next() // '('
	field, err := p.parseField()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokComma); err != nil {
		return nil, err
	}
	arg, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}

	switch strings.ToLower(name.text) {
	case "startswith":
		return queryir.StartsWith{Field: field, Prefix: arg}, nil
	case "endswith":
		return queryir.EndsWith{Field: field, Suffix: arg}, nil
	default:
		return queryir.Search{Field: field, Terms: arg}, nil
	}
}

// parseField parses a field path or id().
func (p *parser) parseField() (string, error) {
	t, err := p.expect(tokIdent)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(t.text, "id") && p.peek().kind == tokLParen {
		p.next()
		if _, err := p.expect(tokRParen); err != nil {
			return "", err
		}
		return queryir.IDField, nil
	}
	if isReserved(t.text) {
		return "", malformed(t.pos, "expected field, found keyword %s", t)
	}
	return t.text, nil
}

func (p *parser) parseOperand() (queryir.Operand, error) {
	t := p.next()
	switch t.kind {
	case tokParam:
		return queryir.Param{Name: t.text}, nil
	case tokString:
		return queryir.Literal{Value: ir.IRString(t.text)}, nil
	case tokInt:
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, malformed(t.pos, "integer out of range: %s", t.text)
		}
		return queryir.Literal{Value: ir.IRInt(n)}, nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return queryir.Literal{Value: ir.IRBool(true)}, nil
		case "false":
			return queryir.Literal{Value: ir.IRBool(false)}, nil
		case "null":
			return queryir.Literal{Value: ir.IRNull{}}, nil
		}
	}
	return nil, malformed(t.pos, "expected value, found %s", t)
}

// parseRef parses a field, key() or count() reference.
func (p *parser) parseRef() (string, queryir.Aggregate, error) {
	t := p.peek()
	if t.kind == tokIdent && p.peekAt(1).kind == tokLParen {
		var agg queryir.Aggregate
		switch strings.ToLower(t.text) {
		case "key":
			agg = queryir.AggKey
		case "count":
			agg = queryir.AggCount
		}
		if agg != queryir.AggNone {
			p.next()
			p.next()
			if _, err := p.expect(tokRParen); err != nil {
				return "", 0, err
			}
			return "", agg, nil
		}
	}
	field, err := p.parseField()
	return field, queryir.AggNone, err
}

func (p *parser) parseOrderKeys() ([]queryir.OrderKey, error) {
	var keys []queryir.OrderKey
	for {
		field, agg, err := p.parseRef()
		if err != nil {
			return nil, err
		}
		key := queryir.OrderKey{Field: field, Aggregate: agg}
		if p.acceptKeyword("desc") {
			key.Descending = true
		} else {
			p.acceptKeyword("asc")
		}
		keys = append(keys, key)
		if p.peek().kind != tokComma {
			return keys, nil
		}
		p.next()
	}
}

func (p *parser) parseProjections() ([]queryir.Projection, error) {
	var projections []queryir.Projection
	for {
		field, agg, err := p.parseRef()
		if err != nil {
			return nil, err
		}
		proj := queryir.Projection{Field: field, Aggregate: agg}
		if p.acceptKeyword("as") {
			alias, err := p.expect(tokIdent)
			if err != nil {
				return nil, err
			}
			proj.Alias = alias.text
		}
		projections = append(projections, proj)
		if p.peek().kind != tokComma {
			return projections, nil
		}
		p.next()
	}
}

func (p *parser) parseCount() (int, error) {
	t, err := p.expect(tokInt)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(t.text)
	if err != nil || n < 0 {
		return 0, malformed(t.pos, "invalid limit %s", t.text)
	}
	return n, nil
}

var reserved = map[string]bool{
	"from": true, "where": true, "and": true, "or": true, "not": true,
	"in": true, "group": true, "by": true, "order": true, "select": true,
	"limit": true, "offset": true, "as": true, "asc": true, "desc": true,
	"true": true, "false": true, "null": true,
}

func isReserved(word string) bool {
	return reserved[strings.ToLower(word)]
}
