package querylang

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokInt
	tokParam
	tokOp
	tokLParen
	tokRParen
	tokComma
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of query"
	case tokIdent:
		return "identifier"
	case tokString:
		return "string"
	case tokInt:
		return "integer"
	case tokParam:
		return "parameter"
	case tokOp:
		return "operator"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokComma:
		return "','"
	default:
		return "unknown"
	}
}

type token struct {
	kind tokenKind
	text string // identifier, decoded string, digits, parameter name or operator
	pos  int    // byte offset in the query text
}

// keyword reports whether the token is the given case-insensitive keyword.
func (t token) keyword(kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of query"
	case tokString:
		return fmt.Sprintf("'%s'", t.text)
	case tokParam:
		return "$" + t.text
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

// lex splits query text into tokens.
//
// Identifiers absorb dots and a trailing "[]" so a field path such as
// "address.city" or "emails[]" is a single token.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		case c == '=':
			op := "="
			if i+1 < len(src) && src[i+1] == '=' {
				op = "=="
			}
			toks = append(toks, token{kind: tokOp, text: "=", pos: i})
			i += len(op)
		case c == '!' || c == '<' || c == '>':
			op := string(c)
			if i+1 < len(src) && src[i+1] == '=' {
				op += "="
			} else if c == '<' && i+1 < len(src) && src[i+1] == '>' {
				op = "<>"
			}
			if op == "!" {
				return nil, malformed(i, "unexpected '!'")
			}
			text := op
			if op == "<>" {
				text = "!="
			}
			toks = append(toks, token{kind: tokOp, text: text, pos: i})
			i += len(op)
		case c == '$':
			start := i
			i++
			for i < len(src) && isIdentByte(src[i]) {
				i++
			}
			if i == start+1 {
				return nil, malformed(start, "parameter name expected after '$'")
			}
			toks = append(toks, token{kind: tokParam, text: src[start+1 : i], pos: start})
		case c == '\'' || c == '"':
			s, n, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i})
			i += n
		case c == '-' || isDigit(c):
			start := i
			i++
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			if src[start:i] == "-" {
				return nil, malformed(start, "digit expected after '-'")
			}
			if i < len(src) && (src[i] == '.' || src[i] == 'e' || src[i] == 'E') {
				return nil, malformed(start, "floating point numbers are not supported")
			}
			toks = append(toks, token{kind: tokInt, text: src[start:i], pos: start})
		case isIdentStart(c):
			start := i
			for i < len(src) && (isIdentByte(src[i]) || src[i] == '.') {
				i++
			}
			if strings.HasPrefix(src[i:], "[]") {
				i += 2
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], pos: start})
		default:
			r := []rune(src[i:])[0]
			if unicode.IsSpace(r) {
				i += len(string(r))
				continue
			}
			return nil, malformed(i, "unexpected character %q", r)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

// lexString decodes a quoted string starting at src[start]. It returns the
// decoded value and the number of bytes consumed including both quotes.
func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch c {
		case '\\':
			if i+1 >= len(src) {
				return "", 0, malformed(i, "unterminated escape")
			}
			b.WriteByte(src[i+1])
			i += 2
		case quote:
			return b.String(), i + 1 - start, nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, malformed(start, "unterminated string")
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentByte(c byte) bool { return isIdentStart(c) || isDigit(c) }
