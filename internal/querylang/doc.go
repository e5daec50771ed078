// Package querylang renders query IR to query text and parses query text
// back into query IR.
//
// GRAMMAR:
//
//	query      = "from" ident [ "where" expr ] [ "group by" path ]
//	             [ "order by" orderKey { "," orderKey } ]
//	             [ "select" projection { "," projection } ]
//	             [ "limit" int ] [ "offset" int ]
//	expr       = andExpr { "or" andExpr }
//	andExpr    = unary { "and" unary }
//	unary      = "not" unary | "(" expr ")" | predicate
//	predicate  = field op operand
//	           | field "in" "(" operand { "," operand } ")"
//	           | ("startsWith" | "endsWith" | "search") "(" field "," operand ")"
//	field      = path | "id()"
//	operand    = "$" ident | string | int | "true" | "false" | "null"
//	orderKey   = (field | "key()" | "count()") [ "asc" | "desc" ]
//	projection = (field | "key()" | "count()") [ "as" ident ]
//
// Keywords are case-insensitive. Strings are single-quoted; a backslash
// escapes the next character.
//
// ROUND TRIP:
//
// Render(Parse(Render(q))) == Render(q) for every valid q. Render inserts
// parentheses for every Group node and wherever operator precedence would
// otherwise change the tree's meaning (an Or operand of an And), so the
// text always re-parses to an equivalent tree.
package querylang
