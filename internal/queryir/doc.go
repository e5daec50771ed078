// Package queryir provides the abstract query representation shared by the
// fluent query builder, the query text language and the SQL backend.
//
// ARCHITECTURE:
//
// The query IR sits between the two query front ends and the store:
//
//	[fluent builder] ─┐
//	                  ├→ [Query IR] → [query text]  (querylang.Render)
//	[query text] ─────┘             → [SQL]         (querysql.Compile)
//
// The session never sends the IR itself. It renders the IR to query text
// plus a parameter map, and the store parses that text back into the IR
// before compiling it to SQL. Query text is therefore the wire contract,
// and the IR is the in-process form on both sides of it.
//
// CLAUSE TREE:
//
// A where-clause is a tree of Clause nodes:
//   - Leaves: Compare, In, StartsWith, EndsWith, Search
//   - Connectives: And, Or (binary, left and right operands)
//   - Group: an explicit parenthesized sub-clause
//   - Not: negation of a single operand
//
// Leaf values are Operands: either a Literal IRValue or a named Param.
// Builder-produced trees only ever use Params; hand-written query text may
// use either.
//
// FIELD PATHS:
//
// Fields are dotted paths into the document body ("address.city"). A path
// ending in "[]" ("emails[]") names the elements of an array field. Leaves
// over an array field match when any element matches, with or without the
// "[]" suffix. The pseudo-field "id()" is the document identifier.
//
// SEALED INTERFACES:
//
// Clause and Operand are sealed interfaces using the marker method pattern,
// so backends can switch over them exhaustively:
//
//	switch c := clause.(type) {
//	case Compare:
//	    // Handle comparison
//	case And:
//	    // Handle conjunction
//	}
//
// CRITICAL PATTERNS:
//
// All literal values use ir.IRValue types (no floats). Parameter values are
// converted through ir.FromGo before they reach a backend.
package queryir
