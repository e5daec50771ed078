package queryir

import "regexp"

var paramPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidParamName reports whether name can be referenced as $name.
func ValidParamName(name string) bool {
	return paramPattern.MatchString(name)
}

// Walk visits c and its descendants depth-first, left to right. Returning
// false from fn skips the node's children.
func Walk(c Clause, fn func(Clause) bool) {
	if c == nil || !fn(c) {
		return
	}
	switch clause := c.(type) {
	case And:
		Walk(clause.Left, fn)
		Walk(clause.Right, fn)
	case Or:
		Walk(clause.Left, fn)
		Walk(clause.Right, fn)
	case Group:
		Walk(clause.Inner, fn)
	case Not:
		Walk(clause.Inner, fn)
	}
}

// ParamNames returns the distinct parameter names referenced by q, in order
// of first appearance.
func ParamNames(q Query) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(op Operand) {
		if p, ok := op.(Param); ok && !seen[p.Name] {
			seen[p.Name] = true
			names = append(names, p.Name)
		}
	}
	Walk(q.Where, func(c Clause) bool {
		switch clause := c.(type) {
		case Compare:
			add(clause.Value)
		case In:
			for _, op := range clause.Values {
				add(op)
			}
		case StartsWith:
			add(clause.Prefix)
		case EndsWith:
			add(clause.Suffix)
		case Search:
			add(clause.Terms)
		}
		return true
	})
	return names
}
