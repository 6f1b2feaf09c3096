package filter

// Specializes reports whether query is a specialization of routing: every
// record matched by query is also matched by routing. The check is
// conservative and only proves implication for conjunctive trees whose
// routing side consists of Eq and In constraints; anything it cannot
// analyze returns false, which callers treat as "fan out".
func Specializes(query, routing Expr) bool {
	if routing == nil {
		return true
	}
	if query == nil {
		return false
	}

	required, ok := conjuncts(routing)
	if !ok {
		return false
	}
	available, ok := conjuncts(query)
	if !ok {
		return false
	}

	for _, req := range required {
		reqSet, ok := allowedSet(req)
		if !ok {
			return false
		}
		if !implied(available, exprPath(req), reqSet) {
			return false
		}
	}
	return true
}

// conjuncts flattens a tree of nested Ands into its conjunct list. A
// top-level Or (or any non-conjunctive combinator) makes the tree
// unanalyzable.
func conjuncts(expr Expr) ([]Expr, bool) {
	switch e := expr.(type) {
	case And:
		out := make([]Expr, 0, len(e.Exprs))
		for _, child := range e.Exprs {
			flat, ok := conjuncts(child)
			if !ok {
				return nil, false
			}
			out = append(out, flat...)
		}
		return out, true
	case Or:
		return nil, false
	default:
		return []Expr{expr}, true
	}
}

// allowedSet returns the value set a routing conjunct permits. Only Eq and
// non-negated In are analyzable.
func allowedSet(expr Expr) ([]interface{}, bool) {
	switch e := expr.(type) {
	case Eq:
		return []interface{}{e.Value}, true
	case In:
		if e.Negate {
			return nil, false
		}
		return e.Values, true
	default:
		return nil, false
	}
}

// implied reports whether some query conjunct pins path to a subset of the
// allowed values. Conjuncts that do not establish membership (comparisons,
// patterns, negations) are ignored; they can only narrow the query further.
func implied(available []Expr, path string, allowed []interface{}) bool {
	for _, expr := range available {
		if exprPath(expr) != path {
			continue
		}
		set, ok := allowedSet(expr)
		if !ok {
			continue
		}
		if subset(set, allowed) {
			return true
		}
	}
	return false
}

func subset(values, allowed []interface{}) bool {
	for _, v := range values {
		found := false
		for _, a := range allowed {
			if looseEqual(v, a) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return len(values) > 0
}

func exprPath(expr Expr) string {
	switch e := expr.(type) {
	case Eq:
		return e.Path
	case Cmp:
		return e.Path
	case In:
		return e.Path
	case Like:
		return e.Path
	case IsNull:
		return e.Path
	default:
		return ""
	}
}
