package filter

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Match evaluates expr against a record document. A nil expr matches
// everything.
//
// The document maps record columns at the top level and carries metadata
// under the "metadata" key; Lookup resolves paths the same way the SQL
// compiler does, so in-memory post-filtering and pushed-down WHERE clauses
// agree on semantics.
func Match(expr Expr, doc map[string]interface{}) bool {
	if expr == nil {
		return true
	}
	switch e := expr.(type) {
	case Eq:
		value, ok := Lookup(doc, e.Path)
		return ok && looseEqual(value, e.Value)
	case Cmp:
		value, ok := Lookup(doc, e.Path)
		if !ok {
			return false
		}
		return matchCmp(value, e.Op, e.Value)
	case In:
		value, ok := Lookup(doc, e.Path)
		if !ok {
			return e.Negate
		}
		found := false
		for _, candidate := range e.Values {
			if looseEqual(value, candidate) {
				found = true
				break
			}
		}
		return found != e.Negate
	case Like:
		value, ok := Lookup(doc, e.Path)
		if !ok {
			return false
		}
		s, ok := value.(string)
		if !ok {
			return false
		}
		return likeMatch(s, e.Pattern, e.CaseInsensitive)
	case IsNull:
		value, ok := Lookup(doc, e.Path)
		isNull := !ok || value == nil
		return isNull != e.Negate
	case And:
		for _, child := range e.Exprs {
			if !Match(child, doc) {
				return false
			}
		}
		return true
	case Or:
		for _, child := range e.Exprs {
			if Match(child, doc) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Lookup resolves a filter path inside a record document. Record columns
// resolve at the top level; other paths descend into the metadata map,
// dot by dot.
func Lookup(doc map[string]interface{}, path string) (interface{}, bool) {
	if IsRecordColumn(path) {
		value, ok := doc[path]
		return value, ok
	}
	current, ok := doc["metadata"]
	if !ok {
		return nil, false
	}
	for _, part := range strings.Split(MetadataPath(path), ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func matchCmp(value interface{}, op Op, target interface{}) bool {
	if op == OpNe {
		return !looseEqual(value, target)
	}
	cmp, ok := compareOrdered(value, target)
	if !ok {
		return false
	}
	switch op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	default:
		return false
	}
}

// looseEqual compares scalar values with JSON number semantics: any two
// numeric types are equal when their float64 values are.
func looseEqual(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			return at.Equal(bt)
		}
	}
	return a == b
}

// compareOrdered returns -1, 0, or 1 for comparable value pairs. Numbers
// compare numerically, strings lexicographically, timestamps by instant.
func compareOrdered(a, b interface{}) (int, bool) {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			switch {
			case at.Before(bt):
				return -1, true
			case at.After(bt):
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			t, err = time.Parse(time.RFC3339, v)
		}
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

// likeMatch evaluates a SQL LIKE pattern where % matches any run and _
// matches a single character.
func likeMatch(s, pattern string, caseInsensitive bool) bool {
	var sb strings.Builder
	if caseInsensitive {
		sb.WriteString("(?is)")
	} else {
		sb.WriteString("(?s)")
	}
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// String renders an expression for logs and error messages.
func String(expr Expr) string {
	switch e := expr.(type) {
	case nil:
		return "<all>"
	case Eq:
		return fmt.Sprintf("%s=%v", e.Path, e.Value)
	case Cmp:
		return fmt.Sprintf("%s %s %v", e.Path, e.Op, e.Value)
	case In:
		op := "in"
		if e.Negate {
			op = "nin"
		}
		return fmt.Sprintf("%s %s %v", e.Path, op, e.Values)
	case Like:
		op := "like"
		if e.CaseInsensitive {
			op = "ilike"
		}
		return fmt.Sprintf("%s %s %q", e.Path, op, e.Pattern)
	case IsNull:
		if e.Negate {
			return fmt.Sprintf("%s is not null", e.Path)
		}
		return fmt.Sprintf("%s is null", e.Path)
	case And:
		parts := make([]string, len(e.Exprs))
		for i, child := range e.Exprs {
			parts[i] = String(child)
		}
		return "(" + strings.Join(parts, " AND ") + ")"
	case Or:
		parts := make([]string, len(e.Exprs))
		for i, child := range e.Exprs {
			parts[i] = String(child)
		}
		return "(" + strings.Join(parts, " OR ") + ")"
	default:
		return fmt.Sprintf("%#v", expr)
	}
}
