// Package filter implements the metadata filter algebra shared by the
// storage backends and the sub-store router.
//
// Filters arrive as JSON-like maps in the mem0 style and are parsed into a
// small expression tree. The same tree is either evaluated in memory
// (Match), compiled to a SQL WHERE clause (SQLCompiler), or tested for
// routing specialization (Specializes).
//
// Supported forms:
//
//	{"user_id": "alice"}                          // equality shorthand
//	{"score": {"gte": 10, "lt": 20}}              // operator form, AND-combined
//	{"category": {"in": ["food", "travel"]}}      // membership
//	{"archived": nil}                             // null test
//	{"AND": [f1, f2]}, {"OR": [f1, f2]}           // logical combinators
//
// Top-level record columns (user_id, agent_id, run_id, actor_id, hash,
// content, created_at, updated_at) are addressed by name; every other path
// addresses a metadata field, with dots descending into nested objects.
package filter

import (
	"fmt"
	"sort"

	"github.com/ob-labs/powermem-go/pkg/memerr"
)

// Op identifies a comparison operator.
type Op string

// Comparison operators accepted in the operator form.
const (
	OpEq    Op = "eq"
	OpNe    Op = "ne"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpIn    Op = "in"
	OpNin   Op = "nin"
	OpLike  Op = "like"
	OpILike Op = "ilike"
)

// Expr is a node of the parsed filter tree.
type Expr interface {
	isExpr()
}

// Eq matches records whose field equals Value.
type Eq struct {
	Path  string
	Value interface{}
}

// Cmp matches records by an ordered or negated comparison.
type Cmp struct {
	Path  string
	Op    Op // ne, gt, gte, lt, lte
	Value interface{}
}

// In matches records whose field is (or, with Negate, is not) one of Values.
type In struct {
	Path   string
	Values []interface{}
	Negate bool
}

// Like matches records by SQL LIKE pattern (% and _ wildcards).
type Like struct {
	Path            string
	Pattern         string
	CaseInsensitive bool
}

// IsNull matches records whose field is absent or null.
type IsNull struct {
	Path   string
	Negate bool
}

// And matches records satisfying every child expression.
type And struct {
	Exprs []Expr
}

// Or matches records satisfying at least one child expression.
type Or struct {
	Exprs []Expr
}

func (Eq) isExpr()     {}
func (Cmp) isExpr()    {}
func (In) isExpr()     {}
func (Like) isExpr()   {}
func (IsNull) isExpr() {}
func (And) isExpr()    {}
func (Or) isExpr()     {}

// recordColumns are the paths addressed as record columns rather than
// metadata fields.
var recordColumns = map[string]bool{
	"id":         true,
	"user_id":    true,
	"agent_id":   true,
	"run_id":     true,
	"actor_id":   true,
	"hash":       true,
	"content":    true,
	"created_at": true,
	"updated_at": true,
}

// IsRecordColumn reports whether path addresses a record column.
func IsRecordColumn(path string) bool {
	return recordColumns[path]
}

// MetadataPath returns the path within the metadata object for a non-column
// path, stripping an explicit "metadata." prefix.
func MetadataPath(path string) string {
	const prefix = "metadata."
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		return path[len(prefix):]
	}
	return path
}

// Parse converts a mem0-style filter map into an expression tree.
//
// A nil or empty map parses to a nil Expr, which matches everything.
// Unknown operators and malformed combinator values are reported as
// validation errors.
func Parse(filters map[string]interface{}) (Expr, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	exprs := make([]Expr, 0, len(keys))
	for _, key := range keys {
		value := filters[key]
		switch key {
		case "AND", "OR":
			children, err := parseCombinator(key, value)
			if err != nil {
				return nil, err
			}
			if key == "AND" {
				exprs = append(exprs, And{Exprs: children})
			} else {
				exprs = append(exprs, Or{Exprs: children})
			}
		default:
			expr, err := parseField(key, value)
			if err != nil {
				return nil, err
			}
			if expr != nil {
				exprs = append(exprs, expr)
			}
		}
	}
	return combine(exprs), nil
}

// MustParse is Parse for static filters known to be valid. It panics on
// parse errors and is intended for configuration defaults and tests.
func MustParse(filters map[string]interface{}) Expr {
	expr, err := Parse(filters)
	if err != nil {
		panic(err)
	}
	return expr
}

func parseCombinator(name string, value interface{}) ([]Expr, error) {
	items, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s expects a list of filters", memerr.ErrInvalidInput, name)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %s list is empty", memerr.ErrInvalidInput, name)
	}
	children := make([]Expr, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: %s entries must be filter objects", memerr.ErrInvalidInput, name)
		}
		child, err := Parse(m)
		if err != nil {
			return nil, err
		}
		if child != nil {
			children = append(children, child)
		}
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("%w: %s list has no usable filters", memerr.ErrInvalidInput, name)
	}
	return children, nil
}

func parseField(path string, value interface{}) (Expr, error) {
	if value == nil {
		return IsNull{Path: path}, nil
	}
	ops, ok := value.(map[string]interface{})
	if !ok {
		return Eq{Path: path, Value: value}, nil
	}
	if len(ops) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	exprs := make([]Expr, 0, len(names))
	for _, name := range names {
		expr, err := parseOperator(path, Op(name), ops[name])
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	return combine(exprs), nil
}

func parseOperator(path string, op Op, value interface{}) (Expr, error) {
	switch op {
	case OpEq:
		if value == nil {
			return IsNull{Path: path}, nil
		}
		return Eq{Path: path, Value: value}, nil
	case OpNe:
		if value == nil {
			return IsNull{Path: path, Negate: true}, nil
		}
		return Cmp{Path: path, Op: OpNe, Value: value}, nil
	case OpGt, OpGte, OpLt, OpLte:
		return Cmp{Path: path, Op: op, Value: value}, nil
	case OpIn, OpNin:
		values, ok := toSlice(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s on %q expects a list", memerr.ErrInvalidInput, op, path)
		}
		return In{Path: path, Values: values, Negate: op == OpNin}, nil
	case OpLike, OpILike:
		pattern, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s on %q expects a string pattern", memerr.ErrInvalidInput, op, path)
		}
		return Like{Path: path, Pattern: pattern, CaseInsensitive: op == OpILike}, nil
	default:
		return nil, fmt.Errorf("%w: unknown filter operator %q on %q", memerr.ErrInvalidInput, op, path)
	}
}

func toSlice(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case []interface{}:
		return v, true
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]interface{}, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]interface{}, len(v))
		for i, f := range v {
			out[i] = f
		}
		return out, true
	default:
		return nil, false
	}
}

func combine(exprs []Expr) Expr {
	switch len(exprs) {
	case 0:
		return nil
	case 1:
		return exprs[0]
	default:
		return And{Exprs: exprs}
	}
}
