package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ob-labs/powermem-go/pkg/memerr"
)

// Dialect describes how a SQL backend renders filter expressions.
type Dialect struct {
	// Name identifies the backend in error messages.
	Name string

	// Placeholder renders the i-th bind parameter, 1-based.
	Placeholder func(i int) string

	// MetadataColumn renders the expression extracting a metadata path.
	// Parts are pre-validated identifiers.
	MetadataColumn func(parts []string) string

	// NumericMetadata wraps a metadata expression so it compares
	// numerically instead of lexically.
	NumericMetadata func(expr string) string

	// BoolArg converts a boolean filter value into the representation the
	// metadata extraction yields on this backend.
	BoolArg func(v bool) interface{}

	// NativeILike is set when the backend has an ILIKE operator.
	NativeILike bool

	// EqualityOnly restricts the dialect to eq, in, null tests and their
	// logical combinations.
	EqualityOnly bool
}

// MySQLDialect returns the dialect used by the OceanBase backend.
func MySQLDialect() Dialect {
	return Dialect{
		Name:        "oceanbase",
		Placeholder: func(int) string { return "?" },
		MetadataColumn: func(parts []string) string {
			return fmt.Sprintf("metadata->>'$.%s'", strings.Join(parts, "."))
		},
		NumericMetadata: func(expr string) string {
			return fmt.Sprintf("CAST(%s AS DECIMAL(20,6))", expr)
		},
		BoolArg: func(v bool) interface{} {
			if v {
				return "true"
			}
			return "false"
		},
	}
}

// PostgresDialect returns the dialect used by the Postgres backend.
func PostgresDialect() Dialect {
	return Dialect{
		Name:        "postgres",
		Placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
		MetadataColumn: func(parts []string) string {
			if len(parts) == 1 {
				return fmt.Sprintf("metadata->>'%s'", parts[0])
			}
			return fmt.Sprintf("metadata #>> '{%s}'", strings.Join(parts, ","))
		},
		NumericMetadata: func(expr string) string {
			return fmt.Sprintf("(%s)::numeric", expr)
		},
		BoolArg: func(v bool) interface{} {
			if v {
				return "true"
			}
			return "false"
		},
		NativeILike: true,
	}
}

// SQLiteDialect returns the equality-only dialect used by the SQLite
// backend.
func SQLiteDialect() Dialect {
	return Dialect{
		Name:        "sqlite",
		Placeholder: func(int) string { return "?" },
		MetadataColumn: func(parts []string) string {
			return fmt.Sprintf("json_extract(metadata, '$.%s')", strings.Join(parts, "."))
		},
		NumericMetadata: func(expr string) string { return expr },
		BoolArg: func(v bool) interface{} {
			if v {
				return 1
			}
			return 0
		},
		EqualityOnly: true,
	}
}

// SQLCompiler compiles filter expressions into WHERE fragments for one
// dialect.
type SQLCompiler struct {
	dialect Dialect
}

// NewSQLCompiler creates a compiler for the given dialect.
func NewSQLCompiler(dialect Dialect) *SQLCompiler {
	return &SQLCompiler{dialect: dialect}
}

// metadataKeyPattern limits metadata path segments to plain identifiers so
// user-supplied filter paths cannot smuggle SQL into the rendered clause.
var metadataKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Compile renders expr as a SQL fragment plus bind arguments. startArg is
// the 1-based index of the first placeholder, letting callers append the
// fragment after already-bound scope parameters. A nil expr compiles to an
// empty fragment.
func (c *SQLCompiler) Compile(expr Expr, startArg int) (string, []interface{}, error) {
	if expr == nil {
		return "", nil, nil
	}
	var args []interface{}
	clause, err := c.compile(expr, &args, startArg)
	if err != nil {
		return "", nil, err
	}
	return clause, args, nil
}

func (c *SQLCompiler) compile(expr Expr, args *[]interface{}, startArg int) (string, error) {
	switch e := expr.(type) {
	case Eq:
		return c.comparison(e.Path, "=", e.Value, args, startArg)
	case Cmp:
		if c.dialect.EqualityOnly {
			return "", &memerr.UnsupportedFilterOpError{Backend: c.dialect.Name, Field: e.Path, Op: string(e.Op)}
		}
		if e.Op == OpNe {
			col, err := c.column(e.Path, e.Value)
			if err != nil {
				return "", err
			}
			clause := fmt.Sprintf("(%s <> %s OR %s IS NULL)", col, c.placeholder(args, startArg), col)
			*args = append(*args, c.arg(e.Path, e.Value))
			return clause, nil
		}
		op, err := sqlOperator(e.Op)
		if err != nil {
			return "", err
		}
		return c.comparison(e.Path, op, e.Value, args, startArg)
	case In:
		return c.membership(e, args, startArg)
	case Like:
		if c.dialect.EqualityOnly {
			op := string(OpLike)
			if e.CaseInsensitive {
				op = string(OpILike)
			}
			return "", &memerr.UnsupportedFilterOpError{Backend: c.dialect.Name, Field: e.Path, Op: op}
		}
		return c.like(e, args, startArg)
	case IsNull:
		col, err := c.column(e.Path, nil)
		if err != nil {
			return "", err
		}
		if e.Negate {
			return fmt.Sprintf("%s IS NOT NULL", col), nil
		}
		return fmt.Sprintf("%s IS NULL", col), nil
	case And:
		return c.logical(e.Exprs, "AND", args, startArg)
	case Or:
		return c.logical(e.Exprs, "OR", args, startArg)
	default:
		return "", fmt.Errorf("%w: unknown filter expression %T", memerr.ErrInvalidInput, expr)
	}
}

func (c *SQLCompiler) comparison(path, op string, value interface{}, args *[]interface{}, startArg int) (string, error) {
	col, err := c.column(path, value)
	if err != nil {
		return "", err
	}
	clause := fmt.Sprintf("%s %s %s", col, op, c.placeholder(args, startArg))
	*args = append(*args, c.arg(path, value))
	return clause, nil
}

func (c *SQLCompiler) membership(e In, args *[]interface{}, startArg int) (string, error) {
	col, err := c.column(e.Path, firstOrNil(e.Values))
	if err != nil {
		return "", err
	}
	if len(e.Values) == 0 {
		// IN () is invalid SQL; an empty set matches nothing.
		if e.Negate {
			return "1=1", nil
		}
		return "1=0", nil
	}
	placeholders := make([]string, len(e.Values))
	for i, v := range e.Values {
		placeholders[i] = c.placeholder(args, startArg)
		*args = append(*args, c.arg(e.Path, v))
	}
	list := strings.Join(placeholders, ", ")
	if e.Negate {
		return fmt.Sprintf("(%s NOT IN (%s) OR %s IS NULL)", col, list, col), nil
	}
	return fmt.Sprintf("%s IN (%s)", col, list), nil
}

func (c *SQLCompiler) like(e Like, args *[]interface{}, startArg int) (string, error) {
	col, err := c.column(e.Path, "")
	if err != nil {
		return "", err
	}
	ph := c.placeholder(args, startArg)
	*args = append(*args, e.Pattern)
	if !e.CaseInsensitive {
		return fmt.Sprintf("%s LIKE %s", col, ph), nil
	}
	if c.dialect.NativeILike {
		return fmt.Sprintf("%s ILIKE %s", col, ph), nil
	}
	return fmt.Sprintf("LOWER(%s) LIKE LOWER(%s)", col, ph), nil
}

func (c *SQLCompiler) logical(exprs []Expr, op string, args *[]interface{}, startArg int) (string, error) {
	parts := make([]string, 0, len(exprs))
	for _, child := range exprs {
		clause, err := c.compile(child, args, startArg)
		if err != nil {
			return "", err
		}
		parts = append(parts, clause)
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")", nil
}

// column renders the SQL expression addressing a filter path. For metadata
// paths compared against numbers the expression is wrapped in the
// dialect's numeric cast.
func (c *SQLCompiler) column(path string, value interface{}) (string, error) {
	if IsRecordColumn(path) {
		return path, nil
	}
	parts := strings.Split(MetadataPath(path), ".")
	for _, part := range parts {
		if !metadataKeyPattern.MatchString(part) {
			return "", fmt.Errorf("%w: invalid metadata path segment %q", memerr.ErrInvalidInput, part)
		}
	}
	expr := c.dialect.MetadataColumn(parts)
	if _, isNum := toFloat(value); isNum {
		expr = c.dialect.NumericMetadata(expr)
	}
	return expr, nil
}

// arg converts a filter value into the bind argument the backend expects
// for the addressed path.
func (c *SQLCompiler) arg(path string, value interface{}) interface{} {
	if IsRecordColumn(path) {
		return value
	}
	if b, ok := value.(bool); ok {
		return c.dialect.BoolArg(b)
	}
	if f, ok := toFloat(value); ok {
		return f
	}
	return value
}

func (c *SQLCompiler) placeholder(args *[]interface{}, startArg int) string {
	return c.dialect.Placeholder(startArg + len(*args))
}

func sqlOperator(op Op) (string, error) {
	switch op {
	case OpGt:
		return ">", nil
	case OpGte:
		return ">=", nil
	case OpLt:
		return "<", nil
	case OpLte:
		return "<=", nil
	default:
		return "", fmt.Errorf("%w: operator %q has no SQL form", memerr.ErrInvalidInput, op)
	}
}

func firstOrNil(values []interface{}) interface{} {
	if len(values) == 0 {
		return nil
	}
	return values[0]
}
