package filter_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/powermem-go/pkg/filter"
	"github.com/ob-labs/powermem-go/pkg/memerr"
)

func testDoc() map[string]interface{} {
	return map[string]interface{}{
		"id":         int64(42),
		"user_id":    "alice",
		"agent_id":   "agent-1",
		"content":    "Loves hiking in the Alps",
		"created_at": time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		"metadata": map[string]interface{}{
			"category": "hobby",
			"score":    7.5,
			"flagged":  true,
			"nested":   map[string]interface{}{"level": 2},
		},
	}
}

func TestParseEqualityShorthand(t *testing.T) {
	expr, err := filter.Parse(map[string]interface{}{"user_id": "alice"})
	require.NoError(t, err)
	assert.Equal(t, filter.Eq{Path: "user_id", Value: "alice"}, expr)
}

func TestParseOperatorForm(t *testing.T) {
	expr, err := filter.Parse(map[string]interface{}{
		"score": map[string]interface{}{"gte": 5, "lt": 10},
	})
	require.NoError(t, err)

	and, ok := expr.(filter.And)
	require.True(t, ok, "multiple operators under one field should AND-combine")
	assert.Len(t, and.Exprs, 2)
}

func TestParseCombinators(t *testing.T) {
	expr, err := filter.Parse(map[string]interface{}{
		"OR": []interface{}{
			map[string]interface{}{"user_id": "alice"},
			map[string]interface{}{"user_id": "bob"},
		},
	})
	require.NoError(t, err)

	or, ok := expr.(filter.Or)
	require.True(t, ok)
	assert.Len(t, or.Exprs, 2)
}

func TestParseNullAndNegatedNull(t *testing.T) {
	expr, err := filter.Parse(map[string]interface{}{"archived": nil})
	require.NoError(t, err)
	assert.Equal(t, filter.IsNull{Path: "archived"}, expr)

	expr, err = filter.Parse(map[string]interface{}{
		"archived": map[string]interface{}{"ne": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, filter.IsNull{Path: "archived", Negate: true}, expr)
}

func TestParseUnknownOperator(t *testing.T) {
	_, err := filter.Parse(map[string]interface{}{
		"score": map[string]interface{}{"between": []interface{}{1, 2}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, memerr.ErrInvalidInput))
}

func TestParseEmptyFilters(t *testing.T) {
	expr, err := filter.Parse(nil)
	require.NoError(t, err)
	assert.Nil(t, expr)
	assert.True(t, filter.Match(expr, testDoc()), "nil filter should match everything")
}

func TestMatchOperators(t *testing.T) {
	doc := testDoc()

	testCases := []struct {
		name    string
		filters map[string]interface{}
		want    bool
	}{
		{"eq column", map[string]interface{}{"user_id": "alice"}, true},
		{"eq column miss", map[string]interface{}{"user_id": "bob"}, false},
		{"eq metadata", map[string]interface{}{"category": "hobby"}, true},
		{"eq metadata prefixed", map[string]interface{}{"metadata.category": "hobby"}, true},
		{"eq nested path", map[string]interface{}{"nested.level": 2}, true},
		{"ne", map[string]interface{}{"category": map[string]interface{}{"ne": "work"}}, true},
		{"ne on missing field", map[string]interface{}{"missing": map[string]interface{}{"ne": "x"}}, true},
		{"gt", map[string]interface{}{"score": map[string]interface{}{"gt": 7}}, true},
		{"gte boundary", map[string]interface{}{"score": map[string]interface{}{"gte": 7.5}}, true},
		{"lt miss", map[string]interface{}{"score": map[string]interface{}{"lt": 7}}, false},
		{"lte boundary", map[string]interface{}{"score": map[string]interface{}{"lte": 7.5}}, true},
		{"in", map[string]interface{}{"category": map[string]interface{}{"in": []interface{}{"hobby", "work"}}}, true},
		{"nin", map[string]interface{}{"category": map[string]interface{}{"nin": []interface{}{"work"}}}, true},
		{"nin hit", map[string]interface{}{"category": map[string]interface{}{"nin": []interface{}{"hobby"}}}, false},
		{"like", map[string]interface{}{"content": map[string]interface{}{"like": "%hiking%"}}, true},
		{"like anchored miss", map[string]interface{}{"content": map[string]interface{}{"like": "hiking%"}}, false},
		{"ilike", map[string]interface{}{"content": map[string]interface{}{"ilike": "%HIKING%"}}, true},
		{"bool metadata", map[string]interface{}{"flagged": true}, true},
		{"is null on missing", map[string]interface{}{"missing": nil}, true},
		{"is null on present", map[string]interface{}{"category": nil}, false},
		{"and", map[string]interface{}{"user_id": "alice", "category": "hobby"}, true},
		{"or", map[string]interface{}{"OR": []interface{}{
			map[string]interface{}{"user_id": "bob"},
			map[string]interface{}{"category": "hobby"},
		}}, true},
		{"numeric cross-type", map[string]interface{}{"nested.level": map[string]interface{}{"gte": 1.5}}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			expr, err := filter.Parse(tc.filters)
			require.NoError(t, err)
			assert.Equal(t, tc.want, filter.Match(expr, doc))
		})
	}
}

func TestMatchTimeComparison(t *testing.T) {
	doc := testDoc()
	expr, err := filter.Parse(map[string]interface{}{
		"created_at": map[string]interface{}{"gte": "2025-01-01T00:00:00Z"},
	})
	require.NoError(t, err)
	assert.True(t, filter.Match(expr, doc))

	expr, err = filter.Parse(map[string]interface{}{
		"created_at": map[string]interface{}{"lt": "2025-01-01T00:00:00Z"},
	})
	require.NoError(t, err)
	assert.False(t, filter.Match(expr, doc))
}

func TestCompileMySQL(t *testing.T) {
	compiler := filter.NewSQLCompiler(filter.MySQLDialect())

	expr, err := filter.Parse(map[string]interface{}{
		"user_id":  "alice",
		"category": "hobby",
	})
	require.NoError(t, err)

	clause, args, err := compiler.Compile(expr, 1)
	require.NoError(t, err)
	assert.Equal(t, "(metadata->>'$.category' = ? AND user_id = ?)", clause)
	assert.Equal(t, []interface{}{"hobby", "alice"}, args)
}

func TestCompileMySQLNumericCast(t *testing.T) {
	compiler := filter.NewSQLCompiler(filter.MySQLDialect())

	expr, err := filter.Parse(map[string]interface{}{
		"score": map[string]interface{}{"gte": 5},
	})
	require.NoError(t, err)

	clause, args, err := compiler.Compile(expr, 1)
	require.NoError(t, err)
	assert.Equal(t, "CAST(metadata->>'$.score' AS DECIMAL(20,6)) >= ?", clause)
	assert.Equal(t, []interface{}{float64(5)}, args)
}

func TestCompilePostgresPlaceholders(t *testing.T) {
	compiler := filter.NewSQLCompiler(filter.PostgresDialect())

	expr, err := filter.Parse(map[string]interface{}{
		"category": map[string]interface{}{"in": []interface{}{"a", "b"}},
	})
	require.NoError(t, err)

	clause, args, err := compiler.Compile(expr, 3)
	require.NoError(t, err)
	assert.Equal(t, "metadata->>'category' IN ($3, $4)", clause)
	assert.Equal(t, []interface{}{"a", "b"}, args)
}

func TestCompilePostgresNestedPathAndILike(t *testing.T) {
	compiler := filter.NewSQLCompiler(filter.PostgresDialect())

	expr, err := filter.Parse(map[string]interface{}{
		"nested.level": 2,
	})
	require.NoError(t, err)
	clause, _, err := compiler.Compile(expr, 1)
	require.NoError(t, err)
	assert.Equal(t, "(metadata #>> '{nested,level}')::numeric = $1", clause)

	expr, err = filter.Parse(map[string]interface{}{
		"content": map[string]interface{}{"ilike": "%alps%"},
	})
	require.NoError(t, err)
	clause, _, err = compiler.Compile(expr, 1)
	require.NoError(t, err)
	assert.Equal(t, "content ILIKE $1", clause)
}

func TestCompileSQLiteEqualityOnly(t *testing.T) {
	compiler := filter.NewSQLCompiler(filter.SQLiteDialect())

	expr, err := filter.Parse(map[string]interface{}{"category": "hobby"})
	require.NoError(t, err)
	clause, args, err := compiler.Compile(expr, 1)
	require.NoError(t, err)
	assert.Equal(t, "json_extract(metadata, '$.category') = ?", clause)
	assert.Equal(t, []interface{}{"hobby"}, args)

	rejected := []map[string]interface{}{
		{"score": map[string]interface{}{"gte": 5}},
		{"content": map[string]interface{}{"like": "%x%"}},
	}
	for _, filters := range rejected {
		expr, err := filter.Parse(filters)
		require.NoError(t, err)
		_, _, err = compiler.Compile(expr, 1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, memerr.ErrUnsupportedFilterOp))

		var opErr *memerr.UnsupportedFilterOpError
		require.True(t, errors.As(err, &opErr))
		assert.Equal(t, "sqlite", opErr.Backend)
	}
}

func TestCompileRejectsUnsafeMetadataPath(t *testing.T) {
	compiler := filter.NewSQLCompiler(filter.MySQLDialect())
	_, _, err := compiler.Compile(filter.Eq{Path: "x'; DROP TABLE memories; --", Value: 1}, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, memerr.ErrInvalidInput))
}

func TestCompileEmptyInList(t *testing.T) {
	compiler := filter.NewSQLCompiler(filter.MySQLDialect())
	clause, args, err := compiler.Compile(filter.In{Path: "user_id"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "1=0", clause)
	assert.Empty(t, args)
}

func TestParseDeterministic(t *testing.T) {
	filters := map[string]interface{}{
		"b": 1, "a": 2, "c": 3,
	}
	first, err := filter.Parse(filters)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := filter.Parse(filters)
		require.NoError(t, err)
		assert.Equal(t, first, again, "parse should order conjuncts deterministically")
	}
}

func TestSpecializes(t *testing.T) {
	routing := filter.MustParse(map[string]interface{}{"agent_id": "support"})

	testCases := []struct {
		name  string
		query map[string]interface{}
		want  bool
	}{
		{"exact match", map[string]interface{}{"agent_id": "support"}, true},
		{"narrower", map[string]interface{}{"agent_id": "support", "user_id": "alice"}, true},
		{"different value", map[string]interface{}{"agent_id": "sales"}, false},
		{"missing key", map[string]interface{}{"user_id": "alice"}, false},
		{"or at top", map[string]interface{}{"OR": []interface{}{
			map[string]interface{}{"agent_id": "support"},
			map[string]interface{}{"agent_id": "sales"},
		}}, false},
		{"extra range constraint", map[string]interface{}{
			"agent_id": "support",
			"score":    map[string]interface{}{"gte": 3},
		}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			query := filter.MustParse(tc.query)
			assert.Equal(t, tc.want, filter.Specializes(query, routing))
		})
	}
}

func TestSpecializesWithInSets(t *testing.T) {
	routing := filter.MustParse(map[string]interface{}{
		"agent_id": map[string]interface{}{"in": []interface{}{"support", "helpdesk"}},
	})

	assert.True(t, filter.Specializes(
		filter.MustParse(map[string]interface{}{"agent_id": "support"}), routing))
	assert.True(t, filter.Specializes(
		filter.MustParse(map[string]interface{}{
			"agent_id": map[string]interface{}{"in": []interface{}{"support"}},
		}), routing))
	assert.False(t, filter.Specializes(
		filter.MustParse(map[string]interface{}{
			"agent_id": map[string]interface{}{"in": []interface{}{"support", "sales"}},
		}), routing))

	// The match-all routing filter is specialized by anything.
	assert.True(t, filter.Specializes(nil, nil))
	assert.False(t, filter.Specializes(nil, routing))
}
