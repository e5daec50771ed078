package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsession/internal/ir"
)

func userQuery() *Query[User] {
	return For[User](nil, userShape).Query()
}

func TestQuery_DefaultConnectiveIsAnd(t *testing.T) {
	cq, err := userQuery().
		WhereGreaterThan("age", 20).
		WhereEndsWith("name", "Doe").
		Compile()
	require.NoError(t, err)

	assert.Equal(t, "from users where age > $p0 and endsWith(name, $p1)", cq.Text)
	assert.Equal(t, map[string]any{"p0": 20, "p1": "Doe"}, cq.Parameters)
}

func TestQuery_SubclauseNesting(t *testing.T) {
	cq, err := userQuery().
		WhereIn("emails", "john.doe@example.com", "jane.doe@example.com").
		OrElse().
		OpenSubclause().
		WhereGreaterThan("age", 25).
		AndAlso().
		WhereEndsWith("name", "Doe").
		CloseSubclause().
		Compile()
	require.NoError(t, err)

	assert.Equal(t, "from users where emails in ($p0) or (age > $p1 and endsWith(name, $p2))", cq.Text)
	assert.Equal(t, []any{"john.doe@example.com", "jane.doe@example.com"}, cq.Parameters["p0"])
}

func TestQuery_LeftToRightFold(t *testing.T) {
	cq, err := userQuery().
		WhereEquals("name", "a").
		OrElse().
		WhereEquals("name", "b").
		AndAlso().
		WhereEquals("age", 1).
		Compile()
	require.NoError(t, err)

	assert.Equal(t, "from users where (name = $p0 or name = $p1) and age = $p2", cq.Text)
}

func TestQuery_LastConnectiveWins(t *testing.T) {
	cq, err := userQuery().
		WhereEquals("name", "a").
		AndAlso().
		OrElse().
		WhereEquals("name", "b").
		Compile()
	require.NoError(t, err)

	assert.Equal(t, "from users where name = $p0 or name = $p1", cq.Text)
}

func TestQuery_Not(t *testing.T) {
	cq, err := userQuery().
		Not().WhereEquals("name", "a").
		AndAlso().
		Not().OpenSubclause().WhereLessThan("age", 1).OrElse().WhereGreaterThanOrEqual("age", 99).CloseSubclause().
		Compile()
	require.NoError(t, err)

	assert.Equal(t, "from users where not name = $p0 and not (age < $p1 or age >= $p2)", cq.Text)
}

func TestQuery_AllPredicates(t *testing.T) {
	cq, err := userQuery().
		WhereEquals("name", "a").
		WhereNotEquals("name", "b").
		WhereLessThanOrEqual("age", 3).
		WhereStartsWith("name", "J").
		Search("name", "jo*").
		Compile()
	require.NoError(t, err)

	assert.Equal(t,
		"from users where name = $p0 and name != $p1 and age <= $p2 and startsWith(name, $p3) and search(name, $p4)",
		cq.Text)
}

func TestQuery_WhereInExpandsSingleSlice(t *testing.T) {
	a, err := userQuery().WhereIn("emails", []string{"x", "y"}).Compile()
	require.NoError(t, err)
	b, err := userQuery().WhereIn("emails", "x", "y").Compile()
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestQuery_OrderingTakeSkip(t *testing.T) {
	cq, err := userQuery().
		WhereStartsWith("name", "J").
		OrderByDescending("name").
		OrderBy("age").
		Take(5).
		Skip(10).
		Compile()
	require.NoError(t, err)

	assert.Equal(t, "from users where startsWith(name, $p0) limit 5 offset 10", cq.Text)
	assert.Equal(t, []ir.OrderKey{{Field: "name", Descending: true}, {Field: "age"}}, cq.Ordering)
}

func TestQuery_EmptyBuilder(t *testing.T) {
	cq, err := userQuery().Compile()
	require.NoError(t, err)
	assert.Equal(t, "from users", cq.Text)
	assert.Empty(t, cq.Parameters)
}

func TestQuery_Deterministic(t *testing.T) {
	build := func() *Query[User] {
		return userQuery().
			WhereIn("emails", "a", "b").
			OrElse().
			OpenSubclause().WhereGreaterThan("age", 25).WhereEndsWith("name", "Doe").CloseSubclause().
			OrderBy("name")
	}
	q := build()
	first, err := q.Compile()
	require.NoError(t, err)
	second, err := q.Compile()
	require.NoError(t, err)
	third, err := build().Compile()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first.Text, third.Text)

	d1, err := ir.QueryDigest(first)
	require.NoError(t, err)
	d3, err := ir.QueryDigest(third)
	require.NoError(t, err)
	assert.Equal(t, d1, d3)
}

func TestQuery_FluentCallsNeverFail(t *testing.T) {
	q := userQuery().CloseSubclause()
	require.NotNil(t, q, "recording an unmatched close must not fail")

	_, err := q.Compile()
	assert.True(t, ir.IsMalformedQuery(err))
}

func TestQuery_MalformedAtCompile(t *testing.T) {
	tests := []struct {
		name  string
		build func(*Query[User]) *Query[User]
	}{
		{"unmatched close", func(q *Query[User]) *Query[User] {
			return q.WhereEquals("name", "a").CloseSubclause()
		}},
		{"unclosed open", func(q *Query[User]) *Query[User] {
			return q.OpenSubclause().WhereEquals("name", "a")
		}},
		{"empty subclause", func(q *Query[User]) *Query[User] {
			return q.OpenSubclause().CloseSubclause()
		}},
		{"leading connective", func(q *Query[User]) *Query[User] {
			return q.OrElse().WhereEquals("name", "a")
		}},
		{"dangling connective", func(q *Query[User]) *Query[User] {
			return q.WhereEquals("name", "a").AndAlso()
		}},
		{"connective before close", func(q *Query[User]) *Query[User] {
			return q.OpenSubclause().WhereEquals("name", "a").OrElse().CloseSubclause()
		}},
		{"dangling not", func(q *Query[User]) *Query[User] {
			return q.WhereEquals("name", "a").Not()
		}},
		{"invalid field", func(q *Query[User]) *Query[User] {
			return q.WhereEquals("na me", "a")
		}},
		{"float value", func(q *Query[User]) *Query[User] {
			return q.WhereGreaterThan("age", 1.5)
		}},
		{"unsupported value", func(q *Query[User]) *Query[User] {
			return q.WhereEquals("name", struct{}{})
		}},
		{"negative take", func(q *Query[User]) *Query[User] {
			return q.Take(-1)
		}},
		{"invalid order field", func(q *Query[User]) *Query[User] {
			return q.OrderBy("1abc")
		}},
		{"parameter on built query", func(q *Query[User]) *Query[User] {
			return q.WhereEquals("name", "a").AddParameter("extra", 1)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build(userQuery()).Compile()
			require.Error(t, err)
			assert.True(t, ir.IsMalformedQuery(err), "got %v", err)
		})
	}
}

func TestRawQuery_Compile(t *testing.T) {
	cq, err := For[User](nil, userShape).
		RawQuery("from users where search(name, $name_to_search)").
		AddParameter("name_to_search", "john").
		Compile()
	require.NoError(t, err)

	assert.Equal(t, "from users where search(name, $name_to_search)", cq.Text)
	assert.Equal(t, map[string]any{"name_to_search": "john"}, cq.Parameters)
}

func TestRawQuery_AddParameterReplaces(t *testing.T) {
	cq, err := For[User](nil, userShape).
		RawQuery("from users where age > $min").
		AddParameter("min", 1).
		AddParameter("min", 2).
		Compile()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"min": 2}, cq.Parameters)
}

func TestRawQuery_MissingParameterIsNotACompileError(t *testing.T) {
	_, err := For[User](nil, userShape).RawQuery("from users where age > $min").Compile()
	assert.NoError(t, err)
}

func TestRawQuery_Malformed(t *testing.T) {
	coll := For[User](nil, userShape)

	tests := map[string]*Query[User]{
		"syntax":           coll.RawQuery("from users where (age > 1"),
		"unreferenced":     coll.RawQuery("from users").AddParameter("x", 1),
		"take on raw text": coll.RawQuery("from users").Take(1),
	}
	for name, q := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := q.Compile()
			assert.True(t, ir.IsMalformedQuery(err), "got %v", err)
		})
	}
}
