package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsession/internal/ir"
)

func TestValidate_SimpleQuery(t *testing.T) {
	q := Query{
		Collection: "users",
		Where: And{
			Left:  Compare{Field: "age", Op: OpGreater, Value: Param{Name: "p0"}},
			Right: StartsWith{Field: "name", Prefix: Param{Name: "p1"}},
		},
		OrderBy: []OrderKey{{Field: "age", Descending: true}},
	}

	assert.NoError(t, Validate(q))
}

func TestValidate_NoWhere(t *testing.T) {
	assert.NoError(t, Validate(Query{Collection: "users"}))
}

func TestValidate_GroupedQuery(t *testing.T) {
	q := Query{
		Collection: "users",
		GroupBy:    "emails[]",
		OrderBy:    []OrderKey{{Aggregate: AggCount, Descending: true}},
		Select: []Projection{
			{Aggregate: AggKey, Alias: "email"},
			{Aggregate: AggCount, Alias: "count"},
		},
	}

	assert.NoError(t, Validate(q))
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		problem string
	}{
		{
			name:    "bad collection",
			query:   Query{Collection: "1users"},
			problem: "invalid collection name",
		},
		{
			name:    "bad field",
			query:   Query{Collection: "users", Where: Compare{Field: "a..b", Op: OpEqual, Value: Param{Name: "p0"}}},
			problem: `invalid field "a..b"`,
		},
		{
			name:    "bad operator",
			query:   Query{Collection: "users", Where: Compare{Field: "a", Op: "<>", Value: Param{Name: "p0"}}},
			problem: "unknown operator",
		},
		{
			name:    "missing operand",
			query:   Query{Collection: "users", Where: Compare{Field: "a", Op: OpEqual}},
			problem: "missing value for a",
		},
		{
			name:    "nil connective operand",
			query:   Query{Collection: "users", Where: And{Left: Compare{Field: "a", Op: OpEqual, Value: Param{Name: "p0"}}}},
			problem: "missing clause operand",
		},
		{
			name:    "empty in",
			query:   Query{Collection: "users", Where: In{Field: "a"}},
			problem: "requires at least one value",
		},
		{
			name:    "count without group",
			query:   Query{Collection: "users", OrderBy: []OrderKey{{Aggregate: AggCount}}},
			problem: "order by count() requires group by",
		},
		{
			name: "non-key field in grouped select",
			query: Query{
				Collection: "users",
				GroupBy:    "emails[]",
				Select:     []Projection{{Field: "name"}},
			},
			problem: "must be key() or count()",
		},
		{
			name: "duplicate projection",
			query: Query{
				Collection: "users",
				Select:     []Projection{{Field: "name"}, {Field: "other.name"}},
			},
			problem: `duplicate projection "name"`,
		},
		{
			name:    "negative limit",
			query:   Query{Collection: "users", Limit: -1},
			problem: "negative limit",
		},
		{
			name:    "group by id",
			query:   Query{Collection: "users", GroupBy: IDField},
			problem: "invalid group by field",
		},
		{
			name:    "bad param name",
			query:   Query{Collection: "users", Where: Compare{Field: "a", Op: OpEqual, Value: Param{Name: "1x"}}},
			problem: "invalid parameter name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.query)
			require.Error(t, err)
			assert.True(t, ir.IsMalformedQuery(err))
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	q := Query{Collection: "", Limit: -1, Offset: -2}

	err := Validate(q)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid collection name")
	assert.Contains(t, err.Error(), "negative limit")
	assert.Contains(t, err.Error(), "negative offset")
}

func TestValidField(t *testing.T) {
	valid := []string{"name", "address.city", "emails[]", "a_b.c1", IDField}
	invalid := []string{"", ".a", "a.", "a[]b", "a[][]", "1a", "a-b"}

	for _, f := range valid {
		assert.True(t, ValidField(f), f)
	}
	for _, f := range invalid {
		assert.False(t, ValidField(f), f)
	}
}
