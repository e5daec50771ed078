package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/docsession/internal/ir"
)

func TestClause_SealedSwitch(t *testing.T) {
	clauses := []Clause{
		Compare{Field: "age", Op: OpGreater, Value: Param{Name: "p0"}},
		In{Field: "emails", Values: []Operand{Param{Name: "p1"}}},
		StartsWith{Field: "name", Prefix: Literal{Value: ir.IRString("J")}},
		EndsWith{Field: "name", Suffix: Literal{Value: ir.IRString("n")}},
		Search{Field: "bio", Terms: Param{Name: "p2"}},
		And{Left: Compare{}, Right: Compare{}},
		Or{Left: Compare{}, Right: Compare{}},
		Group{Inner: Compare{}},
		Not{Inner: Compare{}},
	}

	for _, c := range clauses {
		switch c.(type) {
		case Compare, In, StartsWith, EndsWith, Search, And, Or, Group, Not:
		default:
			t.Fatalf("unexpected clause type %T", c)
		}
	}
}

func TestOperator_Valid(t *testing.T) {
	for _, op := range []Operator{OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual} {
		assert.True(t, op.Valid(), op)
	}
	assert.False(t, Operator("<>").Valid())
	assert.False(t, Operator("").Valid())
}

func TestProjection_OutputName(t *testing.T) {
	tests := []struct {
		name string
		p    Projection
		want string
	}{
		{"plain field", Projection{Field: "name"}, "name"},
		{"nested field", Projection{Field: "address.city"}, "city"},
		{"array field", Projection{Field: "emails[]"}, "emails"},
		{"alias wins", Projection{Field: "address.city", Alias: "town"}, "town"},
		{"key", Projection{Aggregate: AggKey}, "key"},
		{"count", Projection{Aggregate: AggCount}, "count"},
		{"count alias", Projection{Aggregate: AggCount, Alias: "total"}, "total"},
		{"id", Projection{Field: IDField}, "id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.OutputName())
		})
	}
}

func TestQuery_IsProjection(t *testing.T) {
	assert.False(t, Query{Collection: "users"}.IsProjection())
	assert.True(t, Query{Collection: "users", GroupBy: "emails[]"}.IsProjection())
	assert.True(t, Query{Collection: "users", Select: []Projection{{Field: "name"}}}.IsProjection())
}

func TestArrayPath(t *testing.T) {
	assert.True(t, IsArrayPath("emails[]"))
	assert.False(t, IsArrayPath("emails"))
	assert.False(t, IsArrayPath("[]"))
	assert.Equal(t, "emails", TrimArraySuffix("emails[]"))
	assert.Equal(t, "emails", TrimArraySuffix("emails"))
}

func TestAggregate_String(t *testing.T) {
	assert.Equal(t, "key()", AggKey.String())
	assert.Equal(t, "count()", AggCount.String())
	assert.Equal(t, "", AggNone.String())
}
