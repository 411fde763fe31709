package expr

import (
	"testing"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *schema.Schema {
	return schema.MustNewSchema(0,
		types.NestedField{ID: 1, Name: "id", Type: types.IntType, Required: true},
		types.NestedField{ID: 2, Name: "data", Type: types.StringType},
		types.NestedField{ID: 3, Name: "ts", Type: types.TimestampType},
		types.NestedField{ID: 4, Name: "loc", Type: &types.StructType{Fields: []types.NestedField{
			{ID: 5, Name: "lat", Type: types.DoubleType},
		}}},
	)
}

func TestBindPredicates(t *testing.T) {
	sch := testSchema()

	bound, err := Bind(sch, Equal("id", 5), true)
	require.NoError(t, err)
	assert.Equal(t, BoundPredicate{op: OpEQ, FieldID: 1, Name: "id", Type: types.IntType, Literals: []any{int32(5)}}, bound)

	bound, err = Bind(sch, LessThan("loc.lat", float32(1.5)), true)
	require.NoError(t, err)
	assert.Equal(t, BoundPredicate{op: OpLT, FieldID: 5, Name: "loc.lat", Type: types.DoubleType, Literals: []any{1.5}}, bound)

	bound, err = Bind(sch, Equal("DATA", "x"), false)
	require.NoError(t, err)
	assert.Equal(t, 2, bound.(BoundPredicate).FieldID)
	assert.Equal(t, `data = "x"`, bound.String())

	_, err = Bind(sch, Equal("DATA", "x"), true)
	assert.True(t, errors.Is(err, ErrUnknownColumn))

	_, err = Bind(sch, Equal("loc", 1), true)
	assert.True(t, errors.Is(err, ErrNotPrimitive))

	_, err = Bind(sch, Equal("id", "seven"), true)
	assert.True(t, errors.Is(err, ErrInvalidLiteral))

	_, err = Bind(sch, StartsWith("id", "1"), true)
	assert.True(t, errors.Is(err, ErrInvalidLiteral))

	_, err = Bind(sch, Equal("data", nil), true)
	assert.True(t, errors.Is(err, ErrInvalidLiteral))
}

func TestBindFolding(t *testing.T) {
	sch := testSchema()

	cases := []struct {
		in   Expression
		want Expression
	}{
		{IsNull("id"), AlwaysFalse()},
		{NotNull("id"), AlwaysTrue()},
		{In("data"), AlwaysFalse()},
		{NotIn("data"), AlwaysTrue()},
		{And(IsNull("id"), Equal("data", "a")), AlwaysFalse()},
		{Or(NotNull("id"), Equal("data", "a")), AlwaysTrue()},
		{In("data", "a", "a"), BoundPredicate{op: OpEQ, FieldID: 2, Name: "data", Type: types.StringType, Literals: []any{"a"}}},
		{NotIn("id", 3, int64(3)), BoundPredicate{op: OpNEQ, FieldID: 1, Name: "id", Type: types.IntType, Literals: []any{int32(3)}}},
	}
	for _, c := range cases {
		got, err := Bind(sch, c.in, true)
		require.NoError(t, err, c.in.String())
		assert.Equal(t, c.want, got, c.in.String())
	}

	in, err := Bind(sch, In("data", "b", "a", "b"), true)
	require.NoError(t, err)
	assert.Equal(t, []any{"b", "a"}, in.(BoundPredicate).Literals)
}

func TestNegateAndRewriteNot(t *testing.T) {
	sch := testSchema()
	bound, err := Bind(sch, Not(And(LessThan("id", 5), StartsWith("data", "ab"))), true)
	require.NoError(t, err)

	rewritten := RewriteNot(bound)
	assert.Equal(t, `(id >= 5 or data not starts with "ab")`, rewritten.String())
	assert.Equal(t, []int{1, 2}, ReferencedFieldIDs(rewritten))
	assert.True(t, IsBound(rewritten))
	assert.False(t, IsBound(Equal("id", 1)))

	assert.Equal(t, AlwaysTrue(), Not(AlwaysFalse()))
	assert.Equal(t, Equal("id", 1), Not(Not(Equal("id", 1))))
}

func TestEvaluateNullSemantics(t *testing.T) {
	sch := testSchema()
	row := func(data any) func(int) any {
		return func(id int) any {
			switch id {
			case 1:
				return int32(7)
			case 2:
				return data
			}
			return nil
		}
	}

	cases := []struct {
		filter Expression
		value  any
		want   bool
	}{
		{Equal("data", "b"), "b", true},
		{Equal("data", "b"), nil, false},
		{NotEqual("data", "b"), nil, true},
		{NotIn("data", "a", "b"), nil, true},
		{In("data", "a", "b"), nil, false},
		{LessThan("data", "z"), nil, false},
		{IsNull("data"), nil, true},
		{NotNull("data"), nil, false},
		{StartsWith("data", "ab"), "abc", true},
		{NotStartsWith("data", "ab"), nil, true},
		{Not(Equal("data", "b")), nil, true},
		{And(Equal("id", 7), GreaterThanEqual("data", "m")), "n", true},
		{Or(Equal("id", 8), In("data", "x", "y")), "n", false},
	}
	for _, c := range cases {
		bound, err := Bind(sch, c.filter, true)
		require.NoError(t, err)
		assert.Equal(t, c.want, NewRowEvaluator(bound).Eval(row(c.value)), "%s with data=%v", c.filter, c.value)
	}
}
