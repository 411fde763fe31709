package partition

import (
	"encoding/json"
	"testing"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *schema.Schema {
	return schema.MustNewSchema(0,
		types.NestedField{ID: 1, Name: "id", Type: types.LongType, Required: true},
		types.NestedField{ID: 2, Name: "data", Type: types.StringType},
		types.NestedField{ID: 3, Name: "ts", Type: types.TimestampType},
		types.NestedField{ID: 4, Name: "score", Type: types.DoubleType},
	)
}

func TestBuilder(t *testing.T) {
	spec, err := NewBuilder(testSchema()).
		WithSpecID(3).
		Identity("data").
		Bucket("id", 16).
		Day("ts").
		Build()
	require.NoError(t, err)

	assert.Equal(t, 3, spec.ID)
	require.Len(t, spec.Fields, 3)
	assert.Equal(t, Field{SourceID: 2, FieldID: 1000, Name: "data", Transform: IdentityTransform{}}, spec.Fields[0])
	assert.Equal(t, Field{SourceID: 1, FieldID: 1001, Name: "id_bucket_16", Transform: BucketTransform{NumBuckets: 16}}, spec.Fields[1])
	assert.Equal(t, "ts_day", spec.Fields[2].Name)
	assert.Equal(t, 1002, spec.LastAssignedFieldID())

	pt, err := spec.PartitionType(testSchema())
	require.NoError(t, err)
	assert.Equal(t, types.StringType, pt.Fields[0].Type)
	assert.Equal(t, types.IntType, pt.Fields[1].Type)
	assert.Equal(t, types.DateType, pt.Fields[2].Type)
}

func TestBuilderRejections(t *testing.T) {
	sch := testSchema()

	_, err := NewBuilder(sch).Identity("missing").Build()
	assert.True(t, errors.Is(err, errors.PartitionUnknownSource))

	_, err = NewBuilder(sch).Bucket("score", 4).Build()
	assert.True(t, errors.Is(err, errors.PartitionInvalidTransform))

	_, err = NewBuilder(sch).Bucket("id", 0).Build()
	assert.True(t, errors.Is(err, errors.PartitionInvalidTransform))

	_, err = NewBuilder(sch).Truncate("data", -1).Build()
	assert.True(t, errors.IsPartitionSpec(err))

	_, err = NewBuilder(sch).Identity("data").Identity("data").Build()
	assert.True(t, errors.Is(err, errors.PartitionInvalidSpec))

	_, err = NewBuilder(sch).AddField("id", BucketTransform{NumBuckets: 2}, "data").Build()
	assert.True(t, errors.Is(err, errors.PartitionInvalidSpec))

	_, err = NewBuilder(sch).Hour("data").Build()
	assert.True(t, errors.IsPartitionSpec(err))
}

func TestPartitionAndPath(t *testing.T) {
	sch := testSchema()
	spec, err := NewBuilder(sch).Identity("data").Truncate("id", 100).Build()
	require.NoError(t, err)

	row := map[int]any{1: int64(1234), 2: "a b/c"}
	rec := spec.Partition(func(id int) any { return row[id] })
	assert.Equal(t, Record{"a b/c", int64(1200)}, rec)
	assert.Equal(t, "data=a%20b%2Fc/id_trunc_100=1200", spec.PartitionPath(rec))

	nullRec := spec.Partition(func(int) any { return nil })
	assert.Equal(t, Record{nil, nil}, nullRec)
	assert.Equal(t, "data=null/id_trunc_100=null", spec.PartitionPath(nullRec))
}

func TestSpecJSONRoundTrip(t *testing.T) {
	spec, err := NewBuilder(testSchema()).Identity("data").Bucket("id", 8).Month("ts").Build()
	require.NoError(t, err)

	data, err := json.Marshal(spec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"spec-id":0,"fields":[
		{"source-id":2,"field-id":1000,"name":"data","transform":"identity"},
		{"source-id":1,"field-id":1001,"name":"id_bucket_8","transform":"bucket[8]"},
		{"source-id":3,"field-id":1002,"name":"ts_month","transform":"month"}]}`, string(data))

	var back Spec
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, spec, back)

	var empty Spec
	require.NoError(t, json.Unmarshal([]byte(`{"spec-id":0,"fields":[]}`), &empty))
	assert.Equal(t, Unpartitioned(), empty)
	assert.True(t, empty.IsUnpartitioned())
}

func TestSpecUpdate(t *testing.T) {
	sch := testSchema()
	base, err := NewBuilder(sch).Identity("data").Build()
	require.NoError(t, err)

	next, last, err := NewUpdate(base, sch, 1000).
		AddField("ts", DayTransform{}, "").
		RenameField("data", "category").
		Apply(1)
	require.NoError(t, err)
	assert.Equal(t, 1, next.ID)
	require.Len(t, next.Fields, 2)
	assert.Equal(t, Field{SourceID: 2, FieldID: 1000, Name: "category", Transform: IdentityTransform{}}, next.Fields[0])
	assert.Equal(t, 1001, next.Fields[1].FieldID)
	assert.Equal(t, 1001, last)

	removed, last, err := NewUpdate(next, sch, last).RemoveField("category").Apply(2)
	require.NoError(t, err)
	require.Len(t, removed.Fields, 1)
	assert.Equal(t, "ts_day", removed.Fields[0].Name)
	assert.Equal(t, 1001, last)

	_, _, err = NewUpdate(base, sch, 1000).RemoveField("nope").Apply(1)
	assert.True(t, errors.IsPartitionSpec(err))

	// the base spec is untouched
	assert.Equal(t, "data", base.Fields[0].Name)
}
