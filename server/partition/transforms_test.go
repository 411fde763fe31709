package partition

import (
	"testing"
	"time"

	"github.com/gear6io/stratum/server/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reference hashes for the 32-bit murmur3 bucket function.
func TestBucketHashReferenceValues(t *testing.T) {
	date, err := types.ParseLiteral(types.DateType, "2017-11-16")
	require.NoError(t, err)
	dec, err := types.Convert("14.20", types.DecimalTypeOf(9, 2))
	require.NoError(t, err)

	cases := []struct {
		name string
		val  any
		want int32
	}{
		{"int", int32(34), 2017239379},
		{"long", int64(34), 2017239379},
		{"date", date, -653330422},
		{"string", "iceberg", 1210000089},
		{"binary", []byte{0, 1, 2, 3}, -188683207},
		{"decimal", dec, -500754589},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, BucketHash(c.val))
		})
	}
}

func TestTransformsAreDeterministic(t *testing.T) {
	bucket := BucketTransform{NumBuckets: 16}
	for _, v := range []any{int32(34), "iceberg", int64(-7), []byte("x")} {
		first := bucket.Apply(v)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, bucket.Apply(v))
		}
		b := first.(int32)
		assert.True(t, b >= 0 && b < 16)
	}
	assert.Nil(t, bucket.Apply(nil))
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		width int
		in    any
		want  any
	}{
		{10, int32(1), int32(0)},
		{10, int32(-1), int32(-10)},
		{10, int64(19), int64(10)},
		{3, "iceberg", "ice"},
		{2, "héllo", "hé"},
		{3, "ab", "ab"},
		{2, []byte{1, 2, 3}, []byte{1, 2}},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, TruncateTransform{Width: c.width}.Apply(c.in))
	}

	dec := TruncateTransform{Width: 50}.Apply(decimal.New(1065, -2)).(decimal.Decimal)
	assert.True(t, dec.Equal(decimal.New(1050, -2)))
	assert.Equal(t, int32(-2), dec.Exponent())
}

func TestTimeTransforms(t *testing.T) {
	ts := types.TimestampFromTime(time.Date(2017, 11, 16, 22, 31, 8, 0, time.UTC))
	date := ts.ToDate()

	assert.Equal(t, int32(47), YearTransform{}.Apply(ts))
	assert.Equal(t, int32(47), YearTransform{}.Apply(date))
	assert.Equal(t, int32(574), MonthTransform{}.Apply(ts))
	assert.Equal(t, types.Date(17486), DayTransform{}.Apply(ts))
	assert.Equal(t, int32(419686), HourTransform{}.Apply(ts))

	assert.Equal(t, "2017", YearTransform{}.ToHumanString(int32(47)))
	assert.Equal(t, "2017-11", MonthTransform{}.ToHumanString(int32(574)))
	assert.Equal(t, "2017-11-16", DayTransform{}.ToHumanString(types.Date(17486)))
	assert.Equal(t, "2017-11-16-22", HourTransform{}.ToHumanString(int32(419686)))

	before := types.TimestampFromTime(time.Date(1969, 12, 31, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, int32(-1), YearTransform{}.Apply(before))
	assert.Equal(t, int32(-1), MonthTransform{}.Apply(before))
	assert.Equal(t, types.Date(-1), DayTransform{}.Apply(before))
	assert.Equal(t, int32(-1), HourTransform{}.Apply(before))
	assert.Equal(t, "1969-12", MonthTransform{}.ToHumanString(int32(-1)))
}

func TestCanTransform(t *testing.T) {
	assert.False(t, BucketTransform{NumBuckets: 4}.CanTransform(types.DoubleType))
	assert.False(t, BucketTransform{NumBuckets: 4}.CanTransform(types.BooleanType))
	assert.False(t, HourTransform{}.CanTransform(types.DateType))
	assert.True(t, DayTransform{}.CanTransform(types.DateType))
	assert.False(t, TruncateTransform{Width: 2}.CanTransform(types.DateType))
	assert.False(t, IdentityTransform{}.CanTransform(&types.ListType{Element: types.IntType}))
	assert.True(t, VoidTransform{}.CanTransform(types.DoubleType))
}

func TestParseTransform(t *testing.T) {
	for _, s := range []string{"identity", "bucket[16]", "truncate[4]", "year", "month", "day", "hour", "void"} {
		tr, err := ParseTransform(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, tr.String())
	}
	for _, s := range []string{"bucket[0]", "truncate[]", "weekly"} {
		_, err := ParseTransform(s)
		assert.Error(t, err, s)
	}
}
