package partition

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/types"
	"github.com/shopspring/decimal"
	"github.com/twmb/murmur3"
)

// Transform maps a source column value to a partition value. Apply is pure
// and deterministic; nil maps to nil.
type Transform interface {
	fmt.Stringer
	CanTransform(src types.Type) bool
	ResultType(src types.Type) types.PrimitiveType
	Apply(v any) any
	// ToHumanString renders a result value for partition paths
	ToHumanString(v any) string
	// PreservesOrder reports whether a <= b implies Apply(a) <= Apply(b)
	PreservesOrder() bool
}

type IdentityTransform struct{}
type BucketTransform struct{ NumBuckets int }
type TruncateTransform struct{ Width int }
type YearTransform struct{}
type MonthTransform struct{}
type DayTransform struct{}
type HourTransform struct{}
type VoidTransform struct{}

var (
	bucketRe   = regexp.MustCompile(`^bucket\[\s*(\d+)\s*\]$`)
	truncateRe = regexp.MustCompile(`^truncate\[\s*(\d+)\s*\]$`)
)

// ParseTransform parses the string form written in metadata
func ParseTransform(s string) (Transform, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "identity":
		return IdentityTransform{}, nil
	case "year", "years":
		return YearTransform{}, nil
	case "month", "months":
		return MonthTransform{}, nil
	case "day", "days":
		return DayTransform{}, nil
	case "hour", "hours":
		return HourTransform{}, nil
	case "void":
		return VoidTransform{}, nil
	}
	if m := bucketRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return nil, errors.Newf(errors.PartitionInvalidTransform, "invalid bucket count in %q", s)
		}
		return BucketTransform{NumBuckets: n}, nil
	}
	if m := truncateRe.FindStringSubmatch(s); m != nil {
		w, err := strconv.Atoi(m[1])
		if err != nil || w <= 0 {
			return nil, errors.Newf(errors.PartitionInvalidTransform, "invalid truncate width in %q", s)
		}
		return TruncateTransform{Width: w}, nil
	}
	return nil, errors.Newf(errors.PartitionInvalidTransform, "unknown transform %q", s)
}

func primitiveID(t types.Type) (types.TypeID, bool) {
	p, ok := t.(types.PrimitiveType)
	if !ok {
		return 0, false
	}
	return p.ID, true
}

func humanValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case []byte:
		return fmt.Sprintf("%x", x)
	case decimal.Decimal:
		return x.StringFixed(-x.Exponent())
	}
	return fmt.Sprint(v)
}

// identity

func (IdentityTransform) String() string { return "identity" }

func (IdentityTransform) CanTransform(src types.Type) bool { return src.IsPrimitive() }

func (IdentityTransform) ResultType(src types.Type) types.PrimitiveType {
	p, _ := src.(types.PrimitiveType)
	return p
}

func (IdentityTransform) Apply(v any) any { return v }

func (IdentityTransform) ToHumanString(v any) string { return humanValue(v) }

func (IdentityTransform) PreservesOrder() bool { return true }

// bucket

func (t BucketTransform) String() string { return fmt.Sprintf("bucket[%d]", t.NumBuckets) }

func (BucketTransform) CanTransform(src types.Type) bool {
	id, ok := primitiveID(src)
	if !ok {
		return false
	}
	switch id {
	case types.IntID, types.LongID, types.DateID, types.TimestampID, types.StringID,
		types.BinaryID, types.FixedID, types.DecimalID:
		return true
	}
	return false
}

func (BucketTransform) ResultType(types.Type) types.PrimitiveType { return types.IntType }

func (t BucketTransform) Apply(v any) any {
	if v == nil {
		return nil
	}
	return int32((int64(BucketHash(v)) & math.MaxInt32) % int64(t.NumBuckets))
}

func (BucketTransform) ToHumanString(v any) string { return humanValue(v) }

func (BucketTransform) PreservesOrder() bool { return false }

// BucketHash is 32-bit murmur3 (seed 0) over the value's hash bytes: integers
// and dates as 8-byte little-endian longs, strings as UTF-8, decimals as
// their minimal two's complement unscaled value.
func BucketHash(v any) int32 {
	var data []byte
	switch x := v.(type) {
	case int32:
		data = hashLong(int64(x))
	case int64:
		data = hashLong(x)
	case types.Date:
		data = hashLong(int64(x))
	case types.Timestamp:
		data = hashLong(int64(x))
	case string:
		data = []byte(x)
	case []byte:
		data = x
	case decimal.Decimal:
		data = types.BigIntToBytes(x.Coefficient())
	default:
		panic(fmt.Sprintf("cannot bucket %T", v))
	}
	return int32(murmur3.Sum32(data))
}

func hashLong(v int64) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(v))
}

// truncate

func (t TruncateTransform) String() string { return fmt.Sprintf("truncate[%d]", t.Width) }

func (TruncateTransform) CanTransform(src types.Type) bool {
	id, ok := primitiveID(src)
	if !ok {
		return false
	}
	switch id {
	case types.IntID, types.LongID, types.StringID, types.BinaryID, types.DecimalID:
		return true
	}
	return false
}

func (TruncateTransform) ResultType(src types.Type) types.PrimitiveType {
	p, _ := src.(types.PrimitiveType)
	return p
}

func (t TruncateTransform) Apply(v any) any {
	w := int64(t.Width)
	switch x := v.(type) {
	case nil:
		return nil
	case int32:
		return x - int32(((int64(x)%w)+w)%w)
	case int64:
		return x - ((x%w)+w)%w
	case string:
		return TruncateString(x, t.Width)
	case []byte:
		if len(x) <= t.Width {
			return x
		}
		return x[:t.Width]
	case decimal.Decimal:
		unscaled := x.Coefficient()
		bw := big.NewInt(w)
		rem := new(big.Int).Mod(unscaled, bw) // Euclidean, always >= 0
		return decimal.NewFromBigInt(unscaled.Sub(unscaled, rem), x.Exponent())
	}
	panic(fmt.Sprintf("cannot truncate %T", v))
}

// TruncateString keeps the first width code points
func TruncateString(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	i := 0
	for pos := range s {
		if i == width {
			return s[:pos]
		}
		i++
	}
	return s
}

func (TruncateTransform) ToHumanString(v any) string { return humanValue(v) }

func (TruncateTransform) PreservesOrder() bool { return true }

// time transforms

func isTime(src types.Type) bool {
	id, ok := primitiveID(src)
	return ok && (id == types.DateID || id == types.TimestampID)
}

func (YearTransform) String() string                            { return "year" }
func (YearTransform) CanTransform(src types.Type) bool          { return isTime(src) }
func (YearTransform) ResultType(types.Type) types.PrimitiveType { return types.IntType }
func (YearTransform) PreservesOrder() bool                      { return true }

func (YearTransform) Apply(v any) any {
	switch x := v.(type) {
	case types.Date:
		return int32(x.Time().Year() - 1970)
	case types.Timestamp:
		return int32(x.Time().Year() - 1970)
	}
	return nil
}

func (YearTransform) ToHumanString(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%04d", 1970+int(v.(int32)))
}

func (MonthTransform) String() string                            { return "month" }
func (MonthTransform) CanTransform(src types.Type) bool          { return isTime(src) }
func (MonthTransform) ResultType(types.Type) types.PrimitiveType { return types.IntType }
func (MonthTransform) PreservesOrder() bool                      { return true }

func (MonthTransform) Apply(v any) any {
	var year, month int
	switch x := v.(type) {
	case types.Date:
		year, month = x.Time().Year(), int(x.Time().Month())
	case types.Timestamp:
		year, month = x.Time().Year(), int(x.Time().Month())
	default:
		return nil
	}
	return int32((year-1970)*12 + month - 1)
}

func (MonthTransform) ToHumanString(v any) string {
	if v == nil {
		return "null"
	}
	m := int(v.(int32))
	year := 1970 + floorDiv(m, 12)
	return fmt.Sprintf("%04d-%02d", year, m-(year-1970)*12+1)
}

func (DayTransform) String() string                            { return "day" }
func (DayTransform) CanTransform(src types.Type) bool          { return isTime(src) }
func (DayTransform) ResultType(types.Type) types.PrimitiveType { return types.DateType }
func (DayTransform) PreservesOrder() bool                      { return true }

func (DayTransform) Apply(v any) any {
	switch x := v.(type) {
	case types.Date:
		return x
	case types.Timestamp:
		return x.ToDate()
	}
	return nil
}

func (DayTransform) ToHumanString(v any) string {
	if v == nil {
		return "null"
	}
	return v.(types.Date).String()
}

const microsPerHour = int64(3600 * 1000 * 1000)

func (HourTransform) String() string { return "hour" }

func (HourTransform) CanTransform(src types.Type) bool {
	id, ok := primitiveID(src)
	return ok && id == types.TimestampID
}

func (HourTransform) ResultType(types.Type) types.PrimitiveType { return types.IntType }
func (HourTransform) PreservesOrder() bool                      { return true }

func (HourTransform) Apply(v any) any {
	if x, ok := v.(types.Timestamp); ok {
		return int32(floorDiv64(int64(x), microsPerHour))
	}
	return nil
}

func (HourTransform) ToHumanString(v any) string {
	if v == nil {
		return "null"
	}
	ts := types.Timestamp(int64(v.(int32)) * microsPerHour)
	return ts.Time().Format("2006-01-02-15")
}

// void

func (VoidTransform) String() string               { return "void" }
func (VoidTransform) CanTransform(types.Type) bool { return true }
func (VoidTransform) Apply(any) any                { return nil }
func (VoidTransform) ToHumanString(any) string     { return "null" }
func (VoidTransform) PreservesOrder() bool         { return false }

func (VoidTransform) ResultType(src types.Type) types.PrimitiveType {
	if p, ok := src.(types.PrimitiveType); ok {
		return p
	}
	return types.IntType
}

func floorDiv(a, b int) int {
	return int(floorDiv64(int64(a), int64(b)))
}

func floorDiv64(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func escapePathValue(s string) string {
	return url.PathEscape(s)
}
