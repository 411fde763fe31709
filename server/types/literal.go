package types

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/shopspring/decimal"
)

// Literal values use one canonical Go type per primitive:
//
//	boolean   bool
//	int       int32
//	long      int64
//	float     float32
//	double    float64
//	date      Date
//	timestamp Timestamp
//	string    string
//	binary    []byte
//	fixed     []byte
//	decimal   decimal.Decimal (exponent == -scale)
//
// A nil value is null.

// Date is days since 1970-01-01
type Date int32

// Timestamp is microseconds since 1970-01-01T00:00:00Z
type Timestamp int64

const microsPerDay = int64(24 * time.Hour / time.Microsecond)

func DateFromTime(t time.Time) Date {
	return Date(floorDiv(t.UTC().Unix(), 86400))
}

func (d Date) Time() time.Time {
	return time.Unix(int64(d)*86400, 0).UTC()
}

func (d Date) String() string {
	return d.Time().Format("2006-01-02")
}

func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMicro())
}

func (ts Timestamp) Time() time.Time {
	return time.UnixMicro(int64(ts)).UTC()
}

func (ts Timestamp) String() string {
	return ts.Time().Format("2006-01-02T15:04:05.000000")
}

// ToDate truncates a timestamp to its day
func (ts Timestamp) ToDate() Date {
	return Date(floorDiv(int64(ts), microsPerDay))
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func errLiteral(v any, t Type) error {
	return errors.Newf(ErrInvalidLiteral, "cannot use %v (%T) as %s", v, v, t)
}

// Convert coerces v to the canonical value of t. Numeric widening and
// time.Time are accepted; anything lossy is rejected.
func Convert(v any, t PrimitiveType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t.ID {
	case BooleanID:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case IntID:
		if i, ok := asInt64(v); ok {
			if i < math.MinInt32 || i > math.MaxInt32 {
				return nil, errors.Newf(ErrLiteralOutOfRange, "%d does not fit in int", i)
			}
			return int32(i), nil
		}
	case LongID:
		if i, ok := asInt64(v); ok {
			return i, nil
		}
	case FloatID:
		switch n := v.(type) {
		case float32:
			return n, nil
		case float64:
			return float32(n), nil
		}
		if i, ok := asInt64(v); ok {
			return float32(i), nil
		}
	case DoubleID:
		switch n := v.(type) {
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		}
		if i, ok := asInt64(v); ok {
			return float64(i), nil
		}
	case DateID:
		switch d := v.(type) {
		case Date:
			return d, nil
		case time.Time:
			return DateFromTime(d), nil
		case int32:
			return Date(d), nil
		case int:
			return Date(d), nil
		}
	case TimestampID:
		switch ts := v.(type) {
		case Timestamp:
			return ts, nil
		case time.Time:
			return TimestampFromTime(ts), nil
		case int64:
			return Timestamp(ts), nil
		case Date:
			return Timestamp(int64(ts) * microsPerDay), nil
		}
	case StringID:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case BinaryID:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	case FixedID:
		if b, ok := v.([]byte); ok {
			if len(b) != t.Length {
				return nil, errors.Newf(ErrInvalidLiteral, "fixed[%d] value has %d bytes", t.Length, len(b))
			}
			return b, nil
		}
	case DecimalID:
		var d decimal.Decimal
		switch n := v.(type) {
		case decimal.Decimal:
			d = n
		case string:
			parsed, err := decimal.NewFromString(n)
			if err != nil {
				return nil, errors.New(ErrInvalidLiteral, "invalid decimal literal", err)
			}
			d = parsed
		case float64:
			d = decimal.NewFromFloat(n)
		default:
			i, ok := asInt64(v)
			if !ok {
				return nil, errLiteral(v, t)
			}
			d = decimal.NewFromInt(i)
		}
		return normalizeDecimal(d, t)
	}
	return nil, errLiteral(v, t)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

// normalizeDecimal returns d with exponent -scale, rejecting values that would
// lose digits or overflow the precision.
func normalizeDecimal(d decimal.Decimal, t PrimitiveType) (decimal.Decimal, error) {
	if !d.Round(int32(t.Scale)).Equal(d) {
		return decimal.Decimal{}, errors.Newf(ErrInvalidLiteral, "%s has more than %d fractional digits", d, t.Scale)
	}
	unscaled := d.Shift(int32(t.Scale)).BigInt()
	if len(new(big.Int).Abs(unscaled).String()) > t.Precision {
		return decimal.Decimal{}, errors.Newf(ErrLiteralOutOfRange, "%s does not fit in %s", d, t)
	}
	return decimal.NewFromBigInt(unscaled, -int32(t.Scale)), nil
}

// Unscaled returns the unscaled integer of a decimal literal at scale
func Unscaled(d decimal.Decimal, scale int) *big.Int {
	return d.Shift(int32(scale)).BigInt()
}

// Compare orders two non-null canonical values of t
func Compare(t PrimitiveType, a, b any) int {
	switch t.ID {
	case BooleanID:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case IntID:
		return cmp.Compare(a.(int32), b.(int32))
	case LongID:
		return cmp.Compare(a.(int64), b.(int64))
	case FloatID:
		return cmp.Compare(a.(float32), b.(float32))
	case DoubleID:
		return cmp.Compare(a.(float64), b.(float64))
	case DateID:
		return cmp.Compare(a.(Date), b.(Date))
	case TimestampID:
		return cmp.Compare(a.(Timestamp), b.(Timestamp))
	case StringID:
		return strings.Compare(a.(string), b.(string))
	case BinaryID, FixedID:
		return bytes.Compare(a.([]byte), b.([]byte))
	case DecimalID:
		return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
	}
	panic(fmt.Sprintf("compare on unsupported type %s", t))
}

// Equal reports whether two canonical values of t are equal; nulls are equal
// only to each other.
func Equal(t PrimitiveType, a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Compare(t, a, b) == 0
}

// ParseLiteral parses the textual form of a value of t
func ParseLiteral(t PrimitiveType, s string) (any, error) {
	wrap := func(err error) error {
		return errors.New(ErrInvalidLiteral, fmt.Sprintf("cannot parse %q as %s", s, t), err)
	}
	switch t.ID {
	case BooleanID:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, wrap(err)
		}
		return b, nil
	case IntID:
		i, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, wrap(err)
		}
		return int32(i), nil
	case LongID:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, wrap(err)
		}
		return i, nil
	case FloatID:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, wrap(err)
		}
		return float32(f), nil
	case DoubleID:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, wrap(err)
		}
		return f, nil
	case DateID:
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, wrap(err)
		}
		return DateFromTime(d), nil
	case TimestampID:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return TimestampFromTime(ts), nil
			}
		}
		return nil, wrap(nil)
	case StringID:
		return s, nil
	case BinaryID, FixedID:
		return Convert([]byte(s), t)
	case DecimalID:
		return Convert(s, t)
	}
	return nil, errors.Newf(ErrUnsupportedType, "cannot parse literals of %s", t)
}

// FormatLiteral renders a canonical value for display
func FormatLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case []byte:
		return fmt.Sprintf("0x%x", x)
	case decimal.Decimal:
		return x.StringFixed(-x.Exponent())
	}
	return fmt.Sprint(v)
}
