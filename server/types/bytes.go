package types

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/shopspring/decimal"
)

// ToBytes encodes a canonical value in the single-value binary form used for
// column bounds and partition summaries: little-endian fixed width numbers,
// raw UTF-8 or bytes, and big-endian two's complement unscaled decimals.
func ToBytes(t PrimitiveType, v any) ([]byte, error) {
	if v == nil {
		return nil, errors.New(ErrInvalidLiteral, "null has no binary form", nil)
	}
	switch t.ID {
	case BooleanID:
		if v.(bool) {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case IntID:
		return binary.LittleEndian.AppendUint32(nil, uint32(v.(int32))), nil
	case DateID:
		return binary.LittleEndian.AppendUint32(nil, uint32(v.(Date))), nil
	case LongID:
		return binary.LittleEndian.AppendUint64(nil, uint64(v.(int64))), nil
	case TimestampID:
		return binary.LittleEndian.AppendUint64(nil, uint64(v.(Timestamp))), nil
	case FloatID:
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(v.(float32))), nil
	case DoubleID:
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(v.(float64))), nil
	case StringID:
		return []byte(v.(string)), nil
	case BinaryID, FixedID:
		b := v.([]byte)
		return append([]byte(nil), b...), nil
	case DecimalID:
		return BigIntToBytes(Unscaled(v.(decimal.Decimal), t.Scale)), nil
	}
	return nil, errors.Newf(ErrUnsupportedType, "no binary form for %s", t)
}

// FromBytes decodes ToBytes output. Values written as int or float before a
// promotion decode as long or double.
func FromBytes(t PrimitiveType, b []byte) (any, error) {
	bad := func() error {
		return errors.Newf(ErrInvalidBytes, "%d bytes is not a valid %s", len(b), t)
	}
	switch t.ID {
	case BooleanID:
		if len(b) != 1 {
			return nil, bad()
		}
		return b[0] != 0, nil
	case IntID:
		if len(b) != 4 {
			return nil, bad()
		}
		return int32(binary.LittleEndian.Uint32(b)), nil
	case DateID:
		if len(b) != 4 {
			return nil, bad()
		}
		return Date(int32(binary.LittleEndian.Uint32(b))), nil
	case LongID:
		switch len(b) {
		case 4:
			return int64(int32(binary.LittleEndian.Uint32(b))), nil
		case 8:
			return int64(binary.LittleEndian.Uint64(b)), nil
		}
		return nil, bad()
	case TimestampID:
		if len(b) != 8 {
			return nil, bad()
		}
		return Timestamp(int64(binary.LittleEndian.Uint64(b))), nil
	case FloatID:
		if len(b) != 4 {
			return nil, bad()
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
	case DoubleID:
		switch len(b) {
		case 4:
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
		case 8:
			return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
		}
		return nil, bad()
	case StringID:
		return string(b), nil
	case BinaryID:
		return append([]byte(nil), b...), nil
	case FixedID:
		if len(b) != t.Length {
			return nil, bad()
		}
		return append([]byte(nil), b...), nil
	case DecimalID:
		if len(b) == 0 {
			return nil, bad()
		}
		return decimal.NewFromBigInt(BytesToBigInt(b), -int32(t.Scale)), nil
	}
	return nil, errors.Newf(ErrUnsupportedType, "no binary form for %s", t)
}

// BigIntToBytes returns the minimal big-endian two's complement encoding of x
func BigIntToBytes(x *big.Int) []byte {
	if x.Sign() >= 0 {
		b := x.Bytes()
		if len(b) == 0 || b[0]&0x80 != 0 {
			b = append([]byte{0}, b...)
		}
		return b
	}
	n := new(big.Int).Not(x).BitLen()/8 + 1
	v := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), uint(n*8)), x)
	b := v.Bytes()
	for len(b) < n {
		b = append([]byte{0xff}, b...)
	}
	return b
}

// BytesToBigInt decodes big-endian two's complement
func BytesToBigInt(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	if len(b) > 0 && b[0]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(len(b)*8)))
	}
	return v
}
