package types

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/gear6io/stratum/pkg/errors"
)

var (
	decimalRe = regexp.MustCompile(`^decimal\(\s*(\d+)\s*,\s*(\d+)\s*\)$`)
	fixedRe   = regexp.MustCompile(`^fixed\[\s*(\d+)\s*\]$`)
)

// primitive names, including the aliases used by other engines
var primitiveNames = map[string]PrimitiveType{
	"boolean":   BooleanType,
	"bool":      BooleanType,
	"int":       IntType,
	"int32":     IntType,
	"integer":   IntType,
	"long":      LongType,
	"int64":     LongType,
	"bigint":    LongType,
	"float":     FloatType,
	"float32":   FloatType,
	"double":    DoubleType,
	"float64":   DoubleType,
	"date":      DateType,
	"timestamp": TimestampType,
	"string":    StringType,
	"binary":    BinaryType,
}

func errInvalidType(format string, args ...interface{}) error {
	return errors.Newf(ErrInvalidType, format, args...)
}

// ParsePrimitive parses a primitive type name such as "long" or "decimal(9,2)"
func ParsePrimitive(s string) (PrimitiveType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if p, ok := primitiveNames[s]; ok {
		return p, nil
	}
	if m := decimalRe.FindStringSubmatch(s); m != nil {
		precision, _ := strconv.Atoi(m[1])
		scale, _ := strconv.Atoi(m[2])
		p := DecimalTypeOf(precision, scale)
		return p, Validate(p)
	}
	if m := fixedRe.FindStringSubmatch(s); m != nil {
		length, _ := strconv.Atoi(m[1])
		p := FixedTypeOf(length)
		return p, Validate(p)
	}
	return PrimitiveType{}, errors.Newf(ErrUnsupportedType, "unsupported type: %s", s)
}

// ParseType parses the textual form list<T>, map<K,V>, struct<name:T,...> or a
// primitive. Nested ids are left at zero; schema updates assign fresh ones.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)

	switch {
	case strings.HasPrefix(lower, "list<"):
		inner, err := unwrap(s, "list<")
		if err != nil {
			return nil, err
		}
		elem, err := ParseType(inner)
		if err != nil {
			return nil, err
		}
		return &ListType{Element: elem}, nil

	case strings.HasPrefix(lower, "map<"):
		inner, err := unwrap(s, "map<")
		if err != nil {
			return nil, err
		}
		idx := findTopLevel(inner, ',')
		if idx == -1 {
			return nil, errInvalidType("map must have key and value types separated by comma: %s", s)
		}
		key, err := ParseType(inner[:idx])
		if err != nil {
			return nil, err
		}
		if !key.IsPrimitive() {
			return nil, errInvalidType("map keys must be primitive: %s", s)
		}
		value, err := ParseType(inner[idx+1:])
		if err != nil {
			return nil, err
		}
		return &MapType{Key: key, Value: value}, nil

	case strings.HasPrefix(lower, "struct<"):
		inner, err := unwrap(s, "struct<")
		if err != nil {
			return nil, err
		}
		st := &StructType{}
		for _, part := range splitTopLevel(inner) {
			colon := findTopLevel(part, ':')
			if colon == -1 {
				return nil, errInvalidType("struct field must be name:type, got %q", part)
			}
			ft, err := ParseType(part[colon+1:])
			if err != nil {
				return nil, err
			}
			st.Fields = append(st.Fields, NestedField{Name: strings.TrimSpace(part[:colon]), Type: ft})
		}
		if len(st.Fields) == 0 {
			return nil, errInvalidType("struct must have at least one field")
		}
		return st, Validate(st)
	}

	return ParsePrimitive(s)
}

func unwrap(s, prefix string) (string, error) {
	if !strings.HasSuffix(s, ">") {
		return "", errInvalidType("unbalanced type: %s", s)
	}
	inner := strings.TrimSpace(s[len(prefix) : len(s)-1])
	if inner == "" {
		return "", errInvalidType("empty type parameter: %s", s)
	}
	return inner, nil
}

// findTopLevel returns the index of sep outside any <>, () or [] nesting
func findTopLevel(s string, sep byte) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<', '(', '[':
			depth++
		case '>', ')', ']':
			depth--
		case sep:
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func splitTopLevel(s string) []string {
	var parts []string
	for {
		idx := findTopLevel(s, ',')
		if idx == -1 {
			if strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
			return parts
		}
		parts = append(parts, strings.TrimSpace(s[:idx]))
		s = s[idx+1:]
	}
}
