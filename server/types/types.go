// Package types holds the table type system: primitive and nested types,
// fields with stable ids, and the literal values that flow through
// partition tuples, column bounds and filters.
package types

import (
	"fmt"
	"strings"
)

// TypeID enumerates the kinds of Type
type TypeID int

const (
	BooleanID TypeID = iota
	IntID
	LongID
	FloatID
	DoubleID
	DateID
	TimestampID
	StringID
	BinaryID
	DecimalID
	FixedID
	StructID
	ListID
	MapID
)

// Type is either a PrimitiveType or one of the nested types
type Type interface {
	TypeID() TypeID
	IsPrimitive() bool
	Equals(Type) bool
	String() string
}

// PrimitiveType is a comparable value; two primitives are equal iff ==.
type PrimitiveType struct {
	ID        TypeID
	Precision int // decimal
	Scale     int // decimal
	Length    int // fixed
}

var (
	BooleanType   = PrimitiveType{ID: BooleanID}
	IntType       = PrimitiveType{ID: IntID}
	LongType      = PrimitiveType{ID: LongID}
	FloatType     = PrimitiveType{ID: FloatID}
	DoubleType    = PrimitiveType{ID: DoubleID}
	DateType      = PrimitiveType{ID: DateID}
	TimestampType = PrimitiveType{ID: TimestampID}
	StringType    = PrimitiveType{ID: StringID}
	BinaryType    = PrimitiveType{ID: BinaryID}
)

// DecimalTypeOf returns decimal(precision, scale)
func DecimalTypeOf(precision, scale int) PrimitiveType {
	return PrimitiveType{ID: DecimalID, Precision: precision, Scale: scale}
}

// FixedTypeOf returns fixed[length]
func FixedTypeOf(length int) PrimitiveType {
	return PrimitiveType{ID: FixedID, Length: length}
}

func (p PrimitiveType) TypeID() TypeID    { return p.ID }
func (p PrimitiveType) IsPrimitive() bool { return true }

func (p PrimitiveType) Equals(other Type) bool {
	o, ok := other.(PrimitiveType)
	return ok && o == p
}

func (p PrimitiveType) String() string {
	switch p.ID {
	case BooleanID:
		return "boolean"
	case IntID:
		return "int"
	case LongID:
		return "long"
	case FloatID:
		return "float"
	case DoubleID:
		return "double"
	case DateID:
		return "date"
	case TimestampID:
		return "timestamp"
	case StringID:
		return "string"
	case BinaryID:
		return "binary"
	case DecimalID:
		return fmt.Sprintf("decimal(%d,%d)", p.Precision, p.Scale)
	case FixedID:
		return fmt.Sprintf("fixed[%d]", p.Length)
	}
	return fmt.Sprintf("unknown(%d)", int(p.ID))
}

// NestedField is a named, id-carrying child of a struct
type NestedField struct {
	ID       int
	Name     string
	Type     Type
	Required bool
	Doc      string
}

func (f NestedField) String() string {
	req := "optional"
	if f.Required {
		req = "required"
	}
	return fmt.Sprintf("%d: %s: %s %s", f.ID, f.Name, req, f.Type)
}

// Equals compares fields including their nested types
func (f NestedField) Equals(o NestedField) bool {
	return f.ID == o.ID && f.Name == o.Name && f.Required == o.Required &&
		f.Doc == o.Doc && f.Type.Equals(o.Type)
}

type StructType struct {
	Fields []NestedField
}

func (s *StructType) TypeID() TypeID    { return StructID }
func (s *StructType) IsPrimitive() bool { return false }

func (s *StructType) Equals(other Type) bool {
	o, ok := other.(*StructType)
	if !ok || len(o.Fields) != len(s.Fields) {
		return false
	}
	for i := range s.Fields {
		if !s.Fields[i].Equals(o.Fields[i]) {
			return false
		}
	}
	return true
}

func (s *StructType) String() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = fmt.Sprintf("%s:%s", f.Name, f.Type)
	}
	return "struct<" + strings.Join(parts, ",") + ">"
}

// Field returns the direct child with id, or false
func (s *StructType) Field(id int) (NestedField, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return NestedField{}, false
}

type ListType struct {
	ElementID       int
	Element         Type
	ElementRequired bool
}

func (l *ListType) TypeID() TypeID    { return ListID }
func (l *ListType) IsPrimitive() bool { return false }

func (l *ListType) Equals(other Type) bool {
	o, ok := other.(*ListType)
	return ok && o.ElementID == l.ElementID && o.ElementRequired == l.ElementRequired &&
		o.Element.Equals(l.Element)
}

func (l *ListType) String() string {
	return fmt.Sprintf("list<%s>", l.Element)
}

// ElementField exposes the element as a field so id walks treat it uniformly
func (l *ListType) ElementField() NestedField {
	return NestedField{ID: l.ElementID, Name: "element", Type: l.Element, Required: l.ElementRequired}
}

type MapType struct {
	KeyID         int
	Key           Type
	ValueID       int
	Value         Type
	ValueRequired bool
}

func (m *MapType) TypeID() TypeID    { return MapID }
func (m *MapType) IsPrimitive() bool { return false }

func (m *MapType) Equals(other Type) bool {
	o, ok := other.(*MapType)
	return ok && o.KeyID == m.KeyID && o.ValueID == m.ValueID &&
		o.ValueRequired == m.ValueRequired && o.Key.Equals(m.Key) && o.Value.Equals(m.Value)
}

func (m *MapType) String() string {
	return fmt.Sprintf("map<%s,%s>", m.Key, m.Value)
}

func (m *MapType) KeyField() NestedField {
	return NestedField{ID: m.KeyID, Name: "key", Type: m.Key, Required: true}
}

func (m *MapType) ValueField() NestedField {
	return NestedField{ID: m.ValueID, Name: "value", Type: m.Value, Required: m.ValueRequired}
}

// Children returns the id-carrying children of a nested type, in order
func Children(t Type) []NestedField {
	switch nt := t.(type) {
	case *StructType:
		return nt.Fields
	case *ListType:
		return []NestedField{nt.ElementField()}
	case *MapType:
		return []NestedField{nt.KeyField(), nt.ValueField()}
	}
	return nil
}

// Validate checks type parameters
func Validate(t Type) error {
	switch nt := t.(type) {
	case PrimitiveType:
		switch nt.ID {
		case DecimalID:
			if nt.Precision <= 0 || nt.Precision > 38 {
				return errInvalidType("decimal precision must be in [1, 38], got %d", nt.Precision)
			}
			if nt.Scale < 0 || nt.Scale > nt.Precision {
				return errInvalidType("decimal scale %d must be in [0, precision %d]", nt.Scale, nt.Precision)
			}
		case FixedID:
			if nt.Length <= 0 {
				return errInvalidType("fixed length must be positive, got %d", nt.Length)
			}
		}
		if nt.ID > FixedID {
			return errInvalidType("unknown primitive type id %d", int(nt.ID))
		}
	case *StructType:
		names := make(map[string]struct{}, len(nt.Fields))
		for _, f := range nt.Fields {
			if f.Name == "" {
				return errInvalidType("struct field %d has an empty name", f.ID)
			}
			if _, dup := names[f.Name]; dup {
				return errInvalidType("duplicate struct field name: %s", f.Name)
			}
			names[f.Name] = struct{}{}
			if f.Type == nil {
				return errInvalidType("struct field '%s' has no type", f.Name)
			}
			if err := Validate(f.Type); err != nil {
				return err
			}
		}
	case *ListType:
		if nt.Element == nil {
			return errInvalidType("list element type cannot be nil")
		}
		return Validate(nt.Element)
	case *MapType:
		if nt.Key == nil || nt.Value == nil {
			return errInvalidType("map key and value types cannot be nil")
		}
		if err := Validate(nt.Key); err != nil {
			return err
		}
		return Validate(nt.Value)
	default:
		return errInvalidType("unknown type %T", t)
	}
	return nil
}
