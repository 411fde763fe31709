package types

import (
	"encoding/json"

	"github.com/gear6io/stratum/pkg/errors"
)

// The JSON form matches the table metadata format: primitives are strings,
// nested types are objects tagged with "type".

type jsonField struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Required bool            `json:"required"`
	Type     json.RawMessage `json:"type"`
	Doc      string          `json:"doc,omitempty"`
}

type jsonNested struct {
	Type            string          `json:"type"`
	Fields          []NestedField   `json:"fields,omitempty"`
	ElementID       int             `json:"element-id,omitempty"`
	Element         json.RawMessage `json:"element,omitempty"`
	ElementRequired bool            `json:"element-required,omitempty"`
	KeyID           int             `json:"key-id,omitempty"`
	Key             json.RawMessage `json:"key,omitempty"`
	ValueID         int             `json:"value-id,omitempty"`
	Value           json.RawMessage `json:"value,omitempty"`
	ValueRequired   bool            `json:"value-required,omitempty"`
}

// MarshalType encodes t in its metadata JSON form
func MarshalType(t Type) (json.RawMessage, error) {
	switch nt := t.(type) {
	case PrimitiveType:
		return json.Marshal(nt.String())
	case *StructType:
		fields := nt.Fields
		if fields == nil {
			fields = []NestedField{}
		}
		return json.Marshal(jsonNested{Type: "struct", Fields: fields})
	case *ListType:
		elem, err := MarshalType(nt.Element)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonNested{Type: "list", ElementID: nt.ElementID, Element: elem, ElementRequired: nt.ElementRequired})
	case *MapType:
		key, err := MarshalType(nt.Key)
		if err != nil {
			return nil, err
		}
		value, err := MarshalType(nt.Value)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonNested{Type: "map", KeyID: nt.KeyID, Key: key, ValueID: nt.ValueID, Value: value, ValueRequired: nt.ValueRequired})
	}
	return nil, errors.Newf(ErrUnsupportedType, "cannot encode type %T", t)
}

// UnmarshalType decodes the metadata JSON form of a type
func UnmarshalType(data json.RawMessage) (Type, error) {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		return ParsePrimitive(name)
	}

	var n jsonNested
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, errors.New(ErrInvalidType, "type is neither a name nor an object", err)
	}
	switch n.Type {
	case "struct":
		fields := n.Fields
		if fields == nil {
			fields = []NestedField{}
		}
		return &StructType{Fields: fields}, nil
	case "list":
		elem, err := UnmarshalType(n.Element)
		if err != nil {
			return nil, err
		}
		return &ListType{ElementID: n.ElementID, Element: elem, ElementRequired: n.ElementRequired}, nil
	case "map":
		key, err := UnmarshalType(n.Key)
		if err != nil {
			return nil, err
		}
		value, err := UnmarshalType(n.Value)
		if err != nil {
			return nil, err
		}
		return &MapType{KeyID: n.KeyID, Key: key, ValueID: n.ValueID, Value: value, ValueRequired: n.ValueRequired}, nil
	}
	return nil, errors.Newf(ErrUnsupportedType, "unknown nested type %q", n.Type)
}

func (f NestedField) MarshalJSON() ([]byte, error) {
	t, err := MarshalType(f.Type)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonField{ID: f.ID, Name: f.Name, Required: f.Required, Type: t, Doc: f.Doc})
}

func (f *NestedField) UnmarshalJSON(data []byte) error {
	var jf jsonField
	if err := json.Unmarshal(data, &jf); err != nil {
		return err
	}
	t, err := UnmarshalType(jf.Type)
	if err != nil {
		return err
	}
	*f = NestedField{ID: jf.ID, Name: jf.Name, Required: jf.Required, Type: t, Doc: jf.Doc}
	return nil
}
