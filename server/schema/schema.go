// Package schema implements table schemas with stable field ids and the
// rules for evolving them.
package schema

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/types"
)

// Schema is an immutable, id-addressed tree of fields. Lookup indexes are
// built once at construction.
type Schema struct {
	ID                 int
	IdentifierFieldIDs []int

	fields     []types.NestedField
	idToField  map[int]types.NestedField
	nameToID   map[string]int
	lowerToID  map[string]int
	idToName   map[int]string
	idToParent map[int]int
	highestID  int
}

// NewSchema validates fields and builds the lookup indexes
func NewSchema(id int, fields ...types.NestedField) (*Schema, error) {
	return NewSchemaWithIdentifiers(id, nil, fields...)
}

func NewSchemaWithIdentifiers(id int, identifierIDs []int, fields ...types.NestedField) (*Schema, error) {
	s := &Schema{
		ID:                 id,
		IdentifierFieldIDs: slices.Clone(identifierIDs),
		fields:             slices.Clone(fields),
		idToField:          make(map[int]types.NestedField),
		nameToID:           make(map[string]int),
		lowerToID:          make(map[string]int),
		idToName:           make(map[int]string),
		idToParent:         make(map[int]int),
	}
	if s.IdentifierFieldIDs == nil {
		s.IdentifierFieldIDs = []int{}
	}
	if s.fields == nil {
		s.fields = []types.NestedField{}
	}
	if err := s.index(s.fields, "", 0); err != nil {
		return nil, err
	}
	for _, fid := range s.IdentifierFieldIDs {
		f, ok := s.idToField[fid]
		if !ok {
			return nil, errors.Newf(errors.SchemaUnknownField, "identifier field %d does not exist", fid)
		}
		if !f.Type.IsPrimitive() || !f.Required {
			return nil, errors.Newf(errors.SchemaInvalid, "identifier field %q must be a required primitive", f.Name)
		}
	}
	return s, nil
}

// MustNewSchema panics on invalid fields; for tests and literals
func MustNewSchema(id int, fields ...types.NestedField) *Schema {
	s, err := NewSchema(id, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) index(fields []types.NestedField, prefix string, parent int) error {
	siblings := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.ID <= 0 {
			return errors.Newf(errors.SchemaInvalid, "field %q has invalid id %d", f.Name, f.ID)
		}
		if f.Type == nil {
			return errors.Newf(errors.SchemaInvalid, "field %q has no type", f.Name)
		}
		if _, dup := siblings[f.Name]; dup {
			return errors.Newf(errors.SchemaDuplicateName, "duplicate field name %q", prefix+f.Name).
				AddContext("field_id", fmt.Sprint(f.ID))
		}
		siblings[f.Name] = struct{}{}
		if _, dup := s.idToField[f.ID]; dup {
			return errors.Newf(errors.SchemaInvalid, "field id %d is used more than once", f.ID)
		}
		if err := types.Validate(f.Type); err != nil && f.Type.IsPrimitive() {
			return errors.New(errors.SchemaInvalid, fmt.Sprintf("field %q has an invalid type", f.Name), err)
		}

		name := prefix + f.Name
		s.idToField[f.ID] = f
		s.idToName[f.ID] = name
		s.nameToID[name] = f.ID
		s.lowerToID[strings.ToLower(name)] = f.ID
		if parent != 0 {
			s.idToParent[f.ID] = parent
		}
		s.highestID = max(s.highestID, f.ID)

		if children := types.Children(f.Type); len(children) > 0 {
			if err := s.index(children, name+".", f.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fields returns the top-level fields
func (s *Schema) Fields() []types.NestedField {
	return slices.Clone(s.fields)
}

// AsStruct returns the schema as a struct type
func (s *Schema) AsStruct() *types.StructType {
	return &types.StructType{Fields: s.Fields()}
}

func (s *Schema) NumFields() int {
	return len(s.fields)
}

func (s *Schema) FindFieldByID(id int) (types.NestedField, bool) {
	f, ok := s.idToField[id]
	return f, ok
}

// FindFieldByName resolves a dotted path such as "location.lat"
func (s *Schema) FindFieldByName(name string) (types.NestedField, bool) {
	id, ok := s.nameToID[name]
	if !ok {
		return types.NestedField{}, false
	}
	return s.idToField[id], true
}

func (s *Schema) FindFieldByNameCaseInsensitive(name string) (types.NestedField, bool) {
	id, ok := s.lowerToID[strings.ToLower(name)]
	if !ok {
		return types.NestedField{}, false
	}
	return s.idToField[id], true
}

// FindColumnName returns the full dotted name of a field id
func (s *Schema) FindColumnName(id int) (string, bool) {
	n, ok := s.idToName[id]
	return n, ok
}

func (s *Schema) FindTypeByID(id int) (types.Type, bool) {
	f, ok := s.idToField[id]
	if !ok {
		return nil, false
	}
	return f.Type, true
}

// ParentID returns the id of the field containing id; 0 for top-level fields
func (s *Schema) ParentID(id int) int {
	return s.idToParent[id]
}

// HighestFieldID is the largest id anywhere in the tree
func (s *Schema) HighestFieldID() int {
	return s.highestID
}

// FieldIDs returns every id in the tree in ascending order
func (s *Schema) FieldIDs() []int {
	ids := make([]int, 0, len(s.idToField))
	for id := range s.idToField {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Select projects the schema onto the named columns. Selecting a nested
// column keeps its parents.
func (s *Schema) Select(caseSensitive bool, names ...string) (*Schema, error) {
	ids := make([]int, 0, len(names))
	for _, n := range names {
		var (
			f  types.NestedField
			ok bool
		)
		if caseSensitive {
			f, ok = s.FindFieldByName(n)
		} else {
			f, ok = s.FindFieldByNameCaseInsensitive(n)
		}
		if !ok {
			return nil, errors.Newf(errors.SchemaUnknownField, "cannot find column %q", n)
		}
		ids = append(ids, f.ID)
	}
	return s.Project(ids...), nil
}

// Project keeps the fields with the given ids, their ancestors and, for
// selected nested fields, all their descendants.
func (s *Schema) Project(ids ...int) *Schema {
	keep := make(map[int]struct{})
	for _, id := range ids {
		for cur := id; cur != 0; cur = s.idToParent[cur] {
			keep[cur] = struct{}{}
		}
	}
	selected := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		selected[id] = struct{}{}
	}
	projected, err := NewSchema(s.ID, projectFields(s.fields, keep, selected)...)
	if err != nil {
		// a subset of a valid schema is always valid
		panic(err)
	}
	return projected
}

func projectFields(fields []types.NestedField, keep, selected map[int]struct{}) []types.NestedField {
	var out []types.NestedField
	for _, f := range fields {
		if _, ok := keep[f.ID]; !ok {
			continue
		}
		if _, whole := selected[f.ID]; !whole {
			if st, ok := f.Type.(*types.StructType); ok {
				f.Type = &types.StructType{Fields: projectFields(st.Fields, keep, selected)}
			}
		}
		out = append(out, f)
	}
	return out
}

// Equals compares structure and identifier fields, ignoring the schema id
func (s *Schema) Equals(other *Schema) bool {
	if other == nil {
		return false
	}
	return slices.Equal(s.IdentifierFieldIDs, other.IdentifierFieldIDs) &&
		s.AsStruct().Equals(other.AsStruct())
}

func (s *Schema) String() string {
	var b strings.Builder
	b.WriteString("table {\n")
	for _, f := range s.fields {
		b.WriteString("  ")
		b.WriteString(f.String())
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String()
}

type jsonSchema struct {
	Type               string              `json:"type"`
	SchemaID           int                 `json:"schema-id"`
	IdentifierFieldIDs []int               `json:"identifier-field-ids,omitempty"`
	Fields             []types.NestedField `json:"fields"`
}

func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonSchema{
		Type:               "struct",
		SchemaID:           s.ID,
		IdentifierFieldIDs: s.IdentifierFieldIDs,
		Fields:             s.fields,
	})
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	var js jsonSchema
	if err := json.Unmarshal(data, &js); err != nil {
		return err
	}
	if js.Type != "" && js.Type != "struct" {
		return errors.Newf(errors.SchemaInvalid, "schema type must be struct, got %q", js.Type)
	}
	parsed, err := NewSchemaWithIdentifiers(js.SchemaID, js.IdentifierFieldIDs, js.Fields...)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}
