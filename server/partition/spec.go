// Package partition defines partition specs, the transforms they apply to
// source columns, and partition tuples.
package partition

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/types"
)

// FirstFieldID is the id given to the first partition field of a table
const FirstFieldID = 1000

// Field derives one partition value from one source column
type Field struct {
	SourceID  int
	FieldID   int
	Name      string
	Transform Transform
}

func (f Field) String() string {
	return fmt.Sprintf("%d: %s: %s(%d)", f.FieldID, f.Name, f.Transform, f.SourceID)
}

type jsonField struct {
	SourceID  int    `json:"source-id"`
	FieldID   int    `json:"field-id"`
	Name      string `json:"name"`
	Transform string `json:"transform"`
}

func (f Field) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonField{SourceID: f.SourceID, FieldID: f.FieldID, Name: f.Name, Transform: f.Transform.String()})
}

func (f *Field) UnmarshalJSON(data []byte) error {
	var jf jsonField
	if err := json.Unmarshal(data, &jf); err != nil {
		return err
	}
	t, err := ParseTransform(jf.Transform)
	if err != nil {
		return err
	}
	*f = Field{SourceID: jf.SourceID, FieldID: jf.FieldID, Name: jf.Name, Transform: t}
	return nil
}

// Record is a partition tuple, positionally aligned with Spec.Fields
type Record []any

// Spec is an ordered list of partition fields with an id unique per table
type Spec struct {
	ID     int     `json:"spec-id"`
	Fields []Field `json:"fields"`
}

// Unpartitioned is the spec with no fields
func Unpartitioned() Spec {
	return Spec{ID: 0, Fields: []Field{}}
}

func (s Spec) NumFields() int {
	return len(s.Fields)
}

// IsUnpartitioned reports whether every row lands in the same partition
func (s Spec) IsUnpartitioned() bool {
	for _, f := range s.Fields {
		if _, void := f.Transform.(VoidTransform); !void {
			return false
		}
	}
	return true
}

// LastAssignedFieldID is the highest partition field id in the spec
func (s Spec) LastAssignedFieldID() int {
	last := FirstFieldID - 1
	for _, f := range s.Fields {
		last = max(last, f.FieldID)
	}
	return last
}

// FieldsBySourceID returns the partition fields derived from a column
func (s Spec) FieldsBySourceID(sourceID int) []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.SourceID == sourceID {
			out = append(out, f)
		}
	}
	return out
}

// CompatibleWith reports whether two specs partition data identically,
// ignoring spec ids.
func (s Spec) CompatibleWith(o Spec) bool {
	return slices.EqualFunc(s.Fields, o.Fields, func(a, b Field) bool {
		return a.SourceID == b.SourceID && a.FieldID == b.FieldID && a.Name == b.Name &&
			a.Transform.String() == b.Transform.String()
	})
}

// PartitionType is the struct type of this spec's tuples under sch
func (s Spec) PartitionType(sch *schema.Schema) (*types.StructType, error) {
	fields := make([]types.NestedField, 0, len(s.Fields))
	for _, f := range s.Fields {
		src, ok := sch.FindTypeByID(f.SourceID)
		if !ok {
			return nil, errors.Newf(errors.PartitionUnknownSource, "partition field %q has unknown source column %d", f.Name, f.SourceID).
				AddContext("field_id", fmt.Sprint(f.FieldID))
		}
		fields = append(fields, types.NestedField{
			ID:   f.FieldID,
			Name: f.Name,
			Type: f.Transform.ResultType(src),
		})
	}
	return &types.StructType{Fields: fields}, nil
}

// ResultTypes returns the primitive type of each tuple position
func (s Spec) ResultTypes(sch *schema.Schema) ([]types.PrimitiveType, error) {
	st, err := s.PartitionType(sch)
	if err != nil {
		return nil, err
	}
	out := make([]types.PrimitiveType, len(st.Fields))
	for i, f := range st.Fields {
		out[i] = f.Type.(types.PrimitiveType)
	}
	return out, nil
}

// Partition computes the tuple for a row; value returns the canonical value
// of a source column by field id.
func (s Spec) Partition(value func(sourceID int) any) Record {
	rec := make(Record, len(s.Fields))
	for i, f := range s.Fields {
		rec[i] = f.Transform.Apply(value(f.SourceID))
	}
	return rec
}

// PartitionPath renders a tuple as name=value directories
func (s Spec) PartitionPath(rec Record) string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = escapePathValue(f.Name) + "=" + escapePathValue(f.Transform.ToHumanString(rec[i]))
	}
	return strings.Join(parts, "/")
}

// Validate checks the spec against a schema: sources exist and accept their
// transforms.
func (s Spec) Validate(sch *schema.Schema) error {
	names := make(map[string]struct{}, len(s.Fields))
	ids := make(map[int]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		src, ok := sch.FindFieldByID(f.SourceID)
		if !ok {
			return errors.Newf(errors.PartitionUnknownSource, "partition field %q has unknown source column %d", f.Name, f.SourceID)
		}
		if !f.Transform.CanTransform(src.Type) {
			return errors.Newf(errors.PartitionInvalidTransform, "transform %s cannot be applied to %s column %q", f.Transform, src.Type, src.Name)
		}
		if _, dup := names[f.Name]; dup {
			return errors.Newf(errors.PartitionInvalidSpec, "duplicate partition field name %q", f.Name)
		}
		names[f.Name] = struct{}{}
		if _, dup := ids[f.FieldID]; dup {
			return errors.Newf(errors.PartitionInvalidSpec, "duplicate partition field id %d", f.FieldID)
		}
		ids[f.FieldID] = struct{}{}
	}
	return nil
}

func (s Spec) String() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = f.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (s *Spec) UnmarshalJSON(data []byte) error {
	type plain Spec
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Fields == nil {
		p.Fields = []Field{}
	}
	*s = Spec(p)
	return nil
}
