package schema

import "github.com/gear6io/stratum/server/types"

// AssignFreshIDs rebuilds fields with ids handed out by next, breadth first:
// every direct child of a struct is numbered before any grandchild. Identifier
// fields are carried over by name.
func AssignFreshIDs(schemaID int, s *Schema, next func() int) (*Schema, error) {
	fields := assignStruct(s.fields, next)

	fresh, err := NewSchema(schemaID, fields...)
	if err != nil {
		return nil, err
	}
	if len(s.IdentifierFieldIDs) == 0 {
		return fresh, nil
	}
	ids := make([]int, 0, len(s.IdentifierFieldIDs))
	for _, old := range s.IdentifierFieldIDs {
		name, _ := s.FindColumnName(old)
		f, _ := fresh.FindFieldByName(name)
		ids = append(ids, f.ID)
	}
	return NewSchemaWithIdentifiers(schemaID, ids, fields...)
}

// AssignFreshTypeIDs numbers every id inside t, for types added by an update
func AssignFreshTypeIDs(t types.Type, next func() int) types.Type {
	return assignType(t, next)
}

func assignStruct(fields []types.NestedField, next func() int) []types.NestedField {
	out := make([]types.NestedField, len(fields))
	for i, f := range fields {
		out[i] = f
		out[i].ID = next()
	}
	for i := range out {
		out[i].Type = assignType(fields[i].Type, next)
	}
	return out
}

func assignType(t types.Type, next func() int) types.Type {
	switch nt := t.(type) {
	case *types.StructType:
		return &types.StructType{Fields: assignStruct(nt.Fields, next)}
	case *types.ListType:
		elemID := next()
		return &types.ListType{ElementID: elemID, Element: assignType(nt.Element, next), ElementRequired: nt.ElementRequired}
	case *types.MapType:
		keyID := next()
		valueID := next()
		return &types.MapType{
			KeyID:         keyID,
			Key:           assignType(nt.Key, next),
			ValueID:       valueID,
			Value:         assignType(nt.Value, next),
			ValueRequired: nt.ValueRequired,
		}
	}
	return t
}

// Counter returns a next-id function starting after last
func Counter(last int) (next func() int, current func() int) {
	id := last
	return func() int {
			id++
			return id
		}, func() int {
			return id
		}
}
