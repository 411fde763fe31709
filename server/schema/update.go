package schema

import (
	"fmt"
	"slices"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/types"
)

// Update accumulates schema changes against a base schema. Methods record
// the first invalid change; Apply reports it.
type Update struct {
	base          *Schema
	next          func() int
	lastID        func() int
	allowUnsafe   bool
	deletes       map[int]struct{}
	updates       map[int]types.NestedField
	adds          map[int][]types.NestedField
	identifierIDs []int
	err           error
}

// NewUpdate starts an update; new field ids are allocated after lastColumnID
func NewUpdate(base *Schema, lastColumnID int) *Update {
	next, current := Counter(max(lastColumnID, base.HighestFieldID()))
	return &Update{
		base:          base,
		next:          next,
		lastID:        current,
		deletes:       make(map[int]struct{}),
		updates:       make(map[int]types.NestedField),
		adds:          make(map[int][]types.NestedField),
		identifierIDs: slices.Clone(base.IdentifierFieldIDs),
	}
}

// AllowIncompatibleChanges permits adding required columns
func (u *Update) AllowIncompatibleChanges() *Update {
	u.allowUnsafe = true
	return u
}

func (u *Update) fail(err error) *Update {
	if u.err == nil {
		u.err = err
	}
	return u
}

func (u *Update) field(id int) (types.NestedField, bool) {
	if f, ok := u.updates[id]; ok {
		return f, true
	}
	return u.base.FindFieldByID(id)
}

// AddColumn adds an optional column under parentID (0 for the root). The
// parent may be a struct, or a list or map whose element or value is a struct.
func (u *Update) AddColumn(parentID int, name string, typ types.Type, doc ...string) *Update {
	return u.addColumn(parentID, name, typ, false, doc)
}

// AddRequiredColumn adds a required column; existing data files cannot supply
// it, so the change needs AllowIncompatibleChanges.
func (u *Update) AddRequiredColumn(parentID int, name string, typ types.Type, doc ...string) *Update {
	if !u.allowUnsafe {
		return u.fail(errors.Newf(errors.SchemaIllegalRequirement, "cannot add required column %q to a table with existing data", name))
	}
	return u.addColumn(parentID, name, typ, true, doc)
}

func (u *Update) addColumn(parentID int, name string, typ types.Type, required bool, doc []string) *Update {
	if name == "" {
		return u.fail(errors.New(errors.SchemaInvalid, "column name cannot be empty", nil))
	}
	if err := types.Validate(typ); err != nil {
		return u.fail(errors.New(errors.SchemaInvalid, fmt.Sprintf("invalid type for column %q", name), err))
	}

	structID := parentID
	if parentID != 0 {
		parent, ok := u.base.FindFieldByID(parentID)
		if !ok {
			return u.fail(errors.Newf(errors.SchemaUnknownField, "parent field %d does not exist", parentID))
		}
		if _, deleted := u.deletes[parentID]; deleted {
			return u.fail(errors.Newf(errors.SchemaUnknownField, "parent field %d is being deleted", parentID))
		}
		switch pt := parent.Type.(type) {
		case *types.StructType:
		case *types.ListType:
			structID = pt.ElementID
			if _, ok := pt.Element.(*types.StructType); !ok {
				return u.fail(errors.Newf(errors.SchemaInvalid, "list %q does not hold structs", parent.Name))
			}
		case *types.MapType:
			structID = pt.ValueID
			if _, ok := pt.Value.(*types.StructType); !ok {
				return u.fail(errors.Newf(errors.SchemaInvalid, "map %q does not hold struct values", parent.Name))
			}
		default:
			return u.fail(errors.Newf(errors.SchemaInvalid, "cannot add a column to primitive field %q", parent.Name))
		}
	}

	if u.siblingNameTaken(structID, name, 0) {
		return u.fail(errors.Newf(errors.SchemaDuplicateName, "column %q already exists", name))
	}

	id := u.next()
	field := types.NestedField{
		ID:       id,
		Name:     name,
		Type:     AssignFreshTypeIDs(typ, u.next),
		Required: required,
	}
	if len(doc) > 0 {
		field.Doc = doc[0]
	}
	u.adds[structID] = append(u.adds[structID], field)
	return u
}

// siblingNameTaken checks live (not deleted) children of structID, pending
// renames and pending adds. except is a field id allowed to hold the name.
func (u *Update) siblingNameTaken(structID int, name string, except int) bool {
	var siblings []types.NestedField
	if structID == 0 {
		siblings = u.base.fields
	} else if t, ok := u.base.FindTypeByID(structID); ok {
		if st, ok := t.(*types.StructType); ok {
			siblings = st.Fields
		}
	}
	for _, s := range siblings {
		if s.ID == except {
			continue
		}
		if _, deleted := u.deletes[s.ID]; deleted {
			continue
		}
		if cur, _ := u.field(s.ID); cur.Name == name {
			return true
		}
	}
	for _, a := range u.adds[structID] {
		if a.Name == name {
			return true
		}
	}
	return false
}

// structOf returns the id of the struct holding field id (0 for root)
func (u *Update) structOf(id int) int {
	return u.base.ParentID(id)
}

func (u *Update) DeleteColumn(id int) *Update {
	f, ok := u.base.FindFieldByID(id)
	if !ok {
		return u.fail(errors.Newf(errors.SchemaUnknownField, "cannot delete missing column %d", id))
	}
	if len(u.adds[id]) > 0 {
		return u.fail(errors.Newf(errors.SchemaInvalid, "cannot delete column %q that has additions", f.Name))
	}
	if _, ok := u.updates[id]; ok {
		return u.fail(errors.Newf(errors.SchemaInvalid, "cannot delete column %q that has updates", f.Name))
	}
	u.deletes[id] = struct{}{}
	u.identifierIDs = slices.DeleteFunc(u.identifierIDs, func(fid int) bool { return fid == id })
	return u
}

func (u *Update) RenameColumn(id int, newName string) *Update {
	f, ok := u.field(id)
	if !ok {
		return u.fail(errors.Newf(errors.SchemaUnknownField, "cannot rename missing column %d", id))
	}
	if newName == "" {
		return u.fail(errors.New(errors.SchemaInvalid, "column name cannot be empty", nil))
	}
	if _, deleted := u.deletes[id]; deleted {
		return u.fail(errors.Newf(errors.SchemaUnknownField, "cannot rename deleted column %q", f.Name))
	}
	if u.siblingNameTaken(u.structOf(id), newName, id) {
		return u.fail(errors.Newf(errors.SchemaDuplicateName, "cannot rename %q: %q already exists", f.Name, newName))
	}
	f.Name = newName
	u.updates[id] = f
	return u
}

// PromoteType widens a primitive column
func (u *Update) PromoteType(id int, to types.PrimitiveType) *Update {
	f, ok := u.field(id)
	if !ok {
		return u.fail(errors.Newf(errors.SchemaUnknownField, "cannot promote missing column %d", id))
	}
	from, ok := f.Type.(types.PrimitiveType)
	if !ok || !types.CanPromote(from, to) {
		return u.fail(errors.Newf(errors.SchemaIllegalPromotion, "cannot change column %q from %s to %s", f.Name, f.Type, to).
			AddContext("field_id", fmt.Sprint(id)))
	}
	f.Type = to
	u.updates[id] = f
	return u
}

func (u *Update) MakeOptional(id int) *Update {
	f, ok := u.field(id)
	if !ok {
		return u.fail(errors.Newf(errors.SchemaUnknownField, "cannot make missing column %d optional", id))
	}
	if slices.Contains(u.identifierIDs, id) {
		return u.fail(errors.Newf(errors.SchemaIllegalRequirement, "identifier column %q must stay required", f.Name))
	}
	f.Required = false
	u.updates[id] = f
	return u
}

// RequireColumn makes a column required. Existing files may hold nulls, so
// this is refused unless force is set.
func (u *Update) RequireColumn(id int, force bool) *Update {
	f, ok := u.field(id)
	if !ok {
		return u.fail(errors.Newf(errors.SchemaUnknownField, "cannot require missing column %d", id))
	}
	if !f.Required && !force && !u.allowUnsafe {
		return u.fail(errors.Newf(errors.SchemaIllegalRequirement, "cannot change column %q from optional to required", f.Name))
	}
	f.Required = true
	u.updates[id] = f
	return u
}

func (u *Update) UpdateDoc(id int, doc string) *Update {
	f, ok := u.field(id)
	if !ok {
		return u.fail(errors.Newf(errors.SchemaUnknownField, "cannot document missing column %d", id))
	}
	f.Doc = doc
	u.updates[id] = f
	return u
}

// SetIdentifierFields replaces the identifier field set by column name
func (u *Update) SetIdentifierFields(names ...string) *Update {
	ids := make([]int, 0, len(names))
	for _, n := range names {
		f, ok := u.base.FindFieldByName(n)
		if !ok {
			return u.fail(errors.Newf(errors.SchemaUnknownField, "identifier column %q does not exist", n))
		}
		ids = append(ids, f.ID)
	}
	u.identifierIDs = ids
	return u
}

// Apply returns the evolved schema with id schemaID and the new last column id
func (u *Update) Apply(schemaID int) (*Schema, int, error) {
	if u.err != nil {
		return nil, 0, u.err
	}
	fields := u.applyStruct(u.base.fields, 0)
	s, err := NewSchemaWithIdentifiers(schemaID, u.identifierIDs, fields...)
	if err != nil {
		return nil, 0, err
	}
	return s, u.lastID(), nil
}

func (u *Update) applyStruct(fields []types.NestedField, structID int) []types.NestedField {
	out := make([]types.NestedField, 0, len(fields)+len(u.adds[structID]))
	for _, f := range fields {
		if _, deleted := u.deletes[f.ID]; deleted {
			continue
		}
		if upd, ok := u.updates[f.ID]; ok {
			f = upd
		}
		f.Type = u.applyType(f.Type, f.ID)
		out = append(out, f)
	}
	return append(out, u.adds[structID]...)
}

func (u *Update) applyType(t types.Type, ownerID int) types.Type {
	switch nt := t.(type) {
	case *types.StructType:
		return &types.StructType{Fields: u.applyStruct(nt.Fields, ownerID)}
	case *types.ListType:
		elem := nt.Element
		if upd, ok := u.updates[nt.ElementID]; ok {
			elem = upd.Type
		}
		return &types.ListType{ElementID: nt.ElementID, Element: u.applyType(elem, nt.ElementID), ElementRequired: nt.ElementRequired}
	case *types.MapType:
		value := nt.Value
		valueRequired := nt.ValueRequired
		if upd, ok := u.updates[nt.ValueID]; ok {
			value = upd.Type
			valueRequired = upd.Required
		}
		return &types.MapType{
			KeyID:         nt.KeyID,
			Key:           nt.Key,
			ValueID:       nt.ValueID,
			Value:         u.applyType(value, nt.ValueID),
			ValueRequired: valueRequired,
		}
	}
	return t
}
