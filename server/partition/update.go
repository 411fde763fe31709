package partition

import (
	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/schema"
)

// Update evolves a spec. Existing data keeps the tuples of the spec it was
// written with; only new writes use the result.
type Update struct {
	base    Spec
	schema  *schema.Schema
	lastID  int
	adds    []pendingAdd
	removes map[string]struct{}
	renames map[string]string
	err     error
}

type pendingAdd struct {
	source    string
	transform Transform
	name      string
}

// NewUpdate starts an update; new fields get ids after lastAssignedID
func NewUpdate(base Spec, sch *schema.Schema, lastAssignedID int) *Update {
	return &Update{
		base:    base,
		schema:  sch,
		lastID:  max(lastAssignedID, base.LastAssignedFieldID()),
		removes: make(map[string]struct{}),
		renames: make(map[string]string),
	}
}

func (u *Update) has(name string) bool {
	for _, f := range u.base.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (u *Update) AddField(source string, t Transform, name string) *Update {
	u.adds = append(u.adds, pendingAdd{source: source, transform: t, name: name})
	return u
}

func (u *Update) RemoveField(name string) *Update {
	if u.err == nil && !u.has(name) {
		u.err = errors.Newf(errors.PartitionInvalidSpec, "cannot remove unknown partition field %q", name)
	}
	u.removes[name] = struct{}{}
	return u
}

func (u *Update) RenameField(name, newName string) *Update {
	if u.err == nil && !u.has(name) {
		u.err = errors.Newf(errors.PartitionInvalidSpec, "cannot rename unknown partition field %q", name)
	}
	u.renames[name] = newName
	return u
}

// Apply builds the new spec with id specID and returns it with the new last
// assigned partition field id.
func (u *Update) Apply(specID int) (Spec, int, error) {
	if u.err != nil {
		return Spec{}, 0, u.err
	}

	b := NewBuilder(u.schema).WithSpecID(specID).WithLastAssignedFieldID(u.lastID)
	var kept []Field
	for _, f := range u.base.Fields {
		if _, removed := u.removes[f.Name]; removed {
			continue
		}
		if n, ok := u.renames[f.Name]; ok {
			f.Name = n
		}
		kept = append(kept, f)
	}
	// kept fields retain their ids; they are validated with the new ones below
	b.fields = append(b.fields, kept...)
	for _, a := range u.adds {
		b.AddField(a.source, a.transform, a.name)
	}
	spec, err := b.Build()
	if err != nil {
		return Spec{}, 0, err
	}
	if err := spec.Validate(u.schema); err != nil {
		return Spec{}, 0, err
	}
	return spec, max(u.lastID, spec.LastAssignedFieldID()), nil
}
