package table

import (
	"context"
	"maps"
	"slices"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/metadata"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/types"
)

// SchemaUpdate evolves the current schema. Changes name columns and are
// resolved again against every base the commit is attempted on.
type SchemaUpdate struct {
	table        *Table
	changes      []func(u *schema.Update, sch *schema.Schema) error
	incompatible bool
}

// UpdateSchema starts a schema evolution
func (t *Table) UpdateSchema() *SchemaUpdate {
	return &SchemaUpdate{table: t}
}

func fieldID(sch *schema.Schema, name string) (int, error) {
	f, ok := sch.FindFieldByName(name)
	if !ok {
		return 0, errors.Newf(errors.SchemaUnknownField, "column %q does not exist", name).AddContext("column", name)
	}
	return f.ID, nil
}

func (s *SchemaUpdate) byName(name string, change func(u *schema.Update, id int)) *SchemaUpdate {
	s.changes = append(s.changes, func(u *schema.Update, sch *schema.Schema) error {
		id, err := fieldID(sch, name)
		if err != nil {
			return err
		}
		change(u, id)
		return nil
	})
	return s
}

// AddColumn adds an optional column under parent, or at the root when
// parent is empty
func (s *SchemaUpdate) AddColumn(parent, name string, typ types.Type, doc ...string) *SchemaUpdate {
	return s.addColumn(parent, name, typ, false, doc)
}

// AddRequiredColumn needs AllowIncompatibleChanges since existing files
// hold no values for it
func (s *SchemaUpdate) AddRequiredColumn(parent, name string, typ types.Type, doc ...string) *SchemaUpdate {
	return s.addColumn(parent, name, typ, true, doc)
}

func (s *SchemaUpdate) addColumn(parent, name string, typ types.Type, required bool, doc []string) *SchemaUpdate {
	s.changes = append(s.changes, func(u *schema.Update, sch *schema.Schema) error {
		parentID := 0
		if parent != "" {
			id, err := fieldID(sch, parent)
			if err != nil {
				return err
			}
			parentID = id
		}
		if required {
			u.AddRequiredColumn(parentID, name, typ, doc...)
		} else {
			u.AddColumn(parentID, name, typ, doc...)
		}
		return nil
	})
	return s
}

// DeleteColumn drops a column by name
func (s *SchemaUpdate) DeleteColumn(name string) *SchemaUpdate {
	return s.byName(name, func(u *schema.Update, id int) { u.DeleteColumn(id) })
}

// RenameColumn renames a column, keeping its id
func (s *SchemaUpdate) RenameColumn(name, newName string) *SchemaUpdate {
	return s.byName(name, func(u *schema.Update, id int) { u.RenameColumn(id, newName) })
}

// UpdateColumnType widens a primitive column
func (s *SchemaUpdate) UpdateColumnType(name string, to types.PrimitiveType) *SchemaUpdate {
	return s.byName(name, func(u *schema.Update, id int) { u.PromoteType(id, to) })
}

// MakeColumnOptional makes a required column optional
func (s *SchemaUpdate) MakeColumnOptional(name string) *SchemaUpdate {
	return s.byName(name, func(u *schema.Update, id int) { u.MakeOptional(id) })
}

// RequireColumn makes an optional column required; it needs
// AllowIncompatibleChanges
func (s *SchemaUpdate) RequireColumn(name string) *SchemaUpdate {
	return s.byName(name, func(u *schema.Update, id int) { u.RequireColumn(id, false) })
}

// UpdateColumnDoc sets the doc string of a column
func (s *SchemaUpdate) UpdateColumnDoc(name, doc string) *SchemaUpdate {
	return s.byName(name, func(u *schema.Update, id int) { u.UpdateDoc(id, doc) })
}

// SetIdentifierFields replaces the identifier fields
func (s *SchemaUpdate) SetIdentifierFields(names ...string) *SchemaUpdate {
	s.changes = append(s.changes, func(u *schema.Update, _ *schema.Schema) error {
		u.SetIdentifierFields(names...)
		return nil
	})
	return s
}

// AllowIncompatibleChanges permits changes that break existing readers
func (s *SchemaUpdate) AllowIncompatibleChanges() *SchemaUpdate {
	s.incompatible = true
	return s
}

// Apply evolves the schema of base without committing
func (s *SchemaUpdate) Apply(base *metadata.Metadata) (*schema.Schema, int, error) {
	cur := base.CurrentSchema()
	u := schema.NewUpdate(cur, base.LastColumnID())
	if s.incompatible {
		u.AllowIncompatibleChanges()
	}
	for _, change := range s.changes {
		if err := change(u, cur); err != nil {
			return nil, 0, err
		}
	}
	return u.Apply(cur.ID)
}

// Commit makes the evolved schema current and returns it
func (s *SchemaUpdate) Commit(ctx context.Context) (*schema.Schema, error) {
	m, err := s.table.commit(ctx, "update-schema", func(ctx context.Context, base *metadata.Metadata, _ int) (*metadata.Metadata, error) {
		sch, lastID, err := s.Apply(base)
		if err != nil {
			return nil, err
		}
		// partition source columns cannot go away
		if err := base.Spec().Validate(sch); err != nil {
			return nil, err
		}
		b := metadata.NewBuilder(base).AddSchema(sch, lastID).SetCurrentSchema(metadata.LastAdded)
		return buildIfChanged(base, b)
	})
	if err != nil {
		return nil, err
	}
	return m.CurrentSchema(), nil
}

// SpecUpdate evolves the default partition spec. Files keep the spec they
// were written with; new files use the result.
type SpecUpdate struct {
	table   *Table
	changes []func(u *partition.Update)
}

// UpdateSpec starts a partition spec evolution
func (t *Table) UpdateSpec() *SpecUpdate {
	return &SpecUpdate{table: t}
}

// AddField partitions by t applied to source; an empty name is derived
func (s *SpecUpdate) AddField(source string, t partition.Transform, name string) *SpecUpdate {
	s.changes = append(s.changes, func(u *partition.Update) { u.AddField(source, t, name) })
	return s
}

// AddIdentity partitions by the raw value of source
func (s *SpecUpdate) AddIdentity(source string) *SpecUpdate {
	return s.AddField(source, partition.IdentityTransform{}, "")
}

// RemoveField drops a partition field by name
func (s *SpecUpdate) RemoveField(name string) *SpecUpdate {
	s.changes = append(s.changes, func(u *partition.Update) { u.RemoveField(name) })
	return s
}

// RenameField renames a partition field
func (s *SpecUpdate) RenameField(name, newName string) *SpecUpdate {
	s.changes = append(s.changes, func(u *partition.Update) { u.RenameField(name, newName) })
	return s
}

// Apply evolves the default spec of base without committing
func (s *SpecUpdate) Apply(base *metadata.Metadata) (partition.Spec, int, error) {
	u := partition.NewUpdate(base.Spec(), base.CurrentSchema(), base.LastPartitionID())
	for _, change := range s.changes {
		change(u)
	}
	return u.Apply(base.Spec().ID)
}

// Commit makes the evolved spec the default and returns it
func (s *SpecUpdate) Commit(ctx context.Context) (partition.Spec, error) {
	m, err := s.table.commit(ctx, "update-spec", func(ctx context.Context, base *metadata.Metadata, _ int) (*metadata.Metadata, error) {
		spec, _, err := s.Apply(base)
		if err != nil {
			return nil, err
		}
		b := metadata.NewBuilder(base).AddSpec(spec).SetDefaultSpec(metadata.LastAdded)
		return buildIfChanged(base, b)
	})
	if err != nil {
		return partition.Spec{}, err
	}
	return m.Spec(), nil
}

// PropertiesUpdate sets and removes table properties
type PropertiesUpdate struct {
	table   *Table
	set     map[string]string
	removed []string
}

// UpdateProperties starts a change of table properties
func (t *Table) UpdateProperties() *PropertiesUpdate {
	return &PropertiesUpdate{table: t, set: map[string]string{}}
}

// Set sets a property, undoing an earlier Remove of the key
func (p *PropertiesUpdate) Set(key, value string) *PropertiesUpdate {
	p.set[key] = value
	p.removed = slices.DeleteFunc(p.removed, func(k string) bool { return k == key })
	return p
}

// Remove removes a property, undoing an earlier Set of the key
func (p *PropertiesUpdate) Remove(key string) *PropertiesUpdate {
	delete(p.set, key)
	p.removed = append(p.removed, key)
	return p
}

// Commit applies the changes and returns the resulting properties
func (p *PropertiesUpdate) Commit(ctx context.Context) (map[string]string, error) {
	m, err := p.table.commit(ctx, "update-properties", func(ctx context.Context, base *metadata.Metadata, _ int) (*metadata.Metadata, error) {
		b := metadata.NewBuilder(base).SetProperties(maps.Clone(p.set)).RemoveProperties(p.removed...)
		return buildIfChanged(base, b)
	})
	if err != nil {
		return nil, err
	}
	return m.Properties(), nil
}

// buildIfChanged returns base itself when b recorded no change
func buildIfChanged(base *metadata.Metadata, b *metadata.Builder) (*metadata.Metadata, error) {
	m, err := b.Build()
	if err != nil {
		return nil, err
	}
	if !b.HasChanges() {
		return base, nil
	}
	return m, nil
}
