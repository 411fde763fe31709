package metadata

import (
	"maps"
	"slices"
	"time"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
)

// LastAdded selects the schema or spec most recently added to a Builder
const LastAdded = -1

// Builder derives a new Metadata from a base without touching it. The first
// failing call is remembered and returned by Build.
type Builder struct {
	m       Metadata
	err     error
	changed bool
	now     func() time.Time

	lastAddedSchemaID *int
	lastAddedSpecID   *int
	addedSnapshots    map[int64]bool
}

func NewBuilder(base *Metadata) *Builder {
	m := *base
	m.schemas = slices.Clone(base.schemas)
	m.specs = slices.Clone(base.specs)
	m.snapshots = slices.Clone(base.snapshots)
	m.snapshotLog = slices.Clone(base.snapshotLog)
	m.metadataLog = slices.Clone(base.metadataLog)
	m.properties = maps.Clone(base.properties)
	return &Builder{m: m, now: time.Now, addedSnapshots: map[int64]bool{}}
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// AddSchema registers sch under a new id, or reuses the id of an identical
// schema already in the table.
func (b *Builder) AddSchema(sch *schema.Schema, lastColumnID int) *Builder {
	if b.err != nil {
		return b
	}
	if lastColumnID < b.m.lastColumnID {
		return b.fail(errors.Newf(errors.ValidationInvalidUpdate, "last column id %d is lower than %d", lastColumnID, b.m.lastColumnID))
	}
	if sch.HighestFieldID() > lastColumnID {
		return b.fail(errors.Newf(errors.ValidationInvalidUpdate, "schema uses field id %d beyond last column id %d", sch.HighestFieldID(), lastColumnID))
	}

	for _, s := range b.m.schemas {
		if s.Equals(sch) {
			id := s.ID
			b.lastAddedSchemaID = &id
			b.m.lastColumnID = lastColumnID
			return b
		}
	}

	newID := 0
	for _, s := range b.m.schemas {
		newID = max(newID, s.ID+1)
	}
	withID, err := schema.NewSchemaWithIdentifiers(newID, sch.IdentifierFieldIDs, sch.Fields()...)
	if err != nil {
		return b.fail(err)
	}
	b.m.schemas = append(b.m.schemas, withID)
	b.m.lastColumnID = lastColumnID
	b.lastAddedSchemaID = &newID
	b.changed = true
	return b
}

// SetCurrentSchema makes id current; LastAdded picks the last AddSchema
func (b *Builder) SetCurrentSchema(id int) *Builder {
	if b.err != nil {
		return b
	}
	if id == LastAdded {
		if b.lastAddedSchemaID == nil {
			return b.fail(errors.New(ErrUnknownSchema, "no schema was added", nil))
		}
		id = *b.lastAddedSchemaID
	}
	if _, ok := b.m.SchemaByID(id); !ok {
		return b.fail(errors.Newf(ErrUnknownSchema, "schema %d does not exist", id))
	}
	if b.m.currentSchemaID != id {
		b.m.currentSchemaID = id
		b.changed = true
	}
	return b
}

// AddSpec registers spec under a new id, or reuses the id of a spec that
// partitions identically. The spec must bind to the current schema.
func (b *Builder) AddSpec(spec partition.Spec) *Builder {
	if b.err != nil {
		return b
	}
	if err := spec.Validate(b.m.CurrentSchema()); err != nil {
		return b.fail(err)
	}
	for _, s := range b.m.specs {
		if s.CompatibleWith(spec) {
			id := s.ID
			b.lastAddedSpecID = &id
			return b
		}
	}

	newID := 0
	for _, s := range b.m.specs {
		newID = max(newID, s.ID+1)
	}
	spec.ID = newID
	spec.Fields = slices.Clone(spec.Fields)
	if spec.Fields == nil {
		spec.Fields = []partition.Field{}
	}
	b.m.specs = append(b.m.specs, spec)
	b.m.lastPartitionID = max(b.m.lastPartitionID, spec.LastAssignedFieldID())
	b.lastAddedSpecID = &newID
	b.changed = true
	return b
}

// SetDefaultSpec makes id the spec for new files; LastAdded picks the last
// AddSpec.
func (b *Builder) SetDefaultSpec(id int) *Builder {
	if b.err != nil {
		return b
	}
	if id == LastAdded {
		if b.lastAddedSpecID == nil {
			return b.fail(errors.New(ErrUnknownSpec, "no partition spec was added", nil))
		}
		id = *b.lastAddedSpecID
	}
	if _, ok := b.m.SpecByID(id); !ok {
		return b.fail(errors.Newf(ErrUnknownSpec, "partition spec %d does not exist", id))
	}
	if b.m.defaultSpecID != id {
		b.m.defaultSpecID = id
		b.changed = true
	}
	return b
}

// AddSnapshot appends a snapshot; its sequence number must follow the
// table's last one.
func (b *Builder) AddSnapshot(s Snapshot) *Builder {
	if b.err != nil {
		return b
	}
	if _, ok := b.m.SnapshotByID(s.ID); ok {
		return b.fail(errors.Newf(ErrDuplicateSnapshot, "snapshot %d already exists", s.ID))
	}
	if s.SequenceNumber <= b.m.lastSequenceNumber {
		return b.fail(errors.Newf(ErrInvalidSequence, "snapshot sequence number %d must exceed %d", s.SequenceNumber, b.m.lastSequenceNumber))
	}
	if _, ok := b.m.SchemaByID(s.SchemaID); !ok {
		return b.fail(errors.Newf(ErrUnknownSchema, "snapshot references unknown schema %d", s.SchemaID))
	}
	if !s.Summary.Operation.Valid() {
		return b.fail(errors.Newf(ErrInvalidSummary, "snapshot %d has no valid operation", s.ID))
	}
	b.m.snapshots = append(b.m.snapshots, s)
	b.m.lastSequenceNumber = s.SequenceNumber
	b.m.lastUpdatedMs = s.TimestampMs
	b.addedSnapshots[s.ID] = true
	b.changed = true
	return b
}

// SetCurrentSnapshot points the table at an existing snapshot and records it
// in the snapshot log.
func (b *Builder) SetCurrentSnapshot(id int64) *Builder {
	if b.err != nil {
		return b
	}
	s, ok := b.m.SnapshotByID(id)
	if !ok {
		return b.fail(errors.Newf(ErrUnknownSnapshot, "snapshot %d does not exist", id))
	}
	if b.m.currentSnapshotID != nil && *b.m.currentSnapshotID == id {
		return b
	}
	ts := b.now().UnixMilli()
	if b.addedSnapshots[id] {
		ts = s.TimestampMs
	}
	b.m.currentSnapshotID = &id
	b.m.snapshotLog = append(b.m.snapshotLog, SnapshotLogEntry{SnapshotID: id, TimestampMs: ts})
	b.changed = true
	return b
}

// RemoveSnapshots drops snapshots and their log entries. The current
// snapshot cannot be removed.
func (b *Builder) RemoveSnapshots(ids ...int64) *Builder {
	if b.err != nil || len(ids) == 0 {
		return b
	}
	if b.m.currentSnapshotID != nil && slices.Contains(ids, *b.m.currentSnapshotID) {
		return b.fail(errors.Newf(errors.ValidationInvalidUpdate, "cannot remove current snapshot %d", *b.m.currentSnapshotID))
	}
	before := len(b.m.snapshots)
	b.m.snapshots = slices.DeleteFunc(b.m.snapshots, func(s Snapshot) bool { return slices.Contains(ids, s.ID) })
	b.m.snapshotLog = slices.DeleteFunc(b.m.snapshotLog, func(e SnapshotLogEntry) bool { return slices.Contains(ids, e.SnapshotID) })
	if len(b.m.snapshots) != before {
		b.changed = true
	}
	return b
}

func (b *Builder) SetProperties(props map[string]string) *Builder {
	if b.err != nil || len(props) == 0 {
		return b
	}
	for k, v := range props {
		if k == "" {
			return b.fail(errors.New(ErrInvalidProperty, "property key must not be empty", nil))
		}
		b.m.properties[k] = v
	}
	b.changed = true
	return b
}

func (b *Builder) RemoveProperties(keys ...string) *Builder {
	if b.err != nil {
		return b
	}
	for _, k := range keys {
		if _, ok := b.m.properties[k]; ok {
			delete(b.m.properties, k)
			b.changed = true
		}
	}
	return b
}

// SetLocation moves the table root
func (b *Builder) SetLocation(location string) *Builder {
	if b.err != nil {
		return b
	}
	if location == "" {
		return b.fail(errors.New(errors.ValidationInvalidUpdate, "table location is required", nil))
	}
	if b.m.location != location {
		b.m.location = location
		b.changed = true
	}
	return b
}

// AddPreviousMetadata appends the file the new version replaces to the
// metadata log, keeping the most recent write.metadata.previous-versions-max
// entries.
func (b *Builder) AddPreviousMetadata(location string, timestampMs int64) *Builder {
	if b.err != nil || location == "" {
		return b
	}
	b.m.metadataLog = append(b.m.metadataLog, MetadataLogEntry{MetadataFile: location, TimestampMs: timestampMs})
	keep := int(b.m.PropertyInt(PropertyPreviousVersionsMax, DefaultPreviousVersionsMax))
	if keep >= 1 && len(b.m.metadataLog) > keep {
		b.m.metadataLog = slices.Clone(b.m.metadataLog[len(b.m.metadataLog)-keep:])
	}
	return b
}

func (b *Builder) HasChanges() bool {
	return b.changed
}

// Build validates and returns the new version
func (b *Builder) Build() (*Metadata, error) {
	if b.err != nil {
		return nil, b.err
	}
	m := NewBuilder(&b.m).m
	if b.changed && len(b.addedSnapshots) == 0 {
		m.lastUpdatedMs = max(m.lastUpdatedMs, b.now().UnixMilli())
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
