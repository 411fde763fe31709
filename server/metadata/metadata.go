// Package metadata implements snapshots and the immutable table metadata
// root that every commit replaces.
package metadata

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/google/uuid"
)

// FormatVersion is the only metadata format version read and written
const FormatVersion = 2

// Metadata is the root of a table version. Values are never modified after
// construction; use a Builder to derive a new version.
type Metadata struct {
	formatVersion      int
	uuid               uuid.UUID
	location           string
	lastSequenceNumber int64
	lastUpdatedMs      int64
	lastColumnID       int
	schemas            []*schema.Schema
	currentSchemaID    int
	specs              []partition.Spec
	defaultSpecID      int
	lastPartitionID    int
	properties         map[string]string
	snapshots          []Snapshot
	currentSnapshotID  *int64
	snapshotLog        []SnapshotLogEntry
	metadataLog        []MetadataLogEntry
}

// NewMetadata creates the first version of a table. Field ids of sch and
// the spec are reassigned from scratch; the spec refers to sch's ids.
func NewMetadata(sch *schema.Schema, spec partition.Spec, location string, props map[string]string) (*Metadata, error) {
	next, last := schema.Counter(0)
	fresh, err := schema.AssignFreshIDs(0, sch, next)
	if err != nil {
		return nil, err
	}

	b := partition.NewBuilder(fresh)
	for _, f := range spec.Fields {
		name, ok := sch.FindColumnName(f.SourceID)
		if !ok {
			return nil, errors.Newf(errors.PartitionUnknownSource, "partition field %q has unknown source column %d", f.Name, f.SourceID)
		}
		b.AddField(name, f.Transform, f.Name)
	}
	freshSpec, err := b.Build()
	if err != nil {
		return nil, err
	}

	if props == nil {
		props = map[string]string{}
	}
	m := &Metadata{
		formatVersion:   FormatVersion,
		uuid:            uuid.New(),
		location:        strings.TrimSuffix(location, "/"),
		lastUpdatedMs:   time.Now().UnixMilli(),
		lastColumnID:    last(),
		schemas:         []*schema.Schema{fresh},
		currentSchemaID: fresh.ID,
		specs:           []partition.Spec{freshSpec},
		defaultSpecID:   freshSpec.ID,
		lastPartitionID: freshSpec.LastAssignedFieldID(),
		properties:      maps.Clone(props),
		snapshots:       []Snapshot{},
		snapshotLog:     []SnapshotLogEntry{},
		metadataLog:     []MetadataLogEntry{},
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metadata) validate() error {
	if m.formatVersion != FormatVersion {
		return errors.Newf(ErrUnsupportedVersion, "unsupported format version %d", m.formatVersion)
	}
	if m.location == "" {
		return errors.New(errors.ValidationInvalidUpdate, "table location is required", nil)
	}

	schemaIDs := map[int]bool{}
	for _, s := range m.schemas {
		if schemaIDs[s.ID] {
			return errors.Newf(ErrUnknownSchema, "schema id %d appears twice", s.ID)
		}
		schemaIDs[s.ID] = true
		if s.HighestFieldID() > m.lastColumnID {
			return errors.Newf(errors.ValidationInvalidUpdate, "schema %d uses field id %d beyond last column id %d",
				s.ID, s.HighestFieldID(), m.lastColumnID)
		}
	}
	if !schemaIDs[m.currentSchemaID] {
		return errors.Newf(ErrUnknownSchema, "current schema %d does not exist", m.currentSchemaID)
	}

	specIDs := map[int]bool{}
	for _, s := range m.specs {
		if specIDs[s.ID] {
			return errors.Newf(ErrUnknownSpec, "partition spec id %d appears twice", s.ID)
		}
		specIDs[s.ID] = true
		if len(s.Fields) > 0 && s.LastAssignedFieldID() > m.lastPartitionID {
			return errors.Newf(errors.ValidationInvalidUpdate, "spec %d uses partition field id beyond %d", s.ID, m.lastPartitionID)
		}
	}
	if !specIDs[m.defaultSpecID] {
		return errors.Newf(ErrUnknownSpec, "default partition spec %d does not exist", m.defaultSpecID)
	}

	snapshotIDs := map[int64]bool{}
	for _, s := range m.snapshots {
		if snapshotIDs[s.ID] {
			return errors.Newf(ErrDuplicateSnapshot, "snapshot id %d appears twice", s.ID)
		}
		snapshotIDs[s.ID] = true
		if s.SequenceNumber > m.lastSequenceNumber {
			return errors.Newf(ErrInvalidSequence, "snapshot %d has sequence number %d beyond %d",
				s.ID, s.SequenceNumber, m.lastSequenceNumber)
		}
	}
	if m.currentSnapshotID != nil && !snapshotIDs[*m.currentSnapshotID] {
		return errors.Newf(ErrUnknownSnapshot, "current snapshot %d does not exist", *m.currentSnapshotID)
	}
	return nil
}

func (m *Metadata) FormatVersion() int        { return m.formatVersion }
func (m *Metadata) TableUUID() uuid.UUID      { return m.uuid }
func (m *Metadata) Location() string          { return m.location }
func (m *Metadata) LastSequenceNumber() int64 { return m.lastSequenceNumber }
func (m *Metadata) LastUpdatedMs() int64      { return m.lastUpdatedMs }
func (m *Metadata) LastColumnID() int         { return m.lastColumnID }
func (m *Metadata) CurrentSchemaID() int      { return m.currentSchemaID }
func (m *Metadata) DefaultSpecID() int        { return m.defaultSpecID }
func (m *Metadata) LastPartitionID() int      { return m.lastPartitionID }

func (m *Metadata) Schemas() []*schema.Schema { return slices.Clone(m.schemas) }
func (m *Metadata) Specs() []partition.Spec   { return slices.Clone(m.specs) }
func (m *Metadata) Snapshots() []Snapshot     { return slices.Clone(m.snapshots) }

func (m *Metadata) Properties() map[string]string   { return maps.Clone(m.properties) }
func (m *Metadata) SnapshotLog() []SnapshotLogEntry { return slices.Clone(m.snapshotLog) }
func (m *Metadata) MetadataLog() []MetadataLogEntry { return slices.Clone(m.metadataLog) }

func (m *Metadata) SchemaByID(id int) (*schema.Schema, bool) {
	for _, s := range m.schemas {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

func (m *Metadata) CurrentSchema() *schema.Schema {
	s, _ := m.SchemaByID(m.currentSchemaID)
	return s
}

func (m *Metadata) SpecByID(id int) (partition.Spec, bool) {
	for _, s := range m.specs {
		if s.ID == id {
			return s, true
		}
	}
	return partition.Spec{}, false
}

// Spec returns the default partition spec new files are written with
func (m *Metadata) Spec() partition.Spec {
	s, _ := m.SpecByID(m.defaultSpecID)
	return s
}

func (m *Metadata) SnapshotByID(id int64) (*Snapshot, bool) {
	for i := range m.snapshots {
		if m.snapshots[i].ID == id {
			s := m.snapshots[i]
			return &s, true
		}
	}
	return nil, false
}

// CurrentSnapshot returns nil for a table with no snapshots
func (m *Metadata) CurrentSnapshot() *Snapshot {
	if m.currentSnapshotID == nil {
		return nil
	}
	s, _ := m.SnapshotByID(*m.currentSnapshotID)
	return s
}

func (m *Metadata) CurrentSnapshotID() (int64, bool) {
	if m.currentSnapshotID == nil {
		return 0, false
	}
	return *m.currentSnapshotID, true
}

// Ancestors returns the snapshot id and its parents, newest first, stopping
// at the first parent no longer in the table.
func (m *Metadata) Ancestors(id int64) []Snapshot {
	var out []Snapshot
	for {
		s, ok := m.SnapshotByID(id)
		if !ok {
			return out
		}
		out = append(out, *s)
		if s.ParentID == nil {
			return out
		}
		id = *s.ParentID
	}
}

// IsAncestor reports whether ancestorID is id or one of its parents
func (m *Metadata) IsAncestor(id, ancestorID int64) bool {
	return slices.ContainsFunc(m.Ancestors(id), func(s Snapshot) bool { return s.ID == ancestorID })
}

// SnapshotAsOf returns the snapshot that was current at timestampMs
func (m *Metadata) SnapshotAsOf(timestampMs int64) (*Snapshot, bool) {
	var found *int64
	for _, e := range m.snapshotLog {
		if e.TimestampMs > timestampMs {
			break
		}
		id := e.SnapshotID
		found = &id
	}
	if found == nil {
		return nil, false
	}
	return m.SnapshotByID(*found)
}
