package metadata

import (
	"encoding/json"
	"strconv"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

type jsonMetadata struct {
	FormatVersion      int                `json:"format-version"`
	TableUUID          uuid.UUID          `json:"table-uuid"`
	Location           string             `json:"location"`
	LastSequenceNumber int64              `json:"last-sequence-number"`
	LastUpdatedMs      int64              `json:"last-updated-ms"`
	LastColumnID       int                `json:"last-column-id"`
	CurrentSchemaID    int                `json:"current-schema-id"`
	Schemas            []*schema.Schema   `json:"schemas"`
	DefaultSpecID      int                `json:"default-spec-id"`
	PartitionSpecs     []partition.Spec   `json:"partition-specs"`
	LastPartitionID    int                `json:"last-partition-id"`
	Properties         map[string]string  `json:"properties"`
	CurrentSnapshotID  *int64             `json:"current-snapshot-id,omitempty"`
	Snapshots          []Snapshot         `json:"snapshots"`
	SnapshotLog        []SnapshotLogEntry `json:"snapshot-log"`
	MetadataLog        []MetadataLogEntry `json:"metadata-log"`
}

func (m *Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonMetadata{
		FormatVersion:      m.formatVersion,
		TableUUID:          m.uuid,
		Location:           m.location,
		LastSequenceNumber: m.lastSequenceNumber,
		LastUpdatedMs:      m.lastUpdatedMs,
		LastColumnID:       m.lastColumnID,
		CurrentSchemaID:    m.currentSchemaID,
		Schemas:            m.schemas,
		DefaultSpecID:      m.defaultSpecID,
		PartitionSpecs:     m.specs,
		LastPartitionID:    m.lastPartitionID,
		Properties:         m.properties,
		CurrentSnapshotID:  m.currentSnapshotID,
		Snapshots:          m.snapshots,
		SnapshotLog:        m.snapshotLog,
		MetadataLog:        m.metadataLog,
	})
}

// ParseMetadata decodes a metadata file. Anything that is not valid table
// metadata of a supported format version is reported as corrupt.
func ParseMetadata(data []byte) (*Metadata, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New(errors.CorruptMetadata, "metadata is not valid JSON", nil)
	}
	fv := gjson.GetBytes(data, "format-version")
	if fv.Type != gjson.Number {
		return nil, errors.New(errors.CorruptMetadata, "metadata has no format-version", nil)
	}
	if fv.Int() != FormatVersion {
		return nil, errors.New(errors.CorruptMetadata, "unsupported metadata format version",
			errors.Newf(ErrUnsupportedVersion, "format version %d", fv.Int())).
			AddContext("format_version", strconv.FormatInt(fv.Int(), 10))
	}

	var jm jsonMetadata
	if err := json.Unmarshal(data, &jm); err != nil {
		return nil, errors.New(errors.CorruptMetadata, "failed to decode metadata", err)
	}
	if jm.CurrentSnapshotID != nil && *jm.CurrentSnapshotID == -1 {
		jm.CurrentSnapshotID = nil
	}
	m := &Metadata{
		formatVersion:      jm.FormatVersion,
		uuid:               jm.TableUUID,
		location:           jm.Location,
		lastSequenceNumber: jm.LastSequenceNumber,
		lastUpdatedMs:      jm.LastUpdatedMs,
		lastColumnID:       jm.LastColumnID,
		schemas:            orEmpty(jm.Schemas),
		currentSchemaID:    jm.CurrentSchemaID,
		specs:              orEmpty(jm.PartitionSpecs),
		defaultSpecID:      jm.DefaultSpecID,
		lastPartitionID:    jm.LastPartitionID,
		properties:         jm.Properties,
		currentSnapshotID:  jm.CurrentSnapshotID,
		snapshots:          orEmpty(jm.Snapshots),
		snapshotLog:        orEmpty(jm.SnapshotLog),
		metadataLog:        orEmpty(jm.MetadataLog),
	}
	if m.properties == nil {
		m.properties = map[string]string{}
	}
	if err := m.validate(); err != nil {
		return nil, errors.New(errors.CorruptMetadata, "metadata violates table invariants", err)
	}
	return m, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
