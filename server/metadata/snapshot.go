package metadata

import (
	"encoding/binary"
	"math"

	"github.com/google/uuid"
)

// Snapshot is one immutable version of the table's file set
type Snapshot struct {
	ID             int64   `json:"snapshot-id"`
	ParentID       *int64  `json:"parent-snapshot-id,omitempty"`
	SequenceNumber int64   `json:"sequence-number"`
	TimestampMs    int64   `json:"timestamp-ms"`
	ManifestList   string  `json:"manifest-list"`
	Summary        Summary `json:"summary"`
	SchemaID       int     `json:"schema-id"`
}

func (s Snapshot) Operation() Operation {
	return s.Summary.Operation
}

// NewSnapshotID returns a random positive id drawn from a v4 UUID
func NewSnapshotID() int64 {
	for {
		u := uuid.New()
		hi := binary.BigEndian.Uint64(u[:8])
		lo := binary.BigEndian.Uint64(u[8:])
		if id := int64((hi ^ lo) & math.MaxInt64); id != 0 {
			return id
		}
	}
}

// SnapshotLogEntry records when a snapshot became current
type SnapshotLogEntry struct {
	SnapshotID  int64 `json:"snapshot-id"`
	TimestampMs int64 `json:"timestamp-ms"`
}

// MetadataLogEntry records a previous metadata file of the table
type MetadataLogEntry struct {
	MetadataFile string `json:"metadata-file"`
	TimestampMs  int64  `json:"timestamp-ms"`
}
