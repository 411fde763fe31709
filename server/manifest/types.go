// Package manifest holds the file index of a table: manifests listing data
// files with their partition tuples and column statistics, and manifest lists
// referencing the manifests that make up one snapshot.
package manifest

import (
	"context"
	"fmt"
	"maps"

	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
)

// FormatVersion is written into every manifest and manifest list header
const FormatVersion = 2

// FileIO is the part of the storage collaborator manifests need
type FileIO interface {
	Read(ctx context.Context, location string) ([]byte, error)
	WriteNew(ctx context.Context, location string, data []byte) error
}

// FileFormat names the columnar format of a data file
type FileFormat string

const (
	FormatParquet FileFormat = "PARQUET"
	FormatAvro    FileFormat = "AVRO"
	FormatORC     FileFormat = "ORC"
)

// DataFile describes one immutable data file. Statistics maps are keyed by
// schema field id; a missing key means the statistic is unknown.
type DataFile struct {
	Path            string
	Format          FileFormat
	SpecID          int
	Partition       partition.Record
	RecordCount     int64
	FileSizeBytes   int64
	ValueCounts     map[int]int64
	NullValueCounts map[int]int64
	LowerBounds     map[int][]byte
	UpperBounds     map[int][]byte
}

// Clone returns a copy that shares no maps or slices with f
func (f *DataFile) Clone() *DataFile {
	c := *f
	c.Partition = append(partition.Record{}, f.Partition...)
	c.ValueCounts = cloneCounts(f.ValueCounts)
	c.NullValueCounts = cloneCounts(f.NullValueCounts)
	c.LowerBounds = cloneBounds(f.LowerBounds)
	c.UpperBounds = cloneBounds(f.UpperBounds)
	return &c
}

func cloneCounts(m map[int]int64) map[int]int64 {
	if m == nil {
		return map[int]int64{}
	}
	return maps.Clone(m)
}

func cloneBounds(m map[int][]byte) map[int][]byte {
	out := make(map[int][]byte, len(m))
	for k, v := range m {
		out[k] = append([]byte{}, v...)
	}
	return out
}

// EntryStatus tracks whether a manifest entry was added, carried over or
// deleted by the snapshot that wrote the manifest.
type EntryStatus int

const (
	StatusExisting EntryStatus = 0
	StatusAdded    EntryStatus = 1
	StatusDeleted  EntryStatus = 2
)

func (s EntryStatus) String() string {
	switch s {
	case StatusExisting:
		return "EXISTING"
	case StatusAdded:
		return "ADDED"
	case StatusDeleted:
		return "DELETED"
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

// Entry is one data file row of a manifest. A zero SequenceNumber on an
// added entry is inherited from the manifest when it is read.
type Entry struct {
	Status         EntryStatus
	SnapshotID     int64
	SequenceNumber int64
	File           *DataFile
}

func (e Entry) IsLive() bool {
	return e.Status != StatusDeleted
}

// Manifest is a decoded manifest file
type Manifest struct {
	Path    string
	SpecID  int
	Spec    partition.Spec
	Schema  *schema.Schema
	Entries []Entry
}

// LiveEntries returns the added and existing entries
func (m *Manifest) LiveEntries() []Entry {
	out := make([]Entry, 0, len(m.Entries))
	for _, e := range m.Entries {
		if e.IsLive() {
			out = append(out, e)
		}
	}
	return out
}

// FieldSummary is the value range of one partition field across a manifest.
// Nil bounds mean no non-null value was seen.
type FieldSummary struct {
	ContainsNull bool
	LowerBound   []byte
	UpperBound   []byte
}

// ManifestFile is a manifest list entry. A zero SequenceNumber marks a
// manifest whose snapshot has not been committed yet.
type ManifestFile struct {
	Path               string
	Length             int64
	SpecID             int
	AddedSnapshotID    int64
	SequenceNumber     int64
	MinSequenceNumber  int64
	AddedFilesCount    int32
	ExistingFilesCount int32
	DeletedFilesCount  int32
	AddedRowsCount     int64
	ExistingRowsCount  int64
	DeletedRowsCount   int64
	Partitions         []FieldSummary
}

// HasLiveFiles reports whether the manifest lists any added or existing file
func (mf ManifestFile) HasLiveFiles() bool {
	return mf.AddedFilesCount > 0 || mf.ExistingFilesCount > 0
}

func (mf ManifestFile) LiveRowsCount() int64 {
	return mf.AddedRowsCount + mf.ExistingRowsCount
}

// ManifestList is a decoded manifest list
type ManifestList struct {
	SnapshotID       int64
	ParentSnapshotID *int64
	SequenceNumber   int64
	Manifests        []ManifestFile
}
