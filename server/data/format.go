// Package data reads and writes the data files a table tracks. Columns are
// matched to schema fields by id, so files stay readable after renames,
// added columns and type promotions.
package data

import (
	"context"
	"iter"

	"github.com/gear6io/stratum/server/manifest"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/storage"
)

// FileFormat creates writers and readers for one file format
type FileFormat interface {
	Format() manifest.FileFormat
	Extension() string
	NewWriter(ctx context.Context, fio storage.FileIO, path string, sch *schema.Schema) (FileWriter, error)
	// Read yields the rows of the file projected onto sch. Fields missing
	// from the file read as null.
	Read(ctx context.Context, fio storage.FileIO, path string, sch *schema.Schema) iter.Seq2[Batch, error]
}

// FileWriter buffers rows of one data file. Nothing is visible in storage
// until Close succeeds.
type FileWriter interface {
	Write(rows ...Row) error
	Close(ctx context.Context) (WriteResult, error)
}

// WriteResult describes a written file; counts and bounds are keyed by
// field id
type WriteResult struct {
	Path        string
	RecordCount int64
	ByteSize    int64
	ValueCounts map[int]int64
	NullCounts  map[int]int64
	Lower       map[int][]byte
	Upper       map[int][]byte
}

// DataFile converts the result into the manifest entry of a file written
// for the partition rec of spec
func (r WriteResult) DataFile(format manifest.FileFormat, spec partition.Spec, rec partition.Record) *manifest.DataFile {
	return &manifest.DataFile{
		Path:            r.Path,
		Format:          format,
		SpecID:          spec.ID,
		Partition:       rec,
		RecordCount:     r.RecordCount,
		FileSizeBytes:   r.ByteSize,
		ValueCounts:     r.ValueCounts,
		NullValueCounts: r.NullCounts,
		LowerBounds:     r.Lower,
		UpperBounds:     r.Upper,
	}
}
