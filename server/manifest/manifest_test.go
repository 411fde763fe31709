package manifest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memIO struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemIO() *memIO {
	return &memIO{files: map[string][]byte{}}
}

func (m *memIO) Read(_ context.Context, loc string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[loc]
	if !ok {
		return nil, errors.Newf(errors.CommonNotFound, "%s not found", loc)
	}
	return b, nil
}

func (m *memIO) WriteNew(_ context.Context, loc string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[loc]; ok {
		return errors.Newf(errors.CommonAlreadyExists, "%s exists", loc)
	}
	m.files[loc] = data
	return nil
}

func testSchema() *schema.Schema {
	return schema.MustNewSchema(0,
		types.NestedField{ID: 1, Name: "id", Type: types.IntType, Required: true},
		types.NestedField{ID: 2, Name: "data", Type: types.StringType},
	)
}

func testSpec(t *testing.T, sch *schema.Schema) partition.Spec {
	spec, err := partition.NewBuilder(sch).Identity("data").Bucket("id", 8).Build()
	require.NoError(t, err)
	return spec
}

func dataFile(path string, data any, id int32, rows int64) *DataFile {
	var dataBound []byte
	if s, ok := data.(string); ok {
		dataBound = []byte(s)
	}
	lower, _ := types.ToBytes(types.IntType, id)
	f := &DataFile{
		Path:            path,
		Format:          FormatParquet,
		Partition:       partition.Record{data, partition.BucketTransform{NumBuckets: 8}.Apply(id)},
		RecordCount:     rows,
		FileSizeBytes:   rows * 100,
		ValueCounts:     map[int]int64{1: rows, 2: rows},
		NullValueCounts: map[int]int64{1: 0, 2: 0},
		LowerBounds:     map[int][]byte{1: lower},
		UpperBounds:     map[int][]byte{1: lower},
	}
	if dataBound != nil {
		f.LowerBounds[2] = dataBound
		f.UpperBounds[2] = dataBound
	} else {
		f.NullValueCounts[2] = rows
	}
	return f
}

func TestManifestRoundTrip(t *testing.T) {
	sch := testSchema()
	spec := testSpec(t, sch)

	w, err := NewWriter(spec, sch, 42)
	require.NoError(t, err)
	require.NoError(t, w.Add(dataFile("s3://b/t/data/a.parquet", "a", 1, 10)))
	require.NoError(t, w.Add(dataFile("s3://b/t/data/null.parquet", nil, 2, 5)))
	require.NoError(t, w.Existing(Entry{SnapshotID: 7, SequenceNumber: 3, File: dataFile("s3://b/t/data/c.parquet", "c", 3, 1)}))
	require.NoError(t, w.Delete(Entry{SnapshotID: 7, SequenceNumber: 2, File: dataFile("s3://b/t/data/d.parquet", "d", 4, 2)}))

	data, err := EncodeManifest(sch, spec, w.Entries())
	require.NoError(t, err)

	m, err := DecodeManifest("m.avro", data)
	require.NoError(t, err)
	assert.True(t, sch.Equals(m.Schema))
	assert.True(t, spec.CompatibleWith(m.Spec))
	assert.Equal(t, spec.ID, m.SpecID)
	assert.Equal(t, w.Entries(), m.Entries)

	assert.Equal(t, StatusDeleted, m.Entries[3].Status)
	assert.Equal(t, int64(42), m.Entries[3].SnapshotID)
	assert.Equal(t, int64(2), m.Entries[3].SequenceNumber)
	assert.Len(t, m.LiveEntries(), 3)
}

func TestWriterCountsAndSummaries(t *testing.T) {
	sch := testSchema()
	spec := testSpec(t, sch)
	fio := newMemIO()

	w, err := NewWriter(spec, sch, 42)
	require.NoError(t, err)
	require.NoError(t, w.Add(dataFile("a", "b", 1, 10)))
	require.NoError(t, w.Add(dataFile("b", "a", 2, 5)))
	require.NoError(t, w.Add(dataFile("c", nil, 3, 1)))
	require.NoError(t, w.Existing(Entry{SnapshotID: 1, SequenceNumber: 1, File: dataFile("d", "z", 4, 3)}))

	mf, err := w.Write(context.Background(), fio, "meta/m1.avro")
	require.NoError(t, err)

	assert.Equal(t, int64(len(fio.files["meta/m1.avro"])), mf.Length)
	assert.Equal(t, int32(3), mf.AddedFilesCount)
	assert.Equal(t, int32(1), mf.ExistingFilesCount)
	assert.Equal(t, int64(16), mf.AddedRowsCount)
	assert.Equal(t, int64(3), mf.ExistingRowsCount)
	assert.Equal(t, int64(42), mf.AddedSnapshotID)
	assert.Equal(t, int64(0), mf.SequenceNumber)
	assert.Equal(t, int64(1), mf.MinSequenceNumber)
	assert.True(t, mf.HasLiveFiles())

	require.Len(t, mf.Partitions, 2)
	assert.True(t, mf.Partitions[0].ContainsNull)
	assert.Equal(t, []byte("a"), mf.Partitions[0].LowerBound)
	assert.Equal(t, []byte("z"), mf.Partitions[0].UpperBound)
	assert.False(t, mf.Partitions[1].ContainsNull)

	_, err = w.Write(context.Background(), fio, "meta/m2.avro")
	assert.True(t, errors.Is(err, ErrWriterClosed))
}

func TestWriterRejectsBadEntries(t *testing.T) {
	sch := testSchema()
	spec := testSpec(t, sch)
	w, err := NewWriter(spec, sch, 1)
	require.NoError(t, err)

	err = w.Add(&DataFile{Path: "x", Partition: partition.Record{"a"}})
	assert.True(t, errors.Is(err, ErrSpecMismatch))

	err = w.Add(&DataFile{Path: "", Partition: partition.Record{"a", int32(1)}})
	assert.True(t, errors.Is(err, ErrInvalidEntry))

	err = w.Add(&DataFile{Path: "x", Partition: partition.Record{int64(5), int32(1)}})
	assert.True(t, errors.Is(err, ErrInvalidEntry))
	assert.Zero(t, w.Len())
}

func TestSequenceNumberInheritance(t *testing.T) {
	sch := testSchema()
	spec := testSpec(t, sch)
	fio := newMemIO()
	ctx := context.Background()

	mf, err := BuildManifest(ctx, fio, "m1.avro", sch, spec, 100, []*DataFile{dataFile("a", "a", 1, 1)})
	require.NoError(t, err)

	parent := int64(99)
	list, err := WriteManifestList(ctx, fio, "snap-100.avro", ManifestList{
		SnapshotID:       100,
		ParentSnapshotID: &parent,
		SequenceNumber:   5,
		Manifests:        []ManifestFile{mf},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), list.Manifests[0].SequenceNumber)
	assert.Equal(t, int64(5), list.Manifests[0].MinSequenceNumber)

	read, err := ReadManifestList(ctx, fio, "snap-100.avro")
	require.NoError(t, err)
	assert.Equal(t, list, *read)

	m, err := ReadManifest(ctx, fio, read.Manifests[0])
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, int64(5), m.Entries[0].SequenceNumber)
	assert.Equal(t, int64(100), m.Entries[0].SnapshotID)
}

func TestManifestListRoundTrip(t *testing.T) {
	list := ManifestList{
		SnapshotID:     3,
		SequenceNumber: 2,
		Manifests: []ManifestFile{
			{
				Path: "m1.avro", Length: 1234, SpecID: 1, AddedSnapshotID: 3, SequenceNumber: 2, MinSequenceNumber: 1,
				AddedFilesCount: 2, ExistingFilesCount: 1, DeletedFilesCount: 1,
				AddedRowsCount: 20, ExistingRowsCount: 5, DeletedRowsCount: 3,
				Partitions: []FieldSummary{
					{ContainsNull: true},
					{LowerBound: []byte{}, UpperBound: []byte("zz")},
				},
			},
			{Path: "m2.avro", Length: 10, Partitions: []FieldSummary{}},
		},
	}

	data, err := EncodeManifestList(list)
	require.NoError(t, err)
	read, err := DecodeManifestList("list.avro", data)
	require.NoError(t, err)
	assert.Equal(t, list, *read)
	assert.Nil(t, read.ParentSnapshotID)
	assert.Nil(t, read.Manifests[0].Partitions[0].LowerBound)
	assert.NotNil(t, read.Manifests[0].Partitions[1].LowerBound)
}

func TestCorruptInput(t *testing.T) {
	_, err := DecodeManifest("junk.avro", []byte("not avro at all"))
	assert.True(t, errors.IsCorruptMetadata(err))
	assert.Equal(t, "junk.avro", errors.GetContext(err)["path"])

	_, err = DecodeManifestList("junk.avro", []byte{})
	assert.True(t, errors.IsCorruptMetadata(err))

	// a manifest list is not a manifest
	data, err := EncodeManifestList(ManifestList{SnapshotID: 1, SequenceNumber: 1})
	require.NoError(t, err)
	_, err = DecodeManifest("list.avro", data)
	assert.True(t, errors.IsCorruptMetadata(err))
}

func writeManifests(t *testing.T, fio *memIO, sch *schema.Schema, spec partition.Spec, snapshotID int64, seq int64, groups ...[]*DataFile) []ManifestFile {
	t.Helper()
	var out []ManifestFile
	for i, files := range groups {
		mf, err := BuildManifest(context.Background(), fio, fmt.Sprintf("m-%d-%d.avro", snapshotID, i), sch, spec, snapshotID, files)
		require.NoError(t, err)
		mf.SequenceNumber = seq
		mf.MinSequenceNumber = seq
		out = append(out, mf)
	}
	return out
}

func livePaths(t *testing.T, fio FileIO, manifests []ManifestFile) []string {
	t.Helper()
	var paths []string
	for _, mf := range manifests {
		m, err := ReadManifest(context.Background(), fio, mf)
		require.NoError(t, err)
		for _, e := range m.LiveEntries() {
			paths = append(paths, e.File.Path)
		}
	}
	return paths
}

func TestMergeManifestList(t *testing.T) {
	sch := testSchema()
	spec := testSpec(t, sch)
	fio := newMemIO()
	ctx := context.Background()

	base := writeManifests(t, fio, sch, spec, 1, 1,
		[]*DataFile{dataFile("a", "a", 1, 1), dataFile("b", "b", 2, 1)},
		[]*DataFile{dataFile("c", "c", 3, 1)},
	)
	added := writeManifests(t, fio, sch, spec, 2, 0, []*DataFile{dataFile("d", "d", 4, 1)})

	n := 0
	res, err := MergeManifestList(ctx, fio, MergeRequest{
		SnapshotID: 2,
		Base:       base,
		Added:      added,
		Removed:    []string{"b"},
		NewPath:    func() string { n++; return fmt.Sprintf("rewritten-%d.avro", n) },
	})
	require.NoError(t, err)

	require.Len(t, res.Manifests, 3)
	assert.Equal(t, "rewritten-1.avro", res.Manifests[0].Path)
	assert.Equal(t, base[1], res.Manifests[1])
	assert.Equal(t, added[0], res.Manifests[2])
	assert.Equal(t, []string{"rewritten-1.avro"}, res.Written)
	require.Len(t, res.Deleted, 1)
	assert.Equal(t, "b", res.Deleted[0].File.Path)

	rewritten := res.Manifests[0]
	assert.Equal(t, int32(1), rewritten.ExistingFilesCount)
	assert.Equal(t, int32(1), rewritten.DeletedFilesCount)
	assert.Equal(t, int32(0), rewritten.AddedFilesCount)
	assert.Equal(t, int64(1), rewritten.MinSequenceNumber)

	m, err := ReadManifest(ctx, fio, rewritten)
	require.NoError(t, err)
	require.Len(t, m.Entries, 2)
	assert.Equal(t, StatusExisting, m.Entries[0].Status)
	assert.Equal(t, int64(1), m.Entries[0].SequenceNumber)
	assert.Equal(t, int64(1), m.Entries[0].SnapshotID)
	assert.Equal(t, StatusDeleted, m.Entries[1].Status)
	assert.Equal(t, int64(2), m.Entries[1].SnapshotID)

	assert.ElementsMatch(t, []string{"a", "c", "d"}, livePaths(t, fio, res.Manifests))
}

func TestMergeDropsDeadManifests(t *testing.T) {
	base := []ManifestFile{
		{Path: "dead.avro", DeletedFilesCount: 2},
		{Path: "live.avro", ExistingFilesCount: 1},
	}
	res, err := MergeManifestList(context.Background(), newMemIO(), MergeRequest{SnapshotID: 9, Base: base})
	require.NoError(t, err)
	assert.Equal(t, []ManifestFile{base[1]}, res.Manifests)
}

func TestMergeMissingFileFailsValidation(t *testing.T) {
	sch := testSchema()
	spec := testSpec(t, sch)
	fio := newMemIO()

	base := writeManifests(t, fio, sch, spec, 1, 1, []*DataFile{dataFile("a", "a", 1, 1)})
	_, err := MergeManifestList(context.Background(), fio, MergeRequest{
		SnapshotID: 2,
		Base:       base,
		Removed:    []string{"gone"},
		NewPath:    func() string { return "x.avro" },
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.True(t, errors.Is(err, errors.ValidationMissingFile))
	assert.Equal(t, "gone", errors.GetContext(err)["path"])
}

func TestMerger(t *testing.T) {
	sch := testSchema()
	spec := testSpec(t, sch)
	fio := newMemIO()
	ctx := context.Background()

	old := writeManifests(t, fio, sch, spec, 1, 1,
		[]*DataFile{dataFile("a", "a", 1, 1)},
		[]*DataFile{dataFile("b", "b", 2, 1)},
	)
	fresh := writeManifests(t, fio, sch, spec, 2, 0, []*DataFile{dataFile("c", "c", 3, 1)})
	all := append(append([]ManifestFile{}, old...), fresh...)

	disabled := Merger{}
	out, written, err := disabled.Merge(ctx, fio, 2, all, func() string { return "never" })
	require.NoError(t, err)
	assert.Equal(t, all, out)
	assert.Empty(t, written)

	merger := Merger{Enabled: true, TargetSizeBytes: 1 << 20, MinCountToMerge: 3}
	out, written, err = merger.Merge(ctx, fio, 2, all, func() string { return "merged.avro" })
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"merged.avro"}, written)
	assert.Equal(t, int32(1), out[0].AddedFilesCount)
	assert.Equal(t, int32(2), out[0].ExistingFilesCount)
	assert.Equal(t, int64(1), out[0].MinSequenceNumber)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, livePaths(t, fio, out))

	list, err := WriteManifestList(ctx, fio, "snap-2.avro", ManifestList{SnapshotID: 2, SequenceNumber: 2, Manifests: out})
	require.NoError(t, err)
	m, err := ReadManifest(ctx, fio, list.Manifests[0])
	require.NoError(t, err)
	for _, e := range m.Entries {
		if e.File.Path == "c" {
			assert.Equal(t, StatusAdded, e.Status)
			assert.Equal(t, int64(2), e.SequenceNumber)
		} else {
			assert.Equal(t, StatusExisting, e.Status)
			assert.Equal(t, int64(1), e.SequenceNumber)
		}
	}

	small := Merger{Enabled: true, TargetSizeBytes: 1 << 20, MinCountToMerge: 10}
	out, _, err = small.Merge(ctx, fio, 2, all, func() string { return "never" })
	require.NoError(t, err)
	assert.Equal(t, all, out)
}
