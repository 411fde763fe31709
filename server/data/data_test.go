package data

import (
	"context"
	"testing"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/config"
	"github.com/gear6io/stratum/server/expr"
	"github.com/gear6io/stratum/server/metadata"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/storage"
	"github.com/gear6io/stratum/server/storage/memory"
	"github.com/gear6io/stratum/server/table"
	"github.com/gear6io/stratum/server/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLocation = "mem://warehouse/db/events"

func testSchema() *schema.Schema {
	return schema.MustNewSchema(0,
		types.NestedField{ID: 1, Name: "id", Type: types.LongType, Required: true},
		types.NestedField{ID: 2, Name: "data", Type: types.StringType},
	)
}

func testParquet(t *testing.T) *Parquet {
	t.Helper()
	p, err := NewParquet(config.DataConfig{Compression: "snappy", BatchRows: 2})
	require.NoError(t, err)
	return p
}

func createTable(t *testing.T) (*memory.MemoryStorage, *table.Table) {
	t.Helper()
	fio := memory.NewMemoryStorage()
	tables := table.NewTables(fio, storage.NewLogPointerStore(fio, zerolog.Nop()), table.DefaultOptions(), zerolog.Nop())
	spec, err := partition.NewBuilder(testSchema()).Identity("data").Build()
	require.NoError(t, err)
	tbl, err := tables.Create(context.Background(), testSchema(), spec, testLocation, nil)
	require.NoError(t, err)
	return fio, tbl
}

func writeRows(t *testing.T, tbl *table.Table, format FileFormat, rows ...Row) {
	t.Helper()
	ctx := context.Background()
	w, err := NewPartitionedWriter(tbl.FileIO(), format, tbl.Schema(), tbl.Spec(), tbl.Location(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, rows...))
	files, err := w.Close(ctx)
	require.NoError(t, err)
	_, err = tbl.NewAppend().AppendFiles(files...).Commit(ctx)
	require.NoError(t, err)
}

func scanRows(t *testing.T, tbl *table.Table, format FileFormat, scan *table.Scan) []Row {
	t.Helper()
	ctx := context.Background()
	sch, err := scan.TableSchema()
	require.NoError(t, err)
	var out []Row
	for task, err := range scan.PlanFiles(ctx) {
		require.NoError(t, err)
		for row, err := range ReadTask(ctx, tbl.FileIO(), format, sch, task) {
			require.NoError(t, err)
			out = append(out, row)
		}
	}
	return out
}

func TestIdentityPartitionedScan(t *testing.T) {
	ctx := context.Background()
	_, tbl := createTable(t)
	format := testParquet(t)
	writeRows(t, tbl, format, Row{1, "a"}, Row{2, "b"}, Row{3, "c"})

	snap := tbl.CurrentSnapshot()
	require.NotNil(t, snap)
	added, _ := snap.Summary.Get(metadata.AddedDataFiles)
	assert.Equal(t, int64(3), added)

	scan := tbl.NewScan().Filter(expr.Equal("data", "b"))
	tasks, err := scan.PlanTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, partition.Record{"b"}, tasks[0].Partition)
	assert.Equal(t, expr.OpTrue, tasks[0].Residual.Op())

	assert.Equal(t, []Row{{int64(2), "b"}}, scanRows(t, tbl, format, scan))
}

func TestReadTaskAppliesResidual(t *testing.T) {
	_, tbl := createTable(t)
	format := testParquet(t)
	writeRows(t, tbl, format, Row{1, "a"}, Row{2, "a"}, Row{3, "a"}, Row{4, "b"})

	scan := tbl.NewScan().Filter(expr.And(expr.Equal("data", "a"), expr.GreaterThan("id", 1)))
	rows := scanRows(t, tbl, format, scan)
	assert.Equal(t, []Row{{int64(2), "a"}, {int64(3), "a"}}, rows)

	// the filter column is read but not returned
	rows = scanRows(t, tbl, format, scan.Select("data"))
	assert.Equal(t, []Row{{"a"}, {"a"}}, rows)
}

func TestReadAfterSchemaEvolution(t *testing.T) {
	ctx := context.Background()
	_, tbl := createTable(t)
	format := testParquet(t)
	writeRows(t, tbl, format, Row{1, "a"}, Row{2, "b"})

	_, err := tbl.UpdateSchema().
		RenameColumn("id", "event_id").
		AddColumn("", "score", types.IntType, "").
		Commit(ctx)
	require.NoError(t, err)
	writeRows(t, tbl, format, Row{3, "c", 30})

	rows := scanRows(t, tbl, format, tbl.NewScan().Filter(expr.LessThan("event_id", 10)))
	assert.ElementsMatch(t, []Row{
		{int64(1), "a", nil},
		{int64(2), "b", nil},
		{int64(3), "c", int32(30)},
	}, rows)

	_, err = tbl.UpdateSchema().UpdateColumnType("score", types.LongType).Commit(ctx)
	require.NoError(t, err)
	rows = scanRows(t, tbl, format, tbl.NewScan().Filter(expr.Equal("data", "c")).Select("score"))
	assert.Equal(t, []Row{{int64(30)}}, rows)
}

func TestPartitionedWriterRoutesRows(t *testing.T) {
	ctx := context.Background()
	fio := memory.NewMemoryStorage()
	spec, err := partition.NewBuilder(testSchema()).Identity("data").Build()
	require.NoError(t, err)

	w, err := NewPartitionedWriter(fio, testParquet(t), testSchema(), spec, testLocation, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, Row{1, "a"}, Row{2, "b"}, Row{3, "a"}, Row{4, nil}))
	files, err := w.Close(ctx)
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, partition.Record{"a"}, files[0].Partition)
	assert.Equal(t, int64(2), files[0].RecordCount)
	assert.Contains(t, files[0].Path, testLocation+"/data/data=a/")
	assert.Equal(t, partition.Record{nil}, files[2].Partition)
	assert.Contains(t, files[2].Path, "/data/data=null/")
	for _, f := range files {
		assert.True(t, fio.Exists(f.Path))
		assert.Equal(t, spec.ID, f.SpecID)
		assert.Positive(t, f.FileSizeBytes)
	}

	lower, _ := types.ToBytes(types.LongType, int64(1))
	upper, _ := types.ToBytes(types.LongType, int64(3))
	assert.Equal(t, lower, files[0].LowerBounds[1])
	assert.Equal(t, upper, files[0].UpperBounds[1])
	assert.Equal(t, int64(1), files[2].NullValueCounts[2])
	assert.NotContains(t, files[2].LowerBounds, 2)

	_, err = w.Close(ctx)
	assert.True(t, errors.Is(err, ErrWriterClosed))
}

func TestPartitionedWriterRejectsBadRows(t *testing.T) {
	ctx := context.Background()
	w, err := NewPartitionedWriter(memory.NewMemoryStorage(), testParquet(t), testSchema(), partition.Unpartitioned(), testLocation, zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, errors.Is(w.Write(ctx, Row{nil, "a"}), ErrInvalidRow))
	assert.True(t, errors.Is(w.Write(ctx, Row{1}), ErrInvalidRow))
	assert.True(t, errors.Is(w.Write(ctx, Row{"x", "a"}), ErrTypeMismatch))

	nested := schema.MustNewSchema(0, types.NestedField{
		ID: 1, Name: "point", Type: &types.StructType{Fields: []types.NestedField{
			{ID: 2, Name: "x", Type: types.DoubleType},
		}},
	})
	_, err = NewPartitionedWriter(memory.NewMemoryStorage(), testParquet(t), nested, partition.Unpartitioned(), testLocation, zerolog.Nop())
	assert.True(t, errors.Is(err, ErrUnsupportedType))
}
