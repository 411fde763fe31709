package table

import (
	"context"
	"testing"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/expr"
	"github.com/gear6io/stratum/server/manifest"
	"github.com/gear6io/stratum/server/metadata"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendAll(t *testing.T, tbl *Table, values ...string) *metadata.Snapshot {
	t.Helper()
	app := tbl.NewAppend()
	for i, v := range values {
		app.AppendFile(dataFile(tbl, v, v, int64(i)))
	}
	snap, err := app.Commit(context.Background())
	require.NoError(t, err)
	return snap
}

func readList(ctx context.Context, tbl *Table) ([]manifest.ManifestFile, error) {
	list, err := manifest.ReadManifestList(ctx, tbl.FileIO(), tbl.CurrentSnapshot().ManifestList)
	if err != nil {
		return nil, err
	}
	return list.Manifests, nil
}

func TestOverwriteByFilter(t *testing.T) {
	ctx := context.Background()
	_, _, tbl := createTable(t)
	appendAll(t, tbl, "a", "b", "c")

	snap, err := tbl.NewOverwrite().
		OverwriteByFilter(expr.Equal("data", "a")).
		AddFile(dataFile(tbl, "a2", "a", 10)).
		Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, metadata.OpOverwrite, snap.Operation())
	deleted, _ := snap.Summary.Get(metadata.DeletedDataFiles)
	assert.Equal(t, int64(1), deleted)
	total, _ := snap.Summary.Get(metadata.TotalDataFiles)
	assert.Equal(t, int64(3), total)

	tasks, err := tbl.NewScan().Filter(expr.Equal("data", "a")).PlanTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{dataFile(tbl, "a2", "a", 10).Path}, taskPaths(t, tasks))
}

func TestOverwriteDetectsConflictingAppend(t *testing.T) {
	ctx := context.Background()
	tables, _, tbl := createTable(t)
	appendAll(t, tbl, "a")

	writer, err := tables.Load(ctx, testLocation)
	require.NoError(t, err)
	overwrite := writer.NewOverwrite().
		OverwriteByFilter(expr.Equal("data", "a")).
		ValidateNoConflictingAppends(expr.Equal("data", "a")).
		AddFile(dataFile(writer, "a2", "a", 10))

	// a concurrent writer adds a file the overwrite would have to see
	_, err = tbl.NewAppend().AppendFile(dataFile(tbl, "late", "a", 5)).Commit(ctx)
	require.NoError(t, err)

	_, err = overwrite.Commit(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.True(t, errors.Is(err, errors.ValidationConflictingFile))
}

func TestOverwriteIgnoresUnrelatedAppend(t *testing.T) {
	ctx := context.Background()
	tables, _, tbl := createTable(t)
	appendAll(t, tbl, "a")

	writer, err := tables.Load(ctx, testLocation)
	require.NoError(t, err)
	overwrite := writer.NewOverwrite().
		OverwriteByFilter(expr.Equal("data", "a")).
		ValidateNoConflictingAppends(expr.Equal("data", "a"))

	appendAll(t, tbl, "b")

	_, err = overwrite.Commit(ctx)
	require.NoError(t, err)
	tasks, err := writer.NewScan().PlanTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{dataFile(tbl, "b", "b", 0).Path}, taskPaths(t, tasks))
}

func TestConcurrentOverwritesOfSamePartition(t *testing.T) {
	ctx := context.Background()
	tables, _, tbl := createTable(t)
	appendAll(t, tbl, "a", "b")

	first, err := tables.Load(ctx, testLocation)
	require.NoError(t, err)
	second, err := tables.Load(ctx, testLocation)
	require.NoError(t, err)

	_, err = first.NewOverwrite().
		OverwriteByFilter(expr.Equal("data", "a")).
		AddFile(dataFile(first, "a2", "a", 10)).
		Commit(ctx)
	require.NoError(t, err)

	// second started from the same snapshot and never saw a2
	_, err = second.NewOverwrite().
		OverwriteByFilter(expr.Equal("data", "a")).
		AddFile(dataFile(second, "a3", "a", 11)).
		Commit(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ValidationConflictingFile))

	require.NoError(t, tbl.Refresh(ctx))
	tasks, err := tbl.NewScan().Filter(expr.Equal("data", "a")).PlanTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{dataFile(tbl, "a2", "a", 10).Path}, taskPaths(t, tasks))
}

func TestOverwriteAfterUnrelatedDelete(t *testing.T) {
	ctx := context.Background()
	tables, _, tbl := createTable(t)
	appendAll(t, tbl, "a", "b")

	writer, err := tables.Load(ctx, testLocation)
	require.NoError(t, err)
	overwrite := writer.NewOverwrite().
		OverwriteByFilter(expr.Equal("data", "a")).
		AddFile(dataFile(writer, "a2", "a", 10))

	_, err = tbl.NewDelete().DeleteWhere(expr.Equal("data", "b")).Commit(ctx)
	require.NoError(t, err)

	_, err = overwrite.Commit(ctx)
	require.NoError(t, err)
}

func TestOverwriteOfConcurrentlyDeletedFile(t *testing.T) {
	ctx := context.Background()
	tables, _, tbl := createTable(t)
	appendAll(t, tbl, "a", "b")
	path := dataFile(tbl, "a", "a", 0).Path

	writer, err := tables.Load(ctx, testLocation)
	require.NoError(t, err)
	overwrite := writer.NewOverwrite().DeleteFile(path).AddFile(dataFile(writer, "a2", "a", 1))

	_, err = tbl.NewDelete().DeleteFile(path).Commit(ctx)
	require.NoError(t, err)

	_, err = overwrite.Commit(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ValidationMissingFile))
}

func TestDeleteWhere(t *testing.T) {
	ctx := context.Background()
	_, _, tbl := createTable(t)
	appendAll(t, tbl, "a", "b", "c")

	snap, err := tbl.NewDelete().DeleteWhere(expr.In("data", "a", "c")).Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, metadata.OpDelete, snap.Operation())
	records, _ := snap.Summary.Get(metadata.DeletedRecords)
	assert.Equal(t, int64(2), records)

	tasks, err := tbl.NewScan().PlanTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{dataFile(tbl, "b", "b", 0).Path}, taskPaths(t, tasks))

	_, err = tbl.NewDelete().DeleteWhere(expr.Equal("id", 1)).Commit(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ValidationInvalidUpdate))

	_, err = tbl.NewDelete().DeleteFile("mem://nowhere.parquet").Commit(ctx)
	assert.True(t, errors.Is(err, errors.ValidationMissingFile))
}

func TestDeleteWhereDetectsConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	tables, _, tbl := createTable(t)
	appendAll(t, tbl, "a", "b")

	writer, err := tables.Load(ctx, testLocation)
	require.NoError(t, err)
	del := writer.NewDelete().DeleteWhere(expr.Equal("data", "a"))

	late := dataFile(tbl, "late", "a", 5)
	_, err = tbl.NewAppend().AppendFile(late).Commit(ctx)
	require.NoError(t, err)

	_, err = del.Commit(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ValidationConflictingFile))
	assert.Equal(t, late.Path, errors.GetContext(err)["file"])

	tasks, err := tbl.NewScan().Filter(expr.Equal("data", "a")).PlanTasks(ctx)
	require.NoError(t, err)
	assert.Contains(t, taskPaths(t, tasks), late.Path)
}

func TestRewriteFiles(t *testing.T) {
	ctx := context.Background()
	_, _, tbl := createTable(t)
	appendAll(t, tbl, "a", "b")

	compacted := dataFile(tbl, "ab", "a", 0)
	compacted.RecordCount = 2
	snap, err := tbl.NewRewrite().RewriteFiles(
		[]string{dataFile(tbl, "a", "a", 0).Path},
		[]*manifest.DataFile{compacted},
	).Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, metadata.OpReplace, snap.Operation())

	tasks, err := tbl.NewScan().PlanTasks(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{dataFile(tbl, "b", "b", 1).Path, compacted.Path}, taskPaths(t, tasks))

	_, err = tbl.NewRewrite().Commit(ctx)
	assert.True(t, errors.IsValidation(err))
}

func TestUpdateSchema(t *testing.T) {
	ctx := context.Background()
	_, _, tbl := createTable(t)
	appendAll(t, tbl, "a")

	sch, err := tbl.UpdateSchema().
		AddColumn("", "score", types.IntType, "match score").
		RenameColumn("id", "event_id").
		Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sch.ID)
	f, ok := sch.FindFieldByName("event_id")
	require.True(t, ok)
	assert.Equal(t, 1, f.ID)
	score, ok := sch.FindFieldByName("score")
	require.True(t, ok)
	assert.Equal(t, 3, score.ID)
	assert.Equal(t, 3, tbl.Metadata().LastColumnID())

	sch, err = tbl.UpdateSchema().UpdateColumnType("score", types.LongType).Commit(ctx)
	require.NoError(t, err)
	f, _ = sch.FindFieldByName("score")
	assert.Equal(t, types.LongType, f.Type)

	// the renamed column still prunes files written before the rename
	tasks, err := tbl.NewScan().Filter(expr.Equal("event_id", 0)).PlanTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	_, err = tbl.UpdateSchema().UpdateColumnType("data", types.IntType).Commit(ctx)
	assert.True(t, errors.IsSchemaEvolution(err))
	_, err = tbl.UpdateSchema().AddColumn("", "data", types.IntType).Commit(ctx)
	assert.True(t, errors.Is(err, errors.SchemaDuplicateName))
	_, err = tbl.UpdateSchema().DeleteColumn("missing").Commit(ctx)
	assert.True(t, errors.Is(err, errors.SchemaUnknownField))
	_, err = tbl.UpdateSchema().DeleteColumn("data").Commit(ctx)
	assert.True(t, errors.IsPartitionSpec(err))

	sch, err = tbl.UpdateSchema().UpdateColumnDoc("score", "points scored").Commit(ctx)
	require.NoError(t, err)
	f, _ = sch.FindFieldByName("score")
	assert.Equal(t, "points scored", f.Doc)

	before := tbl.MetadataLocation()
	_, err = tbl.UpdateSchema().Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, tbl.MetadataLocation())
}

func TestUpdateSpec(t *testing.T) {
	ctx := context.Background()
	_, _, tbl := createTable(t)
	appendAll(t, tbl, "a", "b")

	spec, err := tbl.UpdateSpec().AddField("id", partition.BucketTransform{NumBuckets: 4}, "").Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, spec.ID)
	assert.Equal(t, 2, spec.NumFields())
	assert.Equal(t, 1001, spec.Fields[1].FieldID)

	f := dataFile(tbl, "new", "a", 7)
	f.Partition = partition.Record{"a", partition.BucketTransform{NumBuckets: 4}.Apply(int64(7))}
	_, err = tbl.NewAppend().AppendFile(f).Commit(ctx)
	require.NoError(t, err)

	// files of both specs are planned and pruned by their own spec
	tasks, err := tbl.NewScan().Filter(expr.Equal("data", "a")).PlanTasks(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{dataFile(tbl, "a", "a", 0).Path, f.Path}, taskPaths(t, tasks))
	specs := map[int]bool{}
	for _, task := range tasks {
		specs[task.SpecID] = true
	}
	assert.Equal(t, map[int]bool{0: true, 1: true}, specs)

	_, err = tbl.UpdateSpec().AddField("missing", partition.IdentityTransform{}, "").Commit(ctx)
	assert.True(t, errors.IsPartitionSpec(err))
	_, err = tbl.UpdateSpec().AddIdentity("data").Commit(ctx)
	assert.True(t, errors.IsPartitionSpec(err))
}

func TestUpdateProperties(t *testing.T) {
	ctx := context.Background()
	_, _, tbl := createTable(t)

	props, err := tbl.UpdateProperties().
		Set(metadata.PropertyManifestMergeEnabled, "true").
		Set("owner", "ingest").
		Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ingest", props["owner"])
	assert.True(t, tbl.merger(tbl.Metadata()).Enabled)

	props, err = tbl.UpdateProperties().Remove("owner").Commit(ctx)
	require.NoError(t, err)
	assert.NotContains(t, props, "owner")
}

func TestManifestMergeOnCommit(t *testing.T) {
	ctx := context.Background()
	_, _, tbl := createTable(t)
	_, err := tbl.UpdateProperties().
		Set(metadata.PropertyManifestMergeEnabled, "true").
		Set(metadata.PropertyManifestMinMerge, "3").
		Commit(ctx)
	require.NoError(t, err)

	for _, v := range []string{"a", "b", "c", "d"} {
		appendAll(t, tbl, v)
	}
	list, err := readList(ctx, tbl)
	require.NoError(t, err)
	assert.Less(t, len(list), 4)

	tasks, err := tbl.NewScan().PlanTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 4)
}

func TestRollbackAndExpire(t *testing.T) {
	ctx := context.Background()
	_, _, tbl := createTable(t)
	first := appendAll(t, tbl, "a")
	second := appendAll(t, tbl, "b")
	appendAll(t, tbl, "c")

	snap, err := tbl.ManageSnapshots().RollbackTo(second.ID).Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, snap.ID)
	tasks, err := tbl.NewScan().PlanTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	assert.Len(t, tbl.History(), 4)

	_, err = tbl.ManageSnapshots().RollbackTo(999).Commit(ctx)
	assert.True(t, errors.Is(err, ErrUnknownSnapshot))

	third := tbl.Snapshots()[2]
	_, err = tbl.ManageSnapshots().RollbackTo(third.ID).Commit(ctx)
	assert.True(t, errors.Is(err, errors.ValidationInvalidUpdate))

	snap, err = tbl.ManageSnapshots().SetCurrentSnapshot(third.ID).Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, third.ID, snap.ID)

	expired, err := tbl.ExpireSnapshots().ExpireSnapshotID(first.ID).Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{first.ID}, expired)
	assert.Len(t, tbl.Snapshots(), 2)

	_, err = tbl.ExpireSnapshots().ExpireSnapshotID(third.ID).Commit(ctx)
	assert.True(t, errors.IsValidation(err))

	expired, err = tbl.ExpireSnapshots().ExpireOlderThan(third.TimestampMs + 1).Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{second.ID}, expired)
	assert.Len(t, tbl.Snapshots(), 1)
}
