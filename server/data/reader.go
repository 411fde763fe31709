package data

import (
	"context"
	"iter"
	"slices"

	"github.com/gear6io/stratum/server/expr"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/storage"
	"github.com/gear6io/stratum/server/table"
)

// ReadTask reads the file of a scan task and yields the rows matching its
// residual filter, projected onto the task's columns. sch is the schema
// the scan was planned with.
func ReadTask(ctx context.Context, fio storage.FileIO, format FileFormat, sch *schema.Schema, task table.FileScanTask) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		projected := sch.Project(task.ProjectedFieldIDs...)
		filter := task.Residual
		if filter == nil {
			filter = expr.AlwaysTrue()
		}

		// the residual may need columns the caller did not select
		readIDs := slices.Clone(task.ProjectedFieldIDs)
		for _, id := range expr.ReferencedFieldIDs(filter) {
			if !slices.Contains(readIDs, id) {
				readIDs = append(readIDs, id)
			}
		}
		readSchema := sch.Project(readIDs...)

		readPos := positionsOf(readSchema)
		outIDs := make([]int, 0, projected.NumFields())
		for _, f := range projected.Fields() {
			outIDs = append(outIDs, f.ID)
		}
		rows := expr.NewRowEvaluator(filter)

		for batch, err := range format.Read(ctx, fio, task.File.Path, readSchema) {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, r := range batch.Rows {
				value := func(id int) any {
					if i, ok := readPos[id]; ok {
						return r[i]
					}
					return nil
				}
				if !rows.Eval(value) {
					continue
				}
				out := make(Row, len(outIDs))
				for i, id := range outIDs {
					out[i] = r[readPos[id]]
				}
				if !yield(out, nil) {
					return
				}
			}
		}
	}
}

func positionsOf(sch *schema.Schema) map[int]int {
	pos := make(map[int]int, sch.NumFields())
	for i, f := range sch.Fields() {
		pos[f.ID] = i
	}
	return pos
}
