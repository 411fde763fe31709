package table

import (
	"context"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/expr"
	"github.com/gear6io/stratum/server/manifest"
	"github.com/gear6io/stratum/server/metadata"
)

// Overwrite replaces files: explicitly, or every file whose identity
// partition values match a filter. Files it deletes must still be live in
// the base it commits on. A filter overwrite fails when a snapshot committed
// since it started added or deleted a file matching the filter. With
// ValidateNoConflictingAppends it also fails when a concurrent snapshot
// added files matching the conflict filter.
type Overwrite struct {
	p              *snapshotProducer
	fromSnapshotID *int64
	conflictFilter expr.Expression
}

// NewOverwrite starts an overwrite based on the current snapshot
func (t *Table) NewOverwrite() *Overwrite {
	o := &Overwrite{p: newSnapshotProducer(t, metadata.OpOverwrite), fromSnapshotID: currentID(t)}
	o.p.validate = o.validate
	return o
}

func currentID(t *Table) *int64 {
	if s := t.CurrentSnapshot(); s != nil {
		id := s.ID
		return &id
	}
	return nil
}

// AddFile adds a data file in the new snapshot
func (o *Overwrite) AddFile(f *manifest.DataFile) *Overwrite {
	o.p.addFile(f)
	return o
}

// DeleteFile removes a file by path; it must be live when the commit lands
func (o *Overwrite) DeleteFile(path string) *Overwrite {
	o.p.deleteFile(path)
	return o
}

// OverwriteByFilter deletes every live file whose partition matches e. e
// may only reference identity partition source columns.
func (o *Overwrite) OverwriteByFilter(e expr.Expression) *Overwrite {
	o.p.deleteWhere(e)
	return o
}

// ValidateFromSnapshot sets the snapshot conflict checks start after. It
// defaults to the snapshot current when the overwrite was created.
func (o *Overwrite) ValidateFromSnapshot(id int64) *Overwrite {
	o.fromSnapshotID = &id
	return o
}

// ValidateNoConflictingAppends fails the commit when a concurrent snapshot
// added a file that may hold rows matching filter
func (o *Overwrite) ValidateNoConflictingAppends(filter expr.Expression) *Overwrite {
	o.conflictFilter = filter
	return o
}

// SnapshotID is the id the overwrite commits under
func (o *Overwrite) SnapshotID() int64 {
	return o.p.snapshotID
}

func (o *Overwrite) validate(ctx context.Context, base *metadata.Metadata) error {
	fio := o.p.table.FileIO()
	if o.p.deleteFilter != nil {
		if err := conflictingFiles(ctx, fio, base, o.fromSnapshotID, o.p.deleteFilter); err != nil {
			return err
		}
	}
	if o.conflictFilter == nil {
		return nil
	}
	return conflictingAppends(ctx, fio, base, o.fromSnapshotID, o.conflictFilter)
}

// Commit validates against the latest table state and commits, retrying
// lost races
func (o *Overwrite) Commit(ctx context.Context) (*metadata.Snapshot, error) {
	return o.p.commit(ctx)
}

// Rewrite replaces a set of files with files holding the same rows, such
// as after compaction. The snapshot operation is replace.
type Rewrite struct {
	p *snapshotProducer
}

// NewRewrite starts a replace of files with equivalent ones
func (t *Table) NewRewrite() *Rewrite {
	return &Rewrite{p: newSnapshotProducer(t, metadata.OpReplace)}
}

// RewriteFiles replaces the files at deleted with added
func (r *Rewrite) RewriteFiles(deleted []string, added []*manifest.DataFile) *Rewrite {
	for _, path := range deleted {
		r.p.deleteFile(path)
	}
	for _, f := range added {
		r.p.addFile(f)
	}
	return r
}

// Commit fails when no file is replaced
func (r *Rewrite) Commit(ctx context.Context) (*metadata.Snapshot, error) {
	if len(r.p.deletePaths) == 0 {
		return nil, errors.New(errors.ValidationInvalidUpdate, "rewrite must replace at least one file", nil)
	}
	return r.p.commit(ctx)
}

// Delete removes files without adding any. A filter delete fails when a
// snapshot committed since it started added or deleted a matching file.
type Delete struct {
	p              *snapshotProducer
	fromSnapshotID *int64
}

// NewDelete starts a delete based on the current snapshot
func (t *Table) NewDelete() *Delete {
	d := &Delete{p: newSnapshotProducer(t, metadata.OpDelete), fromSnapshotID: currentID(t)}
	d.p.validate = d.validate
	return d
}

// DeleteFile removes a file by path; it must be live when the commit lands
func (d *Delete) DeleteFile(path string) *Delete {
	d.p.deleteFile(path)
	return d
}

// DeleteWhere removes every live file whose partition matches e. e may
// only reference identity partition source columns.
func (d *Delete) DeleteWhere(e expr.Expression) *Delete {
	d.p.deleteWhere(e)
	return d
}

func (d *Delete) validate(ctx context.Context, base *metadata.Metadata) error {
	if d.p.deleteFilter == nil {
		return nil
	}
	return conflictingFiles(ctx, d.p.table.FileIO(), base, d.fromSnapshotID, d.p.deleteFilter)
}

// Commit removes the files from the latest table state, retrying lost races
func (d *Delete) Commit(ctx context.Context) (*metadata.Snapshot, error) {
	return d.p.commit(ctx)
}
