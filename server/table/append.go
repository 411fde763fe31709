package table

import (
	"context"

	"github.com/gear6io/stratum/server/manifest"
	"github.com/gear6io/stratum/server/metadata"
)

// Append adds data files without touching existing ones. Appends never
// conflict with each other; a lost swap is simply rebuilt on the new base.
type Append struct {
	p *snapshotProducer
}

// NewAppend starts an append on the table
func (t *Table) NewAppend() *Append {
	return &Append{p: newSnapshotProducer(t, metadata.OpAppend)}
}

// AppendFile adds one data file to the snapshot
func (a *Append) AppendFile(f *manifest.DataFile) *Append {
	a.p.addFile(f)
	return a
}

// AppendFiles adds several data files to the snapshot
func (a *Append) AppendFiles(files ...*manifest.DataFile) *Append {
	for _, f := range files {
		a.p.addFile(f)
	}
	return a
}

// SnapshotID is the id the committed snapshot will carry
func (a *Append) SnapshotID() int64 {
	return a.p.snapshotID
}

// Commit writes the new manifest and commits, rebuilding on a newer base
// when another writer won the swap
func (a *Append) Commit(ctx context.Context) (*metadata.Snapshot, error) {
	return a.p.commit(ctx)
}
