package table

import (
	"context"
	"slices"
	"strconv"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/metadata"
)

// ManageSnapshots moves the current snapshot pointer without writing data
type ManageSnapshots struct {
	table  *Table
	target func(base *metadata.Metadata) (int64, error)
	opName string
}

// ManageSnapshots starts a change of the current snapshot
func (t *Table) ManageSnapshots() *ManageSnapshots {
	return &ManageSnapshots{table: t}
}

// SetCurrentSnapshot makes any snapshot of the table current
func (m *ManageSnapshots) SetCurrentSnapshot(id int64) *ManageSnapshots {
	m.opName = "set-current-snapshot"
	m.target = func(base *metadata.Metadata) (int64, error) {
		if _, ok := base.SnapshotByID(id); !ok {
			return 0, unknownSnapshot(id)
		}
		return id, nil
	}
	return m
}

// RollbackTo makes an ancestor of the current snapshot current again
func (m *ManageSnapshots) RollbackTo(id int64) *ManageSnapshots {
	m.opName = "rollback"
	m.target = func(base *metadata.Metadata) (int64, error) {
		if _, ok := base.SnapshotByID(id); !ok {
			return 0, unknownSnapshot(id)
		}
		cur, ok := base.CurrentSnapshotID()
		if !ok || !base.IsAncestor(cur, id) {
			return 0, errors.Newf(errors.ValidationInvalidUpdate, "snapshot %d is not an ancestor of the current snapshot", id).
				AddContext("snapshot_id", strconv.FormatInt(id, 10))
		}
		return id, nil
	}
	return m
}

// RollbackToTime rolls back to the snapshot that was current at timestampMs
func (m *ManageSnapshots) RollbackToTime(timestampMs int64) *ManageSnapshots {
	m.opName = "rollback"
	m.target = func(base *metadata.Metadata) (int64, error) {
		s, ok := base.SnapshotAsOf(timestampMs)
		if !ok {
			return 0, errors.Newf(ErrUnknownSnapshot, "no snapshot was current at %d", timestampMs)
		}
		return s.ID, nil
	}
	return m
}

// Commit moves the current pointer and returns the new current snapshot
func (m *ManageSnapshots) Commit(ctx context.Context) (*metadata.Snapshot, error) {
	if m.target == nil {
		return nil, errors.New(errors.ValidationInvalidUpdate, "no snapshot change requested", nil)
	}
	committed, err := m.table.commit(ctx, m.opName, func(ctx context.Context, base *metadata.Metadata, _ int) (*metadata.Metadata, error) {
		id, err := m.target(base)
		if err != nil {
			return nil, err
		}
		return buildIfChanged(base, metadata.NewBuilder(base).SetCurrentSnapshot(id))
	})
	if err != nil {
		return nil, err
	}
	return committed.CurrentSnapshot(), nil
}

func unknownSnapshot(id int64) error {
	return errors.Newf(ErrUnknownSnapshot, "snapshot %d does not exist", id).
		AddContext("snapshot_id", strconv.FormatInt(id, 10))
}

// ExpireSnapshots removes snapshots from the table metadata. The current
// snapshot and the most recent RetainLast ancestors of it always stay. Data
// and manifest files are left in place.
type ExpireSnapshots struct {
	table      *Table
	olderThan  *int64
	ids        []int64
	retainLast int
}

// ExpireSnapshots starts an expiry that keeps at least the current snapshot
func (t *Table) ExpireSnapshots() *ExpireSnapshots {
	return &ExpireSnapshots{table: t, retainLast: 1}
}

// ExpireOlderThan expires snapshots created before timestampMs
func (e *ExpireSnapshots) ExpireOlderThan(timestampMs int64) *ExpireSnapshots {
	e.olderThan = &timestampMs
	return e
}

// ExpireSnapshotID expires one snapshot by id
func (e *ExpireSnapshots) ExpireSnapshotID(id int64) *ExpireSnapshots {
	e.ids = append(e.ids, id)
	return e
}

// RetainLast keeps at least the n most recent snapshots
func (e *ExpireSnapshots) RetainLast(n int) *ExpireSnapshots {
	e.retainLast = max(n, 1)
	return e
}

// Commit returns the ids of the snapshots it removed
func (e *ExpireSnapshots) Commit(ctx context.Context) ([]int64, error) {
	var expired []int64
	_, err := e.table.commit(ctx, "expire-snapshots", func(ctx context.Context, base *metadata.Metadata, _ int) (*metadata.Metadata, error) {
		ids, err := e.selectExpired(base)
		if err != nil {
			return nil, err
		}
		expired = ids
		return buildIfChanged(base, metadata.NewBuilder(base).RemoveSnapshots(ids...))
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func (e *ExpireSnapshots) selectExpired(base *metadata.Metadata) ([]int64, error) {
	retained := map[int64]bool{}
	if cur, ok := base.CurrentSnapshotID(); ok {
		for i, s := range base.Ancestors(cur) {
			if i >= e.retainLast {
				break
			}
			retained[s.ID] = true
		}
	}

	var out []int64
	for _, id := range e.ids {
		if _, ok := base.SnapshotByID(id); !ok {
			return nil, unknownSnapshot(id)
		}
		if retained[id] {
			return nil, errors.Newf(errors.ValidationInvalidUpdate, "cannot expire retained snapshot %d", id).
				AddContext("snapshot_id", strconv.FormatInt(id, 10))
		}
		out = append(out, id)
	}
	if e.olderThan != nil {
		for _, s := range base.Snapshots() {
			if s.TimestampMs < *e.olderThan && !retained[s.ID] && !slices.Contains(out, s.ID) {
				out = append(out, s.ID)
			}
		}
	}
	return out, nil
}
