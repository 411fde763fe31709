package table

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/expr"
	"github.com/gear6io/stratum/server/manifest"
	"github.com/gear6io/stratum/server/metadata"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/storage"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// snapshotProducer is the commit path shared by every operation that
// produces a snapshot. Manifests for added files are written once and
// reused; the manifest list and snapshot are rebuilt against each base.
type snapshotProducer struct {
	table      *Table
	op         metadata.Operation
	snapshotID int64
	logger     zerolog.Logger
	err        error

	added        []*manifest.DataFile
	deletePaths  []string
	deleteFilter expr.Expression
	validate     func(ctx context.Context, base *metadata.Metadata) error

	mu           sync.Mutex
	newManifests []manifest.ManifestFile
	manifestSeq  int
	written      []string
}

func newSnapshotProducer(t *Table, op metadata.Operation) *snapshotProducer {
	id := metadata.NewSnapshotID()
	if m := t.Metadata(); m != nil {
		for {
			if _, taken := m.SnapshotByID(id); !taken {
				break
			}
			id = metadata.NewSnapshotID()
		}
	}
	return &snapshotProducer{
		table:      t,
		op:         op,
		snapshotID: id,
		logger:     t.logger.With().Str("operation", string(op)).Int64("snapshot_id", id).Logger(),
	}
}

func (p *snapshotProducer) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *snapshotProducer) addFile(f *manifest.DataFile) {
	if f == nil || f.Path == "" {
		p.fail(errors.New(errors.ValidationInvalidUpdate, "data file must have a path", nil))
		return
	}
	if slices.ContainsFunc(p.added, func(a *manifest.DataFile) bool { return a.Path == f.Path }) {
		p.fail(errors.Newf(errors.ValidationInvalidUpdate, "data file %s added twice", f.Path))
		return
	}
	p.added = append(p.added, f.Clone())
}

func (p *snapshotProducer) deleteFile(path string) {
	if path == "" {
		p.fail(errors.New(errors.ValidationInvalidUpdate, "deleted file must have a path", nil))
		return
	}
	if !slices.Contains(p.deletePaths, path) {
		p.deletePaths = append(p.deletePaths, path)
	}
}

func (p *snapshotProducer) deleteWhere(e expr.Expression) {
	if p.deleteFilter == nil {
		p.deleteFilter = e
		return
	}
	p.deleteFilter = expr.Or(p.deleteFilter, e)
}

func (p *snapshotProducer) track(paths ...string) {
	p.mu.Lock()
	p.written = append(p.written, paths...)
	p.mu.Unlock()
}

func (p *snapshotProducer) newManifestPath() string {
	p.mu.Lock()
	p.manifestSeq++
	n := p.manifestSeq
	p.mu.Unlock()
	return storage.ManifestLocation(p.table.Location(), n)
}

// commit runs the transaction and returns the snapshot it committed
func (p *snapshotProducer) commit(ctx context.Context) (*metadata.Snapshot, error) {
	if p.err != nil {
		return nil, p.err
	}

	var (
		snap   *metadata.Snapshot
		baseID = "none"
	)
	_, err := p.table.commit(ctx, string(p.op), func(ctx context.Context, base *metadata.Metadata, attempt int) (*metadata.Metadata, error) {
		if s, ok := base.SnapshotByID(p.snapshotID); ok {
			// an earlier attempt landed even though its outcome was unknown
			snap = s
			return base, nil
		}
		if cur := base.CurrentSnapshot(); cur != nil {
			baseID = strconv.FormatInt(cur.ID, 10)
		}
		updated, s, err := p.apply(ctx, base, attempt)
		if err != nil {
			return nil, err
		}
		snap = s
		return updated, nil
	})
	if err != nil {
		if errors.IsStorageUnavailable(err) {
			p.logger.Warn().Err(err).Msg("Commit outcome unknown, keeping written files")
		} else {
			p.cleanup(ctx, nil)
		}
		if e := errors.AsError(err); e != nil && errors.IsCommitConflict(err) {
			e.AddContext("base_snapshot_id", baseID).
				AddContext("attempted_snapshot_id", strconv.FormatInt(p.snapshotID, 10))
		}
		return nil, err
	}

	keep := map[string]bool{snap.ManifestList: true}
	if list, lerr := manifest.ReadManifestList(ctx, p.table.FileIO(), snap.ManifestList); lerr == nil {
		for _, mf := range list.Manifests {
			keep[mf.Path] = true
		}
		p.cleanup(ctx, keep)
	}
	p.logger.Info().
		Int64("sequence_number", snap.SequenceNumber).
		Int("added_files", len(p.added)).
		Msg("Committed snapshot")
	return snap, nil
}

// apply builds one candidate snapshot on base
func (p *snapshotProducer) apply(ctx context.Context, base *metadata.Metadata, attempt int) (*metadata.Metadata, *metadata.Snapshot, error) {
	fio := p.table.FileIO()
	if p.validate != nil {
		if err := p.validate(ctx, base); err != nil {
			return nil, nil, err
		}
	}
	if err := p.writeNewManifests(ctx, base); err != nil {
		return nil, nil, err
	}

	parent := base.CurrentSnapshot()
	var baseManifests []manifest.ManifestFile
	if parent != nil {
		list, err := manifest.ReadManifestList(ctx, fio, parent.ManifestList)
		if err != nil {
			return nil, nil, err
		}
		baseManifests = list.Manifests
	}

	removed, err := p.resolveDeletes(ctx, base, baseManifests)
	if err != nil {
		return nil, nil, err
	}
	res, err := manifest.MergeManifestList(ctx, fio, manifest.MergeRequest{
		SnapshotID: p.snapshotID,
		Base:       baseManifests,
		Added:      p.newManifests,
		Removed:    removed,
		NewPath:    p.newManifestPath,
	})
	if res != nil {
		p.track(res.Written...)
	}
	if err != nil {
		return nil, nil, err
	}

	manifests, merged, err := p.table.merger(base).Merge(ctx, fio, p.snapshotID, res.Manifests, p.newManifestPath)
	p.track(merged...)
	if err != nil {
		return nil, nil, err
	}

	seq := base.LastSequenceNumber() + 1
	listPath := storage.ManifestListLocation(p.table.Location(), p.snapshotID, attempt)
	list := manifest.ManifestList{SnapshotID: p.snapshotID, SequenceNumber: seq, Manifests: manifests}
	if parent != nil {
		id := parent.ID
		list.ParentSnapshotID = &id
	}
	p.track(listPath)
	if _, err := manifest.WriteManifestList(ctx, fio, listPath, list); err != nil {
		return nil, nil, err
	}

	summary, err := p.summarize(base, parent, res.Deleted)
	if err != nil {
		return nil, nil, err
	}
	snap := metadata.Snapshot{
		ID:             p.snapshotID,
		ParentID:       list.ParentSnapshotID,
		SequenceNumber: seq,
		TimestampMs:    max(time.Now().UnixMilli(), base.LastUpdatedMs()),
		ManifestList:   listPath,
		Summary:        summary,
		SchemaID:       base.CurrentSchemaID(),
	}
	updated, err := metadata.NewBuilder(base).AddSnapshot(snap).SetCurrentSnapshot(snap.ID).Build()
	if err != nil {
		return nil, nil, err
	}
	return updated, &snap, nil
}

// writeNewManifests writes one manifest per partition spec of the added
// files. It runs on the first attempt only.
func (p *snapshotProducer) writeNewManifests(ctx context.Context, base *metadata.Metadata) error {
	if len(p.added) == 0 || p.newManifests != nil {
		return nil
	}
	var order []int
	bySpec := map[int][]*manifest.DataFile{}
	for _, f := range p.added {
		if _, ok := bySpec[f.SpecID]; !ok {
			order = append(order, f.SpecID)
		}
		bySpec[f.SpecID] = append(bySpec[f.SpecID], f)
	}

	out := make([]manifest.ManifestFile, 0, len(order))
	for _, specID := range order {
		spec, ok := base.SpecByID(specID)
		if !ok {
			return errors.Newf(errors.ValidationInvalidUpdate, "data file references unknown partition spec %d", specID)
		}
		path := p.newManifestPath()
		p.track(path)
		mf, err := manifest.BuildManifest(ctx, p.table.FileIO(), path, base.CurrentSchema(), spec, p.snapshotID, bySpec[specID])
		if err != nil {
			return err
		}
		out = append(out, mf)
	}
	p.newManifests = out
	return nil
}

// resolveDeletes expands the delete filter into the paths of the live files
// it matches, after the explicitly deleted ones.
func (p *snapshotProducer) resolveDeletes(ctx context.Context, base *metadata.Metadata, manifests []manifest.ManifestFile) ([]string, error) {
	removed := slices.Clone(p.deletePaths)
	if p.deleteFilter == nil {
		return removed, nil
	}
	sch := base.CurrentSchema()
	bound, err := expr.Bind(sch, p.deleteFilter, true)
	if err != nil {
		return nil, err
	}
	bound = expr.RewriteNot(bound)

	for _, mf := range manifests {
		if !mf.HasLiveFiles() {
			continue
		}
		spec, ok := base.SpecByID(mf.SpecID)
		if !ok {
			return nil, errors.Newf(errors.CorruptMetadata, "manifest %s references unknown partition spec %d", mf.Path, mf.SpecID)
		}
		if !expr.NewManifestEvaluator(spec, sch, bound).Eval(mf) {
			continue
		}
		value, err := identityValues(spec, bound)
		if err != nil {
			return nil, err
		}
		m, err := manifest.ReadManifest(ctx, p.table.FileIO(), mf)
		if err != nil {
			return nil, err
		}
		for _, e := range m.Entries {
			if !e.IsLive() || slices.Contains(removed, e.File.Path) {
				continue
			}
			if expr.Evaluate(bound, value(e.File.Partition)) {
				removed = append(removed, e.File.Path)
			}
		}
	}
	return removed, nil
}

// identityValues resolves source columns through identity partition fields.
// A delete filter on any other column cannot be decided per file.
func identityValues(spec partition.Spec, bound expr.Expression) (func(partition.Record) func(int) any, error) {
	pos := map[int]int{}
	for i, f := range spec.Fields {
		if _, ok := f.Transform.(partition.IdentityTransform); ok {
			pos[f.SourceID] = i
		}
	}
	for _, id := range expr.ReferencedFieldIDs(bound) {
		if _, ok := pos[id]; !ok {
			return nil, errors.Newf(errors.ValidationInvalidUpdate,
				"delete filter references field %d which is not an identity partition of spec %d", id, spec.ID).
				AddContext("field_id", strconv.Itoa(id))
		}
	}
	return func(rec partition.Record) func(int) any {
		return func(fieldID int) any {
			i := pos[fieldID]
			if i >= len(rec) {
				return nil
			}
			return rec[i]
		}
	}, nil
}

func (p *snapshotProducer) summarize(base *metadata.Metadata, parent *metadata.Snapshot, deleted []manifest.Entry) (metadata.Summary, error) {
	b := metadata.NewSummaryBuilder()
	specOf := func(id int) partition.Spec {
		s, ok := base.SpecByID(id)
		if !ok {
			return partition.Unpartitioned()
		}
		return s
	}
	for _, f := range p.added {
		b.AddedFile(specOf(f.SpecID), f)
	}
	for _, e := range deleted {
		b.DeletedFile(specOf(e.File.SpecID), e.File)
	}
	var prev *metadata.Summary
	if parent != nil {
		prev = &parent.Summary
	}
	return b.Build(p.op, prev)
}

// cleanup deletes files written by this producer that keep does not name.
// A nil keep removes everything.
func (p *snapshotProducer) cleanup(ctx context.Context, keep map[string]bool) {
	p.mu.Lock()
	written := slices.Clone(p.written)
	p.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	var result *multierror.Error
	removed := 0
	for _, path := range written {
		if keep[path] {
			continue
		}
		if err := p.table.FileIO().Delete(ctx, path); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		removed++
	}
	if err := result.ErrorOrNil(); err != nil {
		p.logger.Warn().Err(err).Int("failed", len(result.Errors)).Msg("Failed to clean up uncommitted files")
	}
	if removed > 0 {
		p.logger.Debug().Int("removed", removed).Msg("Removed uncommitted files")
	}
}

// conflictingAppends fails when a snapshot committed after fromID added a
// file that may hold rows matching filter. A nil fromID checks the whole
// history of the current snapshot.
func conflictingAppends(ctx context.Context, fio storage.FileIO, base *metadata.Metadata, fromID *int64, filter expr.Expression) error {
	return conflictingChanges(ctx, fio, base, fromID, filter, false)
}

// conflictingFiles also fails when such a snapshot deleted a matching file.
// Filter deletes and overwrites check it so that files another writer added
// or replaced under the same filter are never removed unseen.
func conflictingFiles(ctx context.Context, fio storage.FileIO, base *metadata.Metadata, fromID *int64, filter expr.Expression) error {
	return conflictingChanges(ctx, fio, base, fromID, filter, true)
}

func conflictingChanges(ctx context.Context, fio storage.FileIO, base *metadata.Metadata, fromID *int64, filter expr.Expression, deletes bool) error {
	cur := base.CurrentSnapshot()
	if cur == nil {
		return nil
	}
	if fromID != nil && !base.IsAncestor(cur.ID, *fromID) {
		return errors.Newf(errors.ValidationInvalidUpdate, "snapshot %d is not an ancestor of the current snapshot %d", *fromID, cur.ID).
			AddContext("base_snapshot_id", strconv.FormatInt(cur.ID, 10))
	}
	sch := base.CurrentSchema()
	bound, err := expr.Bind(sch, filter, true)
	if err != nil {
		return err
	}
	metrics := expr.NewMetricsEvaluator(bound)

	for _, s := range base.Ancestors(cur.ID) {
		if fromID != nil && s.ID == *fromID {
			return nil
		}
		added, _ := s.Summary.Get(metadata.AddedDataFiles)
		deleted, _ := s.Summary.Get(metadata.DeletedDataFiles)
		if added == 0 && (!deletes || deleted == 0) {
			continue
		}
		list, err := manifest.ReadManifestList(ctx, fio, s.ManifestList)
		if err != nil {
			return err
		}
		for _, mf := range list.Manifests {
			if mf.AddedSnapshotID != s.ID {
				continue
			}
			if mf.AddedFilesCount == 0 && (!deletes || mf.DeletedFilesCount == 0) {
				continue
			}
			spec, ok := base.SpecByID(mf.SpecID)
			if !ok {
				continue
			}
			m, err := manifest.ReadManifest(ctx, fio, mf)
			if err != nil {
				return err
			}
			parts := expr.NewPartitionEvaluator(spec, sch, bound)
			for _, e := range m.Entries {
				if e.SnapshotID != s.ID {
					continue
				}
				var verb string
				switch {
				case e.Status == manifest.StatusAdded:
					verb = "added"
				case e.Status == manifest.StatusDeleted && deletes:
					verb = "deleted"
				default:
					continue
				}
				if parts.Eval(e.File.Partition) && metrics.Eval(e.File) {
					return errors.Newf(errors.ValidationConflictingFile, "snapshot %d %s %s which matches %s", s.ID, verb, e.File.Path, filter).
						AddContext("snapshot_id", strconv.FormatInt(s.ID, 10)).
						AddContext("file", e.File.Path)
				}
			}
		}
	}
	return nil
}

// schemaOf returns the schema a snapshot was written with, or the current one
func schemaOf(m *metadata.Metadata, s *metadata.Snapshot) *schema.Schema {
	if s != nil {
		if sch, ok := m.SchemaByID(s.SchemaID); ok {
			return sch
		}
	}
	return m.CurrentSchema()
}
