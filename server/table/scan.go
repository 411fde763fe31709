package table

import (
	"context"
	"iter"
	"strconv"
	"sync"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/expr"
	"github.com/gear6io/stratum/server/manifest"
	"github.com/gear6io/stratum/server/metadata"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// FileScanTask is one data file a scan must read, with the columns to
// project and the filter still to apply to its rows
type FileScanTask struct {
	File              *manifest.DataFile
	SpecID            int
	Partition         partition.Record
	ProjectedFieldIDs []int
	Residual          expr.Expression
}

// Scan plans the files of one snapshot that may hold rows matching a
// filter. A Scan is immutable: every refinement returns a new one, and the
// table version is fixed when the scan is created.
type Scan struct {
	meta          *metadata.Metadata
	fio           storage.FileIO
	logger        zerolog.Logger
	workers       int
	snapshotID    *int64
	asOfMs        *int64
	filter        expr.Expression
	columns       []string
	caseSensitive bool
}

// NewScan starts a scan of the current snapshot
func (t *Table) NewScan() *Scan {
	return &Scan{
		meta:          t.Metadata(),
		fio:           t.FileIO(),
		logger:        t.logger,
		workers:       max(t.opts.ScanWorkers, 1),
		filter:        expr.AlwaysTrue(),
		caseSensitive: true,
	}
}

func (s *Scan) clone() *Scan {
	c := *s
	return &c
}

// UseSnapshot scans a specific snapshot instead of the current one
func (s *Scan) UseSnapshot(id int64) *Scan {
	c := s.clone()
	c.snapshotID, c.asOfMs = &id, nil
	return c
}

// AsOfTime scans the snapshot that was current at timestampMs
func (s *Scan) AsOfTime(timestampMs int64) *Scan {
	c := s.clone()
	c.asOfMs, c.snapshotID = &timestampMs, nil
	return c
}

// Filter narrows the scan; filters combine with and
func (s *Scan) Filter(e expr.Expression) *Scan {
	c := s.clone()
	c.filter = expr.And(c.filter, e)
	return c
}

// Select limits the projected columns
func (s *Scan) Select(columns ...string) *Scan {
	c := s.clone()
	c.columns = append([]string(nil), columns...)
	return c
}

// CaseSensitive controls how column names in filters and Select are matched
func (s *Scan) CaseSensitive(v bool) *Scan {
	c := s.clone()
	c.caseSensitive = v
	return c
}

// Snapshot resolves the snapshot the scan reads; nil when the table has
// no data.
func (s *Scan) Snapshot() (*metadata.Snapshot, error) {
	switch {
	case s.snapshotID != nil:
		snap, ok := s.meta.SnapshotByID(*s.snapshotID)
		if !ok {
			return nil, unknownSnapshot(*s.snapshotID)
		}
		return snap, nil
	case s.asOfMs != nil:
		snap, ok := s.meta.SnapshotAsOf(*s.asOfMs)
		if !ok {
			return nil, errors.Newf(ErrUnknownSnapshot, "no snapshot was current at %d", *s.asOfMs).
				AddContext("timestamp_ms", strconv.FormatInt(*s.asOfMs, 10))
		}
		return snap, nil
	}
	return s.meta.CurrentSnapshot(), nil
}

// Schema is the projected read schema
func (s *Scan) Schema() (*schema.Schema, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return s.projection(s.schemaFor(snap))
}

// TableSchema is the unprojected schema the scan binds its filter against
func (s *Scan) TableSchema() (*schema.Schema, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return s.schemaFor(snap), nil
}

// schemaFor is the schema of a time-travel snapshot, else the current one
func (s *Scan) schemaFor(snap *metadata.Snapshot) *schema.Schema {
	if s.snapshotID == nil && s.asOfMs == nil {
		return s.meta.CurrentSchema()
	}
	return schemaOf(s.meta, snap)
}

func (s *Scan) projection(sch *schema.Schema) (*schema.Schema, error) {
	if len(s.columns) == 0 {
		return sch, nil
	}
	return sch.Select(s.caseSensitive, s.columns...)
}

// planner holds what every manifest of one planning run shares
type planner struct {
	scan      *Scan
	schema    *schema.Schema
	bound     expr.Expression
	projected []int
	metrics   *expr.MetricsEvaluator

	mu    sync.Mutex
	specs map[int]*specEvaluators
}

type specEvaluators struct {
	spec      partition.Spec
	manifests *expr.ManifestEvaluator
	parts     *expr.PartitionEvaluator
}

func (s *Scan) newPlanner(snap *metadata.Snapshot) (*planner, error) {
	sch := s.schemaFor(snap)
	bound, err := expr.Bind(sch, s.filter, s.caseSensitive)
	if err != nil {
		return nil, err
	}
	proj, err := s.projection(sch)
	if err != nil {
		return nil, err
	}
	return &planner{
		scan:      s,
		schema:    sch,
		bound:     bound,
		projected: proj.FieldIDs(),
		metrics:   expr.NewMetricsEvaluator(bound),
		specs:     map[int]*specEvaluators{},
	}, nil
}

func (p *planner) evaluators(specID int) (*specEvaluators, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev, ok := p.specs[specID]; ok {
		return ev, nil
	}
	spec, ok := p.scan.meta.SpecByID(specID)
	if !ok {
		return nil, errors.Newf(errors.CorruptMetadata, "manifest references unknown partition spec %d", specID)
	}
	ev := &specEvaluators{
		spec:      spec,
		manifests: expr.NewManifestEvaluator(spec, p.schema, p.bound),
		parts:     expr.NewPartitionEvaluator(spec, p.schema, p.bound),
	}
	p.specs[specID] = ev
	return ev, nil
}

// manifestTasks reads one manifest and returns the tasks for its live files
// that survive partition and metrics pruning. A nil slice and nil error
// mean the manifest was pruned whole.
func (p *planner) manifestTasks(ctx context.Context, mf manifest.ManifestFile) ([]FileScanTask, error) {
	ev, err := p.evaluators(mf.SpecID)
	if err != nil {
		return nil, err
	}
	if !ev.manifests.Eval(mf) {
		return nil, nil
	}
	m, err := manifest.ReadManifest(ctx, p.scan.fio, mf)
	if err != nil {
		return nil, err
	}
	var tasks []FileScanTask
	for _, e := range m.Entries {
		if !e.IsLive() {
			continue
		}
		if !ev.parts.Eval(e.File.Partition) || !p.metrics.Eval(e.File) {
			continue
		}
		tasks = append(tasks, FileScanTask{
			File:              e.File,
			SpecID:            mf.SpecID,
			Partition:         e.File.Partition,
			ProjectedFieldIDs: p.projected,
			Residual:          expr.Residual(ev.spec, p.bound, e.File.Partition),
		})
	}
	return tasks, nil
}

func (s *Scan) prepare(ctx context.Context) (*planner, []manifest.ManifestFile, error) {
	snap, err := s.Snapshot()
	if err != nil || snap == nil {
		return nil, nil, err
	}
	p, err := s.newPlanner(snap)
	if err != nil {
		return nil, nil, err
	}
	list, err := manifest.ReadManifestList(ctx, s.fio, snap.ManifestList)
	if err != nil {
		return nil, nil, err
	}
	return p, list.Manifests, nil
}

// PlanFiles yields the scan's tasks lazily, one manifest at a time. The
// sequence can be ranged over again; every run reads the same immutable
// snapshot and yields the same files. Stopping early reads no further
// manifests.
func (s *Scan) PlanFiles(ctx context.Context) iter.Seq2[FileScanTask, error] {
	var (
		once      sync.Once
		p         *planner
		manifests []manifest.ManifestFile
		prepErr   error
	)
	return func(yield func(FileScanTask, error) bool) {
		once.Do(func() { p, manifests, prepErr = s.prepare(ctx) })
		if prepErr != nil {
			yield(FileScanTask{}, prepErr)
			return
		}
		if p == nil {
			return
		}
		for _, mf := range manifests {
			if err := ctx.Err(); err != nil {
				yield(FileScanTask{}, errors.New(errors.CommonCanceled, "scan planning canceled", err))
				return
			}
			tasks, err := p.manifestTasks(ctx, mf)
			if err != nil {
				yield(FileScanTask{}, err)
				return
			}
			for _, task := range tasks {
				if !yield(task, nil) {
					return
				}
			}
		}
	}
}

// PlanTasks plans the whole scan, reading manifests in parallel. Tasks keep
// manifest list order.
func (s *Scan) PlanTasks(ctx context.Context) ([]FileScanTask, error) {
	p, manifests, err := s.prepare(ctx)
	if err != nil || p == nil {
		return nil, err
	}

	results := make([][]FileScanTask, len(manifests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, mf := range manifests {
		g.Go(func() error {
			tasks, err := p.manifestTasks(gctx, mf)
			if err != nil {
				return err
			}
			results[i] = tasks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []FileScanTask
	for _, tasks := range results {
		out = append(out, tasks...)
	}
	s.logger.Debug().Int("manifests", len(manifests)).Int("tasks", len(out)).Msg("Planned scan")
	return out, nil
}
