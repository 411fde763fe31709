package table

import (
	"context"

	"github.com/gear6io/stratum/server/config"
	"github.com/gear6io/stratum/server/manifest"
	"github.com/gear6io/stratum/server/metadata"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/storage"
	"github.com/rs/zerolog"
)

// Options are the engine-wide defaults a table starts from. Table
// properties override the commit and manifest settings per table.
type Options struct {
	Commit      config.CommitConfig
	Manifest    config.ManifestConfig
	ScanWorkers int
}

// DefaultOptions returns the options of the default configuration
func DefaultOptions() Options {
	return OptionsFromConfig(config.LoadDefaultConfig())
}

// OptionsFromConfig picks the table options out of cfg
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Commit:      cfg.Commit,
		Manifest:    cfg.Manifest,
		ScanWorkers: cfg.Scan.Workers,
	}
}

// Table is a handle on one table. Reads go against the cached metadata
// version; Refresh moves the handle to the latest committed one.
type Table struct {
	ops    *Operations
	opts   Options
	logger zerolog.Logger
}

func newTable(ops *Operations, opts Options, logger zerolog.Logger) *Table {
	return &Table{
		ops:    ops,
		opts:   opts,
		logger: logger.With().Str("table", ops.Root()).Logger(),
	}
}

// Operations returns the metadata operations behind the table
func (t *Table) Operations() *Operations {
	return t.ops
}

// Metadata returns the cached metadata version
func (t *Table) Metadata() *metadata.Metadata {
	return t.ops.Current()
}

// MetadataLocation is the metadata file backing Metadata
func (t *Table) MetadataLocation() string {
	return t.ops.CurrentLocation()
}

// CurrentSnapshot returns nil for a table with no data
func (t *Table) CurrentSnapshot() *metadata.Snapshot {
	return t.Metadata().CurrentSnapshot()
}

// Schema returns the current schema
func (t *Table) Schema() *schema.Schema {
	return t.Metadata().CurrentSchema()
}

// Spec returns the default partition spec
func (t *Table) Spec() partition.Spec {
	return t.Metadata().Spec()
}

// Location returns the table root
func (t *Table) Location() string {
	return t.ops.Root()
}

// FileIO returns the storage the table lives on
func (t *Table) FileIO() storage.FileIO {
	return t.ops.FileIO()
}

// Properties returns the table properties
func (t *Table) Properties() map[string]string {
	return t.Metadata().Properties()
}

// History lists the snapshots that were current, oldest first
func (t *Table) History() []metadata.SnapshotLogEntry {
	return t.Metadata().SnapshotLog()
}

// Snapshots returns every snapshot still in the metadata
func (t *Table) Snapshots() []metadata.Snapshot {
	return t.Metadata().Snapshots()
}

// Refresh loads the latest committed metadata
func (t *Table) Refresh(ctx context.Context) error {
	_, err := t.ops.Refresh(ctx)
	return err
}

func (t *Table) retryConfig() RetryConfig {
	return NewRetryConfig(t.opts.Commit, t.Metadata())
}

func (t *Table) merger(m *metadata.Metadata) manifest.Merger {
	return manifest.Merger{
		Enabled:         m.PropertyBool(metadata.PropertyManifestMergeEnabled, t.opts.Manifest.MergeEnabled),
		TargetSizeBytes: m.PropertyInt(metadata.PropertyManifestTargetSize, t.opts.Manifest.TargetSizeBytes),
		MinCountToMerge: int(m.PropertyInt(metadata.PropertyManifestMinMerge, int64(t.opts.Manifest.MinCountToMerge))),
	}
}

// applyFunc builds the next metadata version on base. Returning base itself
// means there is nothing left to commit.
type applyFunc func(ctx context.Context, base *metadata.Metadata, attempt int) (*metadata.Metadata, error)

// commit runs one optimistic transaction: the first attempt builds on the
// cached version, every retry refreshes first.
func (t *Table) commit(ctx context.Context, operation string, apply applyFunc) (*metadata.Metadata, error) {
	logger := t.logger.With().Str("operation", operation).Logger()
	var committed *metadata.Metadata

	err := RetryWithBackoff(ctx, t.retryConfig(), func(ctx context.Context, attempt int) error {
		base := t.ops.Current()
		if attempt > 1 || base == nil {
			refreshed, err := t.ops.Refresh(ctx)
			if err != nil {
				return err
			}
			base = refreshed
		}
		logger.Debug().Int("attempt", attempt).Int64("base_sequence_number", base.LastSequenceNumber()).Msg("Attempting commit")

		updated, err := apply(ctx, base, attempt)
		if err != nil {
			return err
		}
		if updated == base {
			committed = base
			return nil
		}
		m, err := t.ops.Commit(ctx, base, updated)
		if err != nil {
			return err
		}
		committed = m
		return nil
	}, logger)
	if err != nil {
		return nil, err
	}
	return committed, nil
}
