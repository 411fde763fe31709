package data

import (
	"context"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/manifest"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/storage"
	"github.com/gear6io/stratum/server/types"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

type partitionFile struct {
	record partition.Record
	writer FileWriter
}

// PartitionedWriter routes rows to one data file per partition tuple under
// a table location. Close returns the files ready to append to the table.
type PartitionedWriter struct {
	fio      storage.FileIO
	format   FileFormat
	schema   *schema.Schema
	spec     partition.Spec
	location string
	logger   zerolog.Logger

	fields []types.NestedField
	prims  []types.PrimitiveType
	pos    map[int]int
	files  map[string]*partitionFile
	order  []string
	closed bool
}

func NewPartitionedWriter(fio storage.FileIO, format FileFormat, sch *schema.Schema, spec partition.Spec, location string, logger zerolog.Logger) (*PartitionedWriter, error) {
	fields, prims, err := primitiveFields(sch)
	if err != nil {
		return nil, err
	}
	pos := make(map[int]int, len(fields))
	for i, f := range fields {
		pos[f.ID] = i
	}
	for _, f := range spec.Fields {
		if _, ok := pos[f.SourceID]; !ok {
			return nil, errors.Newf(errors.PartitionUnknownSource, "partition field %q has no top-level source column", f.Name)
		}
	}
	return &PartitionedWriter{
		fio:      fio,
		format:   format,
		schema:   sch,
		spec:     spec,
		location: location,
		logger:   logger.With().Str("component", "partitioned_writer").Logger(),
		fields:   fields,
		prims:    prims,
		pos:      pos,
		files:    map[string]*partitionFile{},
	}, nil
}

// Write validates each row and appends it to the file of its partition
func (w *PartitionedWriter) Write(ctx context.Context, rows ...Row) error {
	if w.closed {
		return errors.New(ErrWriterClosed, "partitioned writer is closed", nil)
	}
	for _, r := range rows {
		row, err := normalizeRow(w.fields, w.prims, r)
		if err != nil {
			return err
		}
		rec := w.spec.Partition(func(sourceID int) any { return row[w.pos[sourceID]] })
		key := w.spec.PartitionPath(rec)
		pf, ok := w.files[key]
		if !ok {
			path := storage.DataFileLocation(w.location, key, w.format.Extension())
			fw, err := w.format.NewWriter(ctx, w.fio, path, w.schema)
			if err != nil {
				return err
			}
			pf = &partitionFile{record: rec, writer: fw}
			w.files[key] = pf
			w.order = append(w.order, key)
		}
		if err := pf.writer.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// Close finishes every open file, in the order partitions were first seen.
// On failure the files already written are deleted.
func (w *PartitionedWriter) Close(ctx context.Context) ([]*manifest.DataFile, error) {
	if w.closed {
		return nil, errors.New(ErrWriterClosed, "partitioned writer is closed", nil)
	}
	w.closed = true

	out := make([]*manifest.DataFile, 0, len(w.order))
	for _, key := range w.order {
		pf := w.files[key]
		res, err := pf.writer.Close(ctx)
		if err != nil {
			w.abort(ctx, out)
			return nil, errors.AddContext(err, "partition", key)
		}
		out = append(out, res.DataFile(w.format.Format(), w.spec, pf.record))
	}
	w.logger.Debug().Int("files", len(out)).Str("location", w.location).Msg("Wrote data files")
	return out, nil
}

func (w *PartitionedWriter) abort(ctx context.Context, written []*manifest.DataFile) {
	var result *multierror.Error
	for _, f := range written {
		if err := w.fio.Delete(context.WithoutCancel(ctx), f.Path); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		w.logger.Warn().Err(err).Int("files", len(written)).Msg("Failed to delete data files of an aborted write")
	}
}
