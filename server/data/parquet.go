package data

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"iter"
	"strconv"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/config"
	"github.com/gear6io/stratum/server/manifest"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/storage"
	"github.com/gear6io/stratum/server/types"
	"github.com/shopspring/decimal"
)

// FieldIDKey is the arrow field metadata key parquet field ids travel under
const FieldIDKey = "PARQUET:field_id"

const defaultBatchRows = 4096

// Parquet writes and reads parquet data files through arrow
type Parquet struct {
	compression compress.Compression
	batchRows   int
	mem         memory.Allocator
}

// NewParquet creates the parquet format from the data configuration
func NewParquet(cfg config.DataConfig) (*Parquet, error) {
	codec, err := ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	batch := cfg.BatchRows
	if batch <= 0 {
		batch = defaultBatchRows
	}
	return &Parquet{compression: codec, batchRows: batch, mem: memory.NewGoAllocator()}, nil
}

func (p *Parquet) Format() manifest.FileFormat { return manifest.FormatParquet }
func (p *Parquet) Extension() string           { return "parquet" }

// ArrowSchema converts the top-level primitive fields of sch, tagging each
// column with its field id
func ArrowSchema(sch *schema.Schema) (*arrow.Schema, error) {
	fields, prims, err := primitiveFields(sch)
	if err != nil {
		return nil, err
	}
	out := make([]arrow.Field, len(fields))
	for i, f := range fields {
		dt, err := arrowType(prims[i])
		if err != nil {
			return nil, errors.AddContext(err, "column", f.Name)
		}
		out[i] = arrow.Field{
			Name:     f.Name,
			Type:     dt,
			Nullable: !f.Required,
			Metadata: arrow.NewMetadata([]string{FieldIDKey}, []string{strconv.Itoa(f.ID)}),
		}
	}
	return arrow.NewSchema(out, nil), nil
}

func arrowType(t types.PrimitiveType) (arrow.DataType, error) {
	switch t.ID {
	case types.BooleanID:
		return arrow.FixedWidthTypes.Boolean, nil
	case types.IntID:
		return arrow.PrimitiveTypes.Int32, nil
	case types.LongID:
		return arrow.PrimitiveTypes.Int64, nil
	case types.FloatID:
		return arrow.PrimitiveTypes.Float32, nil
	case types.DoubleID:
		return arrow.PrimitiveTypes.Float64, nil
	case types.DateID:
		return arrow.FixedWidthTypes.Date32, nil
	case types.TimestampID:
		return arrow.FixedWidthTypes.Timestamp_us, nil
	case types.StringID:
		return arrow.BinaryTypes.String, nil
	case types.BinaryID:
		return arrow.BinaryTypes.Binary, nil
	case types.FixedID:
		return &arrow.FixedSizeBinaryType{ByteWidth: t.Length}, nil
	case types.DecimalID:
		return &arrow.Decimal128Type{Precision: int32(t.Precision), Scale: int32(t.Scale)}, nil
	}
	return nil, errors.Newf(ErrUnsupportedType, "no parquet mapping for %s", t)
}

type parquetWriter struct {
	format *Parquet
	fio    storage.FileIO
	path   string
	fields []types.NestedField
	prims  []types.PrimitiveType
	schema *arrow.Schema

	mu      sync.Mutex
	buf     bytes.Buffer
	writer  *pqarrow.FileWriter
	pending []Row
	metrics *metricsCollector
	closed  bool
}

func (p *Parquet) NewWriter(ctx context.Context, fio storage.FileIO, path string, sch *schema.Schema) (FileWriter, error) {
	fields, prims, err := primitiveFields(sch)
	if err != nil {
		return nil, err
	}
	asch, err := ArrowSchema(sch)
	if err != nil {
		return nil, err
	}
	w := &parquetWriter{
		format:  p,
		fio:     fio,
		path:    path,
		fields:  fields,
		prims:   prims,
		schema:  asch,
		metrics: newMetricsCollector(fields, prims),
	}
	props := parquet.NewWriterProperties(
		parquet.WithCompression(p.compression),
		parquet.WithAllocator(p.mem),
	)
	w.writer, err = pqarrow.NewFileWriter(asch, &w.buf, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return nil, errors.New(ErrWriteFailed, "failed to create parquet writer", err).AddContext("path", path)
	}
	return w, nil
}

func (w *parquetWriter) Write(rows ...Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New(ErrWriterClosed, "parquet writer is closed", nil).AddContext("path", w.path)
	}
	for _, r := range rows {
		row, err := normalizeRow(w.fields, w.prims, r)
		if err != nil {
			return err
		}
		w.metrics.add(row)
		w.pending = append(w.pending, row)
		if len(w.pending) >= w.format.batchRows {
			if err := w.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// flush writes the pending rows as one record batch
func (w *parquetWriter) flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	b := array.NewRecordBuilder(w.format.mem, w.schema)
	defer b.Release()
	for _, row := range w.pending {
		for i, v := range row {
			if err := appendValue(b.Field(i), w.prims[i], v); err != nil {
				return errors.AddContext(err, "column", w.fields[i].Name)
			}
		}
	}
	rec := b.NewRecord()
	defer rec.Release()
	if err := w.writer.Write(rec); err != nil {
		return errors.New(ErrWriteFailed, "failed to write record batch", err).AddContext("path", w.path)
	}
	w.pending = w.pending[:0]
	return nil
}

func (w *parquetWriter) Close(ctx context.Context) (WriteResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return WriteResult{}, errors.New(ErrWriterClosed, "parquet writer is closed", nil).AddContext("path", w.path)
	}
	w.closed = true
	if err := w.flush(); err != nil {
		return WriteResult{}, err
	}
	if err := w.writer.Close(); err != nil {
		return WriteResult{}, errors.New(ErrWriteFailed, "failed to finish parquet file", err).AddContext("path", w.path)
	}
	if err := w.fio.WriteNew(ctx, w.path, w.buf.Bytes()); err != nil {
		return WriteResult{}, err
	}
	return w.metrics.result(w.path, int64(w.buf.Len()))
}

func appendValue(b array.Builder, t types.PrimitiveType, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch bb := b.(type) {
	case *array.BooleanBuilder:
		bb.Append(v.(bool))
	case *array.Int32Builder:
		bb.Append(v.(int32))
	case *array.Int64Builder:
		bb.Append(v.(int64))
	case *array.Float32Builder:
		bb.Append(v.(float32))
	case *array.Float64Builder:
		bb.Append(v.(float64))
	case *array.Date32Builder:
		bb.Append(arrow.Date32(v.(types.Date)))
	case *array.TimestampBuilder:
		bb.Append(arrow.Timestamp(v.(types.Timestamp)))
	case *array.StringBuilder:
		bb.Append(v.(string))
	case *array.BinaryBuilder:
		bb.Append(v.([]byte))
	case *array.FixedSizeBinaryBuilder:
		bb.Append(v.([]byte))
	case *array.Decimal128Builder:
		bb.Append(decimal128.FromBigInt(types.Unscaled(v.(decimal.Decimal), t.Scale)))
	default:
		return errors.Newf(ErrUnsupportedType, "no arrow builder for %s", t)
	}
	return nil
}

// fieldIDs maps the field ids recorded in a parquet file to leaf column
// indexes
func fieldIDs(m *pqarrow.SchemaManifest) map[int]int {
	out := make(map[int]int, len(m.Fields))
	for _, sf := range m.Fields {
		if sf.Field == nil {
			continue
		}
		idx := sf.Field.Metadata.FindKey(FieldIDKey)
		if idx < 0 {
			continue
		}
		id, err := strconv.Atoi(sf.Field.Metadata.Values()[idx])
		if err != nil {
			continue
		}
		out[id] = sf.ColIndex
	}
	return out
}

func fieldID(f arrow.Field) (int, bool) {
	idx := f.Metadata.FindKey(FieldIDKey)
	if idx < 0 {
		return 0, false
	}
	id, err := strconv.Atoi(f.Metadata.Values()[idx])
	return id, err == nil
}

func (p *Parquet) Read(ctx context.Context, fio storage.FileIO, path string, sch *schema.Schema) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		fields, prims, err := primitiveFields(sch)
		if err != nil {
			yield(Batch{}, err)
			return
		}
		raw, err := fio.Read(ctx, path)
		if err != nil {
			yield(Batch{}, err)
			return
		}
		pf, err := file.NewParquetReader(bytes.NewReader(raw), file.WithReadProps(parquet.NewReaderProperties(p.mem)))
		if err != nil {
			yield(Batch{}, errors.New(ErrReadFailed, "failed to open parquet file", err).AddContext("path", path))
			return
		}
		defer pf.Close()

		fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: int64(p.batchRows)}, p.mem)
		if err != nil {
			yield(Batch{}, errors.New(ErrReadFailed, "failed to read parquet schema", err).AddContext("path", path))
			return
		}

		columns := fieldIDs(fr.Manifest)
		var indices []int
		for _, f := range fields {
			if c, ok := columns[f.ID]; ok {
				indices = append(indices, c)
			}
		}
		if len(indices) == 0 {
			// none of the projected columns existed when the file was written
			for start := int64(0); start < pf.NumRows(); start += int64(p.batchRows) {
				n := min(int64(p.batchRows), pf.NumRows()-start)
				rows := make([]Row, n)
				for i := range rows {
					rows[i] = make(Row, len(fields))
				}
				if !yield(Batch{Schema: sch, Rows: rows}, nil) {
					return
				}
			}
			return
		}

		rr, err := fr.GetRecordReader(ctx, indices, nil)
		if err != nil {
			yield(Batch{}, errors.New(ErrReadFailed, "failed to read parquet columns", err).AddContext("path", path))
			return
		}
		defer rr.Release()
		for rr.Next() {
			batch, err := toBatch(rr.Record(), sch, fields, prims)
			if err != nil {
				yield(Batch{}, errors.AddContext(err, "path", path))
				return
			}
			if !yield(batch, nil) {
				return
			}
		}
		if err := rr.Err(); err != nil && !stderrors.Is(err, io.EOF) {
			yield(Batch{}, errors.New(ErrReadFailed, "failed to read parquet rows", err).AddContext("path", path))
		}
	}
}

// toBatch converts a record into rows of sch, promoting values written
// under an older type
func toBatch(rec arrow.Record, sch *schema.Schema, fields []types.NestedField, prims []types.PrimitiveType) (Batch, error) {
	pos := make(map[int]int, rec.NumCols())
	for i, f := range rec.Schema().Fields() {
		if id, ok := fieldID(f); ok {
			pos[id] = i
		}
	}
	rows := make([]Row, rec.NumRows())
	for r := range rows {
		rows[r] = make(Row, len(fields))
	}
	for c, f := range fields {
		col, ok := pos[f.ID]
		if !ok {
			continue
		}
		arr := rec.Column(col)
		for r := range rows {
			v, err := arrowValue(arr, r)
			if err != nil {
				return Batch{}, errors.AddContext(err, "column", f.Name)
			}
			if v == nil {
				continue
			}
			if rows[r][c], err = types.Convert(v, prims[c]); err != nil {
				return Batch{}, errors.New(ErrTypeMismatch, "stored value does not fit the column type", err).
					AddContext("column", f.Name)
			}
		}
	}
	return Batch{Schema: sch, Rows: rows}, nil
}

func arrowValue(col arrow.Array, i int) (any, error) {
	if col.IsNull(i) {
		return nil, nil
	}
	switch a := col.(type) {
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Int32:
		return a.Value(i), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Float32:
		return a.Value(i), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.Date32:
		return types.Date(a.Value(i)), nil
	case *array.Timestamp:
		return types.Timestamp(toMicros(int64(a.Value(i)), a.DataType().(*arrow.TimestampType).Unit)), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Binary:
		return bytes.Clone(a.Value(i)), nil
	case *array.FixedSizeBinary:
		return bytes.Clone(a.Value(i)), nil
	case *array.Decimal128:
		dt := a.DataType().(*arrow.Decimal128Type)
		return decimal.NewFromBigInt(a.Value(i).BigInt(), -dt.Scale), nil
	}
	return nil, errors.Newf(ErrUnsupportedType, "unsupported arrow type %s", col.DataType())
}

func toMicros(v int64, unit arrow.TimeUnit) int64 {
	switch unit {
	case arrow.Second:
		return v * 1_000_000
	case arrow.Millisecond:
		return v * 1_000
	case arrow.Nanosecond:
		return v / 1_000
	}
	return v
}
