package data

import (
	"strconv"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/types"
)

// Row holds one value per top-level field of a schema, in field order. A
// nil value is null.
type Row []any

// Batch is a run of rows sharing a schema
type Batch struct {
	Schema *schema.Schema
	Rows   []Row
}

func (b Batch) Len() int {
	return len(b.Rows)
}

// primitiveFields returns the top-level fields of sch, rejecting nested
// columns which data files do not support
func primitiveFields(sch *schema.Schema) ([]types.NestedField, []types.PrimitiveType, error) {
	fields := sch.Fields()
	prims := make([]types.PrimitiveType, len(fields))
	for i, f := range fields {
		p, ok := f.Type.(types.PrimitiveType)
		if !ok {
			return nil, nil, errors.Newf(ErrUnsupportedType, "column %q has nested type %s", f.Name, f.Type).
				AddContext("field_id", strconv.Itoa(f.ID))
		}
		prims[i] = p
	}
	return fields, prims, nil
}

// normalizeRow converts every value of row to the canonical literal of its
// column and checks required columns are set
func normalizeRow(fields []types.NestedField, prims []types.PrimitiveType, row Row) (Row, error) {
	if len(row) != len(fields) {
		return nil, errors.Newf(ErrInvalidRow, "row has %d values, schema has %d columns", len(row), len(fields))
	}
	out := make(Row, len(row))
	for i, v := range row {
		if v == nil {
			if fields[i].Required {
				return nil, errors.Newf(ErrInvalidRow, "required column %q is null", fields[i].Name)
			}
			continue
		}
		c, err := types.Convert(v, prims[i])
		if err != nil {
			return nil, errors.New(ErrTypeMismatch, "invalid value for column", err).AddContext("column", fields[i].Name)
		}
		out[i] = c
	}
	return out, nil
}

// columnMetrics tracks the counts and bounds of one column
type columnMetrics struct {
	typ    types.PrimitiveType
	values int64
	nulls  int64
	lower  any
	upper  any
}

func (m *columnMetrics) update(v any) {
	m.values++
	if v == nil {
		m.nulls++
		return
	}
	if m.lower == nil || types.Compare(m.typ, v, m.lower) < 0 {
		m.lower = v
	}
	if m.upper == nil || types.Compare(m.typ, v, m.upper) > 0 {
		m.upper = v
	}
}

// metricsCollector accumulates the per-column metrics a manifest entry
// carries
type metricsCollector struct {
	ids     []int
	columns []*columnMetrics
	rows    int64
}

func newMetricsCollector(fields []types.NestedField, prims []types.PrimitiveType) *metricsCollector {
	c := &metricsCollector{
		ids:     make([]int, len(fields)),
		columns: make([]*columnMetrics, len(fields)),
	}
	for i, f := range fields {
		c.ids[i] = f.ID
		c.columns[i] = &columnMetrics{typ: prims[i]}
	}
	return c
}

func (c *metricsCollector) add(row Row) {
	c.rows++
	for i, v := range row {
		c.columns[i].update(v)
	}
}

func (c *metricsCollector) result(path string, size int64) (WriteResult, error) {
	res := WriteResult{
		Path:        path,
		RecordCount: c.rows,
		ByteSize:    size,
		ValueCounts: make(map[int]int64, len(c.ids)),
		NullCounts:  make(map[int]int64, len(c.ids)),
		Lower:       make(map[int][]byte, len(c.ids)),
		Upper:       make(map[int][]byte, len(c.ids)),
	}
	for i, id := range c.ids {
		col := c.columns[i]
		res.ValueCounts[id] = col.values
		res.NullCounts[id] = col.nulls
		if col.lower == nil {
			continue
		}
		lower, err := types.ToBytes(col.typ, col.lower)
		if err != nil {
			return WriteResult{}, err
		}
		upper, err := types.ToBytes(col.typ, col.upper)
		if err != nil {
			return WriteResult{}, err
		}
		res.Lower[id], res.Upper[id] = lower, upper
	}
	return res, nil
}
