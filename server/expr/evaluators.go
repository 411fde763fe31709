package expr

import (
	"strings"
	"unicode/utf8"

	"github.com/gear6io/stratum/server/manifest"
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/types"
)

// Evaluate tests a bound expression against concrete values looked up by
// field id. A null value matches only null checks and the negative
// predicates (!=, not in, not starts with); not(p) is evaluated as the
// negated predicate so pruning and row filtering agree on nulls.
func Evaluate(e Expression, value func(fieldID int) any) bool {
	switch x := e.(type) {
	case trueExpr:
		return true
	case falseExpr:
		return false
	case AndExpr:
		return Evaluate(x.Left, value) && Evaluate(x.Right, value)
	case OrExpr:
		return Evaluate(x.Left, value) || Evaluate(x.Right, value)
	case NotExpr:
		return Evaluate(x.Child.Negate(), value)
	case BoundPredicate:
		return evalPredicate(x, value(x.FieldID))
	}
	panic("cannot evaluate unbound expression " + e.String())
}

func evalPredicate(p BoundPredicate, v any) bool {
	switch p.op {
	case OpIsNull:
		return v == nil
	case OpNotNull:
		return v != nil
	}
	if v == nil {
		return p.op == OpNEQ || p.op == OpNotIn || p.op == OpNotStartsWith
	}
	switch p.op {
	case OpLT:
		return types.Compare(p.Type, v, p.Literal()) < 0
	case OpLTEQ:
		return types.Compare(p.Type, v, p.Literal()) <= 0
	case OpGT:
		return types.Compare(p.Type, v, p.Literal()) > 0
	case OpGTEQ:
		return types.Compare(p.Type, v, p.Literal()) >= 0
	case OpEQ:
		return types.Compare(p.Type, v, p.Literal()) == 0
	case OpNEQ:
		return types.Compare(p.Type, v, p.Literal()) != 0
	case OpIn:
		return containsValue(p.Type, p.Literals, v)
	case OpNotIn:
		return !containsValue(p.Type, p.Literals, v)
	case OpStartsWith:
		return strings.HasPrefix(v.(string), p.Literal().(string))
	case OpNotStartsWith:
		return !strings.HasPrefix(v.(string), p.Literal().(string))
	}
	return true
}

// RowEvaluator filters rows by a bound expression
type RowEvaluator struct {
	expr Expression
}

func NewRowEvaluator(bound Expression) *RowEvaluator {
	return &RowEvaluator{expr: bound}
}

func (r *RowEvaluator) Eval(value func(fieldID int) any) bool {
	return Evaluate(r.expr, value)
}

// PartitionEvaluator decides whether a partition tuple may hold matching rows
type PartitionEvaluator struct {
	expr      Expression
	positions map[int]int
}

func NewPartitionEvaluator(spec partition.Spec, sch *schema.Schema, bound Expression) *PartitionEvaluator {
	return &PartitionEvaluator{
		expr:      ProjectInclusive(spec, sch, bound),
		positions: positions(spec),
	}
}

func positions(spec partition.Spec) map[int]int {
	pos := make(map[int]int, len(spec.Fields))
	for i, f := range spec.Fields {
		pos[f.FieldID] = i
	}
	return pos
}

func (p *PartitionEvaluator) Eval(rec partition.Record) bool {
	return Evaluate(p.expr, func(fieldID int) any {
		i, ok := p.positions[fieldID]
		if !ok || i >= len(rec) {
			return nil
		}
		return rec[i]
	})
}

// ManifestEvaluator prunes manifest list entries with their partition
// summaries. Missing summaries never exclude a manifest.
type ManifestEvaluator struct {
	expr      Expression
	positions map[int]int
}

func NewManifestEvaluator(spec partition.Spec, sch *schema.Schema, bound Expression) *ManifestEvaluator {
	return &ManifestEvaluator{
		expr:      RewriteNot(ProjectInclusive(spec, sch, bound)),
		positions: positions(spec),
	}
}

func (m *ManifestEvaluator) Eval(mf manifest.ManifestFile) bool {
	if !mf.HasLiveFiles() {
		return false
	}
	return m.eval(m.expr, mf.Partitions)
}

func (m *ManifestEvaluator) eval(e Expression, summaries []manifest.FieldSummary) bool {
	switch x := e.(type) {
	case trueExpr:
		return true
	case falseExpr:
		return false
	case AndExpr:
		return m.eval(x.Left, summaries) && m.eval(x.Right, summaries)
	case OrExpr:
		return m.eval(x.Left, summaries) || m.eval(x.Right, summaries)
	case BoundPredicate:
		i, ok := m.positions[x.FieldID]
		if !ok || i >= len(summaries) {
			return true
		}
		s := summaries[i]
		switch x.op {
		case OpIsNull:
			return s.ContainsNull
		case OpNotNull:
			return !(s.LowerBound == nil && s.ContainsNull)
		case OpNEQ, OpNotIn, OpNotStartsWith:
			return true
		}
		if s.LowerBound == nil && s.UpperBound == nil {
			// no non-null values recorded: all null, or unknown
			return !s.ContainsNull
		}
		return rangeMightMatch(x, decodeBound(x.Type, s.LowerBound), decodeBound(x.Type, s.UpperBound))
	}
	return true
}

// MetricsEvaluator prunes data files with their column statistics. Absent
// statistics never exclude a file.
type MetricsEvaluator struct {
	expr Expression
}

func NewMetricsEvaluator(bound Expression) *MetricsEvaluator {
	return &MetricsEvaluator{expr: RewriteNot(bound)}
}

func (m *MetricsEvaluator) Eval(f *manifest.DataFile) bool {
	if f.RecordCount <= 0 {
		return false
	}
	return m.eval(m.expr, f)
}

func (m *MetricsEvaluator) eval(e Expression, f *manifest.DataFile) bool {
	switch x := e.(type) {
	case trueExpr:
		return true
	case falseExpr:
		return false
	case AndExpr:
		return m.eval(x.Left, f) && m.eval(x.Right, f)
	case OrExpr:
		return m.eval(x.Left, f) || m.eval(x.Right, f)
	case BoundPredicate:
		id := x.FieldID
		nulls, hasNulls := f.NullValueCounts[id]
		values, hasValues := f.ValueCounts[id]
		allNull := hasNulls && (nulls == f.RecordCount || (hasValues && nulls == values))

		switch x.op {
		case OpIsNull:
			return !hasNulls || nulls > 0
		case OpNotNull:
			return !allNull
		case OpNEQ, OpNotIn, OpNotStartsWith:
			return true
		}
		if allNull {
			return false
		}
		return rangeMightMatch(x, decodeBound(x.Type, f.LowerBounds[id]), decodeBound(x.Type, f.UpperBounds[id]))
	}
	return true
}

func decodeBound(t types.PrimitiveType, b []byte) any {
	if b == nil {
		return nil
	}
	v, err := types.FromBytes(t, b)
	if err != nil {
		return nil
	}
	return v
}

// rangeMightMatch checks a comparison against [lower, upper]; a nil bound is
// unknown.
func rangeMightMatch(p BoundPredicate, lower, upper any) bool {
	le := func(a, b any) bool { return a == nil || b == nil || types.Compare(p.Type, a, b) <= 0 }
	lt := func(a, b any) bool { return a == nil || b == nil || types.Compare(p.Type, a, b) < 0 }

	switch p.op {
	case OpLT:
		return lt(lower, p.Literal())
	case OpLTEQ:
		return le(lower, p.Literal())
	case OpGT:
		return lt(p.Literal(), upper)
	case OpGTEQ:
		return le(p.Literal(), upper)
	case OpEQ:
		return le(lower, p.Literal()) && le(p.Literal(), upper)
	case OpIn:
		for _, v := range p.Literals {
			if le(lower, v) && le(v, upper) {
				return true
			}
		}
		return false
	case OpStartsWith:
		prefix := p.Literal().(string)
		n := utf8.RuneCountInString(prefix)
		if l, ok := lower.(string); ok && partition.TruncateString(l, n) > prefix {
			return false
		}
		if u, ok := upper.(string); ok && partition.TruncateString(u, n) < prefix {
			return false
		}
		return true
	}
	return true
}
