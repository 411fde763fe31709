package expr

import (
	"unicode/utf8"

	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/types"
)

// ProjectInclusive rewrites a bound row filter into a filter on partition
// values such that any row matching e lies in a partition matching the
// result. Predicates that cannot be projected become true.
func ProjectInclusive(spec partition.Spec, sch *schema.Schema, e Expression) Expression {
	resultTypes, err := spec.ResultTypes(sch)
	if err != nil {
		return AlwaysTrue()
	}
	return projectInclusive(spec, resultTypes, RewriteNot(e))
}

func projectInclusive(spec partition.Spec, resultTypes []types.PrimitiveType, e Expression) Expression {
	switch x := e.(type) {
	case AndExpr:
		return And(projectInclusive(spec, resultTypes, x.Left), projectInclusive(spec, resultTypes, x.Right))
	case OrExpr:
		return Or(projectInclusive(spec, resultTypes, x.Left), projectInclusive(spec, resultTypes, x.Right))
	case BoundPredicate:
		out := AlwaysTrue()
		for i, f := range spec.Fields {
			if f.SourceID != x.FieldID {
				continue
			}
			if p, ok := projectPredicate(f, resultTypes[i], x); ok {
				out = And(out, p)
			}
		}
		return out
	}
	return e
}

func projectPredicate(f partition.Field, resultType types.PrimitiveType, p BoundPredicate) (Expression, bool) {
	onPartition := func(op Operation, lits ...any) Expression {
		return BoundPredicate{op: op, FieldID: f.FieldID, Name: f.Name, Type: resultType, Literals: lits}
	}
	applyAll := func() []any {
		out := make([]any, 0, len(p.Literals))
		for _, l := range p.Literals {
			v := f.Transform.Apply(l)
			if !containsValue(resultType, out, v) {
				out = append(out, v)
			}
		}
		return out
	}

	if _, void := f.Transform.(partition.VoidTransform); void {
		return nil, false
	}
	switch p.op {
	case OpIsNull, OpNotNull:
		return onPartition(p.op), true
	}

	switch t := f.Transform.(type) {
	case partition.IdentityTransform:
		return onPartition(p.op, p.Literals...), true

	case partition.BucketTransform:
		switch p.op {
		case OpEQ:
			return onPartition(OpEQ, t.Apply(p.Literal())), true
		case OpIn:
			return onPartition(OpIn, applyAll()...), true
		}
		return nil, false
	}

	if !f.Transform.PreservesOrder() {
		return nil, false
	}
	switch p.op {
	case OpLT, OpLTEQ:
		return onPartition(OpLTEQ, f.Transform.Apply(p.Literal())), true
	case OpGT, OpGTEQ:
		return onPartition(OpGTEQ, f.Transform.Apply(p.Literal())), true
	case OpEQ:
		return onPartition(OpEQ, f.Transform.Apply(p.Literal())), true
	case OpIn:
		return onPartition(OpIn, applyAll()...), true
	case OpStartsWith:
		trunc, ok := f.Transform.(partition.TruncateTransform)
		if !ok {
			return nil, false
		}
		prefix := p.Literal().(string)
		if utf8.RuneCountInString(prefix) >= trunc.Width {
			return onPartition(OpEQ, trunc.Apply(prefix)), true
		}
		return onPartition(OpStartsWith, prefix), true
	}
	return nil, false
}

func containsValue(t types.PrimitiveType, vals []any, v any) bool {
	for _, o := range vals {
		if types.Equal(t, o, v) {
			return true
		}
	}
	return false
}
