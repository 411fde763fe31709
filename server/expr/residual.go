package expr

import (
	"github.com/gear6io/stratum/server/partition"
	"github.com/gear6io/stratum/server/types"
)

// Residual is the part of a bound filter still to be checked against the
// rows of a file in partition rec. Predicates on a column that an identity
// partition field determines are decided by the partition value; the rest
// are kept.
func Residual(spec partition.Spec, bound Expression, rec partition.Record) Expression {
	pos := map[int]int{}
	for i, f := range spec.Fields {
		if _, ok := f.Transform.(partition.IdentityTransform); ok {
			pos[f.SourceID] = i
		}
	}
	if len(pos) == 0 {
		return bound
	}
	return residual(RewriteNot(bound), pos, rec)
}

func residual(e Expression, pos map[int]int, rec partition.Record) Expression {
	switch x := e.(type) {
	case AndExpr:
		return And(residual(x.Left, pos, rec), residual(x.Right, pos, rec))
	case OrExpr:
		return Or(residual(x.Left, pos, rec), residual(x.Right, pos, rec))
	case BoundPredicate:
		i, ok := pos[x.FieldID]
		if !ok || i >= len(rec) {
			return x
		}
		// partition values keep the type the file was written with
		v, err := types.Convert(rec[i], x.Type)
		if err != nil {
			return x
		}
		if evalPredicate(x, v) {
			return AlwaysTrue()
		}
		return AlwaysFalse()
	}
	return e
}
