package expr

import (
	"slices"

	"github.com/gear6io/stratum/pkg/errors"
	"github.com/gear6io/stratum/server/schema"
	"github.com/gear6io/stratum/server/types"
)

var (
	ErrUnknownColumn  = errors.MustNewCode("expr.unknown_column")
	ErrInvalidLiteral = errors.MustNewCode("expr.invalid_literal")
	ErrNotPrimitive   = errors.MustNewCode("expr.not_primitive")
	ErrUnbound        = errors.MustNewCode("expr.unbound")
)

// Bind resolves column names against sch and converts literals to the
// column types. Null checks on required columns fold to constants.
func Bind(sch *schema.Schema, e Expression, caseSensitive bool) (Expression, error) {
	switch x := e.(type) {
	case trueExpr, falseExpr, BoundPredicate:
		return e, nil
	case AndExpr:
		l, err := Bind(sch, x.Left, caseSensitive)
		if err != nil {
			return nil, err
		}
		r, err := Bind(sch, x.Right, caseSensitive)
		if err != nil {
			return nil, err
		}
		return And(l, r), nil
	case OrExpr:
		l, err := Bind(sch, x.Left, caseSensitive)
		if err != nil {
			return nil, err
		}
		r, err := Bind(sch, x.Right, caseSensitive)
		if err != nil {
			return nil, err
		}
		return Or(l, r), nil
	case NotExpr:
		c, err := Bind(sch, x.Child, caseSensitive)
		if err != nil {
			return nil, err
		}
		return Not(c), nil
	case UnboundPredicate:
		return bindPredicate(sch, x, caseSensitive)
	}
	return nil, errors.Newf(errors.CommonUnsupported, "cannot bind %T", e)
}

func bindPredicate(sch *schema.Schema, p UnboundPredicate, caseSensitive bool) (Expression, error) {
	var (
		field types.NestedField
		ok    bool
	)
	if caseSensitive {
		field, ok = sch.FindFieldByName(p.Column)
	} else {
		field, ok = sch.FindFieldByNameCaseInsensitive(p.Column)
	}
	if !ok {
		return nil, errors.Newf(ErrUnknownColumn, "cannot find column %q", p.Column)
	}
	typ, ok := field.Type.(types.PrimitiveType)
	if !ok {
		return nil, errors.Newf(ErrNotPrimitive, "cannot filter on nested column %q", p.Column)
	}
	name, _ := sch.FindColumnName(field.ID)

	switch p.op {
	case OpIsNull:
		if field.Required {
			return AlwaysFalse(), nil
		}
		return BoundPredicate{op: p.op, FieldID: field.ID, Name: name, Type: typ}, nil
	case OpNotNull:
		if field.Required {
			return AlwaysTrue(), nil
		}
		return BoundPredicate{op: p.op, FieldID: field.ID, Name: name, Type: typ}, nil
	case OpStartsWith, OpNotStartsWith:
		if typ.ID != types.StringID {
			return nil, errors.Newf(ErrInvalidLiteral, "starts with needs a string column, %q is %s", p.Column, typ)
		}
	}

	lits := make([]any, 0, len(p.Literals))
	for _, l := range p.Literals {
		if l == nil {
			return nil, errors.Newf(ErrInvalidLiteral, "null literal in %s; use IsNull or NotNull", p)
		}
		v, err := types.Convert(l, typ)
		if err != nil {
			return nil, errors.New(ErrInvalidLiteral, "invalid literal for column "+p.Column, err)
		}
		if !slices.ContainsFunc(lits, func(o any) bool { return types.Equal(typ, o, v) }) {
			lits = append(lits, v)
		}
	}
	if len(lits) == 0 {
		switch p.op {
		case OpIn:
			return AlwaysFalse(), nil
		case OpNotIn:
			return AlwaysTrue(), nil
		}
		return nil, errors.Newf(ErrInvalidLiteral, "%s needs a literal", p)
	}

	op := p.op
	switch {
	case op == OpIn && len(lits) == 1:
		op = OpEQ
	case op == OpNotIn && len(lits) == 1:
		op = OpNEQ
	}
	return BoundPredicate{op: op, FieldID: field.ID, Name: name, Type: typ, Literals: lits}, nil
}

// RewriteNot pushes negation down to the predicates
func RewriteNot(e Expression) Expression {
	switch x := e.(type) {
	case AndExpr:
		return And(RewriteNot(x.Left), RewriteNot(x.Right))
	case OrExpr:
		return Or(RewriteNot(x.Left), RewriteNot(x.Right))
	case NotExpr:
		return RewriteNot(x.Child.Negate())
	}
	return e
}

// ReferencedFieldIDs lists the field ids a bound expression reads
func ReferencedFieldIDs(e Expression) []int {
	var ids []int
	var walk func(Expression)
	walk = func(e Expression) {
		switch x := e.(type) {
		case AndExpr:
			walk(x.Left)
			walk(x.Right)
		case OrExpr:
			walk(x.Left)
			walk(x.Right)
		case NotExpr:
			walk(x.Child)
		case BoundPredicate:
			if !slices.Contains(ids, x.FieldID) {
				ids = append(ids, x.FieldID)
			}
		}
	}
	walk(e)
	slices.Sort(ids)
	return ids
}

// IsBound reports whether e has no unbound predicates
func IsBound(e Expression) bool {
	switch x := e.(type) {
	case UnboundPredicate:
		return false
	case AndExpr:
		return IsBound(x.Left) && IsBound(x.Right)
	case OrExpr:
		return IsBound(x.Left) && IsBound(x.Right)
	case NotExpr:
		return IsBound(x.Child)
	}
	return true
}
