// Package expr holds row filters: unbound predicates written by callers,
// their bound form keyed by field id, and the evaluators used to prune
// manifests and data files during scan planning.
package expr

import (
	"fmt"
	"strings"

	"github.com/gear6io/stratum/server/types"
)

type Operation int

const (
	OpTrue Operation = iota
	OpFalse
	OpAnd
	OpOr
	OpNot
	OpIsNull
	OpNotNull
	OpLT
	OpLTEQ
	OpGT
	OpGTEQ
	OpEQ
	OpNEQ
	OpIn
	OpNotIn
	OpStartsWith
	OpNotStartsWith
)

var opSymbols = map[Operation]string{
	OpLT:            "<",
	OpLTEQ:          "<=",
	OpGT:            ">",
	OpGTEQ:          ">=",
	OpEQ:            "=",
	OpNEQ:           "!=",
	OpIn:            "in",
	OpNotIn:         "not in",
	OpStartsWith:    "starts with",
	OpNotStartsWith: "not starts with",
}

// negations of predicate operations
var negated = map[Operation]Operation{
	OpIsNull:        OpNotNull,
	OpNotNull:       OpIsNull,
	OpLT:            OpGTEQ,
	OpLTEQ:          OpGT,
	OpGT:            OpLTEQ,
	OpGTEQ:          OpLT,
	OpEQ:            OpNEQ,
	OpNEQ:           OpEQ,
	OpIn:            OpNotIn,
	OpNotIn:         OpIn,
	OpStartsWith:    OpNotStartsWith,
	OpNotStartsWith: OpStartsWith,
}

// Expression is a boolean filter tree
type Expression interface {
	Op() Operation
	Negate() Expression
	String() string
}

type trueExpr struct{}
type falseExpr struct{}

// AlwaysTrue matches every row
func AlwaysTrue() Expression { return trueExpr{} }

// AlwaysFalse matches no row
func AlwaysFalse() Expression { return falseExpr{} }

func (trueExpr) Op() Operation       { return OpTrue }
func (trueExpr) Negate() Expression  { return falseExpr{} }
func (trueExpr) String() string      { return "true" }
func (falseExpr) Op() Operation      { return OpFalse }
func (falseExpr) Negate() Expression { return trueExpr{} }
func (falseExpr) String() string     { return "false" }

type AndExpr struct{ Left, Right Expression }
type OrExpr struct{ Left, Right Expression }
type NotExpr struct{ Child Expression }

// And folds constants: And(false, x) is false and And(true, x) is x
func And(left, right Expression, more ...Expression) Expression {
	out := and2(left, right)
	for _, e := range more {
		out = and2(out, e)
	}
	return out
}

func and2(l, r Expression) Expression {
	switch {
	case l.Op() == OpFalse || r.Op() == OpFalse:
		return AlwaysFalse()
	case l.Op() == OpTrue:
		return r
	case r.Op() == OpTrue:
		return l
	}
	return AndExpr{Left: l, Right: r}
}

// Or folds constants: Or(true, x) is true and Or(false, x) is x
func Or(left, right Expression, more ...Expression) Expression {
	out := or2(left, right)
	for _, e := range more {
		out = or2(out, e)
	}
	return out
}

func or2(l, r Expression) Expression {
	switch {
	case l.Op() == OpTrue || r.Op() == OpTrue:
		return AlwaysTrue()
	case l.Op() == OpFalse:
		return r
	case r.Op() == OpFalse:
		return l
	}
	return OrExpr{Left: l, Right: r}
}

func Not(child Expression) Expression {
	switch child.Op() {
	case OpTrue:
		return AlwaysFalse()
	case OpFalse:
		return AlwaysTrue()
	case OpNot:
		return child.(NotExpr).Child
	}
	return NotExpr{Child: child}
}

func (e AndExpr) Op() Operation      { return OpAnd }
func (e AndExpr) Negate() Expression { return Or(e.Left.Negate(), e.Right.Negate()) }
func (e AndExpr) String() string     { return fmt.Sprintf("(%s and %s)", e.Left, e.Right) }
func (e OrExpr) Op() Operation       { return OpOr }
func (e OrExpr) Negate() Expression  { return And(e.Left.Negate(), e.Right.Negate()) }
func (e OrExpr) String() string      { return fmt.Sprintf("(%s or %s)", e.Left, e.Right) }
func (e NotExpr) Op() Operation      { return OpNot }
func (e NotExpr) Negate() Expression { return e.Child }
func (e NotExpr) String() string     { return fmt.Sprintf("not(%s)", e.Child) }

// UnboundPredicate references a column by name
type UnboundPredicate struct {
	op       Operation
	Column   string
	Literals []any
}

func (p UnboundPredicate) Op() Operation { return p.op }

func (p UnboundPredicate) Negate() Expression {
	return UnboundPredicate{op: negated[p.op], Column: p.Column, Literals: p.Literals}
}

func (p UnboundPredicate) String() string {
	return predicateString(p.Column, p.op, p.Literals)
}

// BoundPredicate references a primitive field by id; literals are canonical
// values of Type.
type BoundPredicate struct {
	op       Operation
	FieldID  int
	Name     string
	Type     types.PrimitiveType
	Literals []any
}

func (p BoundPredicate) Op() Operation { return p.op }

func (p BoundPredicate) Negate() Expression {
	return BoundPredicate{op: negated[p.op], FieldID: p.FieldID, Name: p.Name, Type: p.Type, Literals: p.Literals}
}

func (p BoundPredicate) String() string {
	return predicateString(p.Name, p.op, p.Literals)
}

// Literal returns the single literal of a comparison predicate
func (p BoundPredicate) Literal() any {
	if len(p.Literals) == 0 {
		return nil
	}
	return p.Literals[0]
}

func predicateString(name string, op Operation, lits []any) string {
	switch op {
	case OpIsNull:
		return name + " is null"
	case OpNotNull:
		return name + " is not null"
	case OpIn, OpNotIn:
		parts := make([]string, len(lits))
		for i, l := range lits {
			parts[i] = quote(l)
		}
		return fmt.Sprintf("%s %s (%s)", name, opSymbols[op], strings.Join(parts, ", "))
	}
	var lit any
	if len(lits) > 0 {
		lit = lits[0]
	}
	return fmt.Sprintf("%s %s %s", name, opSymbols[op], quote(lit))
}

func quote(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return types.FormatLiteral(v)
}

func unary(op Operation, column string) Expression {
	return UnboundPredicate{op: op, Column: column}
}

func literal(op Operation, column string, v any) Expression {
	return UnboundPredicate{op: op, Column: column, Literals: []any{v}}
}

func IsNull(column string) Expression  { return unary(OpIsNull, column) }
func NotNull(column string) Expression { return unary(OpNotNull, column) }

func Equal(column string, v any) Expression            { return literal(OpEQ, column, v) }
func NotEqual(column string, v any) Expression         { return literal(OpNEQ, column, v) }
func LessThan(column string, v any) Expression         { return literal(OpLT, column, v) }
func LessThanEqual(column string, v any) Expression    { return literal(OpLTEQ, column, v) }
func GreaterThan(column string, v any) Expression      { return literal(OpGT, column, v) }
func GreaterThanEqual(column string, v any) Expression { return literal(OpGTEQ, column, v) }

func StartsWith(column, prefix string) Expression    { return literal(OpStartsWith, column, prefix) }
func NotStartsWith(column, prefix string) Expression { return literal(OpNotStartsWith, column, prefix) }

func In(column string, values ...any) Expression {
	return UnboundPredicate{op: OpIn, Column: column, Literals: values}
}

func NotIn(column string, values ...any) Expression {
	return UnboundPredicate{op: OpNotIn, Column: column, Literals: values}
}
