// Package predicate defines the filter algebra applied to stored documents.
//
// A Predicate describes which documents match a query: Is selects on the
// document's type name, Where tests fields of its payload, and And/Or combine
// sub-predicates. Trees are built once by the caller and never mutated;
// storage backends either compile them to SQL or evaluate them in memory.
package predicate

import "time"

// Op is a field comparison operator.
type Op string

const (
	OpEq Op = "eq"
	OpNe Op = "ne"
	OpLt Op = "lt"
	OpLe Op = "le"
	OpGt Op = "gt"
	OpGe Op = "ge"
)

// Condition is one operator/value pair applied to a single payload field.
//
// Value is nil for an explicit null test, a time.Time for temporal
// comparisons, and a plain string, number, or bool otherwise. Anything else
// is a construction error in the layer that builds the tree.
type Condition struct {
	Op    Op
	Value any
}

func Eq(v any) Condition { return Condition{Op: OpEq, Value: v} }
func Ne(v any) Condition { return Condition{Op: OpNe, Value: v} }
func Lt(v any) Condition { return Condition{Op: OpLt, Value: v} }
func Le(v any) Condition { return Condition{Op: OpLe, Value: v} }
func Gt(v any) Condition { return Condition{Op: OpGt, Value: v} }
func Ge(v any) Condition { return Condition{Op: OpGe, Value: v} }

// Field pairs a payload key with its ordered conditions. Slice order is
// significant: it fixes both clause order and parameter order in compiled
// output.
type Field struct {
	Name  string
	Conds []Condition
}

// F builds a Field.
func F(name string, conds ...Condition) Field {
	return Field{Name: name, Conds: conds}
}

// Predicate is the closed set of filter tree nodes: Is, Where, And, Or.
type Predicate interface {
	isPredicate()
}

// Is matches documents whose type name equals one of Types, in order.
type Is struct {
	Types []string
}

// Where matches documents whose payload satisfies every listed field.
// Field order is significant.
type Where struct {
	Fields []Field
}

// And matches documents satisfying every sub-predicate, in order.
type And struct {
	Preds []Predicate
}

// Or matches documents satisfying at least one sub-predicate, in order.
type Or struct {
	Alts []Predicate
}

func (Is) isPredicate()    {}
func (Where) isPredicate() {}
func (And) isPredicate()   {}
func (Or) isPredicate()    {}

func NewIs(types ...string) Is       { return Is{Types: types} }
func NewWhere(fields ...Field) Where { return Where{Fields: fields} }
func NewAnd(preds ...Predicate) And  { return And{Preds: preds} }
func NewOr(alts ...Predicate) Or     { return Or{Alts: alts} }

// ValueKind classifies a condition value into its comparison family.
type ValueKind int

const (
	// KindGeneric covers strings, numbers, and bools.
	KindGeneric ValueKind = iota
	// KindNull is the explicit null sentinel (a nil value).
	KindNull
	// KindTime covers time.Time values.
	KindTime
)

// KindOf returns the comparison family for a condition value. Every value is
// classifiable; unknown scalar kinds fall into the generic family.
func KindOf(v any) ValueKind {
	switch v.(type) {
	case nil:
		return KindNull
	case time.Time:
		return KindTime
	default:
		return KindGeneric
	}
}
