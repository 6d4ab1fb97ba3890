package postgres

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chronicle/chronicle-go/predicate"
)

// DefaultTimestampConvert turns a jsonb text expression into a timestamp.
// Payload timestamps are stored as ISO-8601 strings, which to_timestamp can
// parse with this pattern.
const DefaultTimestampConvert = `to_timestamp(%s, 'YYYY-MM-DD"T"HH24:MI:SSTZH:TZM')`

// Compiler turns predicate trees into parameterized boolean fragments over a
// type-discriminator column and a jsonb payload column. It carries no
// per-call state: Compile is a pure function and safe for concurrent use.
type Compiler struct {
	// TypeColumn is compared by Is nodes.
	TypeColumn string
	// DataColumn is the jsonb payload tested by Where nodes.
	DataColumn string
	// TimestampConvert is a fmt pattern producing a timestamp expression
	// from a jsonb text expression. Empty means DefaultTimestampConvert.
	TimestampConvert string
}

// NewCompiler returns a Compiler for the given column pair.
func NewCompiler(typeColumn, dataColumn string) *Compiler {
	return &Compiler{
		TypeColumn:       typeColumn,
		DataColumn:       dataColumn,
		TimestampConvert: DefaultTimestampConvert,
	}
}

// Result is the outcome of compiling one predicate tree.
//
// A fully reduced tree has a non-empty Clause, whose $n placeholders
// correspond positionally to Params, and a nil Residual. A tree that could
// not be reduced at all (an empty Is/Where/And/Or, possibly propagated up)
// has an empty Clause and carries the original node in Residual. An And/Or
// whose children split between the two keeps both: the reducible children
// form the Clause and the rest are re-wrapped, in order, into a node of the
// same kind. Callers embed the clause if present and re-check loaded rows
// against the residual if present; empty containers are never replaced with
// boolean literals here.
type Result struct {
	Clause   string
	Params   []any
	Residual predicate.Predicate
}

// Reduced reports whether the whole tree compiled down to SQL.
func (r Result) Reduced() bool {
	return r.Residual == nil && r.Clause != ""
}

// Compile reduces a predicate tree to a WHERE-embeddable fragment. It never
// fails: every node kind reduces, propagates a residual, or both.
func (c *Compiler) Compile(p predicate.Predicate) Result {
	run := compilation{compiler: c}
	return run.reduce(p)
}

// compilation tracks placeholder numbering for a single Compile call so that
// emitted placeholders and collected parameters stay in lock-step.
type compilation struct {
	compiler *Compiler
	n        int
}

func (cc *compilation) placeholder() string {
	cc.n++
	return "$" + strconv.Itoa(cc.n)
}

func (cc *compilation) reduce(p predicate.Predicate) Result {
	switch p := p.(type) {
	case predicate.Is:
		return cc.reduceIs(p)
	case *predicate.Is:
		return cc.reduceIs(*p)
	case predicate.Where:
		return cc.reduceWhere(p)
	case *predicate.Where:
		return cc.reduceWhere(*p)
	case predicate.And:
		return cc.reduceJoin(p.Preds, " AND ", p, rewrapAnd)
	case *predicate.And:
		return cc.reduceJoin(p.Preds, " AND ", *p, rewrapAnd)
	case predicate.Or:
		return cc.reduceJoin(p.Alts, " OR ", p, rewrapOr)
	case *predicate.Or:
		return cc.reduceJoin(p.Alts, " OR ", *p, rewrapOr)
	default:
		return Result{Residual: p}
	}
}

func rewrapAnd(residual []predicate.Predicate) predicate.Predicate {
	return predicate.NewAnd(residual...)
}

func rewrapOr(residual []predicate.Predicate) predicate.Predicate {
	return predicate.NewOr(residual...)
}

func (cc *compilation) reduceIs(p predicate.Is) Result {
	if len(p.Types) == 0 {
		return Result{Residual: p}
	}
	placeholders := make([]string, len(p.Types))
	params := make([]any, len(p.Types))
	for i, name := range p.Types {
		placeholders[i] = cc.placeholder()
		params[i] = name
	}
	clause := fmt.Sprintf("%s IN (%s)", cc.compiler.TypeColumn, strings.Join(placeholders, ", "))
	return Result{Clause: clause, Params: params}
}

func (cc *compilation) reduceWhere(p predicate.Where) Result {
	if len(p.Fields) == 0 {
		return Result{Residual: p}
	}
	// The whole node is checked before any placeholder is emitted: bailing
	// out halfway would leave gaps in the placeholder numbering.
	for _, f := range p.Fields {
		if !compilableField(f) {
			return Result{Residual: p}
		}
	}
	clauses := make([]string, 0, len(p.Fields))
	var params []any
	for _, f := range p.Fields {
		clause, fieldParams := cc.field(f)
		clauses = append(clauses, clause)
		params = append(params, fieldParams...)
	}
	return Result{Clause: "(" + strings.Join(clauses, " AND ") + ")", Params: params}
}

// compilableField reports whether a field's condition list has a defined
// template for every entry. Null values only pair with eq and ne.
func compilableField(f predicate.Field) bool {
	if len(f.Conds) == 0 {
		return false
	}
	for _, c := range f.Conds {
		if predicate.KindOf(c.Value) == predicate.KindNull && c.Op != predicate.OpEq && c.Op != predicate.OpNe {
			return false
		}
	}
	return true
}

func (cc *compilation) reduceJoin(children []predicate.Predicate, sep string, self predicate.Predicate, rewrap func([]predicate.Predicate) predicate.Predicate) Result {
	if len(children) == 0 {
		return Result{Residual: self}
	}
	var clauses []string
	var params []any
	var residual []predicate.Predicate
	for _, child := range children {
		r := cc.reduce(child)
		if r.Clause != "" {
			clauses = append(clauses, r.Clause)
			params = append(params, r.Params...)
		}
		if r.Residual != nil {
			residual = append(residual, r.Residual)
		}
	}
	var out Result
	if len(clauses) > 0 {
		out.Clause = "(" + strings.Join(clauses, sep) + ")"
		out.Params = params
	}
	if len(residual) > 0 {
		out.Residual = rewrap(residual)
	}
	return out
}

// field compiles one field's conditions into a single clause. Equality
// conditions form an OR group (the field may match any allowed value) and
// the remaining operators form an AND group (bounds intersect), equality
// group first; both placeholder emission and parameter order follow that
// layout.
func (cc *compilation) field(f predicate.Field) (string, []any) {
	var eqConds, ordConds []predicate.Condition
	for _, c := range f.Conds {
		if c.Op == predicate.OpEq {
			eqConds = append(eqConds, c)
		} else {
			ordConds = append(ordConds, c)
		}
	}

	var params []any
	eqClauses := make([]string, 0, len(eqConds))
	for _, c := range eqConds {
		clause, leafParams := cc.leaf(f.Name, c)
		eqClauses = append(eqClauses, clause)
		params = append(params, leafParams...)
	}
	ordClauses := make([]string, 0, len(ordConds))
	for _, c := range ordConds {
		clause, leafParams := cc.leaf(f.Name, c)
		ordClauses = append(ordClauses, clause)
		params = append(params, leafParams...)
	}

	eqGroup := joinGroup(eqClauses, " OR ")
	ordGroup := joinGroup(ordClauses, " AND ")
	switch {
	case eqGroup != "" && ordGroup != "":
		return eqGroup + " AND " + ordGroup, params
	case eqGroup != "":
		return eqGroup, params
	default:
		return ordGroup, params
	}
}

func joinGroup(clauses []string, sep string) string {
	switch len(clauses) {
	case 0:
		return ""
	case 1:
		return clauses[0]
	default:
		return "(" + strings.Join(clauses, sep) + ")"
	}
}

func (cc *compilation) leaf(field string, c predicate.Condition) (string, []any) {
	switch predicate.KindOf(c.Value) {
	case predicate.KindNull:
		return cc.nullLeaf(field, c.Op)
	case predicate.KindTime:
		return cc.timeLeaf(field, c.Op, c.Value.(time.Time))
	default:
		return cc.genericLeaf(field, c.Op, c.Value)
	}
}

// genericLeaf compares the jsonb value at the key against the JSON encoding
// of the literal. Equality and ordering require the key to exist; inequality
// defaults to true so that documents missing the key count as "not equal".
func (cc *compilation) genericLeaf(field string, op predicate.Op, value any) (string, []any) {
	data := cc.compiler.DataColumn
	literal := jsonLiteral(value)
	if op == predicate.OpNe {
		keyPh := cc.placeholder()
		valPh := cc.placeholder()
		clause := fmt.Sprintf("coalesce(%s->%s <> %s::jsonb, true)", data, keyPh, valPh)
		return clause, []any{field, literal}
	}
	existsPh := cc.placeholder()
	keyPh := cc.placeholder()
	valPh := cc.placeholder()
	clause := fmt.Sprintf("(%s ? %s AND %s->%s %s %s::jsonb)", data, existsPh, data, keyPh, sqlOp(op), valPh)
	return clause, []any{field, field, literal}
}

// timeLeaf casts both sides to timestamps. Equality routes through here too:
// comparing jsonb values directly would compare the literal text instead of
// the instants they denote.
func (cc *compilation) timeLeaf(field string, op predicate.Op, value time.Time) (string, []any) {
	data := cc.compiler.DataColumn
	literal := value.Format(time.RFC3339)
	if op == predicate.OpNe {
		keyPh := cc.placeholder()
		valPh := cc.placeholder()
		clause := fmt.Sprintf("coalesce(%s <> %s::timestamp, true)", cc.timestampExpr(data+"->>"+keyPh), valPh)
		return clause, []any{field, literal}
	}
	existsPh := cc.placeholder()
	keyPh := cc.placeholder()
	valPh := cc.placeholder()
	clause := fmt.Sprintf("(%s ? %s AND %s %s %s::timestamp)", data, existsPh, cc.timestampExpr(data+"->>"+keyPh), sqlOp(op), valPh)
	return clause, []any{field, field, literal}
}

// nullLeaf accepts both a true SQL NULL (key absent) and an explicit JSON
// null value for eq; ne requires the key to hold a non-null value.
func (cc *compilation) nullLeaf(field string, op predicate.Op) (string, []any) {
	data := cc.compiler.DataColumn
	if op == predicate.OpEq {
		firstPh := cc.placeholder()
		secondPh := cc.placeholder()
		// TODO: parenthesize this leaf; when a Where joins it to another
		// field clause with AND, the AND binds tighter than this OR.
		clause := fmt.Sprintf("%s->%s IS NULL OR %s->%s = 'null'", data, firstPh, data, secondPh)
		return clause, []any{field, field}
	}
	existsPh := cc.placeholder()
	keyPh := cc.placeholder()
	clause := fmt.Sprintf("(%s ? %s AND %s->%s != 'null')", data, existsPh, data, keyPh)
	return clause, []any{field, field}
}

func (cc *compilation) timestampExpr(textExpr string) string {
	convert := cc.compiler.TimestampConvert
	if convert == "" {
		convert = DefaultTimestampConvert
	}
	return fmt.Sprintf(convert, textExpr)
}

func sqlOp(op predicate.Op) string {
	switch op {
	case predicate.OpEq:
		return "="
	case predicate.OpNe:
		return "<>"
	case predicate.OpLt:
		return "<"
	case predicate.OpLe:
		return "<="
	case predicate.OpGt:
		return ">"
	default:
		return ">="
	}
}

// jsonLiteral renders a generic scalar as jsonb source text for the value
// placeholder. Marshalling only fails for kinds the upstream layer never
// constructs; the raw fallback keeps the compiler total.
func jsonLiteral(value any) string {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(value))
	}
	return string(b)
}
