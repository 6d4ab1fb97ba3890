package postgres

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronicle/chronicle-go/predicate"
)

func testCompiler() *Compiler {
	return NewCompiler("type_field", "data_field")
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// requirePlaceholderParity checks that the clause holds exactly one
// placeholder per parameter, numbered 1..n left to right.
func requirePlaceholderParity(t *testing.T, r Result) {
	t.Helper()
	matches := placeholderRe.FindAllStringSubmatch(r.Clause, -1)
	require.Len(t, matches, len(r.Params))
	for i, m := range matches {
		n, err := strconv.Atoi(m[1])
		require.NoError(t, err)
		require.Equal(t, i+1, n, "placeholders must be numbered in emission order")
	}
}

func TestCompileIs(t *testing.T) {
	r := testCompiler().Compile(predicate.NewIs("str", "int", "float"))

	require.True(t, r.Reduced())
	assert.Equal(t, "type_field IN ($1, $2, $3)", r.Clause)
	assert.Equal(t, []any{"str", "int", "float"}, r.Params)
	requirePlaceholderParity(t, r)
}

func TestCompileEmptyNodesStayResidual(t *testing.T) {
	for name, p := range map[string]predicate.Predicate{
		"and":   predicate.NewAnd(),
		"or":    predicate.NewOr(),
		"is":    predicate.NewIs(),
		"where": predicate.NewWhere(),
	} {
		t.Run(name, func(t *testing.T) {
			r := testCompiler().Compile(p)
			assert.Empty(t, r.Clause)
			assert.Empty(t, r.Params)
			assert.Equal(t, p, r.Residual, "empty containers must come back unchanged, not as boolean literals")
			assert.False(t, r.Reduced())
		})
	}
}

func TestCompileGenericEquality(t *testing.T) {
	r := testCompiler().Compile(predicate.NewWhere(predicate.F("a", predicate.Eq(1))))

	require.True(t, r.Reduced())
	assert.Equal(t, "((data_field ? $1 AND data_field->$2 = $3::jsonb))", r.Clause)
	assert.Equal(t, []any{"a", "a", "1"}, r.Params)
	requirePlaceholderParity(t, r)
}

func TestCompileEqualityGroupJoinsWithOr(t *testing.T) {
	r := testCompiler().Compile(predicate.NewWhere(predicate.F("n", predicate.Eq(7), predicate.Eq(8))))

	require.True(t, r.Reduced())
	assert.Equal(t,
		"(((data_field ? $1 AND data_field->$2 = $3::jsonb) OR (data_field ? $4 AND data_field->$5 = $6::jsonb)))",
		r.Clause)
	assert.Equal(t, []any{"n", "n", "7", "n", "n", "8"}, r.Params)
	requirePlaceholderParity(t, r)
}

func TestCompileRangeGroupJoinsWithAnd(t *testing.T) {
	r := testCompiler().Compile(predicate.NewWhere(predicate.F("n", predicate.Ge(1), predicate.Le(5))))

	require.True(t, r.Reduced())
	assert.Equal(t,
		"(((data_field ? $1 AND data_field->$2 >= $3::jsonb) AND (data_field ? $4 AND data_field->$5 <= $6::jsonb)))",
		r.Clause)
	assert.Equal(t, []any{"n", "n", "1", "n", "n", "5"}, r.Params)
	requirePlaceholderParity(t, r)
}

func TestCompileEqualityGroupPrecedesRangeGroup(t *testing.T) {
	p := predicate.NewWhere(predicate.F("n",
		predicate.Eq(1), predicate.Ge(0), predicate.Le(9), predicate.Eq(2)))
	r := testCompiler().Compile(p)

	require.True(t, r.Reduced())
	assert.Equal(t,
		"(((data_field ? $1 AND data_field->$2 = $3::jsonb) OR (data_field ? $4 AND data_field->$5 = $6::jsonb))"+
			" AND ((data_field ? $7 AND data_field->$8 >= $9::jsonb) AND (data_field ? $10 AND data_field->$11 <= $12::jsonb)))",
		r.Clause)
	assert.Equal(t, []any{"n", "n", "1", "n", "n", "2", "n", "n", "0", "n", "n", "9"}, r.Params)
	requirePlaceholderParity(t, r)
}

func TestCompileGenericInequalityCoalescesTrue(t *testing.T) {
	r := testCompiler().Compile(predicate.NewWhere(predicate.F("a", predicate.Ne("x"))))

	require.True(t, r.Reduced())
	assert.Equal(t, "(coalesce(data_field->$1 <> $2::jsonb, true))", r.Clause)
	assert.Equal(t, []any{"a", `"x"`}, r.Params)
	requirePlaceholderParity(t, r)
}

func TestCompileNullEquality(t *testing.T) {
	r := testCompiler().Compile(predicate.NewWhere(predicate.F("a", predicate.Eq(nil))))

	require.True(t, r.Reduced())
	assert.Equal(t, "(data_field->$1 IS NULL OR data_field->$2 = 'null')", r.Clause)
	assert.Equal(t, []any{"a", "a"}, r.Params)
	requirePlaceholderParity(t, r)
}

func TestCompileNullInequality(t *testing.T) {
	r := testCompiler().Compile(predicate.NewWhere(predicate.F("a", predicate.Ne(nil))))

	require.True(t, r.Reduced())
	assert.Equal(t, "((data_field ? $1 AND data_field->$2 != 'null'))", r.Clause)
	assert.Equal(t, []any{"a", "a"}, r.Params)
	requirePlaceholderParity(t, r)
}

// The null-equality leaf is emitted without parentheses, so a second field
// clause joined with AND binds tighter than its OR. This locks in the
// emitted text as-is; see the template for the pending fix.
func TestCompileNullEqualityLeafIsUnparenthesized(t *testing.T) {
	p := predicate.NewWhere(
		predicate.F("a", predicate.Ne(2)),
		predicate.F("b", predicate.Eq(nil)),
	)
	r := testCompiler().Compile(p)

	require.True(t, r.Reduced())
	assert.Equal(t,
		"(coalesce(data_field->$1 <> $2::jsonb, true) AND data_field->$3 IS NULL OR data_field->$4 = 'null')",
		r.Clause)
	assert.Equal(t, []any{"a", "2", "b", "b"}, r.Params)
	requirePlaceholderParity(t, r)
}

func TestCompileTemporalComparison(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := testCompiler().Compile(predicate.NewWhere(predicate.F("created_at", predicate.Gt(ts))))

	require.True(t, r.Reduced())
	assert.Equal(t,
		`((data_field ? $1 AND to_timestamp(data_field->>$2, 'YYYY-MM-DD"T"HH24:MI:SSTZH:TZM') > $3::timestamp))`,
		r.Clause)
	assert.Equal(t, []any{"created_at", "created_at", "2024-05-01T12:00:00Z"}, r.Params)
	requirePlaceholderParity(t, r)
}

// Temporal equality must route through the timestamp cast, not jsonb
// equality: two renderings of the same instant differ as text.
func TestCompileTemporalEqualityUsesCast(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := testCompiler().Compile(predicate.NewWhere(predicate.F("created_at", predicate.Eq(ts))))

	require.True(t, r.Reduced())
	assert.Equal(t,
		`((data_field ? $1 AND to_timestamp(data_field->>$2, 'YYYY-MM-DD"T"HH24:MI:SSTZH:TZM') = $3::timestamp))`,
		r.Clause)
	assert.Equal(t, []any{"created_at", "created_at", "2024-05-01T12:00:00Z"}, r.Params)
}

func TestCompileTemporalInequalityCoalescesTrue(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := testCompiler().Compile(predicate.NewWhere(predicate.F("created_at", predicate.Ne(ts))))

	require.True(t, r.Reduced())
	assert.Equal(t,
		`(coalesce(to_timestamp(data_field->>$1, 'YYYY-MM-DD"T"HH24:MI:SSTZH:TZM') <> $2::timestamp, true))`,
		r.Clause)
	assert.Equal(t, []any{"created_at", "2024-05-01T12:00:00Z"}, r.Params)
}

func TestCompileTimestampConvertOverride(t *testing.T) {
	c := testCompiler()
	c.TimestampConvert = "fromisoformat(%s)"
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	r := c.Compile(predicate.NewWhere(predicate.F("created_at", predicate.Lt(ts))))
	assert.Equal(t,
		"((data_field ? $1 AND fromisoformat(data_field->>$2) < $3::timestamp))",
		r.Clause)
}

func TestCompileAndPreservesChildOrder(t *testing.T) {
	p := predicate.NewAnd(
		predicate.NewWhere(predicate.F("a", predicate.Eq(1))),
		predicate.NewWhere(predicate.F("b", predicate.Eq(2))),
	)
	r := testCompiler().Compile(p)

	require.True(t, r.Reduced())
	assert.Equal(t,
		"(((data_field ? $1 AND data_field->$2 = $3::jsonb)) AND ((data_field ? $4 AND data_field->$5 = $6::jsonb)))",
		r.Clause)
	assert.Equal(t, []any{"a", "a", "1", "b", "b", "2"}, r.Params)
	requirePlaceholderParity(t, r)
}

func TestCompileOrPreservesChildOrder(t *testing.T) {
	p := predicate.NewOr(
		predicate.NewWhere(predicate.F("a", predicate.Eq(1))),
		predicate.NewWhere(predicate.F("b", predicate.Eq(2))),
	)
	r := testCompiler().Compile(p)

	require.True(t, r.Reduced())
	assert.Equal(t,
		"(((data_field ? $1 AND data_field->$2 = $3::jsonb)) OR ((data_field ? $4 AND data_field->$5 = $6::jsonb)))",
		r.Clause)
	assert.Equal(t, []any{"a", "a", "1", "b", "b", "2"}, r.Params)
}

func TestCompileMixedChildrenKeepClauseAndResidual(t *testing.T) {
	p := predicate.NewAnd(
		predicate.NewIs(),
		predicate.NewWhere(predicate.F("a", predicate.Eq(1))),
	)
	r := testCompiler().Compile(p)

	assert.Equal(t, "(((data_field ? $1 AND data_field->$2 = $3::jsonb)))", r.Clause)
	assert.Equal(t, []any{"a", "a", "1"}, r.Params)
	assert.Equal(t, predicate.NewAnd(predicate.NewIs()), r.Residual)
	assert.False(t, r.Reduced())
	requirePlaceholderParity(t, r)
}

func TestCompileResidualPropagatesThroughOr(t *testing.T) {
	p := predicate.NewOr(
		predicate.NewWhere(),
		predicate.NewIs("str"),
	)
	r := testCompiler().Compile(p)

	assert.Equal(t, "(type_field IN ($1))", r.Clause)
	assert.Equal(t, []any{"str"}, r.Params)
	assert.Equal(t, predicate.NewOr(predicate.NewWhere()), r.Residual)
}

func TestCompileWhereWithManyFields(t *testing.T) {
	fields := []predicate.Field{
		predicate.F("f1", predicate.Eq(1)),
		predicate.F("f2", predicate.Eq(2)),
		predicate.F("f3", predicate.Eq(3)),
		predicate.F("f4", predicate.Eq(4)),
		predicate.F("f5", predicate.Eq(5)),
		predicate.F("f6", predicate.Eq(6)),
		predicate.F("f7", predicate.Eq(7)),
		predicate.F("f8", predicate.Eq(8)),
	}
	r := testCompiler().Compile(predicate.NewWhere(fields...))

	require.True(t, r.Reduced())
	requirePlaceholderParity(t, r)

	var want []any
	for i, f := range fields {
		want = append(want, f.Name, f.Name, strconv.Itoa(i+1))
	}
	assert.Equal(t, want, r.Params)
	// One existence test per field, AND-joined in declaration order.
	for i := 1; i < len(fields); i++ {
		a := "data_field ? $" + strconv.Itoa((i-1)*3+1)
		b := "data_field ? $" + strconv.Itoa(i*3+1)
		require.Less(t, strings.Index(r.Clause, a), strings.Index(r.Clause, b))
	}
}

func TestCompileComplexTree(t *testing.T) {
	p := predicate.NewOr(
		predicate.NewIs("int", "str", "float"),
		predicate.NewAnd(
			predicate.NewWhere(predicate.F("a", predicate.Eq(1))),
			predicate.NewWhere(predicate.F("b", predicate.Ne(2))),
			predicate.NewWhere(predicate.F("c", predicate.Lt(3))),
		),
		predicate.NewAnd(
			predicate.NewWhere(predicate.F("d", predicate.Gt(4))),
			predicate.NewWhere(predicate.F("e", predicate.Le(5))),
			predicate.NewWhere(predicate.F("f", predicate.Ge(6))),
		),
		predicate.NewWhere(
			predicate.F("g", predicate.Ge(7), predicate.Le(8)),
			predicate.F("h", predicate.Eq(9), predicate.Eq(10)),
		),
		predicate.NewAnd(predicate.NewIs(), predicate.NewWhere()),
	)
	r := testCompiler().Compile(p)

	isClause := "type_field IN ($1, $2, $3)"
	and1 := "(((data_field ? $4 AND data_field->$5 = $6::jsonb))" +
		" AND (coalesce(data_field->$7 <> $8::jsonb, true))" +
		" AND ((data_field ? $9 AND data_field->$10 < $11::jsonb)))"
	and2 := "(((data_field ? $12 AND data_field->$13 > $14::jsonb))" +
		" AND ((data_field ? $15 AND data_field->$16 <= $17::jsonb))" +
		" AND ((data_field ? $18 AND data_field->$19 >= $20::jsonb)))"
	where3 := "(((data_field ? $21 AND data_field->$22 >= $23::jsonb) AND (data_field ? $24 AND data_field->$25 <= $26::jsonb))" +
		" AND ((data_field ? $27 AND data_field->$28 = $29::jsonb) OR (data_field ? $30 AND data_field->$31 = $32::jsonb)))"

	assert.Equal(t, "("+isClause+" OR "+and1+" OR "+and2+" OR "+where3+")", r.Clause)
	assert.Equal(t, []any{
		"int", "str", "float",
		"a", "a", "1", "b", "2", "c", "c", "3",
		"d", "d", "4", "e", "e", "5", "f", "f", "6",
		"g", "g", "7", "g", "g", "8", "h", "h", "9", "h", "h", "10",
	}, r.Params)
	assert.Equal(t, predicate.NewOr(predicate.NewAnd(predicate.NewIs(), predicate.NewWhere())), r.Residual)
	requirePlaceholderParity(t, r)
}

func TestCompileIsDeterministic(t *testing.T) {
	p := predicate.NewOr(
		predicate.NewIs("TaskCreated"),
		predicate.NewWhere(predicate.F("rank", predicate.Ge(1), predicate.Le(5))),
	)
	c := testCompiler()

	first := c.Compile(p)
	second := c.Compile(p)
	assert.Equal(t, first, second)
}

func TestCompileConcurrently(t *testing.T) {
	p := predicate.NewAnd(
		predicate.NewIs("TaskCreated"),
		predicate.NewWhere(predicate.F("title", predicate.Eq("laundry"))),
	)
	c := testCompiler()
	want := c.Compile(p)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, c.Compile(p))
		}()
	}
	wg.Wait()
}

// A field whose condition list is empty, or pairs a null with an ordering
// operator, has no template; the whole node falls back to residual before
// any placeholder is emitted.
func TestCompileWhereWithUndefinedFieldIsResidual(t *testing.T) {
	for name, p := range map[string]predicate.Predicate{
		"empty conditions": predicate.NewWhere(
			predicate.F("a", predicate.Eq(1)),
			predicate.F("b"),
		),
		"null ordering": predicate.NewWhere(
			predicate.F("a", predicate.Lt(nil)),
		),
	} {
		t.Run(name, func(t *testing.T) {
			r := testCompiler().Compile(p)
			assert.Empty(t, r.Clause)
			assert.Equal(t, p, r.Residual)
		})
	}
}
