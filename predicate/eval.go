package predicate

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Matches evaluates a predicate against a stored document, given its type
// name and raw JSON payload. Semantics line up with the compiled SQL
// templates so that a residual predicate applied in memory filters exactly
// like its SQL counterpart would have:
//
//   - a generic ne condition holds when the key is absent;
//   - generic eq and ordering conditions require the key to be present;
//   - an eq-null condition accepts both an absent key and an explicit JSON
//     null, while ne-null requires a present, non-null value.
func Matches(p Predicate, docType string, data []byte) bool {
	switch p := p.(type) {
	case Is:
		for _, t := range p.Types {
			if t == docType {
				return true
			}
		}
		return false
	case *Is:
		return Matches(*p, docType, data)
	case And:
		for _, child := range p.Preds {
			if !Matches(child, docType, data) {
				return false
			}
		}
		return true
	case *And:
		return Matches(*p, docType, data)
	case Or:
		for _, child := range p.Alts {
			if Matches(child, docType, data) {
				return true
			}
		}
		return false
	case *Or:
		return Matches(*p, docType, data)
	case Where:
		for _, f := range p.Fields {
			res := gjson.GetBytes(data, literalPath(f.Name))
			for _, c := range f.Conds {
				if !matchCondition(res, c) {
					return false
				}
			}
		}
		return true
	case *Where:
		return Matches(*p, docType, data)
	default:
		return false
	}
}

// literalPath escapes gjson path syntax so a field name is looked up as a
// verbatim top-level key, matching the SQL templates where the name is a
// plain jsonb key operand.
func literalPath(name string) string {
	if !strings.ContainsAny(name, `.*?|#@\`) {
		return name
	}
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func matchCondition(res gjson.Result, c Condition) bool {
	switch KindOf(c.Value) {
	case KindNull:
		switch c.Op {
		case OpEq:
			return !res.Exists() || res.Type == gjson.Null
		case OpNe:
			return res.Exists() && res.Type != gjson.Null
		default:
			return false
		}
	case KindTime:
		return matchTime(res, c.Op, c.Value.(time.Time))
	default:
		return matchGeneric(res, c.Op, c.Value)
	}
}

func matchTime(res gjson.Result, op Op, want time.Time) bool {
	if !res.Exists() || res.Type != gjson.String {
		return op == OpNe
	}
	got, err := time.Parse(time.RFC3339, res.String())
	if err != nil {
		return op == OpNe
	}
	return holds(op, got.Compare(want))
}

func matchGeneric(res gjson.Result, op Op, want any) bool {
	if !res.Exists() {
		return op == OpNe
	}
	switch want := want.(type) {
	case bool:
		if res.Type != gjson.True && res.Type != gjson.False {
			return op == OpNe
		}
		switch op {
		case OpEq:
			return res.Bool() == want
		case OpNe:
			return res.Bool() != want
		default:
			return false
		}
	case string:
		if res.Type != gjson.String {
			return op == OpNe
		}
		return holds(op, compareStrings(res.String(), want))
	default:
		f, ok := toFloat(want)
		if !ok {
			// Unknown scalar kinds never match; they are a construction
			// error in the layer that built the tree.
			return op == OpNe
		}
		if res.Type != gjson.Number {
			return op == OpNe
		}
		return holds(op, compareFloats(res.Num, f))
	}
}

func holds(op Op, cmp int) bool {
	switch op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	default:
		return false
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
