package predicate

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Wire form:
//
//	{"is": ["TaskCreated", "TaskCompleted"]}
//	{"where": {"title": [{"eq": "laundry"}], "rank": [{"ge": 1}, {"le": 5}]}}
//	{"and": [ ... ]}  /  {"or": [ ... ]}
//
// Field order inside a where object is significant and is preserved on both
// encode and decode, which is why decoding walks the token stream instead of
// unmarshalling into a map.

// MarshalJSON renders the node as {"is": [...]}.
func (p Is) MarshalJSON() ([]byte, error) {
	return marshalKeyed("is", sliceOrEmpty(p.Types))
}

// MarshalJSON renders the node as {"and": [...]}.
func (p And) MarshalJSON() ([]byte, error) {
	return marshalKeyed("and", predsOrEmpty(p.Preds))
}

// MarshalJSON renders the node as {"or": [...]}.
func (p Or) MarshalJSON() ([]byte, error) {
	return marshalKeyed("or", predsOrEmpty(p.Alts))
}

// MarshalJSON renders the node as {"where": {...}} with fields in order.
func (p Where) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"where":{`)
	for i, f := range p.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		conds, err := json.Marshal(sliceOrEmpty(f.Conds))
		if err != nil {
			return nil, err
		}
		buf.Write(conds)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// MarshalJSON renders the condition as {"<op>": value}.
func (c Condition) MarshalJSON() ([]byte, error) {
	return marshalKeyed(string(c.Op), c.Value)
}

func (p Is) String() string    { return renderString(p) }
func (p Where) String() string { return renderString(p) }
func (p And) String() string   { return renderString(p) }
func (p Or) String() string    { return renderString(p) }

func renderString(p Predicate) string {
	b, err := json.Marshal(p)
	if err != nil {
		return "<invalid predicate>"
	}
	return string(b)
}

func marshalKeyed(key string, value any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	k, err := json.Marshal(key)
	if err != nil {
		return nil, err
	}
	buf.Write(k)
	buf.WriteByte(':')
	v, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	buf.Write(v)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func sliceOrEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func predsOrEmpty(s []Predicate) []Predicate {
	if s == nil {
		return []Predicate{}
	}
	return s
}

// Parse decodes the wire form of a predicate tree.
func Parse(data []byte) (Predicate, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return parsePredicate(dec)
}

func parsePredicate(dec *json.Decoder) (Predicate, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read predicate kind: %w", err)
	}
	key, ok := tok.(string)
	if !ok {
		return nil, fmt.Errorf("predicate object must have a single string key, got %v", tok)
	}

	var p Predicate
	switch key {
	case "is":
		var types []string
		if err := dec.Decode(&types); err != nil {
			return nil, fmt.Errorf("decode type names: %w", err)
		}
		p = NewIs(types...)
	case "and", "or":
		children, err := parseChildren(dec)
		if err != nil {
			return nil, err
		}
		if key == "and" {
			p = NewAnd(children...)
		} else {
			p = NewOr(children...)
		}
	case "where":
		fields, err := parseFields(dec)
		if err != nil {
			return nil, err
		}
		p = NewWhere(fields...)
	default:
		return nil, fmt.Errorf("unknown predicate kind %q", key)
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return p, nil
}

func parseChildren(dec *json.Decoder) ([]Predicate, error) {
	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}
	var children []Predicate
	for dec.More() {
		child, err := parsePredicate(dec)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, expectDelim(dec, ']')
}

func parseFields(dec *json.Decoder) ([]Field, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	var fields []Field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read field name: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("field name must be a string, got %v", tok)
		}
		conds, err := parseConditions(dec)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields = append(fields, Field{Name: name, Conds: conds})
	}
	return fields, expectDelim(dec, '}')
}

func parseConditions(dec *json.Decoder) ([]Condition, error) {
	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}
	var conds []Condition
	for dec.More() {
		cond, err := parseCondition(dec)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return conds, expectDelim(dec, ']')
}

func parseCondition(dec *json.Decoder) (Condition, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return Condition{}, err
	}
	tok, err := dec.Token()
	if err != nil {
		return Condition{}, fmt.Errorf("read operator: %w", err)
	}
	name, ok := tok.(string)
	if !ok {
		return Condition{}, fmt.Errorf("operator must be a string, got %v", tok)
	}
	op, err := opFromString(name)
	if err != nil {
		return Condition{}, err
	}
	value, err := parseValue(dec)
	if err != nil {
		return Condition{}, err
	}
	return Condition{Op: op, Value: value}, expectDelim(dec, '}')
}

func parseValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read condition value: %w", err)
	}
	switch v := tok.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case bool:
		return v, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", v.String(), err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("condition value must be a scalar, got %v", tok)
	}
}

func opFromString(name string) (Op, error) {
	switch op := Op(name); op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operator %q", name)
	}
}

func expectDelim(dec *json.Decoder, want rune) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read %q: %w", want, err)
	}
	if delim, ok := tok.(json.Delim); !ok || rune(delim) != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
