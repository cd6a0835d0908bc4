// Package models defines the values produced by a scrape run.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindText Kind = iota
	KindNumber
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is an extracted value: text, number, boolean, an ordered list of
// values or a mapping of field name to value. The zero Value is empty text.
type Value struct {
	kind    Kind
	text    string
	number  float64
	boolean bool
	items   []Value
	fields  map[string]Value
}

// Text returns a text value.
func Text(s string) Value {
	return Value{kind: KindText, text: s}
}

// Number returns a numeric value.
func Number(n float64) Value {
	return Value{kind: KindNumber, number: n}
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	return Value{kind: KindBool, boolean: b}
}

// List returns an ordered sequence of values.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, items: items}
}

// Map returns a mapping value. A nil map is treated as empty.
func Map(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindMap, fields: fields}
}

func (v Value) Kind() Kind { return v.kind }

// Str returns the text payload and whether v is text.
func (v Value) Str() (string, bool) {
	return v.text, v.kind == KindText
}

// Float returns the numeric payload and whether v is a number.
func (v Value) Float() (float64, bool) {
	return v.number, v.kind == KindNumber
}

// Boolean returns the boolean payload and whether v is a boolean.
func (v Value) Boolean() (bool, bool) {
	return v.boolean, v.kind == KindBool
}

// Items returns the elements of a list value, nil for other kinds.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.items
}

// Fields returns the entries of a map value, nil for other kinds.
func (v Value) Fields() map[string]Value {
	if v.kind != KindMap {
		return nil
	}
	return v.fields
}

// Get returns a field of a map value, or empty text when absent.
func (v Value) Get(name string) Value {
	field, _ := v.Lookup(name)
	return field
}

// Lookup looks up a field of a map value.
func (v Value) Lookup(name string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	field, ok := v.fields[name]
	return field, ok
}

// IsEmpty reports whether v carries no data. Numbers and booleans always
// carry data; a map is empty when every field is empty.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNumber, KindBool:
		return false
	case KindList:
		return len(v.items) == 0
	case KindMap:
		for _, field := range v.fields {
			if !field.IsEmpty() {
				return false
			}
		}
		return true
	default:
		return v.text == ""
	}
}

// Interface converts v into plain Go values (string, float64, bool,
// []any, map[string]any).
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.number
	case KindBool:
		return v.boolean
	case KindList:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.fields))
		for name, field := range v.fields {
			out[name] = field.Interface()
		}
		return out
	default:
		return v.text
	}
}

// String renders scalars as plain text and containers as JSON.
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindNumber:
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.boolean)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// MarshalJSON encodes v as the matching JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.number)
	case KindBool:
		return json.Marshal(v.boolean)
	case KindList:
		if v.items == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.items)
	case KindMap:
		if v.fields == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.fields)
	default:
		return json.Marshal(v.text)
	}
}

// Equal reports deep equality, used by go-cmp in tests.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.number == other.number
	case KindBool:
		return v.boolean == other.boolean
	case KindList:
		if len(v.items) != len(other.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.fields) != len(other.fields) {
			return false
		}
		for name, field := range v.fields {
			o, ok := other.fields[name]
			if !ok || !field.Equal(o) {
				return false
			}
		}
		return true
	default:
		return v.text == other.text
	}
}
