// Package model defines the wire data types shared across the daemon:
// the typed attribute value, raw and enriched element shapes, sections,
// snapshots, events and the JSON-RPC envelope.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is a tagged sum type for AX attribute values and event details.
// Int and Bool are distinct variants both at rest and on the wire: Go's
// encoding/json would otherwise decode a bare JSON number into float64 and
// lose the int/bool distinction entirely, so Value carries its own kind tag.
type Value struct {
	kind  valueKind
	b     bool
	i     int64
	f     float64
	s     string
	arr   []Value
	m     *OrderedMap
}

type valueKind int

const (
	kindNull valueKind = iota
	kindBool
	kindInt
	kindFloat
	kindString
	kindArray
	kindMap
)

func Null() Value                { return Value{kind: kindNull} }
func Bool(b bool) Value          { return Value{kind: kindBool, b: b} }
func Int(i int64) Value          { return Value{kind: kindInt, i: i} }
func Float(f float64) Value      { return Value{kind: kindFloat, f: f} }
func Str(s string) Value         { return Value{kind: kindString, s: s} }
func Array(vs []Value) Value     { return Value{kind: kindArray, arr: vs} }
func Map(m *OrderedMap) Value    { return Value{kind: kindMap, m: m} }

func (v Value) IsNull() bool { return v.kind == kindNull }

func (v Value) Bool() (bool, bool)       { return v.b, v.kind == kindBool }
func (v Value) Int() (int64, bool)       { return v.i, v.kind == kindInt }
func (v Value) Float() (float64, bool)   { return v.f, v.kind == kindFloat }
func (v Value) String() (string, bool)   { return v.s, v.kind == kindString }
func (v Value) Slice() ([]Value, bool)   { return v.arr, v.kind == kindArray }
func (v Value) Object() (*OrderedMap, bool) { return v.m, v.kind == kindMap }

// MarshalJSON encodes the variant currently held, preserving the int/bool
// distinction that a plain interface{} round-trip through float64 would lose.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindNull:
		return []byte("null"), nil
	case kindBool:
		return json.Marshal(v.b)
	case kindInt:
		return json.Marshal(v.i)
	case kindFloat:
		return json.Marshal(v.f)
	case kindString:
		return json.Marshal(v.s)
	case kindArray:
		return json.Marshal(v.arr)
	case kindMap:
		return v.m.MarshalJSON()
	default:
		return nil, fmt.Errorf("model: unknown Value kind %d", v.kind)
	}
}

// UnmarshalJSON decodes a JSON value, using json.Number to distinguish an
// integer literal from a float literal and recognising true/false as Bool.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromAny(raw)
	return nil
}

func fromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		f, _ := t.Float64()
		return Float(f)
	case string:
		return Str(t)
	case []any:
		out := make([]Value, len(t))
		for i, item := range t {
			out[i] = fromAny(item)
		}
		return Array(out)
	case map[string]any:
		om := NewOrderedMap()
		for k, item := range t {
			om.Set(k, fromAny(item))
		}
		return Map(om)
	default:
		return Null()
	}
}

