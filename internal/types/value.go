// Package types defines the closed value-shape representation that flows
// through the ingestion core: every JSON record is decoded once into this
// sum type so downstream packages (normalize, detect, pipeline) switch over
// a known-closed set of concrete shapes instead of re-inspecting raw
// interface{} values at every layer.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind identifies which concrete shape a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	default:
		return "unknown"
	}
}

// Value is the sealed interface implemented by the seven concrete shapes a
// decoded JSON value can take. The interface is closed to this package: only
// Null, Bool, Int, Float, String, List, and Dict implement it.
type Value interface {
	Kind() Kind
	sealed()
}

// Null represents a JSON null.
type Null struct{}

func (Null) Kind() Kind { return KindNull }
func (Null) sealed()    {}

// Bool represents a JSON boolean.
type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (Bool) sealed()    {}

// Int represents a JSON number with no fractional or exponent part.
type Int int64

func (Int) Kind() Kind { return KindInt }
func (Int) sealed()    {}

// Float represents a JSON number with a fractional or exponent part.
type Float float64

func (Float) Kind() Kind { return KindFloat }
func (Float) sealed()    {}

// String represents a JSON string.
type String string

func (String) Kind() Kind { return KindString }
func (String) sealed()    {}

// List represents a JSON array. Elements are never flattened by the
// pipeline; the whole array is treated as one leaf value.
type List []Value

func (List) Kind() Kind { return KindList }
func (List) sealed()    {}

// Dict represents a JSON object.
type Dict map[string]Value

func (Dict) Kind() Kind { return KindDict }
func (Dict) sealed()    {}

// FromJSON decodes a single JSON document into a Value, preserving the
// int/float distinction via json.Number rather than collapsing every number
// to float64 the way a plain json.Unmarshal into interface{} would.
func FromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("types: decode json: %w", err)
	}
	return FromRaw(raw), nil
}

// FromRaw converts a value produced by encoding/json (with UseNumber
// enabled) into the closed Value sum type.
func FromRaw(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Null{}
	case bool:
		return Bool(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Int(i)
		}
		f, _ := v.Float64()
		return Float(f)
	case float64:
		return Float(v)
	case string:
		return String(v)
	case []any:
		list := make(List, len(v))
		for i, e := range v {
			list[i] = FromRaw(e)
		}
		return list
	case map[string]any:
		dict := make(Dict, len(v))
		for k, e := range v {
			dict[k] = FromRaw(e)
		}
		return dict
	default:
		return Null{}
	}
}

// ToNative converts a Value back into plain Go values (nil, bool, int64,
// float64, string, []any, map[string]any) suitable for handing to a SQL
// driver's query args or a bson marshaler.
func ToNative(v Value) any {
	switch val := v.(type) {
	case nil:
		return nil
	case Null:
		return nil
	case Bool:
		return bool(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case String:
		return string(val)
	case List:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = ToNative(e)
		}
		return out
	case Dict:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = ToNative(e)
		}
		return out
	default:
		return nil
	}
}

// Stringify returns a short human-readable rendering of v, used for sample
// value capture in the metadata store.
func Stringify(v Value) string {
	switch val := v.(type) {
	case Null:
		return "None"
	case Bool:
		if val {
			return "True"
		}
		return "False"
	case Int:
		return fmt.Sprintf("%d", int64(val))
	case Float:
		return fmt.Sprintf("%g", float64(val))
	case String:
		return string(val)
	default:
		b, err := json.Marshal(ToNative(v))
		if err != nil {
			return fmt.Sprintf("%v", ToNative(v))
		}
		return string(b)
	}
}
