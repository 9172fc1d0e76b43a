// Package jsondiff implements the structural diff/patch/transform algebra:
// pure functions over JSON-shaped values with no knowledge of buckets,
// channels, or the network. Everything here is deterministic and
// side-effect free.
package jsondiff

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind tags the variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a tagged variant holding exactly one JSON shape: null, bool,
// number, string, an ordered list of Values, or a string-keyed mapping.
type Value struct {
	Kind Kind
	Bool bool
	Num  float64
	Str  string
	List []Value
	Obj  map[string]Value
}

func Null() Value               { return Value{Kind: KindNull} }
func Bool(b bool) Value         { return Value{Kind: KindBool, Bool: b} }
func Number(n float64) Value    { return Value{Kind: KindNumber, Num: n} }
func String(s string) Value     { return Value{Kind: KindString, Str: s} }
func List(vs ...Value) Value    { return Value{Kind: KindList, List: vs} }
func Object(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{Kind: KindObject, Obj: m}
}

// IsObject reports whether v holds a mapping, as required of a
// BucketObject's top-level data.
func (v Value) IsObject() bool { return v.Kind == KindObject }

// FromNative converts a value produced by encoding/json's default decoding
// (nil, bool, float64, string, []interface{}, map[string]interface{}) into
// a Value.
func FromNative(n interface{}) Value {
	switch t := n.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case json.Number:
		f, _ := t.Float64()
		return Number(f)
	case string:
		return String(t)
	case []interface{}:
		list := make([]Value, len(t))
		for i, e := range t {
			list[i] = FromNative(e)
		}
		return Value{Kind: KindList, List: list}
	case map[string]interface{}:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			obj[k] = FromNative(e)
		}
		return Object(obj)
	default:
		panic(fmt.Sprintf("jsondiff: unsupported native type %T", n))
	}
}

// ToNative is the inverse of FromNative, producing the shapes
// encoding/json expects to marshal.
func (v Value) ToNative() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindList:
		out := make([]interface{}, len(v.List))
		for i, e := range v.List {
			out[i] = e.ToNative()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.Obj))
		for k, e := range v.Obj {
			out[k] = e.ToNative()
		}
		return out
	default:
		panic("jsondiff: unreachable kind")
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToNative())
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var native interface{}
	if err := json.Unmarshal(b, &native); err != nil {
		return err
	}
	*v = FromNative(native)
	return nil
}

// Clone deep-copies v.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindList:
		list := make([]Value, len(v.List))
		for i, e := range v.List {
			list[i] = e.Clone()
		}
		return Value{Kind: KindList, List: list}
	case KindObject:
		obj := make(map[string]Value, len(v.Obj))
		for k, e := range v.Obj {
			obj[k] = e.Clone()
		}
		return Object(obj)
	default:
		return v
	}
}

// Equal reports structural equality.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindNumber:
		return v.Num == o.Num
	case KindString:
		return v.Str == o.Str
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.Obj) != len(o.Obj) {
			return false
		}
		for k, e := range v.Obj {
			oe, ok := o.Obj[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// objectKeys returns the keys of an object Value in canonical
// (lexicographic) order, as required by the determinism rule in §4.1.
func objectKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sortedUnion returns the sorted union of two key sets.
func sortedUnion(a, b map[string]Value) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))
	for _, m := range []map[string]Value{a, b} {
		for k := range m {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}
