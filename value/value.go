// Package value implements the typed variant used throughout the
// dispatcher's property model: strings, signed and unsigned 32-bit
// integers, booleans, and non-owning opaque pointers for plugin-private
// annotations.
package value

import (
	"fmt"

	"github.com/bgpfix/feedbackd/json"
	"github.com/spf13/cast"
)

// Kind identifies which case a Value holds.
type Kind byte

const (
	// Invalid is the zero Kind; an empty Value holds no case.
	Invalid Kind = iota
	String
	Int
	Uint
	Bool
	Pointer
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int:
		return "int"
	case Uint:
		return "uint"
	case Bool:
		return "bool"
	case Pointer:
		return "pointer"
	default:
		return "invalid"
	}
}

// Value is a tagged variant over string, int32, uint32, bool, and an
// opaque, non-owning pointer. The zero Value is Invalid.
type Value struct {
	kind Kind
	str  string
	i    int32
	u    uint32
	b    bool
	ptr  any // non-owning; plugin-internal annotation only
}

// Empty reports whether v holds no case.
func (v Value) Empty() bool { return v.kind == Invalid }

// Kind returns which case v holds.
func (v Value) Kind() Kind { return v.kind }

// NewString returns a Value holding s.
func NewString(s string) Value { return Value{kind: String, str: s} }

// NewInt returns a Value holding a signed 32-bit integer.
func NewInt(i int32) Value { return Value{kind: Int, i: i} }

// NewUint returns a Value holding an unsigned 32-bit integer.
func NewUint(u uint32) Value { return Value{kind: Uint, u: u} }

// NewBool returns a Value holding a boolean.
func NewBool(b bool) Value { return Value{kind: Bool, b: b} }

// NewPointer returns a Value holding an opaque, non-owning pointer.
// Do not expose this case to untrusted callers; it exists only for
// plugin-internal state attached to a PropList entry.
func NewPointer(p any) Value { return Value{kind: Pointer, ptr: p} }

// Clear resets v to the zero (Invalid) Value.
func (v *Value) Clear() { *v = Value{} }

// Copy returns an independent copy of v. Strings are immutable in Go
// so this is a plain value copy; it exists to mirror the explicit
// copy/clear pair the property model is specified around.
func (v Value) Copy() Value { return v }

// Str returns the string case and whether v holds one.
func (v Value) Str() (string, bool) {
	if v.kind != String {
		return "", false
	}
	return v.str, true
}

// Int returns the signed int case and whether v holds one.
func (v Value) Int() (int32, bool) {
	if v.kind != Int {
		return 0, false
	}
	return v.i, true
}

// Uint returns the unsigned int case and whether v holds one.
func (v Value) Uint() (uint32, bool) {
	if v.kind != Uint {
		return 0, false
	}
	return v.u, true
}

// Bool returns the bool case and whether v holds one.
func (v Value) Bool() (bool, bool) {
	if v.kind != Bool {
		return false, false
	}
	return v.b, true
}

// Pointer returns the opaque pointer case and whether v holds one.
func (v Value) Pointer() (any, bool) {
	if v.kind != Pointer {
		return nil, false
	}
	return v.ptr, true
}

// Equal compares a and b by tag and contents. Strings are compared
// byte-wise; pointers are compared by identity (==).
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Invalid:
		return true
	case String:
		return a.str == b.str
	case Int:
		return a.i == b.i
	case Uint:
		return a.u == b.u
	case Bool:
		return a.b == b.b
	case Pointer:
		return a.ptr == b.ptr
	default:
		return false
	}
}

// String returns a debug representation, eg. `(string) "loud"`.
func (v Value) String() string {
	switch v.kind {
	case String:
		return fmt.Sprintf("(string) %q", v.str)
	case Int:
		return fmt.Sprintf("(int) %d", v.i)
	case Uint:
		return fmt.Sprintf("(uint) %d", v.u)
	case Bool:
		return fmt.Sprintf("(bool) %t", v.b)
	case Pointer:
		return fmt.Sprintf("(pointer) %p", v.ptr)
	default:
		return "(invalid)"
	}
}

// ToJSON appends the JSON representation of v to dst. Pointer values
// marshal to null: they are a plugin-internal extension, never meant
// to cross a wire boundary.
func (v Value) ToJSON(dst []byte) []byte {
	switch v.kind {
	case String:
		return json.Str(dst, v.str)
	case Int:
		return json.I32(dst, v.i)
	case Uint:
		return json.U32(dst, v.u)
	case Bool:
		return json.Bool(dst, v.b)
	default:
		return append(dst, `null`...)
	}
}

// FromAny coerces an arbitrary scalar (as produced by a YAML or JSON
// decoder) into a Value. Strings, all built-in integer and float
// kinds, and bools are accepted; anything else is wrapped as an opaque
// Pointer. Numeric coercion goes through spf13/cast so that integer
// and whole-number float config values (8080, 8080.0) both land as
// Int; a float with a fractional part becomes its String form, and a
// string such as "8080" stays a String.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{}
	case string:
		return NewString(t)
	case bool:
		return NewBool(t)
	case Value:
		return t
	}

	switch v.(type) {
	case int, int8, int16, int32, int64:
		i, err := cast.ToInt32E(v)
		if err == nil {
			return NewInt(i)
		}
	case uint, uint8, uint16, uint32, uint64:
		u, err := cast.ToUint32E(v)
		if err == nil {
			return NewUint(u)
		}
	case float32, float64:
		// config numbers decode as float64 by default; prefer int
		// unless the value has a fractional part.
		f, err := cast.ToFloat64E(v)
		if err == nil && f == float64(int32(f)) {
			return NewInt(int32(f))
		} else if err == nil {
			return NewString(cast.ToString(v))
		}
	}

	return NewPointer(v)
}
