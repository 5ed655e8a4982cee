// Package proplist implements an ordered string-keyed map of
// value.Value: the property list used for event rules, event
// properties, request properties, and plugin parameters throughout the
// dispatcher.
//
// Iteration order is insertion order, the same "ordered slice backing
// a lookup map" shape the teacher uses for its handler/callback
// registries (pipe/event.go's p.events, pipe/options.go's Options.Handlers).
package proplist

import (
	"github.com/bgpfix/feedbackd/json"
	"github.com/bgpfix/feedbackd/value"
)

// PropList maps string keys to value.Value, preserving insertion order.
// The zero PropList is ready to use.
type PropList struct {
	keys []string
	vals map[string]value.Value
}

// New returns an empty PropList.
func New() *PropList {
	return &PropList{vals: make(map[string]value.Value)}
}

func (pl *PropList) init() {
	if pl.vals == nil {
		pl.vals = make(map[string]value.Value)
	}
}

// Set inserts key=val, or replaces the value if key is already present.
// Replacing a value does not change its position in iteration order.
func (pl *PropList) Set(key string, val value.Value) {
	pl.init()
	if _, ok := pl.vals[key]; !ok {
		pl.keys = append(pl.keys, key)
	}
	pl.vals[key] = val
}

// Unset removes key, if present.
func (pl *PropList) Unset(key string) {
	if _, ok := pl.vals[key]; !ok {
		return
	}
	delete(pl.vals, key)
	for i, k := range pl.keys {
		if k == key {
			pl.keys = append(pl.keys[:i], pl.keys[i+1:]...)
			break
		}
	}
}

// Get returns the value for key and whether it was present.
func (pl *PropList) Get(key string) (value.Value, bool) {
	if pl == nil || pl.vals == nil {
		return value.Value{}, false
	}
	v, ok := pl.vals[key]
	return v, ok
}

// Has reports whether key is present.
func (pl *PropList) Has(key string) bool {
	_, ok := pl.Get(key)
	return ok
}

// Size returns the number of entries.
func (pl *PropList) Size() int {
	if pl == nil {
		return 0
	}
	return len(pl.keys)
}

// Keys returns the keys in insertion order. The returned slice must
// not be mutated by the caller.
func (pl *PropList) Keys() []string {
	if pl == nil {
		return nil
	}
	return pl.keys
}

// Each calls fn for every entry in insertion order. fn must not mutate
// pl; take a Copy first if structural mutation during iteration is
// needed.
func (pl *PropList) Each(fn func(key string, val value.Value)) {
	if pl == nil {
		return
	}
	for _, k := range pl.keys {
		fn(k, pl.vals[k])
	}
}

// Copy returns a deep (structurally independent) copy of pl.
func (pl *PropList) Copy() *PropList {
	out := New()
	pl.Each(func(k string, v value.Value) {
		out.Set(k, v.Copy())
	})
	return out
}

// FilteredCopy returns a copy of pl containing only keys for which
// keep returns true.
func (pl *PropList) FilteredCopy(keep func(key string) bool) *PropList {
	out := New()
	pl.Each(func(k string, v value.Value) {
		if keep(k) {
			out.Set(k, v.Copy())
		}
	})
	return out
}

// Merge overwrites entries in pl with every entry from src; src wins
// on key conflicts. New keys are appended in src's iteration order.
func (pl *PropList) Merge(src *PropList) {
	pl.init()
	src.Each(func(k string, v value.Value) {
		pl.Set(k, v.Copy())
	})
}

// FilteredMerge is Merge restricted to keys for which keep returns true.
func (pl *PropList) FilteredMerge(src *PropList, keep func(key string) bool) {
	pl.init()
	src.Each(func(k string, v value.Value) {
		if keep(k) {
			pl.Set(k, v.Copy())
		}
	})
}

// Exact reports whether pl and other have an identical key set and
// equal values for every key.
func (pl *PropList) Exact(other *PropList) bool {
	if pl.Size() != other.Size() {
		return false
	}
	equal := true
	pl.Each(func(k string, v value.Value) {
		ov, ok := other.Get(k)
		if !ok || !value.Equal(v, ov) {
			equal = false
		}
	})
	return equal
}

// ToJSON appends a JSON object representation of pl to dst, in
// insertion order.
func (pl *PropList) ToJSON(dst []byte) []byte {
	dst = append(dst, '{')
	first := true
	pl.Each(func(k string, v value.Value) {
		if !first {
			dst = append(dst, ',')
		}
		first = false
		dst = appendJSONKey(dst, k)
		dst = append(dst, ':')
		dst = v.ToJSON(dst)
	})
	return append(dst, '}')
}

func appendJSONKey(dst []byte, key string) []byte {
	dst = append(dst, '"')
	dst = append(dst, key...)
	return append(dst, '"')
}

// FromJSON decodes a single flat JSON object (as a client-submitted
// request's properties arrive) into a PropList, using json.ObjectEach
// to walk the object without a full unmarshal.
func FromJSON(data []byte) (*PropList, error) {
	pl := New()
	err := json.ObjectEach(data, func(key, val []byte) error {
		pl.Set(string(key), decodeScalar(val))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pl, nil
}

// ManyFromJSON decodes a JSON array of flat objects, eg. a batch of
// requests submitted together, into one PropList per element, using
// json.ArrayEach over the outer array and FromJSON for each element.
func ManyFromJSON(data []byte) ([]*PropList, error) {
	var out []*PropList
	err := json.ArrayEach(data, func(val []byte) error {
		pl, err := FromJSON(val)
		if err != nil {
			return err
		}
		out = append(out, pl)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// decodeScalar sniffs the JSON value kind from its leading byte and
// parses it through the matching json.Un* helper, landing on the same
// five value.Value cases FromAny coerces YAML scalars into.
func decodeScalar(raw []byte) value.Value {
	if len(raw) == 0 {
		return value.Value{}
	}
	switch raw[0] {
	case '"':
		return value.NewString(json.SQ(raw))
	case 't', 'f':
		if b, err := json.UnBool(raw); err == nil {
			return value.NewBool(b)
		}
	default:
		if i, err := json.UnI32(raw); err == nil {
			return value.NewInt(i)
		}
		if u, err := json.UnU32(raw); err == nil {
			return value.NewUint(u)
		}
	}
	return value.NewString(json.S(raw))
}
