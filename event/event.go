// Package event implements the event catalog: named, rule-matched
// templates of properties applied to requests. Resolution walks a
// per-name group of events, most specific (largest rule set) first,
// the same head-to-tail "most specific wins" scan the teacher's
// pipe/event.go attachEvent/sort does for callback ordering (Pre
// before normal before Post, then Order ascending) — here the sort key
// is rule-set size instead of Pre/Post/Order, but the shape (append,
// stable-sort the group, scan in order, first match wins) is the same.
package event

import (
	"sort"
	"strings"

	"github.com/bgpfix/feedbackd/ctxstore"
	"github.com/bgpfix/feedbackd/proplist"
	"github.com/bgpfix/feedbackd/value"
)

// ContextPrefix marks a rule key as naming a context variable instead
// of a request property.
const ContextPrefix = "context@"

// Wildcard is the rule value that only requires presence of the key,
// without comparing its value.
const Wildcard = "*"

// Event is an immutable (after catalog construction) named template:
// match rules plus the properties it contributes once matched.
type Event struct {
	Name       string
	Rules      *proplist.PropList
	Properties *proplist.PropList
}

// newEvent returns an Event with non-nil Rules/Properties.
func newEvent(name string, rules, props *proplist.PropList) *Event {
	if rules == nil {
		rules = proplist.New()
	}
	if props == nil {
		props = proplist.New()
	}
	return &Event{Name: name, Rules: rules, Properties: props}
}

// New constructs an Event ready to be passed to Catalog.Add.
func New(name string, rules, props *proplist.PropList) *Event {
	return newEvent(name, rules, props)
}

// Catalog groups events by name, each group sorted by descending
// rule-set size (most specific first).
type Catalog struct {
	groups map[string][]*Event
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{groups: make(map[string][]*Event)}
}

// Add inserts e into its name group. If an existing event in the group
// has an identical rule set (same keys, equal values), e's properties
// are merged into the stored event's properties (e's properties win on
// key conflict) and e itself is discarded. Otherwise e is appended and
// the group is re-sorted by descending rule-set size, ties preserving
// insertion order (stable sort).
func (c *Catalog) Add(e *Event) {
	group := c.groups[e.Name]
	for _, existing := range group {
		if existing.Rules.Exact(e.Rules) {
			existing.Properties.Merge(e.Properties)
			return
		}
	}

	group = append(group, e)
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].Rules.Size() > group[j].Rules.Size()
	})
	c.groups[e.Name] = group
}

// Group returns the events registered under name, most specific first.
// The returned slice must not be mutated by the caller.
func (c *Catalog) Group(name string) []*Event {
	return c.groups[name]
}

// Evaluate resolves name against props (the request's own properties)
// and store (the context store), scanning the name's group head to
// tail, and returns the first Event whose rules are fully satisfied.
// It returns nil if no event matches, or if name has no group.
//
// The request type itself is deliberately not a parameter here: event
// cannot import the request package without creating an import cycle
// (a Request embeds a bound *Event), so resolution takes the request's
// properties decomposed into plain arguments instead.
func (c *Catalog) Evaluate(name string, props *proplist.PropList, store *ctxstore.Store) *Event {
	for _, e := range c.groups[name] {
		if ruleMatch(e.Rules, props, store) {
			return e
		}
	}
	return nil
}

// ruleMatch reports whether every rule in rules is satisfied by props
// and store.
func ruleMatch(rules *proplist.PropList, props *proplist.PropList, store *ctxstore.Store) bool {
	if rules.Size() == 0 {
		return true // the default event: no conditions to fail
	}

	matched := true
	rules.Each(func(key string, want value.Value) {
		if !matched {
			return
		}

		var (
			got   value.Value
			found bool
		)
		if ctxKey, ok := strings.CutPrefix(key, ContextPrefix); ok {
			got, found = store.Get(ctxKey)
		} else {
			got, found = props.Get(key)
		}
		if !found {
			matched = false
			return
		}

		if wantStr, isStr := want.Str(); isStr && wantStr == Wildcard {
			return // presence was enough
		}
		if !value.Equal(want, got) {
			matched = false
		}
	})
	return matched
}
