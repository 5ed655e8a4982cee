// Package config loads the event catalog and plugin parameter files
// from YAML, grounded on ManuGH-xg2g/internal/config's FileConfig
// pattern of yaml.v3 struct tags over a typed Go shape, adapted here
// to the dispatcher's rules/properties schema instead of a service's
// settings tree.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/bgpfix/feedbackd/event"
	"github.com/bgpfix/feedbackd/proplist"
	"github.com/bgpfix/feedbackd/value"
)

var (
	ErrParentCycle  = errors.New("config: @parent cycle detected")
	ErrUnknownParent = errors.New("config: unknown @parent reference")
)

// RawEvent is the on-disk shape of one event definition, before rule
// keys are split into request-property vs context-variable lookups
// and property values are coerced into value.Value.
type RawEvent struct {
	Name       string         `yaml:"name"`
	Parent     string         `yaml:"parent,omitempty"`
	Rules      map[string]string `yaml:"rules,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty"`
}

type rawFile struct {
	Events []RawEvent `yaml:"events"`
}

// LoadEventFile parses a single YAML event-catalog file.
func LoadEventFile(path string) ([]RawEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var rf rawFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return rf.Events, nil
}

// LoadEventDir parses every *.yaml/*.yml file in dir (non-recursive)
// and concatenates their events, in filename-sorted order for
// deterministic catalog construction.
func LoadEventDir(dir string) ([]RawEvent, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("config: read dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var all []RawEvent
	for _, name := range names {
		evs, err := LoadEventFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		all = append(all, evs...)
	}
	return all, nil
}

// resolver resolves @parent property inheritance across a set of raw
// events, detecting cycles with a visited set the way a DAG walk over
// any other parent-chain would (pipe's attachEvent walks its own
// handler slice rather than a graph, but the visited-set-over-
// recursive-resolve shape here is the same defensive pattern called
// for by a cycle-bearing hierarchy).
type resolver struct {
	// byName maps an event name to the first raw event declared under
	// it; only that first occurrence is a valid @parent target. A
	// name may still appear more than once in raws with different
	// rule sets for catalog grouping purposes — those later entries
	// are never themselves resolvable as someone else's parent.
	byName    map[string]*RawEvent
	resolved  map[*RawEvent]*proplist.PropList
	resolving map[*RawEvent]bool
}

func newResolver(raws []RawEvent) *resolver {
	r := &resolver{
		byName:    make(map[string]*RawEvent),
		resolved:  make(map[*RawEvent]*proplist.PropList),
		resolving: make(map[*RawEvent]bool),
	}
	for i := range raws {
		if _, ok := r.byName[raws[i].Name]; !ok {
			r.byName[raws[i].Name] = &raws[i]
		}
	}
	return r
}

func (r *resolver) resolve(raw *RawEvent) (*proplist.PropList, error) {
	if pl, ok := r.resolved[raw]; ok {
		return pl, nil
	}
	if r.resolving[raw] {
		return nil, fmt.Errorf("%w: %s", ErrParentCycle, raw.Name)
	}
	r.resolving[raw] = true
	defer delete(r.resolving, raw)

	pl := proplist.New()
	if raw.Parent != "" {
		parent, ok := r.byName[raw.Parent]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParent, raw.Parent)
		}
		parentPL, err := r.resolve(parent)
		if err != nil {
			return nil, err
		}
		pl.Merge(parentPL)
	}

	own := proplist.New()
	for k, v := range raw.Properties {
		own.Set(k, value.FromAny(v))
	}
	pl.Merge(own) // this group overrides the parent

	r.resolved[raw] = pl
	return pl, nil
}

// BuildCatalog resolves @parent inheritance across raws and returns a
// fully populated event.Catalog.
func BuildCatalog(raws []RawEvent) (*event.Catalog, error) {
	res := newResolver(raws)
	cat := event.NewCatalog()

	for i := range raws {
		raw := &raws[i]
		props, err := res.resolve(raw)
		if err != nil {
			return nil, err
		}

		rules := proplist.New()
		for k, v := range raw.Rules {
			rules.Set(k, value.NewString(v))
		}

		cat.Add(event.New(raw.Name, rules, props))
	}
	return cat, nil
}

// LoadPluginParams parses a single plugin's YAML parameter file into a
// PropList, coercing every scalar through value.FromAny.
func LoadPluginParams(path string) (*proplist.PropList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	pl := proplist.New()
	for k, v := range raw {
		pl.Set(k, value.FromAny(v))
	}
	return pl, nil
}
