// Package plugin implements the loader described by the dispatcher's
// plugin contract: discover plugins by name, give each its own
// parameter PropList loaded from YAML, and let it register sinks,
// inputs, and hook callbacks against the core runtime. Grounded on
// bgpfix's own Option-struct wiring in example.go (name a concrete
// thing, pass it a back-pointer, let it attach handlers) rather than
// on any dynamic-library loading mechanism — plugins here are
// in-process Go values, not `.so` files.
package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bgpfix/feedbackd/config"
	"github.com/bgpfix/feedbackd/hook"
	"github.com/bgpfix/feedbackd/input"
	"github.com/bgpfix/feedbackd/proplist"
	"github.com/bgpfix/feedbackd/sink"
)

func isNotExist(err error) bool { return errors.Is(err, os.ErrNotExist) }

// Core is the subset of dispatcher.Runtime a plugin may register
// against, declared here rather than imported from dispatcher so this
// package never depends on it (dispatcher already depends on nothing
// that would create a cycle, but the loader has no reason to import
// the whole runtime just to call two methods).
type Core interface {
	RegisterSink(*sink.Decl) error
	RegisterInput(*input.Decl) error
}

// Context is what a Plugin's Load method receives: the registration
// surface plus its own resolved parameters.
type Context struct {
	core   Core
	Hooks  *hook.Bus
	Params *proplist.PropList
}

func (c *Context) RegisterSink(d *sink.Decl) error  { return c.core.RegisterSink(d) }
func (c *Context) RegisterInput(d *input.Decl) error { return c.core.RegisterInput(d) }

func (c *Context) ConnectHook(name hook.Name, priority int, cb hook.Callback) hook.ID {
	return c.Hooks.Connect(name, priority, cb)
}

func (c *Context) DisconnectHook(id hook.ID) { c.Hooks.Disconnect(id) }

// Plugin is a named unit of registration. Load receives a Context
// scoped to this plugin and returns false to abort startup (a fatal
// boot failure, per the exit-code table). Unload is called in
// reverse-load order during shutdown.
type Plugin interface {
	Name() string
	Load(ctx *Context) bool
	Unload()
}

// Loader loads a fixed set of Plugins, each against its own parameter
// file under paramsDir/<name>.yaml. A missing parameter file is not
// an error — not every plugin needs parameters — but a malformed one is.
type Loader struct {
	core      Core
	hooks     *hook.Bus
	paramsDir string
	loaded    []Plugin
}

func NewLoader(core Core, hooks *hook.Bus, paramsDir string) *Loader {
	return &Loader{core: core, hooks: hooks, paramsDir: paramsDir}
}

// Load loads each plugin in order, stopping at the first failure.
// Already-loaded plugins are left loaded; the caller decides whether a
// partial load is fatal (per spec, it is: plugin load failure is a
// fatal boot error, so the caller should call UnloadAll and exit).
func (l *Loader) Load(plugins ...Plugin) error {
	for _, p := range plugins {
		params, err := l.loadParams(p.Name())
		if err != nil {
			return fmt.Errorf("plugin %s: %w", p.Name(), err)
		}

		ctx := &Context{core: l.core, Hooks: l.hooks, Params: params}
		if !p.Load(ctx) {
			return fmt.Errorf("plugin %s: load returned false", p.Name())
		}
		l.loaded = append(l.loaded, p)
	}
	return nil
}

func (l *Loader) loadParams(name string) (*proplist.PropList, error) {
	if l.paramsDir == "" {
		return proplist.New(), nil
	}
	path := filepath.Join(l.paramsDir, name+".yaml")
	params, err := config.LoadPluginParams(path)
	if err != nil {
		if isNotExist(err) {
			return proplist.New(), nil
		}
		return nil, err
	}
	return params, nil
}

// Loaded returns the plugins that have successfully loaded so far, in
// load order.
func (l *Loader) Loaded() []Plugin {
	out := make([]Plugin, len(l.loaded))
	copy(out, l.loaded)
	return out
}

// UnloadAll unloads every loaded plugin in reverse-load order.
func (l *Loader) UnloadAll() {
	for i := len(l.loaded) - 1; i >= 0; i-- {
		l.loaded[i].Unload()
	}
	l.loaded = nil
}
