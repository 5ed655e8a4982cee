package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpfix/feedbackd/hook"
	"github.com/bgpfix/feedbackd/input"
	"github.com/bgpfix/feedbackd/sink"
)

type fakeCore struct {
	sinks  []*sink.Decl
	inputs []*input.Decl
}

func (c *fakeCore) RegisterSink(d *sink.Decl) error {
	c.sinks = append(c.sinks, d)
	return nil
}

func (c *fakeCore) RegisterInput(d *input.Decl) error {
	c.inputs = append(c.inputs, d)
	return nil
}

type recordingPlugin struct {
	name     string
	gotGain  string
	loaded   bool
	unloaded bool
	fail     bool
	order    *[]string // if set, Unload appends name here
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) Load(ctx *Context) bool {
	if p.fail {
		return false
	}
	gain, _ := ctx.Params.Get("gain")
	p.gotGain, _ = gain.Str()
	ctx.RegisterSink(&sink.Decl{Name: p.name})
	p.loaded = true
	return true
}

func (p *recordingPlugin) Unload() {
	p.unloaded = true
	if p.order != nil {
		*p.order = append(*p.order, p.name)
	}
}

func TestLoaderLoadsParamsAndRegistersSink(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "audio.yaml"), []byte("gain: loud\n"), 0o644))

	core := &fakeCore{}
	loader := NewLoader(core, hook.NewBus(), dir)

	p := &recordingPlugin{name: "audio"}
	require.NoError(t, loader.Load(p))

	assert.True(t, p.loaded)
	assert.Equal(t, "loud", p.gotGain)
	require.Len(t, core.sinks, 1)
	assert.Equal(t, "audio", core.sinks[0].Name)
}

func TestLoaderMissingParamsFileIsNotFatal(t *testing.T) {
	core := &fakeCore{}
	loader := NewLoader(core, hook.NewBus(), t.TempDir())

	p := &recordingPlugin{name: "nofile"}
	require.NoError(t, loader.Load(p))
	assert.True(t, p.loaded)
}

func TestLoaderStopsOnLoadFailure(t *testing.T) {
	core := &fakeCore{}
	loader := NewLoader(core, hook.NewBus(), t.TempDir())

	ok := &recordingPlugin{name: "ok"}
	bad := &recordingPlugin{name: "bad", fail: true}
	err := loader.Load(ok, bad)
	require.Error(t, err)

	assert.Equal(t, []Plugin{ok}, loader.Loaded())
}

func TestUnloadAllRunsInReverseOrder(t *testing.T) {
	core := &fakeCore{}
	loader := NewLoader(core, hook.NewBus(), t.TempDir())

	var order []string
	first := &recordingPlugin{name: "first", order: &order}
	second := &recordingPlugin{name: "second", order: &order}
	require.NoError(t, loader.Load(first, second))

	loader.UnloadAll()
	assert.True(t, first.unloaded)
	assert.True(t, second.unloaded)
	assert.Equal(t, []string{"second", "first"}, order)
	assert.Empty(t, loader.Loaded())
}
