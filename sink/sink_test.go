package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bgpfix/feedbackd/request"
)

type fakeCore struct {
	synced, completed, failed, resynced int
}

func (c *fakeCore) SynchronizeSink(sink *Decl, req *request.Request)    { c.synced++ }
func (c *fakeCore) CompleteSink(sink *Decl, req *request.Request)       { c.completed++ }
func (c *fakeCore) FailSink(sink *Decl, req *request.Request)           { c.failed++ }
func (c *fakeCore) ResynchronizeSinks(sink *Decl, req *request.Request) { c.resynced++ }
func (c *fakeCore) SetResyncOnMaster(sink *Decl, req *request.Request)  {}

func TestAcceptsRequestDefaultsTrue(t *testing.T) {
	d := &Decl{Name: "audio"}
	assert.True(t, d.AcceptsRequest(request.New("tone", nil, nil)))

	d.CanHandle = func(req *request.Request) bool { return false }
	assert.False(t, d.AcceptsRequest(request.New("tone", nil, nil)))
}

func TestNeedsPrepareAndRunPrepareDefaults(t *testing.T) {
	d := &Decl{Name: "led"}
	assert.False(t, d.NeedsPrepare())
	assert.True(t, d.RunPrepare(request.New("tone", nil, nil)))

	d.Prepare = func(req *request.Request) bool { return false }
	assert.True(t, d.NeedsPrepare())
	assert.False(t, d.RunPrepare(request.New("tone", nil, nil)))
}

func TestRunPauseDefaultsToNoop(t *testing.T) {
	d := &Decl{Name: "haptic"}
	assert.True(t, d.RunPause(request.New("tone", nil, nil)))

	called := false
	d.Pause = func(req *request.Request) bool { called = true; return false }
	assert.False(t, d.RunPause(request.New("tone", nil, nil)))
	assert.True(t, called)
}

func TestBindCoreAndCore(t *testing.T) {
	d := &Decl{Name: "audio"}
	assert.Nil(t, d.Core())

	fc := &fakeCore{}
	d.BindCore(fc)
	assert.Same(t, Core(fc), d.Core())

	d.Core().SynchronizeSink(d, request.New("tone", nil, nil))
	assert.Equal(t, 1, fc.synced)
}
