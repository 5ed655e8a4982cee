package refinput

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpfix/feedbackd/proplist"
	"github.com/bgpfix/feedbackd/request"
)

func TestTriggerMintsRequestAndCallsPlay(t *testing.T) {
	var played *request.Request
	in := New(nil, "cli", func(req *request.Request) {
		played = req
	})

	req := in.Trigger("tone", proplist.New())
	require.NotNil(t, played)
	assert.Same(t, req, played)
	assert.Equal(t, "tone", req.Name)
}

func TestReplyAndErrorDoNotPanicWithoutLogger(t *testing.T) {
	in := New(nil, "cli", func(req *request.Request) {})
	req := in.Trigger("tone", proplist.New())

	assert.NotPanics(t, func() {
		in.SendReply(req, 0)
		in.SendError(req, "boom")
	})
}

func TestTriggerJSONDecodesPropsAndCallsPlay(t *testing.T) {
	var played *request.Request
	in := New(nil, "socket", func(req *request.Request) {
		played = req
	})

	req, err := in.TriggerJSON("tone", []byte(`{"mode":"loud","volume":80}`))
	require.NoError(t, err)
	require.NotNil(t, played)
	assert.Same(t, req, played)

	mode, ok := req.Properties.Get("mode")
	require.True(t, ok)
	s, _ := mode.Str()
	assert.Equal(t, "loud", s)
}

func TestTriggerJSONPropagatesDecodeError(t *testing.T) {
	in := New(nil, "socket", func(req *request.Request) {})

	_, err := in.TriggerJSON("tone", []byte(`not json`))
	assert.Error(t, err)
}

func TestTriggerBatchJSONTriggersOncePerElement(t *testing.T) {
	var played []*request.Request
	in := New(nil, "socket", func(req *request.Request) {
		played = append(played, req)
	})

	reqs, err := in.TriggerBatchJSON("tone", []byte(`[{"mode":"loud"},{"mode":"quiet"}]`))
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, played, reqs)

	first, _ := reqs[0].Properties.Get("mode")
	s, _ := first.Str()
	assert.Equal(t, "loud", s)

	second, _ := reqs[1].Properties.Get("mode")
	s, _ = second.Str()
	assert.Equal(t, "quiet", s)
}
