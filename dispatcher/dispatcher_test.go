package dispatcher

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgpfix/feedbackd/event"
	"github.com/bgpfix/feedbackd/input"
	"github.com/bgpfix/feedbackd/metrics"
	"github.com/bgpfix/feedbackd/proplist"
	"github.com/bgpfix/feedbackd/request"
	"github.com/bgpfix/feedbackd/sink"
	"github.com/bgpfix/feedbackd/value"
)

// recorder collects call order across goroutines for assertions.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// autoSyncSink prepares synchronously and self-synchronizes; play is
// recorded but left pending until the test explicitly completes it.
func autoSyncSink(rec *recorder, name string, priority int) *sink.Decl {
	d := &sink.Decl{Name: name, Priority: priority}
	d.Prepare = func(req *request.Request) bool {
		rec.add("prepare:" + name)
		d.Core().SynchronizeSink(d, req)
		return true
	}
	d.Play = func(req *request.Request) bool {
		rec.add("play:" + name)
		return true
	}
	d.Stop = func(req *request.Request) {
		rec.add("stop:" + name)
	}
	return d
}

func failingPrepareSink(rec *recorder, name string, priority int) *sink.Decl {
	d := &sink.Decl{Name: name, Priority: priority}
	d.Prepare = func(req *request.Request) bool {
		rec.add("prepare:" + name)
		return false
	}
	d.Play = func(req *request.Request) bool {
		rec.add("play:" + name)
		return true
	}
	d.Stop = func(req *request.Request) {
		rec.add("stop:" + name)
	}
	return d
}

type fakeInput struct {
	mu      sync.Mutex
	replies []int
	errors  []string
}

func newTestInput() *input.Decl {
	fi := &fakeInput{}
	return &input.Decl{
		Name: "test",
		SendReplyFunc: func(req *request.Request, code int) {
			fi.mu.Lock()
			defer fi.mu.Unlock()
			fi.replies = append(fi.replies, code)
		},
		SendErrorFunc: func(req *request.Request, reason string) {
			fi.mu.Lock()
			defer fi.mu.Unlock()
			fi.errors = append(fi.errors, reason)
		},
	}
}

func newRuntimeWithEvent(t *testing.T, name string) *Runtime {
	t.Helper()
	r := New(nil)
	r.Catalog.Add(event.New(name, proplist.New(), proplist.New()))
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)
	return r
}

// TestS1AllSinksPlayAndComplete covers scenario S1: both sinks
// prepare, play in priority order, complete, and stop is called once
// on each.
func TestS1AllSinksPlayAndComplete(t *testing.T) {
	rec := &recorder{}
	r := newRuntimeWithEvent(t, "tone")

	audio := autoSyncSink(rec, "audio", 10)
	led := autoSyncSink(rec, "led", 5)
	require.NoError(t, r.RegisterSink(audio))
	require.NoError(t, r.RegisterSink(led))

	in := newTestInput()
	require.NoError(t, r.RegisterInput(in))

	req := in.NewRequest("tone", proplist.New())
	r.PlayRequest(req)
	r.Settle()

	calls := rec.snapshot()
	assert.Contains(t, calls, "prepare:audio")
	assert.Contains(t, calls, "prepare:led")

	playIdxAudio := indexOf(calls, "play:audio")
	playIdxLed := indexOf(calls, "play:led")
	require.GreaterOrEqual(t, playIdxAudio, 0)
	require.GreaterOrEqual(t, playIdxLed, 0)
	assert.Less(t, playIdxAudio, playIdxLed, "higher priority (audio) plays before led")

	r.CompleteSink(audio, req)
	r.Settle()
	r.CompleteSink(led, req)
	r.Settle()

	calls = rec.snapshot()
	assert.Equal(t, 2, countPrefix(calls, "stop:"))
	assert.Contains(t, calls, "stop:audio")
	assert.Contains(t, calls, "stop:led")
}

// TestS2PrepareFailureTearsDownWithError covers S2: led.prepare
// returns false, both sinks still get stop(), and an error reply is sent.
func TestS2PrepareFailureTearsDownWithError(t *testing.T) {
	rec := &recorder{}
	r := newRuntimeWithEvent(t, "tone")

	audio := autoSyncSink(rec, "audio", 10)
	led := failingPrepareSink(rec, "led", 5)
	require.NoError(t, r.RegisterSink(audio))
	require.NoError(t, r.RegisterSink(led))

	var gotError string
	in := &input.Decl{
		Name: "test",
		SendErrorFunc: func(req *request.Request, reason string) {
			gotError = reason
		},
	}
	require.NoError(t, r.RegisterInput(in))

	req := in.NewRequest("tone", proplist.New())
	r.PlayRequest(req)
	r.Settle()

	calls := rec.snapshot()
	assert.NotContains(t, calls, "play:audio")
	assert.NotContains(t, calls, "play:led")
	assert.Contains(t, calls, "stop:audio")
	assert.Contains(t, calls, "stop:led")
	assert.Equal(t, "request failed", gotError)
}

// TestS5StopRequestWhilePreparingSuppressesPlay covers S5.
func TestS5StopRequestWhilePreparingSuppressesPlay(t *testing.T) {
	rec := &recorder{}
	r := New(nil)
	r.Catalog.Add(event.New("tone", proplist.New(), proplist.New()))
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	// a sink that never self-synchronizes, so the request stays in
	// PREPARING until stop_request intervenes.
	stuck := &sink.Decl{Name: "stuck", Priority: 1}
	stuck.Prepare = func(req *request.Request) bool {
		rec.add("prepare:stuck")
		return true // never calls SynchronizeSink
	}
	stuck.Play = func(req *request.Request) bool {
		rec.add("play:stuck")
		return true
	}
	stuck.Stop = func(req *request.Request) {
		rec.add("stop:stuck")
	}
	require.NoError(t, r.RegisterSink(stuck))

	var replyCode = -1
	in := &input.Decl{
		Name: "test",
		SendReplyFunc: func(req *request.Request, code int) {
			replyCode = code
		},
	}
	require.NoError(t, r.RegisterInput(in))

	req := in.NewRequest("tone", proplist.New())
	r.PlayRequest(req)
	r.Settle()

	r.StopRequest(req)
	r.Settle()

	calls := rec.snapshot()
	assert.NotContains(t, calls, "play:stuck")
	assert.Contains(t, calls, "stop:stuck")
	assert.Equal(t, 0, replyCode)
}

// TestStopRequestRecordsStoppedOutcome covers the RecordOutcome branch
// teardownEdge takes on an explicit StopRequest, which must be
// distinguished from a natural "completed" teardown.
func TestStopRequestRecordsStoppedOutcome(t *testing.T) {
	before := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("stopped"))

	rec := &recorder{}
	r := New(nil)
	r.Catalog.Add(event.New("tone", proplist.New(), proplist.New()))
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	stuck := &sink.Decl{Name: "stuck", Priority: 1}
	stuck.Prepare = func(req *request.Request) bool {
		rec.add("prepare:stuck")
		return true // never calls SynchronizeSink
	}
	stuck.Stop = func(req *request.Request) {
		rec.add("stop:stuck")
	}
	require.NoError(t, r.RegisterSink(stuck))

	in := newTestInput()
	require.NoError(t, r.RegisterInput(in))

	req := in.NewRequest("tone", proplist.New())
	r.PlayRequest(req)
	r.Settle()

	r.StopRequest(req)
	r.Settle()

	after := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("stopped"))
	assert.Equal(t, before+1, after)
}

// TestPlayEdgeObservesTimeToPlay covers the metrics.TimeToPlaySeconds
// wiring: a request that reaches the play edge must add one
// observation to the histogram.
func TestPlayEdgeObservesTimeToPlay(t *testing.T) {
	before := histogramSampleCount(t, metrics.TimeToPlaySeconds)

	rec := &recorder{}
	r := newRuntimeWithEvent(t, "tone")

	audio := autoSyncSink(rec, "audio", 10)
	require.NoError(t, r.RegisterSink(audio))

	in := newTestInput()
	require.NoError(t, r.RegisterInput(in))

	req := in.NewRequest("tone", proplist.New())
	r.PlayRequest(req)
	r.Settle()

	after := histogramSampleCount(t, metrics.TimeToPlaySeconds)
	assert.Equal(t, before+1, after)
}

func histogramSampleCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, h.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

// TestS6ResyncReentersPreparingAndReplaysAll covers S6.
func TestS6ResyncReentersPreparingAndReplaysAll(t *testing.T) {
	rec := &recorder{}
	r := newRuntimeWithEvent(t, "loop")

	a := autoSyncSink(rec, "a", 3)
	b := autoSyncSink(rec, "b", 2)
	c := autoSyncSink(rec, "c", 1)
	require.NoError(t, r.RegisterSink(a))
	require.NoError(t, r.RegisterSink(b))
	require.NoError(t, r.RegisterSink(c))

	in := newTestInput()
	require.NoError(t, r.RegisterInput(in))

	req := in.NewRequest("loop", proplist.New())
	r.PlayRequest(req)
	r.Settle()

	firstPlays := countPrefix(rec.snapshot(), "play:")
	assert.Equal(t, 3, firstPlays)

	// a resyncs: re-enters preparing, no stop edge fires even though
	// b and c are still "playing".
	r.ResynchronizeSinks(a, req)
	r.Settle()

	// a later re-synchronizes: the play edge fires once more, for all sinks.
	a.Core().SynchronizeSink(a, req)
	r.Settle()

	assert.Equal(t, 6, countPrefix(rec.snapshot(), "play:"), "play edge re-ran for every sink")
	assert.Equal(t, 0, countPrefix(rec.snapshot(), "stop:"), "no teardown during resync")
}

// TestPriorityOrderTiesPreserveRegistration covers invariant 6: given
// priorities [2,2,2], play visits sinks in registration order.
func TestPriorityOrderTiesPreserveRegistration(t *testing.T) {
	rec := &recorder{}
	r := newRuntimeWithEvent(t, "tone")

	s1 := autoSyncSink(rec, "s1", 2)
	s2 := autoSyncSink(rec, "s2", 2)
	s3 := autoSyncSink(rec, "s3", 2)
	require.NoError(t, r.RegisterSink(s1))
	require.NoError(t, r.RegisterSink(s2))
	require.NoError(t, r.RegisterSink(s3))

	in := newTestInput()
	require.NoError(t, r.RegisterInput(in))

	req := in.NewRequest("tone", proplist.New())
	r.PlayRequest(req)
	r.Settle()

	calls := rec.snapshot()
	assert.Less(t, indexOf(calls, "play:s1"), indexOf(calls, "play:s2"))
	assert.Less(t, indexOf(calls, "play:s2"), indexOf(calls, "play:s3"))
}

// TestEventMergeRequestOverridesEvent covers invariant 7.
func TestEventMergeRequestOverridesEvent(t *testing.T) {
	r := New(nil)
	eventProps := proplist.New()
	eventProps.Set("volume", value.NewInt(50))
	r.Catalog.Add(event.New("tone", proplist.New(), eventProps))
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	var seenVolume int32
	s := &sink.Decl{Name: "audio", Priority: 1}
	s.Prepare = func(req *request.Request) bool {
		v, _ := req.Properties.Get("volume")
		seenVolume, _ = v.Int()
		s.Core().SynchronizeSink(s, req)
		return true
	}
	s.Play = func(req *request.Request) bool { return true }
	s.Stop = func(req *request.Request) {}
	require.NoError(t, r.RegisterSink(s))

	in := newTestInput()
	require.NoError(t, r.RegisterInput(in))

	reqProps := proplist.New()
	reqProps.Set("volume", value.NewInt(99))
	req := in.NewRequest("tone", reqProps)
	r.PlayRequest(req)
	r.Settle()

	assert.EqualValues(t, 99, seenVolume)
}

// TestNoMatchingEventFailsBeforeAnySink covers the "Event resolution"
// error kind: no event matches, so no sink is ever touched.
func TestNoMatchingEventFailsBeforeAnySink(t *testing.T) {
	r := New(nil) // no events registered
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	touched := false
	s := &sink.Decl{Name: "audio", Priority: 1}
	s.Play = func(req *request.Request) bool { touched = true; return true }
	s.Stop = func(req *request.Request) {}
	require.NoError(t, r.RegisterSink(s))

	var gotError string
	in := &input.Decl{
		Name:          "test",
		SendErrorFunc: func(req *request.Request, reason string) { gotError = reason },
	}
	require.NoError(t, r.RegisterInput(in))

	req := in.NewRequest("unknown", proplist.New())
	r.PlayRequest(req)
	r.Settle()

	assert.False(t, touched)
	assert.Equal(t, "request failed", gotError)
}

func indexOf(haystack []string, needle string) int {
	for i, v := range haystack {
		if v == needle {
			return i
		}
	}
	return -1
}

func countPrefix(haystack []string, prefix string) int {
	n := 0
	for _, v := range haystack {
		if len(v) >= len(prefix) && v[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
