// Package dispatcher implements the core request dispatcher: per-
// request play-data, sink fan-out, the synchronization barrier, the
// lifecycle state machine, and failure/stop propagation.
//
// Concurrency is grounded directly on pipe.Pipe/pipe.eventHandler: one
// buffered channel of closures ("edges"), drained by a single
// goroutine started from Start(). Every public method that a sink,
// input, or plugin may call from an arbitrary goroutine
// (SynchronizeSink, CompleteSink, FailSink, ResynchronizeSinks,
// PlayRequest, PauseRequest, StopRequest) only ever builds a closure
// and sends it on that channel — exactly the split pipe.Event()
// (any goroutine, channel send) and pipe.eventHandler() (single
// goroutine, channel receive) make. The two named deferred tasks from
// the per-request state machine (the play edge and the stop edge) are
// themselves posted as a further closure onto the same channel, which
// guarantees they run on a later loop iteration rather than nested
// inside the closure that scheduled them.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bgpfix/feedbackd/ctxstore"
	"github.com/bgpfix/feedbackd/event"
	"github.com/bgpfix/feedbackd/hook"
	"github.com/bgpfix/feedbackd/input"
	"github.com/bgpfix/feedbackd/metrics"
	"github.com/bgpfix/feedbackd/proplist"
	"github.com/bgpfix/feedbackd/request"
	"github.com/bgpfix/feedbackd/sink"
)

// Sentinel errors, grounded on pipe/errors.go's flat errors.New style.
var (
	ErrStarted      = errors.New("dispatcher: already started")
	ErrNotStarted   = errors.New("dispatcher: not started")
	ErrStopped      = errors.New("dispatcher: stopped")
	ErrDuplicateSink  = errors.New("dispatcher: sink name already registered")
	ErrDuplicateInput = errors.New("dispatcher: input name already registered")
)

// playData is the dispatcher-private per-request state the spec calls
// PlayData. It deliberately lives here rather than on request.Request,
// so request stays a plain data object (see request.Request's doc
// comment).
type playData struct {
	allSinks  []*sink.Decl
	preparing map[*sink.Decl]bool
	playing   map[*sink.Decl]bool

	playEdgeScheduled bool
	stopEdgeScheduled bool
	failed            bool
	stopped           bool

	// preparedAt marks when the request entered sinks_preparing, used
	// to observe metrics.TimeToPlaySeconds once the play edge fires.
	preparedAt time.Time

	// resyncWanted records sinks that asked to resync the next time
	// the master sink (allSinks[0]) signals a boundary.
	resyncWanted map[*sink.Decl]bool
}

// Runtime is the core: it owns the event catalog, the context store,
// the hook bus, the registered sinks and inputs, and the active
// request table, and drives the single-threaded event loop.
type Runtime struct {
	*zerolog.Logger

	Catalog *event.Catalog
	Store   *ctxstore.Store
	Hooks   *hook.Bus

	ctx    context.Context
	cancel context.CancelFunc

	started atomic.Bool
	stopped atomic.Bool
	wg      sync.WaitGroup

	regMu  sync.Mutex // guards sinks/inputs slices (registration time only)
	sinks  []*sink.Decl
	inputs []*input.Decl

	edges chan func()

	// active maps a request to its play-data; both are only ever
	// touched from the event-loop goroutine.
	active map[*request.Request]*playData
}

// New returns a Runtime ready to have sinks/inputs registered and
// hooks connected, before Start is called.
func New(logger *zerolog.Logger) *Runtime {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &Runtime{
		Logger:  logger,
		Catalog: event.NewCatalog(),
		Store:   ctxstore.New(),
		Hooks:   hook.NewBus(),
		edges:   make(chan func(), 64),
		active:  make(map[*request.Request]*playData),
	}
}

// Start runs Initialize on every registered input, then begins
// draining the edge channel on a new goroutine. An input whose
// Initialize returns false aborts Start with an error before the loop
// starts. Safe to call once; subsequent calls return ErrStarted.
func (r *Runtime) Start(ctx context.Context) error {
	if r.started.Swap(true) {
		return ErrStarted
	}
	for _, in := range r.Inputs() {
		if !in.RunInitialize() {
			return fmt.Errorf("dispatcher: input %s failed to initialize", in.Name)
		}
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.loop()

	go func() {
		<-r.ctx.Done()
		r.Stop()
	}()

	r.Hooks.Fire(hook.InitDone, nil)
	return nil
}

// Stop closes the edge channel and waits for the loop goroutine to
// drain it. Idempotent.
func (r *Runtime) Stop() {
	if r.stopped.Swap(true) {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	close(r.edges)
	r.wg.Wait()
}

// loop is the single event-loop goroutine: it runs every posted
// closure strictly in send order, one at a time.
func (r *Runtime) loop() {
	defer r.wg.Done()
	for fn := range r.edges {
		fn()
	}
}

// post sends fn onto the edge channel. Safe to call from any
// goroutine. If the dispatcher has already stopped, post drops fn
// (mirrors pipe.sendEvent's "recover from send on closed channel").
func (r *Runtime) post(fn func()) {
	defer func() { recover() }()
	r.edges <- fn
}

// Flush blocks until every edge posted before this call has run. It
// exists for tests and for callers that need a synchronization point
// (eg. "wait for teardown to finish") without exposing the loop's
// internals; it works because the edge channel has a single consumer
// processing sends strictly in order.
func (r *Runtime) Flush() {
	done := make(chan struct{})
	r.post(func() { close(done) })
	<-done
}

// Settle calls Flush repeatedly, enough times to drain a chain of
// edges that each schedule one further edge (eg. prepare -> synchronize
// -> play, or fail -> teardown). Tests use it instead of Flush when a
// single request is expected to cross more than one deferred edge.
func (r *Runtime) Settle() {
	for i := 0; i < 5; i++ {
		r.Flush()
	}
}

// RegisterSink appends decl to the sink vector and binds its core
// back-pointer. Must be called before Start (plugin-loading phase);
// not safe for concurrent use with other registrations.
func (r *Runtime) RegisterSink(decl *sink.Decl) error {
	r.regMu.Lock()
	defer r.regMu.Unlock()
	for _, s := range r.sinks {
		if s.Name == decl.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateSink, decl.Name)
		}
	}
	if decl.Priority == 0 {
		decl.Priority = len(r.sinks)
	}
	decl.BindCore(r)
	r.sinks = append(r.sinks, decl)
	return nil
}

// Sinks returns the registered sinks in registration order. The
// returned slice must not be mutated.
func (r *Runtime) Sinks() []*sink.Decl { return r.sinks }

// RegisterInput appends decl to the input vector and binds its core
// back-pointer. Must be called before Start.
func (r *Runtime) RegisterInput(decl *input.Decl) error {
	r.regMu.Lock()
	defer r.regMu.Unlock()
	for _, i := range r.inputs {
		if i.Name == decl.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateInput, decl.Name)
		}
	}
	decl.BindCore(r)
	r.inputs = append(r.inputs, decl)
	return nil
}

// Inputs returns the registered inputs in registration order. The
// returned slice must not be mutated.
func (r *Runtime) Inputs() []*input.Decl { return r.inputs }

// PlayRequest is the entry point an input calls with a freshly
// constructed Request. It posts playEdge onto the loop, which fires
// NEW_REQUEST and then runs the resolve/prepare sequence. Safe to call
// from any goroutine.
func (r *Runtime) PlayRequest(req *request.Request) {
	r.post(func() { r.playEdge(req) })
}

// playEdge implements the spec's play(core, request) operation.
// Runs only on the loop goroutine.
func (r *Runtime) playEdge(req *request.Request) {
	r.Hooks.Fire(hook.NewRequest, &hook.Payload{Request: req})

	ev := r.Catalog.Evaluate(req.Name, req.Properties, r.Store)
	if ev == nil {
		r.Debug().Str("request", req.Name).Msg("no matching event")
		r.scheduleTeardown(req, true)
		return
	}
	req.Event = ev

	merged := ev.Properties.Copy()
	merged.Merge(req.Properties) // request overrides event on conflict
	req.Properties = merged

	r.Hooks.Fire(hook.TransformProperties, &hook.Payload{Request: req})

	var candidates []*sink.Decl
	for _, s := range r.sinks {
		if s.AcceptsRequest(req) {
			candidates = append(candidates, s)
		}
	}

	filterPayload := &hook.Payload{Request: req, Sinks: candidates}
	r.Hooks.Fire(hook.FilterSinks, filterPayload)
	candidates = filterPayload.Sinks

	if len(candidates) == 0 {
		r.Debug().Str("request", req.Name).Msg("no viable sink")
		r.scheduleTeardown(req, true)
		return
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	pd := &playData{
		allSinks:     candidates,
		preparing:    make(map[*sink.Decl]bool, len(candidates)),
		playing:      make(map[*sink.Decl]bool, len(candidates)),
		resyncWanted: make(map[*sink.Decl]bool),
		preparedAt:   time.Now(),
	}
	for _, s := range candidates {
		pd.preparing[s] = true
		pd.playing[s] = true
	}
	r.active[req] = pd
	metrics.ActiveRequests.Set(float64(len(r.active)))

	for _, s := range candidates {
		if !s.NeedsPrepare() {
			delete(pd.preparing, s)
			metrics.RecordSinkPrepared(s.Name, "ok")
			continue
		}
		if !s.RunPrepare(req) {
			metrics.RecordSinkPrepared(s.Name, "failed")
			r.failSinkEdge(s, req)
			return
		}
		metrics.RecordSinkPrepared(s.Name, "ok")
	}

	r.maybeSchedulePlayEdge(req, pd)
}

// maybeSchedulePlayEdge schedules the play edge once sinks_preparing
// is empty, per synchronize_sink's contract.
func (r *Runtime) maybeSchedulePlayEdge(req *request.Request, pd *playData) {
	if len(pd.preparing) > 0 || pd.playEdgeScheduled || pd.stopEdgeScheduled {
		return
	}
	pd.playEdgeScheduled = true
	r.post(func() { r.playOutEdge(req) })
}

// playOutEdge calls Play on every sink in priority order; a false
// return synthesizes a fail and breaks the loop. This is the spec's
// "play edge".
func (r *Runtime) playOutEdge(req *request.Request) {
	pd, ok := r.active[req]
	if !ok {
		return
	}
	pd.playEdgeScheduled = false
	if pd.stopEdgeScheduled {
		return
	}
	metrics.TimeToPlaySeconds.Observe(time.Since(pd.preparedAt).Seconds())

	for _, s := range pd.allSinks {
		if pd.stopEdgeScheduled {
			return
		}
		if !s.Play(req) {
			r.failSinkEdge(s, req)
			return
		}
	}
}

// SynchronizeSink reports that sink finished preparing req. Safe to
// call from any goroutine.
func (r *Runtime) SynchronizeSink(s *sink.Decl, req *request.Request) {
	r.post(func() { r.synchronizeSinkEdge(s, req) })
}

func (r *Runtime) synchronizeSinkEdge(s *sink.Decl, req *request.Request) {
	pd, ok := r.active[req]
	if !ok {
		return
	}
	delete(pd.preparing, s)
	r.maybeSchedulePlayEdge(req, pd)
}

// CompleteSink reports that sink finished playing req. Safe to call
// from any goroutine.
func (r *Runtime) CompleteSink(s *sink.Decl, req *request.Request) {
	r.post(func() { r.completeSinkEdge(s, req) })
}

func (r *Runtime) completeSinkEdge(s *sink.Decl, req *request.Request) {
	pd, ok := r.active[req]
	if !ok {
		return
	}
	if !pd.playing[s] {
		return // idempotent on late completions
	}
	delete(pd.playing, s)
	if len(pd.playing) == 0 {
		r.scheduleTeardown(req, false)
	}
}

// FailSink reports that sink failed req, at any phase. Safe to call
// from any goroutine.
func (r *Runtime) FailSink(s *sink.Decl, req *request.Request) {
	r.post(func() { r.failSinkEdge(s, req) })
}

func (r *Runtime) failSinkEdge(s *sink.Decl, req *request.Request) {
	pd, ok := r.active[req]
	if !ok {
		return
	}
	if pd.stopEdgeScheduled {
		return // teardown precedence
	}
	pd.failed = true
	r.scheduleTeardown(req, true)
}

// ResynchronizeSinks re-enters sink into the preparing set for req
// without tearing the request down. Safe to call from any goroutine.
func (r *Runtime) ResynchronizeSinks(s *sink.Decl, req *request.Request) {
	r.post(func() { r.resynchronizeSinksEdge(s, req) })
}

func (r *Runtime) resynchronizeSinksEdge(s *sink.Decl, req *request.Request) {
	pd, ok := r.active[req]
	if !ok {
		return
	}
	pd.preparing[s] = true
}

// SetResyncOnMaster records that sink wants to resynchronize the next
// time the master sink (allSinks[0]) signals a boundary via
// NotifyMasterBoundary; only the sinks recorded this way re-enter
// preparing then. Safe to call from any goroutine.
func (r *Runtime) SetResyncOnMaster(s *sink.Decl, req *request.Request) {
	r.post(func() {
		pd, ok := r.active[req]
		if !ok {
			return
		}
		pd.resyncWanted[s] = true
	})
}

// NotifyMasterBoundary is called by the master sink of req (the first
// sink in its priority-sorted list) to signal a natural boundary (eg.
// a loop point); every sink previously recorded via
// SetResyncOnMaster re-enters preparing. Safe to call from any
// goroutine.
func (r *Runtime) NotifyMasterBoundary(req *request.Request) {
	r.post(func() {
		pd, ok := r.active[req]
		if !ok {
			return
		}
		for s := range pd.resyncWanted {
			pd.preparing[s] = true
		}
		pd.resyncWanted = make(map[*sink.Decl]bool)
	})
}

// PauseRequest calls Pause on every sink in req's sink list; pause
// failures are logged, never treated as request failures.
func (r *Runtime) PauseRequest(req *request.Request) {
	r.post(func() {
		pd, ok := r.active[req]
		if !ok {
			return
		}
		for _, s := range pd.allSinks {
			if !s.RunPause(req) {
				r.Debug().Str("sink", s.Name).Str("request", req.Name).Msg("pause declined")
			}
		}
	})
}

// StopRequest cancels req: if a play edge is pending it is cancelled,
// then the stop edge is scheduled (or is a no-op if already
// scheduled). Safe to call from any goroutine.
func (r *Runtime) StopRequest(req *request.Request) {
	r.post(func() { r.stopRequestEdge(req) })
}

func (r *Runtime) stopRequestEdge(req *request.Request) {
	pd, ok := r.active[req]
	if !ok {
		return
	}
	if pd.stopEdgeScheduled {
		return
	}
	pd.playEdgeScheduled = false // cancel any pending play edge
	pd.stopped = true
	r.scheduleTeardown(req, false)
}

// scheduleTeardown posts the stop edge exactly once per request.
func (r *Runtime) scheduleTeardown(req *request.Request, failed bool) {
	pd, ok := r.active[req]
	if ok {
		if pd.stopEdgeScheduled {
			return
		}
		pd.stopEdgeScheduled = true
		if failed {
			pd.failed = true
		}
		r.post(func() { r.teardownEdge(req) })
		return
	}

	// the event never matched / no sink accepted: there is no
	// play-data yet, so fabricate the minimal one teardown needs.
	r.active[req] = &playData{stopEdgeScheduled: true, failed: failed}
	r.post(func() { r.teardownEdge(req) })
}

// teardownEdge is the spec's stop edge: stop() every sink in
// registration order, remove from active, reply, free.
func (r *Runtime) teardownEdge(req *request.Request) {
	pd, ok := r.active[req]
	if !ok {
		return
	}
	delete(r.active, req)
	metrics.ActiveRequests.Set(float64(len(r.active)))

	// registration order, not priority order (regression-sensitive).
	for _, s := range r.sinks {
		if !containsSink(pd.allSinks, s) {
			continue
		}
		s.Stop(req)
	}

	switch {
	case pd.failed:
		metrics.RecordOutcome("failed")
		if req.Input != nil {
			req.Input.SendError(req, "request failed")
		}
	case pd.stopped:
		metrics.RecordOutcome("stopped")
		if req.Input != nil {
			req.Input.SendReply(req, 0)
		}
	default:
		metrics.RecordOutcome("completed")
		if req.Input != nil {
			req.Input.SendReply(req, 0)
		}
	}
}

func containsSink(list []*sink.Decl, s *sink.Decl) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// LoadEventGroup is a convenience for config/plugin loaders: it adds
// every event in evs to the catalog in order.
func (r *Runtime) LoadEventGroup(evs []*event.Event) {
	for _, e := range evs {
		r.Catalog.Add(e)
	}
}

// SetCatalog atomically swaps in a freshly built catalog, e.g. after a
// hot-reload. The swap is posted onto the event loop so it never races
// with an in-flight playEdge reading r.Catalog; requests already being
// dispatched keep resolving against whichever catalog playEdge read
// before the swap landed.
func (r *Runtime) SetCatalog(cat *event.Catalog) {
	r.post(func() {
		r.Catalog = cat
	})
}

// NewEvent is a tiny convenience wrapper so callers building a catalog
// from config data don't need to import the event package themselves
// in the common case.
func NewEvent(name string, rules, props *proplist.PropList) *event.Event {
	return event.New(name, rules, props)
}
