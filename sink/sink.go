// Package sink declares the output-driver contract: a capability set
// of optional function slots rather than an interface hierarchy,
// mirroring the teacher's pipe.Callback/pipe.Handler option structs
// (pipe/options.go) where every extension point is a nil-checked
// function field instead of a method a type must implement in full.
package sink

import (
	"github.com/bgpfix/feedbackd/request"
)

// Core is the back-pointer a sink uses to report asynchronous
// progress to the dispatcher. It is declared here (not in the
// dispatcher package) so that sink never imports dispatcher — the
// dispatcher's Runtime implements Core by duck-typing, the same
// direction request.InputIface uses for input plugins.
type Core interface {
	// SynchronizeSink reports that sink has finished preparing for
	// req. Safe to call from any goroutine; its effect is applied on
	// the dispatcher's event loop.
	SynchronizeSink(sink *Decl, req *request.Request)

	// CompleteSink reports that sink has finished playing req.
	// Safe to call from any goroutine.
	CompleteSink(sink *Decl, req *request.Request)

	// FailSink reports that sink has failed req, at any phase.
	// Safe to call from any goroutine.
	FailSink(sink *Decl, req *request.Request)

	// ResynchronizeSinks re-enters sink into the preparing set for
	// req without tearing down the request.
	ResynchronizeSinks(sink *Decl, req *request.Request)

	// SetResyncOnMaster records that sink wants to resynchronize the
	// next time the master sink (the first sink in req's sink list)
	// signals a boundary; only the sinks recorded this way re-enter
	// the preparing set then.
	SetResyncOnMaster(sink *Decl, req *request.Request)
}

// Decl declares one output driver. Name must be unique within the
// core's registered sinks. A zero Priority is replaced at registration
// by the sink's registration index (so the first registered sink keeps
// 0).
//
// Play and Stop are required. CanHandle, Prepare, and Pause are
// optional: a nil CanHandle means "always yes", a nil Prepare means
// the sink is synchronized the instant it is added to the preparing
// set, and a nil Pause means pause requests are silently ignored for
// this sink.
type Decl struct {
	Name     string
	Priority int

	// CanHandle reports whether this sink is a candidate for req.
	// nil means always yes.
	CanHandle func(req *request.Request) bool

	// Prepare begins asynchronous preparation for req; the sink must
	// eventually call Core.SynchronizeSink or Core.FailSink. A false
	// return is treated as an immediate FailSink. nil means the sink
	// needs no preparation and is synchronized immediately.
	Prepare func(req *request.Request) bool

	// Play starts output for req; a false return is treated as an
	// immediate FailSink and aborts the remainder of the play loop
	// for this request. Required.
	Play func(req *request.Request) bool

	// Pause pauses in-flight output for req, if supported. Its return
	// value is logged but never treated as a failure. nil means pause
	// is a no-op for this sink.
	Pause func(req *request.Request) bool

	// Stop tears down any state this sink holds for req. Called
	// exactly once per request during teardown, whether or not Play
	// was ever reached. Required.
	Stop func(req *request.Request)

	// Userdata is plugin-private state attached to the sink itself
	// (not per-request); sinks needing per-request state use
	// Request.Data instead.
	Userdata any

	// core is the dispatcher this sink was registered with; set by
	// the dispatcher at registration time.
	core Core
}

// BindCore attaches the dispatcher back-pointer. Called once by the
// dispatcher when a sink is registered.
func (d *Decl) BindCore(core Core) { d.core = core }

// Core returns the dispatcher back-pointer, or nil if the sink has not
// been registered yet.
func (d *Decl) Core() Core { return d.core }

// AcceptsRequest evaluates CanHandle, defaulting to true when absent.
func (d *Decl) AcceptsRequest(req *request.Request) bool {
	if d.CanHandle == nil {
		return true
	}
	return d.CanHandle(req)
}

// NeedsPrepare reports whether Prepare is set. When it is not, the
// dispatcher treats the sink as synchronized the moment it enters the
// preparing set.
func (d *Decl) NeedsPrepare() bool { return d.Prepare != nil }

// RunPrepare calls Prepare, defaulting to true (success) when absent.
func (d *Decl) RunPrepare(req *request.Request) bool {
	if d.Prepare == nil {
		return true
	}
	return d.Prepare(req)
}

// RunPause calls Pause if set; a no-op otherwise.
func (d *Decl) RunPause(req *request.Request) bool {
	if d.Pause == nil {
		return true
	}
	return d.Pause(req)
}
