// Package input declares the request-source contract: inputs own the
// wire representation of incoming requests and call back into the
// dispatcher's PlayRequest/PauseRequest/StopRequest, the mirror image
// of the sink package's capability-set shape.
package input

import (
	"github.com/bgpfix/feedbackd/proplist"
	"github.com/bgpfix/feedbackd/request"
)

// Core is the back-pointer an input uses to hand new requests to the
// dispatcher and to act on existing ones. Declared here, not in the
// dispatcher package, for the same import-direction reason as
// sink.Core.
type Core interface {
	PlayRequest(req *request.Request)
	PauseRequest(req *request.Request)
	StopRequest(req *request.Request)
}

// Decl declares one request source. Initialize and Shutdown are
// optional lifecycle hooks; SendReplyFunc and SendErrorFunc are the
// capability slots that make Decl satisfy request.InputIface.
type Decl struct {
	Name string

	// Initialize prepares the input (eg. opens a listening socket). A
	// false return is a fatal boot error. nil means no initialization
	// needed.
	Initialize func() bool

	// Shutdown releases any resources Initialize acquired. nil means
	// nothing to release.
	Shutdown func()

	// SendReplyFunc delivers a successful completion for req with the
	// given status code. nil means replies are dropped.
	SendReplyFunc func(req *request.Request, code int)

	// SendErrorFunc delivers a failure for req with a human-readable
	// reason. nil means errors are dropped.
	SendErrorFunc func(req *request.Request, reason string)

	// core is the dispatcher this input was registered with.
	core Core
}

var _ request.InputIface = (*Decl)(nil)

// BindCore attaches the dispatcher back-pointer. Called once by the
// dispatcher when an input is registered.
func (d *Decl) BindCore(core Core) { d.core = core }

// Core returns the dispatcher back-pointer, or nil if not yet registered.
func (d *Decl) Core() Core { return d.core }

// RunInitialize calls Initialize, defaulting to true (success) when absent.
func (d *Decl) RunInitialize() bool {
	if d.Initialize == nil {
		return true
	}
	return d.Initialize()
}

// RunShutdown calls Shutdown if set.
func (d *Decl) RunShutdown() {
	if d.Shutdown != nil {
		d.Shutdown()
	}
}

// SendReply implements request.InputIface.
func (d *Decl) SendReply(req *request.Request, code int) {
	if d.SendReplyFunc != nil {
		d.SendReplyFunc(req, code)
	}
}

// SendError implements request.InputIface.
func (d *Decl) SendError(req *request.Request, reason string) {
	if d.SendErrorFunc != nil {
		d.SendErrorFunc(req, reason)
	}
}

// NewRequest is a convenience constructor an input uses to build the
// Request it will hand to Core.PlayRequest: it binds req.Input to d so
// replies route back through this input.
func (d *Decl) NewRequest(name string, props *proplist.PropList) *request.Request {
	return request.New(name, d, props)
}
