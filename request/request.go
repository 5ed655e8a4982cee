// Package request implements the mutable per-request lifecycle object
// that flows from an input plugin, through event resolution, to the
// dispatcher's sink fan-out.
package request

import (
	"github.com/google/uuid"

	"github.com/bgpfix/feedbackd/event"
	"github.com/bgpfix/feedbackd/proplist"
)

// InputIface is the slice of an input plugin a Request needs to reply
// through. It is declared here, not in the input package, because
// event.Catalog.Evaluate already forces request to stay leaf-level —
// request must not import input (which needs *Request in its own
// function-pointer signatures) or a request<->input import cycle
// results. input.Decl implements this interface by forwarding to its
// own optional SendReplyFunc/SendErrorFunc function fields.
type InputIface interface {
	SendReply(req *Request, code int)
	SendError(req *Request, reason string)
}

// Request is a single unit of requested feedback: a name, the
// properties it arrived with (later replaced by the event-merged
// result), the event it resolved to, and an open string-keyed
// extension slot for sink/plugin-private per-request state.
//
// Request does not carry dispatcher-internal play-data (all_sinks,
// sinks_preparing, sinks_playing, deferred-task handles): that state
// is owned by the dispatcher's own private table keyed by *Request, so
// that request stays a plain data object with no dependency on sink,
// hook, or dispatcher packages.
type Request struct {
	// ID is a per-request correlation id, minted once at creation and
	// never reused; it is surfaced in logs and in reply payloads.
	ID string

	Name       string
	Input      InputIface
	Properties *proplist.PropList
	Event      *event.Event

	// Data holds sink/plugin-private per-request state, keyed by a
	// string the owner chooses (eg. a sink's own name). Entries are
	// populated on prepare/play and must be cleared by their owner on
	// stop.
	Data map[string]any
}

// New returns a Request with a freshly minted ID and an initialized
// (but empty) Data map, ready to be handed to the dispatcher.
func New(name string, input InputIface, props *proplist.PropList) *Request {
	if props == nil {
		props = proplist.New()
	}
	return &Request{
		ID:         uuid.NewString(),
		Name:       name,
		Input:      input,
		Properties: props,
		Data:       make(map[string]any),
	}
}

// GetData returns req.Data[key] and whether it was present.
func (r *Request) GetData(key string) (any, bool) {
	v, ok := r.Data[key]
	return v, ok
}

// SetData stores val under key in req.Data.
func (r *Request) SetData(key string, val any) {
	if r.Data == nil {
		r.Data = make(map[string]any)
	}
	r.Data[key] = val
}

// ClearData removes key from req.Data, if present.
func (r *Request) ClearData(key string) {
	delete(r.Data, key)
}
