// Package hook implements the named extension-point bus that plugins
// attach to: INIT_DONE, NEW_REQUEST, TRANSFORM_PROPERTIES, and
// FILTER_SINKS. Registration and dispatch are grounded on
// pipe/event.go's attachEvent/eventHandler: callbacks for a given hook
// name are kept in a slice sorted by priority (here ascending, lower
// runs first; the teacher sorts Pre/Post/Order instead), and firing
// walks that slice synchronously in the calling goroutine.
package hook

import (
	"sort"

	"github.com/bgpfix/feedbackd/request"
	"github.com/bgpfix/feedbackd/sink"
)

// Name identifies one hook site.
type Name string

const (
	// InitDone fires once, with a nil Payload, after all plugins are
	// loaded and every sink/input has initialized.
	InitDone Name = "INIT_DONE"

	// NewRequest fires with Payload.Request set, right after a
	// request is accepted and before event resolution; callbacks may
	// mutate Request.Properties.
	NewRequest Name = "NEW_REQUEST"

	// TransformProperties fires with Payload.Request set, after event
	// resolution and the event/request property merge, letting
	// callbacks rewrite the merged properties before sinks see them.
	TransformProperties Name = "TRANSFORM_PROPERTIES"

	// FilterSinks fires with Payload.Request and Payload.Sinks set;
	// callbacks may reassign Payload.Sinks to change the candidate
	// sink list.
	FilterSinks Name = "FILTER_SINKS"
)

// Payload is the shared, mutable argument passed to every callback
// registered for a hook name.
type Payload struct {
	Request *request.Request
	Sinks   []*sink.Decl
}

// Callback is a hook handler. It must not call any core operation
// that would free payload.Request; hooks run within a request-handling
// frame on the dispatcher's single event-loop goroutine.
type Callback func(payload *Payload)

type registration struct {
	id       uint64
	priority int
	cb       Callback
}

// Bus holds the registered callbacks for every hook name. The zero Bus
// is not usable; use NewBus.
type Bus struct {
	handlers map[Name][]registration
	nextID   uint64
}

// NewBus returns an empty, ready-to-use Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Name][]registration)}
}

// ID identifies one Connect call, for a later Disconnect.
type ID struct {
	name Name
	id   uint64
}

// Connect registers cb for name at priority (lower runs first, ties
// preserve registration order). Returns an ID usable with Disconnect.
func (b *Bus) Connect(name Name, priority int, cb Callback) ID {
	b.nextID++
	id := b.nextID
	list := append(b.handlers[name], registration{id: id, priority: priority, cb: cb})
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].priority < list[j].priority
	})
	b.handlers[name] = list
	return ID{name: name, id: id}
}

// Disconnect removes a registration previously returned by Connect.
func (b *Bus) Disconnect(id ID) {
	list := b.handlers[id.name]
	for i, r := range list {
		if r.id == id.id {
			b.handlers[id.name] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Fire invokes every callback registered for name, in priority order,
// synchronously, passing payload to each in turn. Callbacks may mutate
// payload; later callbacks see the mutated value.
func (b *Bus) Fire(name Name, payload *Payload) {
	for _, r := range b.handlers[name] {
		r.cb(payload)
	}
}
