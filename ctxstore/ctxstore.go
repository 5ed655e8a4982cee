// Package ctxstore implements the shared context store: a thread-safe
// key/value map of value.Value with change notification, used by
// plugins and the dispatcher to publish and observe ambient state
// (profile, device posture, do-not-disturb, ...).
//
// The underlying map is grounded on pipe.Pipe.KV
// (github.com/puzpuzpuz/xsync's *xsync.MapOf[string, any]): a
// thread-safe map usable from any goroutine without an external mutex.
// Subscriber dispatch is grounded on pipe/event.go's eventHandler
// broadcast loop: a per-key subscriber slice is snapshotted before
// being iterated, so a subscriber callback may re-entrantly Subscribe,
// Unsubscribe, or Set without deadlocking or corrupting the in-flight
// notification.
package ctxstore

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/bgpfix/feedbackd/value"
)

// Subscriber is called after a key changes in the Store. old.Empty()
// is true if the key was previously unset.
type Subscriber func(key string, old, new value.Value)

type subscription struct {
	id  uint64
	fn  Subscriber
}

// Store is a thread-safe key/value map of value.Value, with
// per-key change subscriptions. The zero Store is not usable; use New.
type Store struct {
	kv *xsync.MapOf[string, value.Value]

	mu   sync.Mutex // guards subs and nextID only
	subs map[string][]subscription
	nextID uint64
}

// New returns an empty, ready-to-use Store.
func New() *Store {
	return &Store{
		kv:   xsync.NewMapOf[string, value.Value](),
		subs: make(map[string][]subscription),
	}
}

// Get returns the value stored at key, and whether it was present.
func (s *Store) Get(key string) (value.Value, bool) {
	return s.kv.Load(key)
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	_, ok := s.kv.Load(key)
	return ok
}

// Set stores val at key and synchronously notifies every subscriber
// registered for key, in registration order. If val equals the
// previous value, subscribers are not notified.
func (s *Store) Set(key string, val value.Value) {
	old, _ := s.kv.Load(key)
	s.kv.Store(key, val)
	if value.Equal(old, val) {
		return
	}
	s.notify(key, old, val)
}

// Unset removes key, notifying subscribers with new set to the zero
// Value. A no-op if key was not present.
func (s *Store) Unset(key string) {
	old, ok := s.kv.LoadAndDelete(key)
	if !ok {
		return
	}
	s.notify(key, old, value.Value{})
}

func (s *Store) notify(key string, old, new value.Value) {
	s.mu.Lock()
	subs := s.subs[key]
	// snapshot: copy before releasing the lock and calling out, so a
	// re-entrant Subscribe/Unsubscribe from within a callback never
	// mutates the slice we are iterating.
	snapshot := make([]subscription, len(subs))
	copy(snapshot, subs)
	s.mu.Unlock()

	for _, sub := range snapshot {
		sub.fn(key, old, new)
	}
}

// SubscriptionID identifies a registered Subscriber so it can later be
// removed with Unsubscribe.
type SubscriptionID struct {
	key string
	id  uint64
}

// Subscribe registers fn to be called whenever key changes. It returns
// an id usable with Unsubscribe.
func (s *Store) Subscribe(key string, fn Subscriber) SubscriptionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs[key] = append(s.subs[key], subscription{id: id, fn: fn})
	return SubscriptionID{key: key, id: id}
}

// Unsubscribe removes a subscription previously returned by Subscribe.
// Safe to call from within a Subscriber callback.
func (s *Store) Unsubscribe(id SubscriptionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.subs[id.key]
	for i, sub := range list {
		if sub.id == id.id {
			s.subs[id.key] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Each calls fn for every key currently in the store. Order is
// unspecified, matching the underlying xsync map's iteration order.
func (s *Store) Each(fn func(key string, val value.Value)) {
	s.kv.Range(func(key string, val value.Value) bool {
		fn(key, val)
		return true
	})
}

// Len returns the number of keys currently stored.
func (s *Store) Len() int {
	return s.kv.Size()
}
