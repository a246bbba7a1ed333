// Package observe implements the client-side observation registry (spec
// §4.6, component C7): a token-keyed table of active server-push
// subscriptions that the scheduler consults to route notifications, and
// which it walks in insertion order to re-subscribe after a reconnect
// (spec §4.5 "Failure" paragraph). It is grounded on the teacher's
// Observations type in coap_observe.go, which keeps the same shape
// (registration table + access-token bookkeeping) for the server side of
// the same RFC 7641 contract.
package observe

import (
	"sync"

	"github.com/golioth/golioth-firmware-sdk-go/coap"
)

// NotifyFunc is invoked for every notification delivered under an
// observation's token. It runs on the transport's notification goroutine
// (go-coap's observe callback), not on the scheduler goroutine.
type NotifyFunc func(*coap.Response)

// Entry is one row of the registry: spec §3's "table of active (path,
// content-type, token, callback)".
type Entry struct {
	Path        string
	ContentType coap.ContentType
	Token       []byte
	Notify      NotifyFunc

	// Handle is the live subscription returned by the transport for this
	// entry. It is nil between a disconnect and the reconnect re-subscribe
	// step (spec §4.5).
	Handle coap.Observation
}

// Registry is shared between the scheduler goroutine (reconnect and
// re-subscribe) and the goroutines that call Scheduler.Subscribe and
// Unsubscribe; its mutex serializes every method.
type Registry struct {
	mu      sync.Mutex
	order   []string // token keys, insertion order, for re-subscription (spec §4.5)
	entries map[string]*Entry

	// MaxObservations is the configured ceiling (spec §6 default 8); Add
	// refuses once len(order) reaches it.
	MaxObservations int
}

// NewRegistry creates an empty registry capped at maxObservations entries.
func NewRegistry(maxObservations int) *Registry {
	return &Registry{
		entries:         make(map[string]*Entry),
		MaxObservations: maxObservations,
	}
}

// Add registers a new observation. It fails with KindInvalidState if the
// registry is full or if token is already registered (spec §8 invariant 3:
// tokens are pairwise distinct across the active set).
func (r *Registry) Add(e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := string(e.Token)
	if _, exists := r.entries[key]; exists {
		return coap.NewError(coap.KindInvalidState, "token already registered", nil)
	}
	if r.MaxObservations > 0 && len(r.order) >= r.MaxObservations {
		return coap.NewError(coap.KindInvalidState, "observation registry full", nil)
	}
	r.entries[key] = e
	r.order = append(r.order, key)
	return nil
}

// Remove deregisters the observation owning token, if any. It is a no-op
// if the token is unknown (cancel of an already-dropped observation).
func (r *Registry) Remove(token []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := string(token)
	if _, ok := r.entries[key]; !ok {
		return
	}
	delete(r.entries, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Lookup returns the entry for token, or nil if none matches. A notification
// whose token matches nothing registered (and isn't the in-flight request's
// token either) is a stray per spec §4.5 step 4 and is simply dropped by
// the caller.
func (r *Registry) Lookup(token []byte) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[string(token)]
}

// Clear empties the registry. The scheduler's fatal-error path does not
// call it: it keeps the entries so they can be re-subscribed on reconnect.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*Entry)
	r.order = nil
}

// InOrder returns a snapshot of the registered entries in insertion order,
// for the reconnect path to walk and re-subscribe (spec §4.5 "the
// observation registry is walked and each entry is re-subscribed in
// registry-insertion order").
func (r *Registry) InOrder() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.entries[k])
	}
	return out
}

// Len reports the number of active observations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
