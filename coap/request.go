package coap

import (
	"context"
	"time"
)

// MaxPathLen is the configured maximum resource path length (spec §6
// "Configuration knobs", max path 39).
const MaxPathLen = 39

// ChunkProducer yields successive payload chunks for a blockwise upload
// (spec §3 "payload ... or a chunk-producer callback for blockwise"). It
// returns ErrNoMoreData once exhausted.
type ChunkProducer func(offset int, maxLen int) ([]byte, error)

// Completion describes how a Request's result is delivered (spec §3
// "completion mode"): either a goroutine blocks on a channel (sync
// variant) or a callback fires on the scheduler goroutine (async variant).
// Exactly one of these is set.
type Completion struct {
	// Sync, if non-nil, receives exactly one *Response (or has Err set).
	Sync chan *Result
	// Async, if non-nil, is invoked on the scheduler goroutine with the
	// terminal result. It must not block and must not issue further sync
	// requests (spec §5 "must not itself issue sync requests").
	Async func(*Result)
}

// Result pairs a Response with an error, exactly the shape a Completion
// receives (spec §7 "every asynchronous call produces at most one
// completion: success, timeout, or cancellation").
type Result struct {
	Response *Response
	Err      error
}

// Request is this module's CoapRequest (spec §3). Token and MessageID are
// filled in by the scheduler at dequeue/send time, not by the caller.
type Request struct {
	Method      Method
	Path        string
	ContentType ContentType
	Accept      ContentType

	// Payload is used for small, fully-buffered bodies. Producer is used
	// instead for blockwise uploads; at most one of the two is set.
	Payload  []byte
	Producer ChunkProducer

	// Block1/Block2, if Size != 0, request a specific block explicitly
	// (used by the blockwise engine's per-block GETs/PUTs). Ordinary
	// requests leave these zero and let the scheduler/engine negotiate.
	Block1 BlockOption
	Block2 BlockOption

	Token     []byte
	MessageID uint16

	// Deadline is the absolute time this request must complete by. A
	// zero Deadline means "forever", which the scheduler internally caps
	// at the configured response timeout (spec §4.5 "Requests carry a
	// deadline ... capped at the configured response timeout").
	Deadline time.Time

	Completion Completion

	EnqueuedAt time.Time

	// ObserveToken, for MethodObserve/MethodCancelObserve, is the token
	// the observation registry already owns for this path (cancel) or
	// will own once the registration ACK arrives (register).
	ObserveToken []byte

	// ctx is used only to let a caller cancel a sync wait early; it does
	// not cancel the request once it is in flight on the wire.
	ctx context.Context
}

// WithContext returns a shallow copy of r with ctx attached, used by sync
// callers that want their wait bounded by a context in addition to the
// deadline.
func (r Request) WithContext(ctx context.Context) Request {
	r.ctx = ctx
	return r
}

// Context returns the request's context, defaulting to a background
// context if none was attached.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// EffectiveDeadline returns Deadline, or now+cap if Deadline is zero
// ("forever"), implementing the internal cap spec §4.5/§5 require.
func (r *Request) EffectiveDeadline(now time.Time, cap time.Duration) time.Time {
	if r.Deadline.IsZero() {
		return now.Add(cap)
	}
	return r.Deadline
}
