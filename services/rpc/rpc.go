// Package rpc implements the remote-procedure-call service (spec §4.9,
// component C10): the device observes the RPC request resource, dispatches
// each request to a registered handler, and POSTs a response carrying a
// gRPC-like status code back to the correlation id. Grounded on the
// teacher's coap_observe.go registration shape and cbor_codec.go for the
// request/response envelope encoding.
package rpc

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/golioth/golioth-firmware-sdk-go/coap"
	"github.com/golioth/golioth-firmware-sdk-go/internal/wire"
	"github.com/golioth/golioth-firmware-sdk-go/scheduler"
)

// MaxMethods is spec §6's default cap ("RPC methods 8").
const MaxMethods = 8

// Status is the fixed gRPC-like enum spec §4.9 names ("a fixed gRPC-like
// enum"), matching the codes original_source's golioth_rpc.h defines.
type Status int

const (
	StatusOK Status = iota
	StatusCanceled
	StatusUnknown
	StatusInvalidArgument
	StatusDeadlineExceeded
	StatusNotFound
	StatusAlreadyExists
	StatusPermissionDenied
	StatusResourceExhausted
	StatusFailedPrecondition
	StatusAborted
	StatusOutOfRange
	StatusUnimplemented
	StatusInternal
	StatusUnavailable
	StatusDataLoss
	StatusUnauthenticated
)

// Handler decodes its own parameters from params (a CBOR array, already
// decoded into a generic []interface{}) and returns a detail map plus a
// Status (spec §4.9 "invokes the callback with a CBOR decode cursor on the
// params and a CBOR encode cursor on the response-detail map").
type Handler func(ctx context.Context, params []interface{}) (detail map[string]interface{}, status Status)

// LightDBReader is the narrow read surface a query handler needs
// (SPEC_FULL.md §6 "RPC query variant"); *lightdb.Service satisfies it.
type LightDBReader interface {
	Get(ctx context.Context, path string) ([]byte, coap.ContentType, error)
}

// QueryHandler is a Handler variant for RPC methods that must read device
// state before responding (original_source's examples/zephyr/rpc-query).
// The notification carrying req is delivered on go-coap's own observe
// goroutine, not the scheduler's loop goroutine (see DESIGN.md
// "Observation delivery mechanism"), so a blocking LightDB read here does
// not deadlock the scheduler the way a sync request issued from inside the
// scheduler's own thread would.
type QueryHandler func(ctx context.Context, params []interface{}, db LightDBReader) (detail map[string]interface{}, status Status)

// RegisterQuery adapts a QueryHandler bound to db into a plain Handler.
func (s *Service) RegisterQuery(method string, db LightDBReader, h QueryHandler) error {
	return s.Register(method, func(ctx context.Context, params []interface{}) (map[string]interface{}, Status) {
		return h(ctx, params, db)
	})
}

// request is the wire envelope for an incoming RPC call.
type request struct {
	ID     string        `cbor:"id"`
	Method string        `cbor:"method"`
	Params []interface{} `cbor:"params"`
}

// response is the wire envelope POSTed back.
type response struct {
	ID     string                 `cbor:"id"`
	Status int                    `cbor:"statusCode"`
	Detail map[string]interface{} `cbor:"detail"`
}

// Service is the RPC dispatcher. At most MaxMethods handlers may be
// registered.
type Service struct {
	sched *scheduler.Scheduler
	log   *logrus.Entry

	mu       sync.Mutex
	handlers map[string]Handler
	token    []byte
}

// New binds an rpc Service to sched.
func New(sched *scheduler.Scheduler, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{sched: sched, log: log, handlers: make(map[string]Handler)}
}

// Register adds a method handler. It returns an error once MaxMethods are
// registered or if method is already taken.
func (s *Service) Register(method string, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handlers[method]; exists {
		return coap.NewError(coap.KindInvalidState, "rpc method already registered: "+method, nil)
	}
	if len(s.handlers) >= MaxMethods {
		return coap.NewError(coap.KindInvalidState, "rpc method table full", nil)
	}
	s.handlers[method] = h
	return nil
}

// Start subscribes to the RPC request resource (spec §4.9 "The device
// observes the RPC request resource").
func (s *Service) Start(ctx context.Context) error {
	token, err := s.sched.Subscribe(ctx, coap.RPCPath, coap.ContentTypeCBOR, s.onNotify)
	if err != nil {
		return err
	}
	s.token = token
	return nil
}

// Stop cancels the RPC subscription.
func (s *Service) Stop(ctx context.Context) error {
	if s.token == nil {
		return nil
	}
	return s.sched.Unsubscribe(ctx, s.token)
}

// onNotify runs for every incoming RPC call on go-coap's observe goroutine,
// not the scheduler's loop goroutine (see QueryHandler), so a handler's
// blocking read does not stall the scheduler; the response itself is queued
// asynchronously.
func (s *Service) onNotify(resp *coap.Response) {
	var req request
	if err := wire.Unmarshal(resp.Payload, &req); err != nil {
		s.log.WithError(err).Warn("rpc: failed to decode request envelope")
		return
	}

	s.mu.Lock()
	handler, ok := s.handlers[req.Method]
	s.mu.Unlock()

	var status Status
	var detail map[string]interface{}
	if !ok {
		// Spec §8 round-trip law: "RPC invocation with method unknown
		// returns status NOT_FOUND".
		status = StatusNotFound
		detail = map[string]interface{}{"error": "unknown method: " + req.Method}
	} else {
		detail, status = handler(context.Background(), req.Params)
	}

	out := response{ID: req.ID, Status: int(status), Detail: detail}
	// Canonical encoding so two identical responses (e.g. a retried POST)
	// produce byte-identical wire content; also what lets tests assert on
	// exact posted bytes rather than just a round-tripped decode.
	body, err := wire.MarshalCanonical(out)
	if err != nil {
		s.log.WithError(err).Error("rpc: failed to encode response")
		return
	}

	// Posting the response is fire-and-forget from the callback's
	// perspective: spec §5 forbids sync requests from an observation
	// callback, so this is queued asynchronously instead of awaited.
	err = s.sched.Enqueue(context.Background(), &coap.Request{
		Method:      coap.MethodPost,
		Path:        coap.RPCPath,
		ContentType: coap.ContentTypeCBOR,
		Payload:     body,
		Completion: coap.Completion{Async: func(r *coap.Result) {
			if r.Err != nil {
				s.log.WithError(r.Err).Warn("rpc: failed to post response")
			}
		}},
	})
	if err != nil {
		s.log.WithError(err).Warn("rpc: failed to enqueue response")
	}
}
