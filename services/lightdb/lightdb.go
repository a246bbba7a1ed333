// Package lightdb implements the LightDB state and stream services (spec
// §4.9, component C10): synchronous/observed key-value state under
// ".d/<path>" and one-way time-series uploads under ".s/<path>", including
// a blockwise variant for large stream payloads. It is grounded on the
// teacher's cbor_codec.go for the JSON<->CBOR boundary and coap_observe.go
// for the registration shape, adapted from an HTTP-proxy registry to a
// direct client-side subscription through scheduler.Scheduler.
package lightdb

import (
	"context"
	"strconv"

	"github.com/golioth/golioth-firmware-sdk-go/blockwise"
	"github.com/golioth/golioth-firmware-sdk-go/coap"
	"github.com/golioth/golioth-firmware-sdk-go/internal/wire"
	"github.com/golioth/golioth-firmware-sdk-go/scheduler"
)

// Service is the LightDB state/stream client, one per Client façade.
type Service struct {
	sched *scheduler.Scheduler
}

// New binds a lightdb Service to sched.
func New(sched *scheduler.Scheduler) *Service {
	return &Service{sched: sched}
}

// Get fetches the raw value at path plus its content-type hint (spec §4.9
// "Get returns raw bytes plus a content-type hint").
func (s *Service) Get(ctx context.Context, path string) ([]byte, coap.ContentType, error) {
	resp, err := s.sched.Do(ctx, &coap.Request{
		Method: coap.MethodGet,
		Path:   coap.LightDBStatePath(path),
		Accept: coap.ContentTypeCBOR,
	})
	if err != nil {
		return nil, coap.ContentTypeAny, err
	}
	if !resp.Status.OK() {
		return nil, coap.ContentTypeAny, coap.NewError(coap.KindFail, "lightdb get: "+resp.Status.String(), nil)
	}
	return resp.Payload, resp.ContentType, nil
}

// Set writes value (already CBOR- or JSON-encoded by the caller, per ct) to
// path.
func (s *Service) Set(ctx context.Context, path string, ct coap.ContentType, value []byte) error {
	resp, err := s.sched.Do(ctx, &coap.Request{
		Method:      coap.MethodPost,
		Path:        coap.LightDBStatePath(path),
		ContentType: ct,
		Payload:     value,
	})
	if err != nil {
		return err
	}
	if !resp.Status.OK() {
		return coap.NewError(coap.KindFail, "lightdb set: "+resp.Status.String(), nil)
	}
	return nil
}

// Delete removes the value at path.
func (s *Service) Delete(ctx context.Context, path string) error {
	resp, err := s.sched.Do(ctx, &coap.Request{Method: coap.MethodDelete, Path: coap.LightDBStatePath(path)})
	if err != nil {
		return err
	}
	if !resp.Status.OK() {
		return coap.NewError(coap.KindFail, "lightdb delete: "+resp.Status.String(), nil)
	}
	return nil
}

// Observe subscribes to path, invoking onChange with each pushed value
// (spec §4.9 "observe a path"). The returned token cancels the
// subscription via CancelObserve.
func (s *Service) Observe(ctx context.Context, path string, onChange func([]byte, coap.ContentType)) ([]byte, error) {
	return s.sched.Subscribe(ctx, coap.LightDBStatePath(path), coap.ContentTypeCBOR, func(r *coap.Response) {
		onChange(r.Payload, r.ContentType)
	})
}

// CancelObserve deregisters a subscription obtained from Observe.
func (s *Service) CancelObserve(ctx context.Context, token []byte) error {
	return s.sched.Unsubscribe(ctx, token)
}

// decode picks the CBOR or JSON codec based on ct, matching whichever
// content-type the resource actually replied with (spec §4.9 "typed
// helpers parse int, bool, float, string from JSON" — the JSON-tagged
// resources still go over the wire as JSON bytes, so they need their own
// decode path rather than always assuming CBOR).
func decode(ct coap.ContentType, raw []byte, v interface{}) error {
	if ct == coap.ContentTypeJSON {
		return wire.UnmarshalJSON(raw, v)
	}
	return wire.Unmarshal(raw, v)
}

// GetInt, GetBool, GetFloat and GetString are the typed helpers spec §4.9
// names. GetInt decodes into a generic interface{} and accepts an int64,
// uint64 or float64 result (a float is truncated); GetBool, GetFloat and
// GetString decode straight into a variable of their own type.
func (s *Service) GetInt(ctx context.Context, path string) (int64, error) {
	raw, ct, err := s.Get(ctx, path)
	if err != nil {
		return 0, err
	}
	var v interface{}
	if err := decode(ct, raw, &v); err != nil {
		return 0, coap.NewError(coap.KindInvalidFormat, "lightdb getint: decode", err)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, coap.NewError(coap.KindInvalidFormat, "lightdb getint: not a number", nil)
	}
}

func (s *Service) GetBool(ctx context.Context, path string) (bool, error) {
	raw, ct, err := s.Get(ctx, path)
	if err != nil {
		return false, err
	}
	var v bool
	if err := decode(ct, raw, &v); err != nil {
		return false, coap.NewError(coap.KindInvalidFormat, "lightdb getbool: decode", err)
	}
	return v, nil
}

func (s *Service) GetFloat(ctx context.Context, path string) (float64, error) {
	raw, ct, err := s.Get(ctx, path)
	if err != nil {
		return 0, err
	}
	var v float64
	if err := decode(ct, raw, &v); err != nil {
		return 0, coap.NewError(coap.KindInvalidFormat, "lightdb getfloat: decode", err)
	}
	return v, nil
}

func (s *Service) GetString(ctx context.Context, path string) (string, error) {
	raw, ct, err := s.Get(ctx, path)
	if err != nil {
		return "", err
	}
	var v string
	if err := decode(ct, raw, &v); err != nil {
		return "", coap.NewError(coap.KindInvalidFormat, "lightdb getstring: decode", err)
	}
	return v, nil
}

// SetInt is a convenience wrapper that CBOR-encodes an integer and calls
// Set, mirroring GetInt's counterpart on the write path.
func (s *Service) SetInt(ctx context.Context, path string, v int64) error {
	b, err := wire.Marshal(v)
	if err != nil {
		return coap.NewError(coap.KindInvalidFormat, "lightdb setint: encode "+strconv.FormatInt(v, 10), err)
	}
	return s.Set(ctx, path, coap.ContentTypeCBOR, b)
}

// SetJSON encodes v with the JSON codec and writes it to path, the write-side
// counterpart of GetInt/GetBool/GetFloat/GetString's JSON decode path for
// callers on a JSON-tagged resource rather than CBOR.
func (s *Service) SetJSON(ctx context.Context, path string, v interface{}) error {
	b, err := wire.MarshalJSON(v)
	if err != nil {
		return coap.NewError(coap.KindInvalidFormat, "lightdb setjson: encode", err)
	}
	return s.Set(ctx, path, coap.ContentTypeJSON, b)
}

// StreamPost uploads value as a time-series sample with a one-way POST to
// the stream resource .s/<path> (spec §4.9).
func (s *Service) StreamPost(ctx context.Context, path string, ct coap.ContentType, value []byte) error {
	resp, err := s.sched.Do(ctx, &coap.Request{
		Method:      coap.MethodPost,
		Path:        coap.StreamPath(path),
		ContentType: ct,
		Payload:     value,
	})
	if err != nil {
		return err
	}
	if !resp.Status.OK() {
		return coap.NewError(coap.KindFail, "lightdb stream: "+resp.Status.String(), nil)
	}
	return nil
}

// StreamPostBlockwise uploads a large payload to path via Block1 (spec
// §4.9 "additionally supports blockwise upload for large payloads").
func (s *Service) StreamPostBlockwise(ctx context.Context, path string, ct coap.ContentType, blockSize int, producer coap.ChunkProducer) error {
	return blockwise.Upload(ctx, s.sched.Session(), coap.StreamPath(path), ct, blockSize, producer)
}
