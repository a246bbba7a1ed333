// Package settings implements the remote-settings service (spec §4.9,
// component C10): the device observes the settings resource, type-checks
// and range-checks each pushed value against a registered handler, and
// POSTs back the aggregate per-setting result. Grounded on the teacher's
// coap_observe.go registration shape and cbor_codec.go's CBOR<->JSON
// interface conversion for decoding the map-of-any payload.
package settings

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/golioth/golioth-firmware-sdk-go/coap"
	"github.com/golioth/golioth-firmware-sdk-go/internal/wire"
	"github.com/golioth/golioth-firmware-sdk-go/scheduler"
)

// MaxSettings is spec §6's default cap ("max settings 16").
const MaxSettings = 16

// Type is the value kind a registered setting expects (spec §3
// "Setting{name (≤15), type ∈ {Int, Bool, Float, String}, ...}").
type Type int

const (
	TypeInt Type = iota
	TypeBool
	TypeFloat
	TypeString
)

// Result is the per-setting outcome reported back to the cloud.
type Result int

const (
	ResultOK Result = iota
	ResultGeneralError
	ResultNotFound
	ResultValueFormatNotValid
	ResultValueOutsideRange
	ResultKeyNotValid
	ResultKeyTooLong
	ResultValueTooLong
)

// Handler validates and applies one setting value.
type Handler func(value interface{}) Result

// setting is one registered entry (spec §3 "Invariant: names are unique").
type setting struct {
	typ       Type
	hasRange  bool
	min, max  float64
	handler   Handler
}

// Service observes the settings resource and dispatches each incoming
// document to registered handlers.
type Service struct {
	sched *scheduler.Scheduler
	log   *logrus.Entry

	mu       sync.Mutex
	settings map[string]*setting
	token    []byte
}

// New binds a settings Service to sched.
func New(sched *scheduler.Scheduler, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{sched: sched, log: log, settings: make(map[string]*setting)}
}

// Register adds a named setting. name must be ≤15 bytes (spec §3).
func (s *Service) Register(name string, typ Type, h Handler) error {
	if len(name) > 15 {
		return coap.NewError(coap.KindInvalidFormat, "setting name exceeds 15 bytes: "+name, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.settings[name]; exists {
		return coap.NewError(coap.KindInvalidState, "setting already registered: "+name, nil)
	}
	if len(s.settings) >= MaxSettings {
		return coap.NewError(coap.KindInvalidState, "settings table full", nil)
	}
	s.settings[name] = &setting{typ: typ, handler: h}
	return nil
}

// RegisterIntRange adds an Int setting with an inclusive [min, max] bound
// (spec §3 "optional int min/max").
func (s *Service) RegisterIntRange(name string, min, max int64, h Handler) error {
	if err := s.Register(name, TypeInt, h); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings[name].hasRange = true
	s.settings[name].min = float64(min)
	s.settings[name].max = float64(max)
	s.mu.Unlock()
	return nil
}

// Start subscribes to the settings resource.
func (s *Service) Start(ctx context.Context) error {
	token, err := s.sched.Subscribe(ctx, coap.SettingsPath, coap.ContentTypeCBOR, s.onNotify)
	if err != nil {
		return err
	}
	s.token = token
	return nil
}

// Stop cancels the settings subscription.
func (s *Service) Stop(ctx context.Context) error {
	if s.token == nil {
		return nil
	}
	return s.sched.Unsubscribe(ctx, s.token)
}

// onNotify decodes the pushed settings document and, for each entry,
// locates the registered handler, type-checks, range-checks, invokes it,
// and accumulates the per-setting result (spec §4.9 "Settings").
func (s *Service) onNotify(resp *coap.Response) {
	var doc map[string]interface{}
	if err := wire.Unmarshal(resp.Payload, &doc); err != nil {
		s.log.WithError(err).Warn("settings: failed to decode document")
		return
	}

	results := make(map[string]Result, len(doc))
	s.mu.Lock()
	for name, value := range doc {
		st, ok := s.settings[name]
		if !ok {
			results[name] = ResultNotFound
			continue
		}
		results[name] = applyTyped(st, value)
	}
	s.mu.Unlock()

	body, err := encodeResults(results)
	if err != nil {
		s.log.WithError(err).Error("settings: failed to encode response")
		return
	}

	if err := s.sched.Enqueue(context.Background(), &coap.Request{
		Method:      coap.MethodPost,
		Path:        coap.SettingsPath,
		ContentType: coap.ContentTypeCBOR,
		Payload:     body,
		Completion: coap.Completion{Async: func(r *coap.Result) {
			if r.Err != nil {
				s.log.WithError(r.Err).Warn("settings: failed to post response")
			}
		}},
	}); err != nil {
		s.log.WithError(err).Warn("settings: failed to enqueue response")
	}
}

func applyTyped(st *setting, value interface{}) Result {
	switch st.typ {
	case TypeInt:
		n, ok := asFloat(value)
		if !ok {
			return ResultValueFormatNotValid
		}
		if st.hasRange && (n < st.min || n > st.max) {
			return ResultValueOutsideRange
		}
		return st.handler(int64(n))
	case TypeFloat:
		n, ok := asFloat(value)
		if !ok {
			return ResultValueFormatNotValid
		}
		if st.hasRange && (n < st.min || n > st.max) {
			return ResultValueOutsideRange
		}
		return st.handler(n)
	case TypeBool:
		b, ok := value.(bool)
		if !ok {
			return ResultValueFormatNotValid
		}
		return st.handler(b)
	case TypeString:
		str, ok := value.(string)
		if !ok {
			return ResultValueFormatNotValid
		}
		return st.handler(str)
	default:
		return ResultGeneralError
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// encodeResults builds the aggregate response document (spec §4.9
// "accumulate per-setting result codes, and POST a response carrying the
// aggregate").
func encodeResults(results map[string]Result) ([]byte, error) {
	doc := make(map[string]int, len(results))
	for name, r := range results {
		doc[name] = int(r)
	}
	body, err := wire.Marshal(doc)
	if err != nil {
		return nil, coap.NewError(coap.KindInvalidFormat, "settings: assembling response", err)
	}
	return body, nil
}
