// Package logs implements the structured-log shipper (spec §4.9,
// component C10): each log record is a {level, tag, message, timestamp}
// document POSTed to the logs resource. Grounded on the teacher's
// cbor_codec.go for the encode step and coap_observe.go's fire-and-forget
// POST pattern in services/rpc; unlike RPC and settings there is nothing
// to observe here, only to push.
package logs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/golioth/golioth-firmware-sdk-go/coap"
	"github.com/golioth/golioth-firmware-sdk-go/internal/wire"
	"github.com/golioth/golioth-firmware-sdk-go/scheduler"
)

// Level mirrors the fixed severity scale original_source/include/golioth/log.h
// defines (spec §4.9 "level").
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERR"
	case LevelWarn:
		return "WRN"
	case LevelInfo:
		return "INF"
	case LevelDebug:
		return "DBG"
	default:
		return "???"
	}
}

// record is the wire document posted for each log line.
type record struct {
	Level     string `cbor:"level"`
	Tag       string `cbor:"module"`
	Message   string `cbor:"msg"`
	Timestamp int64  `cbor:"timestamp"`
}

// Service ships structured log records to the logs resource. It must never
// recurse into the host logger on its own failures (spec §4.9 "must not
// recurse: if the log shipper itself logs an error, the inner log must be
// dropped"), so it tracks failures with a counter rather than s.log.
type Service struct {
	sched *scheduler.Scheduler

	shipping int32 // guards against log-inside-log reentrancy
	dropped  int64
}

// New binds a logs Service to sched.
func New(sched *scheduler.Scheduler) *Service {
	return &Service{sched: sched}
}

// active is the module-wide "active client" shipper singleton SPEC_FULL.md
// §6 and spec §9's design notes describe: it lets device-side log helpers
// ship to the cloud without threading a Service handle through unrelated
// code. Set by the client façade on construction, cleared on Destroy.
var active atomic.Pointer[Service]

// SetActiveShipper installs svc as the process-wide log shipper. Passing
// nil clears it.
func SetActiveShipper(svc *Service) {
	active.Store(svc)
}

// ActiveShipper returns the process-wide log shipper installed by
// SetActiveShipper, or nil if none is active.
func ActiveShipper() *Service {
	return active.Load()
}

// Dropped returns the number of records silently discarded because the
// shipper itself failed (spec §4.9).
func (s *Service) Dropped() int64 {
	return atomic.LoadInt64(&s.dropped)
}

// Log queues one structured log record. It never blocks on the network:
// the underlying POST is enqueued asynchronously, matching the logger
// calling convention a device firmware event loop expects.
func (s *Service) Log(level Level, tag, message string) {
	// Reentrancy guard: this shipper can sit behind a logrus hook (see
	// Hook), so a record logged while one is being shipped is counted as
	// dropped instead of shipped recursively.
	if !atomic.CompareAndSwapInt32(&s.shipping, 0, 1) {
		atomic.AddInt64(&s.dropped, 1)
		return
	}
	defer atomic.StoreInt32(&s.shipping, 0)

	rec := record{
		Level:     level.String(),
		Tag:       tag,
		Message:   message,
		Timestamp: time.Now().Unix(),
	}
	// Canonical encoding keeps repeated shipments of an identical record
	// byte-identical on the wire, which is what lets a test assert on exact
	// posted bytes instead of just round-tripping the decode.
	body, err := wire.MarshalCanonical(rec)
	if err != nil {
		atomic.AddInt64(&s.dropped, 1)
		return
	}

	err = s.sched.Enqueue(context.Background(), &coap.Request{
		Method:      coap.MethodPost,
		Path:        coap.LogsPath,
		ContentType: coap.ContentTypeCBOR,
		Payload:     body,
		Completion: coap.Completion{Async: func(r *coap.Result) {
			if r.Err != nil {
				atomic.AddInt64(&s.dropped, 1)
			}
		}},
	})
	if err != nil {
		atomic.AddInt64(&s.dropped, 1)
	}
}

// Hook adapts Service to logrus.Hook, so application logging can be mirrored
// to the cloud (spec §4.9). The client façade does not install it; an
// application adds it to its own logger with NewHook.
type Hook struct {
	svc *Service
	tag string
}

// NewHook returns a logrus.Hook that ships every fired entry through svc
// under the given tag.
func NewHook(svc *Service, tag string) *Hook {
	return &Hook{svc: svc, tag: tag}
}

func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *Hook) Fire(e *logrus.Entry) error {
	h.svc.Log(fromLogrus(e.Level), h.tag, e.Message)
	return nil
}

func fromLogrus(l logrus.Level) Level {
	switch l {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		return LevelError
	case logrus.WarnLevel:
		return LevelWarn
	case logrus.InfoLevel:
		return LevelInfo
	default:
		return LevelDebug
	}
}
