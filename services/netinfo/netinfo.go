// Package netinfo implements the network-info and location services (spec
// §4.9, component C10): cellular/Wi-Fi scan results are assembled into a
// fixed-shape CBOR document and either POSTed synchronously to the location
// resource or streamed blockwise to the network-info resource. Grounded on
// the teacher's cbor_codec.go for struct-based (rather than map-based)
// encoding, which is what keeps the wifi/cell keys appearing exactly once
// and in a fixed order (spec §4.9 "Appenders enforce that the wifi/cell
// keys appear exactly once and in the documented order").
package netinfo

import (
	"context"

	"github.com/golioth/golioth-firmware-sdk-go/blockwise"
	"github.com/golioth/golioth-firmware-sdk-go/coap"
	"github.com/golioth/golioth-firmware-sdk-go/internal/wire"
	"github.com/golioth/golioth-firmware-sdk-go/scheduler"
)

// MaxWiFiScanResults and MaxCellNeighbors are spec §6's default caps.
const (
	MaxWiFiScanResults = 20
	MaxCellNeighbors   = 6
)

// WiFiScanResult is one access point observation.
type WiFiScanResult struct {
	MAC  [6]byte `cbor:"mac"`
	RSSI int     `cbor:"rssi"`
	SSID string  `cbor:"ssid,omitempty"`
}

// CellNeighbor is one cellular-tower observation.
type CellNeighbor struct {
	MCC int `cbor:"mcc"`
	MNC int `cbor:"mnc"`
	ID  int `cbor:"id"`
	RSI int `cbor:"rsi"`
}

// document is the fixed-order wire document; struct field order governs
// CBOR map key emission order, so "wifi" always precedes "cell" and each
// appears exactly once regardless of how many times the caller appends.
type document struct {
	WiFi []WiFiScanResult `cbor:"wifi,omitempty"`
	Cell []CellNeighbor   `cbor:"cell,omitempty"`
}

// Builder accumulates scan results for a single report, then encodes them
// through document so repeated Append calls never duplicate a key.
type Builder struct {
	doc document
}

// NewBuilder starts a fresh report.
func NewBuilder() *Builder {
	return &Builder{}
}

// AppendWiFi adds a Wi-Fi scan result, capped at MaxWiFiScanResults.
func (b *Builder) AppendWiFi(r WiFiScanResult) bool {
	if len(b.doc.WiFi) >= MaxWiFiScanResults {
		return false
	}
	b.doc.WiFi = append(b.doc.WiFi, r)
	return true
}

// AppendCell adds a cellular neighbor, capped at MaxCellNeighbors.
func (b *Builder) AppendCell(c CellNeighbor) bool {
	if len(b.doc.Cell) >= MaxCellNeighbors {
		return false
	}
	b.doc.Cell = append(b.doc.Cell, c)
	return true
}

// Encode produces the final wire document.
func (b *Builder) Encode() ([]byte, error) {
	body, err := wire.Marshal(b.doc)
	if err != nil {
		return nil, coap.NewError(coap.KindInvalidFormat, "netinfo: encoding report", err)
	}
	return body, nil
}

// Source supplies scan results to build a report (SPEC_FULL.md §6
// "Location/cellular + Wi-Fi playback sources"): a real radio driver
// implements it on-device; tests use StaticSource instead.
type Source interface {
	WiFiScan(ctx context.Context) ([]WiFiScanResult, error)
	CellNeighbors(ctx context.Context) ([]CellNeighbor, error)
}

// StaticSource replays a fixed scan list, the Go analogue of
// original_source's location/wifi_playback.c and
// cellular_playback*.c recorded-scan sources used for offline testing.
type StaticSource struct {
	WiFi []WiFiScanResult
	Cell []CellNeighbor
}

func (s StaticSource) WiFiScan(ctx context.Context) ([]WiFiScanResult, error) {
	return s.WiFi, nil
}

func (s StaticSource) CellNeighbors(ctx context.Context) ([]CellNeighbor, error) {
	return s.Cell, nil
}

// BuildFromSource drains src into a fresh Builder, capping at the same
// MaxWiFiScanResults/MaxCellNeighbors limits Append enforces.
func BuildFromSource(ctx context.Context, src Source) (*Builder, error) {
	b := NewBuilder()
	wifi, err := src.WiFiScan(ctx)
	if err != nil {
		return nil, coap.NewError(coap.KindIOError, "netinfo: wifi scan", err)
	}
	for _, w := range wifi {
		b.AppendWiFi(w)
	}
	cells, err := src.CellNeighbors(ctx)
	if err != nil {
		return nil, coap.NewError(coap.KindIOError, "netinfo: cell scan", err)
	}
	for _, c := range cells {
		b.AppendCell(c)
	}
	return b, nil
}

// Service posts or streams network-info/location reports.
type Service struct {
	sched *scheduler.Scheduler
}

// New binds a netinfo Service to sched.
func New(sched *scheduler.Scheduler) *Service {
	return &Service{sched: sched}
}

// ReportLocation synchronously POSTs a builder's document to the location
// resource (spec §6 "loc/net | POST (Block1)" counterpart for the
// synchronous location variant).
func (s *Service) ReportLocation(ctx context.Context, b *Builder) error {
	body, err := b.Encode()
	if err != nil {
		return err
	}
	resp, err := s.sched.Do(ctx, &coap.Request{
		Method:      coap.MethodPost,
		Path:        coap.LocationPath,
		ContentType: coap.ContentTypeCBOR,
		Payload:     body,
	})
	if err != nil {
		return err
	}
	if !resp.Status.OK() {
		return coap.NewError(coap.KindFail, "netinfo: location report: "+resp.Status.String(), nil)
	}
	return nil
}

// StreamNetInfo uploads a builder's document to the network-info resource
// via blockwise Block1 (spec §6 "loc/net | POST (Block1)").
func (s *Service) StreamNetInfo(ctx context.Context, b *Builder, blockSize int) error {
	body, err := b.Encode()
	if err != nil {
		return err
	}
	producer := func(offset, maxLen int) ([]byte, error) {
		if offset >= len(body) {
			return nil, coap.ErrNoMoreData
		}
		end := offset + maxLen
		if end > len(body) {
			end = len(body)
		}
		return body[offset:end], nil
	}
	return blockwise.Upload(ctx, s.sched.Session(), coap.NetInfoPath, coap.ContentTypeCBOR, blockSize, producer)
}
