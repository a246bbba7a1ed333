package lightdb

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/plgd-dev/go-coap/v2/udp/message/pool"

	"github.com/golioth/golioth-firmware-sdk-go/coap"
	"github.com/golioth/golioth-firmware-sdk-go/internal/wire"
	"github.com/golioth/golioth-firmware-sdk-go/observe"
	"github.com/golioth/golioth-firmware-sdk-go/scheduler"
)

// fakeConn serves a fixed CBOR-encoded int64 for every GET and echoes the
// request code back as the response status for writes, enough to exercise
// Service.Get/Set/GetInt without a live DTLS socket.
type fakeConn struct{ body []byte }

func (f *fakeConn) Do(msg *pool.Message) (*pool.Message, error) {
	resp := pool.AcquireMessage(context.Background())
	resp.SetToken(msg.Token())
	if msg.Code() == codes.GET {
		resp.SetCode(codes.Content)
		resp.SetContentFormat(message.MediaType(60)) // application/cbor
		resp.SetBody(bytes.NewReader(f.body))
		return resp, nil
	}
	resp.SetCode(codes.Changed)
	return resp, nil
}
func (f *fakeConn) Observe(ctx context.Context, path string, fn func(req *pool.Message), opts ...message.Option) (coap.Observation, error) {
	return nil, coap.ErrNotImplemented
}
func (f *fakeConn) Ping(ctx context.Context) error { return nil }
func (f *fakeConn) RemoteAddr() net.Addr           { return nil }
func (f *fakeConn) Close() error                   { return nil }
func (f *fakeConn) AddOnClose(func())              {}
func (f *fakeConn) Context() context.Context       { return context.Background() }

func testService(t *testing.T, body []byte) (*Service, func()) {
	t.Helper()
	cfg := scheduler.DefaultConfig()
	cfg.KeepaliveInterval = time.Hour
	sch := scheduler.New(cfg, func(ctx context.Context) (coap.Conn, error) {
		return &fakeConn{body: body}, nil
	}, observe.NewRegistry(8))

	done := make(chan struct{})
	go func() { sch.Run(context.Background()); close(done) }()
	return New(sch), func() { sch.Stop(); <-done }
}

func TestGetIntDecodesCBOR(t *testing.T) {
	body, err := wire.Marshal(int64(42))
	if err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	svc, stop := testService(t, body)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := svc.GetInt(ctx, "motor/speed")
	if err != nil {
		t.Fatalf("GetInt: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %d", v)
	}
}

func TestSetSucceedsOnOKStatus(t *testing.T) {
	svc, stop := testService(t, nil)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Set(ctx, "motor/speed", coap.ContentTypeCBOR, []byte{0x01}); err != nil {
		t.Fatalf("Set: %v", err)
	}
}

func TestSetJSONEncodesValueAsJSON(t *testing.T) {
	var captured []byte
	cfg := scheduler.DefaultConfig()
	cfg.KeepaliveInterval = time.Hour
	sch := scheduler.New(cfg, func(ctx context.Context) (coap.Conn, error) {
		return &capturingConn{captured: &captured}, nil
	}, observe.NewRegistry(8))
	done := make(chan struct{})
	go func() { sch.Run(context.Background()); close(done) }()
	defer func() { sch.Stop(); <-done }()

	svc := New(sch)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.SetJSON(ctx, "config/name", map[string]string{"name": "device-1"}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	want, err := wire.MarshalJSON(map[string]string{"name": "device-1"})
	if err != nil {
		t.Fatalf("MarshalJSON fixture: %v", err)
	}
	if string(captured) != string(want) {
		t.Errorf("expected JSON-encoded body %q, got %q", want, captured)
	}
}

// capturingConn records the body of the last request it served, always
// replying 2.04 Changed.
type capturingConn struct{ captured *[]byte }

func (f *capturingConn) Do(msg *pool.Message) (*pool.Message, error) {
	if body := msg.Body(); body != nil {
		buf := make([]byte, 4096)
		n, _ := body.Read(buf)
		*f.captured = buf[:n]
	}
	resp := pool.AcquireMessage(context.Background())
	resp.SetCode(codes.Changed)
	resp.SetToken(msg.Token())
	return resp, nil
}
func (f *capturingConn) Observe(ctx context.Context, path string, fn func(req *pool.Message), opts ...message.Option) (coap.Observation, error) {
	return nil, coap.ErrNotImplemented
}
func (f *capturingConn) Ping(ctx context.Context) error { return nil }
func (f *capturingConn) RemoteAddr() net.Addr           { return nil }
func (f *capturingConn) Close() error                   { return nil }
func (f *capturingConn) AddOnClose(func())              {}
func (f *capturingConn) Context() context.Context       { return context.Background() }
