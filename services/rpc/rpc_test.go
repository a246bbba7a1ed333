package rpc

import (
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

// fakeConn lets a test directly drive onNotify and assert on the POST it
// produces in response, by recording the last outgoing request body.
type fakeConn struct {
	lastPost []byte
	posted   chan struct{}
}

func (f *fakeConn) Do(msg *pool.Message) (*pool.Message, error) {
	if msg.Code() == codes.POST {
		body := msg.Body()
		if body != nil {
			buf := make([]byte, 4096)
			n, _ := body.Read(buf)
			f.lastPost = buf[:n]
		}
		if f.posted != nil {
			close(f.posted)
			f.posted = nil
		}
	}
	resp := pool.AcquireMessage(context.Background())
	resp.SetCode(codes.Changed)
	resp.SetToken(msg.Token())
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

func testSchedulerWithConn(t *testing.T, conn coap.Conn) (*scheduler.Scheduler, func()) {
	t.Helper()
	cfg := scheduler.DefaultConfig()
	cfg.KeepaliveInterval = time.Hour
	sch := scheduler.New(cfg, func(ctx context.Context) (coap.Conn, error) { return conn, nil }, observe.NewRegistry(8))
	done := make(chan struct{})
	go func() { sch.Run(context.Background()); close(done) }()
	return sch, func() { sch.Stop(); <-done }
}

func TestOnNotifyDispatchesToRegisteredHandler(t *testing.T) {
	conn := &fakeConn{posted: make(chan struct{})}
	sch, stop := testSchedulerWithConn(t, conn)
	defer stop()
	time.Sleep(10 * time.Millisecond)

	svc := New(sch, nil)
	called := false
	if err := svc.Register("reboot", func(ctx context.Context, params []interface{}) (map[string]interface{}, Status) {
		called = true
		return map[string]interface{}{"ok": true}, StatusOK
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	body, err := wire.Marshal(request{ID: "1", Method: "reboot", Params: nil})
	if err != nil {
		t.Fatalf("encoding request: %v", err)
	}
	svc.onNotify(&coap.Response{Payload: body})

	select {
	case <-conn.posted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rpc response POST")
	}
	if !called {
		t.Error("expected handler to be invoked")
	}

	var resp response
	if err := wire.Unmarshal(conn.lastPost, &resp); err != nil {
		t.Fatalf("decoding posted response: %v", err)
	}
	if resp.Status != int(StatusOK) {
		t.Errorf("expected status OK, got %d", resp.Status)
	}

	want, err := wire.MarshalCanonical(resp)
	if err != nil {
		t.Fatalf("MarshalCanonical: %v", err)
	}
	if string(want) != string(conn.lastPost) {
		t.Errorf("expected posted response bytes to be the canonical encoding;\nposted: %x\nwant:   %x", conn.lastPost, want)
	}
}

func TestOnNotifyUnknownMethodReturnsNotFound(t *testing.T) {
	conn := &fakeConn{posted: make(chan struct{})}
	sch, stop := testSchedulerWithConn(t, conn)
	defer stop()
	time.Sleep(10 * time.Millisecond)

	svc := New(sch, nil)
	body, _ := wire.Marshal(request{ID: "2", Method: "unknown", Params: nil})
	svc.onNotify(&coap.Response{Payload: body})

	select {
	case <-conn.posted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rpc response POST")
	}
	var resp response
	if err := wire.Unmarshal(conn.lastPost, &resp); err != nil {
		t.Fatalf("decoding posted response: %v", err)
	}
	if resp.Status != int(StatusNotFound) {
		t.Errorf("expected StatusNotFound, got %d", resp.Status)
	}
}

// fakeLightDB is a minimal LightDBReader stub for exercising RegisterQuery.
type fakeLightDB struct {
	value []byte
	ct    coap.ContentType
}

func (f *fakeLightDB) Get(ctx context.Context, path string) ([]byte, coap.ContentType, error) {
	return f.value, f.ct, nil
}

func TestRegisterQueryGivesHandlerLightDBAccess(t *testing.T) {
	conn := &fakeConn{posted: make(chan struct{})}
	sch, stop := testSchedulerWithConn(t, conn)
	defer stop()
	time.Sleep(10 * time.Millisecond)

	svc := New(sch, nil)
	db := &fakeLightDB{value: []byte(`42`), ct: coap.ContentTypeJSON}
	var seen []byte
	err := svc.RegisterQuery("read_counter", db, func(ctx context.Context, params []interface{}, db LightDBReader) (map[string]interface{}, Status) {
		v, _, _ := db.Get(ctx, "counter")
		seen = v
		return map[string]interface{}{"value": string(v)}, StatusOK
	})
	if err != nil {
		t.Fatalf("RegisterQuery: %v", err)
	}

	body, _ := wire.Marshal(request{ID: "3", Method: "read_counter", Params: nil})
	svc.onNotify(&coap.Response{Payload: body})

	select {
	case <-conn.posted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rpc response POST")
	}
	if string(seen) != "42" {
		t.Errorf("expected handler to read fake LightDB value, got %q", seen)
	}
}

func TestRegisterRejectsDuplicateMethod(t *testing.T) {
	svc := New(nil, nil)
	h := func(ctx context.Context, params []interface{}) (map[string]interface{}, Status) { return nil, StatusOK }
	if err := svc.Register("m", h); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := svc.Register("m", h); err == nil {
		t.Error("expected error registering duplicate method")
	}
}

func TestRegisterCapsAtMaxMethods(t *testing.T) {
	svc := New(nil, nil)
	h := func(ctx context.Context, params []interface{}) (map[string]interface{}, Status) { return nil, StatusOK }
	for i := 0; i < MaxMethods; i++ {
		if err := svc.Register(string(rune('a'+i)), h); err != nil {
			t.Fatalf("Register %d: %v", i, err)
		}
	}
	if err := svc.Register("overflow", h); err == nil {
		t.Error("expected error once method table is full")
	}
}
