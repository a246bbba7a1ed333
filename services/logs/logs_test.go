package logs

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/plgd-dev/go-coap/v2/udp/message/pool"
	"github.com/sirupsen/logrus"

	"github.com/golioth/golioth-firmware-sdk-go/coap"
	"github.com/golioth/golioth-firmware-sdk-go/internal/wire"
	"github.com/golioth/golioth-firmware-sdk-go/observe"
	"github.com/golioth/golioth-firmware-sdk-go/scheduler"
)

type fakeConn struct {
	lastPost []byte
	posted   chan struct{}
	fail     bool
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
	if f.fail {
		return nil, coap.NewError(coap.KindIOError, "simulated failure", nil)
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

func testScheduler(t *testing.T, conn coap.Conn) (*scheduler.Scheduler, func()) {
	t.Helper()
	cfg := scheduler.DefaultConfig()
	cfg.KeepaliveInterval = time.Hour
	sch := scheduler.New(cfg, func(ctx context.Context) (coap.Conn, error) { return conn, nil }, observe.NewRegistry(8))
	done := make(chan struct{})
	go func() { sch.Run(context.Background()); close(done) }()
	return sch, func() { sch.Stop(); <-done }
}

func TestLogPostsRecord(t *testing.T) {
	conn := &fakeConn{posted: make(chan struct{})}
	sch, stop := testScheduler(t, conn)
	defer stop()
	time.Sleep(10 * time.Millisecond)

	svc := New(sch)
	svc.Log(LevelWarn, "motor", "overcurrent detected")

	select {
	case <-conn.posted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for log POST")
	}

	var rec record
	if err := wire.Unmarshal(conn.lastPost, &rec); err != nil {
		t.Fatalf("decoding posted record: %v", err)
	}
	if rec.Level != "WRN" || rec.Tag != "motor" || rec.Message != "overcurrent detected" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestLogFailureIncrementsDroppedWithoutRecursing(t *testing.T) {
	conn := &fakeConn{fail: true}
	sch, stop := testScheduler(t, conn)
	defer stop()
	time.Sleep(10 * time.Millisecond)

	svc := New(sch)
	svc.Log(LevelError, "net", "dial failed")
	time.Sleep(20 * time.Millisecond)

	if svc.Dropped() == 0 {
		t.Error("expected a dropped record to be counted")
	}
}

func TestLogRecordEncodingIsCanonicalAndDeterministic(t *testing.T) {
	conn := &fakeConn{posted: make(chan struct{})}
	sch, stop := testScheduler(t, conn)
	defer stop()
	time.Sleep(10 * time.Millisecond)

	svc := New(sch)
	svc.Log(LevelInfo, "boot", "hello")

	select {
	case <-conn.posted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for log POST")
	}

	var rec record
	if err := wire.Unmarshal(conn.lastPost, &rec); err != nil {
		t.Fatalf("decoding posted record: %v", err)
	}
	want, err := wire.MarshalCanonical(rec)
	if err != nil {
		t.Fatalf("MarshalCanonical: %v", err)
	}
	if string(want) != string(conn.lastPost) {
		t.Errorf("expected posted bytes to match canonical re-encoding of the same record;\nposted: %x\nwant:   %x", conn.lastPost, want)
	}
}

func TestHookMapsLogrusLevels(t *testing.T) {
	sch, stop := testScheduler(t, &fakeConn{posted: make(chan struct{})})
	defer stop()

	svc := New(sch)
	hook := NewHook(svc, "app")
	if len(hook.Levels()) != len(logrus.AllLevels) {
		t.Errorf("expected hook to subscribe to all levels")
	}
	if fromLogrus(logrus.ErrorLevel) != LevelError {
		t.Errorf("expected ErrorLevel to map to LevelError")
	}
	if fromLogrus(logrus.DebugLevel) != LevelDebug {
		t.Errorf("expected DebugLevel to map to LevelDebug")
	}
}
