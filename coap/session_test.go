package coap

import (
	"context"
	"net"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/udp/message/pool"
	"testing"
)

// fakeConn is a minimal Conn used to test Session/scheduler logic without
// a real DTLS socket.
type fakeConn struct {
	doFn func(msg *pool.Message) (*pool.Message, error)
}

func (f *fakeConn) Do(msg *pool.Message) (*pool.Message, error) {
	if f.doFn != nil {
		return f.doFn(msg)
	}
	return nil, NewError(KindIOError, "no response configured", nil)
}

func (f *fakeConn) Observe(ctx context.Context, path string, fn func(req *pool.Message), opts ...message.Option) (Observation, error) {
	return nil, ErrNotImplemented
}

func (f *fakeConn) Ping(ctx context.Context) error { return nil }
func (f *fakeConn) RemoteAddr() net.Addr           { return nil }
func (f *fakeConn) Close() error                   { return nil }
func (f *fakeConn) AddOnClose(func())              {}
func (f *fakeConn) Context() context.Context       { return context.Background() }

func TestSessionNextTokenUnique(t *testing.T) {
	s := NewSession(&fakeConn{})
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok := s.NextToken()
		if len(tok) == 0 || len(tok) > 8 {
			t.Fatalf("token length %d out of spec range 1-8", len(tok))
		}
		key := string(tok)
		if seen[key] {
			t.Fatalf("token %x reused before release", tok)
		}
		seen[key] = true
	}
}

func TestSessionReleaseTokenAllowsReuse(t *testing.T) {
	s := NewSession(&fakeConn{})
	tok := s.NextToken()
	if !s.usedToken[string(tok)] {
		t.Fatalf("allocated token %x not marked in use", tok)
	}
	s.ReleaseToken(tok)
	// NextToken draws tokens at random, so drawing one particular value
	// again cannot be forced; check instead that release clears the in-use
	// mark NextToken consults, which is what makes the value eligible again.
	if s.usedToken[string(tok)] {
		t.Fatalf("released token %x still marked in use, so it could never be reused", tok)
	}
}

func TestEncodeRejectsOversizedPath(t *testing.T) {
	s := NewSession(&fakeConn{})
	longPath := make([]byte, MaxPathLen+1)
	for i := range longPath {
		longPath[i] = 'a'
	}
	_, err := s.Encode(context.Background(), &Request{Method: MethodGet, Path: string(longPath)})
	if KindOf(err) != KindInvalidFormat {
		t.Fatalf("expected InvalidFormat for oversized path, got %v", err)
	}
}

func TestEncodeAcceptsMaxPath(t *testing.T) {
	s := NewSession(&fakeConn{})
	path := make([]byte, MaxPathLen)
	for i := range path {
		path[i] = 'a'
	}
	msg, err := s.Encode(context.Background(), &Request{Method: MethodGet, Path: string(path), Token: []byte{1}})
	if err != nil {
		t.Fatalf("expected max-length path to be accepted: %v", err)
	}
	pool.ReleaseMessage(msg)
}
