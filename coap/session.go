package coap

import (
	"bytes"
	"context"
	"crypto/rand"
	"net"
	"sync"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/plgd-dev/go-coap/v2/udp/client"
	"github.com/plgd-dev/go-coap/v2/udp/message/pool"
)

// Conn is the subset of *github.com/plgd-dev/go-coap/v2/udp/client.ClientConn
// this package needs. It exists so the scheduler/session can be exercised
// against a fake in tests instead of a real DTLS socket, and so the
// dependency on go-coap's retransmission/blockwise engine (spec §4.4's
// CON retransmit, §4.7's block negotiation) is confined to one seam.
type Conn interface {
	Do(msg *pool.Message) (*pool.Message, error)
	Observe(ctx context.Context, path string, observeFunc func(req *pool.Message), opts ...message.Option) (Observation, error)
	Ping(ctx context.Context) error
	RemoteAddr() net.Addr
	Close() error
	AddOnClose(f func())
	Context() context.Context
}

// Observation is the handle returned by Conn.Observe, matching go-coap's
// observation type closely enough to cancel a subscription (spec §4.6
// "removing an entry sends a GET with Observe=1").
type Observation interface {
	Cancel(ctx context.Context) error
}

// GoCoapConn adapts a real *client.ClientConn (as returned by
// transport.Dial) to the Conn interface above.
type GoCoapConn struct {
	Underlying *client.ClientConn
}

func (g *GoCoapConn) Do(msg *pool.Message) (*pool.Message, error) {
	return g.Underlying.Do(msg)
}

func (g *GoCoapConn) Observe(ctx context.Context, path string, fn func(req *pool.Message), opts ...message.Option) (Observation, error) {
	return g.Underlying.Observe(ctx, path, fn, opts...)
}

func (g *GoCoapConn) Ping(ctx context.Context) error { return g.Underlying.Ping(ctx) }
func (g *GoCoapConn) RemoteAddr() net.Addr           { return g.Underlying.RemoteAddr() }
func (g *GoCoapConn) Close() error                   { return g.Underlying.Close() }
func (g *GoCoapConn) AddOnClose(f func())             { g.Underlying.AddOnClose(f) }
func (g *GoCoapConn) Context() context.Context        { return g.Underlying.Context() }

// methodToCode maps our Method enum onto CoAP request codes, the same
// table shape as the teacher's coap.go methodToCodes map, but keyed the
// other direction since we never need HTTP verb strings.
var methodToCode = map[Method]codes.Code{
	MethodGet:       codes.GET,
	MethodPost:      codes.POST,
	MethodPut:       codes.PUT,
	MethodDelete:    codes.DELETE,
	MethodBlockGet:  codes.GET,
	MethodBlockPost: codes.POST,
}

// Session owns the live CoAP conversation: it turns a Request into a wire
// message, sends it, and turns the matching wire response back into a
// Response (spec §4.4). It does not queue or serialize requests — that is
// the scheduler's job (spec §4.5); Session is used by exactly one
// goroutine at a time by construction.
type Session struct {
	conn Conn

	mu        sync.Mutex
	tokenSeq  uint64
	usedToken map[string]bool
}

// NewSession wraps conn for use by the scheduler.
func NewSession(conn Conn) *Session {
	return &Session{conn: conn, usedToken: make(map[string]bool)}
}

// Conn returns the underlying transport, e.g. for Close() during shutdown.
func (s *Session) Conn() Conn { return s.conn }

// NextToken allocates a token of 1-8 bytes (spec §4.4 "Token length"),
// unique across the in-flight request and the active observation set
// (spec §8 invariant 3). Tokens are 4 random bytes; a value stays reserved
// in usedToken until ReleaseToken is called. The set is per Session, so a
// Session created on reconnect starts with an empty set.
func (s *Session) NextToken() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		tok := make([]byte, 4)
		if _, err := rand.Read(tok); err != nil {
			s.tokenSeq++
			tok = []byte{byte(s.tokenSeq >> 24), byte(s.tokenSeq >> 16), byte(s.tokenSeq >> 8), byte(s.tokenSeq)}
		}
		key := string(tok)
		if !s.usedToken[key] {
			s.usedToken[key] = true
			return tok
		}
	}
}

// ReleaseToken frees a token once its request/observation has concluded,
// so NextToken can reuse the value.
func (s *Session) ReleaseToken(tok []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.usedToken, string(tok))
}

// Encode builds the wire message for req. Exported so the scheduler can
// log/inspect it and so tests can assert on the encoded option set without
// a live connection.
func (s *Session) Encode(ctx context.Context, req *Request) (*pool.Message, error) {
	msg := pool.AcquireMessage(ctx)
	code, ok := methodToCode[req.Method]
	if !ok {
		pool.ReleaseMessage(msg)
		return nil, NewError(KindInvalidFormat, "method has no CoAP code mapping: "+req.Method.String(), nil)
	}
	if len(req.Path) > MaxPathLen {
		pool.ReleaseMessage(msg)
		return nil, NewError(KindInvalidFormat, "path exceeds max length", nil)
	}
	msg.SetCode(code)
	msg.SetToken(req.Token)
	msg.SetPath(req.Path)

	if req.ContentType != ContentTypeAny {
		if cf, ok := ContentFormatOf(req.ContentType); ok {
			msg.SetContentFormat(message.MediaType(cf))
		}
	}
	if req.Accept != ContentTypeAny {
		if cf, ok := ContentFormatOf(req.Accept); ok {
			msg.SetOptionUint32(OptionAccept, cf)
		}
	}
	if req.Block1.Size != 0 {
		v, err := EncodeBlockOption(req.Block1)
		if err != nil {
			pool.ReleaseMessage(msg)
			return nil, err
		}
		msg.SetOptionUint32(OptionBlock1, v)
	}
	if req.Block2.Size != 0 {
		v, err := EncodeBlockOption(req.Block2)
		if err != nil {
			pool.ReleaseMessage(msg)
			return nil, err
		}
		msg.SetOptionUint32(OptionBlock2, v)
	}
	if req.Payload != nil {
		msg.SetBody(bytes.NewReader(req.Payload))
	}
	return msg, nil
}

// Decode converts a received wire message into a Response.
func Decode(msg *pool.Message) (*Response, error) {
	if msg == nil {
		return nil, NewError(KindNull, "nil message", nil)
	}
	resp := &Response{
		Status: codeToStatus(uint8(msg.Code())),
		Token:  append([]byte(nil), msg.Token()...),
	}
	if cf, err := msg.ContentFormat(); err == nil {
		resp.ContentType = ContentTypeFromFormat(cf)
	}
	if body := msg.Body(); body != nil {
		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(body); err == nil {
			resp.Payload = buf.Bytes()
		}
	}
	if v, err := msg.GetOptionUint32(OptionBlock1); err == nil {
		resp.HasBlock1 = true
		resp.Block1 = DecodeBlockOption(v)
	}
	if v, err := msg.GetOptionUint32(OptionBlock2); err == nil {
		resp.HasBlock2 = true
		resp.Block2 = DecodeBlockOption(v)
	}
	if v, err := msg.GetOptionUint32(OptionSize1); err == nil {
		resp.Size1 = v
	}
	if v, err := msg.GetOptionUint32(OptionSize2); err == nil {
		resp.Size2 = v
	}
	if v, err := msg.GetOptionUint32(OptionObserve); err == nil {
		resp.HasObserve = true
		resp.ObserveSeq = v
	}
	return resp, nil
}

// Do sends req synchronously over the wire and decodes the response. This
// is a single request/response exchange; it is the scheduler's job (not
// this method's) to enforce the one-in-flight invariant across calls.
func (s *Session) Do(ctx context.Context, req *Request) (*Response, error) {
	msg, err := s.Encode(ctx, req)
	if err != nil {
		return nil, err
	}
	defer pool.ReleaseMessage(msg)

	respMsg, err := s.conn.Do(msg)
	if err != nil {
		return nil, NewError(KindIOError, "coap exchange failed", err)
	}
	return Decode(respMsg)
}
