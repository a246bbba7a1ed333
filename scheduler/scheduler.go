// Package scheduler implements the request scheduler (spec §4.5, component
// C6): exactly one goroutine owns the DTLS socket, serializes one in-flight
// request at a time, supervises keepalive and per-request timeouts, routes
// observation notifications to the registry, and reconnects with backoff on
// a fatal transport error. It is grounded on the teacher's dtlsClients in
// mobile/client.go (dial-on-demand, AddOnClose eviction) generalized from a
// per-host connection cache into the single persistent session spec.md
// describes, plus the teacher's coap_observe.go registration-table pattern
// for what happens to subscriptions across a reconnect.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/plgd-dev/go-coap/v2/udp/message/pool"
	"github.com/sirupsen/logrus"

	"github.com/golioth/golioth-firmware-sdk-go/coap"
	"github.com/golioth/golioth-firmware-sdk-go/internal/port"
	"github.com/golioth/golioth-firmware-sdk-go/observe"
)

// Event is the connection-state notification delivered to Config.OnEvent
// (spec §5 "State-change callbacks (CONNECTED/DISCONNECTED, ...) are also
// delivered on the scheduler thread").
type Event int

const (
	EventConnected Event = iota
	EventDisconnected
)

func (e Event) String() string {
	if e == EventConnected {
		return "connected"
	}
	return "disconnected"
}

// Dialer opens a fresh session. The scheduler calls it once at Start and
// again on every reconnect attempt.
type Dialer func(ctx context.Context) (coap.Conn, error)

// Config collects the scheduler's tunables, matching spec §6's default
// table.
type Config struct {
	QueueCapacity      int           // default 10
	QueueTimeout       time.Duration // default 1s
	ResponseTimeout    time.Duration // default 10s
	KeepaliveInterval  time.Duration // default 9s (idle threshold before a ping)
	PingTimeout        time.Duration // time to wait for a keepalive reply
	MaxObservations    int           // default 8
	ReconnectInitial   time.Duration // default 1s
	ReconnectMax       time.Duration // default 1h
	OnEvent            func(Event)
	Log                *logrus.Entry
}

// DefaultConfig returns spec §6's defaults for every field OnEvent/Log
// don't cover.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:     10,
		QueueTimeout:      time.Second,
		ResponseTimeout:   10 * time.Second,
		KeepaliveInterval: 9 * time.Second,
		PingTimeout:       10 * time.Second,
		MaxObservations:   8,
		ReconnectInitial:  time.Second,
		ReconnectMax:      time.Hour,
	}
}

// Scheduler is the single consumer of the request mailbox (spec §5 "exactly
// one scheduler thread consuming them").
type Scheduler struct {
	cfg     Config
	dial    Dialer
	mailbox *port.Mailbox[*coap.Request]
	obs     *observe.Registry
	log     *logrus.Entry

	mu        sync.Mutex
	session   *coap.Session
	connected bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds a Scheduler. Call Run in its own goroutine to start it.
func New(cfg Config, dial Dialer, registry *observe.Registry) *Scheduler {
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		cfg:     cfg,
		dial:    dial,
		mailbox: port.NewMailbox[*coap.Request](cfg.QueueCapacity),
		obs:     registry,
		log:     cfg.Log,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Enqueue submits req, blocking up to the configured queue timeout for
// room (spec §5 "mailbox enqueue, bounded by REQUEST_QUEUE_TIMEOUT_MS").
func (s *Scheduler) Enqueue(ctx context.Context, req *coap.Request) error {
	req.EnqueuedAt = time.Now()
	if !s.mailbox.Send(ctx, req, s.cfg.QueueTimeout) {
		return coap.NewError(coap.KindQueueFull, "request queue full", nil)
	}
	return nil
}

// Do is the synchronous convenience wrapper services use: enqueue req and
// block on its completion channel (spec §3 "sync-waiter" completion mode).
func (s *Scheduler) Do(ctx context.Context, req *coap.Request) (*coap.Response, error) {
	ch := make(chan *coap.Result, 1)
	req.Completion = coap.Completion{Sync: ch}
	if err := s.Enqueue(ctx, req); err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		return res.Response, res.Err
	case <-ctx.Done():
		return nil, coap.NewError(coap.KindTimeout, "caller context done", ctx.Err())
	}
}

// Stop terminates the scheduler loop, fails every queued request with
// InvalidState, and closes the underlying connection.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}

// Run executes the scheduler loop on the calling goroutine until Stop is
// called. It first connects (spec §4.5 "Boot"), then repeatedly dequeues
// and serves one request at a time while idly pumping the keepalive timer.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.doneCh)

	if !s.connectWithBackoff(ctx) {
		return
	}

	keepalive := port.NewOneShot(s.cfg.KeepaliveInterval)
	defer keepalive.Disarm()

	for {
		select {
		case <-s.stopCh:
			s.failQueued()
			s.closeSession()
			return

		case req := <-s.mailbox.Chan():
			keepalive.Rearm(s.cfg.KeepaliveInterval)
			s.serve(ctx, req)

		case <-keepalive.C():
			keepalive.Rearm(s.cfg.KeepaliveInterval)
			if err := s.ping(ctx); err != nil {
				s.log.WithError(err).Warn("keepalive ping failed, reconnecting")
				s.handleFatal(ctx)
				if !s.connectWithBackoff(ctx) {
					return
				}
			}
		}
	}
}

// serve sends one request through the session and delivers its completion.
// This is the scheduler's "one in-flight request at a time" guarantee: serve
// does not return until the exchange is resolved one way or another (spec
// §4.5 steps 2-5).
func (s *Scheduler) serve(ctx context.Context, req *coap.Request) {
	deadline := req.EffectiveDeadline(time.Now(), s.cfg.ResponseTimeout)
	reqCtx, cancel := context.WithDeadline(req.Context(), deadline)
	defer cancel()

	session := s.currentSession()
	if session == nil {
		s.complete(req, nil, coap.NewError(coap.KindInvalidState, "no active session", nil))
		return
	}

	req.Token = session.NextToken()
	defer session.ReleaseToken(req.Token)

	resp, err := session.Do(reqCtx, req)
	if err != nil && coap.KindOf(err) == coap.KindIOError {
		s.log.WithError(err).Warn("transport error, reconnecting")
		s.complete(req, nil, err)
		s.handleFatal(ctx)
		s.connectWithBackoff(ctx)
		return
	}
	s.complete(req, resp, err)
}

// complete delivers a terminal result through whichever Completion mode the
// caller chose (spec §3).
func (s *Scheduler) complete(req *coap.Request, resp *coap.Response, err error) {
	result := &coap.Result{Response: resp, Err: err}
	switch {
	case req.Completion.Sync != nil:
		req.Completion.Sync <- result
	case req.Completion.Async != nil:
		req.Completion.Async(result)
	}
}

func (s *Scheduler) ping(ctx context.Context) error {
	session := s.currentSession()
	if session == nil {
		return coap.NewError(coap.KindInvalidState, "no active session", nil)
	}
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
	defer cancel()
	return session.Conn().Ping(pctx)
}

func (s *Scheduler) currentSession() *coap.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Session exposes the live coap.Session for the blockwise engine, which
// issues a sequence of synchronous exchanges that must not interleave with
// anything else on the wire. Callers driving a blockwise transfer must not
// invoke other scheduler operations concurrently until it completes — the
// scheduler-level analogue of spec.md's rule that an observation callback
// must not itself issue sync requests.
func (s *Scheduler) Session() *coap.Session {
	return s.currentSession()
}

func (s *Scheduler) closeSession() {
	s.mu.Lock()
	session := s.session
	s.session = nil
	s.connected = false
	s.mu.Unlock()
	if session != nil {
		session.Conn().Close()
	}
}

// failQueued drains the mailbox and fails every pending request with
// InvalidState (spec §4.5 "Failure" — "drops all in-flight and queued
// requests with InvalidState").
func (s *Scheduler) failQueued() {
	for _, req := range s.mailbox.Drain() {
		s.complete(req, nil, coap.NewError(coap.KindInvalidState, "scheduler stopped", nil))
	}
}

// handleFatal implements spec §4.5's "Failure" paragraph: close the dead
// connection, signal DISCONNECTED, drop queued work, and drop every
// observation's live handle. The registry entries themselves are kept;
// reconnection and their re-subscription happen in connectWithBackoff.
func (s *Scheduler) handleFatal(ctx context.Context) {
	s.closeSession()
	s.emit(EventDisconnected)
	s.failQueued()
	if s.obs != nil {
		for _, e := range s.obs.InOrder() {
			e.Handle = nil
		}
	}
}

// connectWithBackoff dials, retrying with exponential backoff from
// cfg.ReconnectInitial capped at cfg.ReconnectMax (spec §4.5), until it
// succeeds or Stop is called. On success it re-subscribes every previously
// active observation in insertion order before returning (spec §4.5's
// reconnect paragraph), then fires EventConnected.
func (s *Scheduler) connectWithBackoff(ctx context.Context) bool {
	backoff := s.cfg.ReconnectInitial
	for {
		select {
		case <-s.stopCh:
			return false
		default:
		}

		conn, err := s.dial(ctx)
		if err == nil {
			session := coap.NewSession(conn)
			s.mu.Lock()
			s.session = session
			s.connected = true
			s.mu.Unlock()
			s.resubscribeAll(ctx, session)
			s.emit(EventConnected)
			return true
		}

		s.log.WithError(err).Warnf("dial failed, retrying in %s", backoff)
		jittered := jitter(backoff)
		select {
		case <-s.stopCh:
			return false
		case <-time.After(jittered):
		}
		backoff *= 2
		if backoff > s.cfg.ReconnectMax {
			backoff = s.cfg.ReconnectMax
		}
	}
}

// resubscribeAll re-issues an Observe registration for every entry still in
// the registry, in the order they were originally added (spec §4.5, spec §8
// invariant 7).
func (s *Scheduler) resubscribeAll(ctx context.Context, session *coap.Session) {
	if s.obs == nil {
		return
	}
	for _, e := range s.obs.InOrder() {
		handle, err := session.Conn().Observe(ctx, e.Path, s.observeCallback(e))
		if err != nil {
			s.log.WithError(err).WithField("path", e.Path).Warn("failed to re-subscribe observation")
			continue
		}
		e.Handle = handle
	}
}

// Subscribe registers a new observation of path (spec §4.6 "Adding an
// entry sends a GET with Observe=0"). notify is invoked for every
// subsequent notification until Unsubscribe is called; after a disconnect
// the observation is re-subscribed on reconnect. The underlying Observe=0 GET and notification pump
// are delegated to the go-coap client conn, the same engine the teacher
// dials with in mobile/client.go; this keeps the retransmit/ACK machinery
// in one place instead of reimplementing RFC 7641 dispatch by hand.
func (s *Scheduler) Subscribe(ctx context.Context, path string, ct coap.ContentType, notify observe.NotifyFunc) ([]byte, error) {
	session := s.currentSession()
	if session == nil {
		return nil, coap.NewError(coap.KindInvalidState, "no active session", nil)
	}
	token := session.NextToken()
	entry := &observe.Entry{Path: path, ContentType: ct, Token: token, Notify: notify}
	if err := s.obs.Add(entry); err != nil {
		session.ReleaseToken(token)
		return nil, err
	}
	handle, err := session.Conn().Observe(ctx, path, s.observeCallback(entry))
	if err != nil {
		s.obs.Remove(token)
		session.ReleaseToken(token)
		return nil, err
	}
	entry.Handle = handle
	return token, nil
}

// Unsubscribe deregisters the observation owning token (spec §4.6
// "Removing an entry sends a GET with Observe=1 (deregister), or drops the
// entry locally if the transport is already down").
func (s *Scheduler) Unsubscribe(ctx context.Context, token []byte) error {
	entry := s.obs.Lookup(token)
	if entry == nil {
		return nil
	}
	s.obs.Remove(token)
	session := s.currentSession()
	if session != nil {
		session.ReleaseToken(token)
		if entry.Handle != nil {
			return entry.Handle.Cancel(ctx)
		}
	}
	return nil
}

// observeCallback adapts a raw incoming notification message into a
// coap.Response delivered through entry.Notify, tagging it with the
// observation's path and token (spec §3 "path echo for observations").
func (s *Scheduler) observeCallback(entry *observe.Entry) func(req *pool.Message) {
	return func(req *pool.Message) {
		resp, err := coap.Decode(req)
		if err != nil {
			s.log.WithError(err).WithField("path", entry.Path).Warn("failed to decode observation notification")
			return
		}
		resp.Path = entry.Path
		resp.Token = entry.Token
		entry.Notify(resp)
	}
}

func (s *Scheduler) emit(ev Event) {
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(ev)
	}
}

// jitter applies the ±50% randomization spec §4.4's retransmit backoff
// describes, reused here for the reconnect backoff since spec §4.5 doesn't
// forbid it and the teacher's proxy retry logic (cmd/proxy/proxy.go) does
// the same for its upstream retries.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	delta := float64(d) * 0.5
	return d - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
