// Package client is the top-level facade (spec §4.10, component C11): it
// owns the scheduler, the observation registry, the DTLS transport, and
// every service, wiring them together the way the teacher's mobile package
// exposes a single SendRequest entrypoint over its internal dtlsClients
// cache, generalized here into a persistent-session device client with an
// explicit lifecycle and service accessors.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/golioth/golioth-firmware-sdk-go/coap"
	"github.com/golioth/golioth-firmware-sdk-go/observe"
	"github.com/golioth/golioth-firmware-sdk-go/ota"
	"github.com/golioth/golioth-firmware-sdk-go/scheduler"
	"github.com/golioth/golioth-firmware-sdk-go/services/lightdb"
	"github.com/golioth/golioth-firmware-sdk-go/services/logs"
	"github.com/golioth/golioth-firmware-sdk-go/services/netinfo"
	svcota "github.com/golioth/golioth-firmware-sdk-go/services/ota"
	"github.com/golioth/golioth-firmware-sdk-go/services/rpc"
	"github.com/golioth/golioth-firmware-sdk-go/services/settings"
	"github.com/golioth/golioth-firmware-sdk-go/transport"
)

// debugLevel is a package-wide atomic log-level singleton (SPEC_FULL.md §3,
// go.uber.org/atomic row), modeled on the
// teacher's activeConnectionParams package var but made concurrency-safe
// with go.uber.org/atomic since, unlike the teacher's mobile package, this
// client runs its own background goroutine from construction onward).
var debugLevel atomic.Int32

// SetLogLevel adjusts the package-wide minimum log level (logrus levels).
func SetLogLevel(level logrus.Level) {
	debugLevel.Store(int32(level))
	logrus.SetLevel(level)
}

// activeClient is the single-instance pointer SPEC_FULL.md §3 lists among
// the client package's atomic singletons, for platforms that only ever run
// one device client per process; it is optional — New does not require
// using it.
var activeClient atomic.Pointer[Client]

// Active returns the most recently constructed Client, or nil.
func Active() *Client {
	return activeClient.Load()
}

// Config bundles everything needed to construct a Client.
type Config struct {
	Addr        string
	Credentials transport.Credentials
	Transport   transport.Params
	Scheduler   scheduler.Config
	OTA         ota.Config
	Platform    ota.Platform
	Log         *logrus.Entry
}

// Client is the assembled device runtime: one scheduler goroutine, one
// observation registry, and the five domain services layered on top (spec
// §4.10 "Client lifecycle").
type Client struct {
	cfg   Config
	log   *logrus.Entry
	sched *scheduler.Scheduler
	obs   *observe.Registry

	LightDB  *lightdb.Service
	RPC      *rpc.Service
	Settings *settings.Service
	Logs     *logs.Service
	NetInfo  *netinfo.Service

	fsm *ota.FSM

	mu        sync.Mutex
	connected bool
	connCh    chan struct{}
	creds     transport.Credentials

	runDone chan struct{}
}

// New assembles a Client from cfg without starting it (spec §4.10
// "create").
func New(cfg Config) *Client {
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Scheduler.MaxObservations == 0 {
		cfg.Scheduler = scheduler.DefaultConfig()
	}

	c := &Client{cfg: cfg, log: cfg.Log, connCh: make(chan struct{}), creds: cfg.Credentials}

	c.obs = observe.NewRegistry(cfg.Scheduler.MaxObservations)

	dial := func(ctx context.Context) (coap.Conn, error) {
		return transport.Dial(ctx, cfg.Addr, c.currentCredentials(), cfg.Transport, cfg.Log)
	}

	schedCfg := cfg.Scheduler
	schedCfg.Log = cfg.Log
	schedCfg.OnEvent = c.onEvent
	c.sched = scheduler.New(schedCfg, dial, c.obs)

	c.LightDB = lightdb.New(c.sched)
	c.RPC = rpc.New(c.sched, cfg.Log)
	c.Settings = settings.New(c.sched, cfg.Log)
	c.Logs = logs.New(c.sched)
	c.NetInfo = netinfo.New(c.sched)
	logs.SetActiveShipper(c.Logs)
	activeClient.Store(c)

	if cfg.Platform != nil {
		reporter := svcota.NewCloudReporter(c.sched)
		c.fsm = ota.New(cfg.OTA, cfg.Platform, nil, reporter, cfg.Log, nil)
	}

	return c
}

// onEvent is the scheduler's Config.OnEvent callback; it updates the
// connected flag and wakes anyone blocked in WaitForConnect (spec §4.10
// "event callback (CONNECTED/DISCONNECTED)").
func (c *Client) onEvent(ev scheduler.Event) {
	if ev == scheduler.EventConnected && c.fsm != nil {
		c.fsm.SetSession(c.sched.Session())
	}

	c.mu.Lock()
	c.connected = ev == scheduler.EventConnected
	ch := c.connCh
	if c.connected {
		c.connCh = make(chan struct{})
	}
	c.mu.Unlock()
	if ev == scheduler.EventConnected {
		close(ch)
	}
	c.log.Infof("client: %s", ev)
}

// Start launches the scheduler goroutine and, if a Platform was configured,
// runs the OTA boot sequence and subscribes to the manifest resource (spec
// §4.10 "start").
func (c *Client) Start(ctx context.Context) error {
	c.runDone = make(chan struct{})
	go func() {
		c.sched.Run(ctx)
		close(c.runDone)
	}()

	if c.fsm != nil {
		c.fsm.Boot(ctx, c.WaitForConnect)
		if _, err := svcota.Subscribe(ctx, c.sched, c.fsm); err != nil {
			return fmt.Errorf("subscribing to manifest resource: %w", err)
		}
	}

	if err := c.RPC.Start(ctx); err != nil {
		c.log.WithError(err).Warn("client: failed to start rpc service")
	}
	if err := c.Settings.Start(ctx); err != nil {
		c.log.WithError(err).Warn("client: failed to start settings service")
	}
	return nil
}

// Stop terminates the scheduler and waits for its goroutine to exit (spec
// §4.10 "stop").
func (c *Client) Stop() {
	c.sched.Stop()
	if c.runDone != nil {
		<-c.runDone
	}
}

// Destroy stops the client and clears it from the Active() singleton slot
// (spec §4.10 "destroy").
func (c *Client) Destroy() {
	c.Stop()
	activeClient.CompareAndSwap(c, nil)
	if logs.ActiveShipper() == c.Logs {
		logs.SetActiveShipper(nil)
	}
}

// WaitForConnect blocks until the client is connected or timeout elapses,
// returning whether it is connected (spec §4.10 "wait_for_connect(timeout)").
func (c *Client) WaitForConnect(ctx context.Context, timeout time.Duration) bool {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return true
	}
	ch := c.connCh
	c.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Client) currentCredentials() transport.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

// RotateCredentials installs new PKI material (typically a PKICredentials
// carrying a freshly issued secondary CA, see
// transport.Credentials.WithSecondaryCA) for the *next* dial attempt
// (SPEC_FULL.md §6 "certificate rotation / provisioning flow"). It does not
// tear down a session that is already up; the new credentials take effect
// the next time the scheduler reconnects, whether because of a transport
// failure or a caller-forced Stop/Start cycle.
func (c *Client) RotateCredentials(creds transport.Credentials) {
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
}

// Connected reports the last known connection state.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Scheduler exposes the underlying scheduler for callers that need direct
// request access beyond the bundled services (e.g. a custom resource path).
func (c *Client) Scheduler() *scheduler.Scheduler {
	return c.sched
}
