package ota

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/golioth/golioth-firmware-sdk-go/blockwise"
	"github.com/golioth/golioth-firmware-sdk-go/coap"
)

// RollbackTimeout is FW_ROLLBACK_TIMER_S: how long the boot step waits for
// a successful connect before declaring rollback (spec §4.8 step 1).
const RollbackTimeout = 5 * time.Minute

// RebootCountdown is the logged countdown before Platform.Reboot (spec
// §4.8 step 6: "after a 5-second logged countdown").
const RebootCountdown = 5 * time.Second

// BackoffInitial and BackoffCap implement spec §4.8's "Backoff between
// failed attempts doubles from 60 s to a cap of 24 h".
const (
	BackoffInitial = 60 * time.Second
	BackoffCap     = 24 * time.Hour
)

// ManifestObserveBackoffInitial is spec §4.8 step 2's "retry-with-backoff
// (initial 5 s, cap configurable)" for the manifest subscription itself.
const ManifestObserveBackoffInitial = 5 * time.Second

// Config bundles the FSM's fixed parameters (spec §6 "OTA max components
// 1, OTA max package-name 16, OTA max version 16, OTA observation retry
// cap 1 h").
type Config struct {
	PackageName           string // default "main"
	CurrentVersion         string
	DownloadBlockSize      int // spec §6 default 1024
	ManifestObserveBackoffCap time.Duration
	Pipeline               []Stage
}

// DefaultConfig matches original_source's GOLIOTH_FW_UPDATE_DEFAULT_PACKAGE_NAME
// and spec §6's defaults.
func DefaultConfig(currentVersion string) Config {
	return Config{
		PackageName:               "main",
		CurrentVersion:            currentVersion,
		DownloadBlockSize:         1024,
		ManifestObserveBackoffCap: time.Hour,
	}
}

// StateChangeFunc is the registered state-change listener (spec §4.8/§5).
// It is called synchronously from each transition, on whichever goroutine
// is running Boot or HandleManifest (in the client, the Start caller and
// the manifest notification callback respectively), so a blocking listener
// delays the transition's status report and the rest of the update.
type StateChangeFunc func(state State, reason Reason)

// FSM drives the firmware-update lifecycle described in spec §4.8. It owns
// no transport directly — the session and the Reporter are injected so it can be
// unit tested against a fake session the same way scheduler and blockwise
// are.
type FSM struct {
	cfg      Config
	platform Platform
	session  *coap.Session
	reporter Reporter
	log      *logrus.Entry
	onChange StateChangeFunc

	state  State
	resume blockwise.ResumeAttempts

	// inProgressTarget guards spec §4.8 step 3's "If a prior download to
	// the same target is already in progress, ignore."
	inProgressTarget string
}

// New constructs an FSM bound to session for downloads and reporter for
// status reporting.
func New(cfg Config, platform Platform, session *coap.Session, reporter Reporter, log *logrus.Entry, onChange StateChangeFunc) *FSM {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FSM{cfg: cfg, platform: platform, session: session, reporter: reporter, log: log, onChange: onChange, state: StateIdle}
}

// State returns the FSM's current state.
func (f *FSM) State() State { return f.state }

// SetSession replaces the session the FSM drives downloads through. The
// client facade calls this on every reconnect (spec §4.5's scheduler
// reconnect paragraph applies here too: a stale session must never be used
// for a new download).
func (f *FSM) SetSession(session *coap.Session) {
	f.session = session
}

func (f *FSM) transition(ctx context.Context, s State, r Reason) {
	f.state = s
	if f.onChange != nil {
		f.onChange(s, r)
	}
	report := StatusReport{Package: f.cfg.PackageName, State: s, Reason: r}
	if f.reporter != nil {
		ReportWithRetry(ctx, f.reporter, report, func(format string, args ...interface{}) { f.log.Warnf(format, args...) })
	}
}

// Boot runs spec §4.8 step 1. Call it once at startup before subscribing to
// the manifest. When an image is pending verification, Boot blocks inside
// isConnected, which is given RollbackTimeout; the wait itself is supplied
// by the caller (the client façade passes its WaitForConnect).
func (f *FSM) Boot(ctx context.Context, isConnected func(ctx context.Context, timeout time.Duration) bool) {
	if !f.platform.IsPendingVerify() {
		return
	}
	if isConnected(ctx, RollbackTimeout) {
		if err := f.platform.CancelRollback(); err != nil {
			f.log.WithError(err).Error("cancel rollback failed")
		}
		f.transition(ctx, StateUpdating, ReasonUpdatedSuccessfully)
		return
	}
	f.log.Warn("no connect within rollback timeout, rolling back")
	if err := f.platform.Rollback(); err != nil {
		f.log.WithError(err).Error("rollback failed")
	}
	f.platform.Reboot()
}

// HandleManifest runs spec §4.8 steps 3-5 for one received manifest
// notification.
func (f *FSM) HandleManifest(ctx context.Context, m *Manifest) {
	comp, ok := m.ComponentByPackage(f.cfg.PackageName)
	if !ok {
		return
	}
	if comp.Version == f.cfg.CurrentVersion {
		f.log.Debug("manifest version matches current version, ignoring")
		return
	}
	target := comp.Package + "@" + comp.Version
	if f.inProgressTarget == target {
		f.log.Debug("download already in progress for this target, ignoring")
		return
	}

	f.inProgressTarget = target
	defer func() { f.inProgressTarget = "" }()

	f.download(ctx, comp)
}

// download implements spec §4.8 steps 4-5: resumable blockwise download
// with a per-block SHA-256 updater, then hash verification.
func (f *FSM) download(ctx context.Context, comp Component) {
	f.resume.Reset()
	f.transition(ctx, StateDownloading, ReasonDownloading)

	hasher := sha256.New()
	pipeline := NewPipeline(func(buf []byte, offset int) error {
		hasher.Write(buf)
		return f.platform.HandleBlock(buf, offset, int(comp.Size))
	}, f.cfg.Pipeline...)

	startIndex := uint32(0)
	for {
		lastAt, err := blockwise.Download(ctx, f.session, comp.URI, startIndex, f.cfg.DownloadBlockSize, func(data []byte, offset, total int) error {
			return pipeline.Feed(data)
		})
		if err == nil {
			break
		}
		if !f.resume.Record() {
			f.log.Errorf("download of %s failed after %d resumes, giving up", comp.Package, blockwise.MaxResumesBeforeFail)
			f.transition(ctx, StateIdle, ReasonIO)
			return
		}
		f.log.WithError(err).Warnf("download of %s failed at block %d, resuming after delay", comp.Package, lastAt)
		select {
		case <-time.After(blockwise.ResumeDelay):
		case <-ctx.Done():
			return
		}
		startIndex = lastAt
	}
	f.resume.Reset()

	f.transition(ctx, StateDownloaded, ReasonDownloaded)

	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	if sum != comp.Hash {
		f.log.Error("firmware hash mismatch, aborting update")
		f.platform.End()
		f.transition(ctx, StateIdle, ReasonIntegrityCheckFailure)
		return
	}

	if err := f.platform.Validate(); err != nil {
		f.log.WithError(err).Error("platform validation failed")
		f.platform.End()
		f.transition(ctx, StateIdle, ReasonFirmwareUpdateFailed)
		return
	}

	f.update(ctx, comp)
}

// update implements spec §4.8 step 6.
func (f *FSM) update(ctx context.Context, comp Component) {
	f.transition(ctx, StateUpdating, ReasonUpdated)
	if err := f.platform.ChangeBootImage(); err != nil {
		f.log.WithError(err).Error("change boot image failed")
		f.transition(ctx, StateIdle, ReasonFirmwareUpdateFailed)
		return
	}
	for s := int(RebootCountdown / time.Second); s > 0; s-- {
		f.log.Infof("rebooting in %ds to apply %s@%s", s, comp.Package, comp.Version)
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return
		}
	}
	f.platform.Reboot()
}

// NextBackoff doubles d, capped at BackoffCap, for the "loop back to Idle
// with backoff" path of spec §4.8 step 5.
func NextBackoff(d time.Duration) time.Duration {
	if d <= 0 {
		d = BackoffInitial
	}
	d *= 2
	if d > BackoffCap {
		d = BackoffCap
	}
	return d
}
