package ota

import (
	"bytes"
	"context"
	"crypto/sha256"
	"net"
	"testing"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/plgd-dev/go-coap/v2/udp/message/pool"

	"github.com/golioth/golioth-firmware-sdk-go/coap"
)

type fakePlatform struct {
	blocks      [][]byte
	offsets     []int
	validated   bool
	bootChanged bool
	rebooted    bool
	ended       bool
}

func (p *fakePlatform) IsPendingVerify() bool { return false }
func (p *fakePlatform) CancelRollback() error { return nil }
func (p *fakePlatform) Rollback() error       { return nil }
func (p *fakePlatform) HandleBlock(block []byte, offset, total int) error {
	cp := append([]byte(nil), block...)
	p.blocks = append(p.blocks, cp)
	p.offsets = append(p.offsets, offset)
	return nil
}
func (p *fakePlatform) ReadCurrentImageAt(buf []byte, offset int) (int, error) { return 0, nil }
func (p *fakePlatform) Validate() error                                        { p.validated = true; return nil }
func (p *fakePlatform) ChangeBootImage() error                                  { p.bootChanged = true; return nil }
func (p *fakePlatform) Reboot()                                                 { p.rebooted = true }
func (p *fakePlatform) End()                                                    { p.ended = true }

type fakeReporter struct{ reports []StatusReport }

func (r *fakeReporter) Report(ctx context.Context, s StatusReport) error {
	r.reports = append(r.reports, s)
	return nil
}

type wholeImageConn struct {
	data      []byte
	blockSize int
}

func (c *wholeImageConn) Do(msg *pool.Message) (*pool.Message, error) {
	v, _ := msg.GetOptionUint32(coap.OptionBlock2)
	blk := coap.DecodeBlockOption(v)
	start := int(blk.Num) * c.blockSize
	end := start + c.blockSize
	more := true
	if end >= len(c.data) {
		end = len(c.data)
		more = false
	}
	resp := pool.AcquireMessage(context.Background())
	resp.SetCode(codes.Content)
	resp.SetToken(msg.Token())
	resp.SetBody(bytes.NewReader(c.data[start:end]))
	opt, _ := coap.EncodeBlockOption(coap.BlockOption{Num: blk.Num, More: more, Size: uint32(c.blockSize)})
	resp.SetOptionUint32(coap.OptionBlock2, opt)
	resp.SetOptionUint32(coap.OptionSize2, uint32(len(c.data)))
	return resp, nil
}
func (c *wholeImageConn) Observe(ctx context.Context, path string, fn func(req *pool.Message), opts ...message.Option) (coap.Observation, error) {
	return nil, coap.ErrNotImplemented
}
func (c *wholeImageConn) Ping(ctx context.Context) error { return nil }
func (c *wholeImageConn) RemoteAddr() net.Addr           { return nil }
func (c *wholeImageConn) Close() error                   { return nil }
func (c *wholeImageConn) AddOnClose(func())              {}
func (c *wholeImageConn) Context() context.Context       { return context.Background() }

func TestHandleManifestIgnoresMatchingVersion(t *testing.T) {
	platform := &fakePlatform{}
	reporter := &fakeReporter{}
	cfg := DefaultConfig("1.2.3")
	f := New(cfg, platform, coap.NewSession(&wholeImageConn{}), reporter, nil, nil)

	f.HandleManifest(context.Background(), &Manifest{Components: []Component{{Package: "main", Version: "1.2.3"}}})

	if len(reporter.reports) != 0 {
		t.Errorf("expected no reports for a no-op manifest, got %d", len(reporter.reports))
	}
	if f.State() != StateIdle {
		t.Errorf("expected state to remain Idle, got %s", f.State())
	}
}

func TestHandleManifestHappyPath(t *testing.T) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	sum := sha256.Sum256(data)

	platform := &fakePlatform{}
	reporter := &fakeReporter{}
	cfg := DefaultConfig("1.0.0")
	cfg.DownloadBlockSize = 16
	f := New(cfg, platform, coap.NewSession(&wholeImageConn{data: data, blockSize: 16}), reporter, nil, nil)

	f.HandleManifest(context.Background(), &Manifest{Components: []Component{{Package: "main", Version: "1.2.4", Size: uint32(len(data)), Hash: sum}}})

	if !platform.validated || !platform.bootChanged || !platform.rebooted {
		t.Fatalf("expected full apply sequence, got validated=%v bootChanged=%v rebooted=%v", platform.validated, platform.bootChanged, platform.rebooted)
	}
	if f.State() != StateUpdating {
		t.Errorf("expected final state Updating, got %s", f.State())
	}

	wantOffsets := []int{0, 16, 32, 48}
	if len(platform.offsets) != len(wantOffsets) {
		t.Fatalf("expected %d blocks handled, got %d: %v", len(wantOffsets), len(platform.offsets), platform.offsets)
	}
	for i, want := range wantOffsets {
		if platform.offsets[i] != want {
			t.Errorf("block %d: expected offset %d, got %d", i, want, platform.offsets[i])
		}
	}
}

func TestHandleManifestHashMismatchAborts(t *testing.T) {
	data := make([]byte, 32)
	platform := &fakePlatform{}
	reporter := &fakeReporter{}
	cfg := DefaultConfig("1.0.0")
	cfg.DownloadBlockSize = 16
	f := New(cfg, platform, coap.NewSession(&wholeImageConn{data: data, blockSize: 16}), reporter, nil, nil)

	var wrongHash [32]byte
	wrongHash[0] = 0xFF
	f.HandleManifest(context.Background(), &Manifest{Components: []Component{{Package: "main", Version: "1.2.4", Size: uint32(len(data)), Hash: wrongHash}}})

	if !platform.ended {
		t.Errorf("expected Platform.End to be called on hash mismatch")
	}
	if platform.bootChanged {
		t.Errorf("boot image must not change after a hash mismatch")
	}
	if f.State() != StateIdle {
		t.Errorf("expected final state Idle after integrity failure, got %s", f.State())
	}
}
