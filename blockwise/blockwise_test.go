package blockwise

import (
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/plgd-dev/go-coap/v2/udp/message/pool"

	"github.com/golioth/golioth-firmware-sdk-go/coap"
)

// scriptedConn replies to Do() with successive wire messages built from a
// byte slice, splitting it into fixed-size blocks — enough to exercise the
// download driver's block-increment and Block2.More logic without a real
// socket.
type scriptedConn struct {
	data      []byte
	blockSize int
	failAt    uint32 // simulate a transport error on this block number, once
	failed    bool
}

func (c *scriptedConn) Do(msg *pool.Message) (*pool.Message, error) {
	v, _ := msg.GetOptionUint32(coap.OptionBlock2)
	blk := coap.DecodeBlockOption(v)

	if blk.Num == c.failAt && !c.failed {
		c.failed = true
		return nil, coap.NewError(coap.KindIOError, "simulated drop", nil)
	}

	start := int(blk.Num) * c.blockSize
	if start >= len(c.data) {
		return nil, coap.NewError(coap.KindInvalidFormat, "block past end", nil)
	}
	end := start + c.blockSize
	more := true
	if end >= len(c.data) {
		end = len(c.data)
		more = false
	}

	resp := pool.AcquireMessage(context.Background())
	resp.SetCode(codes.Content)
	resp.SetToken(msg.Token())
	opt, _ := coap.EncodeBlockOption(coap.BlockOption{Num: blk.Num, More: more, Size: uint32(c.blockSize)})
	resp.SetOptionUint32(coap.OptionBlock2, opt)
	resp.SetOptionUint32(coap.OptionSize2, uint32(len(c.data)))
	return resp, nil
}

func (c *scriptedConn) Observe(ctx context.Context, path string, fn func(req *pool.Message), opts ...message.Option) (coap.Observation, error) {
	return nil, coap.ErrNotImplemented
}
func (c *scriptedConn) Ping(ctx context.Context) error { return nil }
func (c *scriptedConn) RemoteAddr() net.Addr           { return nil }
func (c *scriptedConn) Close() error                   { return nil }
func (c *scriptedConn) AddOnClose(func())              {}
func (c *scriptedConn) Context() context.Context       { return context.Background() }

func TestDownloadCompletesAllBlocks(t *testing.T) {
	data := make([]byte, 100)
	conn := &scriptedConn{data: data, blockSize: 32, failAt: 9999}
	session := coap.NewSession(conn)

	var got []byte
	lastAt, err := Download(context.Background(), session, "/o", 0, 32, func(d []byte, offset, total int) error {
		got = append(got, d...)
		return nil
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if lastAt != 3 {
		t.Errorf("expected to finish on block 3 (100/32 rounds to 4 blocks, index 0-3), got %d", lastAt)
	}
}

func TestDownloadReportsFailingBlockForResume(t *testing.T) {
	data := make([]byte, 200)
	conn := &scriptedConn{data: data, blockSize: 32, failAt: 2}
	session := coap.NewSession(conn)

	_, err := Download(context.Background(), session, "/o", 0, 32, func(d []byte, offset, total int) error {
		return nil
	})
	if coap.KindOf(err) != coap.KindIOError {
		t.Fatalf("expected IOError on simulated drop, got %v", err)
	}

	// Resume from the failing index and confirm it completes.
	lastAt, err := Download(context.Background(), session, "/o", 2, 32, func(d []byte, offset, total int) error {
		return nil
	})
	if err != nil {
		t.Fatalf("resumed Download: %v", err)
	}
	if lastAt != 6 {
		t.Errorf("expected final block index 6 for 200 bytes at blockSize 32, got %d", lastAt)
	}
}

// recordingUploadConn accepts every Block1 POST it receives and records the
// option and payload it was sent, for asserting on the exact sequence of
// blocks Upload emits.
type recordingUploadConn struct {
	gotBlocks  []coap.BlockOption
	gotPayload [][]byte
}

func (c *recordingUploadConn) Do(msg *pool.Message) (*pool.Message, error) {
	v, _ := msg.GetOptionUint32(coap.OptionBlock1)
	c.gotBlocks = append(c.gotBlocks, coap.DecodeBlockOption(v))
	var payload []byte
	if body := msg.Body(); body != nil {
		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(body); err == nil {
			payload = buf.Bytes()
		}
	}
	c.gotPayload = append(c.gotPayload, payload)

	resp := pool.AcquireMessage(context.Background())
	resp.SetCode(codes.Changed)
	resp.SetToken(msg.Token())
	return resp, nil
}

func (c *recordingUploadConn) Observe(ctx context.Context, path string, fn func(req *pool.Message), opts ...message.Option) (coap.Observation, error) {
	return nil, coap.ErrNotImplemented
}
func (c *recordingUploadConn) Ping(ctx context.Context) error { return nil }
func (c *recordingUploadConn) RemoteAddr() net.Addr           { return nil }
func (c *recordingUploadConn) Close() error                   { return nil }
func (c *recordingUploadConn) AddOnClose(func())              {}
func (c *recordingUploadConn) Context() context.Context       { return context.Background() }

func TestUploadExactMultipleOfBlockSizeHasNoTrailingEmptyBlock(t *testing.T) {
	data := make([]byte, 64) // exactly 4 blocks of 16 bytes, no residual
	for i := range data {
		data[i] = byte(i)
	}
	conn := &recordingUploadConn{}
	session := coap.NewSession(conn)

	producer := func(offset, maxLen int) ([]byte, error) {
		if offset >= len(data) {
			return nil, coap.ErrNoMoreData
		}
		end := offset + maxLen
		if end > len(data) {
			end = len(data)
		}
		return data[offset:end], nil
	}

	if err := Upload(context.Background(), session, "/o", coap.ContentTypeCBOR, 16, producer); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if len(conn.gotBlocks) != 4 {
		t.Fatalf("expected exactly 4 blocks, got %d: %+v", len(conn.gotBlocks), conn.gotBlocks)
	}
	for i, blk := range conn.gotBlocks {
		wantMore := i != len(conn.gotBlocks)-1
		if blk.More != wantMore {
			t.Errorf("block %d: expected More=%v, got %v", i, wantMore, blk.More)
		}
	}
	last := conn.gotPayload[len(conn.gotPayload)-1]
	if len(last) != 16 {
		t.Errorf("expected the last block to carry the final 16 data bytes, got %d bytes", len(last))
	}
}

func TestResumeAttemptsCapsAtMax(t *testing.T) {
	var r ResumeAttempts
	for i := 0; i < MaxResumesBeforeFail; i++ {
		if !r.Record() {
			t.Fatalf("attempt %d should still be within the retry budget", i)
		}
	}
	if r.Record() {
		t.Errorf("expected resume %d to be refused once %d resumes used the retry budget", MaxResumesBeforeFail+1, MaxResumesBeforeFail)
	}
}
