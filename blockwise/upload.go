// Package blockwise implements RFC 7959 Block1 upload and Block2 download
// drivers (spec §4.7, component C8) on top of coap.Session. The negotiation
// and resumable-download rules are this package's own; the wire encoding
// is delegated to coap.BlockOption, which itself follows go-coap's
// net/blockwise option shape the way the teacher's mobile/client.go
// configures it (dtls.WithBlockwise).
package blockwise

import (
	"context"

	"github.com/golioth/golioth-firmware-sdk-go/coap"
)

// MinBlockSize and MaxBlockSize bound the negotiated block size (spec §4.7
// "both sides MUST be powers of two between 16 and 1024").
const (
	MinBlockSize = 16
	MaxBlockSize = 1024
)

// Upload drives a Block1 upload of one logical payload, chunked by
// producer (spec §4.7 "Uploads (Block1)"). blockSize is the client's
// requested size; if the server negotiates down in its first Block1 reply,
// Upload restarts from block 0 at the smaller size, exactly as spec.md
// requires ("the client must restart the upload with the smaller size; the
// chunk-producer is reset to block index 0").
func Upload(ctx context.Context, session *coap.Session, path string, contentType coap.ContentType, blockSize int, producer coap.ChunkProducer) error {
	if blockSize < MinBlockSize || blockSize > MaxBlockSize {
		return coap.NewError(coap.KindInvalidFormat, "block size out of range", nil)
	}

	size := blockSize
restart:
	offset := 0
	num := uint32(0)
	chunk, err := producer(offset, size)
	if err != nil && coap.KindOf(err) != coap.KindNoMoreData {
		return err
	}
	done := err != nil
	for {
		// Peek one chunk ahead so the block carrying the last bytes of the
		// payload is itself the one that sets more=false, even when the
		// payload length is an exact multiple of size — otherwise the
		// producer's exhaustion shows up as a spurious empty trailing block.
		var more bool
		var nextChunk []byte
		if !done {
			nextChunk, err = producer(offset+len(chunk), size)
			if err != nil && coap.KindOf(err) != coap.KindNoMoreData {
				return err
			}
			more = err == nil
		}

		req := &coap.Request{
			Method:      coap.MethodBlockPost,
			Path:        path,
			ContentType: contentType,
			Payload:     chunk,
			Block1: coap.BlockOption{
				Num:  num,
				More: more,
				Size: uint32(size),
			},
			Token: session.NextToken(),
		}
		resp, doErr := session.Do(ctx, req)
		session.ReleaseToken(req.Token)
		if doErr != nil {
			return doErr
		}
		if !resp.Status.OK() {
			return coap.NewError(coap.KindFail, "server rejected block "+resp.Status.String(), nil)
		}

		if resp.HasBlock1 && resp.Block1.Size != 0 && resp.Block1.Size < uint32(size) {
			size = int(resp.Block1.Size)
			goto restart
		}

		if !more {
			return nil
		}
		offset += len(chunk)
		num++
		chunk = nextChunk
		done = false
	}
}
