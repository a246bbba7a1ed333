package blockwise

import (
	"context"
	"time"

	"github.com/golioth/golioth-firmware-sdk-go/coap"
)

// MaxResumesBeforeFail is FW_MAX_BLOCK_RESUME_BEFORE_FAIL (spec §4.7, spec
// §6 default table).
const MaxResumesBeforeFail = 15

// ResumeDelay is the pause before retrying a failed download attempt (spec
// §4.7 "Resume delay: 15 s").
const ResumeDelay = 15 * time.Second

// OnBlock is invoked synchronously for every received block (spec §4.7
// "on_block is invoked synchronously with each received block and returns
// Ok to continue or an error to abort the current attempt").
type OnBlock func(data []byte, offset int, total int) error

// Download drives a resumable Block2 download of path, starting at
// startIndex (block number, not byte offset), calling onBlock for each
// received block. If the download did not complete it returns the index of
// the block that failed (the one to resume from) and the error; on success
// it returns the index of the last block and a nil error. The caller (the
// OTA state machine)
// decides whether to schedule a resume or declare failure once
// MaxResumesBeforeFail attempts have been exhausted (spec §4.7
// "download_component(target, start_index, on_block, on_end, arg)").
func Download(ctx context.Context, session *coap.Session, path string, startIndex uint32, blockSize int, onBlock OnBlock) (failedAt uint32, err error) {
	if blockSize < MinBlockSize || blockSize > MaxBlockSize {
		return startIndex, coap.NewError(coap.KindInvalidFormat, "block size out of range", nil)
	}

	num := startIndex
	offset := int(startIndex) * blockSize
	total := -1

	for {
		req := &coap.Request{
			Method: coap.MethodBlockGet,
			Path:   path,
			Block2: coap.BlockOption{Num: num, Size: uint32(blockSize)},
			Token:  session.NextToken(),
		}
		resp, doErr := session.Do(ctx, req)
		session.ReleaseToken(req.Token)
		if doErr != nil {
			return num, doErr
		}
		if !resp.Status.OK() {
			return num, coap.NewError(coap.KindFail, "server rejected block "+resp.Status.String(), nil)
		}
		if resp.Size2 > 0 {
			total = int(resp.Size2)
		}

		if err := onBlock(resp.Payload, offset, total); err != nil {
			return num, err
		}

		if !resp.HasBlock2 || !resp.Block2.More {
			return num, nil
		}
		offset += len(resp.Payload)
		num++
	}
}

// ResumeAttempts tracks how many times a single logical download has been
// resumed, so the OTA state machine can enforce MaxResumesBeforeFail (spec
// §4.7) without duplicating the counter in fsm.go.
type ResumeAttempts struct {
	count int
}

// Record increments the resume counter and reports whether the download
// should still be retried (count <= MaxResumesBeforeFail) or declared
// failed.
func (r *ResumeAttempts) Record() (shouldRetry bool) {
	r.count++
	return r.count <= MaxResumesBeforeFail
}

// Reset clears the counter, called once a download attempt completes
// successfully or a brand new download (different target) begins.
func (r *ResumeAttempts) Reset() { r.count = 0 }
