package headerdownload

import (
	"github.com/glyphchain/hdsync/headerdownload/checkpoint"
	"github.com/glyphchain/hdsync/internal/log"
)

var verifyLinkLog = log.New("headerdownload/verify-link")

// VerifyLinkStage checks each VerifiedInternally slice against the baked-in
// checkpoint table: the slice's last header's hash must equal the checkpoint
// recorded at start+SliceSize. This spec deliberately checks the trailing
// hash rather than the leading one (both are equivalent given internal
// continuity already holds; the choice only needs to be consistent).
type VerifyLinkStage struct {
	window     *SliceWindow
	checkpoint *checkpoint.Table
}

// NewVerifyLinkStage constructs a VerifyLinkStage bound to window and table.
func NewVerifyLinkStage(window *SliceWindow, table *checkpoint.Table) *VerifyLinkStage {
	return &VerifyLinkStage{window: window, checkpoint: table}
}

// Run verifies every VerifiedInternally slice against the checkpoint table
// and, when the immediately preceding slice is already Verified or Saved,
// against that slice's last header too.
func (v *VerifyLinkStage) Run() {
	for _, slice := range v.window.FindBatchByStatus(VerifiedInternally, v.window.MaxSlices()) {
		headers := slice.Headers()
		last := headers[len(headers)-1]

		if !v.linksToPrevious(slice, headers[0]) {
			verifyLinkLog.Debug("does not chain from previous slice", "start", slice.StartBlockNum())
			v.window.SetStatus(slice, Invalid, func() { slice.setStatus(Invalid) })
			continue
		}

		expected, ok := v.checkpoint.Lookup(uint64(slice.StartBlockNum() + SliceSize))
		if !ok {
			// No checkpoint recorded at this height: trust the
			// internally-verified, previous-linked chain (happens past the
			// last checkpoint boundary the table was built for).
			v.window.SetStatus(slice, Verified, func() { slice.setStatus(Verified) })
			continue
		}

		if last.Hash() == BlockHash(expected) {
			v.window.SetStatus(slice, Verified, func() { slice.setStatus(Verified) })
		} else {
			verifyLinkLog.Debug("checkpoint mismatch", "start", slice.StartBlockNum())
			v.window.SetStatus(slice, Invalid, func() { slice.setStatus(Invalid) })
		}
	}
}

// linksToPrevious checks first.ParentHash against the preceding slice's last
// header hash, when that preceding slice is present in the window and has
// already cleared verification. If the preceding slice isn't available (it
// may already be Saved and removed, or this may be the window's first
// slice), there is nothing to compare against and the check passes
// trivially — the checkpoint table is the source of truth in that case.
func (v *VerifyLinkStage) linksToPrevious(slice *HeaderSlice, first *BlockHeader) bool {
	if slice.StartBlockNum() == 0 {
		return true
	}
	prev := v.window.FindByStartBlockNum(slice.StartBlockNum() - SliceSize)
	if prev == nil {
		return true
	}
	switch prev.Status() {
	case Verified, Saved:
	default:
		return true
	}
	prevHeaders := prev.Headers()
	if len(prevHeaders) == 0 {
		return true
	}
	return first.ParentHash == prevHeaders[len(prevHeaders)-1].Hash()
}
