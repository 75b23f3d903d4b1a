package headerdownload

import "github.com/glyphchain/hdsync/internal/log"

var verifyInternalLog = log.New("headerdownload/verify-internal")

// VerifyInternalStage checks intra-slice continuity: header numbers must run
// start..start+SliceSize strictly increasing by one, slice-start aligned, and
// each header's ParentHash must equal the previous header's Hash. It never
// blocks and never touches the network or the database.
type VerifyInternalStage struct {
	window *SliceWindow
}

// NewVerifyInternalStage constructs a VerifyInternalStage bound to window.
func NewVerifyInternalStage(window *SliceWindow) *VerifyInternalStage {
	return &VerifyInternalStage{window: window}
}

// Run verifies every Downloaded slice, promoting or demoting each one.
func (v *VerifyInternalStage) Run() {
	for _, slice := range v.window.FindBatchByStatus(Downloaded, v.window.MaxSlices()) {
		headers := slice.Headers()
		if checkInternalContinuity(headers, slice.StartBlockNum()) {
			v.window.SetStatus(slice, VerifiedInternally, func() { slice.setStatus(VerifiedInternally) })
		} else {
			verifyInternalLog.Debug("internal continuity check failed", "start", slice.StartBlockNum())
			v.window.SetStatus(slice, Invalid, func() { slice.setStatus(Invalid) })
		}
	}
}

// checkInternalContinuity reports whether headers forms a contiguous,
// parent-linked chain covering [start, start+SliceSize).
func checkInternalContinuity(headers []*BlockHeader, start BlockNumber) bool {
	if len(headers) != SliceSize {
		return false
	}
	for i, h := range headers {
		if h.Number != start+BlockNumber(i) {
			return false
		}
		if i > 0 && h.ParentHash != headers[i-1].Hash() {
			return false
		}
	}
	return true
}
