package headerdownload

import "github.com/glyphchain/hdsync/internal/log"

var penalizeLog = log.New("headerdownload/penalize")

// PenalizeStage notifies the transport about peers that supplied Invalid
// slices, then resets those slices back to Empty so they get re-requested.
// The re-request goes to the next peer in FetchStage's round-robin, which is
// not necessarily a different peer from the one penalized.
type PenalizeStage struct {
	window    *SliceWindow
	transport Transport
}

// NewPenalizeStage constructs a PenalizeStage bound to window and transport.
func NewPenalizeStage(window *SliceWindow, transport Transport) *PenalizeStage {
	return &PenalizeStage{window: window, transport: transport}
}

// Run penalizes and resets every Invalid slice.
func (p *PenalizeStage) Run() {
	for _, slice := range p.window.FindBatchByStatus(Invalid, p.window.MaxSlices()) {
		if peer, ok := slice.FromPeer(); ok {
			penalizeLog.Debug("penalizing peer", "peer", peer, "start", slice.StartBlockNum())
			p.transport.Penalize(peer, Continuity)
		}
		p.window.SetStatus(slice, Empty, slice.resetToEmpty)
	}
}
