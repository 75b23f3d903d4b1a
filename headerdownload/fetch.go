package headerdownload

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/glyphchain/hdsync/internal/log"
	"github.com/glyphchain/hdsync/internal/metrics"
)

var (
	headerReqTimer = metrics.NewRegisteredTimer("headerdownload/headers/req")
	fetchLog       = log.New("headerdownload/fetch")
)

// FetchStage picks Empty slices and dispatches GetHeaders requests to peers,
// round-robining across the transport's currently healthy peer set. A slice
// whose request could not be dispatched (no peers available) is left Empty
// for the next tick.
type FetchStage struct {
	window    *SliceWindow
	transport Transport
	rrCursor  uint64 // atomic round-robin cursor across Peers()
}

// NewFetchStage constructs a FetchStage bound to the given window and
// transport.
func NewFetchStage(window *SliceWindow, transport Transport) *FetchStage {
	return &FetchStage{window: window, transport: transport}
}

// Run dispatches a request for every Empty slice in the window while at
// least one peer is available, rotating across peers; the burst is bounded
// by the window's capacity.
func (f *FetchStage) Run(ctx context.Context) error {
	for f.window.CountInStatus(Empty) > 0 {
		peers := f.transport.Peers()
		if len(peers) == 0 {
			return nil
		}

		slice := f.window.FindByStatus(Empty)
		if slice == nil {
			return nil
		}

		attempt := slice.RequestAttempt()
		if attempt >= MaxRequestAttempts {
			return &FatalSyncStallError{StartBlockNum: slice.StartBlockNum(), Attempts: attempt}
		}

		peer := peers[f.nextPeerIndex(len(peers))]
		req := GetHeadersRequest{Start: slice.StartBlockNum(), Count: SliceSize}

		now := time.Now()
		f.window.SetStatus(slice, Waiting, func() { slice.markWaiting(now) })

		start := time.Now()
		if err := f.transport.SendRequest(ctx, peer, req); err != nil {
			fetchLog.Debug("send request failed, will retry next tick", "peer", peer, "start", slice.StartBlockNum(), "err", err)
			f.window.SetStatus(slice, Empty, slice.resetToEmpty)
			return nil
		}
		headerReqTimer.UpdateSince(start)
		fetchLog.Debug("dispatched fetch", "peer", peer, "start", slice.StartBlockNum())
	}
	return nil
}

func (f *FetchStage) nextPeerIndex(n int) int {
	idx := atomic.AddUint64(&f.rrCursor, 1)
	return int(idx % uint64(n))
}

// FatalSyncStallError is returned when a slice has exhausted
// MaxRequestAttempts: the sync is stuck and the coordinator should abort
// rather than retry indefinitely.
type FatalSyncStallError struct {
	StartBlockNum BlockNumber
	Attempts      uint16
}

func (e *FatalSyncStallError) Error() string {
	return "headerdownload: sync stalled, slice exhausted retry attempts"
}
