package headerdownload

import (
	"context"

	"github.com/glyphchain/hdsync/internal/log"
	"github.com/glyphchain/hdsync/internal/metrics"
)

var (
	headerInMeter   = metrics.NewRegisteredMeter("headerdownload/headers/in")
	headerDropMeter = metrics.NewRegisteredMeter("headerdownload/headers/drop")
	receiveLog      = log.New("headerdownload/receive")
)

// FetchReceiveStage matches inbound header responses to Waiting slices and
// promotes accepted ones to Downloaded. Responses that don't match an
// in-flight request are discarded silently; malformed ones are discarded and
// the sending peer is penalized with MalformedResponse. In both cases the
// slice will simply be retried (by RetryStage) or re-requested once Empty
// again.
type FetchReceiveStage struct {
	window    *SliceWindow
	transport Transport
	responses <-chan HeaderResponse
}

// NewFetchReceiveStage constructs a FetchReceiveStage and subscribes to the
// transport's inbound response stream.
func NewFetchReceiveStage(ctx context.Context, window *SliceWindow, transport Transport) (*FetchReceiveStage, error) {
	responses, err := transport.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return &FetchReceiveStage{window: window, transport: transport, responses: responses}, nil
}

// Run drains every response currently buffered without blocking, applying
// each to the matching slice.
func (r *FetchReceiveStage) Run(ctx context.Context) error {
	for {
		select {
		case resp, ok := <-r.responses:
			if !ok {
				return nil
			}
			r.handle(resp)
		default:
			return nil
		}
	}
}

func (r *FetchReceiveStage) handle(resp HeaderResponse) {
	if len(resp.Headers) == 0 {
		return
	}
	headerInMeter.Mark(int64(len(resp.Headers)))

	start := resp.Headers[0].Number
	slice := r.window.FindByStartBlockNum(start)
	if slice == nil {
		headerDropMeter.Mark(1)
		return
	}
	if slice.Status() != Waiting {
		// Stale or duplicate response for a slice we've already moved on
		// from; discard silently per the fetch-receive contract.
		headerDropMeter.Mark(1)
		return
	}
	if !validResponseShape(resp.Headers, start) {
		headerDropMeter.Mark(1)
		receiveLog.Debug("malformed response, slice will be retried", "peer", resp.PeerID, "start", start)
		r.transport.Penalize(resp.PeerID, MalformedResponse)
		return
	}

	r.window.SetStatus(slice, Downloaded, func() { slice.acceptHeaders(resp.Headers, resp.PeerID) })
	receiveLog.Debug("accepted headers", "peer", resp.PeerID, "start", start)
}

// validResponseShape reports whether headers contains exactly SliceSize
// entries with consecutive numbers starting at start. Parent-hash chaining
// is checked later, by VerifyInternalStage.
func validResponseShape(headers []*BlockHeader, start BlockNumber) bool {
	if len(headers) != SliceSize {
		return false
	}
	for i, h := range headers {
		if h.Number != start+BlockNumber(i) {
			return false
		}
	}
	return true
}
