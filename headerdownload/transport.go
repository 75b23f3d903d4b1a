package headerdownload

import "context"

// PenaltyReason is a closed enumeration of reasons a peer can be penalized
// for. This downloader emits Continuity (PenalizeStage) and MalformedResponse
// (FetchReceiveStage); the enum leaves room for a transport with richer
// scoring without the core depending on it.
type PenaltyReason int

const (
	// Continuity covers both intra-slice continuity failures (broken parent
	// chain) and checkpoint mismatches: the slice was internally consistent
	// or linked, but did not match what the downloader trusts.
	Continuity PenaltyReason = iota
	// MalformedResponse covers wrong-length or non-consecutive batches.
	MalformedResponse
)

func (r PenaltyReason) String() string {
	switch r {
	case Continuity:
		return "continuity-or-checkpoint-mismatch"
	case MalformedResponse:
		return "malformed-response"
	default:
		return "unknown"
	}
}

// GetHeadersRequest asks a peer for count consecutive headers starting at
// start.
type GetHeadersRequest struct {
	Start BlockNumber
	Count uint64
}

// HeaderResponse is an inbound batch of headers attributed to a peer.
type HeaderResponse struct {
	PeerID  PeerID
	Headers []*BlockHeader
}

// Transport is the subset of the peer-to-peer "sentry" layer this downloader
// consumes: dispatching range requests, receiving responses, penalizing
// misbehaving peers, and listing currently healthy peers.
type Transport interface {
	// SendRequest dispatches a GetHeaders request to a specific peer.
	SendRequest(ctx context.Context, peer PeerID, req GetHeadersRequest) error
	// Receive returns a channel of inbound header responses. The channel is
	// closed when the transport shuts down.
	Receive(ctx context.Context) (<-chan HeaderResponse, error)
	// Penalize notifies the transport that a peer should be scored down or
	// banned.
	Penalize(peer PeerID, reason PenaltyReason)
	// Peers returns the currently healthy peer set.
	Peers() []PeerID
}
