// Package headerdownload implements a bounded-memory, pipelined block-header
// downloader: it pulls headers from a swarm of untrusted peers, verifies them
// against a baked-in checkpoint-hash table, and persists them in strict
// ascending order. The stage pipeline is driven by Downloader in
// downloader.go.
package headerdownload

import (
	"encoding/binary"
	"time"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// SliceSize is the fixed number of headers per slice. All block ranges this
// package works with are aligned to multiples of SliceSize.
const SliceSize = 192

// RequestTimeout is how long a Waiting slice is given before RetryStage
// reclaims it. Chosen to tolerate typical WAN round-trip jitter without
// leaving a dead request occupying a slice for long.
const RequestTimeout = 5 * time.Second

// MaxRequestAttempts bounds request_attempt. A slice that has been retried
// this many times without success is reported as a fatal sync stall instead
// of being retried forever (see DESIGN.md, "Open Question decisions").
const MaxRequestAttempts = 16

// BlockNumber is a block height.
type BlockNumber uint64

// BlockHash is an opaque 32-byte block or header hash.
type BlockHash [32]byte

// PeerID is an opaque transport-assigned peer identifier.
type PeerID string

// AlignToSliceStart rounds num down to the nearest SliceSize boundary.
func AlignToSliceStart(num BlockNumber) BlockNumber {
	return num / SliceSize * SliceSize
}

// BlockHeader is the parsed header record this downloader moves around. Only
// the fields needed for continuity and checkpoint verification are modeled;
// everything else a full node would want (gas limits, state root, ...) is
// opaque to this package and carried in Extra.
type BlockHeader struct {
	ParentHash BlockHash
	Number     BlockNumber
	Timestamp  uint64
	Difficulty *uint256.Int
	Extra      []byte

	hash      BlockHash
	hashValid bool
}

// Hash returns the header's hash, computing and memoizing it on first call.
// Hashing here is a stand-in for full RLP header encoding: it commits to the
// fields that matter for chaining (ParentHash, Number, Timestamp, Difficulty,
// Extra), which is all an opaque-header consumer of this package needs.
func (h *BlockHeader) Hash() BlockHash {
	if h.hashValid {
		return h.hash
	}
	d := sha3.NewLegacyKeccak256()
	d.Write(h.ParentHash[:])
	var numBuf [8]byte
	binary.BigEndian.PutUint64(numBuf[:], uint64(h.Number))
	d.Write(numBuf[:])
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], h.Timestamp)
	d.Write(tsBuf[:])
	if h.Difficulty != nil {
		diffBytes := h.Difficulty.Bytes32()
		d.Write(diffBytes[:])
	}
	d.Write(h.Extra)

	var sum BlockHash
	copy(sum[:], d.Sum(nil))
	h.hash = sum
	h.hashValid = true
	return sum
}
