package headerdownload

import "github.com/glyphchain/hdsync/headerdownload/checkpoint"

// buildChain returns a deterministic, internally-linked header chain
// covering [start, final), along with a checkpoint table built from that
// same chain (one entry per SliceSize boundary), so the happy-path tests can
// serve headers that verify cleanly end to end.
func buildChain(start, final BlockNumber) ([]*BlockHeader, *checkpoint.Table) {
	chain := make([]*BlockHeader, 0, uint64(final-start))
	var parent BlockHash
	for n := start; n < final; n++ {
		h := &BlockHeader{ParentHash: parent, Number: n}
		chain = append(chain, h)
		parent = h.Hash()
	}

	entries := make(map[uint64][32]byte)
	for n := start + SliceSize; n <= final; n += SliceSize {
		entries[uint64(n)] = [32]byte(chain[n-start-1].Hash())
	}
	return chain, checkpoint.NewTable(entries)
}

// chainSlice returns the sub-slice of chain covering [start, start+SliceSize).
func chainSlice(chain []*BlockHeader, base, start BlockNumber) []*BlockHeader {
	offset := uint64(start - base)
	return chain[offset : offset+SliceSize]
}
