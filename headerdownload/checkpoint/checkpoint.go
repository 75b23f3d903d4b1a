// Package checkpoint holds the baked-in, ordered table of checkpoint hashes
// the header downloader trusts in place of full consensus validation: one
// hash per SliceSize-aligned block height within the pre-verified range.
//
// It is kept free of any dependency on package headerdownload (which embeds
// this package) by working in plain uint64/[32]byte; headerdownload converts
// at the boundary.
package checkpoint

// Table is an immutable ordered mapping of aligned block number to a trusted
// hash. Package headerdownload compares the entry at a slice's end boundary
// (start+SliceSize) with the hash of that slice's last header, so the entry
// at height k holds the hash of block k-1.
type Table struct {
	hashes map[uint64][32]byte
}

// NewTable builds a checkpoint table from a set of (aligned height, hash)
// pairs, as would normally be loaded from an embedded resource generated at
// release time. Construction does not validate alignment; callers populate
// it from trusted, pre-aligned data.
func NewTable(entries map[uint64][32]byte) *Table {
	hashes := make(map[uint64][32]byte, len(entries))
	for num, hash := range entries {
		hashes[num] = hash
	}
	return &Table{hashes: hashes}
}

// Lookup returns the expected hash at an aligned block height, if covered by
// this table.
func (t *Table) Lookup(num uint64) ([32]byte, bool) {
	h, ok := t.hashes[num]
	return h, ok
}

// Len reports how many checkpoints the table covers.
func (t *Table) Len() int { return len(t.hashes) }
