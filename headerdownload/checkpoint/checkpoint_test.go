package checkpoint

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTableLookup(t *testing.T) {
	table := NewTable(map[uint64][32]byte{
		192: {0x01},
		384: {0x02},
	})

	require.Equal(t, 2, table.Len())

	hash, ok := table.Lookup(192)
	require.True(t, ok)
	require.Equal(t, [32]byte{0x01}, hash)

	_, ok = table.Lookup(576)
	require.False(t, ok)
}

func TestDecodeRoundTrip(t *testing.T) {
	entries := map[uint64][32]byte{
		0:   {0xaa},
		192: {0xbb},
	}
	var data []byte
	for num := uint64(0); num <= 192; num += 192 {
		hash := entries[num]
		var numBuf [8]byte
		binary.BigEndian.PutUint64(numBuf[:], num)
		data = append(data, numBuf[:]...)
		data = append(data, hash[:]...)
	}

	table, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, len(entries), table.Len())
	for num, want := range entries {
		got, ok := table.Lookup(num)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestDecodeRejectsMalformedLength(t *testing.T) {
	_, err := Decode(make([]byte, entrySize+1))
	require.Error(t, err)
}

func TestDemoTableLoads(t *testing.T) {
	table, err := Demo()
	require.NoError(t, err)
	require.Greater(t, table.Len(), 0)
}
