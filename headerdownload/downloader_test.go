package headerdownload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/glyphchain/hdsync/headerdownload/checkpoint"
	"github.com/glyphchain/hdsync/internal/sentry"
)

// testRetryTimeout overrides RetryStage's timeout in tests that need a
// request to expire quickly: the production RequestTimeout is tuned for WAN
// jitter, not test iteration.
const testRetryTimeout = 30 * time.Millisecond

func scriptChain(chain []*BlockHeader, base BlockNumber) sentry.PeerScriptFunc {
	return func(req GetHeadersRequest) []*BlockHeader {
		offset := uint64(req.Start - base)
		if offset+req.Count > uint64(len(chain)) {
			return nil
		}
		return chain[offset : offset+req.Count]
	}
}

func runToCompletion(t *testing.T, d *Downloader) Report {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	report, err := d.Run(ctx)
	require.NoError(t, err)
	return report
}

// S1: happy path, one healthy peer, full range downloads and saves in order.
func TestDownloaderHappyPath(t *testing.T) {
	const final = BlockNumber(4 * SliceSize)
	chain, table := buildChain(0, final)

	transport := sentry.NewMockTransport()
	transport.AddPeer("good-peer", scriptChain(chain, 0))

	writer := newMemWriter()
	d, err := New(context.Background(), Config{
		MemLimit:      uint64(2 * SliceSize * int(approxHeaderSize)),
		StartBlockNum: 0,
		FinalBlockNum: final,
	}, transport, writer, table)
	require.NoError(t, err)

	report := runToCompletion(t, d)
	require.Equal(t, final, report.FinalBlockNumReached)
	require.Equal(t, int(final), writer.count())
	require.Equal(t, 0, transport.PenaltyCount("good-peer"))

	numbers := writer.orderedNumbers()
	for i, n := range numbers {
		require.Equal(t, BlockNumber(i), n)
	}
}

// S2: a single peer corrupts its first response for a given range (breaking
// intra-slice continuity) then serves correctly afterward. The bad batch must
// be rejected and the peer penalized, and the corrected retry must still
// complete the run.
func TestDownloaderBadPeerIsPenalizedAndRecovered(t *testing.T) {
	const final = BlockNumber(2 * SliceSize)
	chain, table := buildChain(0, final)

	var mu sync.Mutex
	served := make(map[BlockNumber]bool)
	flaky := func(req GetHeadersRequest) []*BlockHeader {
		mu.Lock()
		firstAttempt := !served[req.Start]
		served[req.Start] = true
		mu.Unlock()

		headers := scriptChain(chain, 0)(req)
		if firstAttempt && req.Start == 0 {
			corrupted := make([]*BlockHeader, len(headers))
			copy(corrupted, headers)
			corrupted[len(corrupted)-1] = &BlockHeader{ParentHash: BlockHash{0xff}, Number: corrupted[len(corrupted)-1].Number}
			return corrupted
		}
		return headers
	}

	transport := sentry.NewMockTransport()
	transport.AddPeer("flaky-peer", flaky)

	writer := newMemWriter()
	d, err := New(context.Background(), Config{
		MemLimit:      uint64(2 * SliceSize * int(approxHeaderSize)),
		StartBlockNum: 0,
		FinalBlockNum: final,
	}, transport, writer, table)
	require.NoError(t, err)

	report := runToCompletion(t, d)
	require.Equal(t, final, report.FinalBlockNumReached)
	require.Equal(t, int(final), writer.count())
	require.Greater(t, transport.PenaltyCount("flaky-peer"), 0)
}

// S3: a peer that never answers forces RetryStage to reclaim the slice and
// a later attempt (after the timeout) succeeds.
func TestDownloaderTimeoutTriggersRetry(t *testing.T) {
	const final = BlockNumber(SliceSize)
	chain, table := buildChain(0, final)

	silentUntil := time.Now().Add(50 * time.Millisecond)
	transport := sentry.NewMockTransport()
	transport.AddPeer("slow-peer", func(req GetHeadersRequest) []*BlockHeader {
		if time.Now().Before(silentUntil) {
			return nil
		}
		return scriptChain(chain, 0)(req)
	})

	writer := newMemWriter()
	d, err := New(context.Background(), Config{
		MemLimit:      uint64(2 * SliceSize * int(approxHeaderSize)),
		StartBlockNum: 0,
		FinalBlockNum: final,
	}, transport, writer, table)
	require.NoError(t, err)
	d.retry.timeout = testRetryTimeout

	report := runToCompletion(t, d)
	require.Equal(t, final, report.FinalBlockNumReached)
	require.Equal(t, int(final), writer.count())
}

// S4: the served chain is internally consistent but does not match the
// checkpoint table (simulating a peer swarm that agrees on a fork). Every
// attempt is rejected and retried until request_attempt is exhausted, at
// which point the run aborts with a fatal stall and nothing has been saved.
func TestDownloaderCheckpointMismatchStalls(t *testing.T) {
	const final = BlockNumber(SliceSize)
	chain, _ := buildChain(0, final)
	wrongTable := checkpoint.NewTable(map[uint64][32]byte{uint64(final): {0xde, 0xad}})

	transport := sentry.NewMockTransport()
	transport.AddPeer("peer", scriptChain(chain, 0))

	writer := newMemWriter()
	d, err := New(context.Background(), Config{
		MemLimit:      uint64(2 * SliceSize * int(approxHeaderSize)),
		StartBlockNum: 0,
		FinalBlockNum: final,
	}, transport, writer, wrongTable)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = d.Run(ctx)
	require.Error(t, err)
	var stallErr *FatalSyncStallError
	require.ErrorAs(t, err, &stallErr)
	require.Equal(t, 0, writer.count())
}

// S5: the window never holds more slices than its configured capacity, even
// while the full range is much larger than one window's worth of memory.
func TestDownloaderWindowStaysBounded(t *testing.T) {
	const final = BlockNumber(10 * SliceSize)
	chain, table := buildChain(0, final)

	transport := sentry.NewMockTransport()
	transport.AddPeer("peer", scriptChain(chain, 0))

	writer := newMemWriter()
	d, err := New(context.Background(), Config{
		MemLimit:      uint64(3 * SliceSize * int(approxHeaderSize)),
		StartBlockNum: 0,
		FinalBlockNum: final,
	}, transport, writer, table)
	require.NoError(t, err)
	require.Equal(t, 3, d.Window().MaxSlices())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for !d.Window().IsDone() {
			require.LessOrEqual(t, d.Window().Len(), d.Window().MaxSlices())
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
		}
	}()

	report := runToCompletion(t, d)
	cancel()
	<-done
	require.Equal(t, final, report.FinalBlockNumReached)
}

// S6: a run cancelled partway through, then resumed via PreviousRunState,
// completes the remaining range without re-downloading already-saved blocks.
func TestDownloaderResumeFromPreviousRunState(t *testing.T) {
	const final = BlockNumber(6 * SliceSize)
	chain, table := buildChain(0, final)

	transport := sentry.NewMockTransport()
	transport.AddPeer("peer", scriptChain(chain, 0))

	writer := newMemWriter()
	d, err := New(context.Background(), Config{
		MemLimit:      uint64(2 * SliceSize * int(approxHeaderSize)),
		StartBlockNum: 0,
		FinalBlockNum: final,
	}, transport, writer, table)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	firstReport, err := d.Run(ctx)
	require.NoError(t, err)

	resumed, err := New(context.Background(), Config{
		MemLimit:         uint64(2 * SliceSize * int(approxHeaderSize)),
		StartBlockNum:    0,
		FinalBlockNum:    final,
		PreviousRunState: &firstReport.RunState,
	}, transport, writer, table)
	require.NoError(t, err)

	finalReport := runToCompletion(t, resumed)
	require.Equal(t, final, finalReport.FinalBlockNumReached)

	seen := make(map[BlockNumber]bool)
	for _, n := range writer.orderedNumbers() {
		require.False(t, seen[n], "block %d written more than once across resume", n)
		seen[n] = true
	}
	require.Len(t, seen, int(final))
}

// Boundary #8: a mem_limit too small to hold a single slice fails
// construction rather than silently producing a zero-capacity window.
func TestNewSliceWindowRejectsUndersizedMemLimit(t *testing.T) {
	_, err := NewSliceWindow(1, 0, SliceSize)
	require.ErrorIs(t, err, ErrConfiguration)
}

// A database write failure partway through a batch is fatal: Run aborts and
// returns an error instead of silently dropping the rest of the batch.
func TestDownloaderAbortsOnDatabaseWriteFailure(t *testing.T) {
	const final = BlockNumber(SliceSize)
	chain, table := buildChain(0, final)

	transport := sentry.NewMockTransport()
	transport.AddPeer("peer", scriptChain(chain, 0))

	writer := newMemWriter()
	writer.failOnWrite(5)

	d, err := New(context.Background(), Config{
		MemLimit:      uint64(2 * SliceSize * int(approxHeaderSize)),
		StartBlockNum: 0,
		FinalBlockNum: final,
	}, transport, writer, table)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = d.Run(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "database write failed")
	require.Less(t, writer.count(), int(final))
}

// StatusProvider.Announce runs once before the coordinator loop starts, and
// the transport observes the configured ChainConfig.
func TestDownloaderAnnouncesStatusBeforeSync(t *testing.T) {
	const final = BlockNumber(SliceSize)
	chain, table := buildChain(0, final)

	transport := sentry.NewMockTransport()
	transport.AddPeer("peer", scriptChain(chain, 0))

	chainCfg := ChainConfig{NetworkID: 7, Genesis: BlockHash{0x42}}

	writer := newMemWriter()
	d, err := New(context.Background(), Config{
		ChainConfig:    chainCfg,
		MemLimit:       uint64(2 * SliceSize * int(approxHeaderSize)),
		StartBlockNum:  0,
		FinalBlockNum:  final,
		StatusProvider: sentry.Announcer{},
	}, transport, writer, table)
	require.NoError(t, err)

	report := runToCompletion(t, d)
	require.Equal(t, final, report.FinalBlockNumReached)

	announced, ok := transport.AnnouncedChain()
	require.True(t, ok)
	require.Equal(t, chainCfg, announced)
}

// A transport that rejects the announced chain (e.g. a genesis hash
// mismatch) aborts the run before any fetching or writing happens.
func TestDownloaderAbortsOnChainMismatch(t *testing.T) {
	const final = BlockNumber(SliceSize)
	chain, table := buildChain(0, final)

	transport := sentry.NewMockTransport()
	transport.AddPeer("peer", scriptChain(chain, 0))
	transport.RequireChain(ChainConfig{NetworkID: 1, Genesis: BlockHash{0x01}})

	writer := newMemWriter()
	d, err := New(context.Background(), Config{
		ChainConfig:    ChainConfig{NetworkID: 2, Genesis: BlockHash{0x02}},
		MemLimit:       uint64(2 * SliceSize * int(approxHeaderSize)),
		StartBlockNum:  0,
		FinalBlockNum:  final,
		StatusProvider: sentry.Announcer{},
	}, transport, writer, table)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = d.Run(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "announcing status")
	require.Equal(t, 0, writer.count())
}

// Boundary #9: final_block_num == start_block_num completes immediately
// with no transport interaction and no stored headers.
func TestDownloaderEmptyRangeCompletesImmediately(t *testing.T) {
	transport := sentry.NewMockTransport()
	writer := newMemWriter()
	table := checkpoint.NewTable(map[uint64][32]byte{})

	d, err := New(context.Background(), Config{
		MemLimit:      uint64(2 * SliceSize * int(approxHeaderSize)),
		StartBlockNum: SliceSize,
		FinalBlockNum: SliceSize,
	}, transport, writer, table)
	require.NoError(t, err)
	require.True(t, d.Window().IsDone())

	report := runToCompletion(t, d)
	require.Equal(t, BlockNumber(SliceSize), report.FinalBlockNumReached)
	require.Equal(t, 0, writer.count())
}
