package headerdownload

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
)

// ErrConfiguration is returned by NewSliceWindow when the constructor
// arguments cannot produce a usable window (misaligned boundaries, or a
// memory budget too small to hold even one slice).
var ErrConfiguration = errors.New("headerdownload: invalid configuration")

// statusWatch is a single-slot broadcast: Broadcast closes the current
// channel and swaps in a fresh one, so anyone blocked on the old channel
// wakes, re-reads state, and re-subscribes. It deliberately does not queue
// events — missed intermediate edges are fine, callers only care about
// current counts.
type statusWatch struct {
	mu sync.Mutex
	ch chan struct{}
}

func newStatusWatch() *statusWatch {
	return &statusWatch{ch: make(chan struct{})}
}

func (w *statusWatch) current() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ch
}

func (w *statusWatch) broadcast() {
	w.mu.Lock()
	defer w.mu.Unlock()
	close(w.ch)
	w.ch = make(chan struct{})
}

// approxHeaderSize is the per-header memory charge used to size the window.
// BlockHeader carries variable-length Extra bytes and a pointer-sized
// Difficulty, so unsafe.Sizeof only accounts for the fixed part of the
// struct; this is the same approximation the upstream sizing formula makes
// (mem_limit / sizeof(header) / SLICE_SIZE), not an exact accounting.
var approxHeaderSize = unsafe.Sizeof(BlockHeader{})

// SliceWindow is the in-memory bounded sliding window of HeaderSlices. It
// holds a single reader/writer lock for structural changes (append/remove)
// while each slice guards its own mutable fields, so independent stages can
// mutate distinct slices concurrently.
type SliceWindow struct {
	mu     sync.RWMutex
	slices []*HeaderSlice

	maxSlices     int
	maxBlockNum   uint64 // atomic
	finalBlockNum BlockNumber

	counters [numStatuses]int32
	watches  [numStatuses]*statusWatch
}

// NewSliceWindow constructs a window covering [startBlockNum, finalBlockNum),
// sized to hold at most memLimit bytes of headers. Both bounds must be
// SliceSize-aligned. If finalBlockNum == startBlockNum the window starts (and
// stays) empty: the run completes with no transport interaction.
func NewSliceWindow(memLimit uint64, startBlockNum, finalBlockNum BlockNumber) (*SliceWindow, error) {
	if startBlockNum%SliceSize != 0 || finalBlockNum%SliceSize != 0 {
		return nil, errors.Wrap(ErrConfiguration, "start/final block num must be slice-aligned")
	}
	if finalBlockNum < startBlockNum {
		return nil, errors.Wrap(ErrConfiguration, "final block num precedes start block num")
	}

	totalBlocks := uint64(finalBlockNum - startBlockNum)
	slotsFromRange := totalBlocks / SliceSize

	slotsFromMem := memLimit / uint64(approxHeaderSize) / SliceSize
	if slotsFromMem == 0 && totalBlocks > 0 {
		return nil, errors.Wrap(ErrConfiguration, "mem_limit too small to hold a single slice")
	}

	maxSlices := slotsFromMem
	if slotsFromRange < maxSlices {
		maxSlices = slotsFromRange
	}

	w := &SliceWindow{
		maxSlices:     int(maxSlices),
		finalBlockNum: finalBlockNum,
	}
	for i := range w.watches {
		w.watches[i] = newStatusWatch()
	}

	for i := uint64(0); i < maxSlices; i++ {
		start := startBlockNum + BlockNumber(i*SliceSize)
		w.slices = append(w.slices, newEmptySlice(start))
	}
	w.counters[Empty] = int32(maxSlices)
	atomic.StoreUint64(&w.maxBlockNum, uint64(startBlockNum)+maxSlices*SliceSize)

	return w, nil
}

// Len returns the current number of slices held in the window.
func (w *SliceWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.slices)
}

// MaxSlices returns the window's capacity.
func (w *SliceWindow) MaxSlices() int { return w.maxSlices }

// MaxBlockNum returns one past the highest block covered by any slice
// currently in the window (or final_block_num if the window is empty).
func (w *SliceWindow) MaxBlockNum() BlockNumber {
	return BlockNumber(atomic.LoadUint64(&w.maxBlockNum))
}

// FinalBlockNum returns the fixed upper bound of the pre-verified range.
func (w *SliceWindow) FinalBlockNum() BlockNumber { return w.finalBlockNum }

// MinBlockNum returns the first slice's start_block_num, or max_block_num if
// the window is currently empty.
func (w *SliceWindow) MinBlockNum() BlockNumber {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.slices) == 0 {
		return w.MaxBlockNum()
	}
	return w.slices[0].StartBlockNum()
}

// IsDone reports whether the window is empty and the full pre-verified range
// has been covered.
func (w *SliceWindow) IsDone() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.slices) == 0 && w.MaxBlockNum() >= w.finalBlockNum
}

// CountInStatus returns the number of slices currently in the given status.
func (w *SliceWindow) CountInStatus(status Status) int {
	return int(atomic.LoadInt32(&w.counters[status]))
}

// HasAnyInStatus reports whether any of the given statuses currently has a
// nonzero count.
func (w *SliceWindow) HasAnyInStatus(statuses ...Status) bool {
	for _, s := range statuses {
		if w.CountInStatus(s) > 0 {
			return true
		}
	}
	return false
}

// Watch returns the current wake channel for a status. It closes the next
// time NotifyAll is called; callers must call Watch again afterward to
// obtain the new channel.
func (w *SliceWindow) Watch(status Status) <-chan struct{} {
	return w.watches[status].current()
}

// NotifyAll re-broadcasts the current authoritative counts to every status's
// watchers, waking anything blocked in Watch.
func (w *SliceWindow) NotifyAll() {
	for _, watch := range w.watches {
		watch.broadcast()
	}
}

// Head returns the first slice in the window (lowest start_block_num), or
// nil if the window is currently empty.
func (w *SliceWindow) Head() *HeaderSlice {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.slices) == 0 {
		return nil
	}
	return w.slices[0]
}

// FindByStatus returns the first slice (in order) matching status, if any.
func (w *SliceWindow) FindByStatus(status Status) *HeaderSlice {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, s := range w.slices {
		if s.Status() == status {
			return s
		}
	}
	return nil
}

// FindBatchByStatus returns up to k slices (in order) matching status.
func (w *SliceWindow) FindBatchByStatus(status Status, k int) []*HeaderSlice {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var batch []*HeaderSlice
	for _, s := range w.slices {
		if s.Status() == status {
			batch = append(batch, s)
			if len(batch) == k {
				break
			}
		}
	}
	return batch
}

// FindByStartBlockNum performs random access by starting block number.
func (w *SliceWindow) FindByStartBlockNum(n BlockNumber) *HeaderSlice {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, s := range w.slices {
		if s.StartBlockNum() == n {
			return s
		}
	}
	return nil
}

// SetStatus atomically swaps a slice's status and adjusts the two affected
// counters. apply performs the slice-local field mutation (clearing or
// setting headers/peer/request-time as appropriate for the transition); it
// runs while the slice's own lock is held, inside the same critical section
// the status swap uses, via one of HeaderSlice's transition methods.
func (w *SliceWindow) SetStatus(slice *HeaderSlice, newStatus Status, apply func()) {
	oldStatus := slice.Status()
	if oldStatus == newStatus {
		return
	}
	apply()
	atomic.AddInt32(&w.counters[oldStatus], -1)
	atomic.AddInt32(&w.counters[newStatus], 1)
}

// Remove deletes slices matching status from the head of the window only,
// stopping at the first non-matching slice. In this pipeline only Saved
// slices are ever removed, and only ever at the head (RefillStage), but the
// operation is written generally per the window's contract.
func (w *SliceWindow) Remove(status Status) {
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for len(w.slices) > 0 && w.slices[0].Status() == status {
		w.slices = w.slices[1:]
		removed++
	}
	if removed > 0 {
		atomic.AddInt32(&w.counters[status], -int32(removed))
	}
}

// Refill appends new Empty slices at the tail until the window reaches
// capacity or the final block has been covered.
func (w *SliceWindow) Refill() {
	w.mu.Lock()
	defer w.mu.Unlock()

	added := int32(0)
	for len(w.slices) < w.maxSlices {
		maxBlockNum := w.MaxBlockNum()
		if maxBlockNum >= w.finalBlockNum {
			break
		}
		w.slices = append(w.slices, newEmptySlice(maxBlockNum))
		atomic.AddUint64(&w.maxBlockNum, SliceSize)
		added++
	}
	if added > 0 {
		atomic.AddInt32(&w.counters[Empty], added)
	}
}
