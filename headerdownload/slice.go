package headerdownload

import (
	"sync"
	"time"
)

// HeaderSlice is the unit of work: a fixed-size, contiguous batch of headers
// tagged with a lifecycle Status. Every mutable field is guarded by mu so that
// independent stages can operate on distinct slices concurrently without
// contending on the window's own lock.
type HeaderSlice struct {
	mu sync.RWMutex

	startBlockNum  BlockNumber
	status         Status
	headers        []*BlockHeader // len == SliceSize iff status.hasHeaders()
	fromPeerID     PeerID
	hasFromPeer    bool
	requestTime    time.Time
	hasRequestTime bool
	requestAttempt uint16
}

func newEmptySlice(start BlockNumber) *HeaderSlice {
	return &HeaderSlice{startBlockNum: start, status: Empty}
}

// StartBlockNum returns the slice's aligned starting block number.
func (s *HeaderSlice) StartBlockNum() BlockNumber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startBlockNum
}

// Status returns the slice's current status.
func (s *HeaderSlice) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Headers returns the slice's headers, or nil if the slice does not carry any
// in its current status. The returned slice must not be mutated.
func (s *HeaderSlice) Headers() []*BlockHeader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.headers
}

// FromPeer returns the peer that supplied the current headers, if any.
func (s *HeaderSlice) FromPeer() (PeerID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fromPeerID, s.hasFromPeer
}

// RequestTime returns when the outstanding fetch was dispatched, if Waiting.
func (s *HeaderSlice) RequestTime() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requestTime, s.hasRequestTime
}

// RequestAttempt returns the current retry counter.
func (s *HeaderSlice) RequestAttempt() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requestAttempt
}

// markWaiting transitions Empty -> Waiting, recording the dispatch time and
// bumping request_attempt. Caller must already know the slice is Empty; the
// window is responsible for the status-counter bookkeeping around this call.
func (s *HeaderSlice) markWaiting(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Waiting
	s.requestTime = now
	s.hasRequestTime = true
	s.requestAttempt++
}

// acceptHeaders transitions Waiting -> Downloaded, storing the response.
func (s *HeaderSlice) acceptHeaders(headers []*BlockHeader, from PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Downloaded
	s.headers = headers
	s.fromPeerID = from
	s.hasFromPeer = true
	s.hasRequestTime = false
}

// resetToEmpty clears headers/peer/request state and transitions to Empty.
// Used by RetryStage (Waiting -> Empty), PenalizeStage (Invalid -> Empty) and
// FetchStage when a request could not be sent (Waiting -> Empty).
func (s *HeaderSlice) resetToEmpty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Empty
	s.headers = nil
	s.hasFromPeer = false
	s.hasRequestTime = false
}

// setStatus transitions to a new status without touching any other field.
// Used for the pure verification-result transitions (Downloaded ->
// VerifiedInternally/Invalid, VerifiedInternally -> Verified/Invalid,
// Verified -> Saved).
func (s *HeaderSlice) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// isExpired reports whether a Waiting slice's deadline has elapsed.
func (s *HeaderSlice) isExpired(now time.Time, timeout time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != Waiting || !s.hasRequestTime {
		return false
	}
	return now.Sub(s.requestTime) > timeout
}
