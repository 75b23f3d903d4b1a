package headerdownload

import (
	"errors"
	"sync"
)

// errInjectedWriteFailure is returned by memWriter.PutHeader once failOnWrite
// has armed it, so tests can exercise SaveStage's fatal database-write-failure
// path deterministically.
var errInjectedWriteFailure = errors.New("memWriter: injected write failure")

// memWriter is an in-memory Writer that records every PutHeader call in
// arrival order (canonical hashes are kept by block number only), so tests
// can assert both the final contents and the write ordering invariant
// (strictly ascending, no gaps).
type memWriter struct {
	mu          sync.Mutex
	writeOrder  []BlockNumber
	headers     map[BlockNumber]*BlockHeader
	canonical   map[BlockNumber]BlockHash
	commitCount int
	failAt      BlockNumber
	shouldFail  bool
}

func newMemWriter() *memWriter {
	return &memWriter{
		headers:   make(map[BlockNumber]*BlockHeader),
		canonical: make(map[BlockNumber]BlockHash),
	}
}

// failOnWrite arms the writer to fail the PutHeader call for block num,
// simulating a database write failure partway through a batch.
func (w *memWriter) failOnWrite(num BlockNumber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failAt = num
	w.shouldFail = true
}

func (w *memWriter) PutHeader(num BlockNumber, header *BlockHeader) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.shouldFail && num == w.failAt {
		return errInjectedWriteFailure
	}
	w.writeOrder = append(w.writeOrder, num)
	w.headers[num] = header
	return nil
}

func (w *memWriter) PutCanonicalHash(num BlockNumber, hash BlockHash) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.canonical[num] = hash
	return nil
}

func (w *memWriter) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.commitCount++
	return nil
}

func (w *memWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writeOrder)
}

func (w *memWriter) orderedNumbers() []BlockNumber {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]BlockNumber, len(w.writeOrder))
	copy(out, w.writeOrder)
	return out
}
