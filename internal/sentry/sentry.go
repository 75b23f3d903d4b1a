// Package sentry is the header downloader's peer-to-peer transport layer: it
// tracks the currently healthy peer set, dispatches GetHeaders requests, and
// fans inbound responses back to the downloader. The downloader only ever
// sees this through the headerdownload.Transport interface. The only
// implementation in this package is MockTransport, a deterministic in-memory
// transport used by tests and the demo CLI; it contains no network-backed
// transport.
package sentry

import (
	"context"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set"

	"github.com/glyphchain/hdsync/headerdownload"
	"github.com/glyphchain/hdsync/internal/log"
)

var sentryLog = log.New("sentry")

// PeerScriptFunc answers a GetHeaders request for one peer in the mock
// transport: it returns the headers to respond with, or nil to simulate a
// dropped/never-delivered response.
type PeerScriptFunc func(req headerdownload.GetHeadersRequest) []*headerdownload.BlockHeader

// MockTransport is a deterministic, in-memory headerdownload.Transport used
// to script peer behavior precisely in tests (good/bad/slow peers, dropped
// responses, corrupted batches).
type MockTransport struct {
	mu             sync.Mutex
	peers          mapset.Set
	scripts        map[headerdownload.PeerID]PeerScriptFunc
	responses      chan headerdownload.HeaderResponse
	penalties      map[headerdownload.PeerID]int
	requireChain   *headerdownload.ChainConfig
	announcedChain *headerdownload.ChainConfig
}

// NewMockTransport constructs an empty mock transport; peers are added with
// AddPeer.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		peers:     mapset.NewSet(),
		scripts:   make(map[headerdownload.PeerID]PeerScriptFunc),
		responses: make(chan headerdownload.HeaderResponse, 256),
		penalties: make(map[headerdownload.PeerID]int),
	}
}

// AddPeer registers a peer with the given response script and marks it
// healthy.
func (m *MockTransport) AddPeer(id headerdownload.PeerID, script PeerScriptFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[id] = script
	m.peers.Add(id)
}

// RemovePeer marks a peer unhealthy, as if it disconnected.
func (m *MockTransport) RemovePeer(id headerdownload.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers.Remove(id)
}

// SendRequest immediately invokes the peer's script and, if it returns
// headers, queues a response. A nil return simulates a request that is never
// answered (used to test RetryStage's timeout path).
func (m *MockTransport) SendRequest(ctx context.Context, peer headerdownload.PeerID, req headerdownload.GetHeadersRequest) error {
	m.mu.Lock()
	script, ok := m.scripts[peer]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	headers := script(req)
	if headers == nil {
		return nil
	}
	select {
	case m.responses <- headerdownload.HeaderResponse{PeerID: peer, Headers: headers}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Receive returns the shared inbound response channel.
func (m *MockTransport) Receive(ctx context.Context) (<-chan headerdownload.HeaderResponse, error) {
	return m.responses, nil
}

// Penalize records a penalty against a peer; tests assert on PenaltyCount.
func (m *MockTransport) Penalize(peer headerdownload.PeerID, reason headerdownload.PenaltyReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.penalties[peer]++
	sentryLog.Debug("peer penalized", "peer", peer, "reason", reason, "total", m.penalties[peer])
}

// PenaltyCount returns how many times a peer has been penalized.
func (m *MockTransport) PenaltyCount(peer headerdownload.PeerID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.penalties[peer]
}

// Peers returns the currently healthy peer set.
func (m *MockTransport) Peers() []headerdownload.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]headerdownload.PeerID, 0, m.peers.Cardinality())
	for p := range m.peers.Iter() {
		ids = append(ids, p.(headerdownload.PeerID))
	}
	return ids
}

// RequireChain configures the mock transport to reject a status
// announcement that disagrees with chain, simulating a real peer connection
// dropped over a network id or genesis hash mismatch.
func (m *MockTransport) RequireChain(chain headerdownload.ChainConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requireChain = &chain
}

// SetStatus implements StatusReceiver: it records the announced chain
// identity, rejecting it if it disagrees with a chain configured via
// RequireChain.
func (m *MockTransport) SetStatus(ctx context.Context, chain headerdownload.ChainConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requireChain != nil && *m.requireChain != chain {
		return fmt.Errorf("sentry: chain mismatch: local network_id=%d genesis=%x, remote network_id=%d genesis=%x",
			m.requireChain.NetworkID, m.requireChain.Genesis, chain.NetworkID, chain.Genesis)
	}
	c := chain
	m.announcedChain = &c
	sentryLog.Debug("status announced", "network_id", chain.NetworkID, "genesis", chain.Genesis)
	return nil
}

// AnnouncedChain returns the most recently announced ChainConfig, if any.
func (m *MockTransport) AnnouncedChain() (headerdownload.ChainConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.announcedChain == nil {
		return headerdownload.ChainConfig{}, false
	}
	return *m.announcedChain, true
}

// StatusReceiver is implemented by transports that can accept a pre-sync
// status announcement: the local chain identity, sent once before the fetch
// loop is allowed to start. Grounded on the eth wire protocol's status
// handshake (network id + genesis hash) that the teacher's peer handling
// performs before admitting a connection.
type StatusReceiver interface {
	SetStatus(ctx context.Context, chain headerdownload.ChainConfig) error
}

// Announcer is the default headerdownload.StatusProvider for sentry-backed
// transports: it forwards the local chain identity to any transport
// implementing StatusReceiver, and is a no-op against one that doesn't.
type Announcer struct{}

// Announce implements headerdownload.StatusProvider.
func (Announcer) Announce(ctx context.Context, transport headerdownload.Transport, chain headerdownload.ChainConfig) error {
	receiver, ok := transport.(StatusReceiver)
	if !ok {
		return nil
	}
	return receiver.SetStatus(ctx, chain)
}
