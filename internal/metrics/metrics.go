// Package metrics is a small meter/timer registry in the shape of
// go-ethereum-family nodes' metrics package: named, process-global counters
// that downstream exporters (statsd, influxdb, prometheus) can scrape.
// It intentionally does not depend on a specific exporter — only a registry
// of atomically-updated counters, matching how the header downloader's own
// metrics.go (in the teacher) only ever calls NewRegisteredMeter/Timer and
// leaves exporting to an outer layer.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Meter counts events over the lifetime of the process.
type Meter struct {
	count int64
}

// Mark records n occurrences of the metered event.
func (m *Meter) Mark(n int64) { atomic.AddInt64(&m.count, n) }

// Count returns the total observed so far.
func (m *Meter) Count() int64 { return atomic.LoadInt64(&m.count) }

// Timer accumulates a running total and count, from which a mean can be
// derived; a faithful histogram is outer-layer concern.
type Timer struct {
	mu    sync.Mutex
	total time.Duration
	count int64
}

// UpdateSince records the duration elapsed since start.
func (t *Timer) UpdateSince(start time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += time.Since(start)
	t.count++
}

// Mean returns the running mean duration, or zero if nothing was recorded.
func (t *Timer) Mean() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return 0
	}
	return t.total / time.Duration(t.count)
}

var (
	registryMu sync.Mutex
	meters     = map[string]*Meter{}
	timers     = map[string]*Timer{}
)

// NewRegisteredMeter creates (or returns the existing) named meter.
func NewRegisteredMeter(name string) *Meter {
	registryMu.Lock()
	defer registryMu.Unlock()
	if m, ok := meters[name]; ok {
		return m
	}
	m := &Meter{}
	meters[name] = m
	return m
}

// NewRegisteredTimer creates (or returns the existing) named timer.
func NewRegisteredTimer(name string) *Timer {
	registryMu.Lock()
	defer registryMu.Unlock()
	if t, ok := timers[name]; ok {
		return t
	}
	t := &Timer{}
	timers[name] = t
	return t
}
