// Package pipeline implements pipeline metrics.
package pipeline

import (
	"sync/atomic"
)

// Metrics contains pipeline metrics counters.
//
// For every framed segment the counters hold
// Rows + Unknown + Malformed == Messages.
type Metrics struct {
	// Packet counters (using atomic for thread-safety)
	Packets       atomic.Uint64
	HeaderErrors  atomic.Uint64
	Segments      atomic.Uint64
	SegmentErrors atomic.Uint64
	Heartbeats    atomic.Uint64
	Messages      atomic.Uint64
	Rows          atomic.Uint64
	Unknown       atomic.Uint64
	Malformed     atomic.Uint64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Packets.Store(0)
	m.HeaderErrors.Store(0)
	m.Segments.Store(0)
	m.SegmentErrors.Store(0)
	m.Heartbeats.Store(0)
	m.Messages.Store(0)
	m.Rows.Store(0)
	m.Unknown.Store(0)
	m.Malformed.Store(0)
}
