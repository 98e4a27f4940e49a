// Package metrics is a minimal, concurrency-safe counter registry.
//
// The relay is expected to plug into a real metrics backend eventually; this
// keeps dispatch and enforcement logic testable in the meantime and feeds the
// /metrics endpoint.
package metrics

import "sync"

// Counter event names.
const (
	EventMalformedMessage   = "malformed_message"
	EventRateLimited        = "rate_limited"
	EventPresenceBroadcast  = "presence_broadcast"
	EventMessageRouted      = "message_routed"
	EventMessageUnreachable = "message_unreachable"
	EventCallStarted        = "call_started"
	EventCallUnreachable    = "call_unreachable"
	EventCallBusy           = "call_busy"
	EventCallAnswered       = "call_answered"
	EventCallRejected       = "call_rejected"
	EventCallEnded          = "call_ended"
	EventCallTimedOut       = "call_timed_out"
	EventStaleCallEvent     = "stale_call_event"
)

type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot copies all counters for export.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
