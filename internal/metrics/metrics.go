package metrics

import "sync"

// Counter names. Exposed as flint_events_total{event="..."}.
const (
	EventJoin                   = "join"
	EventPoll                   = "poll"
	EventSignal                 = "signal"
	EventKeepAlive              = "keepalive"
	EventPeerSwept              = "peer_swept"
	EventCommitConflict         = "commit_conflict"
	EventCommitRetriesExhausted = "commit_retries_exhausted"
	EventRoomNameInvalid        = "error_room_invalid"
	EventUnknownPeer            = "error_unknown_peer"
	EventCrossRoomSignal        = "error_cross_room"
	EventMalformedRequest       = "error_malformed_request"
	EventCorruptState           = "error_corrupt_state"
	EventRateLimited            = "rate_limited"
)

// Gauge names.
const (
	// GaugeStateGeneration is the latest committed state generation this
	// instance has observed. The file is the durable truth; the gauge lags
	// behind commits made by other instances.
	GaugeStateGeneration = "state_generation"
)

// Metrics is a minimal, concurrency-safe counter and gauge registry.
//
// A nil *Metrics is a valid no-op sink, so components can be constructed
// without observability in tests.
type Metrics struct {
	mu     sync.Mutex
	events map[string]uint64
	gauges map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		events: make(map[string]uint64),
		gauges: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.events[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[name]
}

func (m *Metrics) SetGauge(name string, value uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.gauges[name] = value
	m.mu.Unlock()
}

func (m *Metrics) GetGauge(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.events))
	for k, v := range m.events {
		out[k] = v
	}
	return out
}

// GaugeSnapshot returns a copy of all gauges.
func (m *Metrics) GaugeSnapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.gauges))
	for k, v := range m.gauges {
		out[k] = v
	}
	return out
}
