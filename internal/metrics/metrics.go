package metrics

import "sync"

// Event names counted by the broker and the signaling transport.
const (
	ConnectionsOpened   = "connections_opened"
	ConnectionsClosed   = "connections_closed"
	ConnectionsRejected = "connections_rejected"

	PairsFormed    = "pairs_formed"
	PairsDissolved = "pairs_dissolved"

	RoomsCreated   = "rooms_created"
	RoomsDestroyed = "rooms_destroyed"
	SeatsGranted   = "seats_granted"
	SeatsDenied    = "seats_denied"

	SignalsRelayed = "signals_relayed"
	SignalsDropped = "signals_dropped"

	EnvelopesMalformed = "envelopes_malformed"
	EnvelopesUnknown   = "envelopes_unknown"
	EnvelopesRejected  = "envelopes_rejected"

	SendsDropped = "sends_dropped"

	DropReasonRateLimited = "rate_limited"
	DropReasonBinaryFrame = "binary_frame"
)

// Metrics is a concurrency-safe counter registry.
//
// A nil *Metrics is valid and discards every update, so components can be
// constructed without a registry in tests.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
