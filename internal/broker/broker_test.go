package broker

import (
	"errors"
	"testing"

	"github.com/hidesapp/hides-signal/internal/metrics"
)

func TestConnect_SendsHelloWithUniqueIDs(t *testing.T) {
	b := New(Config{})
	seen := make(map[ConnID]bool)
	for i := 0; i < 50; i++ {
		p := &fakePeer{}
		id, err := b.Connect(p)
		if err != nil {
			t.Fatalf("Connect: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
		if got := p.next(t, typeHello).ID; ConnID(got) != id {
			t.Fatalf("hello id=%q, want %q", got, id)
		}
	}
	if got := b.StrategyName(); got != "queue" {
		t.Fatalf("strategy=%q, want queue", got)
	}
}

func TestConnect_IDsNeverReused(t *testing.T) {
	h := newQueueHarness(t)
	c1, _ := h.connect()
	h.close(c1)
	c2, _ := h.connect()
	if c1 == c2 {
		t.Fatalf("id %q reused", c1)
	}
}

func TestConnect_MaxConnections(t *testing.T) {
	m := metrics.New()
	b := New(Config{MaxConnections: 2, Metrics: m})

	id1, err := b.Connect(&fakePeer{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := b.Connect(&fakePeer{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	p := &fakePeer{}
	if _, err := b.Connect(p); !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("err=%v, want %v", err, ErrTooManyConnections)
	}
	p.none(t)
	if got := m.Get(metrics.ConnectionsRejected); got != 1 {
		t.Fatalf("connections_rejected=%d, want 1", got)
	}

	b.Disconnect(id1)
	if _, err := b.Connect(&fakePeer{}); err != nil {
		t.Fatalf("Connect after disconnect: %v", err)
	}
}

func TestConnect_IDCollisionRetries(t *testing.T) {
	ids := []ConnID{"same", "same", "other"}
	b := New(Config{NewID: func() ConnID {
		id := ids[0]
		ids = ids[1:]
		return id
	}})
	first, err := b.Connect(&fakePeer{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	second, err := b.Connect(&fakePeer{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if first != "same" || second != "other" {
		t.Fatalf("ids=%q,%q, want same,other", first, second)
	}
}

func TestConnect_IDExhaustionIsNotCapacity(t *testing.T) {
	m := metrics.New()
	b := New(Config{Metrics: m, NewID: func() ConnID { return "same" }})
	if _, err := b.Connect(&fakePeer{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	p := &fakePeer{}
	_, err := b.Connect(p)
	if !errors.Is(err, ErrIDAllocation) {
		t.Fatalf("err=%v, want %v", err, ErrIDAllocation)
	}
	if errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("err=%v reported as capacity rejection", err)
	}
	if got := m.Get(metrics.ConnectionsRejected); got != 0 {
		t.Fatalf("connections_rejected=%d, want 0", got)
	}
	p.none(t)
	if got := b.Stats().Connections; got != 1 {
		t.Fatalf("connections=%d, want 1", got)
	}
}

func TestDisconnect_UnknownIsNoop(t *testing.T) {
	m := metrics.New()
	b := New(Config{Metrics: m})
	b.Disconnect("nobody")
	if got := m.Get(metrics.ConnectionsClosed); got != 0 {
		t.Fatalf("connections_closed=%d, want 0", got)
	}
}

func TestLookup(t *testing.T) {
	h := newQueueHarness(t)
	c1, _ := h.connect()

	info := h.state(c1)
	if info.ID != c1 || info.State != StateIdle || info.Seat != noSeat || info.RoomID != "" {
		t.Fatalf("info=%+v, want fresh idle connection", info)
	}
	if _, ok := h.b.Lookup("missing"); ok {
		t.Fatalf("Lookup(missing) ok=true")
	}
}

func TestSend_ClosedPeerIsSkippedNotCounted(t *testing.T) {
	h := newQueueHarness(t)
	c1, p1, _, p2 := h.pairUp()

	p2.mu.Lock()
	p2.closed = true
	p2.mu.Unlock()

	h.deliver(c1, `{"type":"signal","data":"X"}`)
	p1.none(t)
	if got := h.metrics.Get(metrics.SendsDropped); got != 0 {
		t.Fatalf("sends_dropped=%d, want 0", got)
	}
	if got := h.metrics.Get(metrics.SignalsDropped); got != 1 {
		t.Fatalf("signals_dropped=%d, want 1", got)
	}
}

func TestStats(t *testing.T) {
	h := newQueueHarness(t)
	h.pairUp()
	c3, _ := h.connect()
	h.deliver(c3, `{"type":"seek"}`)

	want := Stats{Connections: 3, Queued: 1, Pairs: 1}
	if got := h.b.Stats(); got != want {
		t.Fatalf("stats=%+v, want %+v", got, want)
	}

	r := newRoomHarness(t)
	c1, _ := r.connect()
	r.createRoom(c1, "a")
	if got := r.b.Stats(); got != (Stats{Connections: 1, Rooms: 1}) {
		t.Fatalf("room stats=%+v", got)
	}
	if got := r.b.StrategyName(); got != "room" {
		t.Fatalf("strategy=%q, want room", got)
	}
}
