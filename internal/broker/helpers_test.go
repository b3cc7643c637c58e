package broker

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/hidesapp/hides-signal/internal/metrics"
)

// received is the union of every outbound notification field.
type received struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Role      PairRole        `json:"role"`
	PartnerID ConnID          `json:"partnerId"`
	From      ConnID          `json:"from"`
	Data      json.RawMessage `json:"data"`
	List      []RoomSummary   `json:"list"`
	Title     string          `json:"title"`
	Room      *RoomSnapshot   `json:"room"`
	RoomID    string          `json:"roomId"`
	Reason    string          `json:"reason"`
	Message   string          `json:"message"`
}

type fakePeer struct {
	mu     sync.Mutex
	closed bool
	// refuse makes Send report a full buffer.
	refuse bool
	inbox  []received
	frames []string
}

func (p *fakePeer) Send(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.refuse {
		return false
	}
	var msg received
	if err := json.Unmarshal(data, &msg); err != nil {
		panic(fmt.Sprintf("broker sent invalid JSON %q: %v", data, err))
	}
	p.inbox = append(p.inbox, msg)
	p.frames = append(p.frames, string(data))
	return true
}

// lastRaw returns the most recent frame exactly as the broker encoded it.
func (p *fakePeer) lastRaw() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.frames) == 0 {
		return ""
	}
	return p.frames[len(p.frames)-1]
}

func (p *fakePeer) Open() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func (p *fakePeer) drain() []received {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.inbox
	p.inbox = nil
	return out
}

// next pops the oldest unread notification and checks its type.
func (p *fakePeer) next(t *testing.T, wantType string) received {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.inbox) == 0 {
		t.Fatalf("no notification, want %q", wantType)
	}
	msg := p.inbox[0]
	p.inbox = p.inbox[1:]
	if msg.Type != wantType {
		t.Fatalf("notification type=%q, want %q (%+v)", msg.Type, wantType, msg)
	}
	return msg
}

func (p *fakePeer) none(t *testing.T) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.inbox) != 0 {
		t.Fatalf("unexpected notifications: %+v", p.inbox)
	}
}

type harness struct {
	t       *testing.T
	b       *Broker
	metrics *metrics.Metrics
	peers   map[ConnID]*fakePeer
}

func newHarness(t *testing.T, strategy Strategy) *harness {
	t.Helper()
	var n int
	m := metrics.New()
	h := &harness{
		t:       t,
		metrics: m,
		peers:   make(map[ConnID]*fakePeer),
	}
	h.b = New(Config{
		Strategy: strategy,
		Metrics:  m,
		NewID: func() ConnID {
			n++
			return ConnID(fmt.Sprintf("c%d", n))
		},
	})
	return h
}

func newRoomHarness(t *testing.T) *harness {
	t.Helper()
	var n int
	return newHarness(t, NewRoomStrategy(RoomOptions{
		NewRoomID: func() (string, error) {
			n++
			return fmt.Sprintf("r%d", n), nil
		},
	}))
}

// connect registers a peer and consumes its hello.
func (h *harness) connect() (ConnID, *fakePeer) {
	h.t.Helper()
	p := &fakePeer{}
	id, err := h.b.Connect(p)
	if err != nil {
		h.t.Fatalf("Connect: %v", err)
	}
	hello := p.next(h.t, typeHello)
	if ConnID(hello.ID) != id {
		h.t.Fatalf("hello id=%q, want %q", hello.ID, id)
	}
	h.peers[id] = p
	return id, p
}

func (h *harness) deliver(id ConnID, format string, args ...any) {
	h.t.Helper()
	h.b.Deliver(id, []byte(fmt.Sprintf(format, args...)))
	h.check()
}

// close mimics the transport: the peer stops accepting sends before the
// broker is told.
func (h *harness) close(id ConnID) {
	h.t.Helper()
	p := h.peers[id]
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	h.b.Disconnect(id)
	h.check()
	h.assertGone(id)
}

func (h *harness) state(id ConnID) ConnInfo {
	h.t.Helper()
	info, ok := h.b.Lookup(id)
	if !ok {
		h.t.Fatalf("connection %s not registered", id)
	}
	return info
}

// check verifies the structural invariants of whichever strategy is active.
func (h *harness) check() {
	h.t.Helper()
	h.b.mu.Lock()
	defer h.b.mu.Unlock()

	switch s := h.b.strategy.(type) {
	case *queueStrategy:
		checkQueue(h.t, h.b.reg, s)
	case *roomStrategy:
		checkRooms(h.t, h.b.reg, s)
	}
}

func checkQueue(t *testing.T, reg *registry, q *queueStrategy) {
	t.Helper()
	for a, b := range q.partners {
		if q.partners[b] != a {
			t.Fatalf("partnership not symmetric: %s->%s but %s->%q", a, b, b, q.partners[b])
		}
		c := reg.get(a)
		if c == nil {
			t.Fatalf("partnership references unregistered %s", a)
		}
		if c.state != StatePaired {
			t.Fatalf("%s in partnership with state %q", a, c.state)
		}
	}
	seen := make(map[ConnID]bool)
	for _, id := range q.waiting {
		if seen[id] {
			t.Fatalf("%s queued twice", id)
		}
		seen[id] = true
	}
	for id, c := range reg.conns {
		if c.state == StatePaired {
			if _, ok := q.partners[id]; !ok {
				t.Fatalf("%s paired without partner", id)
			}
		}
		if c.state == StateSeeking && !seen[id] {
			t.Fatalf("%s seeking but not queued", id)
		}
	}
}

func checkRooms(t *testing.T, reg *registry, r *roomStrategy) {
	t.Helper()
	for id, rm := range r.rooms {
		if len(rm.members) == 0 {
			t.Fatalf("room %s has no members", id)
		}
		members := make(map[ConnID]bool)
		for _, m := range rm.members {
			members[m] = true
			c := reg.get(m)
			if c == nil {
				t.Fatalf("room %s member %s unregistered", id, m)
			}
			if c.roomID != id {
				t.Fatalf("room %s member %s has roomID %q", id, m, c.roomID)
			}
		}
		hostSeated := rm.hostID == ""
		for i, s := range rm.seats {
			if s == "" {
				continue
			}
			if !members[s] {
				t.Fatalf("room %s seat %d holds non-member %s", id, i, s)
			}
			if c := reg.get(s); c.seat != i || c.state != StateSeated {
				t.Fatalf("room %s seat %d holder %s has seat=%d state=%q", id, i, s, c.seat, c.state)
			}
			if s == rm.hostID {
				hostSeated = true
			}
		}
		if !hostSeated {
			t.Fatalf("room %s host %s holds no seat", id, rm.hostID)
		}
		if rm.seated() == 0 && rm.hostID == "" {
			t.Fatalf("room %s survived with no seat and no host", id)
		}
	}
	for id, c := range reg.conns {
		if c.roomID != "" && r.rooms[c.roomID] == nil {
			t.Fatalf("%s references destroyed room %s", id, c.roomID)
		}
	}
}

func (h *harness) assertGone(id ConnID) {
	h.t.Helper()
	h.b.mu.Lock()
	defer h.b.mu.Unlock()

	if h.b.reg.get(id) != nil {
		h.t.Fatalf("%s still registered", id)
	}
	switch s := h.b.strategy.(type) {
	case *queueStrategy:
		for a, b := range s.partners {
			if a == id || b == id {
				h.t.Fatalf("partnership %s<->%s references closed %s", a, b, id)
			}
		}
		for _, w := range s.waiting {
			if w == id {
				h.t.Fatalf("closed %s still queued", id)
			}
		}
		if _, ok := s.last[id]; ok {
			h.t.Fatalf("closed %s still has a last partner", id)
		}
	case *roomStrategy:
		for rid, rm := range s.rooms {
			if rm.hostID == id {
				h.t.Fatalf("room %s hosted by closed %s", rid, id)
			}
			for _, seat := range rm.seats {
				if seat == id {
					h.t.Fatalf("room %s seats closed %s", rid, id)
				}
			}
			for _, m := range rm.members {
				if m == id {
					h.t.Fatalf("room %s lists closed %s", rid, id)
				}
			}
		}
	}
}
