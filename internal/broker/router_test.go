package broker

import (
	"testing"

	"github.com/hidesapp/hides-signal/internal/metrics"
)

func TestDeliver_MalformedEnvelopeIsDropped(t *testing.T) {
	h := newQueueHarness(t)
	c1, p1 := h.connect()

	for _, raw := range []string{`not json`, `{"type":`, `[1,2,3]`, `{"type":42}`, ``} {
		h.b.Deliver(c1, []byte(raw))
	}
	p1.none(t)
	if got := h.metrics.Get(metrics.EnvelopesMalformed); got != 5 {
		t.Fatalf("envelopes_malformed=%d, want 5", got)
	}

	// The connection keeps working.
	h.deliver(c1, `{"type":"seek"}`)
	p1.next(t, typeQueued)
}

func TestDeliver_UnknownTypeIsDropped(t *testing.T) {
	h := newQueueHarness(t)
	c1, p1 := h.connect()

	h.deliver(c1, `{"type":"teleport"}`)
	h.deliver(c1, `{}`)
	// Room types are unknown to the queue strategy.
	h.deliver(c1, `{"type":"create_room","title":"x"}`)
	p1.none(t)
	if got := h.metrics.Get(metrics.EnvelopesUnknown); got != 3 {
		t.Fatalf("envelopes_unknown=%d, want 3", got)
	}
	if got := h.state(c1).State; got != StateIdle {
		t.Fatalf("state=%q, want %q", got, StateIdle)
	}
}

func TestDeliver_QueueTypesUnknownToRoomStrategy(t *testing.T) {
	h := newRoomHarness(t)
	c1, p1 := h.connect()

	h.deliver(c1, `{"type":"seek"}`)
	h.deliver(c1, `{"type":"next"}`)
	p1.none(t)
	if got := h.metrics.Get(metrics.EnvelopesUnknown); got != 2 {
		t.Fatalf("envelopes_unknown=%d, want 2", got)
	}
}

func TestDeliver_UnregisteredConnectionIsIgnored(t *testing.T) {
	h := newQueueHarness(t)
	_, p1 := h.connect()

	h.b.Deliver("ghost", []byte(`{"type":"seek"}`))
	h.b.Deliver("ghost", []byte(`garbage`))
	p1.none(t)
	if got := h.b.Stats().Queued; got != 0 {
		t.Fatalf("queued=%d, want 0", got)
	}
	if got := h.metrics.Get(metrics.EnvelopesMalformed); got != 0 {
		t.Fatalf("envelopes_malformed=%d, want 0", got)
	}
}

func TestDeliver_ExtraFieldsAreIgnored(t *testing.T) {
	h := newQueueHarness(t)
	c1, p1 := h.connect()

	h.deliver(c1, `{"type":"seek","priority":"high","to":"someone"}`)
	p1.next(t, typeQueued)
}

func TestParseEnvelope(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"type":"signal","to":"abc","data":{"k":[1]},"roomId":"r","title":"t"}`))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	if env.Type != typeSignal || env.To != "abc" || env.RoomID != "r" || env.Title != "t" {
		t.Fatalf("env=%+v", env)
	}
	if string(env.Data) != `{"k":[1]}` {
		t.Fatalf("data=%s, want raw payload", env.Data)
	}

	if _, err := parseEnvelope([]byte(`{`)); err == nil {
		t.Fatalf("expected error")
	}
}
