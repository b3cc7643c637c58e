package broker

import (
	"slices"

	"github.com/hidesapp/hides-signal/internal/metrics"
)

// QueueOptions configures the anonymous pairing strategy.
type QueueOptions struct {
	// AutoSeek queues every connection as soon as it is registered instead of
	// waiting for a seek request.
	AutoSeek bool
}

// queueStrategy pairs idle connections first-come-first-served.
//
// waiting holds seekers oldest first. partners holds both halves of every
// partnership; an id is present only while its connection is paired. last
// remembers each connection's most recent partner after the pair ends.
type queueStrategy struct {
	b    *Broker
	opts QueueOptions

	waiting  []ConnID
	partners map[ConnID]ConnID
	last     map[ConnID]ConnID
}

func NewQueueStrategy(opts QueueOptions) Strategy {
	return &queueStrategy{
		opts:     opts,
		partners: make(map[ConnID]ConnID),
		last:     make(map[ConnID]ConnID),
	}
}

func (q *queueStrategy) Name() string { return "queue" }

func (q *queueStrategy) attach(b *Broker) { q.b = b }

func (q *queueStrategy) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		typeSeek:   q.handleSeek,
		typeFind:   q.handleSeek,
		typeCancel: q.handleCancel,
		typeNext:   q.handleNext,
		typeBye:    q.handleBye,
		typeLeave:  q.handleBye,
		typeSignal: q.handleSignal,
	}
}

func (q *queueStrategy) connected(c *connection) {
	if q.opts.AutoSeek {
		q.enqueue(c, "")
	}
}

func (q *queueStrategy) disconnected(c *connection) {
	q.dequeue(c)
	q.dissolve(c, true)
	delete(q.last, c.id)
}

func (q *queueStrategy) stats(s *Stats) {
	s.Queued = len(q.waiting)
	s.Pairs = len(q.partners) / 2
}

func (q *queueStrategy) handleSeek(c *connection, _ envelope) error {
	if c.state == StatePaired {
		return ErrPreconditionNotMet
	}
	q.enqueue(c, "")
	return nil
}

func (q *queueStrategy) handleCancel(c *connection, _ envelope) error {
	q.dequeue(c)
	return nil
}

// handleNext ends the current partnership and offers both former partners a
// new match. The two are never re-paired with each other by the same call.
// An idle connection whose partner already left is re-queued on its own,
// skipping that partner.
func (q *queueStrategy) handleNext(c *connection, _ envelope) error {
	if c.state == StateIdle {
		last, ok := q.last[c.id]
		if !ok {
			return ErrPreconditionNotMet
		}
		q.enqueue(c, last)
		return nil
	}
	if c.state != StatePaired {
		return ErrPreconditionNotMet
	}
	partner := q.dissolve(c, false)

	var partnerID ConnID
	if partner != nil {
		partnerID = partner.id
	}
	q.enqueue(c, partnerID)
	if partner.open() {
		q.enqueue(partner, c.id)
	}
	return nil
}

func (q *queueStrategy) handleBye(c *connection, _ envelope) error {
	q.dequeue(c)
	q.dissolve(c, true)
	return nil
}

func (q *queueStrategy) handleSignal(c *connection, env envelope) error {
	if c.state != StatePaired {
		q.b.metrics.Inc(metrics.SignalsDropped)
		return ErrPreconditionNotMet
	}
	partner := q.b.reg.get(q.partners[c.id])
	if !partner.open() {
		q.b.metrics.Inc(metrics.SignalsDropped)
		return ErrPreconditionNotMet
	}
	if q.b.sendFrame(partner, encodeSignal("", env.Data)) {
		q.b.metrics.Inc(metrics.SignalsRelayed)
	}
	return nil
}

// enqueue pairs c with the longest-waiting eligible seeker, or appends c to
// the queue when there is none. Entries whose transport has closed or that
// have been paired since queueing are discarded during the scan. exclude is
// skipped but left in place.
func (q *queueStrategy) enqueue(c *connection, exclude ConnID) {
	if c.state == StatePaired {
		return
	}
	q.remove(c.id)

	for i := 0; i < len(q.waiting); {
		id := q.waiting[i]
		other := q.b.reg.get(id)
		if !other.open() || other.state == StatePaired {
			q.waiting = slices.Delete(q.waiting, i, i+1)
			if other != nil && other.state == StateSeeking {
				other.state = StateIdle
			}
			continue
		}
		if id == exclude {
			i++
			continue
		}
		q.waiting = slices.Delete(q.waiting, i, i+1)
		q.pair(c, other)
		return
	}

	q.waiting = append(q.waiting, c.id)
	c.state = StateSeeking
	q.b.send(c, bareMessage{Type: typeQueued})
}

// dequeue removes c from the queue. It is a no-op when c is not queued.
func (q *queueStrategy) dequeue(c *connection) {
	q.remove(c.id)
	if c.state == StateSeeking {
		c.state = StateIdle
	}
}

func (q *queueStrategy) remove(id ConnID) {
	if i := slices.Index(q.waiting, id); i >= 0 {
		q.waiting = slices.Delete(q.waiting, i, i+1)
	}
}

func (q *queueStrategy) pair(caller, callee *connection) {
	q.partners[caller.id] = callee.id
	q.partners[callee.id] = caller.id
	q.last[caller.id] = callee.id
	q.last[callee.id] = caller.id
	caller.state = StatePaired
	callee.state = StatePaired

	q.b.metrics.Inc(metrics.PairsFormed)
	q.b.log.Info("paired", "conn_id", caller.id, "partner_id", callee.id)

	q.b.send(caller, pairedMessage{Type: typePaired, Role: PairRoleCaller, PartnerID: callee.id})
	q.b.send(callee, pairedMessage{Type: typePaired, Role: PairRoleCallee, PartnerID: caller.id})
}

// dissolve ends c's partnership, if any, and returns the former partner when
// it is still registered. Both sides return to idle; with notify each side
// is sent unpaired{}.
func (q *queueStrategy) dissolve(c *connection, notify bool) *connection {
	partnerID, ok := q.partners[c.id]
	if !ok {
		return nil
	}
	delete(q.partners, c.id)
	delete(q.partners, partnerID)

	c.state = StateIdle
	partner := q.b.reg.get(partnerID)
	if partner != nil {
		partner.state = StateIdle
	}

	q.b.metrics.Inc(metrics.PairsDissolved)
	q.b.log.Info("unpaired", "conn_id", c.id, "partner_id", partnerID, "notify", notify)

	if notify {
		q.b.send(c, bareMessage{Type: typeUnpaired})
		if partner != nil {
			q.b.send(partner, bareMessage{Type: typeUnpaired})
		}
	}
	return partner
}
