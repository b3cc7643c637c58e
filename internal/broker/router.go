package broker

import (
	"errors"

	"github.com/hidesapp/hides-signal/internal/metrics"
)

// Deliver routes one raw inbound message from connection id.
//
// Nothing a client sends can close its connection or corrupt broker state:
// malformed and unknown envelopes are dropped, failed preconditions are
// dropped or answered with a denial, and lookups of missing rooms or targets
// are answered with an error envelope.
func (b *Broker) Deliver(id ConnID, raw []byte) {
	env, parseErr := parseEnvelope(raw)

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.reg.get(id)
	if c == nil {
		return
	}
	if parseErr != nil {
		b.metrics.Inc(metrics.EnvelopesMalformed)
		b.log.Debug("dropping malformed envelope", "conn_id", id, "err", parseErr)
		return
	}

	handle, ok := b.handlers[env.Type]
	if !ok {
		b.metrics.Inc(metrics.EnvelopesUnknown)
		b.log.Debug("dropping envelope", "conn_id", id, "type", env.Type, "err", ErrUnknownType)
		return
	}

	if err := handle(c, env); err != nil {
		b.reject(c, env, err)
	}
}

func (b *Broker) reject(c *connection, env envelope, err error) {
	b.metrics.Inc(metrics.EnvelopesRejected)
	b.log.Debug("envelope rejected", "conn_id", c.id, "type", env.Type, "err", err)

	switch {
	case errors.Is(err, ErrRoomFull):
		b.send(c, seatDeniedMessage{Type: typeSeatDenied, Reason: seatDeniedFull})
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrTargetNotFound):
		b.send(c, errorMessage{Type: typeError, Message: err.Error()})
	case errors.Is(err, ErrPreconditionNotMet):
		// Dropped.
	default:
		b.log.Warn("envelope handler failed", "conn_id", c.id, "type", env.Type, "err", err)
	}
}
