// Package broker is the session core of the signaling service: it tracks
// connected endpoints, matches them into sessions under a pluggable strategy,
// and relays opaque negotiation payloads between the two ends of a session.
//
// The broker never touches transports directly. It consumes three events
// (Connect, Deliver, Disconnect) and produces sends through the Peer
// interface. All state is owned by a single Broker and mutated under one
// mutex held for exactly one event, so a partially applied update (for
// example one half of a partnership) is never observable.
package broker
