// Package signaling is the WebSocket transport in front of the broker.
//
// Each upgraded connection becomes one broker connection: inbound text frames
// are delivered as envelopes, broker notifications are written back through a
// bounded per-connection queue, and closing the socket for any reason
// unregisters the connection.
package signaling
