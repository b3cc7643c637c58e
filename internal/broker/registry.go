package broker

// ConnID is the opaque identifier assigned to a connection at connect time.
type ConnID string

// Peer is the transport-side handle of a connection.
type Peer interface {
	// Send queues data for delivery without blocking. It reports false when
	// the message was dropped (closed transport or full buffer); callers are
	// not required to act on that.
	Send(data []byte) bool
	// Open reports whether the transport can still deliver messages.
	Open() bool
}

type connection struct {
	id   ConnID
	peer Peer

	state  State
	roomID string
	seat   int
	role   Role
}

func (c *connection) open() bool {
	return c != nil && c.peer != nil && c.peer.Open()
}

// resetRoom clears every room-strategy attribute.
func (c *connection) resetRoom() {
	c.state = StateIdle
	c.roomID = ""
	c.seat = noSeat
	c.role = RoleNone
}

// ConnInfo is a read-only view of a connection's session state.
type ConnInfo struct {
	ID     ConnID
	State  State
	RoomID string
	// Seat is -1 when the connection holds no seat.
	Seat int
	Role Role
}

func (c *connection) info() ConnInfo {
	return ConnInfo{ID: c.id, State: c.state, RoomID: c.roomID, Seat: c.seat, Role: c.role}
}

type registry struct {
	conns map[ConnID]*connection
}

func newRegistry() *registry {
	return &registry{conns: make(map[ConnID]*connection)}
}

func (r *registry) add(c *connection) { r.conns[c.id] = c }

func (r *registry) get(id ConnID) *connection { return r.conns[id] }

func (r *registry) remove(id ConnID) { delete(r.conns, id) }

func (r *registry) len() int { return len(r.conns) }
