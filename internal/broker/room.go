package broker

import (
	"cmp"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/hidesapp/hides-signal/internal/metrics"
)

const (
	// SeatCount is the number of active-participant seats in every room.
	SeatCount = 4

	DefaultMaxTitleRunes = 64

	untitledRoom = "untitled"

	maxRoomIDAttempts = 8
)

// RoomOptions configures the room strategy.
type RoomOptions struct {
	// MaxTitleRunes bounds room titles. Zero selects DefaultMaxTitleRunes.
	MaxTitleRunes int

	// NewRoomID overrides room identifier generation (tests).
	NewRoomID func() (string, error)
}

type room struct {
	id    string
	title string
	seq   uint64

	// hostID is empty when the room has no host. A host always holds a seat.
	hostID ConnID
	seats  [SeatCount]ConnID
	// members is in join order and includes seated members.
	members []ConnID
}

func (rm *room) freeSeat() int {
	for i, id := range rm.seats {
		if id == "" {
			return i
		}
	}
	return noSeat
}

func (rm *room) seated() int {
	n := 0
	for _, id := range rm.seats {
		if id != "" {
			n++
		}
	}
	return n
}

func (rm *room) snapshot() RoomSnapshot {
	snap := RoomSnapshot{
		ID:      rm.id,
		Title:   rm.title,
		Seats:   make([]*ConnID, SeatCount),
		Members: slices.Clone(rm.members),
	}
	if rm.hostID != "" {
		host := rm.hostID
		snap.HostID = &host
	}
	for i, id := range rm.seats {
		if id != "" {
			seat := id
			snap.Seats[i] = &seat
		}
	}
	return snap
}

func (rm *room) summary() RoomSummary {
	s := RoomSummary{
		ID:      rm.id,
		Title:   rm.title,
		Members: len(rm.members),
		Seated:  rm.seated(),
	}
	if rm.hostID != "" {
		host := rm.hostID
		s.HostID = &host
	}
	return s
}

type roomStrategy struct {
	b    *Broker
	opts RoomOptions

	rooms   map[string]*room
	nextSeq uint64
}

func NewRoomStrategy(opts RoomOptions) Strategy {
	if opts.MaxTitleRunes <= 0 {
		opts.MaxTitleRunes = DefaultMaxTitleRunes
	}
	if opts.NewRoomID == nil {
		opts.NewRoomID = randomRoomID
	}
	return &roomStrategy{
		opts:  opts,
		rooms: make(map[string]*room),
	}
}

// randomRoomID returns 8 lowercase hex characters.
func randomRoomID() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

func (r *roomStrategy) Name() string { return "room" }

func (r *roomStrategy) attach(b *Broker) { r.b = b }

func (r *roomStrategy) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		typeListRooms:   r.handleListRooms,
		typeCreateRoom:  r.handleCreateRoom,
		typeJoinRoom:    r.handleJoinRoom,
		typeLeaveRoom:   r.handleLeaveRoom,
		typeRequestSeat: r.handleRequestSeat,
		typeLeaveSeat:   r.handleLeaveSeat,
		typeSignal:      r.handleSignal,
	}
}

func (r *roomStrategy) connected(*connection) {}

func (r *roomStrategy) disconnected(c *connection) {
	r.leave(c, false)
}

func (r *roomStrategy) stats(s *Stats) {
	s.Rooms = len(r.rooms)
}

func (r *roomStrategy) roomOf(c *connection) *room {
	if c.roomID == "" {
		return nil
	}
	return r.rooms[c.roomID]
}

func (r *roomStrategy) handleListRooms(c *connection, _ envelope) error {
	ordered := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		ordered = append(ordered, rm)
	}
	slices.SortFunc(ordered, func(a, b *room) int {
		return cmp.Compare(a.seq, b.seq)
	})

	list := make([]RoomSummary, 0, len(ordered))
	for _, rm := range ordered {
		list = append(list, rm.summary())
	}
	r.b.send(c, roomsMessage{Type: typeRooms, List: list})
	return nil
}

func (r *roomStrategy) handleCreateRoom(c *connection, env envelope) error {
	id, err := r.allocateID()
	if err != nil {
		return err
	}
	if c.roomID != "" {
		r.leave(c, true)
	}

	r.nextSeq++
	rm := &room{
		id:      id,
		title:   normalizeTitle(env.Title, r.opts.MaxTitleRunes),
		seq:     r.nextSeq,
		hostID:  c.id,
		members: []ConnID{c.id},
	}
	rm.seats[0] = c.id
	r.rooms[id] = rm

	c.roomID = id
	c.seat = 0
	c.role = RoleHost
	c.state = StateSeated

	r.b.metrics.Inc(metrics.RoomsCreated)
	r.b.metrics.Inc(metrics.SeatsGranted)
	r.b.log.Info("room created", "room_id", id, "conn_id", c.id)

	r.b.send(c, roomCreatedMessage{Type: typeRoomCreated, ID: id, Title: rm.title})
	r.broadcast(rm)
	return nil
}

func (r *roomStrategy) allocateID() (string, error) {
	for attempt := 0; attempt < maxRoomIDAttempts; attempt++ {
		id, err := r.opts.NewRoomID()
		if err != nil {
			return "", fmt.Errorf("generate room id: %w", err)
		}
		if _, taken := r.rooms[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("generate room id: %d collisions", maxRoomIDAttempts)
}

func normalizeTitle(title string, maxRunes int) string {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > maxRunes {
		title = strings.TrimSpace(string([]rune(title)[:maxRunes]))
	}
	if title == "" {
		return untitledRoom
	}
	return title
}

func (r *roomStrategy) handleJoinRoom(c *connection, env envelope) error {
	rm := r.rooms[env.RoomID]
	if rm == nil {
		return ErrRoomNotFound
	}
	if c.roomID == rm.id {
		r.b.send(c, roomStateMessage{Type: typeRoomState, Room: rm.snapshot()})
		return nil
	}
	if c.roomID != "" {
		r.leave(c, true)
	}

	rm.members = append(rm.members, c.id)
	c.roomID = rm.id
	c.seat = noSeat
	c.role = RoleAudience
	c.state = StateUnseated

	r.b.log.Debug("room joined", "room_id", rm.id, "conn_id", c.id)
	r.b.send(c, joinedMessage{Type: typeJoined, RoomID: rm.id})
	r.broadcast(rm)
	return nil
}

func (r *roomStrategy) handleLeaveRoom(c *connection, _ envelope) error {
	r.leave(c, true)
	return nil
}

func (r *roomStrategy) handleRequestSeat(c *connection, _ envelope) error {
	rm := r.roomOf(c)
	if rm == nil {
		return ErrPreconditionNotMet
	}
	if c.seat != noSeat {
		return nil
	}
	seat := rm.freeSeat()
	if seat == noSeat {
		r.b.metrics.Inc(metrics.SeatsDenied)
		return ErrRoomFull
	}

	rm.seats[seat] = c.id
	c.seat = seat
	c.state = StateSeated
	if rm.hostID == "" || rm.hostID == c.id {
		rm.hostID = c.id
		c.role = RoleHost
	} else {
		c.role = RoleGuest
	}

	r.b.metrics.Inc(metrics.SeatsGranted)
	r.b.log.Debug("seat granted", "room_id", rm.id, "conn_id", c.id, "seat", seat)
	r.broadcast(rm)
	return nil
}

func (r *roomStrategy) handleLeaveSeat(c *connection, _ envelope) error {
	rm := r.roomOf(c)
	if rm == nil || c.seat == noSeat {
		return nil
	}
	r.vacate(rm, c)
	r.settle(rm)
	return nil
}

func (r *roomStrategy) handleSignal(c *connection, env envelope) error {
	target := r.b.reg.get(env.To)
	if target == nil {
		r.b.metrics.Inc(metrics.SignalsDropped)
		return ErrTargetNotFound
	}
	if c.roomID == "" || target == c || target.roomID != c.roomID {
		r.b.metrics.Inc(metrics.SignalsDropped)
		return ErrPreconditionNotMet
	}
	if r.b.sendFrame(target, encodeSignal(c.id, env.Data)) {
		r.b.metrics.Inc(metrics.SignalsRelayed)
	}
	return nil
}

// vacate frees c's seat and, when c was host, hands the host role to the
// seated member with the lowest seat index.
func (r *roomStrategy) vacate(rm *room, c *connection) {
	rm.seats[c.seat] = ""
	c.seat = noSeat
	c.role = RoleAudience
	c.state = StateUnseated

	if rm.hostID != c.id {
		return
	}
	rm.hostID = ""
	for _, id := range rm.seats {
		if id == "" {
			continue
		}
		rm.hostID = id
		if next := r.b.reg.get(id); next != nil {
			next.role = RoleHost
		}
		r.b.log.Info("host promoted", "room_id", rm.id, "conn_id", id, "previous_host", c.id)
		return
	}
}

// leave removes c from its room, if any. With notify, c is sent left{}.
func (r *roomStrategy) leave(c *connection, notify bool) {
	rm := r.roomOf(c)
	if rm == nil {
		c.resetRoom()
		return
	}
	if c.seat != noSeat {
		r.vacate(rm, c)
	}
	if i := slices.Index(rm.members, c.id); i >= 0 {
		rm.members = slices.Delete(rm.members, i, i+1)
	}
	c.resetRoom()

	r.b.log.Debug("room left", "room_id", rm.id, "conn_id", c.id)
	if notify {
		r.b.send(c, bareMessage{Type: typeLeft})
	}
	r.settle(rm)
}

// settle destroys rm when it has no members, or no occupied seat and no
// host; otherwise every member is sent the new room state.
func (r *roomStrategy) settle(rm *room) {
	if len(rm.members) == 0 || (rm.seated() == 0 && rm.hostID == "") {
		r.destroy(rm)
		return
	}
	r.broadcast(rm)
}

func (r *roomStrategy) destroy(rm *room) {
	delete(r.rooms, rm.id)
	r.b.metrics.Inc(metrics.RoomsDestroyed)
	r.b.log.Info("room destroyed", "room_id", rm.id, "remaining_members", len(rm.members))

	for _, id := range rm.members {
		m := r.b.reg.get(id)
		if m == nil {
			continue
		}
		m.resetRoom()
		r.b.send(m, bareMessage{Type: typeLeft})
	}
	rm.members = nil
}

func (r *roomStrategy) broadcast(rm *room) {
	msg := roomStateMessage{Type: typeRoomState, Room: rm.snapshot()}
	for _, id := range rm.members {
		if m := r.b.reg.get(id); m != nil {
			r.b.send(m, msg)
		}
	}
}
