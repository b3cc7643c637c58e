package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound envelope types.
const (
	typeSeek   = "seek"
	typeFind   = "find"
	typeCancel = "cancel"
	typeNext   = "next"
	typeBye    = "bye"
	typeLeave  = "leave"
	typeSignal = "signal"

	typeListRooms   = "list_rooms"
	typeCreateRoom  = "create_room"
	typeJoinRoom    = "join_room"
	typeLeaveRoom   = "leave_room"
	typeRequestSeat = "request_seat"
	typeLeaveSeat   = "leave_seat"
)

// Outbound notification types. signal is shared with the inbound set.
const (
	typeHello       = "hello"
	typeQueued      = "queued"
	typePaired      = "paired"
	typeUnpaired    = "unpaired"
	typeRooms       = "rooms"
	typeRoomCreated = "room_created"
	typeRoomState   = "room_state"
	typeJoined      = "joined"
	typeLeft        = "left"
	typeSeatDenied  = "seat_denied"
	typeError       = "error"
)

const seatDeniedFull = "full"

// envelope is the union of every inbound field. Handlers read only the fields
// their type defines.
type envelope struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
	To     ConnID          `json:"to,omitempty"`
	Title  string          `json:"title,omitempty"`
	RoomID string          `json:"roomId,omitempty"`
}

func parseEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return env, nil
}

type bareMessage struct {
	Type string `json:"type"`
}

type helloMessage struct {
	Type string `json:"type"`
	ID   ConnID `json:"id"`
}

type pairedMessage struct {
	Type      string   `json:"type"`
	Role      PairRole `json:"role"`
	PartnerID ConnID   `json:"partnerId"`
}

// encodeSignal builds a signal frame around data without re-encoding it, so
// the opaque payload reaches the receiver byte for byte. json.Marshal would
// compact it and escape <, > and &.
func encodeSignal(from ConnID, data json.RawMessage) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"` + typeSignal + `"`)
	if from != "" {
		id, _ := json.Marshal(from)
		buf.WriteString(`,"from":`)
		buf.Write(id)
	}
	if len(data) > 0 {
		buf.WriteString(`,"data":`)
		buf.Write(data)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

type roomsMessage struct {
	Type string        `json:"type"`
	List []RoomSummary `json:"list"`
}

type roomCreatedMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Title string `json:"title"`
}

type roomStateMessage struct {
	Type string       `json:"type"`
	Room RoomSnapshot `json:"room"`
}

type joinedMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type seatDeniedMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RoomSummary is one entry of a rooms{list} notification.
type RoomSummary struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	HostID  *ConnID `json:"hostId"`
	Members int     `json:"members"`
	Seated  int     `json:"seated"`
}

// RoomSnapshot is the full room state carried by room_state.
type RoomSnapshot struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	HostID *ConnID `json:"hostId"`
	// Seats always has SeatCount entries; empty seats are null.
	Seats   []*ConnID `json:"seats"`
	Members []ConnID  `json:"members"`
}
