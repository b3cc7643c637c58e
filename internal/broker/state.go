package broker

// State is the per-connection session state.
type State string

const (
	// StateIdle is the state of a freshly connected endpoint, of one whose
	// session ended, and (room strategy) of one that is in no room.
	StateIdle State = "idle"

	StateSeeking State = "seeking"
	StatePaired  State = "paired"

	StateUnseated State = "unseated"
	StateSeated   State = "seated"
)

// Role is a room member's role.
type Role string

const (
	RoleNone     Role = ""
	RoleHost     Role = "host"
	RoleGuest    Role = "guest"
	RoleAudience Role = "audience"
)

// PairRole tells each side of a new partnership who starts negotiation.
type PairRole string

const (
	PairRoleCaller PairRole = "caller"
	PairRoleCallee PairRole = "callee"
)

// noSeat marks a connection that occupies no seat.
const noSeat = -1
