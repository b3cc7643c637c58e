package broker

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrUnknownType       = errors.New("unknown envelope type")
	// ErrPreconditionNotMet is returned by handlers when the sender's session
	// state does not permit the request. The router drops these silently.
	ErrPreconditionNotMet = errors.New("precondition not met")
	ErrRoomNotFound       = errors.New("room not found")
	ErrTargetNotFound     = errors.New("target not found")
	// ErrRoomFull is answered with seat_denied rather than dropped.
	ErrRoomFull = fmt.Errorf("%w: no free seat", ErrPreconditionNotMet)

	ErrTooManyConnections = errors.New("too many connections")
	ErrIDAllocation       = errors.New("allocate connection id")
)
